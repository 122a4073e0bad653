package fault

import "strings"

// HintConfidence is the fixed confidence of alarm-code solution hints.
// Matches the dictionary fallback so hints never outrank reasoned or
// retrieved answers on their own.
const HintConfidence = 0.6

// alarmSolutionHints maps known alarm codes to their first-check
// lists. Keys are uppercase.
var alarmSolutionHints = map[string][]string{
	"ALM401": {
		"检查刀库液压系统压力",
		"检查刀链传动机构",
		"调整刀库定位参数",
		"检查刀库电机工作状态",
	},
	"ALM402": {
		"检查主轴定向功能",
		"检查主轴编码器",
		"调整主轴参数",
	},
}

// AlarmHints returns the canned check-list for a known alarm code, or
// nil for an unknown one.
func AlarmHints(code string) []string {
	return alarmSolutionHints[strings.ToUpper(strings.TrimSpace(code))]
}
