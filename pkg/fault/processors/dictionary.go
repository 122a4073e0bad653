package processors

import (
	"regexp"
	"strings"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

// DictionaryConfidence is the fixed confidence assigned to dictionary
// matches. Deliberately lower than typical tagger confidence so a
// fallback run is recognizably degraded.
const DictionaryConfidence = 0.6

// AlarmPatternConfidence is the confidence of regex-matched alarm
// codes, which are high-precision signals.
const AlarmPatternConfidence = 0.9

// categoryKeywords maps each fault category to its keyword table. A
// closed map over the FaultCategory variants rather than ad hoc
// string keys.
var categoryKeywords = map[fault.FaultCategory][]string{
	fault.CategoryOperation: {
		"启动", "停止", "运行", "操作", "按下", "开启", "关闭", "切换", "调整", "自动换刀",
	},
	fault.CategoryPhenomenon: {
		"报警", "异响", "振动", "温度高", "不工作", "故障", "错误", "卡住", "不到位", "不转", "漏油", "过热",
	},
	fault.CategoryLocation: {
		"主轴", "刀库", "伺服", "液压", "电机", "轴承", "丝杠", "导轨", "控制器", "刀链",
	},
	// Alarm codes are matched by pattern, not keyword.
	fault.CategoryAlarmCode: {},
}

var alarmCodePatterns = []*regexp.Regexp{
	// Letter-prefixed alphanumeric codes: E60, ALM401, ALARM-12.
	regexp.MustCompile(`[A-Z]{1,6}-?[0-9]{1,5}`),
	// Explicit "code: digits" phrasing in either language.
	regexp.MustCompile(`(?i)(?:code|代码|报警码|警报)[:：]?\s*([A-Za-z]{0,6}[0-9]{1,5})`),
}

// Dictionary is the local keyword matcher used when the external
// tagging capability is unavailable.
type Dictionary struct {
	confidence float64
}

// NewDictionary creates a dictionary matcher at the default fallback
// confidence.
func NewDictionary() *Dictionary {
	return &Dictionary{confidence: DictionaryConfidence}
}

// Match scans text against the per-category keyword tables. The
// matched keyword itself becomes the element content.
func (d *Dictionary) Match(text string) []fault.FaultElement {
	var elements []fault.FaultElement
	for _, category := range fault.Categories() {
		for _, keyword := range categoryKeywords[category] {
			idx := strings.Index(text, keyword)
			if idx < 0 {
				continue
			}
			elements = append(elements, fault.FaultElement{
				Content:    keyword,
				Category:   category,
				Confidence: d.confidence,
				Span:       &fault.Span{Start: idx, End: idx + len(keyword)},
			})
		}
	}
	return elements
}

// MatchAlarmCodes recognizes alarm and error codes by pattern. Checked
// on every extraction regardless of tagger availability.
func MatchAlarmCodes(text string) []fault.FaultElement {
	var elements []fault.FaultElement
	for i, pattern := range alarmCodePatterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			// Prefer the capture group when the pattern has one.
			if i > 0 && len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			code := strings.ToUpper(text[start:end])
			if code == "" {
				continue
			}
			elements = append(elements, fault.FaultElement{
				Content:    code,
				Category:   fault.CategoryAlarmCode,
				Confidence: AlarmPatternConfidence,
				Span:       &fault.Span{Start: start, End: end},
			})
		}
	}
	return elements
}
