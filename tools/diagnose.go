package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/util"
)

// RegisterDiagnosisTools exposes the fault analyzer over MCP.
func RegisterDiagnosisTools(s *server.MCPServer, analyzer *fault.Analyzer) {
	analyzeTool := mcp.NewTool("fault_analyze",
		mcp.WithDescription("Diagnose an equipment fault from a free-text description. Returns ranked probable causes and remedial actions with confidence scores."),
		mcp.WithString("description", mcp.Required(), mcp.Description("Fault description text")),
		mcp.WithString("brand", mcp.Description("Equipment brand")),
		mcp.WithString("model", mcp.Description("Equipment model")),
		mcp.WithString("alarm_code", mcp.Description("Alarm or error code shown by the equipment")),
		mcp.WithString("phenomena", mcp.Description("Related phenomena, separated by ';'")),
	)

	feedbackTool := mcp.NewTool("fault_feedback",
		mcp.WithDescription("Record how effective a suggested solution was, improving future ranking."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The original fault description")),
		mcp.WithString("chosen_solution", mcp.Required(), mcp.Description("The solution that was applied")),
		mcp.WithString("effectiveness", mcp.Required(), mcp.Description("Effectiveness score in [0,1]")),
	)

	statusTool := mcp.NewTool("fault_status",
		mcp.WithDescription("Report the health of the diagnosis pipeline's collaborators."),
	)

	addCaseTool := mcp.NewTool("fault_add_case",
		mcp.WithDescription("Add a historical fault case to the similarity corpus."),
		mcp.WithString("description", mcp.Required(), mcp.Description("Fault description")),
		mcp.WithString("causes", mcp.Description("Known causes, separated by ';'")),
		mcp.WithString("solutions", mcp.Required(), mcp.Description("Known solutions, separated by ';'")),
	)

	s.AddTool(analyzeTool, util.ErrorGuard(util.AdaptLegacyHandler(analyzeHandler(analyzer))))
	s.AddTool(feedbackTool, util.ErrorGuard(util.AdaptLegacyHandler(feedbackHandler(analyzer))))
	s.AddTool(statusTool, util.ErrorGuard(util.AdaptLegacyHandler(statusHandler(analyzer))))
	s.AddTool(addCaseTool, util.ErrorGuard(util.AdaptLegacyHandler(addCaseHandler(analyzer))))
}

func analyzeHandler(analyzer *fault.Analyzer) util.LegacyHandler {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		description, ok := arguments["description"].(string)
		if !ok || strings.TrimSpace(description) == "" {
			return mcp.NewToolResultError("description must be a non-empty string"), nil
		}

		qc := &fault.QueryContext{}
		if brand, ok := arguments["brand"].(string); ok {
			qc.EquipmentBrand = brand
		}
		if model, ok := arguments["model"].(string); ok {
			qc.Model = model
		}
		if code, ok := arguments["alarm_code"].(string); ok {
			qc.AlarmCode = code
		}
		if phenomena, ok := arguments["phenomena"].(string); ok {
			qc.RelatedPhenomena = splitList(phenomena)
		}

		result, err := analyzer.Analyze(context.Background(), description, qc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
		}
		return mcp.NewToolResultText(renderResult(result)), nil
	}
}

func feedbackHandler(analyzer *fault.Analyzer) util.LegacyHandler {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		question, _ := arguments["question"].(string)
		solution, _ := arguments["chosen_solution"].(string)
		rawScore, _ := arguments["effectiveness"].(string)

		effectiveness, err := strconv.ParseFloat(rawScore, 64)
		if err != nil {
			return mcp.NewToolResultError("effectiveness must be a number in [0,1]"), nil
		}

		if err := analyzer.RecordFeedback(context.Background(), question, solution, effectiveness); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("feedback failed: %v", err)), nil
		}
		return mcp.NewToolResultText("Feedback recorded"), nil
	}
}

func statusHandler(analyzer *fault.Analyzer) util.LegacyHandler {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		status := analyzer.Status(context.Background())
		text := fmt.Sprintf("Graph store: %s\nTagger service: %s\nCases indexed: %d",
			upDown(status.GraphStoreUp), upDown(status.TaggerServiceUp), status.CaseCount)
		return mcp.NewToolResultText(text), nil
	}
}

func addCaseHandler(analyzer *fault.Analyzer) util.LegacyHandler {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		description, _ := arguments["description"].(string)
		solutions, _ := arguments["solutions"].(string)
		causes, _ := arguments["causes"].(string)
		if strings.TrimSpace(description) == "" || strings.TrimSpace(solutions) == "" {
			return mcp.NewToolResultError("description and solutions are required"), nil
		}

		c := fault.FaultCase{
			ID:             uuid.New().String(),
			Description:    description,
			Causes:         splitList(causes),
			Solutions:      splitList(solutions),
			FeedbackWeight: 1.0,
			CreatedAt:      time.Now(),
		}
		if err := analyzer.AddCase(context.Background(), c); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("adding case failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Case added: %s", c.ID)), nil
	}
}

func renderResult(result *fault.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall confidence: %.2f\n", result.OverallConfidence)
	if len(result.DegradedStages) > 0 {
		fmt.Fprintf(&b, "Degraded stages: %v\n", result.DegradedStages)
	}

	b.WriteString("\nExtracted elements:\n")
	for _, el := range result.Elements {
		fmt.Fprintf(&b, "- [%s] %s (%.2f)\n", el.Category, el.Content, el.Confidence)
	}

	b.WriteString("\nProbable causes:\n")
	for i, c := range result.Causes {
		fmt.Fprintf(&b, "%d. %s (%.2f, %s)\n", i+1, c.Text, c.Confidence, c.Provenance)
	}

	b.WriteString("\nSuggested solutions:\n")
	for i, s := range result.Solutions {
		fmt.Fprintf(&b, "%d. %s (%.2f, %s)\n", i+1, s.Text, s.Confidence, s.Provenance)
	}

	if len(result.ReasoningPaths) > 0 {
		b.WriteString("\nReasoning paths:\n")
		for _, p := range result.ReasoningPaths {
			parts := make([]string, 0, len(p.Steps)+1)
			if len(p.Steps) > 0 {
				parts = append(parts, p.Steps[0].From.Name)
			}
			for _, step := range p.Steps {
				parts = append(parts, fmt.Sprintf("-%s-> %s", step.Relation, step.To.Name))
			}
			fmt.Fprintf(&b, "- %s\n", strings.Join(parts, " "))
		}
	}
	return b.String()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
