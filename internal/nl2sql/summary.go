package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/store"
)

type Visualization string

const (
	VisualizationTable Visualization = "table"
	VisualizationCard  Visualization = "card"
	VisualizationChart Visualization = "chart"
)

type Summary struct {
	Text          string        `json:"summary"`
	Visualization Visualization `json:"visualization"`
}

const summaryInstruction = `You explain query results to business users in plain language.
Reply with a JSON object only: {"summary": "<two or three sentences>", "visualization": "table" | "card" | "chart"}.
Use "card" for a single value, "chart" for a series worth plotting and "table" otherwise.`

// BuildSummaryPrompt renders the first maxRows rows as a markdown table and asks for a
// summary and a visualization kind.
func BuildSummaryPrompt(question, sqlText string, result store.QueryResult, maxRows int) []completion.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL:\n%s\n\n", strings.TrimSpace(question), sqlText)
	fmt.Fprintf(&b, "Result (%d rows):\n%s", len(result.Rows), MarkdownTable(result.Columns, result.Rows, maxRows))
	return []completion.Message{
		{Role: completion.RoleSystem, Content: summaryInstruction},
		{Role: completion.RoleUser, Content: b.String()},
	}
}

// MarkdownTable renders up to maxRows rows. maxRows <= 0 renders all of them.
func MarkdownTable(columns []string, rows [][]any, maxRows int) string {
	if len(columns) == 0 {
		return "(no columns)\n"
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(columns), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")

	limit := len(rows)
	if maxRows > 0 && maxRows < limit {
		limit = maxRows
	}
	for _, row := range rows[:limit] {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatCell(value)
		}
		b.WriteString("| " + strings.Join(escapeCells(cells), " | ") + " |\n")
	}
	if limit < len(rows) {
		fmt.Fprintf(&b, "\n(%d more rows not shown)\n", len(rows)-limit)
	}
	return b.String()
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%.6g", typed)
	default:
		return fmt.Sprint(typed)
	}
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = strings.ReplaceAll(oneLine(cell), "|", `\|`)
	}
	return out
}

// ParseSummary reads the JSON object between the first '{' and the last '}'. A reply that is
// not such an object becomes the summary text with the table visualization.
func ParseSummary(reply string) Summary {
	trimmed := strings.TrimSpace(reply)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var parsed struct {
			Summary       string `json:"summary"`
			Visualization string `json:"visualization"`
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil && strings.TrimSpace(parsed.Summary) != "" {
			return Summary{Text: strings.TrimSpace(parsed.Summary), Visualization: normalizeVisualization(parsed.Visualization)}
		}
	}
	return Summary{Text: trimmed, Visualization: VisualizationTable}
}

func normalizeVisualization(value string) Visualization {
	switch Visualization(strings.ToLower(strings.TrimSpace(value))) {
	case VisualizationCard:
		return VisualizationCard
	case VisualizationChart:
		return VisualizationChart
	default:
		return VisualizationTable
	}
}
