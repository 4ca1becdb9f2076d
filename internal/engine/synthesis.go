package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datasleuth/datasleuth/internal/models"
)

// findingsDigest condenses every tool result gathered so far into a compact
// structured block for the synthesis call. Raw transcripts are deliberately
// not replayed; only per-step payload summaries go in.
func findingsDigest(steps []models.InvestigationStep) string {
	var b strings.Builder
	b.WriteString("INVESTIGATION FINDINGS\n")

	n := 0
	for i, step := range steps {
		if step.Kind != models.StepToolCall || step.Result == nil {
			continue
		}
		n++
		fmt.Fprintf(&b, "\nSTEP %d: %s\n", i+1, step.ToolName)
		if len(step.Parameters) > 0 {
			fmt.Fprintf(&b, "Parameters: %s\n", compactJSON(step.Parameters, 300))
		}
		if !step.Result.Success {
			fmt.Fprintf(&b, "FAILED: %s\n", step.Result.Error)
			continue
		}
		fmt.Fprintf(&b, "Result: %s\n", compactJSON(step.Result.Data, 1500))
	}
	if n == 0 {
		b.WriteString("\nNo tool results were gathered.\n")
	}
	return b.String()
}

// synthesisPrompt asks for a final narrative over the digest, without tools.
func synthesisPrompt(query, digest string) string {
	var b strings.Builder
	b.WriteString("You are a data analyst reviewing investigation findings. Based on the ACTUAL DATA below, answer the original question.\n\n")
	fmt.Fprintf(&b, "Original question: %q\n\n", query)
	b.WriteString(digest)
	b.WriteString(`
INSTRUCTIONS:
1. Use only the data above; do not invent numbers.
2. Cite specific values, anomalies and patterns found.
3. Provide a key findings summary and actionable recommendations.
`)
	return b.String()
}

// fallbackNarrative builds a deterministic local conclusion from the
// collected step data when the synthesis call itself fails. It is never
// empty.
func fallbackNarrative(query string, steps []models.InvestigationStep) string {
	var b strings.Builder
	b.WriteString("**Investigation Summary**\n\n")
	fmt.Fprintf(&b, "The investigation of %q executed %d steps:\n\n", query, len(steps))
	for i, step := range steps {
		if step.Kind == models.StepToolCall {
			fmt.Fprintf(&b, "%d. %s - %s\n", i+1, step.Description, step.ToolName)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step.Description)
		}
	}

	metrics := extractStepMetrics(steps)
	b.WriteString("\n**Key Findings with Available Metrics:**\n")
	if len(metrics) == 0 {
		b.WriteString("- No numeric metrics were gathered before the investigation ended.\n")
	}
	for _, m := range metrics {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}

	b.WriteString("\n**Note**: The full narrative analysis was unavailable (the model service could not be reached), so this summary was assembled locally from the collected results.\n")
	return b.String()
}

// extractStepMetrics sniffs tool result payloads for headline numbers:
// row counts, table counts, and numeric fields of the first returned row.
func extractStepMetrics(steps []models.InvestigationStep) []string {
	var metrics []string
	for _, step := range steps {
		if step.Kind != models.StepToolCall || step.Result == nil || !step.Result.Success {
			continue
		}
		data, ok := step.Result.Data.(map[string]any)
		if !ok {
			continue
		}

		if tables, ok := data["tables"].([]any); ok {
			metrics = append(metrics, fmt.Sprintf("database contains %d tables", len(tables)))
		}
		if rc, ok := asNumber(data["row_count"]); ok {
			metrics = append(metrics, fmt.Sprintf("%s returned %.0f rows", step.ToolName, rc))
		}
		if rows, ok := data["results"].([]map[string]any); ok && len(rows) > 0 {
			for key, value := range rows[0] {
				if v, ok := asNumber(value); ok && v != 0 {
					metrics = append(metrics, fmt.Sprintf("%s: %.2f", key, v))
				}
			}
		}
		if points, ok := asNumber(data["data_points"]); ok {
			metrics = append(metrics, fmt.Sprintf("%s charted %.0f data points", step.ToolName, points))
		}
	}
	return metrics
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// compactJSON renders a payload as single-line JSON clipped to max bytes.
func compactJSON(v any, max int) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(data)
	if len(s) > max {
		s = s[:max] + "...(clipped)"
	}
	return s
}
