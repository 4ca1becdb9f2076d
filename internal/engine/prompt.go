package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// anomalyInstructions is injected into the first planning prompt when the
// query reads like an anomaly hunt. It only prioritizes; it does not force
// any tool call.
const anomalyInstructions = `
ANOMALY DETECTION QUERY DETECTED.

PRIORITY TOOLS FOR ANOMALY DETECTION:
1. get_database_schema (understand the data structure)
2. detect_data_anomalies (find statistical outliers and duplicate rows)
3. detect_metric_anomalies (find unusual per-period aggregates)
4. Use chart tools to show anomalies graphically

FOCUS ON: statistical outliers, unusual patterns, data inconsistencies, irregular behaviors.
`

// demandConclusion is the escalated corrective instruction injected after
// two consecutive duplicate tool calls.
const demandConclusion = "You have repeated the same tool call twice. Stop calling tools and provide your final conclusion now, based on the results you already have."

// systemPrompt renders the fixed investigation instructions plus the tool
// catalog grouped by category.
func systemPrompt(defs []mcp.Tool, categories map[string][]string) string {
	descriptions := make(map[string]string, len(defs))
	for _, d := range defs {
		descriptions[d.Name] = d.Description
	}

	catNames := make([]string, 0, len(categories))
	for cat := range categories {
		catNames = append(catNames, cat)
	}
	sort.Strings(catNames)

	var b strings.Builder
	b.WriteString("You are an expert autonomous database analyst. You conduct targeted, multi-step investigations driven by the specific question asked.\n\n")
	b.WriteString("## AVAILABLE TOOLS\n")
	for _, cat := range catNames {
		fmt.Fprintf(&b, "\n### %s\n", strings.ToUpper(strings.ReplaceAll(cat, "_", " ")))
		for _, name := range categories[cat] {
			fmt.Fprintf(&b, "- **%s**: %s\n", name, descriptions[name])
		}
	}
	b.WriteString(`
## INVESTIGATION APPROACH

1. ALWAYS start with get_database_schema to understand the available data.
2. Select tools based on the SPECIFIC question, not a fixed template.
3. Write SQL queries that directly answer the question.
4. Generate charts that are relevant to the question.
5. Use 4-6 tools maximum, then provide a final analysis.

## RESPONSE QUALITY

Your final analysis must answer the specific question asked, cite actual
numbers from the tool results, and avoid generic advice. When you have
sufficient data, reply with narrative text containing your conclusion
instead of another tool call.
`)
	return b.String()
}

// initialUserPrompt frames the user's question, optionally prefixed with the
// anomaly-priority block.
func initialUserPrompt(query string, anomaly bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conduct an autonomous investigation to answer this question: %q\n", query)
	if anomaly {
		b.WriteString(anomalyInstructions)
	}
	b.WriteString("\nLet the question drive your tool selection. Be targeted and relevant.")
	return b.String()
}

// renderPrompt assembles the full planning prompt for one model round: fixed
// instructions, memory summary, the framed question, and the transcript of
// this session so far. The transcript is kept as an ordered entry list and
// rendered fresh each round rather than grown as one string.
func renderPrompt(system, memorySummary, userPrompt string, transcript []string, corrective string) string {
	var b strings.Builder
	b.WriteString(system)
	if memorySummary != "" {
		b.WriteString("\n\n")
		b.WriteString(memorySummary)
	}
	b.WriteString("\n\nUser Request: ")
	b.WriteString(userPrompt)
	for _, entry := range transcript {
		b.WriteString("\n\n")
		b.WriteString(entry)
	}
	if corrective != "" {
		b.WriteString("\n\nIMPORTANT: ")
		b.WriteString(corrective)
	}
	return b.String()
}
