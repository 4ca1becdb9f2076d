package engine

import (
	"strings"
	"testing"

	"github.com/datasleuth/datasleuth/internal/models"
)

func sampleSteps() []models.InvestigationStep {
	return []models.InvestigationStep{
		{
			Kind:        models.StepToolCall,
			Description: "Executing get_database_schema",
			ToolName:    "get_database_schema",
			Result: &models.ToolResult{Success: true, Data: map[string]any{
				"tables": []any{"orders", "customers", "products"},
			}},
		},
		{
			Kind:        models.StepToolCall,
			Description: "Executing execute_sql_query",
			ToolName:    "execute_sql_query",
			Parameters:  map[string]any{"sql": "SELECT COUNT(*) AS total FROM orders"},
			Result: &models.ToolResult{Success: true, Data: map[string]any{
				"row_count": 1,
				"results":   []map[string]any{{"total": float64(1200)}},
			}},
		},
		{
			Kind:        models.StepToolCall,
			Description: "Executing describe_table",
			ToolName:    "describe_table",
			Parameters:  map[string]any{"table_name": "ghosts"},
			Result:      &models.ToolResult{Success: false, Error: "table ghosts does not exist"},
		},
		{
			Kind:        models.StepAnalysis,
			Description: "Analyzing findings and planning next steps",
			Result:      &models.ToolResult{Success: true, Data: map[string]any{"analysis": "orders look busy"}},
		},
	}
}

func TestFindingsDigestListsToolResultsOnly(t *testing.T) {
	digest := findingsDigest(sampleSteps())

	if !strings.Contains(digest, "get_database_schema") {
		t.Fatalf("digest missing schema step:\n%s", digest)
	}
	if !strings.Contains(digest, `"total":1200`) {
		t.Fatalf("digest missing query result payload:\n%s", digest)
	}
	if !strings.Contains(digest, "FAILED: table ghosts does not exist") {
		t.Fatalf("digest missing failed step:\n%s", digest)
	}
	if strings.Contains(digest, "orders look busy") {
		t.Fatalf("digest should not replay analysis chatter:\n%s", digest)
	}
}

func TestFindingsDigestWithNoToolSteps(t *testing.T) {
	digest := findingsDigest(nil)
	if !strings.Contains(digest, "No tool results were gathered") {
		t.Fatalf("empty digest missing marker:\n%s", digest)
	}
}

func TestSynthesisPromptCarriesQueryAndDigest(t *testing.T) {
	prompt := synthesisPrompt("how many orders", "INVESTIGATION FINDINGS\nSTEP 1: x")
	if !strings.Contains(prompt, `"how many orders"`) {
		t.Fatalf("prompt missing original question:\n%s", prompt)
	}
	if !strings.Contains(prompt, "do not invent numbers") {
		t.Fatalf("prompt missing grounding instruction:\n%s", prompt)
	}
}

func TestFallbackNarrativeIsNeverEmpty(t *testing.T) {
	got := fallbackNarrative("how many orders", sampleSteps())
	if got == "" {
		t.Fatal("fallback narrative is empty")
	}
	if !strings.Contains(got, "3 tables") && !strings.Contains(got, "contains 3 tables") {
		t.Fatalf("fallback missing table count metric:\n%s", got)
	}
	if !strings.Contains(got, "total: 1200.00") {
		t.Fatalf("fallback missing numeric finding:\n%s", got)
	}
	if !strings.Contains(got, "assembled locally") {
		t.Fatalf("fallback missing local-assembly note:\n%s", got)
	}

	empty := fallbackNarrative("anything", nil)
	if empty == "" || !strings.Contains(empty, "No numeric metrics") {
		t.Fatalf("fallback over zero steps = %q", empty)
	}
}

func TestCompactJSONClipsLongPayloads(t *testing.T) {
	long := map[string]any{"text": strings.Repeat("x", 500)}
	got := compactJSON(long, 100)
	if len(got) > 120 || !strings.HasSuffix(got, "...(clipped)") {
		t.Fatalf("payload not clipped: %d bytes", len(got))
	}
	if got := compactJSON(map[string]any{"a": 1}, 100); got != `{"a":1}` {
		t.Fatalf("compactJSON = %q", got)
	}
}
