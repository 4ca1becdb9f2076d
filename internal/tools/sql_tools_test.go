package tools

import (
	"context"
	"strings"
	"testing"
)

func TestExplainPlanToolFlagsFullScansAndTempSorts(t *testing.T) {
	db := &fakeDatabase{
		columns: []string{"id", "parent", "notused", "detail"},
		rows: []map[string]any{
			{"detail": "SCAN orders"},
			{"detail": "SEARCH customers USING INTEGER PRIMARY KEY (rowid=?)"},
			{"detail": "USE TEMP B-TREE FOR ORDER BY"},
		},
	}
	tool := NewExplainPlanTool(db)

	data, meta, err := tool.Run(context.Background(), map[string]any{
		"sql": "SELECT * FROM orders o JOIN customers c ON o.customer_id = c.id ORDER BY o.total",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.queries) != 1 || !strings.HasPrefix(db.queries[0], "EXPLAIN QUERY PLAN ") {
		t.Fatalf("queries = %v", db.queries)
	}

	payload := data.(map[string]any)
	scans := payload["full_scan_tables"].([]string)
	if len(scans) != 1 || scans[0] != "orders" {
		t.Fatalf("full_scan_tables = %v", scans)
	}
	if payload["uses_temp_btree"] != true {
		t.Fatal("temp b-tree sort not detected")
	}
	if suggestions := payload["suggestions"].([]string); len(suggestions) != 2 {
		t.Fatalf("suggestions = %v", suggestions)
	}
	if meta["plan_step_count"] != 3 || meta["full_scan_count"] != 1 {
		t.Fatalf("meta = %v", meta)
	}
}

func TestExplainPlanToolRejectsUnsafeSQL(t *testing.T) {
	db := &fakeDatabase{}
	tool := NewExplainPlanTool(db)

	if _, _, err := tool.Run(context.Background(), map[string]any{
		"sql": "DELETE FROM orders",
	}); err == nil {
		t.Fatal("destructive SQL accepted")
	}
	if len(db.queries) != 0 {
		t.Fatalf("unsafe SQL reached the database: %v", db.queries)
	}
}

func TestFullScanTableParsesPlanLines(t *testing.T) {
	cases := []struct {
		detail string
		table  string
		ok     bool
	}{
		{"SCAN orders", "orders", true},
		{"SCAN TABLE orders", "orders", true},
		{"SCAN orders USING COVERING INDEX idx_orders_total", "", false},
		{"SEARCH customers USING INDEX idx_customers_region (region=?)", "", false},
		{"USE TEMP B-TREE FOR ORDER BY", "", false},
	}
	for _, tc := range cases {
		table, ok := fullScanTable(tc.detail)
		if ok != tc.ok || table != tc.table {
			t.Errorf("fullScanTable(%q) = %q, %v, want %q, %v", tc.detail, table, ok, tc.table, tc.ok)
		}
	}
}

func TestOptimizeToolOrdersSuggestionsByImpact(t *testing.T) {
	db := &fakeDatabase{
		columns: []string{"detail"},
		rows:    []map[string]any{{"detail": "SCAN orders"}},
	}
	tool := NewOptimizeTool(db)

	data, meta, err := tool.Run(context.Background(), map[string]any{
		"sql": "SELECT * FROM orders JOIN customers ORDER BY total",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := data.(map[string]any)
	suggestions := payload["optimization_suggestions"].([]map[string]any)
	// Cartesian product (critical), missing LIMIT and the planner's full
	// scan (high), SELECT * (medium).
	if len(suggestions) != 4 {
		t.Fatalf("suggestions = %v", suggestions)
	}
	if suggestions[0]["type"] != "cartesian_product" || suggestions[0]["impact"] != "critical" {
		t.Fatalf("first suggestion = %v", suggestions[0])
	}
	if suggestions[len(suggestions)-1]["impact"] != "medium" {
		t.Fatalf("last suggestion = %v", suggestions[len(suggestions)-1])
	}

	summary := payload["summary"].(map[string]any)
	if summary["critical_issues"] != 1 || summary["high_impact"] != 2 || summary["medium_impact"] != 1 {
		t.Fatalf("summary = %v", summary)
	}
	if meta["has_critical_issues"] != true {
		t.Fatalf("meta = %v", meta)
	}
}
