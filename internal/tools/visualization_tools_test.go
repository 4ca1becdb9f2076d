package tools

import (
	"context"
	"strings"
	"testing"
)

func TestBarChartToolBuildsChartData(t *testing.T) {
	db := &fakeDatabase{
		columns: []string{"region", "revenue"},
		rows: []map[string]any{
			{"region": "north", "revenue": float64(1200)},
			{"region": "south", "revenue": float64(800)},
		},
	}
	tool := NewBarChartTool(db)

	data, meta, err := tool.Run(context.Background(), map[string]any{
		"sql":   "SELECT region, SUM(amount) AS revenue FROM orders GROUP BY region",
		"title": "Revenue per region",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := data.(map[string]any)
	if payload["chart_type"] != "bar" || payload["title"] != "Revenue per region" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["x_field"] != "region" || payload["y_field"] != "revenue" {
		t.Fatalf("axes = %v/%v", payload["x_field"], payload["y_field"])
	}
	if meta["data_points"] != 2 {
		t.Fatalf("meta = %v", meta)
	}
	if len(db.queries) != 1 || !strings.Contains(db.queries[0], "LIMIT") {
		t.Fatalf("row cap missing: %v", db.queries)
	}
}

func TestChartToolsRejectUnsafeAndEmptyResults(t *testing.T) {
	db := &fakeDatabase{columns: []string{"day", "n"}}
	tool := NewLineChartTool(db)

	if _, _, err := tool.Run(context.Background(), map[string]any{
		"sql": "UPDATE orders SET amount = 0",
	}); err == nil {
		t.Fatal("destructive SQL accepted")
	}
	if len(db.queries) != 0 {
		t.Fatalf("unsafe SQL reached the database: %v", db.queries)
	}

	if _, _, err := tool.Run(context.Background(), map[string]any{
		"sql": "SELECT day, COUNT(*) AS n FROM orders GROUP BY day",
	}); err == nil || !strings.Contains(err.Error(), "no rows") {
		t.Fatalf("err = %v, want no-rows rejection", err)
	}
}

func TestPieChartToolUsesLabelAndValueFields(t *testing.T) {
	db := &fakeDatabase{
		columns: []string{"category", "share"},
		rows: []map[string]any{
			{"category": "electronics", "share": float64(55)},
			{"category": "furniture", "share": float64(30)},
			{"category": "other", "share": float64(15)},
		},
	}
	tool := NewPieChartTool(db)

	data, meta, err := tool.Run(context.Background(), map[string]any{
		"sql":   "SELECT category, SUM(amount) AS share FROM sales GROUP BY category",
		"title": "Sales mix",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := data.(map[string]any)
	if payload["chart_type"] != "pie" || payload["title"] != "Sales mix" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["label_field"] != "category" || payload["value_field"] != "share" {
		t.Fatalf("fields = %v/%v", payload["label_field"], payload["value_field"])
	}
	if meta["data_points"] != 3 {
		t.Fatalf("meta = %v", meta)
	}
}

func TestScatterPlotToolPicksNumericAxes(t *testing.T) {
	db := &fakeDatabase{
		columns: []string{"price", "quantity"},
		rows: []map[string]any{
			{"price": float64(9.5), "quantity": int64(120)},
			{"price": float64(19.0), "quantity": int64(60)},
		},
	}
	tool := NewScatterPlotTool(db)

	data, _, err := tool.Run(context.Background(), map[string]any{
		"sql": "SELECT price, quantity FROM order_items",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := data.(map[string]any)
	if payload["chart_type"] != "scatter" {
		t.Fatalf("chart_type = %v", payload["chart_type"])
	}
	if payload["x_field"] != "price" || payload["y_field"] != "quantity" {
		t.Fatalf("axes = %v/%v", payload["x_field"], payload["y_field"])
	}
}

func TestChartAxesGuessesAndOverrides(t *testing.T) {
	cols := []string{"month", "orders", "revenue"}
	rows := []map[string]any{{"month": "2026-01", "orders": int64(12), "revenue": float64(900)}}

	x, y := chartAxes(cols, rows, "", "")
	if x != "month" || y != "orders" {
		t.Fatalf("guessed axes = %q/%q", x, y)
	}

	x, y = chartAxes(cols, rows, "month", "revenue")
	if x != "month" || y != "revenue" {
		t.Fatalf("explicit axes = %q/%q", x, y)
	}
}
