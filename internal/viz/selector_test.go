package viz

import "testing"

func rows(cols []string, values ...[]any) []map[string]any {
	out := make([]map[string]any, len(values))
	for i, vals := range values {
		row := make(map[string]any, len(cols))
		for j, col := range cols {
			row[col] = vals[j]
		}
		out[i] = row
	}
	return out
}

func TestSelectLineForTemporalResults(t *testing.T) {
	cols := []string{"order_month", "revenue"}
	got := Select(cols, rows(cols,
		[]any{"2026-01", float64(1200)},
		[]any{"2026-02", float64(1450)},
	), "")

	if got.ChartType != "line" {
		t.Fatalf("chart = %q, want line (%s)", got.ChartType, got.Reasoning)
	}
	if got.XField != "order_month" || got.YField != "revenue" {
		t.Fatalf("axes = %q/%q", got.XField, got.YField)
	}
	if got.Title != "Revenue by Order Month" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestSelectBarForCategoricalResults(t *testing.T) {
	cols := []string{"region", "total_orders"}
	got := Select(cols, rows(cols,
		[]any{"north", int64(120)},
		[]any{"south", int64(80)},
		[]any{"west", int64(310)},
	), "")

	if got.ChartType != "bar" || got.XField != "region" || got.YField != "total_orders" {
		t.Fatalf("got %+v", got)
	}
}

func TestSelectPieForSmallShareResults(t *testing.T) {
	cols := []string{"category", "revenue_share"}
	got := Select(cols, rows(cols,
		[]any{"hardware", 0.6},
		[]any{"software", 0.3},
		[]any{"services", 0.1},
	), "")

	if got.ChartType != "pie" {
		t.Fatalf("chart = %q, want pie (%s)", got.ChartType, got.Reasoning)
	}
}

func TestSelectScatterForTwoNumericColumns(t *testing.T) {
	cols := []string{"price", "quantity"}
	got := Select(cols, rows(cols,
		[]any{9.99, int64(40)},
		[]any{19.99, int64(12)},
	), "")

	if got.ChartType != "scatter" || got.XField != "price" || got.YField != "quantity" {
		t.Fatalf("got %+v", got)
	}
}

func TestSelectFallsBackToTable(t *testing.T) {
	cols := []string{"name", "email"}
	got := Select(cols, rows(cols, []any{"Ana", "ana@example.com"}), "")
	if got.ChartType != "table" {
		t.Fatalf("chart = %q, want table", got.ChartType)
	}

	if got := Select([]string{"a"}, nil, "bar"); got.ChartType != "table" {
		t.Fatalf("empty result charted as %q", got.ChartType)
	}
}

func TestSelectHonorsPieSuggestionAsTiebreaker(t *testing.T) {
	cols := []string{"status", "count"}
	data := rows(cols,
		[]any{"open", int64(5)},
		[]any{"closed", int64(9)},
	)

	if got := Select(cols, data, "pie"); got.ChartType != "pie" {
		t.Fatalf("suggested pie ignored, got %q", got.ChartType)
	}
	if got := Select(cols, data, ""); got.ChartType != "bar" {
		t.Fatalf("unsuggested small result should stay bar, got %q", got.ChartType)
	}
}
