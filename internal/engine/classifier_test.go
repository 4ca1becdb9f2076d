package engine

import "testing"

func TestClassifyIntents(t *testing.T) {
	cases := []struct {
		query      string
		hasContext bool
		want       Intent
	}{
		{"show me all customers", false, IntentRetrieval},
		{"what is the total revenue this year", false, IntentAggregation},
		{"compare sales between north and south regions", false, IntentComparison},
		{"monthly revenue trend over time", false, IntentTrend},
		{"find unusual transactions in payments", false, IntentAnomaly},
		{"what is the relationship between price and quantity", false, IntentCorrelation},
		{"analyze the orders table and give me insight", false, IntentExploration},
		{"tell me more about those", true, IntentFollowUp},
		// Without prior context the same wording is not a follow-up.
		{"tell me more about those", false, IntentRetrieval},
	}

	for _, tc := range cases {
		got := Classify(tc.query, tc.hasContext)
		if got.Intent != tc.want {
			t.Errorf("Classify(%q, %v) = %s, want %s", tc.query, tc.hasContext, got.Intent, tc.want)
		}
		if got.Confidence < 0.5 || got.Confidence > 0.95 {
			t.Errorf("Classify(%q) confidence %v out of range", tc.query, got.Confidence)
		}
	}
}

func TestClassifyShortQueryWithContextIsFollowUp(t *testing.T) {
	got := Classify("and by region?", true)
	if got.Intent != IntentFollowUp || !got.ReferencedContext {
		t.Fatalf("short contextual query classified as %+v", got)
	}
}

func TestSuggestedVisualization(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"monthly revenue trend", "line"},
		{"compare top products", "bar"},
		{"relationship between price and rating", "scatter"},
		{"revenue breakdown by category", "pie"},
		{"list customer names", "bar"},
	}
	for _, tc := range cases {
		if got := Classify(tc.query, false).SuggestedViz; got != tc.want {
			t.Errorf("SuggestedViz(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestIsAnomalyQuery(t *testing.T) {
	yes := []string{
		"find anomalies in the sales data",
		"anything unusual in recent orders?",
		"detect outliers in payment amounts",
		"spot errors in the inventory records",
	}
	no := []string{
		"show monthly revenue totals",
		"list all customers from Berlin",
	}
	for _, q := range yes {
		if !IsAnomalyQuery(q) {
			t.Errorf("IsAnomalyQuery(%q) = false, want true", q)
		}
	}
	for _, q := range no {
		if IsAnomalyQuery(q) {
			t.Errorf("IsAnomalyQuery(%q) = true, want false", q)
		}
	}
}

func TestLooksLikeConclusion(t *testing.T) {
	if !LooksLikeConclusion("In summary, the orders table drives most activity.") {
		t.Error("summary text not recognized as conclusion")
	}
	if !LooksLikeConclusion("My recommendation is to index the created_at column.") {
		t.Error("recommendation text not recognized as conclusion")
	}
	if LooksLikeConclusion("Let me check the schema before going further.") {
		t.Error("planning text misread as conclusion")
	}
}
