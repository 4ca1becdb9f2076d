package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/datasleuth/datasleuth/internal/llm"
	"github.com/datasleuth/datasleuth/internal/metrics"
	"github.com/datasleuth/datasleuth/internal/models"
)

type fakeModel struct {
	responses []*llm.Response
	errs      []error
	calls     int
	prompts   []string
	toolSets  [][]mcp.Tool
}

func (f *fakeModel) Generate(_ context.Context, prompt string, tools []mcp.Tool) (*llm.Response, error) {
	idx := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.toolSets = append(f.toolSets, tools)

	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	// Replay the last scripted response for any extra rounds.
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return &llm.Response{}, nil
}

type executedCall struct {
	name string
	args map[string]any
}

type fakeExecutor struct {
	results  map[string]models.ToolResult
	executed []executedCall
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args map[string]any) models.ToolResult {
	f.executed = append(f.executed, executedCall{name: name, args: args})
	if r, ok := f.results[name]; ok {
		return r
	}
	return models.ToolResult{Success: true, Data: map[string]any{"ok": true}}
}

func (f *fakeExecutor) Definitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("get_database_schema", mcp.WithDescription("list tables and columns")),
		mcp.NewTool("execute_sql_query", mcp.WithDescription("run a read-only query"),
			mcp.WithString("sql", mcp.Required())),
		mcp.NewTool("create_bar_chart", mcp.WithDescription("chart query results"),
			mcp.WithString("sql", mcp.Required())),
	}
}

func (f *fakeExecutor) Categories() map[string][]string {
	return map[string][]string{
		"database_discovery": {"get_database_schema"},
		"sql_execution":      {"execute_sql_query"},
		"visualization":      {"create_bar_chart"},
	}
}

func (f *fakeExecutor) Names() []string {
	return []string{"get_database_schema", "execute_sql_query", "create_bar_chart"}
}

// testConfig keeps real delays out of the tests; sleeps are captured instead.
func testConfig() Config {
	return Config{
		MaxIterations:     8,
		PacingDelay:       30 * time.Second,
		EmptyCallDelay:    time.Second,
		RateLimitDelay:    2 * time.Second,
		MaxRetries:        2,
		MaxEmptyCalls:     3,
		MaxDuplicateCalls: 3,
		MemoryExchanges:   3,
	}
}

func newTestOrchestrator(t *testing.T, model ModelClient, exec ToolExecutor) (*Orchestrator, *[]time.Duration) {
	t.Helper()
	o := New(nil, model, exec, nil, testConfig())
	var sleeps []time.Duration
	o.SetSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	return o, &sleeps
}

func toolCall(name string, args map[string]any) *llm.Response {
	return &llm.Response{Calls: []llm.FunctionCall{{Name: name, Args: args}}}
}

func stepKinds(steps []models.InvestigationStep) []models.StepKind {
	kinds := make([]models.StepKind, len(steps))
	for i, s := range steps {
		kinds[i] = s.Kind
	}
	return kinds
}

func TestInvestigateConcludesAfterToolRounds(t *testing.T) {
	model := &fakeModel{responses: []*llm.Response{
		toolCall("get_database_schema", nil),
		{Text: "Conclusion: the orders table dominates activity with 1200 rows."},
	}}
	exec := &fakeExecutor{}
	o, sleeps := newTestOrchestrator(t, model, exec)

	var streamed []models.InvestigationStep
	result := o.Investigate(context.Background(), "what is in this database", func(s models.InvestigationStep) {
		streamed = append(streamed, s)
	})

	if result.Summary.Outcome != models.OutcomeConcluded {
		t.Fatalf("outcome = %s, want concluded", result.Summary.Outcome)
	}
	if got := stepKinds(result.Steps); len(got) != 2 || got[0] != models.StepToolCall || got[1] != models.StepConclusion {
		t.Fatalf("unexpected step kinds: %v", got)
	}
	if len(streamed) != len(result.Steps) {
		t.Fatalf("sink saw %d steps, result has %d", len(streamed), len(result.Steps))
	}
	if result.Summary.ToolsExecuted != 1 || result.Summary.Iterations != 2 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if !strings.Contains(result.Narrative, "orders table") {
		t.Fatalf("narrative = %q", result.Narrative)
	}
	// One pacing sleep between the tool round and the conclusion round.
	if len(*sleeps) != 1 || (*sleeps)[0] != 30*time.Second {
		t.Fatalf("sleeps = %v, want one 30s pacing delay", *sleeps)
	}
}

func TestInvestigateInjectsAnomalyPriorities(t *testing.T) {
	model := &fakeModel{responses: []*llm.Response{
		{Text: "Conclusion: no anomalies worth reporting."},
	}}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	o.Investigate(context.Background(), "find unusual patterns in payments", nil)

	if len(model.prompts) == 0 || !strings.Contains(model.prompts[0], "ANOMALY DETECTION QUERY DETECTED") {
		t.Fatalf("first prompt missing anomaly priorities:\n%s", model.prompts[0])
	}
}

func TestInvestigatePlainQueryOmitsAnomalyPriorities(t *testing.T) {
	model := &fakeModel{responses: []*llm.Response{
		{Text: "Conclusion: monthly totals are flat."},
	}}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	o.Investigate(context.Background(), "show monthly revenue totals", nil)

	if strings.Contains(model.prompts[0], "ANOMALY DETECTION") {
		t.Fatalf("plain query should not carry anomaly priorities:\n%s", model.prompts[0])
	}
}

func TestInvestigateSuppressesDuplicateCalls(t *testing.T) {
	same := toolCall("execute_sql_query", map[string]any{"sql": "SELECT COUNT(*) FROM orders"})
	model := &fakeModel{responses: []*llm.Response{same, same, same, same}}
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(t, model, exec)

	result := o.Investigate(context.Background(), "how many orders are there", nil)

	if len(exec.executed) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(exec.executed))
	}
	if result.Summary.Outcome != models.OutcomeExhaustedDupes {
		t.Fatalf("outcome = %s, want exhausted_duplicates", result.Summary.Outcome)
	}
	if result.Summary.Iterations >= testConfig().MaxIterations {
		t.Fatalf("loop ran to the iteration cap: %d", result.Summary.Iterations)
	}
	// Round 3 gets the gentle corrective, round 4 the conclusion demand.
	if !strings.Contains(model.prompts[2], "already executed execute_sql_query") {
		t.Fatalf("third prompt missing duplicate corrective:\n%s", model.prompts[2])
	}
	if !strings.Contains(model.prompts[3], "provide your final conclusion now") {
		t.Fatalf("fourth prompt missing conclusion demand:\n%s", model.prompts[3])
	}
	if result.Narrative == "" {
		t.Fatal("expected a narrative even after duplicate exhaustion")
	}
}

func TestInvestigateDuplicateRoundsDoNotCountAsEmpty(t *testing.T) {
	same := toolCall("execute_sql_query", map[string]any{"sql": "SELECT COUNT(*) FROM orders"})
	model := &fakeModel{responses: []*llm.Response{same}}
	cfg := testConfig()
	cfg.MaxDuplicateCalls = 5
	o := New(nil, model, &fakeExecutor{}, nil, cfg)
	o.SetSleep(func(context.Context, time.Duration) error { return nil })

	result := o.Investigate(context.Background(), "how many orders are there", nil)

	// Rounds whose only activity is a skipped duplicate belong to the
	// duplicate streak; the empty-round cap must not fire first.
	if result.Summary.Outcome != models.OutcomeExhaustedDupes {
		t.Fatalf("outcome = %s, want exhausted_duplicates", result.Summary.Outcome)
	}
	if result.Summary.Iterations != 6 {
		t.Fatalf("iterations = %d, want 6 (one execution plus five duplicate rounds)", result.Summary.Iterations)
	}
}

func TestInvestigateRetriesRateLimitWithSuggestedDelay(t *testing.T) {
	model := &fakeModel{
		errs: []error{&llm.RateLimitError{Message: "Resource exhausted", SuggestedDelay: 5 * time.Second}},
		responses: []*llm.Response{
			nil,
			{Text: "Conclusion: retries recovered and the data is healthy."},
		},
	}
	o, sleeps := newTestOrchestrator(t, model, &fakeExecutor{})

	result := o.Investigate(context.Background(), "check order volumes", nil)

	if result.Summary.Outcome != models.OutcomeConcluded {
		t.Fatalf("outcome = %s, want concluded", result.Summary.Outcome)
	}
	if result.Summary.Iterations != 1 {
		t.Fatalf("iterations = %d, retries must not consume the budget", result.Summary.Iterations)
	}
	var retry *models.InvestigationStep
	for i := range result.Steps {
		if result.Steps[i].Kind == models.StepRetry {
			retry = &result.Steps[i]
		}
	}
	if retry == nil {
		t.Fatal("missing retry step")
	}
	data := retry.Result.Data.(map[string]any)
	if data["delay_seconds"].(float64) < 5 {
		t.Fatalf("retry delay = %v, want at least the suggested 5s", data["delay_seconds"])
	}
	if len(*sleeps) == 0 || (*sleeps)[0] != 5*time.Second {
		t.Fatalf("sleeps = %v, want suggested 5s honored over configured 2s", *sleeps)
	}
}

func TestInvestigateSurfacesQuotaExhaustionWithFallback(t *testing.T) {
	quota := &llm.RateLimitError{Message: "Resource exhausted"}
	model := &fakeModel{errs: []error{quota, quota, quota}}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	result := o.Investigate(context.Background(), "summarize customer activity", nil)

	if result.Summary.Outcome != models.OutcomeRateLimited {
		t.Fatalf("outcome = %s, want rate_limited", result.Summary.Outcome)
	}
	if got := result.Summary.StepCounts[models.StepRetry]; got != 2 {
		t.Fatalf("retry steps = %d, want 2", got)
	}
	if result.Summary.StepCounts[models.StepError] != 1 {
		t.Fatalf("expected one terminal error step, got %+v", result.Summary.StepCounts)
	}
	if result.Narrative == "" || !strings.Contains(result.Narrative, "assembled locally") {
		t.Fatalf("expected local fallback narrative, got %q", result.Narrative)
	}
}

func TestInvestigateStopsAfterEmptyRounds(t *testing.T) {
	model := &fakeModel{responses: []*llm.Response{
		{Text: "Let me think about which table to inspect next."},
	}}
	o, sleeps := newTestOrchestrator(t, model, &fakeExecutor{})

	result := o.Investigate(context.Background(), "inspect the data", nil)

	if result.Summary.Outcome != models.OutcomeExhaustedEmpty {
		t.Fatalf("outcome = %s, want exhausted_empty_responses", result.Summary.Outcome)
	}
	if result.Summary.Iterations != 3 {
		t.Fatalf("iterations = %d, want 3", result.Summary.Iterations)
	}
	// Empty rounds get the short pacing delay, not the full one.
	for _, d := range *sleeps {
		if d != time.Second {
			t.Fatalf("sleeps = %v, want only 1s empty-round delays", *sleeps)
		}
	}
}

func TestInvestigateSynthesizesAtIterationCap(t *testing.T) {
	// A fresh, unique call every round keeps the loop running to the cap.
	responses := make([]*llm.Response, 0, 8)
	for i := 0; i < 8; i++ {
		responses = append(responses, toolCall("execute_sql_query",
			map[string]any{"sql": "SELECT * FROM t", "max_rows": i + 1}))
	}
	responses = append(responses, &llm.Response{Text: "All eight checks show stable row counts."})
	model := &fakeModel{responses: responses}
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(t, model, exec)

	result := o.Investigate(context.Background(), "inspect the tables", nil)

	if result.Summary.Outcome != models.OutcomeExhaustedIters {
		t.Fatalf("outcome = %s, want exhausted_iterations", result.Summary.Outcome)
	}
	if result.Summary.Iterations != 8 {
		t.Fatalf("iterations = %d, want 8", result.Summary.Iterations)
	}
	if model.calls != 9 {
		t.Fatalf("model calls = %d, want 8 rounds plus 1 synthesis", model.calls)
	}
	// The synthesis call must be tool-free and carry the findings digest.
	last := model.calls - 1
	if model.toolSets[last] != nil {
		t.Fatal("synthesis call must not offer tools")
	}
	if !strings.Contains(model.prompts[last], "INVESTIGATION FINDINGS") {
		t.Fatalf("synthesis prompt missing digest:\n%s", model.prompts[last])
	}
	if !strings.Contains(result.Narrative, "stable row counts") {
		t.Fatalf("narrative = %q", result.Narrative)
	}
	final := result.Steps[len(result.Steps)-1]
	if final.Kind != models.StepConclusion {
		t.Fatalf("final step = %s, want conclusion", final.Kind)
	}
}

func TestInvestigateFallsBackWhenSynthesisFails(t *testing.T) {
	same := &llm.Response{Text: "Still gathering my thoughts."}
	model := &fakeModel{
		responses: []*llm.Response{same, same, same, nil},
		errs:      []error{nil, nil, nil, errors.New("model unreachable")},
	}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	result := o.Investigate(context.Background(), "inspect the data", nil)

	if result.Narrative == "" {
		t.Fatal("narrative must never be empty after a finished loop")
	}
	if !strings.Contains(result.Narrative, "assembled locally") {
		t.Fatalf("expected local fallback narrative, got %q", result.Narrative)
	}
}

// modelCallSuccesses reads the success counter of model_calls_total from a
// registry carrying the package collectors.
func modelCallSuccesses(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "datasleuth_model_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == metrics.OutcomeSuccess {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestInvestigateSynthesisEmptyTextFallsBackAndRecordsCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}

	think := &llm.Response{Text: "Still gathering my thoughts."}
	model := &fakeModel{responses: []*llm.Response{think, think, think, {Text: "   "}}}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	before := modelCallSuccesses(t, reg)
	result := o.Investigate(context.Background(), "inspect the data", nil)

	if model.calls != 4 {
		t.Fatalf("model calls = %d, want 3 planning rounds plus 1 synthesis", model.calls)
	}
	if !strings.Contains(result.Narrative, "assembled locally") {
		t.Fatalf("expected local fallback for blank synthesis text, got %q", result.Narrative)
	}
	// The blank-text synthesis call still succeeded at the transport level
	// and must be counted.
	if got := modelCallSuccesses(t, reg) - before; got != 4 {
		t.Fatalf("success model calls recorded = %v, want 4", got)
	}
}

func TestInvestigateSkipsUnknownAndFailedTools(t *testing.T) {
	exec := &fakeExecutor{results: map[string]models.ToolResult{
		"execute_sql_query": {Success: false, Error: "query blocked: not a read-only statement"},
	}}
	model := &fakeModel{responses: []*llm.Response{
		toolCall("drop_all_tables", map[string]any{"really": true}),
		toolCall("execute_sql_query", map[string]any{"sql": "DELETE FROM orders"}),
		{Text: "Conclusion: the destructive statements were refused."},
	}}
	o, _ := newTestOrchestrator(t, model, exec)

	result := o.Investigate(context.Background(), "clean up the orders table", nil)

	if len(exec.executed) != 1 {
		t.Fatalf("executed = %v, unknown tools must never reach the registry", exec.executed)
	}
	if result.Summary.ToolsExecuted != 0 {
		t.Fatalf("ToolsExecuted = %d, failed runs must not count", result.Summary.ToolsExecuted)
	}
	if result.Summary.StepCounts[models.StepToolCall] != 1 {
		t.Fatalf("tool_call steps = %d, want 1 (the failed run)", result.Summary.StepCounts[models.StepToolCall])
	}
	// The failure must be visible to the next planning round.
	if !strings.Contains(model.prompts[2], "query blocked") {
		t.Fatalf("third prompt missing failure feedback:\n%s", model.prompts[2])
	}
}

func TestInvestigateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{responses: []*llm.Response{toolCall("get_database_schema", nil)}}
	o, _ := newTestOrchestrator(t, model, &fakeExecutor{})

	result := o.Investigate(ctx, "what is in this database", nil)

	if result.Summary.Outcome != models.OutcomeCancelled {
		t.Fatalf("outcome = %s, want cancelled", result.Summary.Outcome)
	}
	if model.calls != 0 {
		t.Fatalf("model called %d times after cancellation", model.calls)
	}
	if len(result.Steps) != 1 || result.Steps[0].Kind != models.StepError {
		t.Fatalf("expected a single cancellation marker step, got %v", stepKinds(result.Steps))
	}
}

func TestInvestigatePicksChartVisualization(t *testing.T) {
	exec := &fakeExecutor{results: map[string]models.ToolResult{
		"create_bar_chart": {Success: true, Data: map[string]any{
			"chart_type": "bar",
			"title":      "Orders by region",
		}},
	}}
	model := &fakeModel{responses: []*llm.Response{
		toolCall("create_bar_chart", map[string]any{"sql": "SELECT region, COUNT(*) FROM orders GROUP BY region"}),
		{Text: "Conclusion: the western region leads order volume."},
	}}
	o, _ := newTestOrchestrator(t, model, exec)

	result := o.Investigate(context.Background(), "orders by region", nil)

	if result.Visualization != "bar" {
		t.Fatalf("visualization = %q, want bar", result.Visualization)
	}
}

func TestNextActionScheduling(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		name    string
		mutate  func(*session)
		kind    actionKind
		delay   time.Duration
		outcome models.Outcome
	}{
		{name: "first round runs immediately", mutate: func(s *session) {}, kind: actionPlan},
		{name: "after tool round paces long", mutate: func(s *session) {
			s.iteration = 2
			s.lastRanTool = true
		}, kind: actionPlan, delay: cfg.PacingDelay},
		{name: "after empty round paces short", mutate: func(s *session) {
			s.iteration = 2
		}, kind: actionPlan, delay: cfg.EmptyCallDelay},
		{name: "conclusion finishes", mutate: func(s *session) {
			s.concluded = true
		}, kind: actionFinish, outcome: models.OutcomeConcluded},
		{name: "duplicate streak synthesizes", mutate: func(s *session) {
			s.dupStreak = cfg.MaxDuplicateCalls
		}, kind: actionSynthesize, outcome: models.OutcomeExhaustedDupes},
		{name: "empty streak synthesizes", mutate: func(s *session) {
			s.emptyStreak = cfg.MaxEmptyCalls
		}, kind: actionSynthesize, outcome: models.OutcomeExhaustedEmpty},
		{name: "iteration cap synthesizes", mutate: func(s *session) {
			s.iteration = cfg.MaxIterations
		}, kind: actionSynthesize, outcome: models.OutcomeExhaustedIters},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession("q", nil)
			tc.mutate(s)
			act := nextAction(s, cfg)
			if act.kind != tc.kind || act.delay != tc.delay || act.outcome != tc.outcome {
				t.Fatalf("nextAction = %+v, want kind=%v delay=%v outcome=%v", act, tc.kind, tc.delay, tc.outcome)
			}
		})
	}
}

func TestCallSignatureIsOrderInsensitive(t *testing.T) {
	a := callSignature("execute_sql_query", map[string]any{"sql": "SELECT 1", "max_rows": 10})
	b := callSignature("execute_sql_query", map[string]any{"max_rows": 10, "sql": "SELECT 1"})
	if a != b {
		t.Fatalf("signatures differ for identical args: %q vs %q", a, b)
	}
	c := callSignature("execute_sql_query", map[string]any{"sql": "SELECT 2", "max_rows": 10})
	if a == c {
		t.Fatalf("different args produced identical signature %q", a)
	}
	d := callSignature("validate_sql_syntax", map[string]any{"sql": "SELECT 1", "max_rows": 10})
	if a == d {
		t.Fatal("different tools produced identical signatures")
	}
}
