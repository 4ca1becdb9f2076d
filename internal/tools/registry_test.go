package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/datasleuth/datasleuth/internal/models"
)

type stubTool struct {
	name     string
	category string
	params   []models.ToolParameter
	run      func(ctx context.Context, args map[string]any) (any, map[string]any, error)
}

func (t *stubTool) Name() string                        { return t.name }
func (t *stubTool) Category() string                    { return t.category }
func (t *stubTool) Description() string                 { return "stub tool for tests" }
func (t *stubTool) Parameters() []models.ToolParameter  { return t.params }
func (t *stubTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	if t.run == nil {
		return map[string]any{"ok": true}, nil, nil
	}
	return t.run(ctx, args)
}

func TestExecuteUnknownToolListsAvailableNames(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "alpha", category: CategoryAnalysis})

	result := r.Execute(context.Background(), "missing", nil)
	if result.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(result.Error, "alpha") {
		t.Fatalf("error should list valid tools: %q", result.Error)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	var seen map[string]any
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name:     "checker",
		category: CategoryAnalysis,
		params: []models.ToolParameter{
			{Name: "table_name", Type: models.ParamString, Required: true},
			{Name: "limit", Type: models.ParamInteger, Default: 50},
			{Name: "mode", Type: models.ParamString, Enum: []string{"fast", "full"}},
		},
		run: func(_ context.Context, args map[string]any) (any, map[string]any, error) {
			seen = args
			return "ok", nil, nil
		},
	})

	result := r.Execute(context.Background(), "checker", nil)
	if result.Success || !strings.Contains(result.Error, "table_name") {
		t.Fatalf("missing required arg accepted: %+v", result)
	}

	result = r.Execute(context.Background(), "checker", map[string]any{
		"table_name": "orders",
		"mode":       "sideways",
	})
	if result.Success || !strings.Contains(result.Error, "must be one of") {
		t.Fatalf("bad enum value accepted: %+v", result)
	}

	result = r.Execute(context.Background(), "checker", map[string]any{
		"table_name": "orders",
		"stray":      "dropped",
	})
	if !result.Success {
		t.Fatalf("valid call failed: %+v", result)
	}
	if seen["limit"] != 50 {
		t.Fatalf("default not applied: %v", seen)
	}
	if _, ok := seen["stray"]; ok {
		t.Fatalf("undeclared argument passed through: %v", seen)
	}
}

func TestExecuteConvertsErrorsAndPanicsToFailedResults(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name:     "failing",
		category: CategoryAnalysis,
		run: func(_ context.Context, _ map[string]any) (any, map[string]any, error) {
			return nil, nil, errors.New("backend gone")
		},
	})
	r.Register(&stubTool{
		name:     "panicking",
		category: CategoryAnalysis,
		run: func(_ context.Context, _ map[string]any) (any, map[string]any, error) {
			panic("boom")
		},
	})

	result := r.Execute(context.Background(), "failing", nil)
	if result.Success || !strings.Contains(result.Error, "backend gone") {
		t.Fatalf("error not surfaced: %+v", result)
	}

	result = r.Execute(context.Background(), "panicking", nil)
	if result.Success || !strings.Contains(result.Error, "panic") {
		t.Fatalf("panic not converted to failure: %+v", result)
	}
}

func TestHistoryAndStatsTrackExecutions(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "good", category: CategoryAnalysis})
	r.Register(&stubTool{
		name:     "bad",
		category: CategoryAnalysis,
		run: func(_ context.Context, _ map[string]any) (any, map[string]any, error) {
			return nil, nil, errors.New("nope")
		},
	})

	r.Execute(context.Background(), "good", nil)
	r.Execute(context.Background(), "good", nil)
	r.Execute(context.Background(), "bad", nil)

	history := r.History(2)
	if len(history) != 2 || history[1].Tool != "bad" {
		t.Fatalf("history = %+v", history)
	}

	stats := r.Stats()
	if stats.TotalExecutions != 3 || stats.CallsPerTool["good"] != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.MostUsedTool != "good" {
		t.Fatalf("most used = %q", stats.MostUsedTool)
	}
	if stats.SuccessRate < 66 || stats.SuccessRate > 67 {
		t.Fatalf("success rate = %v", stats.SuccessRate)
	}

	r.ClearHistory()
	if got := r.Stats(); got.TotalExecutions != 0 {
		t.Fatalf("history not cleared: %+v", got)
	}
}

func TestDefinitionsRenderDeclaredSchema(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name:     "sampler",
		category: CategoryDatabase,
		params: []models.ToolParameter{
			{Name: "table_name", Type: models.ParamString, Description: "table to sample", Required: true},
			{Name: "limit", Type: models.ParamInteger},
		},
	})

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("definitions = %d", len(defs))
	}
	def := defs[0]
	if def.Name != "sampler" {
		t.Fatalf("name = %q", def.Name)
	}
	if _, ok := def.InputSchema.Properties["table_name"]; !ok {
		t.Fatalf("schema missing table_name: %+v", def.InputSchema.Properties)
	}
	if _, ok := def.InputSchema.Properties["limit"]; !ok {
		t.Fatalf("schema missing limit: %+v", def.InputSchema.Properties)
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "table_name" {
		t.Fatalf("required = %v", def.InputSchema.Required)
	}
}

func TestHelpDescribesToolsAndCatalog(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name:     "alpha",
		category: CategoryAnalysis,
		params:   []models.ToolParameter{{Name: "x", Type: models.ParamString, Required: true}},
	})
	r.Register(&stubTool{name: "beta", category: CategoryAnomaly})

	help, err := r.Help("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if help["name"] != "alpha" || help["category"] != CategoryAnalysis {
		t.Fatalf("help = %v", help)
	}

	catalog, err := r.Help("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog["total_tools"] != 2 {
		t.Fatalf("catalog = %v", catalog)
	}

	if _, err := r.Help("missing"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}
