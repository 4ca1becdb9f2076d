package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/utils"
)

// Registry owns the registered toolset. Execute is the single entry point
// used by the orchestrator: it validates arguments centrally, times the
// call, and always returns a ToolResult, never an error or a panic.
type Registry struct {
	mu      sync.Mutex
	tools   map[string]Tool
	order   []string
	history []models.ExecutionRecord
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the callable schema for every registered tool.
func (r *Registry) Definitions() []mcp.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Categories groups tool names by category in registration order.
func (r *Registry) Categories() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, name := range r.order {
		cat := r.tools[name].Category()
		out[cat] = append(out[cat], name)
	}
	return out
}

// Execute runs the named tool with the supplied arguments. Unknown tools,
// validation failures, tool errors and panics all come back as a failed
// ToolResult; this boundary never raises to the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) models.ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %q not found, available tools: %s", name, strings.Join(r.Names(), ", ")),
		}
	}

	start := time.Now()
	r.logger.Debug("executing tool", "tool", name)

	result := r.execute(ctx, tool, args)
	elapsed := time.Since(start)
	result.ExecutionTimeMS = utils.DurationMS(elapsed)

	r.record(models.ExecutionRecord{
		Tool:       name,
		Parameters: args,
		StartedAt:  start,
		Duration:   elapsed,
		DurationMS: result.ExecutionTimeMS,
		Success:    result.Success,
		Error:      result.Error,
	})

	if result.Success {
		r.logger.Debug("tool completed", "tool", name, "elapsed_ms", result.ExecutionTimeMS)
	} else {
		r.logger.Warn("tool failed", "tool", name, "error", result.Error)
	}
	return result
}

func (r *Registry) execute(ctx context.Context, tool Tool, args map[string]any) models.ToolResult {
	validated, err := validateArgs(tool.Parameters(), args)
	if err != nil {
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s failed: %v", tool.Name(), err),
		}
	}

	data, meta, err := runTool(ctx, tool, validated)
	if err != nil {
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s failed: %v", tool.Name(), err),
		}
	}
	return models.ToolResult{Success: true, Data: data, Metadata: meta}
}

// runTool converts a panicking tool into an error so one misbehaving tool
// cannot take down the session.
func runTool(ctx context.Context, tool Tool, args map[string]any) (data any, meta map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return tool.Run(ctx, args)
}

// validateArgs checks supplied arguments against the declared parameters:
// missing required parameters fail, missing optional parameters get their
// default, enum values are enforced, and undeclared arguments are dropped.
func validateArgs(params []models.ToolParameter, supplied map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(params))
	for _, p := range params {
		v, ok := supplied[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, fmt.Errorf("required parameter %q is missing", p.Name)
			}
			if p.Default != nil {
				validated[p.Name] = p.Default
			}
			continue
		}
		if len(p.Enum) > 0 {
			s, isStr := v.(string)
			if !isStr || !containsString(p.Enum, s) {
				return nil, fmt.Errorf("parameter %q must be one of %s", p.Name, strings.Join(p.Enum, ", "))
			}
		}
		validated[p.Name] = v
	}
	return validated, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (r *Registry) record(rec models.ExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
}

// History returns the most recent execution records, all of them when
// limit <= 0.
func (r *Registry) History(limit int) []models.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ExecutionRecord, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// ClearHistory drops all execution records.
func (r *Registry) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// Stats derives usage statistics from the execution history.
func (r *Registry) Stats() models.ToolUsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := models.ToolUsageStats{
		CallsPerTool: make(map[string]int),
	}
	if len(r.history) == 0 {
		return stats
	}

	var succeeded int
	var totalMS float64
	for _, rec := range r.history {
		stats.CallsPerTool[rec.Tool]++
		if rec.Success {
			succeeded++
		}
		totalMS += rec.DurationMS
	}

	stats.TotalExecutions = len(r.history)
	stats.SuccessRate = float64(succeeded) / float64(len(r.history)) * 100
	stats.AvgDurationMS = totalMS / float64(len(r.history))

	best := -1
	for _, name := range r.order {
		if n := stats.CallsPerTool[name]; n > best {
			best = n
			stats.MostUsedTool = name
		}
	}
	return stats
}

// Help describes one tool, or summarizes the whole catalog when name is
// empty.
func (r *Registry) Help(name string) (map[string]any, error) {
	if name != "" {
		tool, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("tool %q not found", name)
		}
		params := make([]map[string]any, 0, len(tool.Parameters()))
		for _, p := range tool.Parameters() {
			params = append(params, map[string]any{
				"name":        p.Name,
				"type":        string(p.Type),
				"description": p.Description,
				"required":    p.Required,
				"default":     p.Default,
				"enum_values": p.Enum,
			})
		}
		return map[string]any{
			"name":        tool.Name(),
			"category":    tool.Category(),
			"description": tool.Description(),
			"parameters":  params,
		}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	categories := make(map[string]any)
	for _, toolName := range r.order {
		t := r.tools[toolName]
		entry, _ := categories[t.Category()].(map[string]any)
		if entry == nil {
			entry = map[string]any{
				"tools":        []string{},
				"descriptions": map[string]string{},
			}
			categories[t.Category()] = entry
		}
		entry["tools"] = append(entry["tools"].([]string), toolName)
		entry["descriptions"].(map[string]string)[toolName] = t.Description()
	}
	return map[string]any{
		"total_tools": len(r.tools),
		"categories":  categories,
	}, nil
}
