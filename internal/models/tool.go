package models

import "time"

// ParamType enumerates the semantic types a tool parameter may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// ToolParameter declares one argument of a registered tool. The declaration
// drives both the machine-callable schema shown to the model service and the
// central validation performed at dispatch time.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// ToolResult is the single, immutable outcome of one tool invocation.
type ToolResult struct {
	Success         bool           `json:"success"`
	Data            any            `json:"data,omitempty"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ExecutionRecord is one entry in the registry's append-only history.
type ExecutionRecord struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"-"`
	DurationMS float64        `json:"duration_ms"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// ToolUsageStats is the derived view over the execution history.
type ToolUsageStats struct {
	TotalExecutions int            `json:"total_executions"`
	CallsPerTool    map[string]int `json:"calls_per_tool"`
	SuccessRate     float64        `json:"success_rate"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
	MostUsedTool    string         `json:"most_used_tool,omitempty"`
}
