package models

import "time"

// StepKind enumerates the atomic units an investigation can record.
type StepKind string

const (
	StepToolCall   StepKind = "tool_call"
	StepAnalysis   StepKind = "analysis"
	StepConclusion StepKind = "conclusion"
	StepRetry      StepKind = "retry"
	StepError      StepKind = "error"
)

// Outcome labels how an investigation terminated.
type Outcome string

const (
	OutcomeConcluded          Outcome = "concluded"
	OutcomeExhaustedIters     Outcome = "exhausted_iterations"
	OutcomeExhaustedDupes     Outcome = "exhausted_duplicates"
	OutcomeExhaustedEmpty     Outcome = "exhausted_empty_calls"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeError              Outcome = "error"
)

// InvestigationStep is one immutable record in the session audit trail.
// The result is attached before the step is appended and never mutated
// afterwards; steps are never removed.
type InvestigationStep struct {
	Kind        StepKind       `json:"kind"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Result      *ToolResult    `json:"result,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// InvestigationSummary aggregates a finished session.
type InvestigationSummary struct {
	TotalSteps    int              `json:"total_steps"`
	StepCounts    map[StepKind]int `json:"step_counts"`
	ToolsUsed     []string         `json:"tools_used"`
	ToolsExecuted int              `json:"tools_executed"`
	Iterations    int              `json:"iterations"`
	Outcome       Outcome          `json:"outcome"`
}

// InvestigationResult is everything a caller receives when a session ends.
type InvestigationResult struct {
	Query         string               `json:"query"`
	Steps         []InvestigationStep  `json:"steps"`
	Summary       InvestigationSummary `json:"summary"`
	Narrative     string               `json:"narrative"`
	Visualization string               `json:"visualization,omitempty"`
	Elapsed       time.Duration        `json:"-"`
	ElapsedMS     float64              `json:"elapsed_ms"`
}
