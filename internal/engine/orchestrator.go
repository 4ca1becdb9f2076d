// Package engine drives the investigation loop: it turns the model's
// free-form tool-call suggestions into safe, deduplicated, rate-limited
// executions against the registry and folds the results back into the next
// planning prompt until a conclusion or a hard limit is reached.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/datasleuth/datasleuth/internal/llm"
	"github.com/datasleuth/datasleuth/internal/metrics"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/utils"
)

// ModelClient is the slice of the language-model client the orchestrator
// needs.
type ModelClient interface {
	Generate(ctx context.Context, prompt string, tools []mcp.Tool) (*llm.Response, error)
}

// ToolExecutor is the slice of the tool registry the orchestrator needs.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) models.ToolResult
	Definitions() []mcp.Tool
	Categories() map[string][]string
	Names() []string
}

// ConversationContext supplies the condensed memory summary for planning
// prompts.
type ConversationContext interface {
	ContextSummary(n int) string
	MentionedTables() []string
}

// StepSink receives each finalized step as soon as it is appended, letting
// callers stream progress. May be nil.
type StepSink func(models.InvestigationStep)

// Config bounds one investigation session.
type Config struct {
	MaxIterations     int
	PacingDelay       time.Duration
	EmptyCallDelay    time.Duration
	RateLimitDelay    time.Duration
	MaxRetries        int
	MaxEmptyCalls     int
	MaxDuplicateCalls int
	MemoryExchanges   int
}

// DefaultConfig mirrors the pacing the external service's quota tolerates.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     8,
		PacingDelay:       30 * time.Second,
		EmptyCallDelay:    time.Second,
		RateLimitDelay:    32 * time.Second,
		MaxRetries:        2,
		MaxEmptyCalls:     3,
		MaxDuplicateCalls: 3,
		MemoryExchanges:   3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.PacingDelay <= 0 {
		c.PacingDelay = def.PacingDelay
	}
	if c.EmptyCallDelay <= 0 {
		c.EmptyCallDelay = def.EmptyCallDelay
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = def.RateLimitDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxEmptyCalls <= 0 {
		c.MaxEmptyCalls = def.MaxEmptyCalls
	}
	if c.MaxDuplicateCalls <= 0 {
		c.MaxDuplicateCalls = def.MaxDuplicateCalls
	}
	if c.MemoryExchanges <= 0 {
		c.MemoryExchanges = def.MemoryExchanges
	}
	return c
}

// Orchestrator owns the investigation state machine.
type Orchestrator struct {
	logger   *slog.Logger
	model    ModelClient
	registry ToolExecutor
	memory   ConversationContext
	cfg      Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New constructs an orchestrator. A nil logger falls back to slog.Default();
// memory may be nil when no conversation context is wanted.
func New(logger *slog.Logger, model ModelClient, registry ToolExecutor, memory ConversationContext, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:   logger,
		model:    model,
		registry: registry,
		memory:   memory,
		cfg:      cfg.withDefaults(),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// SetSleep replaces the pacing sleeper. Intended for tests.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		o.sleep = fn
	}
}

// SetClock replaces the time source. Intended for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// session is the per-run mutable state. It is created inside Investigate and
// never shared.
type session struct {
	query      string
	steps      []models.InvestigationStep
	transcript []string

	signatures    map[string]struct{}
	knownTools    map[string]struct{}
	toolsExecuted int

	iteration   int
	emptyStreak int
	dupStreak   int
	dupSkips    int
	retries     int
	lastRanTool bool
	corrective  string

	concluded bool
	narrative string
}

func newSession(query string, toolNames []string) *session {
	known := make(map[string]struct{}, len(toolNames))
	for _, n := range toolNames {
		known[n] = struct{}{}
	}
	return &session{
		query:      query,
		signatures: make(map[string]struct{}),
		knownTools: known,
	}
}

// callSignature fingerprints a tool invocation for duplicate suppression:
// the tool name plus a sorted-key rendering of its arguments.
func callSignature(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", k, args[k])
	}
	b.WriteByte(')')
	return b.String()
}

// actionKind is what the scheduler tells the driver to do next.
type actionKind int

const (
	actionPlan actionKind = iota
	actionSynthesize
	actionFinish
)

type action struct {
	kind    actionKind
	delay   time.Duration
	outcome models.Outcome
}

// nextAction is the pure scheduling decision: given the session state it
// picks the next move and the pacing delay, with no IO or timers of its own.
func nextAction(s *session, cfg Config) action {
	switch {
	case s.concluded:
		return action{kind: actionFinish, outcome: models.OutcomeConcluded}
	case s.dupStreak >= cfg.MaxDuplicateCalls:
		return action{kind: actionSynthesize, outcome: models.OutcomeExhaustedDupes}
	case s.emptyStreak >= cfg.MaxEmptyCalls:
		return action{kind: actionSynthesize, outcome: models.OutcomeExhaustedEmpty}
	case s.iteration >= cfg.MaxIterations:
		return action{kind: actionSynthesize, outcome: models.OutcomeExhaustedIters}
	}

	var delay time.Duration
	if s.iteration > 0 {
		if s.lastRanTool {
			delay = cfg.PacingDelay
		} else {
			delay = cfg.EmptyCallDelay
		}
	}
	return action{kind: actionPlan, delay: delay}
}

// Investigate runs one full session for the query. The returned result is
// always well formed: failures inside individual tools or model rounds
// become recorded steps, and every terminal path still yields an ordered
// step list, a summary, and a narrative when one could be produced.
func (o *Orchestrator) Investigate(ctx context.Context, query string, sink StepSink) models.InvestigationResult {
	start := o.now()
	s := newSession(query, o.registry.Names())

	anomaly := IsAnomalyQuery(query)
	defs := o.registry.Definitions()
	system := systemPrompt(defs, o.registry.Categories())
	user := initialUserPrompt(query, anomaly)
	memorySummary := o.memorySummary()

	o.logger.Info("starting investigation",
		slog.String("query", query),
		slog.Bool("anomaly_query", anomaly),
		slog.Int("tools_available", len(defs)))

	outcome := models.OutcomeError
loop:
	for {
		if ctx.Err() != nil {
			o.appendCancelled(s, sink, ctx.Err())
			outcome = models.OutcomeCancelled
			break loop
		}

		act := nextAction(s, o.cfg)
		switch act.kind {
		case actionFinish:
			outcome = act.outcome
			break loop
		case actionSynthesize:
			outcome = act.outcome
			o.synthesize(ctx, s, sink)
			break loop
		}

		if act.delay > 0 {
			o.logger.Debug("pacing before next model round", slog.Duration("delay", act.delay))
			if err := o.sleep(ctx, act.delay); err != nil {
				o.appendCancelled(s, sink, err)
				outcome = models.OutcomeCancelled
				break loop
			}
		}

		s.iteration++
		prompt := renderPrompt(system, memorySummary, user, s.transcript, s.corrective)
		s.corrective = ""

		resp, err := o.generate(ctx, s, sink, prompt, defs)
		if err != nil {
			outcome = o.recordModelFailure(ctx, s, sink, err)
			break loop
		}
		if o.handleResponse(ctx, s, sink, resp) {
			outcome = models.OutcomeConcluded
			break loop
		}
	}

	elapsed := o.now().Sub(start)
	o.logger.Info("investigation finished",
		slog.String("outcome", string(outcome)),
		slog.Int("iterations", s.iteration),
		slog.Int("tools_executed", s.toolsExecuted),
		slog.Duration("elapsed", elapsed))

	return models.InvestigationResult{
		Query:         query,
		Steps:         s.steps,
		Summary:       summarize(s, outcome),
		Narrative:     s.narrative,
		Visualization: chosenVisualization(s.steps),
		Elapsed:       elapsed,
		ElapsedMS:     utils.DurationMS(elapsed),
	}
}

// generate performs one model round with rate-limit backoff. Retries do not
// consume iteration budget; past the retry cap the quota failure is returned
// as a terminal error.
func (o *Orchestrator) generate(ctx context.Context, s *session, sink StepSink, prompt string, defs []mcp.Tool) (*llm.Response, error) {
	for {
		resp, err := o.model.Generate(ctx, prompt, defs)
		if err == nil {
			metrics.ObserveModelCall(metrics.OutcomeSuccess)
			return resp, nil
		}

		rle, ok := llm.AsRateLimit(err)
		if !ok {
			metrics.ObserveModelCall(metrics.OutcomeError)
			return nil, err
		}
		metrics.ObserveModelCall(metrics.OutcomeRateLimited)

		if s.retries >= o.cfg.MaxRetries {
			return nil, fmt.Errorf("model quota exhausted after %d retries: %w", s.retries, err)
		}
		s.retries++
		metrics.IncModelRetry()

		delay := o.cfg.RateLimitDelay
		if rle.SuggestedDelay > delay {
			delay = rle.SuggestedDelay
		}
		o.logger.Warn("model rate limited, backing off",
			slog.Duration("delay", delay),
			slog.Int("attempt", s.retries),
			slog.Int("max_retries", o.cfg.MaxRetries))

		o.appendStep(s, sink, models.InvestigationStep{
			Kind:        models.StepRetry,
			Description: fmt.Sprintf("Model quota exceeded, waiting %s before retry %d/%d", delay, s.retries, o.cfg.MaxRetries),
			Result: &models.ToolResult{
				Success: true,
				Data: map[string]any{
					"retry_attempt": s.retries,
					"delay_seconds": delay.Seconds(),
					"reason":        "rate limit exceeded",
					"quota_info":    rle.Message,
				},
			},
			CreatedAt: o.now(),
		})

		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// handleResponse folds one model reply into the session. It reports true
// when the reply concluded the investigation.
func (o *Orchestrator) handleResponse(ctx context.Context, s *session, sink StepSink, resp *llm.Response) bool {
	ranTool := false
	skippedDup := false

	for _, call := range resp.Calls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			o.logger.Warn("skipping unnamed function call")
			continue
		}
		if _, known := s.knownTools[name]; !known {
			o.logger.Warn("skipping unknown tool", slog.String("tool", name))
			s.transcript = append(s.transcript,
				fmt.Sprintf("The requested tool %q does not exist. Valid tools: %s.", name, strings.Join(o.registry.Names(), ", ")))
			continue
		}

		sig := callSignature(name, call.Args)
		if _, dup := s.signatures[sig]; dup {
			skippedDup = true
			s.dupStreak++
			s.dupSkips++
			o.logger.Warn("duplicate tool call skipped",
				slog.String("tool", name),
				slog.Int("duplicate_streak", s.dupStreak))

			if s.dupStreak >= 2 {
				s.corrective = demandConclusion
			} else {
				s.corrective = fmt.Sprintf("You already executed %s with those exact arguments. Do not repeat this call; use the earlier result or take a different action.", name)
			}
			s.transcript = append(s.transcript,
				fmt.Sprintf("Duplicate call to %s was skipped; its result is already above.", name))
			continue
		}
		s.signatures[sig] = struct{}{}

		result := o.registry.Execute(ctx, name, call.Args)
		metrics.ObserveToolExecution(name, result.Success)

		o.appendStep(s, sink, models.InvestigationStep{
			Kind:        models.StepToolCall,
			Description: "Executing " + name,
			ToolName:    name,
			Parameters:  call.Args,
			Result:      &result,
			Reasoning:   "Using " + name + " to investigate the data",
			CreatedAt:   o.now(),
		})

		ranTool = true
		s.dupStreak = 0
		if result.Success {
			s.toolsExecuted++
			s.transcript = append(s.transcript,
				fmt.Sprintf("Tool %s executed. Result: %s\nContinue the investigation, or provide your final analysis if you have sufficient data.", name, compactJSON(result.Data, 2000)))
		} else {
			s.transcript = append(s.transcript,
				fmt.Sprintf("Tool %s failed: %s\nAdjust your approach and continue.", name, result.Error))
		}
	}

	if text := strings.TrimSpace(resp.Text); text != "" {
		kind := models.StepAnalysis
		description := "Analyzing findings and planning next steps"
		if LooksLikeConclusion(text) {
			kind = models.StepConclusion
			description = "Final analysis and recommendations"
		}
		o.appendStep(s, sink, models.InvestigationStep{
			Kind:        kind,
			Description: description,
			Result:      &models.ToolResult{Success: true, Data: map[string]any{"analysis": text}},
			Reasoning:   "Synthesizing findings and determining next steps",
			CreatedAt:   o.now(),
		})
		s.transcript = append(s.transcript, "Analysis so far: "+text)

		if kind == models.StepConclusion {
			s.concluded = true
			s.narrative = text
			return true
		}
	}

	if ranTool {
		s.lastRanTool = true
		s.emptyStreak = 0
	} else {
		s.lastRanTool = false
		// A round whose only activity was a skipped duplicate counts toward
		// the duplicate streak, not the empty one.
		if !skippedDup {
			s.emptyStreak++
			o.logger.Debug("model round executed no tools", slog.Int("empty_streak", s.emptyStreak))
		}
	}
	return false
}

// synthesize performs the single tool-free synthesis call over a digest of
// the gathered results, falling back to a locally assembled narrative when
// the call fails. Exactly one model call is attempted.
func (o *Orchestrator) synthesize(ctx context.Context, s *session, sink StepSink) {
	prompt := synthesisPrompt(s.query, findingsDigest(s.steps))

	narrative := ""
	resp, err := o.model.Generate(ctx, prompt, nil)
	if err != nil {
		metrics.ObserveModelCall(metrics.OutcomeError)
		o.logger.Warn("synthesis call failed, using local fallback", slog.Any("error", err))
	} else {
		metrics.ObserveModelCall(metrics.OutcomeSuccess)
		narrative = strings.TrimSpace(resp.Text)
	}
	if narrative == "" {
		narrative = fallbackNarrative(s.query, s.steps)
	}

	s.narrative = narrative
	o.appendStep(s, sink, models.InvestigationStep{
		Kind:        models.StepConclusion,
		Description: "Final analysis and recommendations",
		Result:      &models.ToolResult{Success: true, Data: map[string]any{"analysis": narrative}},
		Reasoning:   "Synthesizing all investigation findings",
		CreatedAt:   o.now(),
	})
}

// recordModelFailure appends the terminal error step for an unrecoverable
// model failure and, since no conclusion exists, a local fallback narrative.
func (o *Orchestrator) recordModelFailure(_ context.Context, s *session, sink StepSink, err error) models.Outcome {
	outcome := models.OutcomeError
	description := "Investigation stopped: model service failure"
	if _, ok := llm.AsRateLimit(err); ok {
		outcome = models.OutcomeRateLimited
		description = "Investigation stopped: model quota exhausted after retries"
	}
	o.logger.Error("model call failed terminally", slog.Any("error", err))

	o.appendStep(s, sink, models.InvestigationStep{
		Kind:        models.StepError,
		Description: description,
		Result:      &models.ToolResult{Success: false, Error: err.Error()},
		CreatedAt:   o.now(),
	})

	s.narrative = fallbackNarrative(s.query, s.steps)
	o.appendStep(s, sink, models.InvestigationStep{
		Kind:        models.StepConclusion,
		Description: "Fallback analysis assembled locally",
		Result:      &models.ToolResult{Success: true, Data: map[string]any{"analysis": s.narrative}},
		Reasoning:   "Model service unavailable, summarizing collected results locally",
		CreatedAt:   o.now(),
	})
	return outcome
}

func (o *Orchestrator) appendCancelled(s *session, sink StepSink, err error) {
	o.appendStep(s, sink, models.InvestigationStep{
		Kind:        models.StepError,
		Description: "Investigation cancelled",
		Result:      &models.ToolResult{Success: false, Error: err.Error()},
		CreatedAt:   o.now(),
	})
}

func (o *Orchestrator) appendStep(s *session, sink StepSink, step models.InvestigationStep) {
	s.steps = append(s.steps, step)
	if sink != nil {
		sink(step)
	}
}

func (o *Orchestrator) memorySummary() string {
	if o.memory == nil {
		return ""
	}
	summary := o.memory.ContextSummary(o.cfg.MemoryExchanges)
	if tables := o.memory.MentionedTables(); len(tables) > 0 {
		summary += "\nTables discussed earlier: " + strings.Join(tables, ", ")
	}
	return summary
}

func summarize(s *session, outcome models.Outcome) models.InvestigationSummary {
	counts := make(map[models.StepKind]int)
	seen := make(map[string]struct{})
	var toolsUsed []string
	for _, step := range s.steps {
		counts[step.Kind]++
		if step.Kind == models.StepToolCall && step.ToolName != "" {
			if _, ok := seen[step.ToolName]; !ok {
				seen[step.ToolName] = struct{}{}
				toolsUsed = append(toolsUsed, step.ToolName)
			}
		}
	}
	return models.InvestigationSummary{
		TotalSteps:    len(s.steps),
		StepCounts:    counts,
		ToolsUsed:     toolsUsed,
		ToolsExecuted: s.toolsExecuted,
		Iterations:    s.iteration,
		Outcome:       outcome,
	}
}

// chosenVisualization picks the chart type of the first successful chart
// tool result, empty when none was produced.
func chosenVisualization(steps []models.InvestigationStep) string {
	for _, step := range steps {
		if step.Kind != models.StepToolCall || step.Result == nil || !step.Result.Success {
			continue
		}
		if data, ok := step.Result.Data.(map[string]any); ok {
			if kind, ok := data["chart_type"].(string); ok && kind != "" {
				return kind
			}
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
