// Package services wires the investigation engine, the one-shot query path,
// and conversation memory behind one facade the transport layer calls.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datasleuth/datasleuth/internal/engine"
	"github.com/datasleuth/datasleuth/internal/llm"
	"github.com/datasleuth/datasleuth/internal/metrics"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/sqlguard"
	"github.com/datasleuth/datasleuth/internal/utils"
	"github.com/datasleuth/datasleuth/internal/viz"
)

// Investigator runs one bounded investigation session.
type Investigator interface {
	Investigate(ctx context.Context, query string, sink engine.StepSink) models.InvestigationResult
}

// SQLModel is the slice of the model client the one-shot query path needs.
type SQLModel interface {
	GenerateSQL(ctx context.Context, userQuery, schema string) (llm.SQLResult, error)
	Configured() bool
}

// Database is the slice of the database manager the service needs.
type Database interface {
	Query(ctx context.Context, query string, args ...any) ([]string, []map[string]any, error)
	Snapshot(ctx context.Context) (models.DatabaseSchema, error)
	Ping(ctx context.Context) error
}

// ConversationMemory records finished exchanges and caches the schema.
type ConversationMemory interface {
	AddExchange(ex models.ConversationExchange)
	CacheSchema(schema models.DatabaseSchema)
	CachedSchema() (models.DatabaseSchema, bool)
	Len() int
}

// InvestigationService is the application facade over both query paths.
type InvestigationService struct {
	logger       *slog.Logger
	orchestrator Investigator
	model        SQLModel
	db           Database
	memory       ConversationMemory
	maxRows      int
	latencies    *utils.LatencyTracker
}

// NewInvestigationService constructs the service facade. maxRows caps rows
// returned by the one-shot path; zero means the guard default.
func NewInvestigationService(logger *slog.Logger, orchestrator Investigator, model SQLModel, db Database, memory ConversationMemory, maxRows int) *InvestigationService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRows <= 0 {
		maxRows = sqlguard.DefaultMaxRows
	}
	return &InvestigationService{
		logger:       logger,
		orchestrator: orchestrator,
		model:        model,
		db:           db,
		memory:       memory,
		maxRows:      maxRows,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// Investigate runs a full investigation session, streams steps through sink,
// and records the finished exchange in conversation memory.
func (s *InvestigationService) Investigate(ctx context.Context, query string, sink engine.StepSink) (models.InvestigationResult, error) {
	if query == "" {
		return models.InvestigationResult{}, fmt.Errorf("query cannot be empty")
	}
	if s.orchestrator == nil {
		return models.InvestigationResult{}, fmt.Errorf("orchestrator not configured")
	}

	start := time.Now()
	result := s.orchestrator.Investigate(ctx, query, sink)
	duration := time.Since(start)

	metrics.ObserveInvestigation(duration, string(result.Summary.Outcome))
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("investigation latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	s.recordInvestigation(query, result)
	return result, nil
}

// Query is the one-shot path: generate SQL for the question against the
// cached schema, vet it, run it, and pick a chart for the result.
func (s *InvestigationService) Query(ctx context.Context, query string) (models.QueryResponse, error) {
	if query == "" {
		return models.QueryResponse{}, fmt.Errorf("query cannot be empty")
	}
	if s.model == nil || !s.model.Configured() {
		return models.QueryResponse{}, fmt.Errorf("model client not configured")
	}

	schema, err := s.schema(ctx)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("load schema: %w", err)
	}

	generated, err := s.model.GenerateSQL(ctx, query, schema.Render())
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("generate sql: %w", err)
	}
	if !sqlguard.IsSafe(generated.SQL) {
		s.logger.Warn("generated statement rejected", slog.String("sql", generated.SQL))
		return models.QueryResponse{}, fmt.Errorf("generated statement is not a read-only query")
	}
	sql := sqlguard.AddLimit(generated.SQL, s.maxRows)

	start := time.Now()
	columns, rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("execute query: %w", err)
	}
	elapsed := time.Since(start)

	classification := engine.Classify(query, s.hasContext())
	chart := viz.Select(columns, rows, classification.SuggestedViz)

	resp := models.QueryResponse{
		SQL:             sql,
		Explanation:     generated.Explanation,
		Results:         rows,
		RowCount:        len(rows),
		ExecutionTimeMS: utils.DurationMS(elapsed),
		Visualization:   &chart,
	}

	if s.memory != nil {
		s.memory.AddExchange(models.ConversationExchange{
			Query:         query,
			Response:      generated.Explanation,
			SQL:           sql,
			Results:       &models.ResultSummary{RowCount: len(rows), Columns: columns},
			Visualization: chart.ChartType,
			CreatedAt:     time.Now(),
		})
	}

	s.logger.Info("one-shot query served",
		slog.String("query", query),
		slog.Int("rows", len(rows)),
		slog.String("chart", chart.ChartType))
	return resp, nil
}

// Health reports reachability of the service's dependencies.
func (s *InvestigationService) Health(ctx context.Context) map[string]string {
	health := map[string]string{"status": "ok"}

	if s.db == nil {
		health["database"] = "not configured"
		health["status"] = "degraded"
	} else if err := s.db.Ping(ctx); err != nil {
		health["database"] = err.Error()
		health["status"] = "degraded"
	} else {
		health["database"] = "ok"
	}

	if s.model == nil || !s.model.Configured() {
		health["model"] = "not configured"
		health["status"] = "degraded"
	} else {
		health["model"] = "ok"
	}
	return health
}

// LatencyP95 returns the current p95 investigation latency.
func (s *InvestigationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// schema returns the cached snapshot, refreshing it from the database when
// the cache is cold or expired.
func (s *InvestigationService) schema(ctx context.Context) (models.DatabaseSchema, error) {
	if s.memory != nil {
		if cached, ok := s.memory.CachedSchema(); ok {
			return cached, nil
		}
	}
	snapshot, err := s.db.Snapshot(ctx)
	if err != nil {
		return models.DatabaseSchema{}, err
	}
	if s.memory != nil {
		s.memory.CacheSchema(snapshot)
	}
	return snapshot, nil
}

func (s *InvestigationService) hasContext() bool {
	return s.memory != nil && s.memory.Len() > 0
}

// recordInvestigation folds a finished session into conversation memory:
// the narrative, the last executed SQL, and its result shape.
func (s *InvestigationService) recordInvestigation(query string, result models.InvestigationResult) {
	if s.memory == nil {
		return
	}

	var sql string
	var summary *models.ResultSummary
	for _, step := range result.Steps {
		if step.Kind != models.StepToolCall || step.ToolName != "execute_sql_query" {
			continue
		}
		if stmt, ok := step.Parameters["sql"].(string); ok && stmt != "" {
			sql = stmt
		}
		if step.Result == nil || !step.Result.Success {
			continue
		}
		if data, ok := step.Result.Data.(map[string]any); ok {
			rs := &models.ResultSummary{}
			if n, ok := data["row_count"].(int); ok {
				rs.RowCount = n
			}
			if cols, ok := data["columns"].([]string); ok {
				rs.Columns = cols
			}
			summary = rs
		}
	}

	s.memory.AddExchange(models.ConversationExchange{
		Query:         query,
		Response:      result.Narrative,
		SQL:           sql,
		Results:       summary,
		Visualization: result.Visualization,
		ToolsUsed:     result.Summary.ToolsUsed,
		CreatedAt:     time.Now(),
	})
}
