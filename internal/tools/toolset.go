package tools

import "log/slog"

// NewDefaultRegistry builds a registry carrying the full investigation
// toolset: discovery, SQL execution, analysis, anomaly detection,
// investigation helpers, chart builders and memory access.
func NewDefaultRegistry(db Database, store ConversationStore, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)

	r.Register(NewSchemaTool(db, store))
	r.Register(NewTableDetailTool(db))
	r.Register(NewSampleTool(db))
	r.Register(NewTableSizeTool(db))

	r.Register(NewQueryTool(db))
	r.Register(NewValidateTool(db))
	r.Register(NewExplainPlanTool(db))
	r.Register(NewOptimizeTool(db))

	r.Register(NewColumnStatsTool(db))
	r.Register(NewCorrelationTool(db))
	r.Register(NewDataQualityTool(db))

	r.Register(NewDataAnomalyTool(db))
	r.Register(NewMetricAnomalyTool(db))
	r.Register(NewCustomerBehaviorTool(db))

	r.Register(NewPeriodCompareTool(db))
	r.Register(NewSeasonalPatternTool(db))
	r.Register(NewDrillDownTool(db))

	r.Register(NewBarChartTool(db))
	r.Register(NewLineChartTool(db))
	r.Register(NewPieChartTool(db))
	r.Register(NewScatterPlotTool(db))

	r.Register(NewContextTool(store))
	r.Register(NewMemorySearchTool(store))

	return r
}
