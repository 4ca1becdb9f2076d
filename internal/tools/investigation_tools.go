package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datasleuth/datasleuth/internal/database"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/utils"
)

// PeriodCompareTool aggregates one metric over two date windows and reports
// per-segment changes. Date bounds are bound as query parameters, never
// interpolated.
type PeriodCompareTool struct {
	db Database
}

func NewPeriodCompareTool(db Database) *PeriodCompareTool {
	return &PeriodCompareTool{db: db}
}

func (t *PeriodCompareTool) Name() string     { return "compare_time_periods" }
func (t *PeriodCompareTool) Category() string { return CategoryInvestigation }

func (t *PeriodCompareTool) Description() string {
	return "Compare metrics between different time periods to identify trends, seasonal patterns, and performance changes. Essential for temporal analysis."
}

func (t *PeriodCompareTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "table_name", Type: models.ParamString, Description: "Name of the table containing time-series data", Required: true},
		{Name: "date_column", Type: models.ParamString, Description: "Name of the date/timestamp column", Required: true},
		{Name: "metric_column", Type: models.ParamString, Description: "Name of the metric column to compare", Required: true},
		{Name: "period1_start", Type: models.ParamString, Description: "Start date of first period (YYYY-MM-DD format)", Required: true},
		{Name: "period1_end", Type: models.ParamString, Description: "End date of first period (YYYY-MM-DD format)", Required: true},
		{Name: "period2_start", Type: models.ParamString, Description: "Start date of second period (YYYY-MM-DD format)", Required: true},
		{Name: "period2_end", Type: models.ParamString, Description: "End date of second period (YYYY-MM-DD format)", Required: true},
		{Name: "group_by_column", Type: models.ParamString, Description: "Optional column to group by (e.g., region, product)", Required: false},
	}
}

type periodStats struct {
	total float64
	avg   float64
	count int64
}

func (t *PeriodCompareTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	dateColumn := stringArg(args, "date_column", "")
	metricColumn := stringArg(args, "metric_column", "")
	groupBy := stringArg(args, "group_by_column", "")

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	for _, col := range []string{dateColumn, metricColumn} {
		if !hasColumn(tbl, col) {
			return nil, nil, fmt.Errorf("column %q not found in table %q", col, tableName)
		}
	}
	if groupBy != "" && !hasColumn(tbl, groupBy) {
		return nil, nil, fmt.Errorf("group by column %q not found in table %q", groupBy, tableName)
	}

	bounds := make([]string, 0, 4)
	for _, name := range []string{"period1_start", "period1_end", "period2_start", "period2_end"} {
		parsed, err := utils.ParseDay(stringArg(args, name, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		bounds = append(bounds, parsed.Format("2006-01-02"))
	}

	period1, err := t.aggregate(ctx, tbl.Name, dateColumn, metricColumn, groupBy, bounds[0], bounds[1])
	if err != nil {
		return nil, nil, err
	}
	period2, err := t.aggregate(ctx, tbl.Name, dateColumn, metricColumn, groupBy, bounds[2], bounds[3])
	if err != nil {
		return nil, nil, err
	}

	keys := make(map[string]struct{})
	for k := range period1 {
		keys[k] = struct{}{}
	}
	for k := range period2 {
		keys[k] = struct{}{}
	}

	comparisons := make([]map[string]any, 0, len(keys))
	var total1, total2 float64
	var improved, declined, unchanged int
	for key := range keys {
		p1 := period1[key]
		p2 := period2[key]
		change := p2.total - p1.total
		entry := map[string]any{
			"period1_total": round2(p1.total),
			"period2_total": round2(p2.total),
			"period1_avg":   round2(p1.avg),
			"period2_avg":   round2(p2.avg),
			"period1_count": p1.count,
			"period2_count": p2.count,
			"total_change":  round2(change),
			"avg_change":    round2(p2.avg - p1.avg),
		}
		if groupBy != "" {
			entry["group_key"] = key
		}
		if p1.total != 0 {
			entry["percentage_change"] = round2(change / p1.total * 100)
		}
		comparisons = append(comparisons, entry)

		total1 += p1.total
		total2 += p2.total
		switch {
		case change > 0:
			improved++
		case change < 0:
			declined++
		default:
			unchanged++
		}
	}

	sort.Slice(comparisons, func(i, j int) bool {
		ci, _ := comparisons[i]["total_change"].(float64)
		cj, _ := comparisons[j]["total_change"].(float64)
		return math.Abs(ci) > math.Abs(cj)
	})

	summary := map[string]any{
		"period1_label":      bounds[0] + " to " + bounds[1],
		"period2_label":      bounds[2] + " to " + bounds[3],
		"total_period1":      round2(total1),
		"total_period2":      round2(total2),
		"overall_change":     round2(total2 - total1),
		"segments_improved":  improved,
		"segments_declined":  declined,
		"segments_unchanged": unchanged,
	}
	if total1 != 0 {
		summary["overall_percentage_change"] = round2((total2 - total1) / total1 * 100)
	}

	data := map[string]any{
		"table_name":         tbl.Name,
		"comparison_results": comparisons,
		"summary":            summary,
		"parameters": map[string]any{
			"date_column":     dateColumn,
			"metric_column":   metricColumn,
			"group_by_column": groupBy,
			"period1":         summary["period1_label"],
			"period2":         summary["period2_label"],
		},
	}
	meta := map[string]any{
		"segments_analyzed": len(comparisons),
		"has_improvements":  improved > 0,
		"has_declines":      declined > 0,
	}
	return data, meta, nil
}

func (t *PeriodCompareTool) aggregate(ctx context.Context, table, dateCol, metricCol, groupBy, start, end string) (map[string]periodStats, error) {
	metric := database.QuoteIdent(metricCol)
	date := database.QuoteIdent(dateCol)

	selectList := fmt.Sprintf(
		"SUM(%s) AS total, AVG(%s) AS avg, COUNT(*) AS count", metric, metric)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= ? AND %s <= ? AND %s IS NOT NULL",
		selectList, database.QuoteIdent(table), date, date, metric)
	if groupBy != "" {
		group := database.QuoteIdent(groupBy)
		query = fmt.Sprintf("SELECT %s AS group_key, %s FROM %s WHERE %s >= ? AND %s <= ? AND %s IS NOT NULL GROUP BY %s",
			group, selectList, database.QuoteIdent(table), date, date, metric, group)
	}

	_, rows, err := t.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, err
	}

	out := make(map[string]periodStats, len(rows))
	for _, row := range rows {
		key := ""
		if groupBy != "" {
			key = fmt.Sprintf("%v", row["group_key"])
		}
		total, _ := asFloat(row["total"])
		avg, _ := asFloat(row["avg"])
		count, _ := asFloat(row["count"])
		if count == 0 {
			continue
		}
		out[key] = periodStats{total: total, avg: avg, count: int64(count)}
	}
	return out, nil
}

// DrillDownTool writes targeted follow-up queries for a finding. The queries
// are returned as text for the model to run through execute_sql_query, which
// gates them again.
type DrillDownTool struct {
	db Database
}

func NewDrillDownTool(db Database) *DrillDownTool {
	return &DrillDownTool{db: db}
}

func (t *DrillDownTool) Name() string     { return "generate_drill_down_queries" }
func (t *DrillDownTool) Category() string { return CategoryInvestigation }

func (t *DrillDownTool) Description() string {
	return "Generate follow-up SQL queries to drill down into specific findings or investigate patterns deeper. Use this to create targeted queries based on initial analysis results."
}

func (t *DrillDownTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "base_table", Type: models.ParamString, Description: "The main table being investigated", Required: true},
		{Name: "finding_description", Type: models.ParamString, Description: "Description of the finding that needs deeper investigation", Required: true},
		{Name: "dimension_column", Type: models.ParamString, Description: "Column to drill down by (e.g., region, product, time period)", Required: true},
		{Name: "metric_column", Type: models.ParamString, Description: "The metric column being analyzed (e.g., revenue, count, average)", Required: true},
		{Name: "filter_conditions", Type: models.ParamString, Description: "Optional WHERE conditions to focus the drill-down", Required: false},
	}
}

func (t *DrillDownTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	baseTable := stringArg(args, "base_table", "")
	finding := stringArg(args, "finding_description", "")
	dimension := stringArg(args, "dimension_column", "")
	metric := stringArg(args, "metric_column", "")
	filter := strings.TrimSpace(stringArg(args, "filter_conditions", ""))

	tbl, err := t.db.DescribeTable(ctx, baseTable)
	if err != nil {
		return nil, nil, err
	}
	if !hasColumn(tbl, dimension) {
		return nil, nil, fmt.Errorf("dimension column %q not found in table %q", dimension, baseTable)
	}
	if !hasColumn(tbl, metric) {
		return nil, nil, fmt.Errorf("metric column %q not found in table %q", metric, baseTable)
	}

	table := database.QuoteIdent(tbl.Name)
	dim := database.QuoteIdent(dimension)
	met := database.QuoteIdent(metric)
	where := ""
	if filter != "" {
		where = " WHERE " + filter
	}

	queries := []map[string]any{
		{
			"type":        "basic_breakdown",
			"description": fmt.Sprintf("Breakdown of %s by %s", metric, dimension),
			"sql": fmt.Sprintf(
				"SELECT %s, COUNT(*) AS record_count, SUM(%s) AS total_value, AVG(%s) AS avg_value, MIN(%s) AS min_value, MAX(%s) AS max_value FROM %s%s GROUP BY %s ORDER BY total_value DESC",
				dim, met, met, met, met, table, where, dim),
			"purpose": "See how the metric varies across different values of the dimension",
		},
		{
			"type":        "top_bottom_analysis",
			"description": fmt.Sprintf("Top 5 and bottom 5 %s by %s", dimension, metric),
			"sql": fmt.Sprintf(
				"SELECT * FROM (SELECT %s, SUM(%s) AS total_value, 'top_performer' AS category FROM %s%s GROUP BY %s ORDER BY total_value DESC LIMIT 5) "+
					"UNION ALL SELECT * FROM (SELECT %s, SUM(%s) AS total_value, 'bottom_performer' AS category FROM %s%s GROUP BY %s ORDER BY total_value ASC LIMIT 5)",
				dim, met, table, where, dim, dim, met, table, where, dim),
			"purpose": "Identify best and worst performing segments",
		},
		{
			"type":        "share_of_total",
			"description": fmt.Sprintf("Share of total %s per %s", metric, dimension),
			"sql": fmt.Sprintf(
				"SELECT %s, SUM(%s) AS total_value, ROUND(SUM(%s) * 100.0 / (SELECT SUM(%s) FROM %s%s), 2) AS pct_of_total FROM %s%s GROUP BY %s ORDER BY total_value DESC",
				dim, met, met, met, table, where, table, where, dim),
			"purpose": "Understand how concentrated the metric is across segments",
		},
		{
			"type":        "comparative_analysis",
			"description": fmt.Sprintf("Compare %s performance against overall average", dimension),
			"sql": fmt.Sprintf(
				"WITH overall AS (SELECT AVG(%s) AS overall_avg FROM %s%s), segments AS (SELECT %s AS segment, AVG(%s) AS segment_avg, COUNT(*) AS record_count FROM %s%s GROUP BY %s) "+
					"SELECT segment, segment_avg, overall_avg, segment_avg - overall_avg AS difference_from_avg, ROUND((segment_avg - overall_avg) / overall_avg * 100, 2) AS percentage_difference, record_count "+
					"FROM segments CROSS JOIN overall ORDER BY ABS(segment_avg - overall_avg) DESC",
				met, table, where, dim, met, table, where, dim),
			"purpose": "Identify which segments perform above or below average",
		},
	}

	hasTimeAnalysis := false
	if dateColumn, ok := firstTemporalColumn(tbl); ok {
		hasTimeAnalysis = true
		date := database.QuoteIdent(dateColumn)
		queries = append(queries, map[string]any{
			"type":        "time_trend_analysis",
			"description": fmt.Sprintf("Monthly trend of %s by %s", metric, dimension),
			"sql": fmt.Sprintf(
				"SELECT strftime('%%Y-%%m', %s) AS month, %s, SUM(%s) AS total_value, COUNT(*) AS record_count FROM %s%s GROUP BY strftime('%%Y-%%m', %s), %s ORDER BY month DESC, total_value DESC",
				date, dim, met, table, where, date, dim),
			"purpose": "Understand how patterns change over time",
		})
	}

	// The free-text filter is embedded in every query, so reject the batch
	// if it fails the gate.
	for _, q := range queries {
		if err := checkSafe(q["sql"].(string)); err != nil {
			return nil, nil, fmt.Errorf("filter conditions produce unsafe SQL: %w", err)
		}
	}

	available := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		available = append(available, col.Name)
	}

	data := map[string]any{
		"base_table":          tbl.Name,
		"finding_description": finding,
		"dimension_column":    dimension,
		"metric_column":       metric,
		"filter_conditions":   filter,
		"drill_down_queries":  queries,
		"available_columns":   available,
	}
	meta := map[string]any{
		"queries_generated": len(queries),
		"has_time_analysis": hasTimeAnalysis,
	}
	return data, meta, nil
}

// SeasonalPatternTool buckets a metric by calendar period and measures how
// strongly the averages swing around the overall mean.
type SeasonalPatternTool struct {
	db Database
}

func NewSeasonalPatternTool(db Database) *SeasonalPatternTool {
	return &SeasonalPatternTool{db: db}
}

func (t *SeasonalPatternTool) Name() string     { return "detect_seasonal_patterns" }
func (t *SeasonalPatternTool) Category() string { return CategoryInvestigation }

func (t *SeasonalPatternTool) Description() string {
	return "Analyze time-series data to detect seasonal patterns, cyclical trends, and recurring behaviors. Useful for understanding business cycles and forecasting."
}

func (t *SeasonalPatternTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "table_name", Type: models.ParamString, Description: "Name of the table containing time-series data", Required: true},
		{Name: "date_column", Type: models.ParamString, Description: "Name of the date/timestamp column", Required: true},
		{Name: "metric_column", Type: models.ParamString, Description: "Name of the metric column to analyze for patterns", Required: true},
		{
			Name:        "pattern_type",
			Type:        models.ParamString,
			Description: "Type of seasonal pattern to detect",
			Required:    false,
			Default:     "monthly",
			Enum:        []string{"monthly", "quarterly", "weekly", "daily"},
		},
	}
}

func (t *SeasonalPatternTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	dateColumn := stringArg(args, "date_column", "")
	metricColumn := stringArg(args, "metric_column", "")
	patternType := stringArg(args, "pattern_type", "monthly")

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	for _, col := range []string{dateColumn, metricColumn} {
		if !hasColumn(tbl, col) {
			return nil, nil, fmt.Errorf("column %q not found in table %q", col, tableName)
		}
	}

	date := database.QuoteIdent(dateColumn)
	metric := database.QuoteIdent(metricColumn)
	period := periodExpr(patternType, date)

	query := fmt.Sprintf(
		"SELECT %s AS period, AVG(%s) AS avg_metric, SUM(%s) AS total_metric, COUNT(*) AS record_count "+
			"FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL GROUP BY period ORDER BY period",
		period, metric, metric, database.QuoteIdent(tbl.Name), date, metric)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	periods := make([]map[string]any, 0, len(rows))
	var averages []float64
	for _, row := range rows {
		avg, ok := asFloat(row["avg_metric"])
		if !ok {
			continue
		}
		total, _ := asFloat(row["total_metric"])
		count, _ := asFloat(row["record_count"])
		periods = append(periods, map[string]any{
			"period":       periodLabel(patternType, fmt.Sprintf("%v", row["period"])),
			"avg_metric":   round2(avg),
			"total_metric": round2(total),
			"record_count": int64(count),
		})
		averages = append(averages, avg)
	}

	analysis := map[string]any{"message": "insufficient data for pattern analysis"}
	if len(averages) > 1 {
		overall := mean(averages)
		var peaks, troughs []map[string]any
		for i, entry := range periods {
			if overall == 0 {
				break
			}
			deviation := (averages[i] - overall) / overall * 100
			marker := map[string]any{
				"period":            entry["period"],
				"value":             entry["avg_metric"],
				"deviation_percent": round2(deviation),
			}
			switch {
			case deviation > 20:
				peaks = append(peaks, marker)
			case deviation < -20:
				troughs = append(troughs, marker)
			}
		}

		cv := 0.0
		if overall > 0 {
			cv = stdDev(averages) / overall * 100
		}

		highIdx, lowIdx := 0, 0
		for i := range averages {
			if averages[i] > averages[highIdx] {
				highIdx = i
			}
			if averages[i] < averages[lowIdx] {
				lowIdx = i
			}
		}

		analysis = map[string]any{
			"pattern_detected":         len(peaks) > 0 || len(troughs) > 0,
			"seasonality_strength":     seasonalityStrength(cv),
			"coefficient_of_variation": round2(cv),
			"overall_average":          round2(overall),
			"peak_periods":             peaks,
			"trough_periods":           troughs,
			"highest_period":           periods[highIdx],
			"lowest_period":            periods[lowIdx],
		}
	}

	data := map[string]any{
		"table_name":   tbl.Name,
		"pattern_type": patternType,
		"pattern_data": periods,
		"analysis":     analysis,
		"parameters": map[string]any{
			"date_column":   dateColumn,
			"metric_column": metricColumn,
		},
	}
	strength, _ := analysis["seasonality_strength"].(string)
	meta := map[string]any{
		"periods_analyzed":       len(periods),
		"has_strong_seasonality": strength == "high" || strength == "medium",
	}
	return data, meta, nil
}

// periodExpr renders the SQLite grouping expression for a pattern type.
func periodExpr(patternType, dateIdent string) string {
	switch patternType {
	case "quarterly":
		return fmt.Sprintf("((CAST(strftime('%%m', %s) AS INTEGER) + 2) / 3)", dateIdent)
	case "weekly":
		return fmt.Sprintf("strftime('%%w', %s)", dateIdent)
	case "daily":
		return fmt.Sprintf("strftime('%%H', %s)", dateIdent)
	default:
		return fmt.Sprintf("strftime('%%m', %s)", dateIdent)
	}
}

func periodLabel(patternType, period string) string {
	switch patternType {
	case "monthly":
		if n, err := strconv.Atoi(period); err == nil && n >= 1 && n <= 12 {
			return time.Month(n).String()
		}
	case "quarterly":
		return "Q" + period
	case "weekly":
		if n, err := strconv.Atoi(period); err == nil && n >= 0 && n <= 6 {
			return time.Weekday(n).String()
		}
	case "daily":
		return period + ":00"
	}
	return period
}

func seasonalityStrength(cv float64) string {
	switch {
	case cv > 30:
		return "high"
	case cv > 15:
		return "medium"
	case cv > 5:
		return "low"
	default:
		return "minimal"
	}
}
