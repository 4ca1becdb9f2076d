package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/datasleuth/datasleuth/internal/database"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/sqlguard"
)

// ColumnStatsTool profiles a single column: counts, null and uniqueness
// ratios, numeric distribution or text lengths depending on the column type.
type ColumnStatsTool struct {
	db Database
}

func NewColumnStatsTool(db Database) *ColumnStatsTool {
	return &ColumnStatsTool{db: db}
}

func (t *ColumnStatsTool) Name() string     { return "get_column_statistics" }
func (t *ColumnStatsTool) Category() string { return CategoryAnalysis }

func (t *ColumnStatsTool) Description() string {
	return "Get comprehensive statistical analysis of a column including min, max, average, distribution, and data quality metrics. Works with any data type."
}

func (t *ColumnStatsTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table containing the column",
			Required:    true,
		},
		{
			Name:        "column_name",
			Type:        models.ParamString,
			Description: "Name of the column to analyze",
			Required:    true,
		},
		{
			Name:        "include_distribution",
			Type:        models.ParamBoolean,
			Description: "Whether to include value distribution analysis",
			Required:    false,
			Default:     true,
		},
	}
}

func (t *ColumnStatsTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	columnName := stringArg(args, "column_name", "")
	includeDistribution := boolArg(args, "include_distribution", true)

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	col, ok := findColumn(tbl, columnName)
	if !ok {
		return nil, nil, fmt.Errorf("column %q not found in table %q", columnName, tableName)
	}

	ident := database.QuoteIdent(col.Name)
	table := database.QuoteIdent(tbl.Name)

	basicQuery := fmt.Sprintf(
		"SELECT COUNT(*) AS total_rows, COUNT(%s) AS non_null, COUNT(DISTINCT %s) AS distinct_count FROM %s",
		ident, ident, table)
	_, basicRows, err := t.db.Query(ctx, basicQuery)
	if err != nil {
		return nil, nil, err
	}
	if len(basicRows) == 0 {
		return nil, nil, fmt.Errorf("no statistics returned for %q", tableName)
	}

	totalRows, _ := asFloat(basicRows[0]["total_rows"])
	nonNull, _ := asFloat(basicRows[0]["non_null"])
	distinct, _ := asFloat(basicRows[0]["distinct_count"])
	nullCount := totalRows - nonNull

	stats := map[string]any{
		"table_name":     tbl.Name,
		"column_name":    col.Name,
		"data_type":      col.Type,
		"is_nullable":    col.Nullable,
		"total_rows":     int64(totalRows),
		"non_null_count": int64(nonNull),
		"null_count":     int64(nullCount),
		"distinct_count": int64(distinct),
	}
	if totalRows > 0 {
		stats["null_percentage"] = round2(nullCount / totalRows * 100)
	}
	if nonNull > 0 {
		stats["uniqueness_ratio"] = round4(distinct / nonNull)
	}

	if isNumericType(col.Type) {
		numeric, err := t.numericStats(ctx, table, ident)
		if err != nil {
			stats["numeric_stats_error"] = err.Error()
		} else if numeric != nil {
			stats["numeric_stats"] = numeric
		}
	} else {
		text, err := t.textStats(ctx, table, ident)
		if err != nil {
			stats["text_stats_error"] = err.Error()
		} else {
			stats["text_stats"] = text
		}
	}

	if includeDistribution {
		t.addDistribution(ctx, stats, table, ident, int64(distinct), nonNull)
	}

	meta := map[string]any{
		"data_type":      col.Type,
		"total_rows":     int64(totalRows),
		"distinct_count": int64(distinct),
	}
	return stats, meta, nil
}

func (t *ColumnStatsTool) numericStats(ctx context.Context, table, ident string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT %s AS v FROM %s WHERE %s IS NOT NULL LIMIT %d",
		ident, table, ident, sqlguard.DefaultMaxRows)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	values := columnValues(rows, "v")
	if len(values) == 0 {
		return nil, nil
	}

	q1 := percentile(values, 0.25)
	q3 := percentile(values, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	outliers := 0
	for _, v := range values {
		if v < lower || v > upper {
			outliers++
		}
	}

	return map[string]any{
		"min":                percentile(values, 0),
		"max":                percentile(values, 1),
		"mean":               round4(mean(values)),
		"median":             median(values),
		"std_deviation":      round4(stdDev(values)),
		"q1":                 q1,
		"q3":                 q3,
		"outlier_count":      outliers,
		"outlier_percentage": round2(float64(outliers) / float64(len(values)) * 100),
		"sampled_rows":       len(values),
	}, nil
}

func (t *ColumnStatsTool) textStats(ctx context.Context, table, ident string) (map[string]any, error) {
	query := fmt.Sprintf(
		"SELECT MIN(LENGTH(%s)) AS min_len, MAX(LENGTH(%s)) AS max_len, AVG(LENGTH(%s)) AS avg_len, "+
			"SUM(CASE WHEN %s = '' THEN 1 ELSE 0 END) AS empty_count FROM %s WHERE %s IS NOT NULL",
		ident, ident, ident, ident, table, ident)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	avgLen, _ := asFloat(rows[0]["avg_len"])
	return map[string]any{
		"min_length":         rows[0]["min_len"],
		"max_length":         rows[0]["max_len"],
		"avg_length":         round2(avgLen),
		"empty_string_count": rows[0]["empty_count"],
	}, nil
}

func (t *ColumnStatsTool) addDistribution(ctx context.Context, stats map[string]any, table, ident string, distinct int64, nonNull float64) {
	limit := 20
	key := "value_distribution"
	if distinct > 100 {
		limit = 10
		key = "top_values"
	}
	query := fmt.Sprintf(
		"SELECT %s AS value, COUNT(*) AS frequency FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC LIMIT %d",
		ident, table, ident, ident, limit)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		stats["distribution_error"] = err.Error()
		return
	}
	entries := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entry := map[string]any{
			"value":     fmt.Sprintf("%v", row["value"]),
			"frequency": row["frequency"],
		}
		if freq, ok := asFloat(row["frequency"]); ok && nonNull > 0 {
			entry["percentage"] = round2(freq / nonNull * 100)
		}
		entries = append(entries, entry)
	}
	stats[key] = entries
}

// CorrelationTool computes pairwise Pearson correlations between numeric
// columns from a bounded sample of rows.
type CorrelationTool struct {
	db Database
}

func NewCorrelationTool(db Database) *CorrelationTool {
	return &CorrelationTool{db: db}
}

func (t *CorrelationTool) Name() string     { return "find_correlations" }
func (t *CorrelationTool) Category() string { return CategoryAnalysis }

func (t *CorrelationTool) Description() string {
	return "Find statistical correlations between numeric columns in a table. Helps identify relationships and dependencies in data."
}

func (t *CorrelationTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to analyze",
			Required:    true,
		},
		{
			Name:        "columns",
			Type:        models.ParamString,
			Description: "Comma-separated list of columns to analyze (optional, analyzes all numeric columns if not specified)",
			Required:    false,
		},
		{
			Name:        "min_correlation",
			Type:        models.ParamNumber,
			Description: "Minimum absolute correlation coefficient to report",
			Required:    false,
			Default:     0.3,
		},
	}
}

func (t *CorrelationTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	columnList := stringArg(args, "columns", "")
	minCorrelation := floatArg(args, "min_correlation", 0.3)

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}

	var candidates []string
	if columnList != "" {
		for _, raw := range strings.Split(columnList, ",") {
			col := strings.TrimSpace(raw)
			if col == "" {
				continue
			}
			if !hasColumn(tbl, col) {
				return nil, nil, fmt.Errorf("column %q not found in table %q", col, tableName)
			}
			candidates = append(candidates, col)
		}
	} else {
		candidates = numericColumns(tbl)
	}
	if len(candidates) < 2 {
		return nil, nil, fmt.Errorf("need at least two numeric columns to correlate, have %d", len(candidates))
	}

	quoted := make([]string, len(candidates))
	for i, col := range candidates {
		quoted[i] = database.QuoteIdent(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT %d",
		strings.Join(quoted, ", "), database.QuoteIdent(tbl.Name), sqlguard.DefaultMaxRows)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	var correlations []map[string]any
	pairsTested := 0
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			xs, ys := pairedValues(rows, candidates[i], candidates[j])
			if len(xs) < 3 {
				continue
			}
			pairsTested++
			r := pearson(xs, ys)
			if math.Abs(r) < minCorrelation {
				continue
			}
			correlations = append(correlations, map[string]any{
				"column_a":    candidates[i],
				"column_b":    candidates[j],
				"correlation": round4(r),
				"strength":    correlationStrength(r),
				"direction":   correlationDirection(r),
				"sample_size": len(xs),
			})
		}
	}

	sort.Slice(correlations, func(a, b int) bool {
		ra, _ := correlations[a]["correlation"].(float64)
		rb, _ := correlations[b]["correlation"].(float64)
		return math.Abs(ra) > math.Abs(rb)
	})

	data := map[string]any{
		"table_name":       tbl.Name,
		"columns_analyzed": candidates,
		"min_correlation":  minCorrelation,
		"correlations":     correlations,
	}
	meta := map[string]any{
		"pairs_tested":       pairsTested,
		"correlations_found": len(correlations),
	}
	return data, meta, nil
}

func pairedValues(rows []map[string]any, colA, colB string) ([]float64, []float64) {
	xs := make([]float64, 0, len(rows))
	ys := make([]float64, 0, len(rows))
	for _, row := range rows {
		x, okX := asFloat(row[colA])
		y, okY := asFloat(row[colB])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

func correlationStrength(r float64) string {
	switch abs := math.Abs(r); {
	case abs >= 0.8:
		return "very strong"
	case abs >= 0.6:
		return "strong"
	case abs >= 0.4:
		return "moderate"
	default:
		return "weak"
	}
}

func correlationDirection(r float64) string {
	if r < 0 {
		return "negative"
	}
	return "positive"
}

// DataQualityTool grades every column of a table on completeness,
// uniqueness, and type-specific validity checks.
type DataQualityTool struct {
	db Database
}

func NewDataQualityTool(db Database) *DataQualityTool {
	return &DataQualityTool{db: db}
}

func (t *DataQualityTool) Name() string     { return "analyze_data_quality" }
func (t *DataQualityTool) Category() string { return CategoryAnalysis }

func (t *DataQualityTool) Description() string {
	return "Perform comprehensive data quality analysis including completeness, consistency, validity, and uniqueness checks across all columns."
}

func (t *DataQualityTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to analyze",
			Required:    true,
		},
	}
}

func (t *DataQualityTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	if len(tbl.Columns) == 0 {
		return nil, nil, fmt.Errorf("table %q has no columns to analyze", tableName)
	}

	table := database.QuoteIdent(tbl.Name)
	_, totalRowsResult, err := t.db.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS total_rows FROM %s", table))
	if err != nil {
		return nil, nil, err
	}
	var totalRows float64
	if len(totalRowsResult) > 0 {
		totalRows, _ = asFloat(totalRowsResult[0]["total_rows"])
	}

	var issues []map[string]any
	columnQuality := make([]map[string]any, 0, len(tbl.Columns))
	var scoreSum, completenessSum, uniquenessSum float64

	for _, col := range tbl.Columns {
		checks, err := t.columnChecks(ctx, table, col)
		if err != nil {
			columnQuality = append(columnQuality, map[string]any{
				"column_name":    col.Name,
				"data_type":      col.Type,
				"analysis_error": err.Error(),
			})
			continue
		}

		nullCount := totalRows - checks.nonNull
		completeness := 100.0
		if totalRows > 0 {
			completeness = (totalRows - nullCount) / totalRows * 100
		}
		uniqueness := 100.0
		if checks.nonNull > 0 {
			uniqueness = checks.distinct / checks.nonNull * 100
		}

		quality := map[string]any{
			"column_name": col.Name,
			"data_type":   col.Type,
			"is_nullable": col.Nullable,
			"completeness": map[string]any{
				"score":      round2(completeness),
				"null_count": int64(nullCount),
			},
			"uniqueness": map[string]any{
				"score":           round2(uniqueness),
				"distinct_count":  int64(checks.distinct),
				"duplicate_count": int64(checks.nonNull - checks.distinct),
			},
		}
		if totalRows > 0 {
			quality["completeness"].(map[string]any)["null_percentage"] = round2(nullCount / totalRows * 100)
		}

		if !col.Nullable && nullCount > 0 {
			issues = append(issues, map[string]any{
				"type":        "completeness",
				"column":      col.Name,
				"severity":    "high",
				"description": fmt.Sprintf("non-nullable column has %d null values", int64(nullCount)),
			})
		}

		switch {
		case isNumericType(col.Type):
			quality["numeric_validity"] = map[string]any{
				"negative_count": int64(checks.negatives),
				"zero_count":     int64(checks.zeros),
			}
		case isTemporalType(col):
			quality["date_validity"] = map[string]any{
				"future_date_count": int64(checks.futures),
			}
			if checks.futures > 0 {
				issues = append(issues, map[string]any{
					"type":        "validity",
					"column":      col.Name,
					"severity":    "medium",
					"description": fmt.Sprintf("found %d future dates", int64(checks.futures)),
				})
			}
		default:
			quality["text_validity"] = map[string]any{
				"empty_string_count": int64(checks.empties),
			}
			if checks.empties > 0 {
				issues = append(issues, map[string]any{
					"type":        "validity",
					"column":      col.Name,
					"severity":    "medium",
					"description": fmt.Sprintf("found %d empty strings", int64(checks.empties)),
				})
			}
		}

		columnScore := (completeness + uniqueness) / 2
		quality["overall_score"] = round2(columnScore)
		columnQuality = append(columnQuality, quality)

		scoreSum += columnScore
		completenessSum += completeness
		uniquenessSum += uniqueness
	}

	overall := 0.0
	if n := len(tbl.Columns); n > 0 {
		overall = round2(scoreSum / float64(n))
	}

	severityCounts := map[string]int{}
	for _, issue := range issues {
		severityCounts[issue["severity"].(string)]++
	}

	data := map[string]any{
		"table_name":       tbl.Name,
		"total_rows":       int64(totalRows),
		"columns_analyzed": len(tbl.Columns),
		"column_quality":   columnQuality,
		"quality_issues":   issues,
		"overall_score":    overall,
		"quality_grade":    qualityGrade(overall),
		"summary": map[string]any{
			"total_issues":           len(issues),
			"high_severity_issues":   severityCounts["high"],
			"medium_severity_issues": severityCounts["medium"],
			"average_completeness":   round2(completenessSum / float64(len(tbl.Columns))),
			"average_uniqueness":     round2(uniquenessSum / float64(len(tbl.Columns))),
		},
	}
	meta := map[string]any{
		"overall_score":    overall,
		"quality_grade":    qualityGrade(overall),
		"total_issues":     len(issues),
		"columns_analyzed": len(tbl.Columns),
	}
	return data, meta, nil
}

type columnCheckCounts struct {
	nonNull   float64
	distinct  float64
	empties   float64
	negatives float64
	zeros     float64
	futures   float64
}

// columnChecks gathers all per-column counters in a single scan.
func (t *DataQualityTool) columnChecks(ctx context.Context, table string, col models.ColumnSchema) (columnCheckCounts, error) {
	ident := database.QuoteIdent(col.Name)
	parts := []string{
		fmt.Sprintf("COUNT(%s) AS non_null", ident),
		fmt.Sprintf("COUNT(DISTINCT %s) AS distinct_count", ident),
	}
	switch {
	case isNumericType(col.Type):
		parts = append(parts,
			fmt.Sprintf("SUM(CASE WHEN %s < 0 THEN 1 ELSE 0 END) AS negative_count", ident),
			fmt.Sprintf("SUM(CASE WHEN %s = 0 THEN 1 ELSE 0 END) AS zero_count", ident))
	case isTemporalType(col):
		parts = append(parts,
			fmt.Sprintf("SUM(CASE WHEN DATE(%s) > DATE('now') THEN 1 ELSE 0 END) AS future_count", ident))
	default:
		parts = append(parts,
			fmt.Sprintf("SUM(CASE WHEN %s = '' THEN 1 ELSE 0 END) AS empty_count", ident))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(parts, ", "), table)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return columnCheckCounts{}, err
	}
	if len(rows) == 0 {
		return columnCheckCounts{}, nil
	}

	var counts columnCheckCounts
	counts.nonNull, _ = asFloat(rows[0]["non_null"])
	counts.distinct, _ = asFloat(rows[0]["distinct_count"])
	counts.empties, _ = asFloat(rows[0]["empty_count"])
	counts.negatives, _ = asFloat(rows[0]["negative_count"])
	counts.zeros, _ = asFloat(rows[0]["zero_count"])
	counts.futures, _ = asFloat(rows[0]["future_count"])
	return counts, nil
}

func qualityGrade(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Fair"
	default:
		return "Poor"
	}
}

func findColumn(tbl models.TableSchema, name string) (models.ColumnSchema, bool) {
	for _, col := range tbl.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return models.ColumnSchema{}, false
}
