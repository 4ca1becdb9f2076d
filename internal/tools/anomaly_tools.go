package tools

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/datasleuth/datasleuth/internal/database"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/sqlguard"
)

// DataAnomalyTool scans numeric columns for statistical outliers and sudden
// day-over-day shifts.
type DataAnomalyTool struct {
	db Database
}

func NewDataAnomalyTool(db Database) *DataAnomalyTool {
	return &DataAnomalyTool{db: db}
}

func (t *DataAnomalyTool) Name() string     { return "detect_data_anomalies" }
func (t *DataAnomalyTool) Category() string { return CategoryAnomaly }

func (t *DataAnomalyTool) Description() string {
	return "Detect anomalies, outliers, and unusual patterns in table data. Identifies statistical outliers, data quality issues, and suspicious patterns."
}

func (t *DataAnomalyTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to analyze",
			Required:    true,
		},
		{
			Name:        "column_name",
			Type:        models.ParamString,
			Description: "Name of the column to analyze for anomalies (optional, analyzes all numeric columns if not specified)",
			Required:    false,
		},
		{
			Name:        "anomaly_threshold",
			Type:        models.ParamNumber,
			Description: "Standard deviation threshold for outlier detection",
			Required:    false,
			Default:     2.5,
		},
	}
}

func (t *DataAnomalyTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	columnName := stringArg(args, "column_name", "")
	threshold := floatArg(args, "anomaly_threshold", 2.5)
	if threshold <= 0 {
		threshold = 2.5
	}

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}

	var columns []string
	if columnName != "" {
		if !hasColumn(tbl, columnName) {
			return nil, nil, fmt.Errorf("column %q not found in table %q", columnName, tableName)
		}
		columns = []string{columnName}
	} else {
		columns = numericColumns(tbl)
	}

	var findings []map[string]any
	dateColumn, hasDate := firstTemporalColumn(tbl)

	for _, col := range columns {
		if f := t.outlierFinding(ctx, tbl.Name, col, threshold); f != nil {
			findings = append(findings, f)
		}
		if hasDate {
			if f := t.spikeFinding(ctx, tbl.Name, col, dateColumn); f != nil {
				findings = append(findings, f)
			}
		}
	}

	data := map[string]any{
		"table_name":      tbl.Name,
		"anomalies_found": findings,
	}
	meta := map[string]any{
		"total_anomalies":    len(findings),
		"columns_analyzed":   len(columns),
		"severity_breakdown": severityBreakdown(findings),
	}
	return data, meta, nil
}

// outlierFinding runs a z-score scan over a bounded sample of one column.
func (t *DataAnomalyTool) outlierFinding(ctx context.Context, table, column string, threshold float64) map[string]any {
	query := fmt.Sprintf("SELECT %s AS v FROM %s WHERE %s IS NOT NULL LIMIT %d",
		database.QuoteIdent(column), database.QuoteIdent(table), database.QuoteIdent(column), sqlguard.DefaultMaxRows)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return map[string]any{
			"type":        "analysis_error",
			"column":      column,
			"description": fmt.Sprintf("could not analyze column: %v", err),
			"severity":    "low",
		}
	}
	values := columnValues(rows, "v")
	if len(values) < 2 {
		return nil
	}

	m := mean(values)
	sd := stdDev(values)
	if sd == 0 {
		sd = 0.01
	}

	var count int
	var minOutlier, maxOutlier, zSum float64
	for _, v := range values {
		z := (v - m) / sd
		if math.Abs(z) <= threshold {
			continue
		}
		if count == 0 {
			minOutlier, maxOutlier = v, v
		} else {
			minOutlier = math.Min(minOutlier, v)
			maxOutlier = math.Max(maxOutlier, v)
		}
		zSum += math.Abs(z)
		count++
	}
	if count == 0 {
		return nil
	}

	severity := "medium"
	if count >= 10 {
		severity = "high"
	}
	return map[string]any{
		"type":        "statistical_outliers",
		"column":      column,
		"description": fmt.Sprintf("found %d statistical outliers", count),
		"details": map[string]any{
			"outlier_count":     count,
			"min_outlier_value": minOutlier,
			"max_outlier_value": maxOutlier,
			"avg_z_score":       round2(zSum / float64(count)),
			"threshold_used":    threshold,
		},
		"severity": severity,
	}
}

// spikeFinding looks for day-over-day average changes above 200%.
func (t *DataAnomalyTool) spikeFinding(ctx context.Context, table, column, dateColumn string) map[string]any {
	query := fmt.Sprintf(
		"SELECT DATE(%s) AS day, AVG(%s) AS daily_avg FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL "+
			"GROUP BY DATE(%s) HAVING COUNT(*) > 1 ORDER BY day",
		database.QuoteIdent(dateColumn), database.QuoteIdent(column), database.QuoteIdent(table),
		database.QuoteIdent(column), database.QuoteIdent(dateColumn), database.QuoteIdent(dateColumn))
	_, rows, err := t.db.Query(ctx, query)
	if err != nil || len(rows) < 2 {
		return nil
	}

	type spike struct {
		day      string
		value    float64
		previous float64
		ratio    float64
	}
	var spikes []spike
	var prev float64
	var havePrev bool
	for _, row := range rows {
		avg, ok := asFloat(row["daily_avg"])
		if !ok {
			continue
		}
		if havePrev && prev != 0 {
			ratio := math.Abs(avg-prev) / math.Abs(prev)
			if ratio > 2.0 {
				day, _ := row["day"].(string)
				spikes = append(spikes, spike{day: day, value: avg, previous: prev, ratio: ratio})
			}
		}
		prev = avg
		havePrev = true
	}
	if len(spikes) == 0 {
		return nil
	}

	sort.Slice(spikes, func(i, j int) bool { return spikes[i].ratio > spikes[j].ratio })
	if len(spikes) > 5 {
		spikes = spikes[:5]
	}
	detail := make([]map[string]any, 0, len(spikes))
	for _, s := range spikes {
		detail = append(detail, map[string]any{
			"date":           s.day,
			"value":          s.value,
			"previous_value": s.previous,
			"change_ratio":   round2(s.ratio),
		})
	}
	return map[string]any{
		"type":        "temporal_spikes",
		"column":      column,
		"description": fmt.Sprintf("found %d significant day-to-day changes", len(spikes)),
		"details":     map[string]any{"spikes": detail},
		"severity":    "medium",
	}
}

func severityBreakdown(findings []map[string]any) map[string]int {
	breakdown := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, f := range findings {
		if severity, ok := f["severity"].(string); ok {
			breakdown[severity]++
		}
	}
	return breakdown
}

// MetricAnomalyTool flags rows whose metric value falls outside
// mean +/- k*stddev, returning the extreme records themselves.
type MetricAnomalyTool struct {
	db Database
}

func NewMetricAnomalyTool(db Database) *MetricAnomalyTool {
	return &MetricAnomalyTool{db: db}
}

func (t *MetricAnomalyTool) Name() string     { return "detect_metric_anomalies" }
func (t *MetricAnomalyTool) Category() string { return CategoryAnomaly }

func (t *MetricAnomalyTool) Description() string {
	return "Detects unusual values, outliers, and anomalies in any numeric metric column using statistical analysis. Works with any schema - just provide the table name and metric column name."
}

func (t *MetricAnomalyTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to analyze (e.g., 'sales', 'orders')",
			Required:    true,
		},
		{
			Name:        "value_column",
			Type:        models.ParamString,
			Description: "Name of the metric column (e.g., 'revenue', 'amount', 'total')",
			Required:    true,
		},
		{
			Name:        "threshold_multiplier",
			Type:        models.ParamNumber,
			Description: "Standard deviation multiplier for anomaly detection",
			Required:    false,
			Default:     2.0,
		},
	}
}

func (t *MetricAnomalyTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "table_name", "")
	valueColumn := stringArg(args, "value_column", "")
	multiplier := floatArg(args, "threshold_multiplier", 2.0)
	if multiplier <= 0 {
		multiplier = 2.0
	}

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	if !hasColumn(tbl, valueColumn) {
		return nil, nil, fmt.Errorf("column %q not found in table %q", valueColumn, tableName)
	}

	ident := database.QuoteIdent(valueColumn)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s IS NOT NULL AND %s > 0 ORDER BY %s DESC LIMIT %d",
		database.QuoteIdent(tbl.Name), ident, ident, ident, sqlguard.DefaultMaxRows)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no data found in table %q", tableName)
	}

	values := columnValues(rows, valueColumn)
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("insufficient data for statistical analysis, need at least 2 records")
	}

	m := mean(values)
	sd := stdDev(values)
	med := median(values)
	if sd == 0 {
		if m > 0 {
			sd = m * 0.1
		} else {
			sd = 1.0
		}
	}

	upper := m + multiplier*sd
	lower := math.Max(0, m-multiplier*sd)

	var high, low []map[string]any
	for _, row := range rows {
		v, ok := asFloat(row[valueColumn])
		if !ok {
			continue
		}
		entry := map[string]any{
			"record":              row,
			"value":               v,
			"deviation_from_mean": v - m,
			"std_deviations":      round2((v - m) / sd),
		}
		switch {
		case v > upper:
			entry["anomaly_type"] = "high_" + valueColumn
			high = append(high, entry)
		case v < lower && v > 0:
			entry["anomaly_type"] = "low_" + valueColumn
			low = append(low, entry)
		}
	}

	highCount, lowCount := len(high), len(low)
	if len(high) > 10 {
		high = high[:10]
	}
	if len(low) > 10 {
		low = low[:10]
	}

	data := map[string]any{
		"table_analyzed":  tbl.Name,
		"column_analyzed": valueColumn,
		"statistical_summary": map[string]any{
			"mean":            round4(m),
			"median":          med,
			"std_deviation":   round4(sd),
			"upper_threshold": round4(upper),
			"lower_threshold": round4(lower),
			"total_records":   len(rows),
		},
		"anomalies_found": map[string]any{
			"high_values": map[string]any{"count": highCount, "records": high},
			"low_values":  map[string]any{"count": lowCount, "records": low},
		},
		"total_anomalies": highCount + lowCount,
	}
	meta := map[string]any{
		"analysis_type":        "metric_anomaly_detection",
		"threshold_multiplier": multiplier,
		"anomalies_percentage": round2(float64(highCount+lowCount) / float64(len(rows)) * 100),
	}
	return data, meta, nil
}

// CustomerBehaviorTool aggregates transactions per customer and flags
// spending totals outside mean +/- k*stddev plus odd frequency patterns.
type CustomerBehaviorTool struct {
	db Database
}

func NewCustomerBehaviorTool(db Database) *CustomerBehaviorTool {
	return &CustomerBehaviorTool{db: db}
}

func (t *CustomerBehaviorTool) Name() string     { return "detect_customer_behavior_anomalies" }
func (t *CustomerBehaviorTool) Category() string { return CategoryAnomaly }

func (t *CustomerBehaviorTool) Description() string {
	return "Identifies unusual customer purchasing behaviors and transaction patterns. Works with any schema - requires transaction table and customer identifier column."
}

func (t *CustomerBehaviorTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "transaction_table",
			Type:        models.ParamString,
			Description: "Name of the transaction table (e.g., 'sales', 'orders')",
			Required:    true,
		},
		{
			Name:        "customer_id_column",
			Type:        models.ParamString,
			Description: "Name of the customer ID column (e.g., 'customer_id', 'user_id')",
			Required:    true,
		},
		{
			Name:        "value_column",
			Type:        models.ParamString,
			Description: "Name of the value column (e.g., 'revenue', 'amount')",
			Required:    true,
		},
		{
			Name:        "threshold_multiplier",
			Type:        models.ParamNumber,
			Description: "Standard deviation multiplier for anomaly detection",
			Required:    false,
			Default:     2.5,
		},
	}
}

func (t *CustomerBehaviorTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	tableName := stringArg(args, "transaction_table", "")
	customerColumn := stringArg(args, "customer_id_column", "")
	valueColumn := stringArg(args, "value_column", "")
	multiplier := floatArg(args, "threshold_multiplier", 2.5)
	if multiplier <= 0 {
		multiplier = 2.5
	}

	tbl, err := t.db.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	for _, col := range []string{customerColumn, valueColumn} {
		if !hasColumn(tbl, col) {
			return nil, nil, fmt.Errorf("column %q not found in table %q", col, tableName)
		}
	}

	customer := database.QuoteIdent(customerColumn)
	value := database.QuoteIdent(valueColumn)
	query := fmt.Sprintf(
		"SELECT %s AS customer_id, COUNT(*) AS transaction_count, SUM(%s) AS total_value, "+
			"AVG(%s) AS avg_value, MIN(%s) AS min_value, MAX(%s) AS max_value "+
			"FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY total_value DESC LIMIT %d",
		customer, value, value, value, value,
		database.QuoteIdent(tbl.Name), value, customer, sqlguard.DefaultMaxRows)
	_, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no customer data found in table %q", tableName)
	}

	totals := columnValues(rows, "total_value")
	if len(totals) < 2 {
		return nil, nil, fmt.Errorf("insufficient data for statistical analysis, need at least 2 customers")
	}

	m := mean(totals)
	sd := stdDev(totals)
	if sd == 0 {
		if m > 0 {
			sd = m * 0.1
		} else {
			sd = 1.0
		}
	}
	upper := m + multiplier*sd
	lower := math.Max(0, m-multiplier*sd)

	var highValue, unusualFrequency []map[string]any
	for _, row := range rows {
		total, ok := asFloat(row["total_value"])
		if !ok {
			continue
		}
		count, _ := asFloat(row["transaction_count"])

		if total > upper {
			highValue = append(highValue, map[string]any{
				"customer_id":         row["customer_id"],
				"total_value":         total,
				"transaction_count":   int64(count),
				"deviation_from_mean": round2(total - m),
				"std_deviations":      round2((total - m) / sd),
			})
		}

		perTransaction := 0.0
		if count > 0 {
			perTransaction = total / count
		}
		switch {
		case count > 10 && total < m*0.5:
			unusualFrequency = append(unusualFrequency, map[string]any{
				"customer_id":         row["customer_id"],
				"total_value":         total,
				"transaction_count":   int64(count),
				"avg_per_transaction": round2(perTransaction),
				"pattern":             "high_frequency_low_value",
			})
		case count < 2 && total > m*1.5:
			unusualFrequency = append(unusualFrequency, map[string]any{
				"customer_id":         row["customer_id"],
				"total_value":         total,
				"transaction_count":   int64(count),
				"avg_per_transaction": round2(perTransaction),
				"pattern":             "low_frequency_high_value",
			})
		}
	}

	highCount, freqCount := len(highValue), len(unusualFrequency)
	if len(highValue) > 10 {
		highValue = highValue[:10]
	}
	if len(unusualFrequency) > 10 {
		unusualFrequency = unusualFrequency[:10]
	}

	data := map[string]any{
		"table_analyzed":  tbl.Name,
		"customer_column": customerColumn,
		"value_column":    valueColumn,
		"statistical_summary": map[string]any{
			"mean_customer_value": round4(m),
			"std_deviation":       round4(sd),
			"upper_threshold":     round4(upper),
			"lower_threshold":     round4(lower),
			"total_customers":     len(rows),
		},
		"anomalies_found": map[string]any{
			"high_value_customers": map[string]any{
				"count":   highCount,
				"records": highValue,
			},
			"unusual_frequency_patterns": map[string]any{
				"count":   freqCount,
				"records": unusualFrequency,
			},
		},
		"total_anomalies": highCount + freqCount,
	}
	meta := map[string]any{
		"analysis_type":        "customer_behavior_anomaly_detection",
		"threshold_multiplier": multiplier,
	}
	return data, meta, nil
}
