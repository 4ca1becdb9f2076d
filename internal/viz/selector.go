// Package viz selects a chart configuration from the shape of a query
// result: column names, value types, and row counts, nudged by the intent
// the query was classified with.
package viz

import (
	"fmt"
	"strings"

	"github.com/datasleuth/datasleuth/internal/models"
)

var dateNameHints = []string{
	"date", "time", "timestamp", "month", "year", "week", "day",
	"created", "updated", "period",
}

var shareNameHints = []string{
	"share", "percent", "ratio", "proportion", "distribution",
}

// Select picks a chart for the result set. suggested is the chart type the
// query classifier leaned toward and is used as a tiebreaker, never as an
// override of the data shape. Results that cannot be charted come back as a
// plain table with the reason attached.
func Select(columns []string, rows []map[string]any, suggested string) models.VisualizationConfig {
	if len(rows) == 0 || len(columns) == 0 {
		return tableConfig("no rows to chart")
	}

	numeric := numericColumns(columns, rows)
	if len(numeric) == 0 {
		return tableConfig("no numeric column found")
	}

	dateCol := firstMatching(columns, dateNameHints)
	category := firstCategorical(columns, rows, numeric)

	switch {
	case dateCol != "" && !isNumericIn(dateCol, numeric):
		return models.VisualizationConfig{
			ChartType:  "line",
			XField:     dateCol,
			YField:     numeric[0],
			Title:      titleFor(numeric[0], dateCol),
			Confidence: 0.9,
			Reasoning:  fmt.Sprintf("column %q is temporal, %q is numeric", dateCol, numeric[0]),
		}

	case category != "" && len(rows) <= 6 && (firstMatching(columns, shareNameHints) != "" || suggested == "pie"):
		return models.VisualizationConfig{
			ChartType:  "pie",
			XField:     category,
			YField:     numeric[0],
			Title:      titleFor(numeric[0], category),
			Confidence: 0.75,
			Reasoning:  fmt.Sprintf("%d categories with share-like values", len(rows)),
		}

	case category == "" && len(numeric) >= 2:
		return models.VisualizationConfig{
			ChartType:  "scatter",
			XField:     numeric[0],
			YField:     numeric[1],
			Title:      titleFor(numeric[1], numeric[0]),
			Confidence: 0.7,
			Reasoning:  "two numeric columns and no category axis",
		}

	case category != "":
		chart := "bar"
		confidence := 0.85
		if suggested == "line" && len(rows) > 12 {
			// Many ordered categories read better as a line.
			chart = "line"
			confidence = 0.65
		}
		return models.VisualizationConfig{
			ChartType:  chart,
			XField:     category,
			YField:     numeric[0],
			Title:      titleFor(numeric[0], category),
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("categorical %q against numeric %q", category, numeric[0]),
		}
	}

	return tableConfig("result shape has no usable axis pair")
}

func tableConfig(reason string) models.VisualizationConfig {
	return models.VisualizationConfig{
		ChartType:  "table",
		Confidence: 1,
		Reasoning:  reason,
	}
}

// numericColumns returns, in column order, every column whose first non-nil
// value is numeric.
func numericColumns(columns []string, rows []map[string]any) []string {
	var numeric []string
	for _, col := range columns {
		if isNumericValue(firstValue(col, rows)) {
			numeric = append(numeric, col)
		}
	}
	return numeric
}

// firstCategorical returns the first column holding string values that is
// not date-like, preferring it as the x axis.
func firstCategorical(columns []string, rows []map[string]any, numeric []string) string {
	for _, col := range columns {
		if isNumericIn(col, numeric) {
			continue
		}
		if matchesAny(col, dateNameHints) {
			continue
		}
		if _, ok := firstValue(col, rows).(string); ok {
			return col
		}
	}
	return ""
}

func firstValue(col string, rows []map[string]any) any {
	for _, row := range rows {
		if v, ok := row[col]; ok && v != nil {
			return v
		}
	}
	return nil
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func isNumericIn(col string, numeric []string) bool {
	for _, n := range numeric {
		if n == col {
			return true
		}
	}
	return false
}

func firstMatching(columns []string, hints []string) string {
	for _, col := range columns {
		if matchesAny(col, hints) {
			return col
		}
	}
	return ""
}

func matchesAny(col string, hints []string) bool {
	lower := strings.ToLower(col)
	for _, h := range hints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

func titleFor(y, x string) string {
	return fmt.Sprintf("%s by %s", humanize(y), humanize(x))
}

func humanize(col string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(col), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
