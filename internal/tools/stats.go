package tools

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/datasleuth/datasleuth/internal/models"
)

// Numeric helpers shared by the analysis and anomaly tools. All operate on
// plain float64 slices extracted from query rows.

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-m, 2)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func median(values []float64) float64 {
	return percentile(values, 0.5)
}

// percentile computes the p-quantile (0..1) by linear interpolation over the
// sorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// pearson computes the Pearson correlation coefficient for paired samples.
// Returns 0 when either side has no variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// asFloat extracts a numeric value from a row cell. Database text columns
// holding numbers are parsed so loosely-typed SQLite data still analyzes.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// columnValues pulls the named column out of rows, keeping only numeric
// values.
func columnValues(rows []map[string]any, column string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if f, ok := asFloat(row[column]); ok {
			out = append(out, f)
		}
	}
	return out
}

// isNumericType reports whether a declared SQLite column type looks numeric.
// SQLite type affinity makes this a substring check, not an exact match.
func isNumericType(declared string) bool {
	up := strings.ToUpper(declared)
	for _, marker := range []string{"INT", "REAL", "FLOA", "DOUB", "NUM", "DEC"} {
		if strings.Contains(up, marker) {
			return true
		}
	}
	return false
}

// isTemporalType reports whether a declared column type or name suggests a
// date or timestamp. SQLite stores dates as TEXT, so the column name is part
// of the heuristic.
func isTemporalType(col models.ColumnSchema) bool {
	up := strings.ToUpper(col.Type)
	if strings.Contains(up, "DATE") || strings.Contains(up, "TIME") {
		return true
	}
	lower := strings.ToLower(col.Name)
	return strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at") || strings.Contains(lower, "time")
}

func numericColumns(tbl models.TableSchema) []string {
	var out []string
	for _, col := range tbl.Columns {
		if isNumericType(col.Type) {
			out = append(out, col.Name)
		}
	}
	return out
}

func firstTemporalColumn(tbl models.TableSchema) (string, bool) {
	for _, col := range tbl.Columns {
		if isTemporalType(col) {
			return col.Name, true
		}
	}
	return "", false
}
