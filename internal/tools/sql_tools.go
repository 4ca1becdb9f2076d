package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/sqlguard"
)

// ErrUnsafeQuery marks SQL rejected by the safety gate.
var ErrUnsafeQuery = errors.New("SQL query contains unsafe operations, only SELECT statements are allowed")

// checkSafe applies the safety gate to free-form SQL.
func checkSafe(sql string) error {
	if !sqlguard.IsSafe(sql) {
		return ErrUnsafeQuery
	}
	return nil
}

// withLimit caps a query's result size, clamping the requested limit to the
// global maximum.
func withLimit(sql string, limit int) string {
	if limit <= 0 || limit > sqlguard.DefaultMaxRows {
		limit = sqlguard.DefaultMaxRows
	}
	return sqlguard.AddLimit(sql, limit)
}

// QueryTool executes free-form SELECT queries through the safety gate.
type QueryTool struct {
	db Database
}

func NewQueryTool(db Database) *QueryTool {
	return &QueryTool{db: db}
}

func (t *QueryTool) Name() string     { return "execute_sql_query" }
func (t *QueryTool) Category() string { return CategorySQL }

func (t *QueryTool) Description() string {
	return "Execute SQL SELECT queries safely against the database. Automatically applies safety limits and validates query safety. Use this to get data for analysis."
}

func (t *QueryTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "The SQL SELECT query to execute",
			Required:    true,
		},
		{
			Name:        "limit",
			Type:        models.ParamInteger,
			Description: "Maximum number of rows to return",
			Required:    false,
			Default:     sqlguard.DefaultMaxRows,
		},
	}
}

func (t *QueryTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	limit := intArg(args, "limit", sqlguard.DefaultMaxRows)

	if err := checkSafe(sql); err != nil {
		return nil, nil, err
	}
	safeSQL := withLimit(sql, limit)

	cols, rows, err := t.db.Query(ctx, safeSQL)
	if err != nil {
		return nil, nil, err
	}

	data := map[string]any{
		"sql_executed": safeSQL,
		"columns":      cols,
		"results":      rows,
		"row_count":    len(rows),
	}
	meta := map[string]any{
		"rows_returned": len(rows),
		"query_length":  len(safeSQL),
	}
	return data, meta, nil
}

// ValidateTool checks query safety and syntax without running the query.
// Syntax is verified by asking the database to plan the statement.
type ValidateTool struct {
	db Database
}

func NewValidateTool(db Database) *ValidateTool {
	return &ValidateTool{db: db}
}

func (t *ValidateTool) Name() string     { return "validate_sql_syntax" }
func (t *ValidateTool) Category() string { return CategorySQL }

func (t *ValidateTool) Description() string {
	return "Validate SQL query syntax and safety without executing it. Use this to check queries before execution."
}

func (t *ValidateTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "The SQL query to validate",
			Required:    true,
		},
	}
}

func (t *ValidateTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")

	var validationErrors, warnings, suggestions []string

	isSafe := sqlguard.IsSafe(sql)
	if !isSafe {
		validationErrors = append(validationErrors, ErrUnsafeQuery.Error())
	}

	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		validationErrors = append(validationErrors, "query must start with SELECT or WITH")
	}
	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		validationErrors = append(validationErrors, "unbalanced parentheses in query")
	}
	if strings.Contains(upper, "SELECT *") && !strings.Contains(upper, "LIMIT") {
		warnings = append(warnings, "SELECT * without LIMIT may return large result sets")
	}
	if strings.Contains(upper, "JOIN") && !strings.Contains(upper, " ON ") {
		warnings = append(warnings, "JOIN without ON clause detected, possible Cartesian product")
	}
	if strings.Contains(upper, "ORDER BY") && !strings.Contains(upper, "LIMIT") {
		suggestions = append(suggestions, "consider adding LIMIT when using ORDER BY for better performance")
	}

	syntaxValid := false
	if isSafe {
		if _, _, err := t.db.Query(ctx, "EXPLAIN "+sql); err != nil {
			validationErrors = append(validationErrors, "syntax error: "+err.Error())
		} else {
			syntaxValid = true
		}
	}

	data := map[string]any{
		"sql":               sql,
		"is_safe":           isSafe,
		"syntax_valid":      syntaxValid,
		"validation_errors": validationErrors,
		"warnings":          warnings,
		"suggestions":       suggestions,
	}
	meta := map[string]any{
		"is_valid":        len(validationErrors) == 0,
		"has_warnings":    len(warnings) > 0,
		"has_suggestions": len(suggestions) > 0,
	}
	return data, meta, nil
}

// ExplainPlanTool reports the database's execution plan for a query,
// flagging full table scans and temporary sorting structures.
type ExplainPlanTool struct {
	db Database
}

func NewExplainPlanTool(db Database) *ExplainPlanTool {
	return &ExplainPlanTool{db: db}
}

func (t *ExplainPlanTool) Name() string     { return "explain_query_plan" }
func (t *ExplainPlanTool) Category() string { return CategorySQL }

func (t *ExplainPlanTool) Description() string {
	return "Get detailed execution plan for a SQL query to understand performance characteristics and optimization opportunities."
}

func (t *ExplainPlanTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "The SQL query to analyze",
			Required:    true,
		},
	}
}

func (t *ExplainPlanTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	if err := checkSafe(sql); err != nil {
		return nil, nil, err
	}

	_, rows, err := t.db.Query(ctx, "EXPLAIN QUERY PLAN "+sql)
	if err != nil {
		return nil, nil, err
	}

	var steps []string
	var fullScans []string
	usesTempBTree := false
	for _, row := range rows {
		detail, _ := row["detail"].(string)
		if detail == "" {
			continue
		}
		steps = append(steps, detail)
		if table, ok := fullScanTable(detail); ok {
			fullScans = append(fullScans, table)
		}
		if strings.Contains(strings.ToUpper(detail), "USE TEMP B-TREE") {
			usesTempBTree = true
		}
	}

	var suggestions []string
	for _, table := range fullScans {
		suggestions = append(suggestions,
			fmt.Sprintf("full table scan on %s, consider adding an index on the filtered columns", table))
	}
	if usesTempBTree {
		suggestions = append(suggestions,
			"query sorts or groups through a temporary b-tree, an index on the ordered columns would avoid it")
	}

	data := map[string]any{
		"sql":              sql,
		"plan_steps":       steps,
		"full_scan_tables": fullScans,
		"uses_temp_btree":  usesTempBTree,
		"suggestions":      suggestions,
	}
	meta := map[string]any{
		"plan_step_count": len(steps),
		"full_scan_count": len(fullScans),
	}
	return data, meta, nil
}

// fullScanTable extracts the table name from a plan line describing an
// unindexed scan. Covering-index scans are not full scans.
func fullScanTable(detail string) (string, bool) {
	upper := strings.ToUpper(detail)
	if !strings.HasPrefix(upper, "SCAN ") || strings.Contains(upper, "USING") {
		return "", false
	}
	fields := strings.Fields(detail)
	if len(fields) < 2 {
		return "", false
	}
	name := fields[1]
	// "SCAN TABLE orders" on older plan formats.
	if strings.EqualFold(name, "TABLE") && len(fields) > 2 {
		name = fields[2]
	}
	return name, true
}

// OptimizeTool inspects a query's text and plan and suggests rewrites.
type OptimizeTool struct {
	db Database
}

func NewOptimizeTool(db Database) *OptimizeTool {
	return &OptimizeTool{db: db}
}

func (t *OptimizeTool) Name() string     { return "optimize_query" }
func (t *OptimizeTool) Category() string { return CategorySQL }

func (t *OptimizeTool) Description() string {
	return "Analyze a SQL query and suggest performance optimizations. Provides recommendations for improving query efficiency."
}

func (t *OptimizeTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "The SQL query to optimize",
			Required:    true,
		},
	}
}

func (t *OptimizeTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	upper := strings.ToUpper(sql)

	var suggestions []map[string]any
	add := func(kind, issue, suggestion, impact string) {
		suggestions = append(suggestions, map[string]any{
			"type":       kind,
			"issue":      issue,
			"suggestion": suggestion,
			"impact":     impact,
		})
	}

	if strings.Contains(upper, "SELECT *") {
		add("column_selection",
			"using SELECT * returns all columns",
			"specify only needed columns to reduce data transfer",
			"medium")
	}
	if strings.Contains(upper, "ORDER BY") && !strings.Contains(upper, "LIMIT") {
		add("result_limiting",
			"ORDER BY without LIMIT",
			"add LIMIT clause to prevent sorting large result sets",
			"high")
	}
	if strings.Count(upper, "JOIN") > strings.Count(upper, " ON ") {
		add("cartesian_product",
			"possible Cartesian product, JOIN without proper ON clause",
			"ensure all JOINs have appropriate ON conditions",
			"critical")
	}
	if leadingWildcard.MatchString(sql) {
		add("like_pattern",
			"LIKE patterns starting with % cannot use indexes",
			"anchor the pattern or restructure the query",
			"medium")
	}
	if strings.Contains(upper, "IN (SELECT") || strings.Contains(upper, "IN ( SELECT") {
		add("subquery_optimization",
			"IN with subquery can be slow",
			"consider using EXISTS or JOIN instead",
			"medium")
	}
	if strings.Contains(upper, "DISTINCT") {
		add("distinct_usage",
			"DISTINCT requires sorting or grouping",
			"ensure DISTINCT is necessary, consider GROUP BY if aggregating",
			"low")
	}

	// Plan-backed suggestions only for queries that pass the gate.
	if sqlguard.IsSafe(sql) {
		if _, rows, err := t.db.Query(ctx, "EXPLAIN QUERY PLAN "+sql); err == nil {
			for _, row := range rows {
				detail, _ := row["detail"].(string)
				if table, ok := fullScanTable(detail); ok {
					add("sequential_scan",
						fmt.Sprintf("full table scan on %s", table),
						"consider adding indexes on filtered columns",
						"high")
				}
				if strings.Contains(strings.ToUpper(detail), "USE TEMP B-TREE") {
					add("expensive_sort",
						"sort through a temporary b-tree",
						"consider adding an index on the sorted columns",
						"medium")
				}
			}
		}
	}

	impactRank := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return impactRank[suggestions[i]["impact"].(string)] < impactRank[suggestions[j]["impact"].(string)]
	})

	counts := map[string]int{}
	for _, s := range suggestions {
		counts[s["impact"].(string)]++
	}

	data := map[string]any{
		"sql":                      sql,
		"optimization_suggestions": suggestions,
		"summary": map[string]any{
			"total_suggestions": len(suggestions),
			"critical_issues":   counts["critical"],
			"high_impact":       counts["high"],
			"medium_impact":     counts["medium"],
		},
	}
	meta := map[string]any{
		"suggestions_count":   len(suggestions),
		"has_critical_issues": counts["critical"] > 0,
	}
	return data, meta, nil
}

var leadingWildcard = regexp.MustCompile(`(?i)LIKE\s+['"]%`)
