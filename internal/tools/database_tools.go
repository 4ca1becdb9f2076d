package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/datasleuth/datasleuth/internal/database"
	"github.com/datasleuth/datasleuth/internal/models"
)

// SchemaTool exposes the full database structure, serving from the
// conversation memory's schema cache when the snapshot is still fresh.
type SchemaTool struct {
	db    Database
	store ConversationStore
}

func NewSchemaTool(db Database, store ConversationStore) *SchemaTool {
	return &SchemaTool{db: db, store: store}
}

func (t *SchemaTool) Name() string     { return "get_database_schema" }
func (t *SchemaTool) Category() string { return CategoryDatabase }

func (t *SchemaTool) Description() string {
	return "Get comprehensive database schema including all tables, columns, data types, and relationships. Essential for understanding any database structure."
}

func (t *SchemaTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "refresh",
			Type:        models.ParamBoolean,
			Description: "Bypass the cached schema snapshot and re-read from the database",
			Required:    false,
			Default:     false,
		},
	}
}

func (t *SchemaTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	refresh := boolArg(args, "refresh", false)

	var schema models.DatabaseSchema
	cacheState := "miss"
	if cached, ok := t.store.CachedSchema(); ok && !refresh {
		schema = cached
		cacheState = "hit"
	} else {
		fetched, err := t.db.Snapshot(ctx)
		if err != nil {
			return nil, nil, err
		}
		schema = fetched
		t.store.CacheSchema(schema)
	}

	tables := make([]map[string]any, 0, len(schema.Tables))
	var relationships []map[string]any
	for _, tbl := range schema.Tables {
		tables = append(tables, tableInfo(tbl))
		for _, fk := range tbl.ForeignKeys {
			relationships = append(relationships, map[string]any{
				"from_table":  tbl.Name,
				"from_column": fk.Column,
				"to_table":    fk.RefTable,
				"to_column":   fk.RefColumn,
			})
		}
	}

	data := map[string]any{
		"tables":        tables,
		"relationships": relationships,
		"total_tables":  len(tables),
	}
	meta := map[string]any{
		"total_tables":        len(tables),
		"total_relationships": len(relationships),
		"schema_cache":        cacheState,
	}
	return data, meta, nil
}

// TableDetailTool describes one table, optionally with sample rows.
type TableDetailTool struct {
	db Database
}

func NewTableDetailTool(db Database) *TableDetailTool {
	return &TableDetailTool{db: db}
}

func (t *TableDetailTool) Name() string     { return "describe_table" }
func (t *TableDetailTool) Category() string { return CategoryDatabase }

func (t *TableDetailTool) Description() string {
	return "Get detailed information about a specific table including columns, keys, row count, and sample data. Use this to understand table structure and content."
}

func (t *TableDetailTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to describe",
			Required:    true,
		},
		{
			Name:        "include_sample_data",
			Type:        models.ParamBoolean,
			Description: "Whether to include sample rows from the table",
			Required:    false,
			Default:     true,
		},
		{
			Name:        "sample_size",
			Type:        models.ParamInteger,
			Description: "Number of sample rows to return",
			Required:    false,
			Default:     5,
		},
	}
}

func (t *TableDetailTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	name := stringArg(args, "table_name", "")
	includeSample := boolArg(args, "include_sample_data", true)
	sampleSize := intArg(args, "sample_size", 5)

	tbl, err := t.db.DescribeTable(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	data := tableInfo(tbl)
	if includeSample && tbl.RowCount > 0 {
		query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", database.QuoteIdent(tbl.Name))
		_, rows, err := t.db.Query(ctx, query, sampleSize)
		if err != nil {
			data["sample_data_error"] = err.Error()
		} else {
			data["sample_data"] = rows
		}
	}

	meta := map[string]any{
		"column_count": len(tbl.Columns),
		"row_count":    tbl.RowCount,
	}
	return data, meta, nil
}

// SampleTool returns filtered sample rows from a table. The assembled query
// always passes through the safety gate before it reaches the database, so
// the free-text filter cannot smuggle in writes.
type SampleTool struct {
	db Database
}

func NewSampleTool(db Database) *SampleTool {
	return &SampleTool{db: db}
}

func (t *SampleTool) Name() string     { return "get_table_sample_data" }
func (t *SampleTool) Category() string { return CategoryDatabase }

func (t *SampleTool) Description() string {
	return "Get sample rows from a table to understand the actual data content and patterns. Useful for data exploration and understanding value formats."
}

func (t *SampleTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to sample",
			Required:    true,
		},
		{
			Name:        "limit",
			Type:        models.ParamInteger,
			Description: "Number of sample rows to return",
			Required:    false,
			Default:     10,
		},
		{
			Name:        "columns",
			Type:        models.ParamString,
			Description: "Comma-separated list of specific columns to include (optional)",
			Required:    false,
		},
		{
			Name:        "where_clause",
			Type:        models.ParamString,
			Description: "Optional WHERE clause to filter sample data",
			Required:    false,
		},
	}
}

func (t *SampleTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	name := stringArg(args, "table_name", "")
	limit := intArg(args, "limit", 10)
	columnList := stringArg(args, "columns", "")
	whereClause := strings.TrimSpace(stringArg(args, "where_clause", ""))

	tbl, err := t.db.DescribeTable(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	selected := "*"
	var selectedNames []string
	if columnList != "" {
		quoted := make([]string, 0, 4)
		for _, raw := range strings.Split(columnList, ",") {
			col := strings.TrimSpace(raw)
			if col == "" {
				continue
			}
			if !hasColumn(tbl, col) {
				return nil, nil, fmt.Errorf("column %q not found in table %q", col, name)
			}
			quoted = append(quoted, database.QuoteIdent(col))
			selectedNames = append(selectedNames, col)
		}
		if len(quoted) == 0 {
			return nil, nil, fmt.Errorf("no valid columns in %q", columnList)
		}
		selected = strings.Join(quoted, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selected, database.QuoteIdent(tbl.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	if err := checkSafe(query); err != nil {
		return nil, nil, err
	}
	query = withLimit(query, limit)

	cols, rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(selectedNames) == 0 {
		selectedNames = cols
	}

	data := map[string]any{
		"table_name":  tbl.Name,
		"sample_data": rows,
		"columns":     selectedNames,
		"row_count":   len(rows),
	}
	meta := map[string]any{
		"query_executed": query,
		"rows_returned":  len(rows),
	}
	return data, meta, nil
}

// TableSizeTool profiles a table's volume: exact row count plus per-column
// cardinality and null fractions.
type TableSizeTool struct {
	db Database
}

func NewTableSizeTool(db Database) *TableSizeTool {
	return &TableSizeTool{db: db}
}

func (t *TableSizeTool) Name() string     { return "estimate_table_size" }
func (t *TableSizeTool) Category() string { return CategoryDatabase }

func (t *TableSizeTool) Description() string {
	return "Get table size estimates including row count and per-column cardinality. Useful for understanding data volume and query planning."
}

func (t *TableSizeTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "table_name",
			Type:        models.ParamString,
			Description: "Name of the table to analyze",
			Required:    true,
		},
	}
}

func (t *TableSizeTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	name := stringArg(args, "table_name", "")

	tbl, err := t.db.DescribeTable(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	profiles := make([]map[string]any, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		ident := database.QuoteIdent(col.Name)
		query := fmt.Sprintf(
			"SELECT COUNT(%s) AS non_null, COUNT(DISTINCT %s) AS distinct_values FROM %s",
			ident, ident, database.QuoteIdent(tbl.Name))
		_, rows, err := t.db.Query(ctx, query)
		if err != nil || len(rows) == 0 {
			continue
		}
		nonNull, _ := asFloat(rows[0]["non_null"])
		distinct, _ := asFloat(rows[0]["distinct_values"])
		nullCount := float64(tbl.RowCount) - nonNull
		profile := map[string]any{
			"column":          col.Name,
			"type":            col.Type,
			"distinct_values": int64(distinct),
			"null_count":      int64(nullCount),
		}
		if tbl.RowCount > 0 {
			profile["null_fraction"] = round4(nullCount / float64(tbl.RowCount))
		}
		profiles = append(profiles, profile)
	}

	data := map[string]any{
		"table_name":      tbl.Name,
		"row_count":       tbl.RowCount,
		"column_profiles": profiles,
	}
	meta := map[string]any{
		"column_count": len(tbl.Columns),
	}
	return data, meta, nil
}

func tableInfo(tbl models.TableSchema) map[string]any {
	columns := make([]map[string]any, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		columns = append(columns, map[string]any{
			"name":        col.Name,
			"type":        col.Type,
			"nullable":    col.Nullable,
			"primary_key": col.PrimaryKey,
		})
	}
	fks := make([]map[string]any, 0, len(tbl.ForeignKeys))
	for _, fk := range tbl.ForeignKeys {
		fks = append(fks, map[string]any{
			"column":            fk.Column,
			"references_table":  fk.RefTable,
			"references_column": fk.RefColumn,
		})
	}
	return map[string]any{
		"table_name":   tbl.Name,
		"columns":      columns,
		"foreign_keys": fks,
		"row_count":    tbl.RowCount,
	}
}

func hasColumn(tbl models.TableSchema, name string) bool {
	for _, col := range tbl.Columns {
		if strings.EqualFold(col.Name, name) {
			return true
		}
	}
	return false
}
