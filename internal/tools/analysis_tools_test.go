package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/datasleuth/datasleuth/internal/models"
)

// scriptedDB serves a fixed table schema and a queue of query results, one
// result per Query call, for tools that issue several distinct statements.
type scriptedDB struct {
	table   models.TableSchema
	results []scriptedResult
	queries []string
}

type scriptedResult struct {
	columns []string
	rows    []map[string]any
}

func (s *scriptedDB) Query(_ context.Context, query string, _ ...any) ([]string, []map[string]any, error) {
	s.queries = append(s.queries, query)
	if len(s.results) == 0 {
		return nil, nil, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.columns, next.rows, nil
}

func (s *scriptedDB) Snapshot(context.Context) (models.DatabaseSchema, error) {
	return models.DatabaseSchema{Tables: []models.TableSchema{s.table}}, nil
}

func (s *scriptedDB) DescribeTable(_ context.Context, _ string) (models.TableSchema, error) {
	return s.table, nil
}

func (s *scriptedDB) TableExists(_ context.Context, name string) (bool, error) {
	return strings.EqualFold(name, s.table.Name), nil
}

func TestDataQualityToolGradesColumnsAndCollectsIssues(t *testing.T) {
	db := &scriptedDB{
		table: models.TableSchema{
			Name: "orders",
			Columns: []models.ColumnSchema{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "email", Type: "TEXT", Nullable: true},
				{Name: "created_at", Type: "TEXT", Nullable: true},
				{Name: "amount", Type: "REAL"},
			},
		},
		results: []scriptedResult{
			{rows: []map[string]any{{"total_rows": int64(100)}}},
			{rows: []map[string]any{{"non_null": int64(100), "distinct_count": int64(100), "negative_count": int64(0), "zero_count": int64(0)}}},
			{rows: []map[string]any{{"non_null": int64(90), "distinct_count": int64(85), "empty_count": int64(3)}}},
			{rows: []map[string]any{{"non_null": int64(100), "distinct_count": int64(60), "future_count": int64(2)}}},
			{rows: []map[string]any{{"non_null": int64(95), "distinct_count": int64(80), "negative_count": int64(5), "zero_count": int64(10)}}},
		},
	}
	tool := NewDataQualityTool(db)

	data, meta, err := tool.Run(context.Background(), map[string]any{
		"table_name": "orders",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// One row-count query plus one check query per column.
	if len(db.queries) != 5 {
		t.Fatalf("issued %d queries: %v", len(db.queries), db.queries)
	}

	payload := data.(map[string]any)
	if payload["columns_analyzed"] != 4 || payload["total_rows"] != int64(100) {
		t.Fatalf("payload = %v", payload)
	}
	if payload["quality_grade"] != "Excellent" {
		t.Fatalf("quality_grade = %v (score %v)", payload["quality_grade"], payload["overall_score"])
	}

	// Empty emails and future dates are medium issues; nulls in the
	// non-nullable amount column are high.
	issues := payload["quality_issues"].([]map[string]any)
	if len(issues) != 3 {
		t.Fatalf("quality_issues = %v", issues)
	}
	summary := payload["summary"].(map[string]any)
	if summary["high_severity_issues"] != 1 || summary["medium_severity_issues"] != 2 {
		t.Fatalf("summary = %v", summary)
	}

	columns := payload["column_quality"].([]map[string]any)
	email := columns[1]
	if email["column_name"] != "email" {
		t.Fatalf("column order = %v", columns)
	}
	textValidity := email["text_validity"].(map[string]any)
	if textValidity["empty_string_count"] != int64(3) {
		t.Fatalf("text_validity = %v", textValidity)
	}
	dateValidity := columns[2]["date_validity"].(map[string]any)
	if dateValidity["future_date_count"] != int64(2) {
		t.Fatalf("date_validity = %v", dateValidity)
	}

	if meta["total_issues"] != 3 || meta["quality_grade"] != "Excellent" {
		t.Fatalf("meta = %v", meta)
	}
}

func TestDataQualityToolRejectsEmptyTable(t *testing.T) {
	db := &scriptedDB{table: models.TableSchema{Name: "ghost"}}
	tool := NewDataQualityTool(db)

	if _, _, err := tool.Run(context.Background(), map[string]any{
		"table_name": "ghost",
	}); err == nil || !strings.Contains(err.Error(), "no columns") {
		t.Fatalf("err = %v, want no-columns rejection", err)
	}
}
