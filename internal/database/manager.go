// Package database provides read-only access to the inspected dataset.
// Every query checks a connection out of the pool for its own duration so
// no session holds database resources across model calls or pacing sleeps.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datasleuth/datasleuth/internal/models"
)

// ErrUnreachable marks infrastructure-level failures (cannot reach the
// database at all) as opposed to query-content errors.
var ErrUnreachable = errors.New("database unreachable")

// openDB is a seam for tests.
var openDB = sql.Open

// Manager owns the connection pool for the inspected database.
type Manager struct {
	db *sql.DB
}

// NewManager opens the sqlite database at the given DSN.
func NewManager(dsn string) (*Manager, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Manager{db: db}, nil
}

// Ping verifies connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Close releases the pool.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Query runs one read-only statement on a dedicated connection and returns
// the column order plus one map per row. Values are normalised to
// JSON-friendly kinds (byte slices become strings, timestamps RFC3339).
func (m *Manager) Query(ctx context.Context, query string, args ...any) ([]string, []map[string]any, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out []map[string]any
	values := make([]any, len(cols))
	scans := make([]any, len(cols))
	for i := range values {
		scans[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scans...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalise(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return cols, out, nil
}

// Snapshot introspects the database structure: user tables, their columns,
// foreign keys, and row counts.
func (m *Manager) Snapshot(ctx context.Context) (models.DatabaseSchema, error) {
	_, tables, err := m.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return models.DatabaseSchema{}, fmt.Errorf("list tables: %w", err)
	}

	schema := models.DatabaseSchema{}
	for _, row := range tables {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		table, err := m.describeTable(ctx, name)
		if err != nil {
			return models.DatabaseSchema{}, err
		}
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

// DescribeTable introspects a single table by name.
func (m *Manager) DescribeTable(ctx context.Context, name string) (models.TableSchema, error) {
	ok, err := m.tableExists(ctx, name)
	if err != nil {
		return models.TableSchema{}, err
	}
	if !ok {
		return models.TableSchema{}, fmt.Errorf("table %q does not exist", name)
	}
	return m.describeTable(ctx, name)
}

// TableExists reports whether a user table with the given name exists.
// Tool code uses it to validate identifiers before interpolating them.
func (m *Manager) TableExists(ctx context.Context, name string) (bool, error) {
	return m.tableExists(ctx, name)
}

func (m *Manager) tableExists(ctx context.Context, name string) (bool, error) {
	_, rows, err := m.Query(ctx,
		`SELECT 1 AS present FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (m *Manager) describeTable(ctx context.Context, name string) (models.TableSchema, error) {
	table := models.TableSchema{Name: name}

	_, cols, err := m.Query(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return models.TableSchema{}, fmt.Errorf("describe %s: %w", name, err)
	}
	for _, c := range cols {
		table.Columns = append(table.Columns, models.ColumnSchema{
			Name:       asString(c["name"]),
			Type:       asString(c["type"]),
			Nullable:   asInt64(c["notnull"]) == 0,
			PrimaryKey: asInt64(c["pk"]) > 0,
		})
	}

	_, fks, err := m.Query(ctx,
		`SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, name)
	if err != nil {
		return models.TableSchema{}, fmt.Errorf("foreign keys of %s: %w", name, err)
	}
	for _, fk := range fks {
		table.ForeignKeys = append(table.ForeignKeys, models.ForeignKey{
			Column:    asString(fk["from"]),
			RefTable:  asString(fk["table"]),
			RefColumn: asString(fk["to"]),
		})
	}

	_, counts, err := m.Query(ctx, fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s`, QuoteIdent(name)))
	if err != nil {
		return models.TableSchema{}, fmt.Errorf("count %s: %w", name, err)
	}
	if len(counts) == 1 {
		table.RowCount = asInt64(counts[0]["n"])
	}
	return table, nil
}

// QuoteIdent renders an identifier safely for interpolation into SQL text.
// Callers must still confirm the identifier refers to a real table or
// column; quoting only prevents the text from escaping the identifier
// position.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func normalise(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
