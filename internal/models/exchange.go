package models

import (
	"fmt"
	"strings"
	"time"
)

// ResultSummary captures the shape of a query result without its rows.
type ResultSummary struct {
	RowCount int      `json:"row_count"`
	Columns  []string `json:"columns,omitempty"`
}

// ConversationExchange is one completed question/answer cycle kept in
// conversation memory.
type ConversationExchange struct {
	Query         string         `json:"query"`
	Response      string         `json:"response"`
	SQL           string         `json:"sql,omitempty"`
	Results       *ResultSummary `json:"results,omitempty"`
	Visualization string         `json:"visualization,omitempty"`
	ToolsUsed     []string       `json:"tools_used,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// ForeignKey describes one outgoing reference of a table.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableSchema describes one table of the inspected database.
type TableSchema struct {
	Name        string         `json:"name"`
	Columns     []ColumnSchema `json:"columns"`
	ForeignKeys []ForeignKey   `json:"foreign_keys,omitempty"`
	RowCount    int64          `json:"row_count"`
}

// DatabaseSchema is a snapshot of the inspected database structure.
type DatabaseSchema struct {
	Tables []TableSchema `json:"tables"`
}

// TableNames lists the snapshot's table names in declaration order.
func (s DatabaseSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Render produces a compact textual form of the schema for prompts.
func (s DatabaseSchema) Render() string {
	var b strings.Builder
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "TABLE %s (~%d rows)\n", t.Name, t.RowCount)
		for _, c := range t.Columns {
			marker := ""
			if c.PrimaryKey {
				marker = " PRIMARY KEY"
			}
			fmt.Fprintf(&b, "  %s %s%s\n", c.Name, c.Type, marker)
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  FK %s -> %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
		}
	}
	return b.String()
}

// VisualizationConfig describes the chart suggested for a result set.
type VisualizationConfig struct {
	ChartType  string  `json:"chart_type"`
	XField     string  `json:"x_field,omitempty"`
	YField     string  `json:"y_field,omitempty"`
	Title      string  `json:"title,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}
