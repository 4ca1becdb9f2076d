// Package tools holds the investigation toolset and the registry that
// validates arguments, executes tools, and records usage.
package tools

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/datasleuth/datasleuth/internal/models"
)

// Tool categories, used to group definitions in prompts and the catalog.
const (
	CategoryDatabase      = "database_discovery"
	CategorySQL           = "sql_execution"
	CategoryAnalysis      = "data_analysis"
	CategoryAnomaly       = "anomaly_detection"
	CategoryInvestigation = "investigation"
	CategoryVisualization = "visualization"
	CategoryMemory        = "memory"
)

// Tool is the contract every registered tool implements. Run receives
// arguments already validated against Parameters and returns a data payload
// plus optional metadata. Failures are reported through the error return and
// converted into a failed ToolResult by the registry.
type Tool interface {
	Name() string
	Category() string
	Description() string
	Parameters() []models.ToolParameter
	Run(ctx context.Context, args map[string]any) (any, map[string]any, error)
}

// Database is the subset of the database manager the tools need.
type Database interface {
	Query(ctx context.Context, query string, args ...any) ([]string, []map[string]any, error)
	Snapshot(ctx context.Context) (models.DatabaseSchema, error)
	DescribeTable(ctx context.Context, name string) (models.TableSchema, error)
	TableExists(ctx context.Context, name string) (bool, error)
}

// ConversationStore is the subset of conversation memory used by the memory
// and schema tools.
type ConversationStore interface {
	Recent(n int) []models.ConversationExchange
	Last() (models.ConversationExchange, bool)
	HasDiscussed(topic string) bool
	Search(keywords []string) []models.ConversationExchange
	MentionedTables() []string
	State() map[string]any
	CacheSchema(schema models.DatabaseSchema)
	CachedSchema() (models.DatabaseSchema, bool)
}

// Definition renders a tool's declared parameters as an MCP tool schema.
func Definition(t Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}
	for _, p := range t.Parameters() {
		var propOpts []mcp.PropertyOption
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		if len(p.Enum) > 0 {
			propOpts = append(propOpts, mcp.Enum(p.Enum...))
		}
		switch p.Type {
		case models.ParamInteger, models.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case models.ParamBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		case models.ParamArray:
			opts = append(opts, mcp.WithArray(p.Name, propOpts...))
		case models.ParamObject:
			opts = append(opts, mcp.WithObject(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(t.Name(), opts...)
}

// Argument accessors. Validated argument maps come from JSON decoding, so
// numbers usually arrive as float64.

func stringArg(args map[string]any, name, fallback string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatArg(args map[string]any, name string, fallback float64) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func boolArg(args map[string]any, name string, fallback bool) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
