package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datasleuth/datasleuth/internal/models"
)

// ContextTool exposes recent conversation memory to the model so follow-up
// questions can reuse earlier findings without re-running database work.
type ContextTool struct {
	store ConversationStore
}

func NewContextTool(store ConversationStore) *ContextTool {
	return &ContextTool{store: store}
}

func (t *ContextTool) Name() string     { return "get_conversation_context" }
func (t *ContextTool) Category() string { return CategoryMemory }

func (t *ContextTool) Description() string {
	return "Retrieve recent conversation history and context from memory. Use this FIRST for follow-up questions, clarifications, or when the user references something discussed earlier, for example 'what about', 'more details on' or 'those results'. This avoids re-running expensive database queries."
}

func (t *ContextTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "num_exchanges",
			Type:        models.ParamInteger,
			Description: "Number of recent exchanges to retrieve (1-5)",
			Required:    false,
			Default:     3,
		},
		{
			Name:        "include_sql",
			Type:        models.ParamBoolean,
			Description: "Include the SQL queries from previous exchanges",
			Required:    false,
			Default:     true,
		},
		{
			Name:        "include_results_summary",
			Type:        models.ParamBoolean,
			Description: "Include result summaries from previous exchanges",
			Required:    false,
			Default:     true,
		},
	}
}

func (t *ContextTool) Run(_ context.Context, args map[string]any) (any, map[string]any, error) {
	n := intArg(args, "num_exchanges", 3)
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	includeSQL := boolArg(args, "include_sql", true)
	includeResults := boolArg(args, "include_results_summary", true)

	exchanges := t.store.Recent(n)
	if len(exchanges) == 0 {
		data := map[string]any{
			"has_context":      false,
			"message":          "No previous conversation context available. This is a fresh conversation.",
			"exchanges":        []map[string]any{},
			"tables_discussed": []string{},
			"memory_state":     t.store.State(),
		}
		return data, nil, nil
	}

	formatted := make([]map[string]any, 0, len(exchanges))
	for i, ex := range exchanges {
		entry := map[string]any{
			"exchange_number":            i + 1,
			"user_query":                 ex.Query,
			"assistant_response_summary": clip(ex.Response, 500),
			"timestamp":                  ex.CreatedAt.Format(time.RFC3339),
		}
		if includeSQL && ex.SQL != "" {
			entry["sql_used"] = ex.SQL
		}
		if includeResults && ex.Results != nil {
			entry["results_summary"] = map[string]any{
				"row_count": ex.Results.RowCount,
				"columns":   ex.Results.Columns,
			}
		}
		if ex.Visualization != "" {
			entry["visualization_used"] = ex.Visualization
		}
		if len(ex.ToolsUsed) > 0 {
			entry["tools_used"] = ex.ToolsUsed
		}
		formatted = append(formatted, entry)
	}

	data := map[string]any{
		"has_context":      true,
		"exchange_count":   len(formatted),
		"exchanges":        formatted,
		"tables_discussed": t.store.MentionedTables(),
		"memory_state":     t.store.State(),
	}
	if last, ok := t.store.Last(); ok {
		data["last_query"] = last.Query
		if last.SQL != "" {
			data["last_sql"] = last.SQL
		}
	}
	meta := map[string]any{
		"exchanges_returned": len(formatted),
	}
	return data, meta, nil
}

// MemorySearchTool scans conversation memory for specific topics.
type MemorySearchTool struct {
	store ConversationStore
}

func NewMemorySearchTool(store ConversationStore) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string     { return "search_conversation_memory" }
func (t *MemorySearchTool) Category() string { return CategoryMemory }

func (t *MemorySearchTool) Description() string {
	return "Search conversation memory for specific keywords or topics. Use this when the user asks about something that may have been discussed before and you need to find the relevant context."
}

func (t *MemorySearchTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "keywords",
			Type:        models.ParamString,
			Description: "Comma-separated keywords to search for in conversation history",
			Required:    true,
		},
	}
}

func (t *MemorySearchTool) Run(_ context.Context, args map[string]any) (any, map[string]any, error) {
	raw := stringArg(args, "keywords", "")
	var keywords []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return nil, nil, fmt.Errorf("no valid keywords provided")
	}

	matches := t.store.Search(keywords)
	results := make([]map[string]any, 0, len(matches))
	for _, ex := range matches {
		entry := map[string]any{
			"user_query":       ex.Query,
			"response_summary": clip(ex.Response, 300),
			"timestamp":        ex.CreatedAt.Format(time.RFC3339),
		}
		if ex.SQL != "" {
			entry["sql_used"] = ex.SQL
		}
		results = append(results, entry)
	}

	topics := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		topics[kw] = t.store.HasDiscussed(kw)
	}

	data := map[string]any{
		"keywords_searched":  keywords,
		"matches_found":      len(results),
		"matching_exchanges": results,
		"topics_in_memory":   topics,
		"tables_discussed":   t.store.MentionedTables(),
	}
	meta := map[string]any{
		"keyword_count": len(keywords),
	}
	return data, meta, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
