// Package memory keeps a bounded record of completed investigations plus a
// short-lived schema snapshot so follow-up questions can reuse context
// without re-reading the database.
package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/datasleuth/datasleuth/internal/models"
)

const (
	// DefaultCapacity bounds the exchange ring buffer.
	DefaultCapacity = 5
	// DefaultSchemaTTL is how long a cached schema snapshot stays fresh.
	DefaultSchemaTTL = 5 * time.Minute
)

// Memory is a fixed-capacity FIFO buffer of conversation exchanges with an
// attached schema cache. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	exchanges []models.ConversationExchange

	schema    *models.DatabaseSchema
	schemaAt  time.Time
	schemaTTL time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// New returns a Memory holding at most capacity exchanges. Non-positive
// capacity or TTL fall back to the defaults; a nil logger falls back to
// slog.Default().
func New(capacity int, schemaTTL time.Duration, logger *slog.Logger) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if schemaTTL <= 0 {
		schemaTTL = DefaultSchemaTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		capacity:  capacity,
		exchanges: make([]models.ConversationExchange, 0, capacity),
		schemaTTL: schemaTTL,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// AddExchange appends a completed exchange, evicting the oldest entry when
// the buffer is at capacity.
func (m *Memory) AddExchange(ex models.ConversationExchange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = m.now()
	}
	if len(m.exchanges) >= m.capacity {
		drop := len(m.exchanges) - m.capacity + 1
		m.exchanges = append(m.exchanges[:0], m.exchanges[drop:]...)
	}
	m.exchanges = append(m.exchanges, ex)
	m.logger.Debug("exchange stored", "buffered", len(m.exchanges), "capacity", m.capacity)
}

// Recent returns up to n of the most recent exchanges in chronological order.
func (m *Memory) Recent(n int) []models.ConversationExchange {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || len(m.exchanges) == 0 {
		return nil
	}
	if n > len(m.exchanges) {
		n = len(m.exchanges)
	}
	out := make([]models.ConversationExchange, n)
	copy(out, m.exchanges[len(m.exchanges)-n:])
	return out
}

// Last returns the most recent exchange, if any.
func (m *Memory) Last() (models.ConversationExchange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.exchanges) == 0 {
		return models.ConversationExchange{}, false
	}
	return m.exchanges[len(m.exchanges)-1], true
}

// Len reports how many exchanges are currently buffered.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// HasDiscussed reports whether the topic appears in any buffered query or
// response, case-insensitively.
func (m *Memory) HasDiscussed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(topic)
	if needle == "" {
		return false
	}
	for _, ex := range m.exchanges {
		if strings.Contains(strings.ToLower(ex.Query), needle) {
			return true
		}
		if ex.Response != "" && strings.Contains(strings.ToLower(ex.Response), needle) {
			return true
		}
	}
	return false
}

// Search returns buffered exchanges whose query contains any of the given
// keywords, case-insensitively, in chronological order.
func (m *Memory) Search(keywords []string) []models.ConversationExchange {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ConversationExchange
	for _, ex := range m.exchanges {
		q := strings.ToLower(ex.Query)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				out = append(out, ex)
				break
			}
		}
	}
	return out
}

// MentionedTables extracts table names from the SQL stored in buffered
// exchanges by taking the token after each FROM or JOIN keyword. This is a
// best-effort heuristic, not a parser: subqueries, quoting and aliases can
// make it both miss and over-report names. Results are lowercased and
// deduplicated in first-mention order.
func (m *Memory) MentionedTables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var tables []string
	for _, ex := range m.exchanges {
		if ex.SQL == "" {
			continue
		}
		words := strings.Fields(ex.SQL)
		for i, word := range words {
			up := strings.ToUpper(word)
			if (up != "FROM" && up != "JOIN") || i+1 >= len(words) {
				continue
			}
			name := strings.ToLower(strings.Trim(words[i+1], "(),;"))
			if name == "" || strings.HasPrefix(words[i+1], "(") {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				tables = append(tables, name)
			}
		}
	}
	return tables
}

// CacheSchema stores a schema snapshot stamped with the current time.
func (m *Memory) CacheSchema(schema models.DatabaseSchema) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schema = &schema
	m.schemaAt = m.now()
	m.logger.Debug("schema snapshot cached", "tables", len(schema.Tables))
}

// CachedSchema returns the stored snapshot while it is younger than the TTL.
// A stale or absent snapshot reports false, forcing the caller to refetch.
func (m *Memory) CachedSchema() (models.DatabaseSchema, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schema == nil {
		return models.DatabaseSchema{}, false
	}
	if m.now().Sub(m.schemaAt) >= m.schemaTTL {
		return models.DatabaseSchema{}, false
	}
	return *m.schema, true
}

// Clear drops all exchanges and invalidates the schema cache.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exchanges = m.exchanges[:0]
	m.schema = nil
	m.schemaAt = time.Time{}
	m.logger.Debug("memory cleared")
}

// ContextSummary renders up to n recent exchanges as a compact text block
// suitable for inclusion in a planning prompt.
func (m *Memory) ContextSummary(n int) string {
	recent := m.Recent(n)
	if len(recent) == 0 {
		return "No previous conversation context."
	}

	var b strings.Builder
	b.WriteString("## Recent Conversation Context:\n")
	for i, ex := range recent {
		fmt.Fprintf(&b, "\n### Exchange %d:\n", i+1)
		fmt.Fprintf(&b, "User: %s\n", ex.Query)
		if ex.SQL != "" {
			fmt.Fprintf(&b, "SQL Used: %s\n", truncate(ex.SQL, 200))
		}
		if ex.Results != nil {
			fmt.Fprintf(&b, "Results: %d rows, columns %v\n", ex.Results.RowCount, ex.Results.Columns)
		}
		fmt.Fprintf(&b, "Response: %s\n", truncate(ex.Response, 300))
	}
	return b.String()
}

// State summarizes buffer occupancy for health reporting and the
// conversation-context tool.
func (m *Memory) State() map[string]any {
	m.mu.Lock()
	queries := make([]string, 0, len(m.exchanges))
	for _, ex := range m.exchanges {
		queries = append(queries, truncate(ex.Query, 50))
	}
	count := len(m.exchanges)
	capacity := m.capacity
	hasSchema := m.schema != nil
	m.mu.Unlock()

	return map[string]any{
		"exchange_count":   count,
		"capacity":         capacity,
		"has_schema_cache": hasSchema,
		"recent_queries":   queries,
		"tables_discussed": m.MentionedTables(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
