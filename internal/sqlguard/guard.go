// Package sqlguard validates and rewrites free-form SQL before it may touch
// the database. It is a conservative allow-read/deny-write gate, not a
// parser: statements are rejected on ambiguity rather than interpreted.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxRows caps result sizes when callers do not configure a limit.
const DefaultMaxRows = 1000

// denylist rejects any statement containing one of these as a whole word,
// even inside subqueries or CTE bodies.
var denylist = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE",
	"TRUNCATE", "REPLACE", "MERGE", "EXEC", "EXECUTE", "CALL",
	"DECLARE", "SET", "GRANT", "REVOKE",
}

var (
	lineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	denyRe         = regexp.MustCompile(`\b(?:` + strings.Join(denylist, "|") + `)\b`)
	limitRe        = regexp.MustCompile(`(?i)\bLIMIT\b`)
	orderByRe      = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	orderTailRe    = regexp.MustCompile(`(?is)(ORDER\s+BY.*?)(;|$)`)
)

// IsSafe reports whether the statement is a read-only query. Comments are
// stripped first so keywords cannot hide inside them, the cleaned text must
// begin with SELECT or WITH, and no denylisted keyword may appear anywhere
// as a whole word.
func IsSafe(query string) bool {
	cleaned := lineCommentRe.ReplaceAllString(query, "")
	cleaned = blockCommentRe.ReplaceAllString(cleaned, "")
	upper := strings.ToUpper(strings.TrimSpace(cleaned))

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return false
	}
	return !denyRe.MatchString(upper)
}

// AddLimit injects a LIMIT clause when none is present. When the statement
// carries an ORDER BY, the limit is placed after it so ordering is applied
// before truncation; otherwise the limit is appended at the end, replacing a
// trailing terminator. Statements that already contain a LIMIT are returned
// unchanged, which makes the rewrite idempotent.
func AddLimit(query string, maxRows int) string {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if limitRe.MatchString(query) {
		return query
	}

	if orderByRe.MatchString(query) {
		return orderTailRe.ReplaceAllString(query, fmt.Sprintf("${1} LIMIT %d${2}", maxRows))
	}

	trimmed := strings.TrimRight(query, "; \t\r\n")
	return fmt.Sprintf("%s LIMIT %d;", trimmed, maxRows)
}
