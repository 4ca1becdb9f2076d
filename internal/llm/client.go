// Package llm is the HTTP client for the external language-understanding
// service. It speaks the generateContent wire format: a prompt plus function
// declarations go in, and zero or more structured call requests or free
// narrative text come out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/datasleuth/datasleuth/internal/utils"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// GenerationConfig bounds the model's output. Zero values fall back to the
// defaults used by DefaultGenerationConfig.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultGenerationConfig keeps responses deterministic and bounded.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.1,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

// FunctionCall is one structured tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response is the decoded outcome of one model call: any requested function
// calls plus any narrative text parts, in the order the model emitted them.
type Response struct {
	Calls []FunctionCall
	Text  string
}

// HasCalls reports whether the model requested at least one tool invocation.
func (r *Response) HasCalls() bool {
	return r != nil && len(r.Calls) > 0
}

// RateLimitError marks a temporary quota rejection by the model service. The
// suggested delay is parsed from the server's message when present.
type RateLimitError struct {
	Message        string
	SuggestedDelay time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("model service rate limited: %s", e.Message)
}

var retryDelayRe = regexp.MustCompile(`retry in (\d+\.?\d*)s`)

// AsRateLimit unwraps err into a RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// looksRateLimited sniffs the service's error text for quota language.
func looksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(msg, "Resource exhausted") ||
		strings.Contains(lower, "resource_exhausted")
}

// parseSuggestedDelay extracts a server-suggested retry delay from error
// text, zero when absent.
func parseSuggestedDelay(msg string) time.Duration {
	m := retryDelayRe.FindStringSubmatch(msg)
	if len(m) != 2 {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Client talks to a generateContent-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	genConfig  GenerationConfig
	httpClient *http.Client
}

// NewClient constructs a client for the configured endpoint. An empty model
// falls back to DefaultModel; a zero generation config falls back to the
// defaults.
func NewClient(baseURL, apiKey, model string, genConfig GenerationConfig, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if genConfig == (GenerationConfig{}) {
		genConfig = DefaultGenerationConfig()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		genConfig:  genConfig,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has an endpoint to talk to.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Wire shapes for the generateContent request and response.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	Tools            []toolSet        `json:"tools,omitempty"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type toolSet struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate submits the prompt plus the callable-operation schemas and decodes
// the model's reply. Quota rejections come back as *RateLimitError so the
// caller can back off and retry.
func (c *Client) Generate(ctx context.Context, prompt string, tools []mcp.Tool) (*Response, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("model client not configured")
	}

	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: c.genConfig,
	}
	if len(tools) > 0 {
		decls := make([]functionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		req.Tools = []toolSet{{FunctionDeclarations: decls}}
	}

	var resp generateResponse
	if err := c.postJSON(ctx, c.generateURL(), req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if looksRateLimited(msg) || resp.Error.Code == http.StatusTooManyRequests {
			return nil, &RateLimitError{Message: msg, SuggestedDelay: parseSuggestedDelay(msg)}
		}
		return nil, fmt.Errorf("model service error: %s", msg)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("model service returned no candidates")
	}

	out := &Response{}
	var texts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			out.Calls = append(out.Calls, FunctionCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

// SQLResult is the one-shot NL-to-SQL generation outcome.
type SQLResult struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

// GenerateSQL asks the model to translate a natural-language question into a
// single SELECT statement for the given schema. The model is instructed to
// reply with JSON; markdown fences are stripped and a line-scan fallback
// recovers the statement when the JSON does not parse.
func (c *Client) GenerateSQL(ctx context.Context, userQuery, schema string) (SQLResult, error) {
	prompt := buildSQLPrompt(userQuery, schema)

	resp, err := c.Generate(ctx, prompt, nil)
	if err != nil {
		return SQLResult{}, err
	}

	cleaned := stripCodeFences(resp.Text)
	var result SQLResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil && result.SQL != "" {
		return result, nil
	}

	sql := extractSQLFallback(cleaned)
	if sql == "" {
		return SQLResult{}, fmt.Errorf("model reply contained no SQL statement")
	}
	return SQLResult{SQL: sql, Explanation: "generated SQL (structured reply parsing failed)"}, nil
}

func buildSQLPrompt(userQuery, schema string) string {
	var b strings.Builder
	b.WriteString("You are an expert data analyst and SQL developer. Convert the user's natural language question into a single valid SQL query for the schema below.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Only generate SELECT queries, never INSERT, UPDATE, DELETE or DROP.\n")
	b.WriteString("2. Use GROUP BY for aggregations and explicit JOIN syntax based on the foreign keys.\n")
	b.WriteString("3. Include ORDER BY and LIMIT when relevant.\n")
	b.WriteString("4. Do not reference tables or columns that are not in the schema.\n\n")
	b.WriteString("Database Schema:\n")
	b.WriteString(schema)
	b.WriteString("\n\nUser Query: \"")
	b.WriteString(userQuery)
	b.WriteString("\"\n\nReturn JSON in this exact format:\n{\"sql\": \"SELECT ...;\", \"explanation\": \"brief reasoning\"}\n")
	return b.String()
}

// stripCodeFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractSQLFallback scans free text for the first SELECT statement, taking
// lines up to one ending in a semicolon.
func extractSQLFallback(text string) string {
	var lines []string
	inSQL := false
	for _, line := range strings.Split(text, "\n") {
		if !inSQL && strings.Contains(strings.ToUpper(line), "SELECT") {
			inSQL = true
		}
		if inSQL {
			lines = append(lines, line)
			if strings.HasSuffix(strings.TrimSpace(line), ";") {
				break
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (c *Client) generateURL() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("llm.post", "model service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		msg := readErrorBody(resp.Body)
		return &RateLimitError{Message: msg, SuggestedDelay: parseSuggestedDelay(msg)}
	}
	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError("llm.post",
			fmt.Sprintf("model service returned %s: %s", resp.Status, readErrorBody(resp.Body)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(body))
}
