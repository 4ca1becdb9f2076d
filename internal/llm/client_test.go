package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(fn roundTripFunc) *http.Client {
	return &http.Client{Transport: fn}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestGenerateDecodesFunctionCallsAndText(t *testing.T) {
	client := NewClient("https://model.example.com", "test-key", "", GenerationConfig{}, time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Fatalf("missing api key header, got %q", got)
		}

		var sent generateRequest
		if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(sent.Tools) != 1 || len(sent.Tools[0].FunctionDeclarations) != 1 {
			t.Fatalf("expected one function declaration, got %+v", sent.Tools)
		}
		if sent.Tools[0].FunctionDeclarations[0].Name != "execute_sql_query" {
			t.Fatalf("unexpected declaration: %+v", sent.Tools[0].FunctionDeclarations[0])
		}

		return jsonResponse(t, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"parts": []map[string]any{
							{"functionCall": map[string]any{
								"name": "execute_sql_query",
								"args": map[string]any{"sql": "SELECT 1"},
							}},
							{"text": "Running a quick check first."},
						},
					},
				},
			},
		}), nil
	})

	tool := mcp.NewTool("execute_sql_query",
		mcp.WithDescription("run a query"),
		mcp.WithString("sql", mcp.Required()),
	)

	resp, err := client.Generate(context.Background(), "inspect the data", []mcp.Tool{tool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].Name != "execute_sql_query" {
		t.Fatalf("unexpected calls: %+v", resp.Calls)
	}
	if resp.Calls[0].Args["sql"] != "SELECT 1" {
		t.Fatalf("unexpected args: %+v", resp.Calls[0].Args)
	}
	if resp.Text != "Running a quick check first." {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestGenerateSurfacesRateLimitWithSuggestedDelay(t *testing.T) {
	client := NewClient("https://model.example.com", "key", "", GenerationConfig{}, time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"code":    429,
				"message": "Resource exhausted, please retry in 5.5s",
				"status":  "RESOURCE_EXHAUSTED",
			},
		}), nil
	})

	_, err := client.Generate(context.Background(), "prompt", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	rle, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rle.SuggestedDelay != 5500*time.Millisecond {
		t.Fatalf("suggested delay = %v, want 5.5s", rle.SuggestedDelay)
	}
}

func TestGenerateRejectsEmptyCandidates(t *testing.T) {
	client := NewClient("https://model.example.com", "key", "", GenerationConfig{}, time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{"candidates": []any{}}), nil
	})

	if _, err := client.Generate(context.Background(), "prompt", nil); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestGenerateSQLParsesJSONReply(t *testing.T) {
	client := NewClient("https://model.example.com", "key", "", GenerationConfig{}, time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		reply := "```json\n{\"sql\": \"SELECT name FROM products LIMIT 10;\", \"explanation\": \"lists product names\"}\n```"
		return jsonResponse(t, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": reply}}}},
			},
		}), nil
	})

	result, err := client.GenerateSQL(context.Background(), "show product names", "TABLE products")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SQL != "SELECT name FROM products LIMIT 10;" {
		t.Fatalf("unexpected sql: %q", result.SQL)
	}
	if result.Explanation != "lists product names" {
		t.Fatalf("unexpected explanation: %q", result.Explanation)
	}
}

func TestGenerateSQLFallsBackToLineScan(t *testing.T) {
	client := NewClient("https://model.example.com", "key", "", GenerationConfig{}, time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		reply := "Here is the query you asked for:\nSELECT COUNT(*) AS n\nFROM sales;\nHope that helps."
		return jsonResponse(t, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": reply}}}},
			},
		}), nil
	})

	result, err := client.GenerateSQL(context.Background(), "how many sales", "TABLE sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.SQL, "SELECT COUNT(*)") || !strings.HasSuffix(result.SQL, ";") {
		t.Fatalf("unexpected fallback sql: %q", result.SQL)
	}
}

func TestParseSuggestedDelay(t *testing.T) {
	if d := parseSuggestedDelay("quota exceeded, retry in 12s"); d != 12*time.Second {
		t.Fatalf("got %v, want 12s", d)
	}
	if d := parseSuggestedDelay("no delay here"); d != 0 {
		t.Fatalf("got %v, want 0", d)
	}
}

func TestStripCodeFences(t *testing.T) {
	if got := stripCodeFences("```sql\nSELECT 1;\n```"); got != "SELECT 1;" {
		t.Fatalf("got %q", got)
	}
	if got := stripCodeFences("plain text"); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}
