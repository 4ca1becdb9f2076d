// mock-model is a local stand-in for the Gemini generateContent endpoint.
// It walks a short scripted investigation: schema first, one query, then a
// concluding narrative, and can simulate quota errors via MOCK_MODEL_429.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var calls atomic.Int64

func main() {
	// MOCK_MODEL_429=2 makes the first two calls fail with a quota error.
	rateLimited, _ := strconv.Atoi(os.Getenv("MOCK_MODEL_429"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		n := calls.Add(1)
		if n <= int64(rateLimited) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{
					"code":    429,
					"message": "Resource exhausted, please retry in 2.0s",
					"status":  "RESOURCE_EXHAUSTED",
				},
			})
			return
		}

		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		prompt := ""
		if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
			prompt = req.Contents[0].Parts[0].Text
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": scriptedParts(prompt)}},
			},
		})
	})

	logger := log.New(log.Writer(), "model-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// scriptedParts picks the next move from the prompt contents: call the
// schema tool when nothing ran yet, one aggregate query after the schema is
// in, and a conclusion once a query result is visible.
func scriptedParts(prompt string) []map[string]any {
	switch {
	case strings.Contains(prompt, "INVESTIGATION FINDINGS"):
		return []map[string]any{
			{"text": "Summary: the mock investigation gathered a schema snapshot and one aggregate. Recommendation: point datasleuth at a real model service for deeper analysis."},
		}
	case strings.Contains(prompt, "Tool execute_sql_query executed"):
		return []map[string]any{
			{"text": "Conclusion: the largest table dominates row counts. Recommendation: add an index on its timestamp column before heavier analysis."},
		}
	case strings.Contains(prompt, "Tool get_database_schema executed"):
		return []map[string]any{
			{"functionCall": map[string]any{
				"name": "execute_sql_query",
				"args": map[string]any{
					"sql": "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
				},
			}},
		}
	default:
		return []map[string]any{
			{"functionCall": map[string]any{
				"name": "get_database_schema",
				"args": map[string]any{},
			}},
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
