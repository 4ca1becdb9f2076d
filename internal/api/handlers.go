// Package api exposes the investigation service over HTTP: a streamed
// investigation endpoint, the one-shot query path, the tool catalog, and
// health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/datasleuth/datasleuth/internal/engine"
	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/tools"
)

// InvestigationAPI is the slice of the service layer the handlers call.
type InvestigationAPI interface {
	Investigate(ctx context.Context, query string, sink engine.StepSink) (models.InvestigationResult, error)
	Query(ctx context.Context, query string) (models.QueryResponse, error)
	Health(ctx context.Context) map[string]string
}

// ToolCatalog lists registered tools for the catalog endpoint.
type ToolCatalog interface {
	Names() []string
	Get(name string) (tools.Tool, bool)
}

// Handler bundles the HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service InvestigationAPI
	catalog ToolCatalog
}

// NewHandler constructs the endpoint set. A nil logger falls back to
// slog.Default().
func NewHandler(logger *slog.Logger, service InvestigationAPI, catalog ToolCatalog) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, catalog: catalog}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/investigate", h.handleInvestigate)
	mux.HandleFunc("/api/v1/query", h.handleQuery)
	mux.HandleFunc("/api/v1/tools", h.handleTools)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

// handleInvestigate streams investigation steps as server-sent events and
// finishes with a result event carrying the summary and narrative.
func (h *Handler) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req models.InvestigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(step models.InvestigationStep) {
		writeEvent(w, "step", step)
		flusher.Flush()
	}

	result, err := h.service.Investigate(r.Context(), req.Query, sink)
	if err != nil {
		writeEvent(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}

	// Steps were already streamed; the final event carries everything else.
	writeEvent(w, "result", struct {
		Query         string                      `json:"query"`
		Summary       models.InvestigationSummary `json:"summary"`
		Narrative     string                      `json:"narrative"`
		Visualization string                      `json:"visualization,omitempty"`
		ElapsedMS     float64                     `json:"elapsed_ms"`
	}{
		Query:         result.Query,
		Summary:       result.Summary,
		Narrative:     result.Narrative,
		Visualization: result.Visualization,
		ElapsedMS:     result.ElapsedMS,
	})
	flusher.Flush()
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.service.Query(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("one-shot query failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	entries := make([]models.ToolCatalogEntry, 0)
	for _, name := range h.catalog.Names() {
		t, ok := h.catalog.Get(name)
		if !ok {
			continue
		}
		entries = append(entries, models.ToolCatalogEntry{
			Name:        t.Name(),
			Category:    t.Category(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": entries,
		"count": len(entries),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health(r.Context())
	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
