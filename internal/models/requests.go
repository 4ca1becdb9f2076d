package models

// InvestigateRequest starts a streamed investigation session.
type InvestigateRequest struct {
	Query string `json:"query"`
}

// QueryRequest is the one-shot natural-language query path.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse carries the one-shot path's generated SQL and its rows.
type QueryResponse struct {
	SQL             string               `json:"sql"`
	Explanation     string               `json:"explanation,omitempty"`
	Results         []map[string]any     `json:"results"`
	RowCount        int                  `json:"row_count"`
	ExecutionTimeMS float64              `json:"execution_time_ms"`
	Visualization   *VisualizationConfig `json:"visualization,omitempty"`
}

// ToolCatalogEntry describes one registered tool for the catalog endpoint.
type ToolCatalogEntry struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}
