package api

import "errors"

// Errors
var (
	ErrCircuitOpen = errors.New("backend circuit open")
	ErrEmptyQuery  = errors.New("query text is required")
	ErrNoItems     = errors.New("no knowledge items to import")
)

// QueryRequest for POST /api/query
type QueryRequest struct {
	Query            string         `json:"query"`
	Context          map[string]any `json:"context,omitempty"`
	IncludeReasoning bool           `json:"include_reasoning,omitempty"`
}

// QueryResult from POST /api/query
type QueryResult struct {
	QueryID        string          `json:"query_id"`
	Response       string          `json:"response"`
	Confidence     float64         `json:"confidence"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps,omitempty"`
	ProcessingTime float64         `json:"processing_time,omitempty"` // seconds
}

// ReasoningStep is one step of the trace returned with a query result.
type ReasoningStep struct {
	Step        int     `json:"step"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// KnowledgeItem is one entry of the knowledge store.
type KnowledgeItem struct {
	ID         string   `json:"id,omitempty"`
	Concept    string   `json:"concept"`
	Content    string   `json:"content,omitempty"`
	Category   string   `json:"category,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Relations  []string `json:"relations,omitempty"`
}

// ImportRequest for POST /api/knowledge/import
type ImportRequest struct {
	Items []KnowledgeItem `json:"items"`
}

// ImportResult from POST /api/knowledge/import
type ImportResult struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// SearchResponse from GET /api/knowledge/search
type SearchResponse struct {
	Results []KnowledgeItem `json:"results"`
	Total   int             `json:"total"`
}

// HealthStatus from GET /api/health
type HealthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
	Timestamp  float64           `json:"timestamp,omitempty"`
}

// Healthy reports whether the backend declared itself healthy.
func (h *HealthStatus) Healthy() bool {
	return h.Status == "healthy" || h.Status == "ok"
}
