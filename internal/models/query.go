package models

import (
	"fmt"
	"strings"
)

// Confidence levels.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// QueryRequest is an inbound retrieval request. Role is never taken from the client body
// over HTTP; the server fills it from the authentication collaborator.
type QueryRequest struct {
	Query string `json:"query"`
	Role  string `json:"role,omitempty"`
}

// Validate ensures the request carries a query and a role.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	q.Role = strings.TrimSpace(q.Role)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Role == "" {
		return fmt.Errorf("role cannot be empty")
	}
	return nil
}

// ConfidenceFactors is the per-factor breakdown, each in [0,1].
type ConfidenceFactors struct {
	AvgSimilarity float64 `json:"avg_similarity"`
	SourceCount   float64 `json:"source_count"`
	Specificity   float64 `json:"specificity"`
	Recency       float64 `json:"recency"`
}

// ConfidenceReport is the aggregate confidence over one selection.
type ConfidenceReport struct {
	Score   float64           `json:"score"`
	Level   string            `json:"level"`
	Factors ConfidenceFactors `json:"factors"`
	Warning string            `json:"warning,omitempty"`
}

// Citation is one allocated source reference.
type Citation struct {
	Number     int    `json:"number"`
	ChunkID    string `json:"chunk_id"`
	SourceLine string `json:"source_line"`
}

// QueryStats describes the caller-visible outcome of a run.
type QueryStats struct {
	Selected    int   `json:"selected"`
	QueryTimeMs int64 `json:"query_time_ms"`
}

// QueryResponse is the policy-compliant result of one pipeline run.
type QueryResponse struct {
	RequestID      string           `json:"request_id"`
	Query          string           `json:"query"`
	CanonicalQuery string           `json:"canonical_query"`
	Role           string           `json:"role"`
	PolicyVersion  string           `json:"policy_version"`
	Selection      []*RankedChunk   `json:"selection"`
	Confidence     ConfidenceReport `json:"confidence"`
	Citations      []Citation       `json:"citations"`
	Sources        string           `json:"sources"`

	// Context is the selection's text with inline [n] citation markers.
	Context string `json:"context,omitempty"`

	Answer string     `json:"answer,omitempty"`
	Stats  QueryStats `json:"stats"`

	// Degraded is set when the similarity index failed or timed out and the
	// response was built from the empty candidate set.
	Degraded string `json:"degraded,omitempty"`

	// Warnings are non-fatal problems met while building the response.
	Warnings []string `json:"warnings,omitempty"`
}
