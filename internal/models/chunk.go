// Package models defines core data structures for chunks, decisions, selections and responses.
package models

import "time"

// Well-known chunk metadata keys.
const (
	MetaDepartment = "department"
	MetaSourceFile = "source_file"
	MetaSource     = "source"
	MetaSection    = "section"
	MetaTimestamp  = "timestamp"
)

// Chunk is a retrievable unit returned by the similarity index. The core only reads it.
type Chunk struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Department string                 `json:"department"`
	RawScore   float64                `json:"raw_score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// MetaString returns the metadata value for key as a string, or "" when absent or not a string.
func (c *Chunk) MetaString(key string) string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	if s, ok := c.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// HasMeta reports whether the chunk carries a non-nil value under key.
func (c *Chunk) HasMeta(key string) bool {
	if c == nil || c.Metadata == nil {
		return false
	}
	v, ok := c.Metadata[key]
	return ok && v != nil
}

// FilterDecision records one access decision for one candidate. It lives for one request.
type FilterDecision struct {
	ChunkID       string    `json:"chunk_id"`
	Role          string    `json:"role"`
	Department    string    `json:"department"`
	Allowed       bool      `json:"allowed"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	At            time.Time `json:"at"`
}

// RankedChunk is one element of a selection: the chunk plus its score converted to the
// internal higher-is-better similarity convention.
type RankedChunk struct {
	Chunk      *Chunk  `json:"chunk"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
}
