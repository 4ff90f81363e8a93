// Package keyword provides the BM25-style keyword index used as an alternative
// candidate source.
package keyword

import (
	"context"

	"github.com/hyperjump/kakuri/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SectionBoost multiplies the score contribution from matches in the section field.
	// Values > 1 make section title matches rank higher. Use 1.0 for no boost.
	SectionBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over chunks.
type KeywordIndex interface {
	Index(ctx context.Context, chunk *models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. Scores are relevance: higher is better.
type KeywordResult struct {
	ID    string
	Score float64
}
