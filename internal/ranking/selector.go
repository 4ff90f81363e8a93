// Package ranking applies the validity cutoff, orders filtered candidates by score and
// truncates them to the top K.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/kakuri/internal/models"
)

// Selector holds the selection parameters. It is immutable and safe for concurrent use.
type Selector struct {
	K         int
	Cutoff    float64
	Direction Direction
}

// NewSelector validates the parameters.
func NewSelector(k int, cutoff float64, dir Direction) (*Selector, error) {
	if k <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", k)
	}
	if math.IsNaN(cutoff) {
		return nil, fmt.Errorf("validity cutoff must be a number")
	}
	if !dir.Valid() {
		return nil, fmt.Errorf("score direction must be set")
	}
	return &Selector{K: k, Cutoff: cutoff, Direction: dir}, nil
}

// Select discards candidates outside the cutoff, stable-sorts the rest best first with
// ties kept in input order, and returns at most K of them with their similarity.
// The input slice is not modified.
func (s *Selector) Select(filtered []*models.Chunk) []*models.RankedChunk {
	kept := make([]*models.Chunk, 0, len(filtered))
	for _, c := range filtered {
		if c == nil || math.IsNaN(c.RawScore) {
			continue
		}
		if s.Direction.Passes(c.RawScore, s.Cutoff) {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return s.Direction.Better(kept[i].RawScore, kept[j].RawScore)
	})

	if len(kept) > s.K {
		kept = kept[:s.K]
	}
	out := make([]*models.RankedChunk, len(kept))
	for i, c := range kept {
		out[i] = &models.RankedChunk{
			Chunk:      c,
			Similarity: s.Direction.Similarity(c.RawScore),
			Rank:       i + 1,
		}
	}
	return out
}
