// Package search provides the candidate sources the pipeline retrieves from.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/storage"
)

// Source returns scored candidate chunks for a query, best first. RawScore on each chunk
// is interpreted according to Direction.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]*models.Chunk, error)
	Name() string
	Direction() ranking.Direction
}

// Rescaler is implemented by sources whose scores are only comparable within one
// result set. The pipeline calls Rescale with the candidates the caller is allowed to
// see, after access filtering and before selection, so denied chunks never shape the
// scores of visible ones.
type Rescaler interface {
	Rescale(chunks []*models.Chunk)
}

// hit is an index result before hydration.
type hit struct {
	id    string
	score float64
}

// hydrate loads chunk bodies for hits from the store, keeping hit order. Hits whose
// chunk is missing from the store are skipped.
func hydrate(ctx context.Context, store storage.Storage, hits []hit, logger *zap.Logger) ([]*models.Chunk, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	byID, err := store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Chunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.id]
		if !ok {
			logger.Debug("Index hit missing from store", zap.String("chunk_id", h.id))
			continue
		}
		c.RawScore = h.score
		out = append(out, c)
	}
	return out, nil
}
