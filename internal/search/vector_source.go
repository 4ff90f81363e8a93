package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// VectorSource embeds the query and searches the similarity index.
type VectorSource struct {
	embedder embedding.Embedder
	index    vector.VectorIndex
	store    storage.Storage
	logger   *zap.Logger
}

// NewVectorSource creates a vector-backed source.
func NewVectorSource(e embedding.Embedder, idx vector.VectorIndex, store storage.Storage, logger *zap.Logger) *VectorSource {
	return &VectorSource{embedder: e, index: idx, store: store, logger: utils.OrNop(logger)}
}

// Name implements Source.
func (s *VectorSource) Name() string { return "vector" }

// Direction follows the index metric.
func (s *VectorSource) Direction() ranking.Direction {
	if s.index.Metric().LowerIsBetter() {
		return ranking.LowerIsBetter
	}
	return ranking.HigherIsBetter
}

// Search implements Source.
func (s *VectorSource) Search(ctx context.Context, query string, limit int) ([]*models.Chunk, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds()) }()

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Upstream("embed query", err)
	}
	results, err := s.index.Search(ctx, queryEmbedding, limit)
	if err != nil {
		return nil, errs.Upstream("vector search", err)
	}
	hits := make([]hit, len(results))
	for i, r := range results {
		hits[i] = hit{id: r.ID, score: r.Score}
	}
	chunks, err := hydrate(ctx, s.store, hits, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector hits: %w", err)
	}
	return chunks, nil
}
