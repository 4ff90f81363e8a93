package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// KeywordSource searches the keyword index. Each hit's score is saturated into [0,1)
// on its own; Rescale then puts the visible hits on a common scale.
type KeywordSource struct {
	index  keyword.KeywordIndex
	store  storage.Storage
	opts   *keyword.SearchOptions
	logger *zap.Logger
}

// NewKeywordSource creates a keyword-backed source. opts may be nil.
func NewKeywordSource(idx keyword.KeywordIndex, store storage.Storage, opts *keyword.SearchOptions, logger *zap.Logger) *KeywordSource {
	return &KeywordSource{index: idx, store: store, opts: opts, logger: utils.OrNop(logger)}
}

// Name implements Source.
func (s *KeywordSource) Name() string { return "keyword" }

// Direction implements Source.
func (s *KeywordSource) Direction() ranking.Direction { return ranking.HigherIsBetter }

// Search implements Source.
func (s *KeywordSource) Search(ctx context.Context, query string, limit int) ([]*models.Chunk, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds()) }()

	results, err := s.index.Search(ctx, query, limit, s.opts)
	if err != nil {
		return nil, errs.Upstream("keyword search", err)
	}
	hits := make([]hit, len(results))
	for i, r := range results {
		hits[i] = hit{id: r.ID, score: SaturateKeywordScore(r.Score)}
	}
	chunks, err := hydrate(ctx, s.store, hits, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyword hits: %w", err)
	}
	return chunks, nil
}

// Rescale implements Rescaler. The best of chunks becomes 1.
func (s *KeywordSource) Rescale(chunks []*models.Chunk) { NormalizeByMax(chunks) }
