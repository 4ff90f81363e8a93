package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// FusedResult holds a chunk ID and fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// keywordPivot is the raw keyword score that saturates to 0.5.
const keywordPivot = 1.0

// SaturateKeywordScore maps an unbounded keyword score into [0,1) without looking at
// any other result.
func SaturateKeywordScore(score float64) float64 {
	if score <= 0 || math.IsNaN(score) {
		return 0
	}
	if math.IsInf(score, 1) {
		return 1
	}
	return score / (score + keywordPivot)
}

// NormalizeByMax rescales RawScore on chunks so the best one is 1.
func NormalizeByMax(chunks []*models.Chunk) {
	maxScore := 0.0
	for _, c := range chunks {
		if c.RawScore > maxScore {
			maxScore = c.RawScore
		}
	}
	for _, c := range chunks {
		if maxScore > 0 {
			c.RawScore /= maxScore
		} else {
			c.RawScore = 0
		}
	}
}

// Fuse merges keyword and semantic score maps with weights and returns FusedResults
// sorted by score descending, ties by chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult)
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{
			ChunkID:      id,
			KeywordScore: score,
		}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{
				ChunkID:       id,
				SemanticScore: score,
			}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// HybridSource runs a vector and a keyword source concurrently and fuses their
// similarities. Fused scores are in [0,1], higher is better.
type HybridSource struct {
	vector         Source
	keyword        Source
	keywordWeight  float64
	semanticWeight float64
	logger         *zap.Logger
}

// NewHybridSource creates a fused source. Weights must be non-negative and not both zero.
func NewHybridSource(vec, kw Source, keywordWeight, semanticWeight float64, logger *zap.Logger) (*HybridSource, error) {
	if keywordWeight < 0 || semanticWeight < 0 || keywordWeight+semanticWeight == 0 {
		return nil, fmt.Errorf("invalid hybrid weights: keyword=%v semantic=%v", keywordWeight, semanticWeight)
	}
	return &HybridSource{
		vector:         vec,
		keyword:        kw,
		keywordWeight:  keywordWeight,
		semanticWeight: semanticWeight,
		logger:         utils.OrNop(logger),
	}, nil
}

// Name implements Source.
func (s *HybridSource) Name() string { return "hybrid" }

// Direction implements Source.
func (s *HybridSource) Direction() ranking.Direction { return ranking.HigherIsBetter }

// Search implements Source. A failure of either side fails the whole search.
func (s *HybridSource) Search(ctx context.Context, query string, limit int) ([]*models.Chunk, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds()) }()

	var keywordHits, semanticHits []*models.Chunk
	g, gctx := errgroup.WithContext(ctx)
	if s.keywordWeight > 0 {
		g.Go(func() error {
			var err error
			keywordHits, err = s.keyword.Search(gctx, query, limit)
			return err
		})
	}
	if s.semanticWeight > 0 {
		g.Go(func() error {
			var err error
			semanticHits, err = s.vector.Search(gctx, query, limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Chunk, len(keywordHits)+len(semanticHits))
	keywordScores := make(map[string]float64, len(keywordHits))
	for _, c := range keywordHits {
		keywordScores[c.ID] = s.keyword.Direction().Similarity(c.RawScore)
		byID[c.ID] = c
	}
	semanticScores := make(map[string]float64, len(semanticHits))
	for _, c := range semanticHits {
		semanticScores[c.ID] = s.vector.Direction().Similarity(c.RawScore)
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}

	fused := Fuse(keywordScores, semanticScores, s.keywordWeight, s.semanticWeight)
	s.logger.Debug("Fused hybrid results",
		zap.Int("keyword", len(keywordHits)),
		zap.Int("semantic", len(semanticHits)),
		zap.Int("fused", len(fused)))
	if len(fused) > limit {
		fused = fused[:limit]
	}
	total := s.keywordWeight + s.semanticWeight
	out := make([]*models.Chunk, 0, len(fused))
	for _, r := range fused {
		c := byID[r.ChunkID]
		c.RawScore = r.Score / total
		out = append(out, c)
	}
	return out, nil
}
