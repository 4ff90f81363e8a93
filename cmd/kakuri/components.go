package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/audit"
	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/config"
	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/internal/indexer"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/normalize"
	"github.com/hyperjump/kakuri/internal/pipeline"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/search"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	Indexer      *indexer.Indexer

	// Set by initPipeline.
	Policies *policy.Store
	Pipeline *pipeline.Pipeline
	sink     *audit.AsyncSink

	logger *zap.Logger
}

// Close flushes the audit sink before closing the stores it writes to.
func (c *Components) Close() {
	if c.sink != nil {
		_ = c.sink.Close()
		c.logger.Info("audit sink closed",
			zap.Int64("written", c.sink.Written()),
			zap.Int64("dropped", c.sink.Dropped()))
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

// initializeComponents opens the chunk store and both indexes. The pipeline is not
// built; call initPipeline for commands that answer queries.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Embedder = embedding.NewCachedEmbedder(embedding.NewHashEmbedder(cfg.Embedding.Dimensions), cfg.Embedding.CacheSize)

	vectorIndex, err := vector.NewVectorIndex(ctx, cfg.Index.VectorType, cfg.Embedding.Dimensions, cfg.Index.Milvus)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vectorIndex
	if cfg.Storage.VectorIndexPath != "" {
		if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
			logger.Warn("vector index load skipped (run seed to rebuild)",
				zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}
	logger.Info("vector index initialized",
		zap.String("type", cfg.Index.VectorType),
		zap.String("metric", string(vectorIndex.Metric())),
		zap.Int("size", vectorIndex.Size()))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex

	c.Indexer = indexer.NewIndexer(store, c.Embedder, vectorIndex, keywordIndex, indexer.WithLogger(logger))
	return c, nil
}

// initPipeline loads the policy and normalizer and assembles the query pipeline.
// Every failure here is a configuration error.
func (c *Components) initPipeline(cfg *config.Config, logger *zap.Logger) error {
	engine, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return err
	}
	c.Policies = policy.NewStore(engine, cfg.Policy.Path, logger)
	logger.Info("policy loaded",
		zap.String("path", cfg.Policy.Path),
		zap.String("version", engine.Version()),
		zap.Int("roles", len(engine.Roles())))

	source, err := buildSource(cfg, c, logger)
	if err != nil {
		return errs.Config(cfg.Path(), "index", "%w", err)
	}
	selector, err := ranking.NewSelector(cfg.Selection.TopK, cfg.Selection.Cutoff(), cfg.Selection.Direction())
	if err != nil {
		return errs.Config(cfg.Path(), "selection", "%w", err)
	}
	scorer, err := confidence.NewScorer(cfg.Confidence.Weights, cfg.Confidence.Thresholds,
		cfg.Confidence.SaturationCount, cfg.Confidence.LengthSaturation)
	if err != nil {
		return errs.Config(cfg.Path(), "confidence", "%w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithAuditSink(c.buildSink(cfg, logger)),
		pipeline.WithOverfetch(cfg.Selection.OverfetchMultiplier),
		pipeline.WithSearchTimeout(cfg.Selection.SearchTimeout),
		pipeline.WithLogger(logger),
	}
	if cfg.Normalizer.Path != "" {
		n, err := normalize.Load(cfg.Normalizer.Path)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithNormalizer(n))
	}
	if cfg.Generator.Type == config.GeneratorExtractive {
		opts = append(opts, pipeline.WithGenerator(pipeline.Extractive{}))
	}

	p, err := pipeline.New(c.Policies, source, selector, scorer, opts...)
	if err != nil {
		return errs.Config(cfg.Path(), "selection.score_direction", "%w", err)
	}
	c.Pipeline = p
	return nil
}

func buildSource(cfg *config.Config, c *Components, logger *zap.Logger) (search.Source, error) {
	vec := search.NewVectorSource(c.Embedder, c.VectorIndex, c.Storage, logger)
	kw := search.NewKeywordSource(c.KeywordIndex, c.Storage, &keyword.SearchOptions{
		SectionBoost: cfg.Index.SectionBoost,
		FuzzyEnabled: cfg.Index.Fuzzy,
	}, logger)
	switch cfg.Index.Backend {
	case config.BackendKeyword:
		return kw, nil
	case config.BackendHybrid:
		return search.NewHybridSource(vec, kw, cfg.Index.KeywordWeight, cfg.Index.SemanticWeight, logger)
	default:
		return vec, nil
	}
}

func (c *Components) buildSink(cfg *config.Config, logger *zap.Logger) audit.Sink {
	var backend audit.Backend
	switch cfg.Audit.Backend {
	case config.AuditSQLite:
		backend = c.Storage
	case config.AuditLog:
		backend = audit.NewLogBackend(logger)
	default:
		return audit.Discard
	}
	c.sink = audit.NewAsyncSink(backend,
		audit.WithLogger(logger),
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithBatchSize(cfg.Audit.BatchSize))
	return c.sink
}
