package config

import (
	"time"

	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/ranking"
)

// Default cutoffs per direction when none is configured.
const (
	defaultDistanceCutoff   = 0.7
	defaultSimilarityCutoff = 0.3
)

// ApplyDefaults sets default values for any zero values in cfg. The score direction has
// no default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/kakuri.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "./data/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "./data/vectors.bin"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendVector
	}
	if cfg.Index.VectorType == "" {
		cfg.Index.VectorType = "memory"
	}
	if cfg.Index.KeywordWeight == 0 && cfg.Index.SemanticWeight == 0 {
		cfg.Index.KeywordWeight = 0.5
		cfg.Index.SemanticWeight = 0.5
	}
	if cfg.Index.SectionBoost == 0 {
		cfg.Index.SectionBoost = 2.0
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "./policy.yaml"
	}
	if cfg.Selection.TopK == 0 {
		cfg.Selection.TopK = 5
	}
	if cfg.Selection.ValidityCutoff == nil {
		if d, err := ranking.ParseDirection(cfg.Selection.ScoreDirection); err == nil {
			v := defaultSimilarityCutoff
			if d == ranking.LowerIsBetter {
				v = defaultDistanceCutoff
			}
			cfg.Selection.ValidityCutoff = &v
		}
	}
	if cfg.Selection.OverfetchMultiplier == 0 {
		cfg.Selection.OverfetchMultiplier = 5
	}
	if cfg.Selection.SearchTimeout == 0 {
		cfg.Selection.SearchTimeout = 3 * time.Second
	}
	if cfg.Confidence.Weights == (confidence.Weights{}) {
		cfg.Confidence.Weights = confidence.DefaultWeights()
	}
	if cfg.Confidence.Thresholds == (confidence.Thresholds{}) {
		cfg.Confidence.Thresholds = confidence.DefaultThresholds()
	}
	if cfg.Confidence.SaturationCount == 0 {
		cfg.Confidence.SaturationCount = 5
	}
	if cfg.Confidence.LengthSaturation == 0 {
		cfg.Confidence.LengthSaturation = 1000
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = AuditSQLite
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1024
	}
	if cfg.Audit.BatchSize == 0 {
		cfg.Audit.BatchSize = 128
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = GeneratorNone
	}
	if cfg.Index.Milvus.Host == "" {
		cfg.Index.Milvus.Host = "localhost"
	}
	if cfg.Index.Milvus.Port == 0 {
		cfg.Index.Milvus.Port = 19530
	}
	if cfg.Index.Milvus.Collection == "" {
		cfg.Index.Milvus.Collection = "kakuri_chunks"
	}
}
