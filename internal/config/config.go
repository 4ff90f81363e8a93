// Package config provides configuration loading and structs for the kakuri server.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/vector"
)

// Index backends.
const (
	BackendVector  = "vector"
	BackendKeyword = "keyword"
	BackendHybrid  = "hybrid"
)

// Audit backends.
const (
	AuditSQLite = "sqlite"
	AuditLog    = "log"
	AuditNone   = "none"
)

// Generators.
const (
	GeneratorNone       = "none"
	GeneratorExtractive = "extractive"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Policy     PolicyConfig     `yaml:"policy"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Selection  SelectionConfig  `yaml:"selection"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Audit      AuditConfig      `yaml:"audit"`
	Generator  GeneratorConfig  `yaml:"generator"`

	// path is the file the config was loaded from.
	path string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and local indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
}

// IndexConfig selects the candidate source.
type IndexConfig struct {
	Backend        string              `yaml:"backend"`
	VectorType     string              `yaml:"vector_type"`
	KeywordWeight  float64             `yaml:"keyword_weight"`
	SemanticWeight float64             `yaml:"semantic_weight"`
	SectionBoost   float64             `yaml:"section_boost"`
	Fuzzy          bool                `yaml:"fuzzy"`
	Milvus         vector.MilvusConfig `yaml:"milvus"`
}

// EmbeddingConfig holds query embedder settings.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// PolicyConfig locates the access policy.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch *bool  `yaml:"watch"`
}

// WatchOrDefault returns whether to hot-reload the policy; defaults to true when unset.
func (p *PolicyConfig) WatchOrDefault() bool {
	if p.Watch != nil {
		return *p.Watch
	}
	return true
}

// NormalizerConfig locates the normalizer table. An empty path disables normalization.
type NormalizerConfig struct {
	Path string `yaml:"path"`
}

// SelectionConfig holds the rank selector and retrieval settings.
type SelectionConfig struct {
	TopK           int      `yaml:"top_k"`
	ValidityCutoff *float64 `yaml:"validity_cutoff"`
	// SimilarityThreshold is accepted as an alias for ValidityCutoff.
	SimilarityThreshold *float64      `yaml:"similarity_threshold"`
	ScoreDirection      string        `yaml:"score_direction"`
	OverfetchMultiplier int           `yaml:"overfetch_multiplier"`
	SearchTimeout       time.Duration `yaml:"search_timeout"`
}

// Cutoff returns the resolved validity cutoff. Valid after Load.
func (s *SelectionConfig) Cutoff() float64 {
	if s.ValidityCutoff != nil {
		return *s.ValidityCutoff
	}
	return 0
}

// Direction returns the parsed score direction. Valid after Load.
func (s *SelectionConfig) Direction() ranking.Direction {
	d, _ := ranking.ParseDirection(s.ScoreDirection)
	return d
}

// ConfidenceConfig holds the confidence scorer settings.
type ConfidenceConfig struct {
	Weights          confidence.Weights    `yaml:"weights"`
	Thresholds       confidence.Thresholds `yaml:"thresholds"`
	SaturationCount  int                   `yaml:"saturation_count"`
	LengthSaturation int                   `yaml:"length_saturation"`
}

// AuditConfig holds filter decision audit settings.
type AuditConfig struct {
	Backend    string `yaml:"backend"`
	BufferSize int    `yaml:"buffer_size"`
	BatchSize  int    `yaml:"batch_size"`
}

// GeneratorConfig selects the optional answer generator.
type GeneratorConfig struct {
	Type string `yaml:"type"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// validates. Every failure is an *errs.ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Source: path, Err: fmt.Errorf("failed to read config: %w", err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errs.ConfigError{Source: path, Err: fmt.Errorf("failed to parse config: %w", err)}
	}
	cfg.path = path

	if err := resolveCutoffAlias(&cfg.Selection); err != nil {
		return nil, withSource(err, path)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Policy.Path = expandPath(cfg.Policy.Path, configDir)
	if cfg.Normalizer.Path != "" {
		cfg.Normalizer.Path = expandPath(cfg.Normalizer.Path, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, withSource(err, path)
	}
	return &cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errs.Config("", "server.port", "must be within 1-65535, got %d", c.Server.Port)
	}
	if c.Policy.Path == "" {
		return errs.Config("", "policy.path", "is required")
	}

	s := c.Selection
	if s.TopK <= 0 {
		return errs.Config("", "selection.top_k", "must be positive, got %d", s.TopK)
	}
	dir, err := ranking.ParseDirection(s.ScoreDirection)
	if err != nil {
		return errs.Config("", "selection.score_direction", "%w", err)
	}
	if s.ValidityCutoff == nil || math.IsNaN(*s.ValidityCutoff) {
		return errs.Config("", "selection.validity_cutoff", "is required")
	}
	if s.OverfetchMultiplier < 1 {
		return errs.Config("", "selection.overfetch_multiplier", "must be at least 1, got %d", s.OverfetchMultiplier)
	}
	if s.SearchTimeout <= 0 {
		return errs.Config("", "selection.search_timeout", "must be positive")
	}

	if err := c.Confidence.Weights.Validate(); err != nil {
		return errs.Config("", "confidence.weights", "%w", err)
	}
	if err := c.Confidence.Thresholds.Validate(); err != nil {
		return errs.Config("", "confidence.thresholds", "%w", err)
	}

	switch c.Index.Backend {
	case BackendVector:
	case BackendKeyword, BackendHybrid:
		if dir != ranking.HigherIsBetter {
			return errs.Config("", "selection.score_direction", "%s backend scores are higher_is_better, got %s", c.Index.Backend, dir)
		}
		if c.Index.Backend == BackendHybrid && (c.Index.KeywordWeight < 0 || c.Index.SemanticWeight < 0 || c.Index.KeywordWeight+c.Index.SemanticWeight == 0) {
			return errs.Config("", "index.keyword_weight", "hybrid weights must be non-negative and not both zero")
		}
	default:
		return errs.Config("", "index.backend", "unknown backend %q", c.Index.Backend)
	}
	switch c.Index.VectorType {
	case "memory", "milvus":
	default:
		return errs.Config("", "index.vector_type", "unknown vector index type %q", c.Index.VectorType)
	}
	if c.Embedding.Dimensions <= 0 {
		return errs.Config("", "embedding.dimensions", "must be positive, got %d", c.Embedding.Dimensions)
	}

	switch c.Audit.Backend {
	case AuditSQLite, AuditLog, AuditNone:
	default:
		return errs.Config("", "audit.backend", "unknown audit backend %q", c.Audit.Backend)
	}
	switch c.Generator.Type {
	case GeneratorNone, GeneratorExtractive:
	default:
		return errs.Config("", "generator.type", "unknown generator %q", c.Generator.Type)
	}
	return nil
}

// resolveCutoffAlias folds similarity_threshold into validity_cutoff.
func resolveCutoffAlias(s *SelectionConfig) error {
	if s.SimilarityThreshold == nil {
		return nil
	}
	if s.ValidityCutoff != nil && *s.ValidityCutoff != *s.SimilarityThreshold {
		return errs.Config("", "selection.similarity_threshold",
			"conflicts with validity_cutoff (%v vs %v)", *s.SimilarityThreshold, *s.ValidityCutoff)
	}
	v := *s.SimilarityThreshold
	s.ValidityCutoff = &v
	s.SimilarityThreshold = nil
	return nil
}

func withSource(err error, path string) error {
	var ce *errs.ConfigError
	if errors.As(err, &ce) && ce.Source == "" {
		ce.Source = path
	}
	return err
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
