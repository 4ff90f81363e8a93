package policy

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// Store publishes the current Engine. Requests take one snapshot with Current and use
// it for their whole lifetime; Swap never affects a snapshot already taken.
type Store struct {
	current atomic.Pointer[Engine]
	path    string
	logger  *zap.Logger
}

// NewStore returns a Store serving e. path is used by Reload and may be empty.
func NewStore(e *Engine, path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: utils.OrNop(logger)}
	s.current.Store(e)
	return s
}

// Current returns the engine in effect.
func (s *Store) Current() *Engine {
	return s.current.Load()
}

// Swap publishes e and returns the engine it replaced.
func (s *Store) Swap(e *Engine) *Engine {
	return s.current.Swap(e)
}

// Path returns the policy file backing this store.
func (s *Store) Path() string { return s.path }

// Reload re-reads the policy file and publishes it. On any error the current engine
// stays in effect.
func (s *Store) Reload() error {
	e, err := Load(s.path)
	if err != nil {
		metrics.PolicyReloadsTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("Policy reload rejected, keeping current version",
			zap.String("path", s.path),
			zap.String("version", s.Current().Version()),
			zap.Error(err))
		return err
	}
	old := s.Swap(e)
	if old != nil && old.Version() == e.Version() {
		metrics.PolicyReloadsTotal.WithLabelValues("unchanged").Inc()
		s.logger.Debug("Policy reloaded, version unchanged", zap.String("version", e.Version()))
		return nil
	}
	metrics.PolicyReloadsTotal.WithLabelValues("applied").Inc()
	s.logger.Info("Policy reloaded",
		zap.String("path", s.path),
		zap.String("version", e.Version()),
		zap.Int("roles", len(e.roles)))
	return nil
}
