// Package audit delivers filter decisions to an audit backend without ever blocking or
// failing the retrieval path.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/pkg/utils"
)

const (
	defaultBufferSize = 1024
	defaultBatchSize  = 128
	writeTimeout      = 5 * time.Second
)

// Sink receives filter decisions. Emit must not block and has no error to report.
type Sink interface {
	Emit(d models.FilterDecision)
}

// Backend persists a batch of decisions.
type Backend interface {
	RecordDecisions(ctx context.Context, decisions []models.FilterDecision) error
}

// Discard is a Sink that drops every decision.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(models.FilterDecision) {}

// AsyncSink buffers decisions in a channel drained by one background worker.
// When the buffer is full the decision is dropped and counted.
type AsyncSink struct {
	backend   Backend
	logger    *zap.Logger
	ch        chan models.FilterDecision
	batchSize int

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option configures an AsyncSink.
type Option func(*AsyncSink)

// WithLogger sets the logger for write failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *AsyncSink) { s.logger = l }
}

// WithBufferSize sets the channel capacity.
func WithBufferSize(n int) Option {
	return func(s *AsyncSink) {
		if n > 0 {
			s.ch = make(chan models.FilterDecision, n)
		}
	}
}

// WithBatchSize caps how many decisions are written per backend call.
func WithBatchSize(n int) Option {
	return func(s *AsyncSink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewAsyncSink starts the worker. Call Close to flush and stop it.
func NewAsyncSink(backend Backend, opts ...Option) *AsyncSink {
	s := &AsyncSink{
		backend:   backend,
		ch:        make(chan models.FilterDecision, defaultBufferSize),
		batchSize: defaultBatchSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	go s.run()
	return s
}

// Emit enqueues d, or drops it when the buffer is full or the sink is closed.
func (s *AsyncSink) Emit(d models.FilterDecision) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop()
		return
	}
	select {
	case s.ch <- d:
	default:
		s.drop()
	}
}

func (s *AsyncSink) drop() {
	s.dropped.Add(1)
	metrics.AuditDroppedTotal.Inc()
}

// Dropped returns how many decisions were dropped.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Written returns how many decisions the backend accepted.
func (s *AsyncSink) Written() int64 { return s.written.Load() }

// Close stops accepting decisions, drains the buffer and waits for the worker.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
	if n := s.Dropped(); n > 0 {
		s.logger.Warn("Audit decisions dropped", zap.Int64("count", n))
	}
	return nil
}

func (s *AsyncSink) run() {
	defer close(s.done)
	batch := make([]models.FilterDecision, 0, s.batchSize)
	for d := range s.ch {
		batch = append(batch, d)
		// Take whatever else is already queued, up to one batch.
	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.ch:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		s.write(batch)
		batch = batch[:0]
	}
}

func (s *AsyncSink) write(batch []models.FilterDecision) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.backend.RecordDecisions(ctx, batch); err != nil {
		metrics.AuditWriteErrorsTotal.Inc()
		s.logger.Error("Failed to write audit decisions", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	s.written.Add(int64(len(batch)))
}
