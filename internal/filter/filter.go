// Package filter removes candidates a role may not see, before anything is ranked,
// truncated or returned.
package filter

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/audit"
	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/pkg/utils"
)

type requestIDKey struct{}

// WithRequestID attaches a request ID that is copied onto every decision.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Result is the outcome of filtering one candidate list.
type Result struct {
	// Chunks is the allowed subsequence of the input, in input order.
	Chunks  []*models.Chunk
	Allowed int
	Denied  int
	// UnknownRole is set when the role is absent from the policy and the default
	// departments were applied.
	UnknownRole bool
}

// Filter applies one policy snapshot to candidate lists.
type Filter struct {
	engine *policy.Engine
	sink   audit.Sink
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Filter for engine. A nil sink discards decisions.
func New(engine *policy.Engine, sink audit.Sink, logger *zap.Logger) *Filter {
	if sink == nil {
		sink = audit.Discard
	}
	return &Filter{engine: engine, sink: sink, logger: utils.OrNop(logger), now: time.Now}
}

// Filter returns the candidates role may see, preserving order. Every candidate yields
// exactly one decision on the audit sink. Candidates without a department are judged as
// the policy's unlabeled department.
func (f *Filter) Filter(ctx context.Context, candidates []*models.Chunk, role string) Result {
	access, known := f.engine.Resolve(role)
	res := Result{UnknownRole: !known}
	if !known {
		metrics.UnknownRolesTotal.Inc()
		f.logger.Warn("Unknown role, applying default departments",
			zap.String("role", role),
			zap.String("departments", access.String()))
	}

	foldedRole := utils.FoldKey(role)
	requestID := RequestID(ctx)
	version := f.engine.Version()
	at := f.now()

	res.Chunks = make([]*models.Chunk, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		dept := utils.FoldKey(c.Department)
		if dept == "" {
			dept = f.engine.UnlabeledDepartment()
		}
		allowed := access.Contains(dept)

		f.sink.Emit(models.FilterDecision{
			ChunkID:       c.ID,
			Role:          foldedRole,
			Department:    dept,
			Allowed:       allowed,
			PolicyVersion: version,
			RequestID:     requestID,
			At:            at,
		})
		metrics.FilterDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()

		if !allowed {
			res.Denied++
			continue
		}
		res.Allowed++
		res.Chunks = append(res.Chunks, c)
	}

	f.logger.Debug("Filtered candidates",
		zap.String("role", foldedRole),
		zap.Int("allowed", res.Allowed),
		zap.Int("denied", res.Denied))
	return res
}
