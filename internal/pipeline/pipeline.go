// Package pipeline composes normalization, retrieval, access filtering, selection,
// confidence scoring and citation into one request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kakuri/internal/audit"
	"github.com/hyperjump/kakuri/internal/citation"
	"github.com/hyperjump/kakuri/internal/confidence"
	"github.com/hyperjump/kakuri/internal/filter"
	"github.com/hyperjump/kakuri/internal/metrics"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/normalize"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/search"
	"github.com/hyperjump/kakuri/pkg/utils"
)

var tracer = otel.Tracer("github.com/hyperjump/kakuri/internal/pipeline")

// Defaults for optional settings.
const (
	DefaultOverfetch     = 5
	DefaultSearchTimeout = 3 * time.Second
)

// Pipeline runs access-controlled retrieval. It is safe for concurrent use; all
// per-request state lives inside Run.
type Pipeline struct {
	policies      *policy.Store
	source        search.Source
	selector      *ranking.Selector
	scorer        *confidence.Scorer
	normalizer    *normalize.Normalizer
	sink          audit.Sink
	generator     Generator
	overfetch     int
	searchTimeout time.Duration
	logger        *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNormalizer sets the query normalizer. Without one queries pass through unchanged.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithAuditSink sets where filter decisions go.
func WithAuditSink(s audit.Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithGenerator sets the optional answer generator.
func WithGenerator(g Generator) Option {
	return func(p *Pipeline) { p.generator = g }
}

// WithOverfetch sets the candidate over-fetch multiplier (>= 1).
func WithOverfetch(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.overfetch = n
		}
	}
}

// WithSearchTimeout bounds the candidate search.
func WithSearchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.searchTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = utils.OrNop(l) }
}

// New creates a pipeline. The source's score direction must match the selector's.
func New(policies *policy.Store, source search.Source, selector *ranking.Selector, scorer *confidence.Scorer, opts ...Option) (*Pipeline, error) {
	if policies == nil || policies.Current() == nil {
		return nil, fmt.Errorf("pipeline requires a loaded policy")
	}
	if source == nil || selector == nil || scorer == nil {
		return nil, fmt.Errorf("pipeline requires a source, selector and scorer")
	}
	if source.Direction() != selector.Direction {
		return nil, fmt.Errorf("score direction %s does not match %s source (%s)",
			selector.Direction, source.Name(), source.Direction())
	}
	p := &Pipeline{
		policies:      policies,
		source:        source,
		selector:      selector,
		scorer:        scorer,
		sink:          audit.Discard,
		overfetch:     DefaultOverfetch,
		searchTimeout: DefaultSearchTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run answers query for role. It returns an error only for invalid input or when ctx is
// canceled; a failed or timed out search yields an empty, degraded response.
func (p *Pipeline) Run(ctx context.Context, query, role string) (*models.QueryResponse, error) {
	start := time.Now()
	req := models.QueryRequest{Query: query, Role: role}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	ctx = filter.WithRequestID(ctx, requestID)

	// One policy snapshot for the whole request.
	engine := p.policies.Current()
	canonical := p.normalizer.Normalize(req.Query)
	logger := p.logger.With(zap.String("request_id", requestID))

	resp := &models.QueryResponse{
		RequestID:      requestID,
		Query:          req.Query,
		CanonicalQuery: canonical,
		Role:           req.Role,
		PolicyVersion:  engine.Version(),
	}

	candidates, err := p.retrieve(ctx, canonical)
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.QueriesTotal.WithLabelValues("canceled").Inc()
		span.SetStatus(codes.Error, "canceled")
		return nil, ctxErr
	}
	if err != nil {
		logger.Warn("Search failed, answering from empty candidate set",
			zap.String("source", p.source.Name()),
			zap.Error(err))
		span.RecordError(err)
		resp.Degraded = err.Error()
		candidates = nil
	}

	filtered := filter.New(engine, p.sink, logger).Filter(ctx, candidates, req.Role)
	if r, ok := p.source.(search.Rescaler); ok {
		r.Rescale(filtered.Chunks)
	}
	selection := p.selector.Select(filtered.Chunks)
	report := p.scorer.Score(selection)

	registry := citation.NewRegistry()
	resp.Context = registry.Annotate(selection)
	resp.Selection = selection
	resp.Confidence = report
	resp.Citations = registry.Citations()
	resp.Sources = registry.SourcesBlock()

	if p.generator != nil && len(selection) > 0 {
		answer, genErr := p.generator.Generate(ctx, BuildPrompt(canonical, selection, registry))
		if genErr != nil {
			logger.Warn("Answer generation failed", zap.Error(genErr))
			resp.Warnings = append(resp.Warnings, "answer generation failed: "+genErr.Error())
		} else {
			resp.Answer = strings.TrimSpace(answer)
		}
	}

	// Candidate and denied counts stay in logs, metrics and the audit trail; in a
	// response they would reveal matches in departments the role cannot see.
	resp.Stats = models.QueryStats{
		Selected:    len(selection),
		QueryTimeMs: time.Since(start).Milliseconds(),
	}

	outcome := "ok"
	switch {
	case resp.Degraded != "":
		outcome = "degraded"
	case len(selection) == 0:
		outcome = "empty"
	}
	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	metrics.CandidateChunks.Observe(float64(len(candidates)))
	metrics.SelectedChunks.Observe(float64(len(selection)))
	metrics.ConfidenceScore.Observe(report.Score)

	span.SetAttributes(
		attribute.String("role", req.Role),
		attribute.String("policy_version", resp.PolicyVersion),
		attribute.Int("candidates", len(candidates)),
		attribute.Int("filtered_out", filtered.Denied),
		attribute.Int("selected", len(selection)),
		attribute.Bool("degraded", resp.Degraded != ""),
	)
	logger.Debug("Query answered",
		zap.String("role", req.Role),
		zap.Int("candidates", len(candidates)),
		zap.Int("filtered_out", filtered.Denied),
		zap.Int("selected", len(selection)),
		zap.String("level", report.Level))
	return resp, nil
}

// retrieve searches the canonical query and its variants concurrently under the search
// deadline, merging results with the first occurrence of a chunk winning. Only a failure
// of the canonical search is an error; failed variants are skipped.
func (p *Pipeline) retrieve(ctx context.Context, canonical string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Retrieve")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.searchTimeout)
	defer cancel()

	queries := append([]string{canonical}, p.normalizer.Variants(canonical)...)
	limit := p.selector.K * p.overfetch
	results := make([][]*models.Chunk, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			chunks, err := p.source.Search(gctx, q, limit)
			if err != nil {
				if i == 0 {
					return err
				}
				p.logger.Debug("Variant search failed", zap.String("variant", q), zap.Error(err))
				return nil
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("search timed out after %s: %w", p.searchTimeout, err)
		}
		return nil, err
	}
	merged := mergeFirstSeen(results)
	span.SetAttributes(attribute.Int("queries", len(queries)), attribute.Int("candidates", len(merged)))
	return merged, nil
}

func mergeFirstSeen(lists [][]*models.Chunk) []*models.Chunk {
	if len(lists) == 1 {
		return lists[0]
	}
	seen := make(map[string]struct{})
	var out []*models.Chunk
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
