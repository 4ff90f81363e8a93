package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// LogBackend writes each decision as a structured log line.
type LogBackend struct {
	logger *zap.Logger
}

// NewLogBackend returns a backend logging to l under the "audit" name.
func NewLogBackend(l *zap.Logger) *LogBackend {
	return &LogBackend{logger: utils.OrNop(l).Named("audit")}
}

// RecordDecisions logs every decision at info level.
func (b *LogBackend) RecordDecisions(_ context.Context, decisions []models.FilterDecision) error {
	for _, d := range decisions {
		b.logger.Info("Filter decision",
			zap.String("request_id", d.RequestID),
			zap.String("chunk_id", d.ChunkID),
			zap.String("role", d.Role),
			zap.String("department", d.Department),
			zap.Bool("allowed", d.Allowed),
			zap.String("policy_version", d.PolicyVersion),
			zap.Time("at", d.At),
		)
	}
	return nil
}
