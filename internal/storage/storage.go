// Package storage defines persistence for chunks and the filter decision audit trail.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kakuri/internal/models"
)

// Storage defines chunk and audit persistence operations.
type Storage interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	DeleteChunk(ctx context.Context, id string) error
	CountChunks(ctx context.Context) (int64, error)

	// Audit operations
	RecordDecisions(ctx context.Context, decisions []models.FilterDecision) error
	AuditSummary(ctx context.Context, since time.Time) (*models.AuditSummary, error)

	Close() error
}
