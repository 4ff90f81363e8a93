// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kakuri/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		department TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_department ON chunks(department);

	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		chunk_id TEXT NOT NULL,
		role TEXT NOT NULL,
		department TEXT NOT NULL,
		allowed INTEGER NOT NULL,
		policy_version TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_decided_at ON audit_events(decided_at);
	CREATE INDEX IF NOT EXISTS idx_audit_role ON audit_events(role);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertChunks inserts or replaces chunks in a transaction. RawScore is not persisted;
// it belongs to a search result, not to the chunk.
func (s *SQLiteStorage) UpsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, department, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   department = excluded.department,
		   content = excluded.content,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk id cannot be empty")
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Department, c.Content, string(metadataJSON), now, now); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	var c models.Chunk
	var metadataJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, department, content, metadata FROM chunks WHERE id = ?`, id,
	).Scan(&c.ID, &c.Department, &c.Content, &metadataJSON)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeMetadata(metadataJSON, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChunks returns the chunks found for ids keyed by ID. Missing IDs are absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, department, content, metadata FROM chunks WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		var metadataJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.Department, &c.Content, &metadataJSON); err != nil {
			return nil, err
		}
		if err := decodeMetadata(metadataJSON, &c); err != nil {
			return nil, err
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

func decodeMetadata(raw sql.NullString, c *models.Chunk) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), &c.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata for chunk %s: %w", c.ID, err)
	}
	return nil
}

// DeleteChunk removes a chunk by ID.
func (s *SQLiteStorage) DeleteChunk(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	return err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// RecordDecisions appends filter decisions to the audit trail in one transaction.
func (s *SQLiteStorage) RecordDecisions(ctx context.Context, decisions []models.FilterDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_events (request_id, chunk_id, role, department, allowed, policy_version, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range decisions {
		at := d.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, d.RequestID, d.ChunkID, d.Role, d.Department, d.Allowed, d.PolicyVersion, at.UTC()); err != nil {
			return fmt.Errorf("failed to record decision for chunk %s: %w", d.ChunkID, err)
		}
	}
	return tx.Commit()
}

// AuditSummary aggregates decisions made at or after since. A zero since covers everything.
func (s *SQLiteStorage) AuditSummary(ctx context.Context, since time.Time) (*models.AuditSummary, error) {
	summary := &models.AuditSummary{
		Since:        since,
		ByRole:       map[string]models.DecisionCounts{},
		ByDepartment: map[string]models.DecisionCounts{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, department, allowed, COUNT(*) FROM audit_events
		 WHERE decided_at >= ? GROUP BY role, department, allowed`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, dept string
		var allowed bool
		var n int64
		if err := rows.Scan(&role, &dept, &allowed, &n); err != nil {
			return nil, err
		}
		summary.Totals = addCount(summary.Totals, allowed, n)
		summary.ByRole[role] = addCount(summary.ByRole[role], allowed, n)
		summary.ByDepartment[dept] = addCount(summary.ByDepartment[dept], allowed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT request_id) FROM audit_events WHERE decided_at >= ? AND request_id != ''`,
		since.UTC(),
	).Scan(&summary.Requests)
	if err != nil {
		return nil, fmt.Errorf("failed to count audited requests: %w", err)
	}
	return summary, nil
}

func addCount(c models.DecisionCounts, allowed bool, n int64) models.DecisionCounts {
	if allowed {
		c.Allowed += n
	} else {
		c.Denied += n
	}
	return c
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
