// Package indexer loads pre-chunked seed records into storage and the candidate indexes.
// It does no chunking or cleaning: records are stored as given.
package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/fileid"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
	"github.com/hyperjump/kakuri/pkg/utils"
)

const (
	defaultBatchSize = 64
	maxLineBytes     = 4 << 20
)

// Record is one line of a seed file.
type Record struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Department string                 `json:"department"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Indexer writes chunks to storage, the vector index and the keyword index.
// Either index may be nil, in which case it is skipped.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	batchSize    int
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithBatchSize sets how many records are embedded and written together.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		batchSize:    defaultBatchSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexChunks stores chunks, then embeds them into the vector index and adds them to the
// keyword index. Chunks must carry an ID and content.
func (idx *Indexer) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk id cannot be empty")
		}
		if strings.TrimSpace(c.Content) == "" {
			return fmt.Errorf("chunk %s has no content", c.ID)
		}
	}
	if err := idx.storage.UpsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	if idx.vectorIndex != nil {
		texts := make([]string, len(chunks))
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
			ids[i] = c.ID
		}
		embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if err := idx.vectorIndex.Add(ctx, ids, embeddings); err != nil {
			return fmt.Errorf("failed to index vectors: %w", err)
		}
	}

	if idx.keywordIndex != nil {
		for _, c := range chunks {
			if err := idx.keywordIndex.Index(ctx, c); err != nil {
				return fmt.Errorf("failed to index keywords for %s: %w", c.ID, err)
			}
		}
	}
	idx.logger.Debug("indexer batch indexed", zap.Int("chunks", len(chunks)))
	return nil
}

// LoadJSONL reads one Record per line from r and indexes them in batches. Blank lines are
// skipped. origin identifies the input for generated IDs and error messages. It returns
// the number of chunks indexed.
func (idx *Indexer) LoadJSONL(ctx context.Context, r io.Reader, origin string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		batch []*models.Chunk
		n     int
		line  int
	)
	flush := func() error {
		if err := idx.IndexChunks(ctx, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return n, fmt.Errorf("%s:%d: invalid record: %w", origin, line, err)
		}
		if rec.ID == "" {
			rec.ID = fileid.ChunkID(origin, line)
		}
		batch = append(batch, rec.chunk())
		if len(batch) >= idx.batchSize {
			if err := flush(); err != nil {
				return n, fmt.Errorf("%s:%d: %w", origin, line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("%s: read failed: %w", origin, err)
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return n, fmt.Errorf("%s: %w", origin, err)
		}
	}
	return n, nil
}

// chunk converts a record. A record without a top-level department falls back to the
// department metadata key; with neither it stays unlabeled.
func (r Record) chunk() *models.Chunk {
	c := &models.Chunk{
		ID:         r.ID,
		Content:    r.Content,
		Department: strings.TrimSpace(r.Department),
		Metadata:   r.Metadata,
	}
	if c.Department == "" {
		c.Department = strings.TrimSpace(c.MetaString(models.MetaDepartment))
	}
	return c
}

// IndexFile loads a JSONL seed file.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	idx.logger.Debug("indexer loading seed file", zap.String("path", absPath))
	n, err := idx.LoadJSONL(ctx, f, absPath)
	if err != nil {
		return n, err
	}
	idx.logger.Info("Seed file indexed", zap.String("path", absPath), zap.Int("chunks", n))
	return n, nil
}

// IndexDirectory walks dir recursively and loads every file whose extension is in
// allowedExts (.jsonl when empty). It returns the number of chunks indexed and stops at
// the first error.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (int, error) {
	if len(allowedExts) == 0 {
		allowedExts = []string{".jsonl"}
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	total := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		n, indexErr := idx.IndexFile(ctx, path)
		total += n
		return indexErr
	})
	return total, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteChunk removes a chunk from all indexes and storage.
func (idx *Indexer) DeleteChunk(ctx context.Context, id string) error {
	idx.logger.Debug("indexer deleting chunk", zap.String("id", id))
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if idx.vectorIndex != nil {
		if err := idx.vectorIndex.Remove(ctx, []string{id}); err != nil {
			return fmt.Errorf("failed to delete from vector index: %w", err)
		}
	}
	if err := idx.storage.DeleteChunk(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}
