package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/fileid"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
)

const seed = `{"id": "fin-1", "department": "finance", "content": "Q4 revenue grew 15%.", "metadata": {"source_file": "q4.md", "section": "Revenue"}}

{"department": "hr", "content": "Annual leave accrues monthly."}
{"content": "Unlabeled note.", "metadata": {"department": "engineering"}}
{"content": "No department at all."}
`

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".jsonl", []string{".jsonl"}, true},
		{".JSONL", []string{"jsonl"}, true},
		{".json", []string{".jsonl"}, false},
		{"", []string{".jsonl"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

type testEnv struct {
	idx     *Indexer
	store   storage.Storage
	vectors *vector.MemoryIndex
	kw      *keyword.BleveIndex
}

func newTestEnv(t *testing.T, dir string, opts ...IndexerOption) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vecIndex, err := vector.NewMemoryIndex(32)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = vecIndex.Close() })
	kwIndex, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kwIndex.Close() })
	idx := NewIndexer(store, embedding.NewHashEmbedder(32), vecIndex, kwIndex, opts...)
	return &testEnv{idx: idx, store: store, vectors: vecIndex, kw: kwIndex}
}

func writeSeed(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestIndexFile(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, WithBatchSize(2))
	ctx := context.Background()
	path := filepath.Join(dir, "seed.jsonl")
	writeSeed(t, path, seed)

	n, err := env.idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("indexed %d chunks, want 4", n)
	}
	if count, _ := env.store.CountChunks(ctx); count != 4 {
		t.Errorf("stored %d chunks", count)
	}
	if env.vectors.Size() != 4 {
		t.Errorf("vector index size = %d", env.vectors.Size())
	}
	if docs, _ := env.kw.DocCount(); docs != 4 {
		t.Errorf("keyword doc count = %d", docs)
	}

	c, err := env.store.GetChunk(ctx, "fin-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Department != "finance" || c.MetaString("section") != "Revenue" {
		t.Errorf("unexpected chunk %+v", c)
	}

	abs, _ := filepath.Abs(path)
	hr, err := env.store.GetChunk(ctx, fileid.ChunkID(abs, 3))
	if err != nil {
		t.Fatalf("generated id should use the line number: %v", err)
	}
	if hr.Department != "hr" {
		t.Errorf("department = %q", hr.Department)
	}
	eng, _ := env.store.GetChunk(ctx, fileid.ChunkID(abs, 4))
	if eng == nil || eng.Department != "engineering" {
		t.Errorf("metadata department fallback failed: %+v", eng)
	}
	none, _ := env.store.GetChunk(ctx, fileid.ChunkID(abs, 5))
	if none == nil || none.Department != "" {
		t.Errorf("chunk without department must stay unlabeled: %+v", none)
	}

	// Re-seeding upserts instead of duplicating.
	if _, err := env.idx.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if count, _ := env.store.CountChunks(ctx); count != 4 {
		t.Errorf("re-seed duplicated chunks: %d", count)
	}
	if env.vectors.Size() != 4 {
		t.Errorf("re-seed duplicated vectors: %d", env.vectors.Size())
	}
}

func TestLoadJSONL_InvalidLine(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	input := `{"id": "a", "content": "ok"}` + "\n" + `{"id": "b", "content": ` + "\n"
	_, err := env.idx.LoadJSONL(context.Background(), strings.NewReader(input), "inline")
	if err == nil || !strings.Contains(err.Error(), "inline:2") {
		t.Errorf("expected error naming line 2, got %v", err)
	}
}

func TestLoadJSONL_EmptyContent(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	_, err := env.idx.LoadJSONL(context.Background(), strings.NewReader(`{"id": "a", "content": "  "}`), "inline")
	if err == nil {
		t.Error("expected error for empty content")
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir)
	data := filepath.Join(dir, "data", "nested")
	if err := os.MkdirAll(data, 0755); err != nil {
		t.Fatal(err)
	}
	writeSeed(t, filepath.Join(data, "a.jsonl"), `{"id": "a", "content": "alpha"}`)
	writeSeed(t, filepath.Join(dir, "data", "b.jsonl"), `{"id": "b", "content": "beta"}`)
	writeSeed(t, filepath.Join(dir, "data", "notes.txt"), "ignored")

	n, err := env.idx.IndexDirectory(context.Background(), filepath.Join(dir, "data"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("indexed %d, want 2", n)
	}

	if _, err := env.idx.IndexDirectory(context.Background(), filepath.Join(dir, "data", "b.jsonl"), nil); err == nil {
		t.Error("expected error for a non-directory")
	}
}

func TestDeleteChunk(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir)
	ctx := context.Background()
	if _, err := env.idx.LoadJSONL(ctx, strings.NewReader(`{"id": "a", "content": "alpha"}`), "inline"); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.DeleteChunk(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.GetChunk(ctx, "a"); err == nil {
		t.Error("chunk should be deleted")
	}
	if env.vectors.Size() != 0 {
		t.Error("vector should be removed")
	}
	if docs, _ := env.kw.DocCount(); docs != 0 {
		t.Error("keyword doc should be removed")
	}
}
