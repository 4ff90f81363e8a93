package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kakuri/internal/embedding"
	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/internal/keyword"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/ranking"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/vector"
)

var corpus = []*models.Chunk{
	{ID: "fin-1", Department: "finance", Content: "quarterly revenue grew fifteen percent", Metadata: map[string]interface{}{"section": "Revenue"}},
	{ID: "hr-1", Department: "hr", Content: "annual leave accrues monthly"},
	{ID: "eng-1", Department: "engineering", Content: "deploy pipeline runs nightly"},
}

type fixture struct {
	store    *storage.SQLiteStorage
	embedder embedding.Embedder
	vectors  *vector.MemoryIndex
	keywords *keyword.BleveIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "kakuri.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.UpsertChunks(ctx, corpus); err != nil {
		t.Fatal(err)
	}

	emb := embedding.NewHashEmbedder(64)
	vecs, err := vector.NewMemoryIndex(64)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	for _, c := range corpus {
		v, err := emb.Embed(ctx, c.Content)
		if err != nil {
			t.Fatal(err)
		}
		if err := vecs.Add(ctx, []string{c.ID}, [][]float32{v}); err != nil {
			t.Fatal(err)
		}
		if err := kw.Index(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{store: store, embedder: emb, vectors: vecs, keywords: kw}
}

func TestVectorSource_Search(t *testing.T) {
	f := newFixture(t)
	src := NewVectorSource(f.embedder, f.vectors, f.store, nil)

	if src.Direction() != ranking.LowerIsBetter {
		t.Errorf("memory index should be lower-is-better, got %v", src.Direction())
	}
	got, err := src.Search(context.Background(), "annual leave accrues monthly", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if got[0].ID != "hr-1" {
		t.Errorf("best match = %s, want hr-1", got[0].ID)
	}
	if got[0].Department != "hr" || got[0].Content == "" {
		t.Errorf("chunk not hydrated: %+v", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i].RawScore < got[i-1].RawScore {
			t.Error("distances must ascend")
		}
	}
}

func TestVectorSource_SkipsMissingChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.DeleteChunk(ctx, "hr-1"); err != nil {
		t.Fatal(err)
	}
	src := NewVectorSource(f.embedder, f.vectors, f.store, nil)
	got, err := src.Search(ctx, "annual leave", 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range got {
		if c.ID == "hr-1" {
			t.Error("chunk missing from store must be skipped")
		}
	}
}

func TestKeywordSource_Search(t *testing.T) {
	f := newFixture(t)
	src := NewKeywordSource(f.keywords, f.store, nil, nil)

	if src.Direction() != ranking.HigherIsBetter {
		t.Errorf("keyword direction = %v", src.Direction())
	}
	got, err := src.Search(context.Background(), "revenue", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "fin-1" {
		t.Fatalf("got %+v", got)
	}
	if got[0].RawScore <= 0 || got[0].RawScore >= 1 {
		t.Errorf("keyword score should saturate into (0,1), got %v", got[0].RawScore)
	}
	src.Rescale(got)
	if got[0].RawScore != 1 {
		t.Errorf("best rescaled hit should be 1, got %v", got[0].RawScore)
	}
}

type failingSource struct{ err error }

func (f failingSource) Search(context.Context, string, int) ([]*models.Chunk, error) {
	return nil, f.err
}

func (failingSource) Name() string { return "failing" }

func (failingSource) Direction() ranking.Direction { return ranking.HigherIsBetter }

func TestHybridSource_Search(t *testing.T) {
	f := newFixture(t)
	vec := NewVectorSource(f.embedder, f.vectors, f.store, nil)
	kw := NewKeywordSource(f.keywords, f.store, nil, nil)
	src, err := NewHybridSource(vec, kw, 0.5, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := src.Search(context.Background(), "revenue grew", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
	if got[0].ID != "fin-1" {
		t.Errorf("best fused = %s, want fin-1", got[0].ID)
	}
	for _, c := range got {
		if c.RawScore < 0 || c.RawScore > 1 {
			t.Errorf("fused score out of range: %v", c.RawScore)
		}
	}
}

func TestHybridSource_PropagatesFailure(t *testing.T) {
	f := newFixture(t)
	kw := NewKeywordSource(f.keywords, f.store, nil, nil)
	boom := errs.Upstream("vector search", errors.New("connection refused"))
	src, err := NewHybridSource(failingSource{err: boom}, kw, 0.5, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = src.Search(context.Background(), "revenue", 5)
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestNewHybridSource_InvalidWeights(t *testing.T) {
	for _, w := range [][2]float64{{0, 0}, {-1, 1}, {1, -0.5}} {
		if _, err := NewHybridSource(nil, nil, w[0], w[1], nil); err == nil {
			t.Errorf("weights %v should be rejected", w)
		}
	}
}
