package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kakuri/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_Chunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	chunks := []*models.Chunk{
		{ID: "c1", Department: "finance", Content: "Q4 revenue grew", Metadata: map[string]interface{}{"source_file": "q4.md", "section": "Summary"}},
		{ID: "c2", Department: "hr", Content: "Leave policy"},
	}
	if err := store.UpsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetChunk(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Department != "finance" || got.Content != "Q4 revenue grew" {
		t.Errorf("got %+v", got)
	}
	if got.MetaString(models.MetaSourceFile) != "q4.md" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}

	got, err = store.GetChunk(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata != nil {
		t.Errorf("expected nil metadata, got %v", got.Metadata)
	}

	// Upsert replaces content.
	if err := store.UpsertChunks(ctx, []*models.Chunk{{ID: "c2", Department: "HR", Content: "Updated"}}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetChunk(ctx, "c2")
	if got.Content != "Updated" || got.Department != "HR" {
		t.Errorf("upsert did not replace: %+v", got)
	}

	byID, err := store.GetChunks(ctx, []string{"c1", "c2", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 || byID["c1"] == nil || byID["c2"] == nil {
		t.Errorf("GetChunks = %v", byID)
	}

	n, err := store.CountChunks(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountChunks: %v, %d", err, n)
	}

	if err := store.DeleteChunk(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetChunk(ctx, "c1"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestSQLiteStorage_UpsertRejectsEmptyID(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpsertChunks(context.Background(), []*models.Chunk{{ID: "ok", Content: "x"}, {Content: "no id"}})
	if err == nil {
		t.Fatal("expected error")
	}
	n, _ := store.CountChunks(context.Background())
	if n != 0 {
		t.Errorf("failed batch must roll back, found %d chunks", n)
	}
}

func TestSQLiteStorage_GetChunksEmpty(t *testing.T) {
	store := newTestStorage(t)
	got, err := store.GetChunks(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("GetChunks(nil) = %v, %v", got, err)
	}
}

func TestSQLiteStorage_AuditSummary(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	decisions := []models.FilterDecision{
		{RequestID: "r1", ChunkID: "c1", Role: "finance", Department: "finance", Allowed: true, At: now},
		{RequestID: "r1", ChunkID: "c2", Role: "finance", Department: "hr", Allowed: false, At: now},
		{RequestID: "r2", ChunkID: "c2", Role: "hr", Department: "hr", Allowed: true, At: now},
		{RequestID: "r0", ChunkID: "c3", Role: "hr", Department: "finance", Allowed: false, At: now.Add(-48 * time.Hour)},
	}
	if err := store.RecordDecisions(ctx, decisions); err != nil {
		t.Fatal(err)
	}

	all, err := store.AuditSummary(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Totals.Allowed != 2 || all.Totals.Denied != 2 {
		t.Errorf("totals = %+v", all.Totals)
	}
	if all.Requests != 3 {
		t.Errorf("requests = %d, want 3", all.Requests)
	}

	recent, err := store.AuditSummary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if recent.Totals.Total() != 3 {
		t.Errorf("recent total = %d, want 3", recent.Totals.Total())
	}
	if got := recent.ByRole["finance"]; got.Allowed != 1 || got.Denied != 1 {
		t.Errorf("finance = %+v", got)
	}
	if got := recent.ByDepartment["hr"]; got.Allowed != 1 || got.Denied != 1 {
		t.Errorf("hr department = %+v", got)
	}
}

func TestSQLiteStorage_RecordNoDecisions(t *testing.T) {
	store := newTestStorage(t)
	if err := store.RecordDecisions(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}
