package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/storage"
)

type recordingBackend struct {
	mu        sync.Mutex
	decisions []models.FilterDecision
	calls     int
	err       error
	block     chan struct{}
}

func (b *recordingBackend) RecordDecisions(_ context.Context, ds []models.FilterDecision) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return b.err
	}
	b.decisions = append(b.decisions, ds...)
	return nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.decisions)
}

func decision(i int) models.FilterDecision {
	return models.FilterDecision{ChunkID: fmt.Sprintf("c%d", i), Role: "finance", Department: "finance", Allowed: i%2 == 0, At: time.Now()}
}

func TestAsyncSink_DeliversInOrder(t *testing.T) {
	backend := &recordingBackend{}
	s := NewAsyncSink(backend, WithBatchSize(3))
	for i := 0; i < 10; i++ {
		s.Emit(decision(i))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if backend.count() != 10 {
		t.Fatalf("delivered %d decisions, want 10", backend.count())
	}
	for i, d := range backend.decisions {
		if d.ChunkID != fmt.Sprintf("c%d", i) {
			t.Errorf("decision %d = %s, out of order", i, d.ChunkID)
		}
	}
	if s.Written() != 10 || s.Dropped() != 0 {
		t.Errorf("written=%d dropped=%d", s.Written(), s.Dropped())
	}
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	backend := &recordingBackend{block: make(chan struct{})}
	s := NewAsyncSink(backend, WithBufferSize(2), WithBatchSize(1))

	done := make(chan struct{})
	go func() {
		// Emit must return promptly even though the backend is stuck.
		for i := 0; i < 50; i++ {
			s.Emit(decision(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	close(backend.block)
	_ = s.Close()

	if s.Dropped() == 0 {
		t.Error("expected dropped decisions")
	}
	if got := int64(backend.count()) + s.Dropped(); got != 50 {
		t.Errorf("delivered+dropped = %d, want 50", got)
	}
}

func TestAsyncSink_BackendErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	backend := &recordingBackend{err: errors.New("disk full")}
	s := NewAsyncSink(backend, WithLogger(zap.New(core)))
	s.Emit(decision(1))
	_ = s.Close()

	if logs.FilterMessage("Failed to write audit decisions").Len() != 1 {
		t.Errorf("expected one write failure log, got %v", logs.All())
	}
	if s.Written() != 0 {
		t.Errorf("written = %d, want 0", s.Written())
	}
}

func TestAsyncSink_EmitAfterClose(t *testing.T) {
	backend := &recordingBackend{}
	s := NewAsyncSink(backend)
	_ = s.Close()
	s.Emit(decision(1))
	_ = s.Close()
	if s.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", s.Dropped())
	}
}

func TestAsyncSink_SQLiteBackend(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s := NewAsyncSink(store)
	for i := 0; i < 4; i++ {
		d := decision(i)
		d.RequestID = "req-1"
		s.Emit(d)
	}
	_ = s.Close()

	summary, err := store.AuditSummary(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Totals.Allowed != 2 || summary.Totals.Denied != 2 || summary.Requests != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestLogBackend(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	b := NewLogBackend(zap.New(core))
	if err := b.RecordDecisions(context.Background(), []models.FilterDecision{decision(0), decision(1)}); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterMessage("Filter decision").All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].ContextMap()["allowed"] != false {
		t.Errorf("second decision should be denied: %v", entries[1].ContextMap())
	}
}
