package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kakuri/internal/policy"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) onChange(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func startWatcher(t *testing.T, files []string, onChange func(string)) *Watcher {
	t.Helper()
	w, err := NewWatcher(files, onChange, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "a")

	rec := &recorder{}
	startWatcher(t, []string{path}, rec.onChange)

	for i := 0; i < 5; i++ {
		writeFile(t, path, "burst")
	}
	waitFor(t, func() bool { return rec.count() >= 1 })
	time.Sleep(200 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("a burst of writes should fire once, got %d", n)
	}
	abs, _ := filepath.Abs(path)
	if rec.paths[0] != abs {
		t.Errorf("path = %s, want %s", rec.paths[0], abs)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "a")

	rec := &recorder{}
	startWatcher(t, []string{path}, rec.onChange)

	writeFile(t, filepath.Join(dir, "other.yaml"), "b")
	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("unrelated file fired %d callbacks", n)
	}
}

func TestWatcher_SeesReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "a")

	rec := &recorder{}
	startWatcher(t, []string{path}, rec.onChange)

	tmp := filepath.Join(dir, ".policy.yaml.tmp")
	writeFile(t, tmp, "b")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.count() >= 1 })
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "a")

	rec := &recorder{}
	w, err := NewWatcher([]string{path}, rec.onChange, WithDebounce(300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "b")
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(400 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("stopped watcher fired %d callbacks", n)
	}
}

func TestWatcher_ReloadsPolicyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writeFile(t, path, "department_access:\n  finance: [finance]\n")

	engine, err := policy.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	store := policy.NewStore(engine, path, nil)
	startWatcher(t, []string{path}, func(string) { _ = store.Reload() })

	writeFile(t, path, "department_access:\n  finance: [finance, hr]\n")
	waitFor(t, func() bool { return store.Current().IsAllowed("finance", "hr") })

	before := store.Current().Version()
	writeFile(t, path, "department_access: [broken")
	time.Sleep(300 * time.Millisecond)
	if store.Current().Version() != before {
		t.Error("a malformed policy must not replace the current one")
	}
}

func TestNewWatcher_DeduplicatesDirs(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.dirs) != 1 || len(w.Files()) != 2 {
		t.Errorf("dirs = %v files = %v", w.dirs, w.Files())
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}
