package policy

import (
	"os"
	"sync"
	"testing"
)

func TestStore_Reload(t *testing.T) {
	path := writePolicy(t, "department_access:\n  finance: [finance]\n")
	e, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(e, path, nil)

	snapshot := s.Current()
	if !snapshot.IsAllowed("finance", "finance") || snapshot.IsAllowed("finance", "hr") {
		t.Fatal("unexpected initial policy")
	}

	if err := os.WriteFile(path, []byte("department_access:\n  finance: [finance, hr]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if !s.Current().IsAllowed("finance", "hr") {
		t.Error("reloaded policy should grant hr")
	}
	if snapshot.IsAllowed("finance", "hr") {
		t.Error("a snapshot taken before the swap must not change")
	}
	if snapshot.Version() == s.Current().Version() {
		t.Error("version should change after reload")
	}
}

func TestStore_ReloadKeepsCurrentOnError(t *testing.T) {
	path := writePolicy(t, "department_access:\n  finance: [finance]\n")
	e, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(e, path, nil)

	if err := os.WriteFile(path, []byte("department_access: oops\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if s.Current() != e {
		t.Error("failed reload must keep the current engine")
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	a := mustLoad(t, "department_access:\n  r: [a]\n")
	b := mustLoad(t, "department_access:\n  r: [b]\n")
	s := NewStore(a, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e := s.Current()
				// One snapshot must answer consistently.
				if e.IsAllowed("r", "a") == e.IsAllowed("r", "b") {
					t.Error("inconsistent snapshot")
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			s.Swap(b)
		} else {
			s.Swap(a)
		}
	}
	wg.Wait()
}
