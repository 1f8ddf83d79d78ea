package history

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestLookupMissing(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	_, found, err := s.Lookup("SSD", "m1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected no entry")
	}
}

func TestRecordIncrementsAndOverwrites(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	if err := s.Record("SSD", "m1", "LlamaRuntime", []string{"P40/0"}, map[string]any{"context": 4096}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record("SSD", "m1", "KoboldCpp", []string{"P40/1"}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	entry, found, err := s.Lookup("SSD", "m1")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if entry.LaunchCount != 2 {
		t.Fatalf("count: %d", entry.LaunchCount)
	}
	if entry.LastRuntime != "KoboldCpp" {
		t.Fatalf("last runtime: %s", entry.LastRuntime)
	}
	if len(entry.LastEnvironment) != 1 || entry.LastEnvironment[0] != "P40/1" {
		t.Fatalf("last env: %v", entry.LastEnvironment)
	}
	if entry.LastLaunch.IsZero() {
		t.Fatal("last launch not stamped")
	}
}

func TestRecordSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	if err := s.Record("SSD", "m1", "LlamaRuntime", nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := openStore(t, dir)
	defer s2.Close()
	entry, found, err := s2.Lookup("SSD", "m1")
	if err != nil || !found {
		t.Fatalf("lookup after reopen: found=%v err=%v", found, err)
	}
	if entry.LaunchCount != 1 {
		t.Fatalf("count after reopen: %d", entry.LaunchCount)
	}
}

func TestConcurrentRecordsSameKey(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Record("SSD", "hot", "LlamaRuntime", nil, nil); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	entry, found, err := s.Lookup("SSD", "hot")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if entry.LaunchCount != n {
		t.Fatalf("expected %d launches recorded, got %d", n, entry.LaunchCount)
	}
}

func TestConcurrentRecordsDifferentKeys(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	names := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, name := range names {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(n string) {
				defer wg.Done()
				if err := s.Record("SSD", n, "LlamaRuntime", nil, nil); err != nil {
					t.Errorf("record %s: %v", n, err)
				}
			}(name)
		}
	}
	wg.Wait()

	for _, name := range names {
		entry, found, err := s.Lookup("SSD", name)
		if err != nil || !found {
			t.Fatalf("lookup %s: found=%v err=%v", name, found, err)
		}
		if entry.LaunchCount != 4 {
			t.Fatalf("%s: count %d", name, entry.LaunchCount)
		}
	}
}
