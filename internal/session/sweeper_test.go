package session

import (
	"os"
	"testing"
	"time"
)

func TestSweepNow(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 16, testLogger())

	base := time.Now()
	store.now = func() time.Time { return base.Add(-25 * time.Hour) }
	if err := store.Begin("ancient", 2, "a.mkv"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	store.now = func() time.Time { return base }
	if err := store.Begin("recent", 2, "b.mkv"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	orphan := dir + "/upload-lost.part"
	if err := os.WriteFile(orphan, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	old := base.Add(-30 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	sw := NewSweeper(store, 24*time.Hour, time.Minute, testLogger())

	stale, orphans := sw.SweepNow()
	if stale != 1 {
		t.Errorf("stale = %d, want 1", stale)
	}
	if orphans != 1 {
		t.Errorf("orphans = %d, want 1", orphans)
	}

	// A second pass finds nothing new.
	stale, orphans = sw.SweepNow()
	if stale != 0 || orphans != 0 {
		t.Errorf("second sweep = (%d, %d), want (0, 0)", stale, orphans)
	}
	if store.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", store.ActiveCount())
	}
}
