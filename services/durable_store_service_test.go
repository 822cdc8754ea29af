package services

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *DurableStore {
	t.Helper()
	store, err := NewDurableStore(filepath.Join(t.TempDir(), "series.db"), ttl)
	if err != nil {
		t.Fatalf("NewDurableStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDurableStoreSaveLoad(t *testing.T) {
	store := newTestStore(t, time.Minute)

	blob := []byte(`{"base":{"time":60}}`)
	if err := store.Save("AAPL_1D", blob); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load("AAPL_1D")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("Load = %q, want %q", got, blob)
	}

	// Save replaces the previous entry.
	if err := store.Save("AAPL_1D", []byte("v2")); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, _ = store.Load("AAPL_1D")
	if string(got) != "v2" {
		t.Fatal("Save did not replace entry")
	}
	if count, _ := store.Count(); count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestDurableStoreMiss(t *testing.T) {
	store := newTestStore(t, time.Minute)
	if _, err := store.Load("MISSING_1D"); !errors.Is(err, ErrSeriesNotFound) {
		t.Fatalf("error = %v, want ErrSeriesNotFound", err)
	}
}

func TestDurableStoreExpiry(t *testing.T) {
	store := newTestStore(t, 50*time.Millisecond)

	if err := store.Save("MSFT_1D", []byte("x")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := store.Load("MSFT_1D"); !errors.Is(err, ErrSeriesNotFound) {
		t.Fatalf("expired load error = %v, want ErrSeriesNotFound", err)
	}
	// Expired row was pruned on the way out.
	if count, _ := store.Count(); count != 0 {
		t.Fatalf("count after lazy prune = %d, want 0", count)
	}
}

func TestDurableStorePruneExpired(t *testing.T) {
	store := newTestStore(t, 50*time.Millisecond)

	store.Save("A_1D", []byte("a"))
	store.Save("B_1D", []byte("b"))
	time.Sleep(80 * time.Millisecond)
	store.Save("C_1D", []byte("c"))

	removed, err := store.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := store.Load("C_1D"); err != nil {
		t.Fatalf("fresh entry lost: %v", err)
	}
}
