package services

import (
	"fmt"
	"sync"
	"time"

	"chart_engine_backend/models"
	"chart_engine_backend/services/workers"
)

// Default memo settings.
const (
	DefaultMemoCapacity = 1000
	DefaultMemoMaxAge   = 5 * time.Minute
)

// Fingerprint is the cheap identity for a computed overlay: two
// calculations with equal fingerprints are assumed to produce equal
// results. Callers must derive it identically between Get and Set.
type Fingerprint struct {
	Kind         workers.TaskKind
	Params       string
	SeriesLength int
	LastTime     int64
	LastClose    float64
}

// NewFingerprint derives the memo identity for a series + task pair.
func NewFingerprint(kind workers.TaskKind, candles []models.Candle, params workers.TaskParams) Fingerprint {
	fp := Fingerprint{
		Kind:         kind,
		Params:       fmt.Sprintf("%d/%d/%d/%d/%g", params.Period, params.Fast, params.Slow, params.Signal, params.Width),
		SeriesLength: len(candles),
	}
	if last, ok := models.LastCandle(candles); ok {
		fp.LastTime = last.Time
		fp.LastClose = last.Close
	}
	return fp
}

type memoEntry struct {
	value        interface{}
	storedAt     time.Time
	lastAccessed time.Time
}

// ResultMemo is a capacity-bounded memoization cache in front of
// overlay computation. Eviction is least-recently-accessed; an
// independent periodic prune drops stale entries regardless of access
// order.
type ResultMemo struct {
	mu       sync.Mutex
	entries  map[Fingerprint]*memoEntry
	capacity int
	maxAge   time.Duration
	hits     uint64
	misses   uint64
}

// NewResultMemo creates a memo cache with the given capacity and
// staleness horizon.
func NewResultMemo(capacity int, maxAge time.Duration) *ResultMemo {
	if capacity <= 0 {
		capacity = DefaultMemoCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultMemoMaxAge
	}
	return &ResultMemo{
		entries:  make(map[Fingerprint]*memoEntry),
		capacity: capacity,
		maxAge:   maxAge,
	}
}

// Get returns the memoized value for a fingerprint, if present.
func (m *ResultMemo) Get(fp Fingerprint) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[fp]
	if !ok {
		m.misses++
		return nil, false
	}
	entry.lastAccessed = time.Now()
	m.hits++
	return entry.value, true
}

// Set stores a computed value, evicting the least-recently-accessed
// entry when over capacity.
func (m *ResultMemo) Set(fp Fingerprint, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.entries[fp] = &memoEntry{value: value, storedAt: now, lastAccessed: now}

	for len(m.entries) > m.capacity {
		var oldest Fingerprint
		var oldestAt time.Time
		first := true
		for key, entry := range m.entries {
			if first || entry.lastAccessed.Before(oldestAt) {
				oldest = key
				oldestAt = entry.lastAccessed
				first = false
			}
		}
		delete(m.entries, oldest)
	}
}

// Prune removes entries stored longer ago than the staleness horizon,
// regardless of access order. Returns the number removed.
func (m *ResultMemo) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.maxAge)
	removed := 0
	for key, entry := range m.entries {
		if entry.storedAt.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (m *ResultMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// GetStats returns hit/miss counters for the status endpoint.
func (m *ResultMemo) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"entries":  len(m.entries),
		"capacity": m.capacity,
		"hits":     m.hits,
		"misses":   m.misses,
	}
}
