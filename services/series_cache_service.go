package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chart_engine_backend/models"
	"chart_engine_backend/services/compress"
)

// Default series cache settings.
const (
	DefaultHotTTL      = 60 * time.Second
	DefaultDurableTTL  = 10 * time.Minute
	DefaultHotCapacity = 50
)

// HistoryFetcher is the upstream history API dependency.
type HistoryFetcher interface {
	FetchCandles(ctx context.Context, symbol, resolution string, from, to int64) ([]models.Candle, error)
}

type hotEntry struct {
	candles      []models.Candle
	writtenAt    time.Time
	lastAccessed time.Time
}

type inflightFetch struct {
	done    chan struct{}
	candles []models.Candle
	err     error
}

// SeriesCache is the tiered store for candle series: a mutex-guarded
// in-memory hot tier with a short TTL, backed by the compressed durable
// tier, backed by the upstream history API. The hot tier always holds
// plain candle slices so reads cost nothing; compression applies only
// to the durable tier.
//
// Concurrent identical misses for one key collapse onto a single
// upstream request via the in-flight table.
type SeriesCache struct {
	mu       sync.Mutex
	hot      map[models.SeriesKey]*hotEntry
	inflight map[models.SeriesKey]*inflightFetch

	durable *DurableStore
	codec   *compress.Codec
	fetcher HistoryFetcher

	hotTTL   time.Duration
	capacity int
}

// NewSeriesCache creates a series cache. durable may be nil, in which
// case the cache runs hot-tier-only.
func NewSeriesCache(durable *DurableStore, codec *compress.Codec, fetcher HistoryFetcher, hotTTL time.Duration, capacity int) *SeriesCache {
	if hotTTL <= 0 {
		hotTTL = DefaultHotTTL
	}
	if capacity <= 0 {
		capacity = DefaultHotCapacity
	}
	return &SeriesCache{
		hot:      make(map[models.SeriesKey]*hotEntry),
		inflight: make(map[models.SeriesKey]*inflightFetch),
		durable:  durable,
		codec:    codec,
		fetcher:  fetcher,
		hotTTL:   hotTTL,
		capacity: capacity,
	}
}

// GetHot is the non-blocking read used for first paint: it returns data
// only when present and within the hot TTL.
func (c *SeriesCache) GetHot(key models.SeriesKey) ([]models.Candle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.hot[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.writtenAt) > c.hotTTL {
		return nil, false
	}
	entry.lastAccessed = time.Now()
	return entry.candles, true
}

// Get cascades hot tier -> durable tier -> upstream fetch. A durable
// hit rehydrates the hot tier; an upstream hit writes both tiers. A
// fetch failure propagates without mutating cache state.
func (c *SeriesCache) Get(ctx context.Context, key models.SeriesKey, from, to int64) ([]models.Candle, error) {
	if candles, ok := c.GetHot(key); ok {
		return candles, nil
	}

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.candles, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightFetch{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.candles, call.err = c.fill(ctx, key, from, to)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.candles, call.err
}

// fill resolves a hot-tier miss from the durable tier or upstream.
func (c *SeriesCache) fill(ctx context.Context, key models.SeriesKey, from, to int64) ([]models.Candle, error) {
	if candles, ok := c.loadDurable(key); ok {
		c.setHot(key, candles)
		return candles, nil
	}

	candles, err := c.fetcher.FetchCandles(ctx, key.Symbol, key.Timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch for %s failed: %w", key, err)
	}

	c.Put(key, candles)
	return candles, nil
}

// Put writes a series to both tiers. Durable-tier failures degrade
// silently to hot-tier-only operation.
func (c *SeriesCache) Put(key models.SeriesKey, candles []models.Candle) {
	c.setHot(key, candles)

	if c.durable == nil || c.codec == nil {
		return
	}
	packed, err := c.codec.Encode(candles)
	if err != nil {
		log.Printf("Warning: failed to pack series %s: %v", key, err)
		return
	}
	if err := c.durable.Save(key.StorageKey(), packed); err != nil {
		log.Printf("Warning: durable write for %s failed, continuing hot-tier only: %v", key, err)
	}
}

// loadDurable attempts a durable-tier read. Corrupt or undecodable
// entries are deleted and treated as a miss.
func (c *SeriesCache) loadDurable(key models.SeriesKey) ([]models.Candle, bool) {
	if c.durable == nil || c.codec == nil {
		return nil, false
	}

	packed, err := c.durable.Load(key.StorageKey())
	if err != nil {
		if !errors.Is(err, ErrSeriesNotFound) {
			log.Printf("Warning: durable read for %s failed: %v", key, err)
		}
		return nil, false
	}

	candles, err := c.codec.Decode(packed)
	if err != nil {
		log.Printf("Warning: corrupt durable entry for %s, dropping: %v", key, err)
		if delErr := c.durable.Delete(key.StorageKey()); delErr != nil {
			log.Printf("Warning: failed to drop corrupt entry %s: %v", key, delErr)
		}
		return nil, false
	}
	if len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

func (c *SeriesCache) setHot(key models.SeriesKey, candles []models.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.hot[key] = &hotEntry{candles: candles, writtenAt: now, lastAccessed: now}
	c.evictHotLocked()
}

// EvictHot enforces the hot-tier capacity bound (LRU, independent of
// TTL).
func (c *SeriesCache) EvictHot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictHotLocked()
}

func (c *SeriesCache) evictHotLocked() {
	for len(c.hot) > c.capacity {
		var oldest models.SeriesKey
		var oldestAt time.Time
		first := true
		for key, entry := range c.hot {
			if first || entry.lastAccessed.Before(oldestAt) {
				oldest = key
				oldestAt = entry.lastAccessed
				first = false
			}
		}
		delete(c.hot, oldest)
	}
}

// SweepExpiredHot drops hot entries past their TTL to release memory.
// Validity is already governed by the TTL check in GetHot; this only
// reclaims space. Returns the number removed.
func (c *SeriesCache) SweepExpiredHot() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.hot {
		if time.Since(entry.writtenAt) > c.hotTTL {
			delete(c.hot, key)
			removed++
		}
	}
	return removed
}

// HotLen returns the hot-tier entry count.
func (c *SeriesCache) HotLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hot)
}

// GetStats returns cache state for the status endpoint.
func (c *SeriesCache) GetStats() map[string]interface{} {
	c.mu.Lock()
	hotLen := len(c.hot)
	inflight := len(c.inflight)
	c.mu.Unlock()

	stats := map[string]interface{}{
		"hot_entries":  hotLen,
		"hot_capacity": c.capacity,
		"in_flight":    inflight,
	}
	if c.durable != nil {
		if count, err := c.durable.Count(); err == nil {
			stats["durable_entries"] = count
		}
	}
	return stats
}
