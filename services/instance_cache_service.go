package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chart_engine_backend/models"
	"chart_engine_backend/services/workers"
)

// DefaultInstanceCapacity bounds the number of fully-prepared chart
// slots kept resident.
const DefaultInstanceCapacity = 10

// PoolSlot is one fully-prepared chart state: candles plus the
// precomputed standard overlay set for a symbol, ready for an
// instantaneous switch.
type PoolSlot struct {
	Symbol         string
	Candles        []models.Candle
	OverlayResults map[string]interface{}
	LastAccessedAt time.Time
}

// InstanceCache keeps a bounded pool of prepared chart states keyed by
// symbol. The active symbol's slot is exempt from eviction.
type InstanceCache struct {
	mu       sync.Mutex
	slots    map[string]*PoolSlot
	active   string
	capacity int

	cache     *SeriesCache
	compute   *ComputeService
	timeframe string
}

// NewInstanceCache creates an instance cache over the series cache and
// compute service, warming at the given default timeframe.
func NewInstanceCache(cache *SeriesCache, compute *ComputeService, timeframe string, capacity int) *InstanceCache {
	if capacity <= 0 {
		capacity = DefaultInstanceCapacity
	}
	return &InstanceCache{
		slots:     make(map[string]*PoolSlot),
		capacity:  capacity,
		cache:     cache,
		compute:   compute,
		timeframe: timeframe,
	}
}

// Get returns the prepared slot for a symbol if resident, marking the
// symbol active and therefore eviction-exempt. It never triggers a
// fetch.
func (ic *InstanceCache) Get(symbol string) (*PoolSlot, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.active = symbol
	slot, ok := ic.slots[symbol]
	if !ok {
		return nil, false
	}
	slot.LastAccessedAt = time.Now()
	return slot, true
}

// Warm populates slots for a priority list of symbols, trimmed to
// capacity. Each slot gets candles plus the standard overlay set.
func (ic *InstanceCache) Warm(ctx context.Context, symbols []string) {
	if len(symbols) > ic.capacity {
		symbols = symbols[:ic.capacity]
	}

	now := time.Now().Unix()
	from := now - 90*24*3600
	for _, symbol := range symbols {
		key := models.SeriesKey{Symbol: symbol, Timeframe: ic.timeframe}
		candles, err := ic.cache.Get(ctx, key, from, now)
		if err != nil {
			log.Printf("Warning: warming %s failed: %v", symbol, err)
			continue
		}
		if len(candles) == 0 {
			continue
		}

		overlays := make(map[string]interface{}, len(StandardOverlays))
		for _, overlay := range StandardOverlays {
			value, err := ic.compute.ExecuteSync(overlay.Kind, candles, overlay.Params)
			if err != nil {
				continue
			}
			overlays[overlayName(overlay.Kind, overlay.Params)] = value
		}

		ic.Set(symbol, candles, overlays)
	}
}

// WarmInBackground defers warming to a background goroutine so the
// caller never blocks.
func (ic *InstanceCache) WarmInBackground(symbols []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		ic.Warm(ctx, symbols)
	}()
}

// Set installs or refreshes a slot, evicting the least-recently-
// accessed non-active slot when over capacity.
func (ic *InstanceCache) Set(symbol string, candles []models.Candle, overlays map[string]interface{}) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.slots[symbol] = &PoolSlot{
		Symbol:         symbol,
		Candles:        candles,
		OverlayResults: overlays,
		LastAccessedAt: time.Now(),
	}
	ic.evictLocked()
}

func (ic *InstanceCache) evictLocked() {
	for len(ic.slots) > ic.capacity {
		var victim string
		var victimAt time.Time
		found := false
		for symbol, slot := range ic.slots {
			if symbol == ic.active {
				continue
			}
			if !found || slot.LastAccessedAt.Before(victimAt) {
				victim = symbol
				victimAt = slot.LastAccessedAt
				found = true
			}
		}
		if !found {
			return
		}
		delete(ic.slots, victim)
	}
}

// Len returns the resident slot count.
func (ic *InstanceCache) Len() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.slots)
}

// GetStats returns pool state for the status endpoint.
func (ic *InstanceCache) GetStats() map[string]interface{} {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	symbols := make([]string, 0, len(ic.slots))
	for symbol := range ic.slots {
		symbols = append(symbols, symbol)
	}
	return map[string]interface{}{
		"slots":    len(ic.slots),
		"capacity": ic.capacity,
		"active":   ic.active,
		"symbols":  symbols,
	}
}

func overlayName(kind workers.TaskKind, params workers.TaskParams) string {
	if params.Period > 0 {
		return fmt.Sprintf("%s_%d", kind, params.Period)
	}
	return kind.String()
}
