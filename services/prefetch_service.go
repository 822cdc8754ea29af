package services

import (
	"context"
	"log"
	"time"

	"chart_engine_backend/models"
)

// Prefetch neighborhood: the next 5 and previous 2 symbols on the
// ordered watchlist, wrapping around at the ends.
const (
	PrefetchAhead  = 5
	PrefetchBehind = 2
)

// PrefetchScheduler predictively warms the series cache for symbols
// likely to be viewed next. All fetching happens on background
// goroutines; results are advisory and a miss still falls through the
// normal cascade.
type PrefetchScheduler struct {
	cache      *SeriesCache
	historyLen time.Duration
}

// NewPrefetchScheduler creates a prefetcher over the series cache.
func NewPrefetchScheduler(cache *SeriesCache) *PrefetchScheduler {
	return &PrefetchScheduler{
		cache:      cache,
		historyLen: 90 * 24 * time.Hour,
	}
}

// Neighborhood returns the prefetch targets around the current symbol
// on the ordered watchlist, wrap-around included and the current symbol
// excluded.
func Neighborhood(current string, watchlist []string) []string {
	if len(watchlist) < 2 {
		return nil
	}

	pos := -1
	for i, symbol := range watchlist {
		if symbol == current {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}

	n := len(watchlist)
	seen := map[string]bool{current: true}
	targets := make([]string, 0, PrefetchAhead+PrefetchBehind)
	for i := 1; i <= PrefetchAhead; i++ {
		symbol := watchlist[(pos+i)%n]
		if !seen[symbol] {
			seen[symbol] = true
			targets = append(targets, symbol)
		}
	}
	for i := 1; i <= PrefetchBehind; i++ {
		symbol := watchlist[((pos-i)%n+n)%n]
		if !seen[symbol] {
			seen[symbol] = true
			targets = append(targets, symbol)
		}
	}
	return targets
}

// PrefetchAround warms the cache for the neighborhood of the current
// symbol. It returns immediately; fetches run on goroutines.
func (p *PrefetchScheduler) PrefetchAround(current string, watchlist []string, timeframe string) {
	targets := Neighborhood(current, watchlist)
	for _, symbol := range targets {
		go p.fetch(symbol, timeframe)
	}
}

// PrefetchOne is the lighter hover-triggered variant: it no-ops when
// the symbol is already hot-resident.
func (p *PrefetchScheduler) PrefetchOne(symbol, timeframe string) {
	key := models.SeriesKey{Symbol: symbol, Timeframe: timeframe}
	if _, ok := p.cache.GetHot(key); ok {
		return
	}
	go p.fetch(symbol, timeframe)
}

func (p *PrefetchScheduler) fetch(symbol, timeframe string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := models.SeriesKey{Symbol: symbol, Timeframe: timeframe}
	now := time.Now()
	from := now.Add(-p.historyLen).Unix()
	if _, err := p.cache.Get(ctx, key, from, now.Unix()); err != nil {
		// Prefetch results are advisory; a failed warm is only logged.
		log.Printf("Prefetch for %s skipped: %v", key, err)
	}
}
