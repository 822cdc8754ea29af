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

// ChartView is the assembled response to a symbol switch: candles plus
// whatever overlays were ready at assembly time.
type ChartView struct {
	Symbol    string                 `json:"symbol"`
	Timeframe string                 `json:"timeframe"`
	Candles   []models.Candle        `json:"candles"`
	Overlays  map[string]interface{} `json:"overlays,omitempty"`
	Source    string                 `json:"source"`
}

// ChartSession tracks the active series for one terminal and runs the
// switch flow: instance pool first, then the series cache cascade. A
// switch supersedes any in-flight switch; the superseded fetch is
// cancelled and its late result discarded.
type ChartSession struct {
	mu        sync.Mutex
	active    models.SeriesKey
	switchSeq uint64
	cancel    context.CancelFunc

	instances  *InstanceCache
	cache      *SeriesCache
	compute    *ComputeService
	aggregator *AggregatorService
	prefetcher *PrefetchScheduler
	archive    *MongoArchive

	watchlist  []string
	historyLen time.Duration
}

// NewChartSession wires the session over the engine services. The
// archive may be nil-configured; snapshot writes degrade silently.
func NewChartSession(instances *InstanceCache, cache *SeriesCache, compute *ComputeService,
	aggregator *AggregatorService, prefetcher *PrefetchScheduler, archive *MongoArchive,
	watchlist []string) *ChartSession {
	return &ChartSession{
		instances:  instances,
		cache:      cache,
		compute:    compute,
		aggregator: aggregator,
		prefetcher: prefetcher,
		archive:    archive,
		watchlist:  watchlist,
		historyLen: 90 * 24 * time.Hour,
	}
}

// Active returns the currently displayed series.
func (s *ChartSession) Active() models.SeriesKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SwitchTo makes a symbol the active chart. It returns the assembled
// view, or an error if the data could not be produced before the
// switch was superseded by a newer one.
func (s *ChartSession) SwitchTo(ctx context.Context, symbol, timeframe string) (*ChartView, error) {
	key := models.SeriesKey{Symbol: symbol, Timeframe: timeframe}

	s.mu.Lock()
	s.switchSeq++
	seq := s.switchSeq
	s.active = key
	if s.cancel != nil {
		// Supersede the in-flight switch.
		s.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.switchSeq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	view, err := s.assemble(fetchCtx, key)
	if err != nil {
		return nil, err
	}

	// A newer switch may have landed while we fetched. Its view owns
	// the chart now; this one is discarded.
	s.mu.Lock()
	superseded := s.switchSeq != seq
	s.mu.Unlock()
	if superseded {
		return nil, fmt.Errorf("switch to %s superseded", key)
	}

	s.afterSwitch(key, view)
	return view, nil
}

// assemble produces the view: instance pool hit is instantaneous,
// otherwise the series cache cascade runs and overlays are computed.
func (s *ChartSession) assemble(ctx context.Context, key models.SeriesKey) (*ChartView, error) {
	if slot, ok := s.instances.Get(key.Symbol); ok {
		return &ChartView{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Candles:   slot.Candles,
			Overlays:  slot.OverlayResults,
			Source:    "instance_pool",
		}, nil
	}

	now := time.Now()
	from := now.Add(-s.historyLen).Unix()
	candles, err := s.cache.Get(ctx, key, from, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to load series %s: %w", key, err)
	}

	overlays := s.computeOverlays(candles)
	s.instances.Set(key.Symbol, candles, overlays)

	return &ChartView{
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		Candles:   candles,
		Overlays:  overlays,
		Source:    "series_cache",
	}, nil
}

func (s *ChartSession) computeOverlays(candles []models.Candle) map[string]interface{} {
	if len(candles) == 0 {
		return nil
	}
	overlays := make(map[string]interface{}, len(StandardOverlays))
	for _, overlay := range StandardOverlays {
		value, err := s.compute.ExecuteSync(overlay.Kind, candles, overlay.Params)
		if err != nil {
			log.Printf("Warning: %s overlay failed: %v", overlay.Kind, err)
			continue
		}
		overlays[overlayName(overlay.Kind, overlay.Params)] = value
	}
	return overlays
}

// afterSwitch runs the post-switch side effects: seed the live
// aggregator from the newest bar, archive the snapshot, and warm the
// prefetch neighborhood.
func (s *ChartSession) afterSwitch(key models.SeriesKey, view *ChartView) {
	if last, ok := models.LastCandle(view.Candles); ok {
		agg := s.aggregator.Track(key)
		agg.Seed(last, last)

		if s.archive != nil {
			go func() {
				if err := s.archive.SaveSnapshot(key, view.Overlays, len(view.Candles), last.Time); err != nil {
					log.Printf("Warning: snapshot archive failed for %s: %v", key, err)
				}
			}()
		}
	}

	s.prefetcher.PrefetchAround(key.Symbol, s.watchlist, key.Timeframe)
}

// Hover warms a single symbol on pointer hover.
func (s *ChartSession) Hover(symbol string) {
	s.mu.Lock()
	timeframe := s.active.Timeframe
	s.mu.Unlock()
	if timeframe == "" {
		timeframe = "1D"
	}
	s.prefetcher.PrefetchOne(symbol, timeframe)
}

// ComputeOverlay runs one ad hoc overlay for the active series through
// the worker pool, memoized.
func (s *ChartSession) ComputeOverlay(ctx context.Context, kind workers.TaskKind, params workers.TaskParams) (interface{}, error) {
	s.mu.Lock()
	key := s.active
	s.mu.Unlock()
	if key.Symbol == "" {
		return nil, fmt.Errorf("no active chart")
	}

	now := time.Now()
	from := now.Add(-s.historyLen).Unix()
	candles, err := s.cache.Get(ctx, key, from, now.Unix())
	if err != nil {
		return nil, err
	}

	select {
	case result := <-s.compute.Execute(kind, candles, params):
		return result.Value, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Watchlist returns the ordered watchlist the session prefetches over.
func (s *ChartSession) Watchlist() []string {
	return s.watchlist
}
