package services

import (
	"math"
	"sync"

	"chart_engine_backend/models"
)

// DefaultLODThreshold is the relative price move below which an
// in-bucket update is discarded to cap redraw frequency.
const DefaultLODThreshold = 0.00001

// DisplayMode selects the candle representation the aggregator derives.
type DisplayMode int

const (
	DisplayCandles DisplayMode = iota
	DisplayHeikinAshi
)

// AggregatorUpdate describes one applied tick: the current open candle
// in raw and display form, plus the candle sealed when a bucket
// boundary was crossed.
type AggregatorUpdate struct {
	Key      models.SeriesKey `json:"key"`
	Raw      models.Candle    `json:"raw"`
	Display  models.Candle    `json:"display"`
	Sealed   *models.Candle   `json:"sealed,omitempty"`
	Boundary bool             `json:"boundary"`
}

// Aggregator folds live ticks into the open candle bucket for one
// (symbol, timeframe) pair and incrementally derives the Heikin-Ashi
// representation. Ticks must arrive in order; anything older than the
// current bucket is dropped. Seed and Apply run from different
// goroutines (switch handler vs tick feed), so the reducer state is
// mutex-guarded.
type Aggregator struct {
	key       models.SeriesKey
	mode      DisplayMode
	threshold float64

	mu      sync.Mutex
	raw     models.Candle
	display models.Candle
	hasOpen bool

	lastApplied float64
}

// NewAggregator creates a per-series reducer.
func NewAggregator(key models.SeriesKey, mode DisplayMode, lodThreshold float64) *Aggregator {
	if lodThreshold <= 0 {
		lodThreshold = DefaultLODThreshold
	}
	return &Aggregator{key: key, mode: mode, threshold: lodThreshold}
}

// Seed initializes the open candle from the newest history bar so live
// updates continue the fetched series instead of starting cold.
func (a *Aggregator) Seed(last models.Candle, lastDisplay models.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.raw = last
	a.display = lastDisplay
	a.hasOpen = true
	a.lastApplied = last.Close
}

// Apply folds one tick. The bool reports whether the update was applied
// (false for stale ticks and sub-threshold in-bucket moves).
func (a *Aggregator) Apply(ts int64, price, volume float64) (*AggregatorUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := models.BucketStart(ts, a.key.Timeframe)

	if !a.hasOpen {
		a.startBucket(bucket, price, price, volume)
		a.lastApplied = price
		return a.update(nil, true), true
	}

	switch {
	case bucket < a.raw.Time:
		// Out-of-order or stale tick.
		return nil, false

	case bucket == a.raw.Time:
		if a.belowThreshold(price) {
			return nil, false
		}
		a.extend(price, volume)
		a.lastApplied = price
		return a.update(nil, false), true

	default:
		// Bucket boundary: always applies regardless of magnitude.
		sealed := a.raw
		a.startBucket(bucket, a.raw.Close, price, volume)
		a.lastApplied = price
		return a.update(&sealed, true), true
	}
}

func (a *Aggregator) belowThreshold(price float64) bool {
	if a.lastApplied == 0 {
		return false
	}
	return math.Abs(price-a.lastApplied)/math.Abs(a.lastApplied) < a.threshold
}

// extend updates the open raw candle and rederives the display candle.
func (a *Aggregator) extend(price, volume float64) {
	a.raw.High = math.Max(a.raw.High, price)
	a.raw.Low = math.Min(a.raw.Low, price)
	a.raw.Close = price
	a.raw.Volume += volume
	a.rederiveDisplay()
}

// startBucket seals nothing itself; it opens a fresh bucket whose raw
// open continues from the previous close.
func (a *Aggregator) startBucket(bucket int64, open, price, volume float64) {
	prevDisplay := a.display
	hadOpen := a.hasOpen

	a.raw = models.Candle{
		Time:   bucket,
		Open:   open,
		High:   math.Max(open, price),
		Low:    math.Min(open, price),
		Close:  price,
		Volume: volume,
	}
	a.hasOpen = true

	if a.mode == DisplayHeikinAshi {
		haOpen := (a.raw.Open + a.raw.Close) / 2
		if hadOpen {
			// The defining recurrence: this bar's open is the mean of
			// the previous bar's Heikin-Ashi open and close.
			haOpen = (prevDisplay.Open + prevDisplay.Close) / 2
		}
		a.display = models.Candle{Time: bucket, Open: haOpen, Volume: volume}
		a.rederiveDisplay()
	} else {
		a.display = a.raw
	}
}

// rederiveDisplay recomputes the display candle from the raw bucket.
// In Heikin-Ashi mode the open stays fixed at its bucket-start value;
// close is the mean of the raw OHLC; high/low are the extremes of the
// raw range against the fixed open and derived close.
func (a *Aggregator) rederiveDisplay() {
	if a.mode != DisplayHeikinAshi {
		a.display = a.raw
		return
	}
	d := &a.display
	d.Time = a.raw.Time
	d.Close = (a.raw.Open + a.raw.High + a.raw.Low + a.raw.Close) / 4
	d.High = math.Max(a.raw.High, math.Max(d.Open, d.Close))
	d.Low = math.Min(a.raw.Low, math.Min(d.Open, d.Close))
	d.Volume = a.raw.Volume
}

func (a *Aggregator) update(sealed *models.Candle, boundary bool) *AggregatorUpdate {
	return &AggregatorUpdate{
		Key:      a.key,
		Raw:      a.raw,
		Display:  a.display,
		Sealed:   sealed,
		Boundary: boundary,
	}
}

// OpenCandle returns the current open candle in raw and display form.
func (a *Aggregator) OpenCandle() (raw, display models.Candle, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raw, a.display, a.hasOpen
}

// UpdateListener receives applied aggregator updates.
type UpdateListener func(update *AggregatorUpdate)

// AggregatorService is the registry of per-series reducers. The tick
// feed applies ticks through it in arrival order; applied updates fan
// out to registered listeners (the stream hub, instance refresh).
type AggregatorService struct {
	mu        sync.Mutex
	aggs      map[models.SeriesKey]*Aggregator
	mode      DisplayMode
	threshold float64
	listeners []UpdateListener
}

// NewAggregatorService creates the reducer registry.
func NewAggregatorService(lodThreshold float64) *AggregatorService {
	return &AggregatorService{
		aggs:      make(map[models.SeriesKey]*Aggregator),
		mode:      DisplayCandles,
		threshold: lodThreshold,
	}
}

// SetDisplayMode switches the derived representation for future
// aggregators. Existing reducers keep their mode until resubscribed.
func (s *AggregatorService) SetDisplayMode(mode DisplayMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Track registers (or returns) the reducer for a series.
func (s *AggregatorService) Track(key models.SeriesKey) *Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agg, ok := s.aggs[key]; ok {
		return agg
	}
	agg := NewAggregator(key, s.mode, s.threshold)
	s.aggs[key] = agg
	return agg
}

// Untrack drops the reducer for a series.
func (s *AggregatorService) Untrack(key models.SeriesKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aggs, key)
}

// OnUpdate registers a listener for applied updates.
func (s *AggregatorService) OnUpdate(listener UpdateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// ApplyTick routes one tick to every tracked timeframe of its symbol.
func (s *AggregatorService) ApplyTick(ts int64, tick models.Tick) {
	s.mu.Lock()
	matched := make([]*Aggregator, 0, 2)
	for key, agg := range s.aggs {
		if key.Symbol == tick.Symbol {
			matched = append(matched, agg)
		}
	}
	listeners := s.listeners
	s.mu.Unlock()

	for _, agg := range matched {
		if update, applied := agg.Apply(ts, tick.Price, tick.Volume); applied {
			for _, listener := range listeners {
				listener(update)
			}
		}
	}
}

// TrackedCount returns the number of live reducers.
func (s *AggregatorService) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.aggs)
}
