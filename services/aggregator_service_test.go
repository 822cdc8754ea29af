package services

import (
	"sync"
	"testing"

	"chart_engine_backend/models"
)

var aggKey = models.SeriesKey{Symbol: "AAPL", Timeframe: "1"}

func TestAggregatorBucketSequence(t *testing.T) {
	agg := NewAggregator(aggKey, DisplayCandles, DefaultLODThreshold)

	// First tick opens a bucket at the aligned start.
	update, applied := agg.Apply(100, 10, 1)
	if !applied {
		t.Fatal("first tick not applied")
	}
	if update.Raw.Time != 60 {
		t.Fatalf("first bucket = %d, want 60", update.Raw.Time)
	}
	if update.Raw.Open != 10 || update.Raw.Close != 10 {
		t.Fatalf("first candle OHLC wrong: %+v", update.Raw)
	}

	// Next tick lands in the following bucket: the first is sealed and
	// the new candle opens at the previous close.
	update, applied = agg.Apply(130, 12, 2)
	if !applied {
		t.Fatal("boundary tick not applied")
	}
	if !update.Boundary || update.Sealed == nil {
		t.Fatal("bucket boundary not reported")
	}
	if update.Sealed.Time != 60 || update.Sealed.Close != 10 {
		t.Fatalf("sealed candle wrong: %+v", update.Sealed)
	}
	if update.Raw.Time != 120 {
		t.Fatalf("second bucket = %d, want 120", update.Raw.Time)
	}
	if update.Raw.Open != 10 {
		t.Fatalf("new candle open = %v, want previous close 10", update.Raw.Open)
	}
	if update.Raw.High != 12 {
		t.Fatalf("new candle high = %v, want 12", update.Raw.High)
	}

	// Same bucket: extends the open candle.
	update, applied = agg.Apply(170, 9, 1)
	if !applied {
		t.Fatal("in-bucket tick not applied")
	}
	if update.Boundary {
		t.Fatal("in-bucket tick reported as boundary")
	}
	if update.Raw.Time != 120 || update.Raw.Close != 9 || update.Raw.Low != 9 || update.Raw.High != 12 {
		t.Fatalf("extended candle wrong: %+v", update.Raw)
	}
	if update.Raw.Volume != 3 {
		t.Fatalf("volume = %v, want 3", update.Raw.Volume)
	}
}

func TestAggregatorDropsStaleTicks(t *testing.T) {
	agg := NewAggregator(aggKey, DisplayCandles, DefaultLODThreshold)
	agg.Apply(130, 12, 1)

	if _, applied := agg.Apply(100, 50, 1); applied {
		t.Fatal("tick older than the open bucket must be dropped")
	}
	raw, _, _ := agg.OpenCandle()
	if raw.High != 12 {
		t.Fatal("stale tick mutated the open candle")
	}
}

func TestAggregatorLODFilter(t *testing.T) {
	agg := NewAggregator(aggKey, DisplayCandles, DefaultLODThreshold)
	agg.Apply(100, 100000, 1)

	// A move below 0.001% of the last applied price is discarded.
	if _, applied := agg.Apply(101, 100000.0005, 1); applied {
		t.Fatal("sub-threshold move applied")
	}
	raw, _, _ := agg.OpenCandle()
	if raw.Volume != 1 {
		t.Fatal("discarded tick still accumulated volume")
	}

	// A meaningful move applies.
	if _, applied := agg.Apply(102, 100010, 1); !applied {
		t.Fatal("above-threshold move discarded")
	}

	// A sub-threshold move across a bucket boundary still applies.
	if update, applied := agg.Apply(160, 100010.0001, 1); !applied || !update.Boundary {
		t.Fatal("boundary tick must always apply")
	}
}

func TestAggregatorHeikinAshiRecurrence(t *testing.T) {
	agg := NewAggregator(aggKey, DisplayHeikinAshi, DefaultLODThreshold)

	agg.Apply(30, 10, 1)
	agg.Apply(40, 14, 1)
	_, display1, _ := agg.OpenCandle()

	update, _ := agg.Apply(70, 12, 1)
	wantOpen := (display1.Open + display1.Close) / 2
	if update.Display.Open != wantOpen {
		t.Fatalf("HA open = %v, want recurrence value %v", update.Display.Open, wantOpen)
	}

	// HA close is the mean of the raw OHLC of the open bucket.
	raw := update.Raw
	wantClose := (raw.Open + raw.High + raw.Low + raw.Close) / 4
	if update.Display.Close != wantClose {
		t.Fatalf("HA close = %v, want %v", update.Display.Close, wantClose)
	}

	// In-bucket ticks rederive close but keep the open fixed.
	update, _ = agg.Apply(80, 16, 1)
	if update.Display.Open != wantOpen {
		t.Fatal("HA open changed mid-bucket")
	}
}

func TestAggregatorSeedContinuesSeries(t *testing.T) {
	agg := NewAggregator(aggKey, DisplayCandles, DefaultLODThreshold)
	last := models.Candle{Time: 600, Open: 9, High: 11, Low: 8, Close: 10, Volume: 500}
	agg.Seed(last, last)

	update, applied := agg.Apply(700, 12, 1)
	if !applied {
		t.Fatal("tick after seed not applied")
	}
	if update.Sealed == nil || update.Sealed.Close != 10 {
		t.Fatal("seeded candle not sealed at boundary")
	}
	if update.Raw.Open != 10 {
		t.Fatalf("open = %v, want seeded close 10", update.Raw.Open)
	}
}

func TestAggregatorConcurrentSeedAndApply(t *testing.T) {
	// A switch handler seeds the reducer while the tick feed applies
	// ticks; both paths mutate the open candle and must serialize.
	svc := NewAggregatorService(DefaultLODThreshold)
	key := models.SeriesKey{Symbol: "AAPL", Timeframe: "1"}
	agg := svc.Track(key)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			agg.Seed(models.Candle{Time: 600, Open: 9, High: 11, Low: 8, Close: 10, Volume: 500},
				models.Candle{Time: 600, Open: 9, High: 11, Low: 8, Close: 10, Volume: 500})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			svc.ApplyTick(int64(700+i), models.Tick{Symbol: "AAPL", Price: 10 + float64(i%5), Volume: 1})
		}
	}()
	wg.Wait()

	if _, _, ok := agg.OpenCandle(); !ok {
		t.Fatal("reducer lost its open candle")
	}
}

func TestAggregatorServiceRouting(t *testing.T) {
	svc := NewAggregatorService(DefaultLODThreshold)
	svc.Track(models.SeriesKey{Symbol: "AAPL", Timeframe: "1"})
	svc.Track(models.SeriesKey{Symbol: "AAPL", Timeframe: "5"})
	svc.Track(models.SeriesKey{Symbol: "MSFT", Timeframe: "1"})

	var updates []*AggregatorUpdate
	svc.OnUpdate(func(u *AggregatorUpdate) {
		updates = append(updates, u)
	})

	svc.ApplyTick(100, models.Tick{Symbol: "AAPL", Price: 10, Volume: 1})
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want one per AAPL timeframe", len(updates))
	}
	for _, u := range updates {
		if u.Key.Symbol != "AAPL" {
			t.Fatalf("update routed to wrong symbol %s", u.Key.Symbol)
		}
	}

	svc.Untrack(models.SeriesKey{Symbol: "AAPL", Timeframe: "5"})
	if svc.TrackedCount() != 2 {
		t.Fatalf("tracked = %d, want 2", svc.TrackedCount())
	}
}
