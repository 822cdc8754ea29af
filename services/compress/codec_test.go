package compress

import (
	"math"
	"math/rand"
	"testing"

	"chart_engine_backend/models"
)

func makeSeries(n int, seed int64) []models.Candle {
	rng := rand.New(rand.NewSource(seed))
	series := make([]models.Candle, 0, n)
	price := 150.0
	for i := 0; i < n; i++ {
		open := price
		closeP := open + (rng.Float64()-0.5)*4
		high := math.Max(open, closeP) + rng.Float64()*2
		low := math.Min(open, closeP) - rng.Float64()*2
		series = append(series, models.Candle{
			Time:   int64(1700000000 + i*86400),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: float64(rng.Intn(1_000_000)),
		})
		price = closeP
	}
	return series
}

func TestRoundTripWithinTolerance(t *testing.T) {
	codec := NewCodec(2)
	series := makeSeries(500, 42)

	got := codec.Decompress(codec.Compress(series))
	if len(got) != len(series) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(series))
	}

	tol := codec.Tolerance()
	for i := range series {
		if got[i].Time != series[i].Time {
			t.Fatalf("bar %d time %d != %d, times must survive exactly", i, got[i].Time, series[i].Time)
		}
		if got[i].Volume != series[i].Volume {
			t.Fatalf("bar %d volume changed", i)
		}
		checkClose(t, i, "open", got[i].Open, series[i].Open, tol)
		checkClose(t, i, "high", got[i].High, series[i].High, tol)
		checkClose(t, i, "low", got[i].Low, series[i].Low, tol)
		checkClose(t, i, "close", got[i].Close, series[i].Close, tol)
	}
}

func checkClose(t *testing.T, i int, field string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("bar %d %s = %v, want %v within %v", i, field, got, want, tol)
	}
}

func TestErrorDoesNotAccumulate(t *testing.T) {
	codec := NewCodec(2)
	// Long series of tiny moves: naive cumulative deltas would drift.
	series := make([]models.Candle, 2000)
	price := 10.0
	for i := range series {
		price += 0.003
		series[i] = models.Candle{Time: int64(i * 60), Open: price, High: price, Low: price, Close: price}
	}

	got := codec.Decompress(codec.Compress(series))
	tol := codec.Tolerance()
	last := len(series) - 1
	if math.Abs(got[last].Close-series[last].Close) > tol {
		t.Fatalf("final close drifted to %v from %v, error accumulated", got[last].Close, series[last].Close)
	}
}

func TestEncodeDecode(t *testing.T) {
	codec := NewCodec(2)
	series := makeSeries(20, 7)

	blob, err := codec.Encode(series)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := codec.Decode(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(series) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(series))
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	codec := NewCodec(2)
	if _, err := codec.Decode([]byte("not json at all")); err == nil {
		t.Fatal("expected error for corrupt blob")
	}
}

func TestCompressEmpty(t *testing.T) {
	codec := NewCodec(2)
	if got := codec.Decompress(codec.Compress(nil)); got != nil {
		t.Fatalf("empty series round trip = %v, want nil", got)
	}
}
