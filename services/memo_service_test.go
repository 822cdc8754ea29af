package services

import (
	"testing"
	"time"

	"chart_engine_backend/models"
	"chart_engine_backend/services/workers"
)

func testCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Time: int64(i * 60), Close: 100 + float64(i)}
	}
	return out
}

func TestMemoHitAndMiss(t *testing.T) {
	memo := NewResultMemo(10, time.Minute)
	candles := testCandles(50)
	fp := NewFingerprint(workers.KindSMA, candles, workers.TaskParams{Period: 20})

	if _, ok := memo.Get(fp); ok {
		t.Fatal("unexpected hit on empty memo")
	}
	memo.Set(fp, []float64{1, 2, 3})
	value, ok := memo.Get(fp)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(value.([]float64)) != 3 {
		t.Fatal("wrong value returned")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	candles := testCandles(50)
	base := NewFingerprint(workers.KindSMA, candles, workers.TaskParams{Period: 20})

	// Different params, kind, or series state must produce distinct keys.
	if NewFingerprint(workers.KindSMA, candles, workers.TaskParams{Period: 50}) == base {
		t.Error("period change did not alter fingerprint")
	}
	if NewFingerprint(workers.KindEMA, candles, workers.TaskParams{Period: 20}) == base {
		t.Error("kind change did not alter fingerprint")
	}

	shifted := testCandles(50)
	shifted[49].Close += 0.5
	if NewFingerprint(workers.KindSMA, shifted, workers.TaskParams{Period: 20}) == base {
		t.Error("last close change did not alter fingerprint")
	}

	// An identical series re-fetched later keeps the same fingerprint.
	if NewFingerprint(workers.KindSMA, testCandles(50), workers.TaskParams{Period: 20}) != base {
		t.Error("identical series produced a different fingerprint")
	}
}

func TestMemoCapacityEviction(t *testing.T) {
	memo := NewResultMemo(3, time.Minute)

	fps := make([]Fingerprint, 4)
	for i := range fps {
		fps[i] = NewFingerprint(workers.KindSMA, testCandles(10+i), workers.TaskParams{Period: 20})
		memo.Set(fps[i], i)
		time.Sleep(time.Millisecond)
	}

	if memo.Len() != 3 {
		t.Fatalf("memo length = %d, want 3", memo.Len())
	}
	// The first (least recently accessed) entry was evicted.
	if _, ok := memo.Get(fps[0]); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := memo.Get(fps[3]); !ok {
		t.Error("newest entry missing")
	}
}

func TestMemoPrune(t *testing.T) {
	memo := NewResultMemo(10, 20*time.Millisecond)
	fp := NewFingerprint(workers.KindRSI, testCandles(30), workers.TaskParams{Period: 14})
	memo.Set(fp, 42)

	if removed := memo.Prune(); removed != 0 {
		t.Fatalf("fresh entry pruned (%d removed)", removed)
	}

	time.Sleep(30 * time.Millisecond)
	if removed := memo.Prune(); removed != 1 {
		t.Fatalf("stale prune removed %d, want 1", removed)
	}
	if memo.Len() != 0 {
		t.Fatal("memo not empty after prune")
	}
}
