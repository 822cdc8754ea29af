package services

import (
	"fmt"
	"testing"
	"time"
)

func TestInstanceCacheGetMarksActive(t *testing.T) {
	ic := NewInstanceCache(nil, nil, "1D", 3)

	if _, ok := ic.Get("AAPL"); ok {
		t.Fatal("unexpected hit on empty pool")
	}

	ic.Set("AAPL", testCandles(10), nil)
	slot, ok := ic.Get("AAPL")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if slot.Symbol != "AAPL" || len(slot.Candles) != 10 {
		t.Fatalf("slot = %+v", slot)
	}
}

func TestInstanceCacheCapacityBound(t *testing.T) {
	ic := NewInstanceCache(nil, nil, "1D", 3)

	for i := 0; i < 5; i++ {
		ic.Set(fmt.Sprintf("SYM%d", i), testCandles(5), nil)
		time.Sleep(time.Millisecond)
	}

	if ic.Len() != 3 {
		t.Fatalf("pool size = %d, want 3", ic.Len())
	}
	if _, ok := ic.Get("SYM4"); !ok {
		t.Error("newest slot missing")
	}
}

func TestInstanceCacheActiveSlotExemptFromEviction(t *testing.T) {
	ic := NewInstanceCache(nil, nil, "1D", 1)

	ic.Set("AAPL", testCandles(5), nil)
	ic.Get("AAPL")
	time.Sleep(time.Millisecond)

	// Over capacity: the active slot must survive, so the newer slot is
	// the one dropped.
	ic.Set("GOOG", testCandles(5), nil)

	if _, ok := ic.slots["AAPL"]; !ok {
		t.Fatal("active slot was evicted")
	}
	if _, ok := ic.slots["GOOG"]; ok {
		t.Fatal("non-active slot survived over capacity")
	}
	if ic.Len() != 1 {
		t.Fatalf("pool size = %d, want 1", ic.Len())
	}
}
