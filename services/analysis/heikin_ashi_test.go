package analysis

import (
	"math"
	"testing"

	"chart_engine_backend/models"
)

func TestHeikinAshiRecurrence(t *testing.T) {
	raw := []models.Candle{
		{Time: 60, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100},
		{Time: 120, Open: 11, High: 14, Low: 10, Close: 13, Volume: 200},
		{Time: 180, Open: 13, High: 13, Low: 8, Close: 9, Volume: 150},
	}

	ha := HeikinAshi(raw)
	if len(ha) != 3 {
		t.Fatalf("length = %d, want 3", len(ha))
	}

	// First bar: open is the mean of raw open and close.
	if want := (10.0 + 11.0) / 2; ha[0].Open != want {
		t.Errorf("first open = %v, want %v", ha[0].Open, want)
	}
	if want := (10.0 + 12.0 + 9.0 + 11.0) / 4; ha[0].Close != want {
		t.Errorf("first close = %v, want %v", ha[0].Close, want)
	}

	// Each later bar's open follows the recurrence.
	for i := 1; i < 3; i++ {
		want := (ha[i-1].Open + ha[i-1].Close) / 2
		if math.Abs(ha[i].Open-want) > 1e-12 {
			t.Errorf("bar %d open = %v, want %v", i, ha[i].Open, want)
		}
		wantClose := (raw[i].Open + raw[i].High + raw[i].Low + raw[i].Close) / 4
		if math.Abs(ha[i].Close-wantClose) > 1e-12 {
			t.Errorf("bar %d close = %v, want %v", i, ha[i].Close, wantClose)
		}
	}

	// Highs and lows contain the derived open and close.
	for i, bar := range ha {
		if bar.High < bar.Open || bar.High < bar.Close {
			t.Errorf("bar %d high %v below body", i, bar.High)
		}
		if bar.Low > bar.Open || bar.Low > bar.Close {
			t.Errorf("bar %d low %v above body", i, bar.Low)
		}
	}

	// Volume and time pass through unchanged.
	for i := range raw {
		if ha[i].Time != raw[i].Time || ha[i].Volume != raw[i].Volume {
			t.Errorf("bar %d time/volume changed", i)
		}
	}
}

func TestHeikinAshiEmpty(t *testing.T) {
	if got := HeikinAshi(nil); got != nil {
		t.Fatalf("empty input = %v, want nil", got)
	}
}
