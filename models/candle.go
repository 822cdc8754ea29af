package models

import (
	"fmt"
	"strconv"
	"time"
)

// Candle represents one OHLCV bar for a fixed time bucket.
// Time is the bucket start in epoch seconds, monotonically
// non-decreasing within a series.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Tick is a single live price update for a symbol.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume,omitempty"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
	Change float64 `json:"change,omitempty"`
}

// SeriesKey identifies a candle series: one symbol at one timeframe.
// It is the sole cache identity across all tiers.
type SeriesKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// StorageKey returns the durable-store key for this series.
func (k SeriesKey) StorageKey() string {
	return fmt.Sprintf("%s_%s", k.Symbol, k.Timeframe)
}

func (k SeriesKey) String() string {
	return k.Symbol + "/" + k.Timeframe
}

// Timeframe constants for calendar-aligned resolutions.
const (
	TimeframeDay   = "D"
	TimeframeWeek  = "W"
	TimeframeMonth = "M"
)

// calendarTimeframe maps a timeframe token to its calendar resolution.
// "1D", "1W" and "1M" are the common spellings of "D", "W" and "M".
func calendarTimeframe(timeframe string) (string, bool) {
	switch timeframe {
	case TimeframeDay, "1D":
		return TimeframeDay, true
	case TimeframeWeek, "1W":
		return TimeframeWeek, true
	case TimeframeMonth, "1M":
		return TimeframeMonth, true
	}
	return "", false
}

// TimeframeSeconds returns the bucket length in seconds for minute-based
// timeframes ("1", "5", "15", "60", ...). Calendar timeframes return 0
// and must be aligned with BucketStart instead. Tokens that are not a
// plain minute count fall back to one minute.
func TimeframeSeconds(timeframe string) int64 {
	if _, ok := calendarTimeframe(timeframe); ok {
		return 0
	}
	minutes, err := strconv.Atoi(timeframe)
	if err != nil || minutes <= 0 {
		return 60
	}
	return int64(minutes) * 60
}

// BucketStart computes the bucket start time (epoch seconds) for a tick
// timestamp at the given timeframe. Minute multiples truncate; day, week
// and month align to calendar boundaries in UTC.
func BucketStart(ts int64, timeframe string) int64 {
	if cal, ok := calendarTimeframe(timeframe); ok {
		timeframe = cal
	}
	switch timeframe {
	case TimeframeDay:
		t := time.Unix(ts, 0).UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	case TimeframeWeek:
		t := time.Unix(ts, 0).UTC()
		// Roll back to Monday.
		offset := (int(t.Weekday()) + 6) % 7
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -offset).Unix()
	case TimeframeMonth:
		t := time.Unix(ts, 0).UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	default:
		secs := TimeframeSeconds(timeframe)
		return ts - ts%secs
	}
}

// MergeCandles merges an update into a base series. Both inputs must be
// ordered by time. Duplicate bucket times resolve last-write-wins in
// favor of the update.
func MergeCandles(base, update []Candle) []Candle {
	if len(base) == 0 {
		return append([]Candle(nil), update...)
	}
	if len(update) == 0 {
		return append([]Candle(nil), base...)
	}

	merged := make([]Candle, 0, len(base)+len(update))
	i, j := 0, 0
	for i < len(base) && j < len(update) {
		switch {
		case base[i].Time < update[j].Time:
			merged = append(merged, base[i])
			i++
		case base[i].Time > update[j].Time:
			merged = append(merged, update[j])
			j++
		default:
			merged = append(merged, update[j])
			i++
			j++
		}
	}
	merged = append(merged, base[i:]...)
	merged = append(merged, update[j:]...)
	return merged
}

// LastCandle returns the newest candle of a series, or false when empty.
func LastCandle(series []Candle) (Candle, bool) {
	if len(series) == 0 {
		return Candle{}, false
	}
	return series[len(series)-1], true
}
