package analysis

import (
	"math"

	"chart_engine_backend/models"
)

// HeikinAshi derives the smoothed candle representation from a raw
// series. The recurrence: each bar's open is the mean of the previous
// bar's Heikin-Ashi open and close; its close is the mean of its own
// four raw OHLC values; high and low are the extremes of the raw high,
// raw low, and the derived open and close.
func HeikinAshi(raw []models.Candle) []models.Candle {
	if len(raw) == 0 {
		return nil
	}

	out := make([]models.Candle, len(raw))
	first := raw[0]
	out[0] = models.Candle{
		Time:   first.Time,
		Open:   (first.Open + first.Close) / 2,
		Close:  (first.Open + first.High + first.Low + first.Close) / 4,
		Volume: first.Volume,
	}
	out[0].High = math.Max(first.High, math.Max(out[0].Open, out[0].Close))
	out[0].Low = math.Min(first.Low, math.Min(out[0].Open, out[0].Close))

	for i := 1; i < len(raw); i++ {
		bar := raw[i]
		prev := out[i-1]
		ha := models.Candle{
			Time:   bar.Time,
			Open:   (prev.Open + prev.Close) / 2,
			Close:  (bar.Open + bar.High + bar.Low + bar.Close) / 4,
			Volume: bar.Volume,
		}
		ha.High = math.Max(bar.High, math.Max(ha.Open, ha.Close))
		ha.Low = math.Min(bar.Low, math.Min(ha.Open, ha.Close))
		out[i] = ha
	}
	return out
}
