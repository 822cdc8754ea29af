package analysis

import (
	"fmt"
	"math"
	"strconv"

	"chart_engine_backend/models"
)

// Series is one indicator output, index-aligned with its input candles.
// Warmup positions hold NaN in memory and marshal as null, since
// encoding/json rejects NaN.
type Series []float64

// MarshalJSON writes the series as a JSON array with null at NaN
// positions.
func (s Series) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, len(s)*8+2)
	buf = append(buf, '[')
	for i, v := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
		} else {
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
	}
	return append(buf, ']'), nil
}

// TechnicalAnalysis computes indicator overlays over in-memory candle
// series. Every series-returning function yields one value per input
// candle, with NaN for warmup positions so overlays stay index-aligned
// with the chart's instance buffer.
type TechnicalAnalysis struct{}

// NewTechnicalAnalysis creates a new technical analysis instance.
func NewTechnicalAnalysis() *TechnicalAnalysis {
	return &TechnicalAnalysis{}
}

// CalculateSMA calculates a Simple Moving Average series.
func (ta *TechnicalAnalysis) CalculateSMA(candles []models.Candle, period int) (Series, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid SMA period %d", period)
	}
	if len(candles) < period {
		return nil, fmt.Errorf("insufficient data for SMA%d calculation", period)
	}

	out := warmup(len(candles), period-1)
	sum := 0.0
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// CalculateEMA calculates an Exponential Moving Average series.
func (ta *TechnicalAnalysis) CalculateEMA(candles []models.Candle, period int) (Series, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid EMA period %d", period)
	}
	if len(candles) < period {
		return nil, fmt.Errorf("insufficient data for EMA%d calculation", period)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return emaSeries(closes, period), nil
}

// CalculateRSI calculates a Relative Strength Index series using
// Wilder's smoothing.
func (ta *TechnicalAnalysis) CalculateRSI(candles []models.Candle, period int) (Series, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid RSI period %d", period)
	}
	if len(candles) < period+1 {
		return nil, fmt.Errorf("insufficient data for RSI%d calculation", period)
	}

	out := warmup(len(candles), period)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds MACD calculation results as index-aligned series.
type MACDResult struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
}

// CalculateMACD calculates the MACD line, signal line and histogram.
func (ta *TechnicalAnalysis) CalculateMACD(candles []models.Candle, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil, fmt.Errorf("invalid MACD periods %d/%d/%d", fast, slow, signal)
	}
	if len(candles) < slow+signal {
		return nil, fmt.Errorf("insufficient data for MACD calculation")
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)

	macd := make(Series, len(candles))
	for i := range macd {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	sig := emaOverSeries(macd, signal, slow-1)

	hist := make(Series, len(candles))
	for i := range hist {
		hist[i] = macd[i] - sig[i]
	}
	return &MACDResult{MACD: macd, Signal: sig, Histogram: hist}, nil
}

// BollingerBands holds the three Bollinger band series.
type BollingerBands struct {
	Upper  Series `json:"upper"`
	Middle Series `json:"middle"`
	Lower  Series `json:"lower"`
}

// CalculateBollingerBands calculates Bollinger Bands over the closes.
func (ta *TechnicalAnalysis) CalculateBollingerBands(candles []models.Candle, period int, width float64) (*BollingerBands, error) {
	sma, err := ta.CalculateSMA(candles, period)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		width = 2
	}

	upper := warmup(len(candles), period-1)
	lower := warmup(len(candles), period-1)
	for i := period - 1; i < len(candles); i++ {
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			diff := candles[j].Close - sma[i]
			variance += diff * diff
		}
		stdDev := math.Sqrt(variance / float64(period))
		upper[i] = sma[i] + width*stdDev
		lower[i] = sma[i] - width*stdDev
	}
	return &BollingerBands{Upper: upper, Middle: sma, Lower: lower}, nil
}

// emaSeries seeds the EMA with the first close and folds forward.
func emaSeries(values []float64, period int) Series {
	out := make(Series, len(values))
	multiplier := 2.0 / float64(period+1)
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// emaOverSeries applies an EMA to a derived series whose first valid
// index is start (earlier positions may hold warmup values).
func emaOverSeries(values Series, period, start int) Series {
	out := make(Series, len(values))
	if start < 0 {
		start = 0
	}
	if start >= len(values) {
		return out
	}
	multiplier := 2.0 / float64(period+1)
	ema := values[start]
	for i := start; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

func warmup(n, upto int) Series {
	out := make(Series, n)
	for i := 0; i < upto && i < n; i++ {
		out[i] = math.NaN()
	}
	return out
}
