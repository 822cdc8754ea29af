package compress

import (
	"encoding/json"
	"fmt"

	"chart_engine_backend/models"

	"github.com/shopspring/decimal"
)

// DefaultPricePrecision is the number of decimal places kept for price
// deltas. It is a policy parameter: very low-priced instruments may need
// more places, which is a configuration decision rather than a code one.
const DefaultPricePrecision = 2

// Delta stores one bar relative to its predecessor. DTime is the time
// step, DOpen is open minus the previous bar's close, and DHigh/DLow/
// DClose are relative to this bar's own open. Volume is carried as-is.
type Delta struct {
	DTime  int64   `json:"t"`
	DOpen  float64 `json:"o"`
	DHigh  float64 `json:"h"`
	DLow   float64 `json:"l"`
	DClose float64 `json:"c"`
	Volume float64 `json:"v"`
}

// CompressedSeries is one base candle plus ordered deltas. Time and
// volume survive a round trip exactly; prices are reproduced within the
// rounding tolerance of the configured precision.
type CompressedSeries struct {
	Base      models.Candle `json:"base"`
	Deltas    []Delta       `json:"deltas"`
	Precision int32         `json:"precision"`
}

// Codec compresses and decompresses candle series at a fixed decimal
// price precision.
type Codec struct {
	precision int32
}

// NewCodec creates a codec rounding price deltas to the given number of
// decimal places.
func NewCodec(precision int32) *Codec {
	if precision < 0 {
		precision = DefaultPricePrecision
	}
	return &Codec{precision: precision}
}

// Tolerance returns the maximum price error a round trip may introduce.
func (c *Codec) Tolerance() float64 {
	step, _ := decimal.New(1, -c.precision).Float64()
	return step/2 + 1e-9
}

func (c *Codec) round(v float64) float64 {
	out, _ := decimal.NewFromFloat(v).Round(c.precision).Float64()
	return out
}

// Compress encodes a series as base + deltas. Each delta is taken
// against the reconstructed predecessor so the rounding error stays
// bounded instead of accumulating across the series.
func (c *Codec) Compress(series []models.Candle) *CompressedSeries {
	if len(series) == 0 {
		return &CompressedSeries{Precision: c.precision}
	}

	packed := &CompressedSeries{
		Base:      series[0],
		Deltas:    make([]Delta, 0, len(series)-1),
		Precision: c.precision,
	}

	prevTime := series[0].Time
	prevClose := series[0].Close
	for _, bar := range series[1:] {
		dOpen := c.round(bar.Open - prevClose)
		open := prevClose + dOpen
		d := Delta{
			DTime:  bar.Time - prevTime,
			DOpen:  dOpen,
			DHigh:  c.round(bar.High - open),
			DLow:   c.round(bar.Low - open),
			DClose: c.round(bar.Close - open),
			Volume: bar.Volume,
		}
		packed.Deltas = append(packed.Deltas, d)
		prevTime = bar.Time
		prevClose = open + d.DClose
	}
	return packed
}

// Decompress reconstructs the candle series from a packed form.
func (c *Codec) Decompress(packed *CompressedSeries) []models.Candle {
	if packed == nil {
		return nil
	}
	if packed.Deltas == nil && (packed.Base == models.Candle{}) {
		return nil
	}

	series := make([]models.Candle, 0, len(packed.Deltas)+1)
	series = append(series, packed.Base)

	prevTime := packed.Base.Time
	prevClose := packed.Base.Close
	for _, d := range packed.Deltas {
		open := prevClose + d.DOpen
		bar := models.Candle{
			Time:   prevTime + d.DTime,
			Open:   open,
			High:   open + d.DHigh,
			Low:    open + d.DLow,
			Close:  open + d.DClose,
			Volume: d.Volume,
		}
		series = append(series, bar)
		prevTime = bar.Time
		prevClose = bar.Close
	}
	return series
}

// Encode serializes a series to the durable-store blob format.
func (c *Codec) Encode(series []models.Candle) ([]byte, error) {
	data, err := json.Marshal(c.Compress(series))
	if err != nil {
		return nil, fmt.Errorf("failed to encode series: %w", err)
	}
	return data, nil
}

// Decode parses a durable-store blob back into a candle series. A blob
// that does not parse is reported as an error so callers can treat it as
// a cache miss.
func (c *Codec) Decode(data []byte) ([]models.Candle, error) {
	var packed CompressedSeries
	if err := json.Unmarshal(data, &packed); err != nil {
		return nil, fmt.Errorf("failed to decode series: %w", err)
	}
	return c.Decompress(&packed), nil
}
