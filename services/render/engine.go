package render

import (
	"math"
	"sync"

	"chart_engine_backend/models"
)

// Rendering parameters.
const (
	ZoomFactorPerStep = 1.1
	BodyWidthRatio    = 0.8
	WickWidth         = 1.0
	AutoScalePadding  = 0.10
	MinScaleX         = 0.5
	MaxScaleX         = 200.0
)

// ViewTransform maps series space (candle index, price) to pixel space.
// x_px = index*ScaleX + TranslateX; y_px = price*ScaleY + TranslateY.
// ScaleY is negative so higher prices map to smaller y.
type ViewTransform struct {
	ScaleX     float64 `json:"scaleX"`
	TranslateX float64 `json:"translateX"`
	ScaleY     float64 `json:"scaleY"`
	TranslateY float64 `json:"translateY"`
}

// IndexToX maps a candle index to its pixel x coordinate.
func (v ViewTransform) IndexToX(index float64) float64 {
	return index*v.ScaleX + v.TranslateX
}

// XToIndex maps a pixel x coordinate back to a candle index.
func (v ViewTransform) XToIndex(x float64) float64 {
	return (x - v.TranslateX) / v.ScaleX
}

// PriceToY maps a price to its pixel y coordinate.
func (v ViewTransform) PriceToY(price float64) float64 {
	return price*v.ScaleY + v.TranslateY
}

// Quad is one axis-aligned rectangle in pixel space.
type Quad struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
	Up     bool    `json:"up"`
}

// Frame is the complete geometry for one redraw: the wick pass drawn
// under the body pass.
type Frame struct {
	Wicks  []Quad        `json:"wicks"`
	Bodies []Quad        `json:"bodies"`
	View   ViewTransform `json:"view"`
}

// Engine turns a candle series plus a view transform into frame
// geometry. It owns the transform; pan, zoom, and autoscale mutate it
// and mark the frame dirty. BuildFrame is idempotent while clean.
type Engine struct {
	mu sync.Mutex

	candles []models.Candle
	view    ViewTransform
	width   float64
	height  float64

	dirty bool
	frame *Frame
}

// NewEngine creates an engine for a viewport of the given pixel size.
func NewEngine(width, height float64) *Engine {
	return &Engine{
		view: ViewTransform{
			ScaleX: 8,
			ScaleY: -1,
		},
		width:  width,
		height: height,
		dirty:  true,
	}
}

// SetData replaces the candle series. The view transform is preserved
// so live updates do not yank the viewport.
func (e *Engine) SetData(candles []models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = candles
	e.dirty = true
}

// Resize updates the viewport dimensions.
func (e *Engine) Resize(width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if width == e.width && height == e.height {
		return
	}
	e.width = width
	e.height = height
	e.dirty = true
}

// View returns the current transform.
func (e *Engine) View() ViewTransform {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Pan shifts the viewport horizontally by dx pixels.
func (e *Engine) Pan(dx float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.TranslateX += dx
	e.dirty = true
}

// Zoom scales the x axis by 1.1 per step (negative steps zoom out),
// anchored so the candle under originX stays at originX.
func (e *Engine) Zoom(steps int, originX float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	factor := math.Pow(ZoomFactorPerStep, float64(steps))
	newScale := e.view.ScaleX * factor
	if newScale < MinScaleX {
		newScale = MinScaleX
	}
	if newScale > MaxScaleX {
		newScale = MaxScaleX
	}
	if newScale == e.view.ScaleX {
		return
	}

	// Anchor: the index under the cursor must project back to originX.
	index := e.view.XToIndex(originX)
	e.view.ScaleX = newScale
	e.view.TranslateX = originX - index*newScale
	e.dirty = true
}

// AutoScaleY fits the vertical transform to the visible candles' price
// range with 10% padding above and below. A flat or empty range leaves
// the transform unchanged.
func (e *Engine) AutoScaleY() {
	e.mu.Lock()
	defer e.mu.Unlock()

	lo, hi, ok := e.visibleRangeLocked()
	if !ok {
		return
	}

	pad := (hi - lo) * AutoScalePadding
	hi += pad
	lo -= pad
	if hi == lo {
		return
	}

	// Negative ScaleY maps hi to the top of the viewport.
	e.view.ScaleY = e.height / (lo - hi)
	e.view.TranslateY = -hi * e.view.ScaleY
	e.dirty = true
}

// visibleRangeLocked scans candles whose x projection intersects the
// viewport and returns their price extremes.
func (e *Engine) visibleRangeLocked() (lo, hi float64, ok bool) {
	if len(e.candles) == 0 {
		return 0, 0, false
	}

	first := int(math.Floor(e.view.XToIndex(0)))
	last := int(math.Ceil(e.view.XToIndex(e.width)))
	if first < 0 {
		first = 0
	}
	if last > len(e.candles)-1 {
		last = len(e.candles) - 1
	}
	if first > last {
		return 0, 0, false
	}

	lo = math.Inf(1)
	hi = math.Inf(-1)
	for i := first; i <= last; i++ {
		c := e.candles[i]
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// BuildFrame returns the geometry for the current data and view.
// Repeated calls without intervening mutation return the cached frame.
func (e *Engine) BuildFrame() *Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty && e.frame != nil {
		return e.frame
	}

	frame := &Frame{View: e.view}

	first := int(math.Floor(e.view.XToIndex(0))) - 1
	last := int(math.Ceil(e.view.XToIndex(e.width))) + 1
	if first < 0 {
		first = 0
	}
	if last > len(e.candles)-1 {
		last = len(e.candles) - 1
	}

	bodyWidth := e.view.ScaleX * BodyWidthRatio
	if bodyWidth < 1 {
		bodyWidth = 1
	}

	for i := first; i <= last; i++ {
		c := e.candles[i]
		up := c.Close >= c.Open
		centerX := e.view.IndexToX(float64(i)) + e.view.ScaleX/2

		// Wick pass: one thin quad spanning high to low.
		yHigh := e.view.PriceToY(c.High)
		yLow := e.view.PriceToY(c.Low)
		frame.Wicks = append(frame.Wicks, Quad{
			X:      centerX - WickWidth/2,
			Y:      math.Min(yHigh, yLow),
			Width:  WickWidth,
			Height: math.Abs(yLow - yHigh),
			Up:     up,
		})

		// Body pass: open-to-close quad, never thinner than 1px tall.
		yOpen := e.view.PriceToY(c.Open)
		yClose := e.view.PriceToY(c.Close)
		bodyHeight := math.Abs(yClose - yOpen)
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		frame.Bodies = append(frame.Bodies, Quad{
			X:      centerX - bodyWidth/2,
			Y:      math.Min(yOpen, yClose),
			Width:  bodyWidth,
			Height: bodyHeight,
			Up:     up,
		})
	}

	e.frame = frame
	e.dirty = false
	return frame
}

// ScrollToLatest positions the newest candle at the right edge of the
// viewport.
func (e *Engine) ScrollToLatest() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.candles) == 0 {
		return
	}
	e.view.TranslateX = e.width - float64(len(e.candles))*e.view.ScaleX
	e.dirty = true
}
