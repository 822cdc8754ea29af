package render

import (
	"math"
	"testing"

	"chart_engine_backend/models"
)

func testSeries(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		base := 100 + math.Sin(float64(i)/5)*10
		out[i] = models.Candle{
			Time:   int64(i * 60),
			Open:   base,
			High:   base + 2,
			Low:    base - 2,
			Close:  base + 1,
			Volume: 1000,
		}
	}
	return out
}

func TestZoomPreservesAnchor(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(200))
	engine.ScrollToLatest()

	originX := 400.0
	before := engine.View().XToIndex(originX)

	engine.Zoom(3, originX)
	after := engine.View().XToIndex(originX)

	if math.Abs(engine.View().IndexToX(before)-originX) > 1 {
		t.Fatalf("candle under cursor moved by %v px after zoom in",
			math.Abs(engine.View().IndexToX(before)-originX))
	}
	if math.Abs(after-before) > 1e-9 {
		t.Fatalf("index under cursor changed from %v to %v", before, after)
	}

	engine.Zoom(-5, originX)
	if math.Abs(engine.View().IndexToX(before)-originX) > 1 {
		t.Fatal("candle under cursor moved after zoom out")
	}
}

func TestZoomClampsScale(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(50))

	engine.Zoom(1000, 400)
	if got := engine.View().ScaleX; got > MaxScaleX {
		t.Fatalf("scale %v exceeds max %v", got, MaxScaleX)
	}
	engine.Zoom(-1000, 400)
	if got := engine.View().ScaleX; got < MinScaleX {
		t.Fatalf("scale %v below min %v", got, MinScaleX)
	}
}

func TestPanShiftsView(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(50))

	before := engine.View().TranslateX
	engine.Pan(-120)
	if got := engine.View().TranslateX; got != before-120 {
		t.Fatalf("translateX = %v, want %v", got, before-120)
	}
}

func TestAutoScaleYFitsVisibleRange(t *testing.T) {
	engine := NewEngine(800, 600)
	series := testSeries(100)
	engine.SetData(series)
	engine.ScrollToLatest()
	engine.AutoScaleY()

	view := engine.View()
	lo, hi := math.Inf(1), math.Inf(-1)
	first := int(math.Floor(view.XToIndex(0)))
	last := int(math.Ceil(view.XToIndex(800)))
	if first < 0 {
		first = 0
	}
	if last > len(series)-1 {
		last = len(series) - 1
	}
	for i := first; i <= last; i++ {
		lo = math.Min(lo, series[i].Low)
		hi = math.Max(hi, series[i].High)
	}

	// The padded extremes land exactly on the viewport edges.
	pad := (hi - lo) * AutoScalePadding
	if got := view.PriceToY(hi + pad); math.Abs(got) > 1e-6 {
		t.Fatalf("padded high maps to y=%v, want 0", got)
	}
	if got := view.PriceToY(lo - pad); math.Abs(got-600) > 1e-6 {
		t.Fatalf("padded low maps to y=%v, want 600", got)
	}
	// Higher prices render above lower ones.
	if view.PriceToY(hi) >= view.PriceToY(lo) {
		t.Fatal("y axis not inverted")
	}
}

func TestBuildFrameGeometry(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(40))
	engine.ScrollToLatest()
	engine.AutoScaleY()

	frame := engine.BuildFrame()
	if len(frame.Wicks) == 0 || len(frame.Bodies) != len(frame.Wicks) {
		t.Fatalf("frame has %d wicks and %d bodies", len(frame.Wicks), len(frame.Bodies))
	}
	for i, body := range frame.Bodies {
		if body.Width < 1 {
			t.Fatalf("body %d width %v below 1px floor", i, body.Width)
		}
		if body.Height < 1 {
			t.Fatalf("body %d height %v below 1px floor", i, body.Height)
		}
		if frame.Wicks[i].Width != WickWidth {
			t.Fatalf("wick %d width %v, want %v", i, frame.Wicks[i].Width, WickWidth)
		}
	}
}

func TestBuildFrameCachesUntilDirty(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(40))

	first := engine.BuildFrame()
	second := engine.BuildFrame()
	if first != second {
		t.Fatal("clean rebuild produced a new frame")
	}

	engine.Pan(10)
	third := engine.BuildFrame()
	if third == first {
		t.Fatal("pan did not invalidate the cached frame")
	}
}

func TestResizeNoopKeepsFrameClean(t *testing.T) {
	engine := NewEngine(800, 600)
	engine.SetData(testSeries(10))
	first := engine.BuildFrame()

	engine.Resize(800, 600)
	if engine.BuildFrame() != first {
		t.Fatal("same-size resize invalidated the frame")
	}

	engine.Resize(1024, 768)
	if engine.BuildFrame() == first {
		t.Fatal("real resize did not invalidate the frame")
	}
}
