package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"chart_engine_backend/services"
	"chart_engine_backend/services/workers"

	"github.com/gin-gonic/gin"
)

// ChartController handles chart switch, overlay, and status requests.
type ChartController struct {
	session    *services.ChartSession
	cache      *services.SeriesCache
	compute    *services.ComputeService
	instances  *services.InstanceCache
	aggregator *services.AggregatorService
	memo       *services.ResultMemo
}

// NewChartController creates a new chart controller.
func NewChartController(session *services.ChartSession, cache *services.SeriesCache,
	compute *services.ComputeService, instances *services.InstanceCache,
	aggregator *services.AggregatorService, memo *services.ResultMemo) *ChartController {
	return &ChartController{
		session:    session,
		cache:      cache,
		compute:    compute,
		instances:  instances,
		aggregator: aggregator,
		memo:       memo,
	}
}

// SwitchChart switches the active chart to a symbol
// GET /api/chart/:symbol
func (cc *ChartController) SwitchChart(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	timeframe := c.DefaultQuery("timeframe", "1D")

	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol is required"})
		return
	}

	view, err := cc.session.SwitchTo(c.Request.Context(), symbol, timeframe)
	if err != nil {
		if strings.Contains(err.Error(), "superseded") {
			c.JSON(http.StatusConflict, gin.H{"error": "Switch superseded by a newer request"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load chart data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// Hover warms the cache for a symbol under the pointer
// POST /api/chart/:symbol/hover
func (cc *ChartController) Hover(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol is required"})
		return
	}

	cc.session.Hover(symbol)
	c.JSON(http.StatusAccepted, gin.H{"status": "prefetch scheduled"})
}

// ComputeOverlay computes one indicator for the active chart
// GET /api/chart/overlay/:kind
func (cc *ChartController) ComputeOverlay(c *gin.Context) {
	kind, ok := parseOverlayKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown overlay kind"})
		return
	}

	params := workers.TaskParams{
		Period: queryInt(c, "period", 0),
		Fast:   queryInt(c, "fast", 12),
		Slow:   queryInt(c, "slow", 26),
		Signal: queryInt(c, "signal", 9),
	}
	if width, err := strconv.ParseFloat(c.DefaultQuery("width", "2"), 64); err == nil {
		params.Width = width
	}

	value, err := cc.session.ComputeOverlay(c.Request.Context(), kind, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Overlay computation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":   kind.String(),
		"params": params,
		"data":   value,
	})
}

// SetDisplayMode switches between candle and Heikin-Ashi display
// PUT /api/chart/display-mode
func (cc *ChartController) SetDisplayMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	switch strings.ToLower(req.Mode) {
	case "candles":
		cc.aggregator.SetDisplayMode(services.DisplayCandles)
	case "heikin-ashi", "heikin_ashi":
		cc.aggregator.SetDisplayMode(services.DisplayHeikinAshi)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown display mode"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

// GetEngineStatus reports cache and worker pool state
// GET /api/chart/status
func (cc *ChartController) GetEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"series_cache": cc.cache.GetStats(),
		"memo":         cc.memo.GetStats(),
		"instances":    cc.instances.GetStats(),
		"workers":      cc.compute.PoolStats(),
		"tracked":      cc.aggregator.TrackedCount(),
	})
}

func parseOverlayKind(name string) (workers.TaskKind, bool) {
	switch strings.ToLower(name) {
	case "sma":
		return workers.KindSMA, true
	case "ema":
		return workers.KindEMA, true
	case "rsi":
		return workers.KindRSI, true
	case "macd":
		return workers.KindMACD, true
	case "bollinger":
		return workers.KindBollinger, true
	case "heikin-ashi", "heikin_ashi":
		return workers.KindHeikinAshi, true
	}
	return 0, false
}

func queryInt(c *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return value
}
