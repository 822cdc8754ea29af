package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chart_engine_backend/models"
	"chart_engine_backend/services/datafetcher"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryController serves stored candle history from Postgres. This is
// the upstream surface the chart engine's fetcher consumes, backed by
// the backfill pipeline.
type HistoryController struct {
	db *gorm.DB
}

// NewHistoryController creates a new history controller.
func NewHistoryController(db *gorm.DB) *HistoryController {
	return &HistoryController{db: db}
}

// GetHistory returns candles for a symbol and resolution
// GET /api/v1/history?symbol=AAPL&resolution=1D&from=...&to=...
func (hc *HistoryController) GetHistory(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	resolution := c.DefaultQuery("resolution", "1D")

	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol is required"})
		return
	}

	from, _ := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	to, _ := strconv.ParseInt(c.DefaultQuery("to", strconv.FormatInt(time.Now().Unix(), 10)), 10, 64)

	var records []models.CandleRecord
	err := hc.db.Where("symbol = ? AND resolution = ? AND time BETWEEN ? AND ?", symbol, resolution, from, to).
		Order("time ASC").
		Find(&records).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	candles := make([]models.Candle, 0, len(records))
	for _, record := range records {
		candles = append(candles, record.ToCandle())
	}

	c.JSON(http.StatusOK, datafetcher.HistoryResponse{
		Symbol:     symbol,
		Resolution: resolution,
		Candles:    candles,
	})
}

// Backfill ingests a batch of candles into the history store
// POST /api/v1/history/backfill
func (hc *HistoryController) Backfill(c *gin.Context) {
	var req struct {
		Symbol     string          `json:"symbol" binding:"required"`
		Resolution string          `json:"resolution" binding:"required"`
		Candles    []models.Candle `json:"candles" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	symbol := strings.ToUpper(req.Symbol)
	records := make([]models.CandleRecord, 0, len(req.Candles))
	for _, candle := range req.Candles {
		records = append(records, models.NewCandleRecord(symbol, req.Resolution, candle))
	}

	if len(records) > 0 {
		// Upsert keyed on (symbol, resolution, time) so re-running a
		// backfill refreshes rows instead of duplicating them.
		err := hc.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "resolution"}, {Name: "time"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).CreateInBatches(records, 500).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store candles"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"ingested": len(records),
	})
}

// GetSymbols lists symbols with stored history
// GET /api/v1/history/symbols
func (hc *HistoryController) GetSymbols(c *gin.Context) {
	var symbols []string
	err := hc.db.Model(&models.CandleRecord{}).
		Distinct("symbol").
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list symbols"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": symbols, "count": len(symbols)})
}
