package controllers

import (
	"net/http"
	"strings"

	"chart_engine_backend/models"
	"chart_engine_backend/services"

	"github.com/gin-gonic/gin"
)

// SnapshotController serves archived overlay snapshots.
type SnapshotController struct {
	archive *services.MongoArchive
}

// NewSnapshotController creates a new snapshot controller.
func NewSnapshotController(archive *services.MongoArchive) *SnapshotController {
	return &SnapshotController{archive: archive}
}

// GetSnapshot returns the archived overlay snapshot for a symbol
// GET /api/v1/snapshots/:symbol?timeframe=1D
func (sc *SnapshotController) GetSnapshot(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	timeframe := c.DefaultQuery("timeframe", "1D")

	if !sc.archive.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Overlay archive not configured"})
		return
	}

	key := models.SeriesKey{Symbol: symbol, Timeframe: timeframe}
	snapshot, err := sc.archive.LoadSnapshot(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Snapshot not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

// GetArchiveStatus reports archive connectivity and size
// GET /api/v1/snapshots/status
func (sc *SnapshotController) GetArchiveStatus(c *gin.Context) {
	status := sc.archive.GetConnectionStatus()
	if count, err := sc.archive.SnapshotCount(); err == nil {
		status["snapshots"] = count
	}
	c.JSON(http.StatusOK, status)
}
