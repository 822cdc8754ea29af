package routes

import (
	"time"

	"chart_engine_backend/controllers"
	"chart_engine_backend/middleware"
	"chart_engine_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the engine services the route handlers sit on.
type Deps struct {
	DB         *gorm.DB
	Session    *services.ChartSession
	Cache      *services.SeriesCache
	Compute    *services.ComputeService
	Instances  *services.InstanceCache
	Aggregator *services.AggregatorService
	Memo       *services.ResultMemo
	Archive    *services.MongoArchive
	Hub        *services.StreamHub

	RateLimitPerMinute int
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	chartController := controllers.NewChartController(deps.Session, deps.Cache,
		deps.Compute, deps.Instances, deps.Aggregator, deps.Memo)
	historyController := controllers.NewHistoryController(deps.DB)
	snapshotController := controllers.NewSnapshotController(deps.Archive)

	limiter := middleware.NewRateLimiter(deps.RateLimitPerMinute, time.Minute)

	// API v1 group
	api := router.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(limiter))
	{
		// Chart routes
		chart := api.Group("/chart")
		{
			chart.GET("/status", chartController.GetEngineStatus)
			chart.GET("/overlay/:kind", chartController.ComputeOverlay)
			chart.PUT("/display-mode", chartController.SetDisplayMode)
			chart.GET("/:symbol", chartController.SwitchChart)
			chart.POST("/:symbol/hover", chartController.Hover)
		}

		// History routes (the upstream surface the engine fetches from)
		history := api.Group("/history")
		{
			history.GET("", historyController.GetHistory)
			history.GET("/symbols", historyController.GetSymbols)
			history.POST("/backfill", historyController.Backfill)
		}

		// Overlay snapshot archive routes
		snapshots := api.Group("/snapshots")
		{
			snapshots.GET("/status", snapshotController.GetArchiveStatus)
			snapshots.GET("/:symbol", snapshotController.GetSnapshot)
		}
	}

	// Live candle stream
	router.GET("/ws/candles", func(c *gin.Context) {
		deps.Hub.HandleWebSocket(c.Writer, c.Request)
	})
}
