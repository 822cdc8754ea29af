package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chart_engine_backend/config"
	"chart_engine_backend/models"
	"chart_engine_backend/routes"
	"chart_engine_backend/scheduler"
	"chart_engine_backend/services"
	"chart_engine_backend/services/compress"
	"chart_engine_backend/services/datafetcher"
	"chart_engine_backend/services/workers"

	"github.com/gin-gonic/gin"
)

// engineInitialized tracks whether the engine services have come up.
// Guarded for the /ready endpoint which is polled from other goroutines.
var engineInitialized bool
var engineInitMutex sync.RWMutex

type engine struct {
	durable    *services.DurableStore
	cache      *services.SeriesCache
	memo       *services.ResultMemo
	compute    *services.ComputeService
	instances  *services.InstanceCache
	aggregator *services.AggregatorService
	session    *services.ChartSession
	prefetcher *services.PrefetchScheduler
	archive    *services.MongoArchive
	hub        *services.StreamHub
	tickFeed   *services.TickFeedService
	jobs       *scheduler.Scheduler
}

func main() {
	log.Println("==============================================")
	log.Println("  Chart Engine Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Health endpoints go up first so the platform can probe while the
	// databases connect in the background.
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	var eng *engine
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := models.MigrateCandleModels(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		eng, err = buildEngine(cfg)
		if err != nil {
			log.Printf("ERROR: Engine initialization failed: %v", err)
			return
		}

		engineInitMutex.Lock()
		engineInitialized = true
		engineInitMutex.Unlock()

		routes.SetupRoutes(router, routes.Deps{
			DB:                 db,
			Session:            eng.session,
			Cache:              eng.cache,
			Compute:            eng.compute,
			Instances:          eng.instances,
			Aggregator:         eng.aggregator,
			Memo:               eng.memo,
			Archive:            eng.archive,
			Hub:                eng.hub,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		})

		eng.jobs.Start()

		// Warm the instance pool and connect the live feed.
		eng.instances.WarmInBackground(cfg.Watchlist)
		if err := eng.tickFeed.Start(); err != nil {
			log.Printf("Warning: tick feed failed to start: %v", err)
		}
		for _, symbol := range cfg.Watchlist {
			if err := eng.tickFeed.Subscribe(symbol); err != nil {
				log.Printf("Warning: subscribe %s failed: %v", symbol, err)
			}
		}

		log.Println("Application fully initialized")
	}()

	gracefulShutdown(server, &eng)
}

// buildEngine constructs the service graph bottom-up.
func buildEngine(cfg *config.Config) (*engine, error) {
	durable, err := services.NewDurableStore(cfg.SQLitePath, services.DefaultDurableTTL)
	if err != nil {
		return nil, err
	}

	codec := compress.NewCodec(int32(cfg.CompressDigits))
	fetcher := datafetcher.NewDataFetcher(cfg.UpstreamURL)
	cache := services.NewSeriesCache(durable, codec, fetcher, services.DefaultHotTTL, cfg.HotCapacity)

	memo := services.NewResultMemo(cfg.MemoCapacity, services.DefaultMemoMaxAge)
	poolCfg := workers.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	compute := services.NewComputeService(poolCfg, memo)

	instances := services.NewInstanceCache(cache, compute, cfg.DefaultTimeframe, cfg.InstanceCapacity)
	aggregator := services.NewAggregatorService(cfg.LODThreshold)
	prefetcher := services.NewPrefetchScheduler(cache)
	archive := services.NewMongoArchive(cfg.MongoURI)

	session := services.NewChartSession(instances, cache, compute, aggregator,
		prefetcher, archive, cfg.Watchlist)

	hub := services.NewStreamHub(aggregator)
	tickFeed := services.NewTickFeedService(cfg.TickFeedURL, aggregator)

	jobs := scheduler.NewScheduler(cache, durable, memo, instances, cfg.Watchlist)

	return &engine{
		durable:    durable,
		cache:      cache,
		memo:       memo,
		compute:    compute,
		instances:  instances,
		aggregator: aggregator,
		session:    session,
		prefetcher: prefetcher,
		archive:    archive,
		hub:        hub,
		tickFeed:   tickFeed,
		jobs:       jobs,
	}, nil
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Chart Engine Backend",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		engineInitMutex.RLock()
		ready := engineInitialized
		engineInitMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Engine not initialized",
			})
			return
		}

		if config.DB != nil {
			sqlDB, err := config.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "not_ready",
					"message": "Database connection error",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, eng **engine) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	if e := *eng; e != nil {
		e.jobs.Stop()
		e.tickFeed.Stop()
		e.hub.Shutdown()
		e.compute.Stop()
		if err := e.archive.Close(); err != nil {
			log.Printf("Error closing overlay archive: %v", err)
		}
		if err := e.durable.Close(); err != nil {
			log.Printf("Error closing durable cache: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
