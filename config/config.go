package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	MongoURI string

	UpstreamURL string
	TickFeedURL string
	SQLitePath  string

	Watchlist        []string
	DefaultTimeframe string

	Workers          int
	HotCapacity      int
	MemoCapacity     int
	InstanceCapacity int
	CompressDigits   int
	LODThreshold     float64

	RateLimitPerMinute int
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "chart_engine"),

		MongoURI: getEnv("MONGODB_URI", ""),

		UpstreamURL: getEnv("UPSTREAM_HISTORY_URL", "http://localhost:8080/api/v1/history"),
		TickFeedURL: getEnv("TICK_FEED_URL", "ws://localhost:9001/ticks"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/series_cache.db"),

		Watchlist:        splitList(getEnv("WATCHLIST", "AAPL,MSFT,GOOG,AMZN,NVDA,META,TSLA,AMD,NFLX,INTC")),
		DefaultTimeframe: getEnv("DEFAULT_TIMEFRAME", "1D"),

		Workers:          getEnvInt("COMPUTE_WORKERS", 4),
		HotCapacity:      getEnvInt("HOT_CACHE_CAPACITY", 50),
		MemoCapacity:     getEnvInt("MEMO_CAPACITY", 1000),
		InstanceCapacity: getEnvInt("INSTANCE_CAPACITY", 10),
		CompressDigits:   getEnvInt("COMPRESS_DIGITS", 2),
		LODThreshold:     getEnvFloat("LOD_THRESHOLD", 0.00001),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 300),
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes the history database connection
func InitDB() (*gorm.DB, error) {
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %g", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
