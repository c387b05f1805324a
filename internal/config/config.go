// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration for the driftwatch service.
type Config struct {
	// Storage settings.
	Backend     string // "postgres" or "sqlite"
	DatabaseURL string // Postgres DSN, used when Backend is "postgres".
	SQLitePath  string // Database file path, used when Backend is "sqlite".

	// Detector settings.
	ZScoreThreshold    float64
	ZScoreWindow       int
	ModifiedZThreshold float64
	ModifiedZWindow    int
	IQRMultiplier      float64
	IQRWindow          int

	// Trend settings.
	TrendWindow     int
	SeasonalPeriod  int
	ForecastHorizon int

	// Data settings.
	MinDataPoints   int
	MaxHistorySize  int
	CleanupInterval time.Duration
	RetentionPeriod time.Duration

	// Performance settings.
	CacheSize             int
	MaxConcurrentAnalysis int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel     string
	ScanInterval time.Duration // how often the daemon sweeps all known entities
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Backend:               envStr("DRIFTWATCH_BACKEND", "sqlite"),
		DatabaseURL:           envStr("DATABASE_URL", ""),
		SQLitePath:            envStr("DRIFTWATCH_SQLITE_PATH", "driftwatch.db"),
		ZScoreThreshold:       envFloat("DRIFTWATCH_ZSCORE_THRESHOLD", 3.0),
		ZScoreWindow:          envInt("DRIFTWATCH_ZSCORE_WINDOW", 50),
		ModifiedZThreshold:    envFloat("DRIFTWATCH_MODIFIED_Z_THRESHOLD", 3.5),
		ModifiedZWindow:       envInt("DRIFTWATCH_MODIFIED_Z_WINDOW", 50),
		IQRMultiplier:         envFloat("DRIFTWATCH_IQR_MULTIPLIER", 1.5),
		IQRWindow:             envInt("DRIFTWATCH_IQR_WINDOW", 50),
		TrendWindow:           envInt("DRIFTWATCH_TREND_WINDOW", 100),
		SeasonalPeriod:        envInt("DRIFTWATCH_SEASONAL_PERIOD", 7),
		ForecastHorizon:       envInt("DRIFTWATCH_FORECAST_HORIZON", 10),
		MinDataPoints:         envInt("DRIFTWATCH_MIN_DATA_POINTS", 20),
		MaxHistorySize:        envInt("DRIFTWATCH_MAX_HISTORY_SIZE", 1000),
		CleanupInterval:       envDuration("DRIFTWATCH_CLEANUP_INTERVAL", time.Hour),
		RetentionPeriod:       envDuration("DRIFTWATCH_RETENTION_PERIOD", 7*24*time.Hour),
		CacheSize:             envInt("DRIFTWATCH_CACHE_SIZE", 128),
		MaxConcurrentAnalysis: envInt("DRIFTWATCH_MAX_CONCURRENT", 4),
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:           envStr("OTEL_SERVICE_NAME", "driftwatch"),
		LogLevel:              envStr("DRIFTWATCH_LOG_LEVEL", "info"),
		ScanInterval:          envDuration("DRIFTWATCH_SCAN_INTERVAL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.Backend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when DRIFTWATCH_BACKEND=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: DRIFTWATCH_SQLITE_PATH is required when DRIFTWATCH_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("config: DRIFTWATCH_BACKEND must be postgres or sqlite, got %q", c.Backend)
	}
	if c.MinDataPoints < 2 {
		return fmt.Errorf("config: DRIFTWATCH_MIN_DATA_POINTS must be at least 2")
	}
	if c.MaxHistorySize < c.MinDataPoints {
		return fmt.Errorf("config: DRIFTWATCH_MAX_HISTORY_SIZE must not be below DRIFTWATCH_MIN_DATA_POINTS")
	}
	if c.MaxConcurrentAnalysis <= 0 {
		return fmt.Errorf("config: DRIFTWATCH_MAX_CONCURRENT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
