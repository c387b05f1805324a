package driftwatch

import (
	"fmt"
	"time"
)

// AlgorithmConfig controls one window-based outlier detector.
type AlgorithmConfig struct {
	Enabled    bool    `json:"enabled"`
	Threshold  float64 `json:"threshold"`
	WindowSize int     `json:"window_size"`
}

// IQRConfig controls the IQR-fence detector; Multiplier is the fence width k.
type IQRConfig struct {
	Enabled    bool    `json:"enabled"`
	Multiplier float64 `json:"multiplier"`
	WindowSize int     `json:"window_size"`
}

// IsolationForestConfig is recognized but not implemented: the detector is a
// stub and enabling it only produces a startup warning.
type IsolationForestConfig struct {
	Enabled bool `json:"enabled"`
}

// TrendConfig controls the trend analyzer.
type TrendConfig struct {
	Enabled                bool    `json:"enabled"`
	WindowSize             int     `json:"window_size"` // minimum series length for batch trend analysis
	SeasonalPeriod         int     `json:"seasonal_period"`
	ChangePointSensitivity float64 `json:"change_point_sensitivity"`
	ForecastHorizon        int     `json:"forecast_horizon"`
}

// DataConfig controls series retrieval and retention.
type DataConfig struct {
	MinDataPoints   int           `json:"min_data_points"`
	MaxHistorySize  int           `json:"max_history_size"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	RetentionPeriod time.Duration `json:"retention_period"`
	BatchSize       int           `json:"batch_size"`
}

// PerformanceConfig controls caching and parallelism.
type PerformanceConfig struct {
	EnableCaching            bool `json:"enable_caching"`
	CacheSize                int  `json:"cache_size"`
	EnableParallelProcessing bool `json:"enable_parallel_processing"`
	MaxConcurrentAnalysis    int  `json:"max_concurrent_analysis"`
}

// ThresholdConfig holds cross-cutting significance cutoffs.
type ThresholdConfig struct {
	AnomalyScore         float64 `json:"anomaly_score"`
	TrendSignificance    float64 `json:"trend_significance"`
	ChangePointThreshold float64 `json:"change_point_threshold"`
}

// Config is the full engine configuration. Obtain a baseline from
// DefaultConfig and adjust; a zero Config fails validation.
type Config struct {
	ZScore          AlgorithmConfig       `json:"zscore"`
	ModifiedZScore  AlgorithmConfig       `json:"modified_zscore"`
	IQR             IQRConfig             `json:"iqr"`
	IsolationForest IsolationForestConfig `json:"isolation_forest"`
	Trend           TrendConfig           `json:"trend"`
	Data            DataConfig            `json:"data"`
	Performance     PerformanceConfig     `json:"performance"`
	Thresholds      ThresholdConfig       `json:"thresholds"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ZScore:         AlgorithmConfig{Enabled: true, Threshold: 3.0, WindowSize: 50},
		ModifiedZScore: AlgorithmConfig{Enabled: true, Threshold: 3.5, WindowSize: 50},
		IQR:            IQRConfig{Enabled: true, Multiplier: 1.5, WindowSize: 50},
		Trend: TrendConfig{
			Enabled:                true,
			WindowSize:             100,
			SeasonalPeriod:         7,
			ChangePointSensitivity: 0.05,
			ForecastHorizon:        10,
		},
		Data: DataConfig{
			MinDataPoints:   20,
			MaxHistorySize:  1000,
			CleanupInterval: time.Hour,
			RetentionPeriod: 7 * 24 * time.Hour,
			BatchSize:       100,
		},
		Performance: PerformanceConfig{
			EnableCaching:            true,
			CacheSize:                128,
			EnableParallelProcessing: true,
			MaxConcurrentAnalysis:    4,
		},
		Thresholds: ThresholdConfig{
			AnomalyScore:         0.5,
			TrendSignificance:    0.05,
			ChangePointThreshold: 2.0,
		},
	}
}

// Validate checks internal consistency. Called on construction and after
// every UpdateConfiguration merge.
func (c Config) Validate() error {
	if c.ZScore.Enabled && (c.ZScore.Threshold <= 0 || c.ZScore.WindowSize < 2) {
		return fmt.Errorf("driftwatch: zscore config: threshold and window must be positive")
	}
	if c.ModifiedZScore.Enabled && (c.ModifiedZScore.Threshold <= 0 || c.ModifiedZScore.WindowSize < 2) {
		return fmt.Errorf("driftwatch: modified zscore config: threshold and window must be positive")
	}
	if c.IQR.Enabled && (c.IQR.Multiplier <= 0 || c.IQR.WindowSize < 2) {
		return fmt.Errorf("driftwatch: iqr config: multiplier and window must be positive")
	}
	if c.Data.MinDataPoints < 2 {
		return fmt.Errorf("driftwatch: data config: min data points must be at least 2")
	}
	if c.Data.MaxHistorySize < c.Data.MinDataPoints {
		return fmt.Errorf("driftwatch: data config: max history size below min data points")
	}
	if c.Data.CleanupInterval <= 0 || c.Data.RetentionPeriod <= 0 {
		return fmt.Errorf("driftwatch: data config: cleanup interval and retention must be positive")
	}
	if c.Performance.EnableCaching && c.Performance.CacheSize <= 0 {
		return fmt.Errorf("driftwatch: performance config: cache size must be positive when caching is enabled")
	}
	if c.Performance.MaxConcurrentAnalysis <= 0 {
		return fmt.Errorf("driftwatch: performance config: max concurrent analysis must be positive")
	}
	if c.Trend.Enabled && c.Trend.WindowSize < 2 {
		return fmt.Errorf("driftwatch: trend config: window size must be at least 2")
	}
	return nil
}

// enabledAlgorithms lists the active detector tags in a stable order.
func (c Config) enabledAlgorithms() []string {
	var out []string
	if c.ZScore.Enabled {
		out = append(out, "zscore")
	}
	if c.ModifiedZScore.Enabled {
		out = append(out, "modified_zscore")
	}
	if c.IQR.Enabled {
		out = append(out, "iqr")
	}
	return out
}
