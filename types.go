package driftwatch

import (
	"time"
)

// EntityType identifies what kind of tracked entity a metric belongs to.
type EntityType string

const (
	EntityDocument EntityType = "document"
	EntityChunk    EntityType = "chunk"
	EntitySystem   EntityType = "system"
)

// Valid reports whether the entity type is one of the known values.
func (e EntityType) Valid() bool {
	switch e {
	case EntityDocument, EntityChunk, EntitySystem:
		return true
	}
	return false
}

// AnomalyType classifies what kind of irregularity a record describes.
type AnomalyType string

const (
	AnomalyStatisticalOutlier AnomalyType = "statistical_outlier"
	AnomalyTrend              AnomalyType = "trend_anomaly"
	AnomalySeasonal           AnomalyType = "seasonal_anomaly"
	AnomalyChangePoint        AnomalyType = "change_point"
	AnomalyPatternDeviation   AnomalyType = "pattern_deviation"
	AnomalyQualityDegradation AnomalyType = "quality_degradation"
	AnomalyPerformance        AnomalyType = "performance_anomaly"
)

// Severity is the totally ordered alert level of an anomaly.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity (info=0 .. critical=4).
// Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// EntityRef identifies one tracked entity, as enumerated from stored metrics.
type EntityRef struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
}

// MetricMetadata carries free-form labels attached to an observation.
type MetricMetadata struct {
	Tags []string `json:"tags,omitempty"`
}

// QualityMetric is one scalar quality observation for an entity. Produced
// exclusively by the upstream scoring pipeline; the engine only reads them.
// Timestamps within one series are monotonically non-decreasing.
type QualityMetric struct {
	EntityID   string         `json:"entity_id"`
	EntityType EntityType     `json:"entity_type"`
	MetricType string         `json:"metric_type"` // e.g. "overall_quality_score", "<dimension>_score"
	Value      float64        `json:"value"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   MetricMetadata `json:"metadata,omitempty"`
}

// QualitySnapshot is the real-time path input: one new overall observation,
// optionally carrying per-dimension sub-scores that are each checked
// independently.
type QualitySnapshot struct {
	EntityID        string             `json:"entity_id"`
	EntityType      EntityType         `json:"entity_type"`
	Timestamp       time.Time          `json:"timestamp"`
	OverallScore    float64            `json:"overall_score"`
	DimensionScores map[string]float64 `json:"dimension_scores,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
}

// AnomalyContext captures the statistical neighborhood of a flagged point.
type AnomalyContext struct {
	CurrentValue     float64 `json:"current_value"`
	ExpectedValue    float64 `json:"expected_value"`
	HistoricalMean   float64 `json:"historical_mean"`
	HistoricalStdDev float64 `json:"historical_std_dev"`
	DataPoints       int     `json:"data_points"`
}

// AnomalyMetadata carries classification context for an anomaly.
type AnomalyMetadata struct {
	QualityDimension string `json:"quality_dimension,omitempty"`
	TimeWindow       int    `json:"time_window,omitempty"`
	TrendDirection   string `json:"trend_direction,omitempty"`
}

// AnomalyRecord is one detected anomaly. Immutable once created. Multiple
// algorithms may each emit a record for the same data point; that
// multi-signal reporting is intentional and no cross-algorithm deduplication
// happens.
type AnomalyRecord struct {
	ID             string          `json:"id"`
	Type           AnomalyType     `json:"type"`
	Severity       Severity        `json:"severity"`
	EntityID       string          `json:"entity_id"`
	EntityType     EntityType      `json:"entity_type"`
	DetectedAt     time.Time       `json:"detected_at"`
	Algorithm      string          `json:"algorithm"`  // zscore | modified_zscore | iqr | zscore_realtime
	Score          float64         `json:"score"`      // normalized exceedance, clamped to [0,1]
	Confidence     float64         `json:"confidence"` // clamped to [0,1]
	Description    string          `json:"description"`
	Context        AnomalyContext  `json:"context"`
	Metadata       AnomalyMetadata `json:"metadata"`
	RelatedMetrics []QualityMetric `json:"related_metrics,omitempty"`
}

// TimeRange is the observed interval of an analyzed series.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TrendSummary is the fitted linear trend of a series.
type TrendSummary struct {
	Direction    string  `json:"direction"` // stable | increasing | decreasing | volatile
	Slope        float64 `json:"slope"`
	Confidence   float64 `json:"confidence"` // R² of the fit
	Significance float64 `json:"significance"`
}

// SeasonalitySummary reports the dominant autocorrelation period, if any.
// Phase is a placeholder fixed at 0; the lag search does not estimate it.
type SeasonalitySummary struct {
	Detected  bool    `json:"detected"`
	Period    int     `json:"period,omitempty"`
	Amplitude float64 `json:"amplitude,omitempty"`
	Phase     float64 `json:"phase"`
}

// ConfidenceInterval bounds one forecast point.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastPoint is one projected future observation.
type ForecastPoint struct {
	Timestamp          time.Time          `json:"timestamp"`
	Value              float64            `json:"value"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
}

// ForecastSummary is the linear projection attached to a trend analysis.
type ForecastSummary struct {
	Horizon     int             `json:"horizon"`
	Predictions []ForecastPoint `json:"predictions"`
	Accuracy    float64         `json:"accuracy"` // R² of the underlying fit
}

// ChangePoint marks a detected mean shift.
type ChangePoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Magnitude  float64   `json:"magnitude"`
	Confidence float64   `json:"confidence"`
}

// SeriesStatistics summarizes the analyzed series.
type SeriesStatistics struct {
	Mean            float64 `json:"mean"`
	Variance        float64 `json:"variance"`
	Autocorrelation float64 `json:"autocorrelation"`
	Stationary      bool    `json:"stationary"`
}

// TrendAnalysis is one analysis run for an (entity, dimension) pair. Later
// runs supersede earlier ones; the latest is authoritative for queries.
type TrendAnalysis struct {
	ID           string             `json:"id"`
	EntityID     string             `json:"entity_id"`
	EntityType   EntityType         `json:"entity_type"`
	Dimension    string             `json:"dimension"`
	AnalyzedAt   time.Time          `json:"analyzed_at"`
	TimeRange    TimeRange          `json:"time_range"`
	Trend        TrendSummary       `json:"trend"`
	Seasonality  SeasonalitySummary `json:"seasonality"`
	Forecast     ForecastSummary    `json:"forecast"`
	ChangePoints []ChangePoint      `json:"change_points,omitempty"`
	Statistics   SeriesStatistics   `json:"statistics"`
}

// DetectionSummary aggregates one detection pass.
type DetectionSummary struct {
	TotalAnomalies      int                 `json:"total_anomalies"`
	AnomaliesBySeverity map[Severity]int    `json:"anomalies_by_severity"`
	AnomaliesByType     map[AnomalyType]int `json:"anomalies_by_type"`
	// DetectionAccuracy is a self-reported heuristic (see
	// GetDetectionStatistics), not a ground-truth measure.
	DetectionAccuracy float64       `json:"detection_accuracy"`
	ProcessingTime    time.Duration `json:"processing_time"`
}

// DetectionMetadata describes how a detection pass was executed.
type DetectionMetadata struct {
	DataPointsAnalyzed int       `json:"data_points_analyzed"`
	AlgorithmsUsed     []string  `json:"algorithms_used"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
}

// DetectionResult is the ephemeral aggregate returned by DetectAnomalies.
// Its constituent anomaly and trend records are persisted; the result itself
// is not stored verbatim.
type DetectionResult struct {
	EntityID  string            `json:"entity_id"`
	Dimension string            `json:"dimension,omitempty"`
	Anomalies []AnomalyRecord   `json:"anomalies"`
	Trends    []TrendAnalysis   `json:"trends"`
	Summary   DetectionSummary  `json:"summary"`
	Metadata  DetectionMetadata `json:"metadata"`
}

// SummaryRecord is the persisted form of one detection pass, stored alongside
// its anomalies and trends for later statistics queries.
type SummaryRecord struct {
	ID                 string        `json:"id"`
	EntityID           string        `json:"entity_id"`
	Dimension          string        `json:"dimension,omitempty"`
	AnalyzedAt         time.Time     `json:"analyzed_at"`
	TotalAnomalies     int           `json:"total_anomalies"`
	DataPointsAnalyzed int           `json:"data_points_analyzed"`
	AlgorithmsUsed     []string      `json:"algorithms_used"`
	DetectionAccuracy  float64       `json:"detection_accuracy"`
	ProcessingTime     time.Duration `json:"processing_time"`
}

// AnomalyFilter narrows GetAnomalies queries. Zero fields match everything.
type AnomalyFilter struct {
	EntityID    string
	EntityType  EntityType
	Type        AnomalyType
	MinSeverity Severity
	Algorithm   string
	Since       time.Time
	Limit       int
}

// DetectionStatistics is the rolling self-reported state of the engine.
type DetectionStatistics struct {
	TotalRuns           int                 `json:"total_runs"`
	TotalAnomalies      int                 `json:"total_anomalies"`
	AnomaliesBySeverity map[Severity]int    `json:"anomalies_by_severity"`
	AnomaliesByType     map[AnomalyType]int `json:"anomalies_by_type"`
	// DetectionAccuracy is simulated: a fixed fraction of flagged points is
	// assumed correct because no ground-truth labels exist upstream.
	DetectionAccuracy     float64       `json:"detection_accuracy"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	EnabledAlgorithms     []string      `json:"enabled_algorithms"`
	CacheSize             int           `json:"cache_size"`
}
