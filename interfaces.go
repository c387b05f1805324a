package driftwatch

import (
	"context"
	"time"
)

// MetricsStore is the persistence contract the engine depends on. The raw
// quality metrics are written by the upstream scoring pipeline; the engine
// only reads them, and writes back its own anomaly, trend, and summary
// records.
//
// Implementations must be safe for concurrent use. Queries return records
// newest first. The store is expected to serialize its own writes; the engine
// does not require atomicity across the records of one detection pass.
type MetricsStore interface {
	// QueryMetrics returns up to limit observations for the entity, newest
	// first. An empty dimension matches every metric type.
	QueryMetrics(ctx context.Context, entityID, dimension string, limit int) ([]QualityMetric, error)

	InsertAnomaly(ctx context.Context, a AnomalyRecord) error
	InsertTrend(ctx context.Context, t TrendAnalysis) error
	InsertSummary(ctx context.Context, s SummaryRecord) error

	QueryAnomalies(ctx context.Context, filter AnomalyFilter) ([]AnomalyRecord, error)
	// QueryTrends returns analyses newest first; an empty dimension matches
	// all dimensions.
	QueryTrends(ctx context.Context, entityID, dimension string) ([]TrendAnalysis, error)

	// DeleteOlderThan purges metrics, anomalies, trends, and summaries whose
	// timestamps precede cutoff. Returns per-kind deletion counts.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (PurgeCounts, error)
}

// PurgeCounts reports rows removed by one retention pass.
type PurgeCounts struct {
	Metrics   int64 `json:"metrics"`
	Anomalies int64 `json:"anomalies"`
	Trends    int64 `json:"trends"`
	Summaries int64 `json:"summaries"`
}

// Total sums the per-kind counts.
func (p PurgeCounts) Total() int64 {
	return p.Metrics + p.Anomalies + p.Trends + p.Summaries
}
