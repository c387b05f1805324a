package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castplan/driftwatch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMetrics(t *testing.T, s *Store, entityID string, n int, start time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, s.InsertMetric(ctx, driftwatch.QualityMetric{
			EntityID:   entityID,
			EntityType: driftwatch.EntityDocument,
			MetricType: "overall_quality_score",
			Value:      0.8 + float64(i)*0.001,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
			Metadata:   driftwatch.MetricMetadata{Tags: []string{"seed"}},
		}))
	}
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	got, err := s.QueryMetrics(context.Background(), "missing", "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedMetrics(t, s, "doc-1", 10, start)

	require.NoError(t, s.InsertMetric(ctx, driftwatch.QualityMetric{
		EntityID:   "doc-1",
		EntityType: driftwatch.EntityDocument,
		MetricType: "accuracy_score",
		Value:      0.95,
		Timestamp:  start.Add(time.Hour),
	}))

	got, err := s.QueryMetrics(ctx, "doc-1", "", 100)
	require.NoError(t, err)
	require.Len(t, got, 11)
	// Newest first.
	assert.Equal(t, "accuracy_score", got[0].MetricType)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}

	got, err = s.QueryMetrics(ctx, "doc-1", "overall_quality_score", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, driftwatch.EntityDocument, got[0].EntityType)
	assert.Equal(t, []string{"seed"}, got[0].Metadata.Tags)
}

func TestAnomalyRoundTripAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	mk := func(severity driftwatch.Severity, algorithm string, at time.Time) driftwatch.AnomalyRecord {
		return driftwatch.AnomalyRecord{
			ID:          uuid.NewString(),
			Type:        driftwatch.AnomalyStatisticalOutlier,
			Severity:    severity,
			EntityID:    "doc-1",
			EntityType:  driftwatch.EntityDocument,
			DetectedAt:  at,
			Algorithm:   algorithm,
			Score:       1.0,
			Confidence:  0.8,
			Description: "test anomaly",
			Context: driftwatch.AnomalyContext{
				CurrentValue:   0.2,
				ExpectedValue:  0.8,
				HistoricalMean: 0.8,
				DataPoints:     50,
			},
			Metadata: driftwatch.AnomalyMetadata{
				QualityDimension: "overall_quality_score",
				TimeWindow:       50,
				TrendDirection:   "stable",
			},
			RelatedMetrics: []driftwatch.QualityMetric{{
				EntityID:   "doc-1",
				EntityType: driftwatch.EntityDocument,
				MetricType: "overall_quality_score",
				Value:      0.2,
				Timestamp:  at,
			}},
		}
	}

	require.NoError(t, s.InsertAnomaly(ctx, mk(driftwatch.SeverityCritical, "zscore", now)))
	require.NoError(t, s.InsertAnomaly(ctx, mk(driftwatch.SeverityLow, "iqr", now.Add(time.Minute))))
	require.NoError(t, s.InsertAnomaly(ctx, mk(driftwatch.SeverityHigh, "zscore", now.Add(2*time.Minute))))

	got, err := s.QueryAnomalies(ctx, driftwatch.AnomalyFilter{EntityID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first, JSON fields intact.
	assert.Equal(t, driftwatch.SeverityHigh, got[0].Severity)
	assert.Equal(t, 0.8, got[0].Context.ExpectedValue)
	assert.Equal(t, "stable", got[0].Metadata.TrendDirection)
	require.Len(t, got[0].RelatedMetrics, 1)
	assert.Equal(t, 0.2, got[0].RelatedMetrics[0].Value)

	got, err = s.QueryAnomalies(ctx, driftwatch.AnomalyFilter{
		EntityID:    "doc-1",
		MinSeverity: driftwatch.SeverityHigh,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.QueryAnomalies(ctx, driftwatch.AnomalyFilter{
		EntityID:  "doc-1",
		Algorithm: "iqr",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.QueryAnomalies(ctx, driftwatch.AnomalyFilter{
		EntityID: "doc-1",
		Since:    now.Add(90 * time.Second),
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestTrendRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	trend := driftwatch.TrendAnalysis{
		ID:         uuid.NewString(),
		EntityID:   "doc-1",
		EntityType: driftwatch.EntityDocument,
		Dimension:  "overall_quality_score",
		AnalyzedAt: now,
		TimeRange:  driftwatch.TimeRange{Start: now.Add(-time.Hour), End: now},
		Trend: driftwatch.TrendSummary{
			Direction:    "decreasing",
			Slope:        -0.01,
			Confidence:   0.85,
			Significance: 0.92,
		},
		Seasonality: driftwatch.SeasonalitySummary{Detected: true, Period: 4, Amplitude: -0.5},
		Forecast: driftwatch.ForecastSummary{
			Horizon: 1,
			Predictions: []driftwatch.ForecastPoint{
				{Timestamp: now.Add(time.Hour), Value: 0.7,
					ConfidenceInterval: driftwatch.ConfidenceInterval{Lower: 0.6, Upper: 0.8}},
			},
			Accuracy: 0.85,
		},
		ChangePoints: []driftwatch.ChangePoint{
			{Timestamp: now.Add(-20 * time.Minute), Magnitude: -0.1, Confidence: 0.9},
		},
		Statistics: driftwatch.SeriesStatistics{Mean: 0.75, Variance: 0.002, Autocorrelation: 0.3},
	}
	require.NoError(t, s.InsertTrend(ctx, trend))

	got, err := s.QueryTrends(ctx, "doc-1", "overall_quality_score")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, trend.Trend, got[0].Trend)
	assert.Equal(t, trend.Seasonality, got[0].Seasonality)
	assert.Equal(t, trend.Forecast, got[0].Forecast)
	assert.Equal(t, trend.ChangePoints, got[0].ChangePoints)
	assert.Equal(t, trend.Statistics, got[0].Statistics)
	assert.True(t, trend.TimeRange.Start.Equal(got[0].TimeRange.Start))

	got, err = s.QueryTrends(ctx, "doc-1", "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummaryInsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertSummary(context.Background(), driftwatch.SummaryRecord{
		ID:                 uuid.NewString(),
		EntityID:           "doc-1",
		AnalyzedAt:         time.Now(),
		TotalAnomalies:     2,
		DataPointsAnalyzed: 60,
		AlgorithmsUsed:     []string{"zscore", "iqr"},
		DetectionAccuracy:  0.9,
		ProcessingTime:     10 * time.Millisecond,
	}))
}

func TestListEntities(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedMetrics(t, s, "doc-b", 2, start)
	seedMetrics(t, s, "doc-a", 2, start)

	entities, err := s.ListEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []driftwatch.EntityRef{
		{ID: "doc-a", Type: driftwatch.EntityDocument},
		{ID: "doc-b", Type: driftwatch.EntityDocument},
	}, entities)
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedMetrics(t, s, "doc-1", 5, old)
	seedMetrics(t, s, "doc-1", 3, recent)

	require.NoError(t, s.InsertAnomaly(ctx, driftwatch.AnomalyRecord{
		ID:         uuid.NewString(),
		Type:       driftwatch.AnomalyStatisticalOutlier,
		Severity:   driftwatch.SeverityInfo,
		EntityID:   "doc-1",
		EntityType: driftwatch.EntityDocument,
		DetectedAt: old,
		Algorithm:  "zscore",
	}))

	counts, err := s.DeleteOlderThan(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts.Metrics)
	assert.Equal(t, int64(1), counts.Anomalies)
	assert.Equal(t, int64(6), counts.Total())

	remaining, err := s.QueryMetrics(ctx, "doc-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}
