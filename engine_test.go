package driftwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory MetricsStore for engine tests.
type fakeStore struct {
	mu        sync.Mutex
	metrics   []QualityMetric
	anomalies []AnomalyRecord
	trends    []TrendAnalysis
	summaries []SummaryRecord

	queryErr error
	// queryGate, when set, blocks QueryMetrics until released. Used to hold a
	// detection run in flight.
	queryGate chan struct{}
}

func (f *fakeStore) QueryMetrics(ctx context.Context, entityID, dimension string, limit int) ([]QualityMetric, error) {
	if f.queryGate != nil {
		<-f.queryGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var out []QualityMetric
	// Newest first, like the real stores.
	for i := len(f.metrics) - 1; i >= 0; i-- {
		m := f.metrics[i]
		if m.EntityID != entityID {
			continue
		}
		if dimension != "" && m.MetricType != dimension {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAnomaly(ctx context.Context, a AnomalyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies = append(f.anomalies, a)
	return nil
}

func (f *fakeStore) InsertTrend(ctx context.Context, t TrendAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trends = append(f.trends, t)
	return nil
}

func (f *fakeStore) InsertSummary(ctx context.Context, s SummaryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) QueryAnomalies(ctx context.Context, filter AnomalyFilter) ([]AnomalyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]AnomalyRecord, len(f.anomalies))
	copy(out, f.anomalies)
	return out, nil
}

func (f *fakeStore) QueryTrends(ctx context.Context, entityID, dimension string) ([]TrendAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]TrendAnalysis, len(f.trends))
	copy(out, f.trends)
	return out, nil
}

func (f *fakeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (PurgeCounts, error) {
	return PurgeCounts{}, nil
}

func (f *fakeStore) storedAnomalies() []AnomalyRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AnomalyRecord, len(f.anomalies))
	copy(out, f.anomalies)
	return out
}

// seedSpikeSeries loads an alternating low-dispersion series ending in one
// extreme spike: n-1 points of 10±0.5, then value 100.
func seedSpikeSeries(f *fakeStore, entityID, metricType string, n int) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := 10.0 + 0.5*float64(1-2*(i%2))
		if i == n-1 {
			v = 100
		}
		f.metrics = append(f.metrics, QualityMetric{
			EntityID:   entityID,
			EntityType: EntityDocument,
			MetricType: metricType,
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(t *testing.T, store MetricsStore, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(store, WithConfig(cfg), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestDetectAnomaliesFlagsSpike(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	result, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)

	// All three detectors flag the spike independently.
	require.Len(t, result.Anomalies, 3)
	algorithms := make(map[string]AnomalyRecord)
	for _, a := range result.Anomalies {
		algorithms[a.Algorithm] = a
		assert.Equal(t, AnomalyStatisticalOutlier, a.Type)
		assert.Equal(t, SeverityCritical, a.Severity)
		assert.InDelta(t, 1.0, a.Score, 1e-9)
		assert.Equal(t, "doc-1", a.EntityID)
		assert.Equal(t, 100.0, a.Context.CurrentValue)
		assert.Equal(t, "overall_quality_score", a.Metadata.QualityDimension)
		require.Len(t, a.RelatedMetrics, 1)
		assert.Equal(t, 100.0, a.RelatedMetrics[0].Value)
	}
	assert.Contains(t, algorithms, "zscore")
	assert.Contains(t, algorithms, "modified_zscore")
	assert.Contains(t, algorithms, "iqr")

	assert.Equal(t, 60, result.Metadata.DataPointsAnalyzed)
	assert.Equal(t, 3, result.Summary.TotalAnomalies)
	assert.Equal(t, 3, result.Summary.AnomaliesBySeverity[SeverityCritical])

	// Anomalies and the summary were persisted.
	assert.Len(t, store.storedAnomalies(), 3)
	store.mu.Lock()
	assert.Len(t, store.summaries, 1)
	store.mu.Unlock()
}

func TestDetectAnomaliesInsufficientData(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 5)
	e := newTestEngine(t, store)

	_, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDetectAnomaliesStoreUnavailable(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("connection refused")}
	e := newTestEngine(t, store)

	_, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDetectAnomaliesRejectsConcurrentSameEntity(t *testing.T) {
	store := &fakeStore{queryGate: make(chan struct{})}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	done := make(chan error, 1)
	go func() {
		_, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
		done <- err
	}()

	// Wait until the first run is parked inside QueryMetrics.
	require.Eventually(t, func() bool {
		e.inflightMu.Lock()
		defer e.inflightMu.Unlock()
		_, busy := e.inflight["doc-1"]
		return busy
	}, time.Second, time.Millisecond)

	_, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	assert.ErrorIs(t, err, ErrAnalysisInProgress)

	close(store.queryGate)
	require.NoError(t, <-done)

	// The slot is released afterwards; a fresh run proceeds.
	store.queryGate = nil
	_, err = e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	assert.NoError(t, err)
}

func TestDetectAnomaliesDistinctEntitiesProceed(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	seedSpikeSeries(store, "doc-2", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"doc-1", "doc-2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.DetectAnomalies(context.Background(), id, EntityDocument, "")
		}()
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestDetectAnomaliesCachesResults(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	first, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)

	second, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Only the first pass persisted records.
	assert.Len(t, store.storedAnomalies(), 3)

	e.ClearCache()
	third, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestDetectAnomaliesIdempotentWithoutCache(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store, func(c *Config) {
		c.Performance.EnableCaching = false
	})

	first, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)
	second, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)

	require.Len(t, second.Anomalies, len(first.Anomalies))
	for i := range first.Anomalies {
		assert.Equal(t, first.Anomalies[i].Algorithm, second.Anomalies[i].Algorithm)
		assert.Equal(t, first.Anomalies[i].Score, second.Anomalies[i].Score)
		assert.Equal(t, first.Anomalies[i].Severity, second.Anomalies[i].Severity)
	}
}

func TestDetectAnomaliesPerDimension(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	seedSpikeSeries(store, "doc-1", "accuracy_score", 60)
	e := newTestEngine(t, store)

	result, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "accuracy_score")
	require.NoError(t, err)
	for _, a := range result.Anomalies {
		assert.Equal(t, "accuracy_score", a.Metadata.QualityDimension)
	}
}

func TestSubscribeReceivesAnomalies(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	ch := e.Subscribe()
	defer e.Unsubscribe(ch)

	result, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)

	for range result.Anomalies {
		select {
		case a := <-ch:
			assert.Equal(t, "doc-1", a.EntityID)
		case <-time.After(time.Second):
			t.Fatal("expected anomaly notification")
		}
	}
}

func TestUpdateConfigurationValidates(t *testing.T) {
	e := newTestEngine(t, &fakeStore{})

	err := e.UpdateConfiguration(func(c *Config) {
		c.ZScore.Threshold = -1
	})
	assert.Error(t, err)

	// The live config is untouched after a rejected update.
	assert.Equal(t, 3.0, e.config().ZScore.Threshold)

	require.NoError(t, e.UpdateConfiguration(func(c *Config) {
		c.ZScore.Threshold = 2.5
	}))
	assert.Equal(t, 2.5, e.config().ZScore.Threshold)
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e, err := New(store, WithLogger(testLogger()))
	require.NoError(t, err)

	e.Close()
	e.Close() // idempotent

	_, err = e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.Empty(t, e.DetectRealtimeAnomaly(context.Background(), QualitySnapshot{EntityID: "doc-1"}))
}

func TestGetDetectionStatistics(t *testing.T) {
	store := &fakeStore{}
	seedSpikeSeries(store, "doc-1", "overall_quality_score", 60)
	e := newTestEngine(t, store)

	stats := e.GetDetectionStatistics()
	assert.Equal(t, 0, stats.TotalRuns)
	assert.Equal(t, []string{"zscore", "modified_zscore", "iqr"}, stats.EnabledAlgorithms)

	_, err := e.DetectAnomalies(context.Background(), "doc-1", EntityDocument, "")
	require.NoError(t, err)

	stats = e.GetDetectionStatistics()
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 3, stats.TotalAnomalies)
	assert.Equal(t, 3, stats.AnomaliesBySeverity[SeverityCritical])
	assert.Equal(t, 3, stats.AnomaliesByType[AnomalyStatisticalOutlier])
	assert.InDelta(t, 0.9, stats.DetectionAccuracy, 1e-9)
}

func TestQueryMethodsDegradeOnStoreError(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("connection refused")}
	e := newTestEngine(t, store)

	assert.Empty(t, e.GetAnomalies(context.Background(), AnomalyFilter{}))
	assert.Empty(t, e.GetTrendAnalysis(context.Background(), "doc-1", ""))
}

func TestSeverityForRatio(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Severity
	}{
		{2.5, SeverityCritical},
		{2.0, SeverityCritical},
		{1.7, SeverityHigh},
		{1.5, SeverityHigh},
		{1.2, SeverityMedium},
		{1.0, SeverityMedium},
		{0.7, SeverityLow},
		{0.5, SeverityLow},
		{0.3, SeverityInfo},
		{0, SeverityInfo},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("ratio_%v", tc.ratio), func(t *testing.T) {
			assert.Equal(t, tc.want, severityForRatio(tc.ratio))
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityHigh))
	assert.Equal(t, -1, Severity("bogus").Rank())
}
