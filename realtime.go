package driftwatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/castplan/driftwatch/internal/outlier"
)

const overallScoreMetric = "overall_quality_score"

// DetectRealtimeAnomaly checks one fresh quality snapshot against the
// entity's recent history using the single-point Z-score test. The overall
// score and every dimension sub-score are each tested independently against
// their own series.
//
// This path never fails the caller: insufficient history, a missing series,
// or a store error all degrade to an empty result with a logged diagnostic.
// Flagged anomalies are persisted and published asynchronously.
func (e *Engine) DetectRealtimeAnomaly(ctx context.Context, snap QualitySnapshot) []AnomalyRecord {
	if e.isClosed() {
		return []AnomalyRecord{}
	}
	if snap.EntityID == "" {
		e.logger.Warn("realtime check skipped: snapshot has no entity id")
		return []AnomalyRecord{}
	}

	cfg := e.config()

	history, err := e.store.QueryMetrics(ctx, snap.EntityID, "", cfg.Data.MaxHistorySize)
	if err != nil {
		e.logger.Warn("realtime history fetch failed, skipping check",
			"entity_id", snap.EntityID, "error", err)
		return []AnomalyRecord{}
	}
	reverse(history)
	series := seriesByMetricType(history)

	anomalies := []AnomalyRecord{}
	check := func(metricType string, value float64) {
		flag, flagged := outlier.RealtimeZScore(series[metricType], value,
			cfg.ZScore.WindowSize, cfg.ZScore.Threshold)
		if !flagged {
			return
		}
		anomalies = append(anomalies, e.realtimeRecord(snap, metricType, flag))
	}

	check(overallScoreMetric, snap.OverallScore)
	for _, dim := range sortedKeys(snap.DimensionScores) {
		check(dim+"_score", snap.DimensionScores[dim])
	}

	if len(anomalies) > 0 {
		e.persistRealtime(anomalies)
		e.logger.Info("realtime anomalies flagged",
			"entity_id", snap.EntityID, "count", len(anomalies))
	}
	return anomalies
}

func (e *Engine) realtimeRecord(snap QualitySnapshot, metricType string, f outlier.Flag) AnomalyRecord {
	return AnomalyRecord{
		ID:          uuid.NewString(),
		Type:        AnomalyStatisticalOutlier,
		Severity:    severityForRatio(f.Ratio),
		EntityID:    snap.EntityID,
		EntityType:  snap.EntityType,
		DetectedAt:  e.clock(),
		Algorithm:   f.Algorithm,
		Score:       f.Score,
		Confidence:  f.Confidence,
		Description: fmt.Sprintf("realtime %s deviation: %s", metricType, f.Detail),
		Context: AnomalyContext{
			CurrentValue:     f.Value,
			ExpectedValue:    f.Expected,
			HistoricalMean:   f.Mean,
			HistoricalStdDev: f.StdDev,
			DataPoints:       f.DataPoints,
		},
		Metadata: AnomalyMetadata{
			QualityDimension: metricType,
			TimeWindow:       f.DataPoints,
		},
		RelatedMetrics: []QualityMetric{{
			EntityID:   snap.EntityID,
			EntityType: snap.EntityType,
			MetricType: metricType,
			Value:      f.Value,
			Timestamp:  snap.Timestamp,
			Metadata:   MetricMetadata{Tags: snap.Tags},
		}},
	}
}

// persistRealtime writes and publishes flagged records off the caller's
// critical path. Close waits for outstanding writes to finish.
func (e *Engine) persistRealtime(anomalies []AnomalyRecord) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, a := range anomalies {
			if err := e.store.InsertAnomaly(ctx, a); err != nil {
				e.logger.Warn("persisting realtime anomaly failed",
					"anomaly_id", a.ID, "error", err)
			}
			e.notifier.Publish(a)
		}
	}()
}

// seriesByMetricType extracts per-dimension value series from a chronological
// metric slice.
func seriesByMetricType(metrics []QualityMetric) map[string][]float64 {
	series := make(map[string][]float64)
	for _, m := range metrics {
		series[m.MetricType] = append(series[m.MetricType], m.Value)
	}
	return series
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
