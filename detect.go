package driftwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/castplan/driftwatch/internal/outlier"
	"github.com/castplan/driftwatch/internal/trend"
)

// metricGroup is one per-dimension series, chronological.
type metricGroup struct {
	metricType string
	metrics    []QualityMetric
	values     []float64
}

// groupResult is the per-dimension output of one analysis pass.
type groupResult struct {
	anomalies []AnomalyRecord
	trend     *TrendAnalysis
}

// DetectAnomalies runs the full detection pass for an entity: every enabled
// outlier detector plus trend analysis over each metric dimension, then
// persists the anomaly, trend, and summary records.
//
// A second call for the same entity while one is in flight is rejected with
// ErrAnalysisInProgress rather than queued. Series shorter than the configured
// minimum return ErrInsufficientData. An empty dimension analyzes every
// dimension present in the history.
func (e *Engine) DetectAnomalies(ctx context.Context, entityID string, entityType EntityType, dimension string) (*DetectionResult, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	if entityID == "" {
		return nil, fmt.Errorf("driftwatch: entity id is required")
	}

	if !e.acquireEntity(entityID) {
		return nil, fmt.Errorf("%w: entity %s", ErrAnalysisInProgress, entityID)
	}
	defer e.releaseEntity(entityID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("driftwatch: acquiring analysis slot: %w", err)
	}
	defer e.sem.Release(1)

	ctx, span := e.tracer.Start(ctx, "driftwatch.DetectAnomalies",
		oteltrace.WithAttributes(
			attribute.String("entity_id", entityID),
			attribute.String("dimension", dimension),
		))
	defer span.End()

	cfg := e.config()
	cacheKey := resultCacheKey(entityID, dimension)
	if cfg.Performance.EnableCaching {
		if cached, ok := e.results.Get(cacheKey); ok {
			e.logger.Debug("detection cache hit", "entity_id", entityID, "dimension", dimension)
			return cached, nil
		}
	}

	started := e.clock()

	metrics, err := e.store.QueryMetrics(ctx, entityID, dimension, cfg.Data.MaxHistorySize)
	if err != nil {
		return nil, fmt.Errorf("%w: querying metrics for %s: %v", ErrStoreUnavailable, entityID, err)
	}
	if len(metrics) < cfg.Data.MinDataPoints {
		return nil, fmt.Errorf("%w: entity %s has %d points, need %d",
			ErrInsufficientData, entityID, len(metrics), cfg.Data.MinDataPoints)
	}

	// The store returns newest first; analysis wants chronological order.
	reverse(metrics)
	groups := groupByMetricType(metrics)

	results := make([]groupResult, len(groups))
	if cfg.Performance.EnableParallelProcessing && len(groups) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, grp := range groups {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = e.analyzeGroup(grp, entityID, entityType, cfg)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("driftwatch: analysis interrupted: %w", err)
		}
	} else {
		for i, grp := range groups {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("driftwatch: analysis interrupted: %w", err)
			}
			results[i] = e.analyzeGroup(grp, entityID, entityType, cfg)
		}
	}

	result := e.assembleResult(entityID, dimension, metrics, results, cfg, e.clock().Sub(started))
	e.persistResult(ctx, result)

	if cfg.Performance.EnableCaching {
		e.results.Set(cacheKey, result)
	}
	for _, a := range result.Anomalies {
		e.notifier.Publish(a)
	}
	e.recordRun(ctx, result)

	e.logger.Info("detection pass complete",
		"entity_id", entityID,
		"dimension", dimension,
		"data_points", len(metrics),
		"anomalies", len(result.Anomalies),
		"trends", len(result.Trends),
		"duration", result.Summary.ProcessingTime,
	)
	return result, nil
}

// analyzeGroup runs detectors and the trend analyzer over one dimension's
// series. A panicking detector is contained and logged; the remaining
// detectors still contribute.
func (e *Engine) analyzeGroup(grp metricGroup, entityID string, entityType EntityType, cfg Config) groupResult {
	var res groupResult

	if cfg.Trend.Enabled && len(grp.values) >= cfg.Trend.WindowSize {
		res.trend = e.buildTrendAnalysis(grp, entityID, entityType, cfg)
	}

	direction := ""
	if res.trend != nil {
		direction = res.trend.Trend.Direction
	}

	for _, det := range detectorsFor(cfg) {
		flags := e.runDetector(det, grp.values, entityID)
		for _, f := range flags {
			if f.Score < cfg.Thresholds.AnomalyScore {
				continue
			}
			res.anomalies = append(res.anomalies, e.flagToRecord(f, grp, entityID, entityType, direction))
		}
	}
	return res
}

// runDetector contains panics so one faulty detector never aborts the pass.
func (e *Engine) runDetector(det outlier.Detector, values []float64, entityID string) (flags []outlier.Flag) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("detector panicked, skipping its results",
				"algorithm", det.Name(), "entity_id", entityID, "panic", r)
			flags = nil
		}
	}()
	return det.Detect(values)
}

// detectorsFor builds the enabled detector set from a config snapshot.
func detectorsFor(cfg Config) []outlier.Detector {
	var dets []outlier.Detector
	if cfg.ZScore.Enabled {
		dets = append(dets, outlier.ZScore{Window: cfg.ZScore.WindowSize, Threshold: cfg.ZScore.Threshold})
	}
	if cfg.ModifiedZScore.Enabled {
		dets = append(dets, outlier.ModifiedZScore{Window: cfg.ModifiedZScore.WindowSize, Threshold: cfg.ModifiedZScore.Threshold})
	}
	if cfg.IQR.Enabled {
		dets = append(dets, outlier.IQR{Window: cfg.IQR.WindowSize, Multiplier: cfg.IQR.Multiplier})
	}
	return dets
}

// flagToRecord converts a detector flag into a persisted anomaly record,
// mapping the flagged index back to its metric point.
func (e *Engine) flagToRecord(f outlier.Flag, grp metricGroup, entityID string, entityType EntityType, direction string) AnomalyRecord {
	point := grp.metrics[f.Index]
	return AnomalyRecord{
		ID:          uuid.NewString(),
		Type:        AnomalyStatisticalOutlier,
		Severity:    severityForRatio(f.Ratio),
		EntityID:    entityID,
		EntityType:  entityType,
		DetectedAt:  e.clock(),
		Algorithm:   f.Algorithm,
		Score:       f.Score,
		Confidence:  f.Confidence,
		Description: f.Detail,
		Context: AnomalyContext{
			CurrentValue:     f.Value,
			ExpectedValue:    f.Expected,
			HistoricalMean:   f.Mean,
			HistoricalStdDev: f.StdDev,
			DataPoints:       f.DataPoints,
		},
		Metadata: AnomalyMetadata{
			QualityDimension: grp.metricType,
			TimeWindow:       f.DataPoints,
			TrendDirection:   direction,
		},
		RelatedMetrics: []QualityMetric{point},
	}
}

// buildTrendAnalysis runs the trend analyzer and maps index positions back to
// metric timestamps. Forecast timestamps extrapolate the mean observed spacing
// past the end of the series.
func (e *Engine) buildTrendAnalysis(grp metricGroup, entityID string, entityType EntityType, cfg Config) *TrendAnalysis {
	analysis := trend.Analyze(grp.values, trend.Config{
		SeasonalPeriod:       cfg.Trend.SeasonalPeriod,
		ForecastHorizon:      cfg.Trend.ForecastHorizon,
		ChangePointThreshold: cfg.Thresholds.ChangePointThreshold,
		Sensitivity:          cfg.Trend.ChangePointSensitivity,
	})

	first := grp.metrics[0].Timestamp
	last := grp.metrics[len(grp.metrics)-1].Timestamp
	spacing := meanSpacing(first, last, len(grp.metrics))

	preds := make([]ForecastPoint, 0, len(analysis.Forecast.Predictions))
	for _, p := range analysis.Forecast.Predictions {
		preds = append(preds, ForecastPoint{
			Timestamp: last.Add(time.Duration(p.Step) * spacing),
			Value:     p.Value,
			ConfidenceInterval: ConfidenceInterval{
				Lower: p.Lower,
				Upper: p.Upper,
			},
		})
	}

	cps := make([]ChangePoint, 0, len(analysis.ChangePoints))
	for _, cp := range analysis.ChangePoints {
		cps = append(cps, ChangePoint{
			Timestamp:  grp.metrics[cp.Index].Timestamp,
			Magnitude:  cp.Magnitude,
			Confidence: cp.Confidence,
		})
	}

	return &TrendAnalysis{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Dimension:  grp.metricType,
		AnalyzedAt: e.clock(),
		TimeRange:  TimeRange{Start: first, End: last},
		Trend: TrendSummary{
			Direction:    string(analysis.Trend.Direction),
			Slope:        analysis.Trend.Slope,
			Confidence:   analysis.Trend.Confidence,
			Significance: analysis.Trend.Significance,
		},
		Seasonality: SeasonalitySummary{
			Detected:  analysis.Seasonality.Detected,
			Period:    analysis.Seasonality.Period,
			Amplitude: analysis.Seasonality.Amplitude,
			Phase:     analysis.Seasonality.Phase,
		},
		Forecast: ForecastSummary{
			Horizon:     analysis.Forecast.Horizon,
			Predictions: preds,
			Accuracy:    analysis.Forecast.Accuracy,
		},
		ChangePoints: cps,
		Statistics: SeriesStatistics{
			Mean:            analysis.Statistics.Mean,
			Variance:        analysis.Statistics.Variance,
			Autocorrelation: analysis.Statistics.Autocorrelation,
			Stationary:      analysis.Statistics.Stationary,
		},
	}
}

// assembleResult merges per-group outputs into the pass aggregate.
func (e *Engine) assembleResult(entityID, dimension string, metrics []QualityMetric, results []groupResult, cfg Config, elapsed time.Duration) *DetectionResult {
	result := &DetectionResult{
		EntityID:  entityID,
		Dimension: dimension,
		Anomalies: []AnomalyRecord{},
		Trends:    []TrendAnalysis{},
		Summary: DetectionSummary{
			AnomaliesBySeverity: make(map[Severity]int),
			AnomaliesByType:     make(map[AnomalyType]int),
			DetectionAccuracy:   simulatedAccuracy,
			ProcessingTime:      elapsed,
		},
		Metadata: DetectionMetadata{
			DataPointsAnalyzed: len(metrics),
			AlgorithmsUsed:     cfg.enabledAlgorithms(),
			AnalysisTimestamp:  e.clock(),
		},
	}
	for _, r := range results {
		result.Anomalies = append(result.Anomalies, r.anomalies...)
		if r.trend != nil {
			result.Trends = append(result.Trends, *r.trend)
		}
	}
	result.Summary.TotalAnomalies = len(result.Anomalies)
	for _, a := range result.Anomalies {
		result.Summary.AnomaliesBySeverity[a.Severity]++
		result.Summary.AnomaliesByType[a.Type]++
	}
	return result
}

// persistResult writes the pass output. Storage failures are logged and never
// fail the detection itself; the caller still gets the in-memory result.
func (e *Engine) persistResult(ctx context.Context, result *DetectionResult) {
	for _, a := range result.Anomalies {
		if err := e.store.InsertAnomaly(ctx, a); err != nil {
			e.logger.Warn("persisting anomaly failed", "anomaly_id", a.ID, "error", err)
		}
	}
	for _, t := range result.Trends {
		if err := e.store.InsertTrend(ctx, t); err != nil {
			e.logger.Warn("persisting trend analysis failed", "trend_id", t.ID, "error", err)
		}
	}

	summary := SummaryRecord{
		ID:                 uuid.NewString(),
		EntityID:           result.EntityID,
		Dimension:          result.Dimension,
		AnalyzedAt:         result.Metadata.AnalysisTimestamp,
		TotalAnomalies:     result.Summary.TotalAnomalies,
		DataPointsAnalyzed: result.Metadata.DataPointsAnalyzed,
		AlgorithmsUsed:     result.Metadata.AlgorithmsUsed,
		DetectionAccuracy:  result.Summary.DetectionAccuracy,
		ProcessingTime:     result.Summary.ProcessingTime,
	}
	if err := e.store.InsertSummary(ctx, summary); err != nil {
		e.logger.Warn("persisting detection summary failed", "summary_id", summary.ID, "error", err)
	}
}

// acquireEntity claims the per-entity in-flight slot. Returns false when a
// run for the entity is already active.
func (e *Engine) acquireEntity(entityID string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[entityID]; busy {
		return false
	}
	e.inflight[entityID] = struct{}{}
	return true
}

func (e *Engine) releaseEntity(entityID string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, entityID)
}

func resultCacheKey(entityID, dimension string) string {
	if dimension == "" {
		return entityID
	}
	return entityID + "-" + dimension
}

// groupByMetricType splits a chronological series per dimension, preserving
// first-seen group order so passes are deterministic.
func groupByMetricType(metrics []QualityMetric) []metricGroup {
	index := make(map[string]int)
	var groups []metricGroup
	for _, m := range metrics {
		i, ok := index[m.MetricType]
		if !ok {
			i = len(groups)
			index[m.MetricType] = i
			groups = append(groups, metricGroup{metricType: m.MetricType})
		}
		groups[i].metrics = append(groups[i].metrics, m)
		groups[i].values = append(groups[i].values, m.Value)
	}
	return groups
}

func reverse(metrics []QualityMetric) {
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
}

// meanSpacing is the average interval between consecutive observations, used
// to place forecast timestamps. Falls back to one hour for degenerate series.
func meanSpacing(first, last time.Time, n int) time.Duration {
	if n < 2 || !last.After(first) {
		return time.Hour
	}
	return last.Sub(first) / time.Duration(n-1)
}
