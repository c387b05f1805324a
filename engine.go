// Package driftwatch is a quality anomaly detection and trend analysis
// engine. It ingests time-ordered scalar quality measurements per tracked
// entity and produces statistically justified anomaly flags (Z-score,
// modified Z-score, and IQR-fence detectors over sliding windows) plus trend,
// seasonality, forecast, change-point, and stationarity analyses.
//
// The engine reads metrics from a MetricsStore, never writes raw scores, and
// persists its own anomaly, trend, and summary records back. Detection runs
// for distinct entities execute concurrently; runs for the same entity are
// rejected (not queued) while one is in flight.
package driftwatch

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/castplan/driftwatch/internal/cache"
	"github.com/castplan/driftwatch/internal/notify"
)

const instrumentationName = "github.com/castplan/driftwatch"

// simulatedAccuracy is the self-reported fraction of flagged points assumed
// correct. There is no ground truth upstream, so this is a heuristic carried
// over from the original scoring pipeline, not a measured quantity.
const simulatedAccuracy = 0.9

// Engine is the detection orchestrator. Create with New; all methods are safe
// for concurrent use.
type Engine struct {
	store  MetricsStore
	logger *slog.Logger
	clock  func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	sem      *semaphore.Weighted
	results  *cache.Bounded[string, *DetectionResult]
	notifier *notify.FanOut[AnomalyRecord]

	statsMu sync.Mutex
	stats   rollingStats

	tracer      trace.Tracer
	runCounter  metric.Int64Counter
	anomalyCtr  metric.Int64Counter
	runDuration metric.Float64Histogram

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// rollingStats accumulates self-reported detection statistics across runs.
type rollingStats struct {
	totalRuns       int
	totalAnomalies  int
	bySeverity      map[Severity]int
	byType          map[AnomalyType]int
	totalProcessing time.Duration
}

// New creates an Engine over the given store and starts its background
// retention cleanup loop. Call Close to release it.
func New(store MetricsStore, opts ...Option) (*Engine, error) {
	o := engineOptions{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:    store,
		logger:   o.logger,
		clock:    o.clock,
		cfg:      o.config,
		inflight: make(map[string]struct{}),
		sem:      semaphore.NewWeighted(int64(o.config.Performance.MaxConcurrentAnalysis)),
		results:  cache.New[string, *DetectionResult](o.config.Performance.CacheSize),
		notifier: notify.NewFanOut[AnomalyRecord](64, o.logger),
		done:     make(chan struct{}),
		stats: rollingStats{
			bySeverity: make(map[Severity]int),
			byType:     make(map[AnomalyType]int),
		},
	}

	if o.config.IsolationForest.Enabled {
		e.logger.Warn("isolation forest detector is not implemented; toggle ignored")
	}

	e.tracer = otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)
	var err error
	if e.runCounter, err = meter.Int64Counter("driftwatch.detection.runs"); err != nil {
		return nil, err
	}
	if e.anomalyCtr, err = meter.Int64Counter("driftwatch.detection.anomalies"); err != nil {
		return nil, err
	}
	if e.runDuration, err = meter.Float64Histogram("driftwatch.detection.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go e.cleanupLoop()

	return e, nil
}

// Subscribe registers an anomaly observer. Every anomaly produced by a
// successful batch run or the real-time path is published; delivery is
// best-effort and a full subscriber buffer drops events rather than blocking
// detection. Call Unsubscribe when done.
func (e *Engine) Subscribe() <-chan AnomalyRecord {
	return e.notifier.Subscribe()
}

// Unsubscribe removes a subscriber registered with Subscribe.
func (e *Engine) Unsubscribe(ch <-chan AnomalyRecord) {
	e.notifier.Unsubscribe(ch)
}

// UpdateConfiguration applies mutate to a copy of the live configuration,
// validates it, and swaps it in. Takes effect on the next run; in-flight runs
// keep the snapshot they started with.
func (e *Engine) UpdateConfiguration(mutate func(*Config)) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	updated := e.cfg
	mutate(&updated)
	if err := updated.Validate(); err != nil {
		return err
	}
	if updated.IsolationForest.Enabled && !e.cfg.IsolationForest.Enabled {
		e.logger.Warn("isolation forest detector is not implemented; toggle ignored")
	}
	e.cfg = updated
	return nil
}

// config returns a snapshot of the live configuration.
func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// GetAnomalies queries persisted anomalies, newest first. Store failures
// degrade to an empty result with a logged diagnostic.
func (e *Engine) GetAnomalies(ctx context.Context, filter AnomalyFilter) []AnomalyRecord {
	records, err := e.store.QueryAnomalies(ctx, filter)
	if err != nil {
		e.logger.Warn("anomaly query failed, returning empty result", "error", err)
		return []AnomalyRecord{}
	}
	return records
}

// GetTrendAnalysis queries persisted trend analyses for an entity, newest
// first. An empty dimension matches all dimensions. Store failures degrade to
// an empty result.
func (e *Engine) GetTrendAnalysis(ctx context.Context, entityID, dimension string) []TrendAnalysis {
	analyses, err := e.store.QueryTrends(ctx, entityID, dimension)
	if err != nil {
		e.logger.Warn("trend query failed, returning empty result",
			"entity_id", entityID, "error", err)
		return []TrendAnalysis{}
	}
	return analyses
}

// GetDetectionStatistics returns the rolling self-reported statistics. The
// accuracy figure is simulated (see DetectionStatistics).
func (e *Engine) GetDetectionStatistics() DetectionStatistics {
	cfg := e.config()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	s := DetectionStatistics{
		TotalRuns:           e.stats.totalRuns,
		TotalAnomalies:      e.stats.totalAnomalies,
		AnomaliesBySeverity: maps.Clone(e.stats.bySeverity),
		AnomaliesByType:     maps.Clone(e.stats.byType),
		DetectionAccuracy:   simulatedAccuracy,
		EnabledAlgorithms:   cfg.enabledAlgorithms(),
		CacheSize:           e.results.Len(),
	}
	if e.stats.totalRuns > 0 {
		s.AverageProcessingTime = e.stats.totalProcessing / time.Duration(e.stats.totalRuns)
	}
	return s
}

// ClearCache drops every cached detection result.
func (e *Engine) ClearCache() {
	e.results.Clear()
}

// Close stops the cleanup loop and closes all subscriber channels.
// Idempotent; operations invoked after Close return ErrEngineClosed or empty
// results.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.notifier.Close()
		e.results.Clear()
	})
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// cleanupLoop purges records older than the retention period on the
// configured interval. Failures are logged, never fatal.
func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config().Data.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.runCleanup()
		}
	}
}

func (e *Engine) runCleanup() {
	cfg := e.config()
	cutoff := e.clock().Add(-cfg.Data.RetentionPeriod)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counts, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		e.logger.Warn("retention cleanup failed", "error", err)
		return
	}
	if counts.Total() > 0 {
		e.logger.Info("retention cleanup complete",
			"cutoff", cutoff,
			"metrics", counts.Metrics,
			"anomalies", counts.Anomalies,
			"trends", counts.Trends,
			"summaries", counts.Summaries,
		)
	}
}

// recordRun folds one completed detection pass into the rolling statistics
// and OTEL instruments.
func (e *Engine) recordRun(ctx context.Context, result *DetectionResult) {
	e.statsMu.Lock()
	e.stats.totalRuns++
	e.stats.totalAnomalies += len(result.Anomalies)
	e.stats.totalProcessing += result.Summary.ProcessingTime
	for _, a := range result.Anomalies {
		e.stats.bySeverity[a.Severity]++
		e.stats.byType[a.Type]++
	}
	e.statsMu.Unlock()

	e.runCounter.Add(ctx, 1)
	e.anomalyCtr.Add(ctx, int64(len(result.Anomalies)),
		metric.WithAttributes(attribute.String("entity_id", result.EntityID)))
	e.runDuration.Record(ctx, float64(result.Summary.ProcessingTime.Milliseconds()))
}
