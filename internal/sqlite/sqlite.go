// Package sqlite provides an embedded single-file persistence layer for
// driftwatch, backed by modernc.org/sqlite. It implements the same store
// contract as the PostgreSQL layer and is the default backend for local runs
// and tests, where a server database is not worth the setup.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/castplan/driftwatch"
)

const schema = `
CREATE TABLE IF NOT EXISTS quality_metrics (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id   TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    metric_type TEXT NOT NULL,
    value       REAL NOT NULL,
    ts          INTEGER NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_quality_metrics_series
    ON quality_metrics (entity_id, metric_type, ts DESC);

CREATE TABLE IF NOT EXISTS anomalies (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    severity_rank   INTEGER NOT NULL,
    entity_id       TEXT NOT NULL,
    entity_type     TEXT NOT NULL,
    detected_at     INTEGER NOT NULL,
    algorithm       TEXT NOT NULL,
    score           REAL NOT NULL,
    confidence      REAL NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    context         TEXT NOT NULL DEFAULT '{}',
    metadata        TEXT NOT NULL DEFAULT '{}',
    related_metrics TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_anomalies_entity
    ON anomalies (entity_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS trend_analyses (
    id            TEXT PRIMARY KEY,
    entity_id     TEXT NOT NULL,
    entity_type   TEXT NOT NULL,
    dimension     TEXT NOT NULL,
    analyzed_at   INTEGER NOT NULL,
    range_start   INTEGER NOT NULL,
    range_end     INTEGER NOT NULL,
    payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trend_analyses_entity
    ON trend_analyses (entity_id, dimension, analyzed_at DESC);

CREATE TABLE IF NOT EXISTS detection_summaries (
    id                   TEXT PRIMARY KEY,
    entity_id            TEXT NOT NULL,
    dimension            TEXT NOT NULL DEFAULT '',
    analyzed_at          INTEGER NOT NULL,
    total_anomalies      INTEGER NOT NULL,
    data_points_analyzed INTEGER NOT NULL,
    algorithms_used      TEXT NOT NULL DEFAULT '[]',
    detection_accuracy   REAL NOT NULL,
    processing_ms        INTEGER NOT NULL
);
`

// Store is a SQLite-backed driftwatch.MetricsStore.
type Store struct {
	db *sql.DB
}

var _ driftwatch.MetricsStore = (*Store)(nil)

// Open creates (or opens) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The driver serializes access per connection; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMetric stores one quality observation.
func (s *Store) InsertMetric(ctx context.Context, m driftwatch.QualityMetric) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metric metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_metrics (entity_id, entity_type, metric_type, value, ts, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.EntityID, string(m.EntityType), m.MetricType, m.Value, m.Timestamp.UnixNano(), string(meta),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert metric: %w", err)
	}
	return nil
}

// ListEntities returns the distinct entities present in the metrics table.
func (s *Store) ListEntities(ctx context.Context) ([]driftwatch.EntityRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id, entity_type FROM quality_metrics ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entities: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.EntityRef
	for rows.Next() {
		var ref driftwatch.EntityRef
		var typ string
		if err := rows.Scan(&ref.ID, &typ); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity ref: %w", err)
		}
		ref.Type = driftwatch.EntityType(typ)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// QueryMetrics returns up to limit observations for the entity, newest first.
// An empty dimension matches every metric type.
func (s *Store) QueryMetrics(ctx context.Context, entityID, dimension string, limit int) ([]driftwatch.QualityMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, entity_type, metric_type, value, ts, metadata
		 FROM quality_metrics
		 WHERE entity_id = ?
		   AND (? = '' OR metric_type = ?)
		 ORDER BY ts DESC
		 LIMIT ?`,
		entityID, dimension, dimension, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query metrics: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.QualityMetric
	for rows.Next() {
		var m driftwatch.QualityMetric
		var entityType, meta string
		var ts int64
		if err := rows.Scan(&m.EntityID, &entityType, &m.MetricType, &m.Value, &ts, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan metric: %w", err)
		}
		m.EntityType = driftwatch.EntityType(entityType)
		m.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal metric metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertAnomaly stores one detected anomaly.
func (s *Store) InsertAnomaly(ctx context.Context, a driftwatch.AnomalyRecord) error {
	contextJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anomaly context: %w", err)
	}
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anomaly metadata: %w", err)
	}
	relatedJSON, err := json.Marshal(a.RelatedMetrics)
	if err != nil {
		return fmt.Errorf("sqlite: marshal related metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO anomalies
		   (id, type, severity, severity_rank, entity_id, entity_type, detected_at,
		    algorithm, score, confidence, description, context, metadata, related_metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), string(a.Severity), a.Severity.Rank(),
		a.EntityID, string(a.EntityType), a.DetectedAt.UnixNano(),
		a.Algorithm, a.Score, a.Confidence, a.Description,
		string(contextJSON), string(metaJSON), string(relatedJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert anomaly: %w", err)
	}
	return nil
}

// QueryAnomalies returns anomalies matching the filter, newest first.
func (s *Store) QueryAnomalies(ctx context.Context, f driftwatch.AnomalyFilter) ([]driftwatch.AnomalyRecord, error) {
	q := `SELECT id, type, severity, entity_id, entity_type, detected_at, algorithm,
	             score, confidence, description, context, metadata, related_metrics
	      FROM anomalies WHERE 1=1`
	var args []any

	if f.EntityID != "" {
		q += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.EntityType != "" {
		q += " AND entity_type = ?"
		args = append(args, string(f.EntityType))
	}
	if f.Type != "" {
		q += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Algorithm != "" {
		q += " AND algorithm = ?"
		args = append(args, f.Algorithm)
	}
	if !f.Since.IsZero() {
		q += " AND detected_at >= ?"
		args = append(args, f.Since.UnixNano())
	}
	if f.MinSeverity != "" {
		q += " AND severity_rank >= ?"
		args = append(args, f.MinSeverity.Rank())
	}

	q += " ORDER BY detected_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query anomalies: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.AnomalyRecord
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnomaly(rows *sql.Rows) (driftwatch.AnomalyRecord, error) {
	var a driftwatch.AnomalyRecord
	var typ, severity, entityType, contextJSON, metaJSON, relatedJSON string
	var detectedAt int64

	if err := rows.Scan(
		&a.ID, &typ, &severity, &a.EntityID, &entityType, &detectedAt, &a.Algorithm,
		&a.Score, &a.Confidence, &a.Description, &contextJSON, &metaJSON, &relatedJSON,
	); err != nil {
		return a, fmt.Errorf("sqlite: scan anomaly: %w", err)
	}

	a.Type = driftwatch.AnomalyType(typ)
	a.Severity = driftwatch.Severity(severity)
	a.EntityType = driftwatch.EntityType(entityType)
	a.DetectedAt = time.Unix(0, detectedAt).UTC()
	if err := json.Unmarshal([]byte(contextJSON), &a.Context); err != nil {
		return a, fmt.Errorf("sqlite: unmarshal anomaly context: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
		return a, fmt.Errorf("sqlite: unmarshal anomaly metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(relatedJSON), &a.RelatedMetrics); err != nil {
		return a, fmt.Errorf("sqlite: unmarshal related metrics: %w", err)
	}
	return a, nil
}

// trendPayload is the JSON-serialized remainder of a TrendAnalysis: everything
// that is not a filterable column.
type trendPayload struct {
	Trend        driftwatch.TrendSummary       `json:"trend"`
	Seasonality  driftwatch.SeasonalitySummary `json:"seasonality"`
	Forecast     driftwatch.ForecastSummary    `json:"forecast"`
	ChangePoints []driftwatch.ChangePoint      `json:"change_points,omitempty"`
	Statistics   driftwatch.SeriesStatistics   `json:"statistics"`
}

// InsertTrend stores one trend analysis run.
func (s *Store) InsertTrend(ctx context.Context, t driftwatch.TrendAnalysis) error {
	payload, err := json.Marshal(trendPayload{
		Trend:        t.Trend,
		Seasonality:  t.Seasonality,
		Forecast:     t.Forecast,
		ChangePoints: t.ChangePoints,
		Statistics:   t.Statistics,
	})
	if err != nil {
		return fmt.Errorf("sqlite: marshal trend payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trend_analyses
		   (id, entity_id, entity_type, dimension, analyzed_at, range_start, range_end, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EntityID, string(t.EntityType), t.Dimension, t.AnalyzedAt.UnixNano(),
		t.TimeRange.Start.UnixNano(), t.TimeRange.End.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert trend: %w", err)
	}
	return nil
}

// QueryTrends returns analyses for an entity, newest first. An empty
// dimension matches all dimensions.
func (s *Store) QueryTrends(ctx context.Context, entityID, dimension string) ([]driftwatch.TrendAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, entity_type, dimension, analyzed_at, range_start, range_end, payload
		 FROM trend_analyses
		 WHERE entity_id = ?
		   AND (? = '' OR dimension = ?)
		 ORDER BY analyzed_at DESC`,
		entityID, dimension, dimension,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query trends: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.TrendAnalysis
	for rows.Next() {
		var t driftwatch.TrendAnalysis
		var entityType, payload string
		var analyzedAt, rangeStart, rangeEnd int64
		if err := rows.Scan(&t.ID, &t.EntityID, &entityType, &t.Dimension,
			&analyzedAt, &rangeStart, &rangeEnd, &payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan trend: %w", err)
		}
		t.EntityType = driftwatch.EntityType(entityType)
		t.AnalyzedAt = time.Unix(0, analyzedAt).UTC()
		t.TimeRange = driftwatch.TimeRange{
			Start: time.Unix(0, rangeStart).UTC(),
			End:   time.Unix(0, rangeEnd).UTC(),
		}
		var p trendPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal trend payload: %w", err)
		}
		t.Trend = p.Trend
		t.Seasonality = p.Seasonality
		t.Forecast = p.Forecast
		t.ChangePoints = p.ChangePoints
		t.Statistics = p.Statistics
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertSummary stores the aggregate record of one detection pass.
func (s *Store) InsertSummary(ctx context.Context, sr driftwatch.SummaryRecord) error {
	algos, err := json.Marshal(sr.AlgorithmsUsed)
	if err != nil {
		return fmt.Errorf("sqlite: marshal algorithms: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detection_summaries
		   (id, entity_id, dimension, analyzed_at, total_anomalies,
		    data_points_analyzed, algorithms_used, detection_accuracy, processing_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.EntityID, sr.Dimension, sr.AnalyzedAt.UnixNano(), sr.TotalAnomalies,
		sr.DataPointsAnalyzed, string(algos), sr.DetectionAccuracy,
		sr.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert summary: %w", err)
	}
	return nil
}

// DeleteOlderThan purges records whose timestamps precede cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (driftwatch.PurgeCounts, error) {
	var counts driftwatch.PurgeCounts
	ns := cutoff.UnixNano()

	purge := func(table, column string, dst *int64) error {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), ns)
		if err != nil {
			return fmt.Errorf("sqlite: purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: purge %s count: %w", table, err)
		}
		*dst = n
		return nil
	}

	if err := purge("quality_metrics", "ts", &counts.Metrics); err != nil {
		return counts, err
	}
	if err := purge("anomalies", "detected_at", &counts.Anomalies); err != nil {
		return counts, err
	}
	if err := purge("trend_analyses", "analyzed_at", &counts.Trends); err != nil {
		return counts, err
	}
	if err := purge("detection_summaries", "analyzed_at", &counts.Summaries); err != nil {
		return counts, err
	}
	return counts, nil
}
