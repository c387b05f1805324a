package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/castplan/driftwatch"
)

// InsertMetric stores one quality observation. Normally the upstream scoring
// pipeline writes these; the engine only reads them.
func (db *DB) InsertMetric(ctx context.Context, m driftwatch.QualityMetric) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO quality_metrics (entity_id, entity_type, metric_type, value, ts, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.EntityID, m.EntityType, m.MetricType, m.Value, m.Timestamp, m.Metadata,
	)
	if err != nil {
		return fmt.Errorf("storage: insert metric: %w", err)
	}
	return nil
}

// InsertMetricBatch bulk-loads observations with COPY. Used by backfills and
// test seeding where row-at-a-time inserts are too slow.
func (db *DB) InsertMetricBatch(ctx context.Context, metrics []driftwatch.QualityMetric) (int64, error) {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{m.EntityID, m.EntityType, m.MetricType, m.Value, m.Timestamp, m.Metadata})
	}

	n, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"quality_metrics"},
		[]string{"entity_id", "entity_type", "metric_type", "value", "ts", "metadata"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return n, fmt.Errorf("storage: copy metrics: %w", err)
	}
	return n, nil
}

// ListEntities returns the distinct entities present in the metrics table.
// The daemon's scan loop uses this to enumerate sweep targets.
func (db *DB) ListEntities(ctx context.Context) ([]driftwatch.EntityRef, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT entity_id, entity_type FROM quality_metrics ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list entities: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.EntityRef
	for rows.Next() {
		var ref driftwatch.EntityRef
		if err := rows.Scan(&ref.ID, &ref.Type); err != nil {
			return nil, fmt.Errorf("storage: scan entity ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// QueryMetrics returns up to limit observations for the entity, newest first.
// An empty dimension matches every metric type.
func (db *DB) QueryMetrics(ctx context.Context, entityID, dimension string, limit int) ([]driftwatch.QualityMetric, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT entity_id, entity_type, metric_type, value, ts, metadata
		 FROM quality_metrics
		 WHERE entity_id = $1
		   AND ($2 = '' OR metric_type = $2)
		 ORDER BY ts DESC
		 LIMIT $3`,
		entityID, dimension, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query metrics: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.QualityMetric
	for rows.Next() {
		var m driftwatch.QualityMetric
		if err := rows.Scan(&m.EntityID, &m.EntityType, &m.MetricType, &m.Value, &m.Timestamp, &m.Metadata); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
