package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/castplan/driftwatch"
)

// InsertSummary stores the aggregate record of one detection pass.
func (db *DB) InsertSummary(ctx context.Context, s driftwatch.SummaryRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO detection_summaries
		   (id, entity_id, dimension, analyzed_at, total_anomalies,
		    data_points_analyzed, algorithms_used, detection_accuracy, processing_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.EntityID, s.Dimension, s.AnalyzedAt, s.TotalAnomalies,
		s.DataPointsAnalyzed, s.AlgorithmsUsed, s.DetectionAccuracy,
		s.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert summary: %w", err)
	}
	return nil
}

// QuerySummaries returns up to limit detection summaries for an entity,
// newest first.
func (db *DB) QuerySummaries(ctx context.Context, entityID string, limit int) ([]driftwatch.SummaryRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_id, dimension, analyzed_at, total_anomalies,
		        data_points_analyzed, algorithms_used, detection_accuracy, processing_ms
		 FROM detection_summaries
		 WHERE entity_id = $1
		 ORDER BY analyzed_at DESC
		 LIMIT $2`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query summaries: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.SummaryRecord
	for rows.Next() {
		var s driftwatch.SummaryRecord
		var ms int64
		if err := rows.Scan(
			&s.ID, &s.EntityID, &s.Dimension, &s.AnalyzedAt, &s.TotalAnomalies,
			&s.DataPointsAnalyzed, &s.AlgorithmsUsed, &s.DetectionAccuracy, &ms,
		); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		s.ProcessingTime = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}
