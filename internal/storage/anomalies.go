package storage

import (
	"context"
	"fmt"

	"github.com/castplan/driftwatch"
)

// InsertAnomaly stores one detected anomaly.
func (db *DB) InsertAnomaly(ctx context.Context, a driftwatch.AnomalyRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO anomalies
		   (id, type, severity, entity_id, entity_type, detected_at, algorithm,
		    score, confidence, description, context, metadata, related_metrics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.Type, a.Severity, a.EntityID, a.EntityType, a.DetectedAt, a.Algorithm,
		a.Score, a.Confidence, a.Description, a.Context, a.Metadata, a.RelatedMetrics,
	)
	if err != nil {
		return fmt.Errorf("storage: insert anomaly: %w", err)
	}
	return nil
}

// QueryAnomalies returns anomalies matching the filter, newest first. Zero
// filter fields match everything.
func (db *DB) QueryAnomalies(ctx context.Context, f driftwatch.AnomalyFilter) ([]driftwatch.AnomalyRecord, error) {
	q := `SELECT id, type, severity, entity_id, entity_type, detected_at, algorithm,
	             score, confidence, description, context, metadata, related_metrics
	      FROM anomalies
	      WHERE 1=1`
	var args []any
	n := 1

	add := func(clause string, arg any) {
		q += fmt.Sprintf(" AND "+clause, n)
		args = append(args, arg)
		n++
	}

	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Algorithm != "" {
		add("algorithm = $%d", f.Algorithm)
	}
	if !f.Since.IsZero() {
		add("detected_at >= $%d", f.Since)
	}
	if f.MinSeverity != "" {
		add("severity = ANY($%d)", severitiesAtLeast(f.MinSeverity))
	}

	q += " ORDER BY detected_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query anomalies: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.AnomalyRecord
	for rows.Next() {
		var a driftwatch.AnomalyRecord
		if err := rows.Scan(
			&a.ID, &a.Type, &a.Severity, &a.EntityID, &a.EntityType, &a.DetectedAt, &a.Algorithm,
			&a.Score, &a.Confidence, &a.Description, &a.Context, &a.Metadata, &a.RelatedMetrics,
		); err != nil {
			return nil, fmt.Errorf("storage: scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// severitiesAtLeast expands a minimum severity into the matching label set,
// since the labels themselves don't sort lexically.
func severitiesAtLeast(min driftwatch.Severity) []string {
	all := []driftwatch.Severity{
		driftwatch.SeverityInfo,
		driftwatch.SeverityLow,
		driftwatch.SeverityMedium,
		driftwatch.SeverityHigh,
		driftwatch.SeverityCritical,
	}
	var out []string
	for _, s := range all {
		if s.AtLeast(min) {
			out = append(out, string(s))
		}
	}
	return out
}
