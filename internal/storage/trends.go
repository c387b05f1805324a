package storage

import (
	"context"
	"fmt"

	"github.com/castplan/driftwatch"
)

// InsertTrend stores one trend analysis run.
func (db *DB) InsertTrend(ctx context.Context, t driftwatch.TrendAnalysis) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO trend_analyses
		   (id, entity_id, entity_type, dimension, analyzed_at, range_start, range_end,
		    trend, seasonality, forecast, change_points, statistics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.EntityID, t.EntityType, t.Dimension, t.AnalyzedAt,
		t.TimeRange.Start, t.TimeRange.End,
		t.Trend, t.Seasonality, t.Forecast, t.ChangePoints, t.Statistics,
	)
	if err != nil {
		return fmt.Errorf("storage: insert trend: %w", err)
	}
	return nil
}

// QueryTrends returns analyses for an entity, newest first. An empty dimension
// matches all dimensions.
func (db *DB) QueryTrends(ctx context.Context, entityID, dimension string) ([]driftwatch.TrendAnalysis, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_id, entity_type, dimension, analyzed_at, range_start, range_end,
		        trend, seasonality, forecast, change_points, statistics
		 FROM trend_analyses
		 WHERE entity_id = $1
		   AND ($2 = '' OR dimension = $2)
		 ORDER BY analyzed_at DESC`,
		entityID, dimension,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query trends: %w", err)
	}
	defer rows.Close()

	var out []driftwatch.TrendAnalysis
	for rows.Next() {
		var t driftwatch.TrendAnalysis
		if err := rows.Scan(
			&t.ID, &t.EntityID, &t.EntityType, &t.Dimension, &t.AnalyzedAt,
			&t.TimeRange.Start, &t.TimeRange.End,
			&t.Trend, &t.Seasonality, &t.Forecast, &t.ChangePoints, &t.Statistics,
		); err != nil {
			return nil, fmt.Errorf("storage: scan trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
