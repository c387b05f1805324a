package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/castplan/driftwatch"
)

// DeleteOlderThan purges metrics, anomalies, trends, and summaries whose
// timestamps precede cutoff. Each table is purged independently; a failure
// aborts the pass with the counts accumulated so far.
func (db *DB) DeleteOlderThan(ctx context.Context, cutoff time.Time) (driftwatch.PurgeCounts, error) {
	var counts driftwatch.PurgeCounts

	tag, err := db.pool.Exec(ctx, `DELETE FROM quality_metrics WHERE ts < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("storage: purge metrics: %w", err)
	}
	counts.Metrics = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx, `DELETE FROM anomalies WHERE detected_at < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("storage: purge anomalies: %w", err)
	}
	counts.Anomalies = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx, `DELETE FROM trend_analyses WHERE analyzed_at < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("storage: purge trends: %w", err)
	}
	counts.Trends = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx, `DELETE FROM detection_summaries WHERE analyzed_at < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("storage: purge summaries: %w", err)
	}
	counts.Summaries = tag.RowsAffected()

	return counts, nil
}
