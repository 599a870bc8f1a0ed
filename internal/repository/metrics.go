package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-rank-bot/internal/model"
)

// MetricsRepository persists the rolling verification counters as a
// single row. The snapshot is written from running counters with
// debounced writes; it is never recomputed by scanning the event
// table.
type MetricsRepository struct {
	pool *pgxpool.Pool
}

// NewMetricsRepository creates a new MetricsRepository instance.
func NewMetricsRepository(pool *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

// Load reads the persisted snapshot. A missing row returns a zero
// snapshot with no error; the caller decides how to treat corruption.
func (r *MetricsRepository) Load(ctx context.Context) (model.MetricsSnapshot, error) {
	const query = `
		SELECT total, successes, failures, manual_reviews,
		       confidence_sum, confidence_count,
		       cleanup_runs, cleanup_removed, rate_limit_hits, updated_at
		FROM verification_metrics
		WHERE id = 1
	`

	var m model.MetricsSnapshot
	err := r.pool.QueryRow(ctx, query).Scan(
		&m.Total, &m.Successes, &m.Failures, &m.ManualReviews,
		&m.ConfidenceSum, &m.ConfidenceCount,
		&m.CleanupRuns, &m.CleanupRemoved, &m.RateLimitHits, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MetricsSnapshot{}, nil
		}
		return model.MetricsSnapshot{}, fmt.Errorf("failed to load metrics snapshot: %w", err)
	}

	return m, nil
}

// Save upserts the snapshot row.
func (r *MetricsRepository) Save(ctx context.Context, m model.MetricsSnapshot) error {
	const query = `
		INSERT INTO verification_metrics
			(id, total, successes, failures, manual_reviews,
			 confidence_sum, confidence_count,
			 cleanup_runs, cleanup_removed, rate_limit_hits, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE
		SET total = EXCLUDED.total,
		    successes = EXCLUDED.successes,
		    failures = EXCLUDED.failures,
		    manual_reviews = EXCLUDED.manual_reviews,
		    confidence_sum = EXCLUDED.confidence_sum,
		    confidence_count = EXCLUDED.confidence_count,
		    cleanup_runs = EXCLUDED.cleanup_runs,
		    cleanup_removed = EXCLUDED.cleanup_removed,
		    rate_limit_hits = EXCLUDED.rate_limit_hits,
		    updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		m.Total, m.Successes, m.Failures, m.ManualReviews,
		m.ConfidenceSum, m.ConfidenceCount,
		m.CleanupRuns, m.CleanupRemoved, m.RateLimitHits,
	)
	if err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}
