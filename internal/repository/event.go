package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-rank-bot/internal/model"
)

// EventRepository handles the append-only verification event trail.
// Events are immutable: there are deliberately no update or delete
// operations here.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository instance.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Insert appends a verification event.
func (r *EventRepository) Insert(ctx context.Context, ev *model.VerificationEvent) (*model.VerificationEvent, error) {
	const query = `
		INSERT INTO verification_events
			(correlation_id, owner_id, status, confidence, unique_id, screenshot_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`

	out := *ev
	err := r.pool.QueryRow(ctx, query,
		ev.CorrelationID, ev.OwnerID, string(ev.Status), ev.Confidence,
		ev.UniqueID, ev.ScreenshotHash, ev.Metadata,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert verification event: %w", err)
	}

	return &out, nil
}

// RecentByOwner returns the newest events for an identity, newest
// first. Used by admins when reviewing disputed claims.
func (r *EventRepository) RecentByOwner(ctx context.Context, ownerID int64, limit int) ([]*model.VerificationEvent, error) {
	const query = `
		SELECT id, correlation_id, owner_id, status, confidence, unique_id, screenshot_hash, metadata, created_at
		FROM verification_events
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification events: %w", err)
	}
	defer rows.Close()

	var events []*model.VerificationEvent
	for rows.Next() {
		var ev model.VerificationEvent
		var status string
		err := rows.Scan(
			&ev.ID, &ev.CorrelationID, &ev.OwnerID, &status, &ev.Confidence,
			&ev.UniqueID, &ev.ScreenshotHash, &ev.Metadata, &ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification event: %w", err)
		}
		ev.Status = model.VerificationStatus(status)
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verification events: %w", err)
	}

	return events, nil
}
