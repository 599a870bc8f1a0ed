// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-rank-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrLockNotFound = errors.New("screenshot lock not found")

	// ErrHashTaken and ErrUniqueIDTaken surface a unique-constraint
	// violation on insert. The database constraint, not the
	// application pre-check, is the authority for conflicts: two
	// concurrent claims for the same key get exactly one winner and
	// the loser receives one of these.
	ErrHashTaken     = errors.New("screenshot hash already bound")
	ErrUniqueIDTaken = errors.New("unique id already bound")
)

const lockColumns = "id, screenshot_hash, unique_id, owner_id, created_at, updated_at"

// LockRepository handles screenshot lock persistence.
type LockRepository struct {
	pool *pgxpool.Pool
}

// NewLockRepository creates a new LockRepository instance.
func NewLockRepository(pool *pgxpool.Pool) *LockRepository {
	return &LockRepository{pool: pool}
}

// GetByHash retrieves the lock bound to a screenshot hash.
// Returns ErrLockNotFound if no lock exists.
func (r *LockRepository) GetByHash(ctx context.Context, hash string) (*model.ScreenshotLock, error) {
	const query = `
		SELECT ` + lockColumns + `
		FROM screenshot_locks
		WHERE screenshot_hash = $1
	`
	return r.scanOne(ctx, query, hash)
}

// GetByUniqueID retrieves the lock bound to an in-game unique id.
// Returns ErrLockNotFound if no lock exists.
func (r *LockRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*model.ScreenshotLock, error) {
	const query = `
		SELECT ` + lockColumns + `
		FROM screenshot_locks
		WHERE unique_id = $1
	`
	return r.scanOne(ctx, query, uniqueID)
}

// Insert creates a new lock binding both keys to the owner. A unique
// violation maps to ErrHashTaken or ErrUniqueIDTaken depending on the
// violated constraint.
func (r *LockRepository) Insert(ctx context.Context, ownerID int64, hash string, uniqueID *string) (*model.ScreenshotLock, error) {
	const query = `
		INSERT INTO screenshot_locks (screenshot_hash, unique_id, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + lockColumns + `
	`

	var l model.ScreenshotLock
	err := r.pool.QueryRow(ctx, query, hash, uniqueID, ownerID).Scan(
		&l.ID, &l.ScreenshotHash, &l.UniqueID, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if keyErr := classifyUniqueViolation(err); keyErr != nil {
			return nil, keyErr
		}
		return nil, fmt.Errorf("failed to insert screenshot lock: %w", err)
	}

	return &l, nil
}

// UpdateUniqueID refreshes the unique id on an existing lock.
func (r *LockRepository) UpdateUniqueID(ctx context.Context, id int64, uniqueID *string) error {
	const query = `
		UPDATE screenshot_locks
		SET unique_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, uniqueID)
	if err != nil {
		if keyErr := classifyUniqueViolation(err); keyErr != nil {
			return keyErr
		}
		return fmt.Errorf("failed to update lock unique id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockNotFound
	}
	return nil
}

// UpdateHash rebinds an existing lock (found by unique id) to a new
// screenshot hash, updating the record in place rather than
// duplicating it.
func (r *LockRepository) UpdateHash(ctx context.Context, id int64, hash string) error {
	const query = `
		UPDATE screenshot_locks
		SET screenshot_hash = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, hash)
	if err != nil {
		if keyErr := classifyUniqueViolation(err); keyErr != nil {
			return keyErr
		}
		return fmt.Errorf("failed to update lock hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockNotFound
	}
	return nil
}

// Touch refreshes updated_at on a lock, marking a repeat claim.
func (r *LockRepository) Touch(ctx context.Context, id int64) error {
	const query = `UPDATE screenshot_locks SET updated_at = NOW() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch lock: %w", err)
	}
	return nil
}

// DeleteByHash removes the lock bound to a hash, returning the number
// of rows removed (0 or 1). Admin override only.
func (r *LockRepository) DeleteByHash(ctx context.Context, hash string) (int64, error) {
	const query = `DELETE FROM screenshot_locks WHERE screenshot_hash = $1`

	tag, err := r.pool.Exec(ctx, query, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete lock by hash: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByUniqueID removes the lock bound to a unique id, returning
// the number of rows removed (0 or 1). Admin override only.
func (r *LockRepository) DeleteByUniqueID(ctx context.Context, uniqueID string) (int64, error) {
	const query = `DELETE FROM screenshot_locks WHERE unique_id = $1`

	tag, err := r.pool.Exec(ctx, query, uniqueID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete lock by unique id: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *LockRepository) scanOne(ctx context.Context, query string, arg any) (*model.ScreenshotLock, error) {
	var l model.ScreenshotLock
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&l.ID, &l.ScreenshotHash, &l.UniqueID, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("failed to get screenshot lock: %w", err)
	}
	return &l, nil
}

// classifyUniqueViolation maps a PostgreSQL unique violation (SQLSTATE
// 23505) to the sentinel for the violated key, or nil for other errors.
func classifyUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "unique_id") {
		return ErrUniqueIDTaken
	}
	return ErrHashTaken
}
