package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-rank-bot/internal/model"
)

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = "id, owner_id, unique_id, level, rank_name, verified_at, is_primary, metadata"

// AccountRepository handles verified game account persistence.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Upsert creates or refreshes the account identified by
// (owner, unique id). Every successful verification lands here. A new
// account becomes primary only if the owner has no primary yet.
func (r *AccountRepository) Upsert(ctx context.Context, acct *model.Account) (*model.Account, error) {
	const query = `
		INSERT INTO accounts (owner_id, unique_id, level, rank_name, verified_at, is_primary, metadata)
		VALUES ($1, $2, $3, $4, $5,
			NOT EXISTS (SELECT 1 FROM accounts WHERE owner_id = $1 AND is_primary),
			$6)
		ON CONFLICT (owner_id, unique_id) DO UPDATE
		SET level = EXCLUDED.level,
		    rank_name = EXCLUDED.rank_name,
		    verified_at = EXCLUDED.verified_at,
		    metadata = EXCLUDED.metadata
		RETURNING ` + accountColumns + `
	`

	var out model.Account
	err := r.pool.QueryRow(ctx, query,
		acct.OwnerID, acct.UniqueID, acct.Level, acct.RankName, acct.VerifiedAt, acct.Metadata,
	).Scan(
		&out.ID, &out.OwnerID, &out.UniqueID, &out.Level, &out.RankName,
		&out.VerifiedAt, &out.IsPrimary, &out.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return &out, nil
}

// GetByOwner lists the accounts held by an identity, primary first.
func (r *AccountRepository) GetByOwner(ctx context.Context, ownerID int64) ([]*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE owner_id = $1
		ORDER BY is_primary DESC, verified_at DESC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		var a model.Account
		err := rows.Scan(
			&a.ID, &a.OwnerID, &a.UniqueID, &a.Level, &a.RankName,
			&a.VerifiedAt, &a.IsPrimary, &a.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// SetPrimary marks one of the owner's accounts as primary, clearing
// the flag on the others in the same transaction so that at most one
// account per identity is primary.
func (r *AccountRepository) SetPrimary(ctx context.Context, ownerID int64, uniqueID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET is_primary = FALSE WHERE owner_id = $1 AND is_primary`,
		ownerID,
	); err != nil {
		return fmt.Errorf("failed to clear primary flag: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET is_primary = TRUE WHERE owner_id = $1 AND unique_id = $2`,
		ownerID, uniqueID,
	)
	if err != nil {
		return fmt.Errorf("failed to set primary flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return tx.Commit(ctx)
}

// GetByUniqueID retrieves the account bound to an in-game unique id.
func (r *AccountRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE unique_id = $1
	`

	var a model.Account
	err := r.pool.QueryRow(ctx, query, uniqueID).Scan(
		&a.ID, &a.OwnerID, &a.UniqueID, &a.Level, &a.RankName,
		&a.VerifiedAt, &a.IsPrimary, &a.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &a, nil
}
