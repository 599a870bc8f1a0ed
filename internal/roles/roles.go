// Package roles defines the role-management port and its
// Postgres-backed implementation. The state machine in the service
// layer speaks only to the Manager interface, so the chat platform's
// role capability can be swapped without touching the transition
// logic.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPermission is returned when the underlying role capability
// refuses the operation. Callers must not retry it.
var ErrPermission = errors.New("insufficient permission for role operation")

// Manager is the role-management capability: list, add, and remove
// roles held by an identity.
type Manager interface {
	List(ctx context.Context, identity int64) ([]string, error)
	Add(ctx context.Context, identity int64, role string) error
	Remove(ctx context.Context, identity int64, role string) error
}

// Store is the Postgres-backed Manager. Telegram has no native role
// primitive, so earned rank badges live in the identity_roles table
// and surface through bot commands.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns every role token held by the identity.
func (s *Store) List(ctx context.Context, identity int64) ([]string, error) {
	const query = `
		SELECT role_token
		FROM identity_roles
		WHERE owner_id = $1
		ORDER BY role_token
	`

	rows, err := s.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return tokens, nil
}

// Add grants a role to the identity. Granting an already-held role is
// a no-op.
func (s *Store) Add(ctx context.Context, identity int64, role string) error {
	const query = `
		INSERT INTO identity_roles (owner_id, role_token, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id, role_token) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, identity, role); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// Remove revokes a role from the identity. Removing a role that is
// not held is a no-op.
func (s *Store) Remove(ctx context.Context, identity int64, role string) error {
	const query = `DELETE FROM identity_roles WHERE owner_id = $1 AND role_token = $2`

	if _, err := s.pool.Exec(ctx, query, identity, role); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}
