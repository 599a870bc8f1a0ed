package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"telegram-rank-bot/internal/config"
	"telegram-rank-bot/internal/roles"
)

// RoleConfigError reports that the target rank role could not be
// resolved against the live taxonomy (misconfigured or deleted).
type RoleConfigError struct {
	Token string
}

// Error implements the error interface.
func (e *RoleConfigError) Error() string {
	return fmt.Sprintf("rank role %q is not in the configured taxonomy", e.Token)
}

// RolePermissionError reports that the role capability refused an
// operation. It is a distinct category and is never retried.
type RolePermissionError struct {
	Err error
}

// Error implements the error interface.
func (e *RolePermissionError) Error() string {
	return fmt.Sprintf("role permission denied: %v", e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *RolePermissionError) Unwrap() error { return e.Err }

// RoleStateMachine enforces the invariant that an identity holds at
// most one rank-tier role at any time. The remove-all-then-add
// transition is not atomic across the role capability: a crash in
// between leaves the identity with zero rank roles, and the next
// successful verification repeats the sequence and self-heals.
type RoleStateMachine struct {
	mgr      roles.Manager
	taxonomy *config.Taxonomy
}

// NewRoleStateMachine creates a new RoleStateMachine instance.
func NewRoleStateMachine(mgr roles.Manager, taxonomy *config.Taxonomy) *RoleStateMachine {
	return &RoleStateMachine{mgr: mgr, taxonomy: taxonomy}
}

// Assign transitions the identity to exactly the target rank role:
// every currently held rank-tier role (per the live, hot-reloaded
// token set) is removed first, then the target is added. If the
// target cannot be resolved the identity is left with zero rank roles
// and a RoleConfigError is returned; a stale role is never kept.
func (m *RoleStateMachine) Assign(ctx context.Context, identity int64, token string) error {
	if err := m.RemoveAll(ctx, identity); err != nil {
		return err
	}

	if _, ok := m.taxonomy.Rank(token); !ok {
		return &RoleConfigError{Token: token}
	}

	if err := m.mgr.Add(ctx, identity, token); err != nil {
		return m.classify(err)
	}

	log.Debug().
		Int64("identity", identity).
		Str("role", token).
		Msg("Rank role assigned")
	return nil
}

// Remove revokes one named role. Removing a role the identity does
// not hold is a no-op.
func (m *RoleStateMachine) Remove(ctx context.Context, identity int64, token string) error {
	if err := m.mgr.Remove(ctx, identity, token); err != nil {
		return m.classify(err)
	}
	return nil
}

// RemoveAll clears every rank-tier role the identity holds. Roles
// outside the recognized rank-tier token set are untouched.
func (m *RoleStateMachine) RemoveAll(ctx context.Context, identity int64) error {
	held, err := m.mgr.List(ctx, identity)
	if err != nil {
		return m.classify(err)
	}

	recognized := m.taxonomy.RoleTokens()
	for _, token := range held {
		if _, ok := recognized[token]; !ok {
			continue
		}
		if err := m.mgr.Remove(ctx, identity, token); err != nil {
			return m.classify(err)
		}
	}
	return nil
}

// classify wraps permission refusals in their distinct category.
func (m *RoleStateMachine) classify(err error) error {
	if errors.Is(err, roles.ErrPermission) {
		return &RolePermissionError{Err: err}
	}
	return err
}
