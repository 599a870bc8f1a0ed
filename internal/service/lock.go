// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"telegram-rank-bot/internal/model"
	"telegram-rank-bot/internal/repository"
)

// ConflictReason tags which key a lock conflict was detected on.
type ConflictReason string

// Lock conflict reasons.
const (
	HashConflict     ConflictReason = "HASH_CONFLICT"
	UniqueIDConflict ConflictReason = "UNIQUE_ID_CONFLICT"
)

// LockConflictError reports that a screenshot hash or in-game unique
// id already belongs to a different identity.
type LockConflictError struct {
	Reason ConflictReason
	Owner  int64
}

// Error implements the error interface.
func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict (%s): key owned by identity %d", e.Reason, e.Owner)
}

// lockRepo is the storage the lock service needs; tests substitute a
// fake.
type lockRepo interface {
	GetByHash(ctx context.Context, hash string) (*model.ScreenshotLock, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*model.ScreenshotLock, error)
	Insert(ctx context.Context, ownerID int64, hash string, uniqueID *string) (*model.ScreenshotLock, error)
	UpdateUniqueID(ctx context.Context, id int64, uniqueID *string) error
	UpdateHash(ctx context.Context, id int64, hash string) error
	Touch(ctx context.Context, id int64) error
	DeleteByHash(ctx context.Context, hash string) (int64, error)
	DeleteByUniqueID(ctx context.Context, uniqueID string) (int64, error)
}

// LockService enforces at-most-one-owner per screenshot hash and per
// in-game unique id. The pre-check in VerifyLock is the friendly fast
// path; the unique constraints behind UpsertLock are the authority
// under concurrent claims.
type LockService struct {
	repo lockRepo
}

// NewLockService creates a new LockService instance.
func NewLockService(repo lockRepo) *LockService {
	return &LockService{repo: repo}
}

// VerifyLock fails with a LockConflictError if either key already
// belongs to a different identity. It must pass before any committing
// effect (role grant, account upsert) is applied. uniqueID may be
// empty when the extractor could not read one.
func (s *LockService) VerifyLock(ctx context.Context, identity int64, hash, uniqueID string) error {
	existing, err := s.repo.GetByHash(ctx, hash)
	switch {
	case err == nil:
		if existing.OwnerID != identity {
			return &LockConflictError{Reason: HashConflict, Owner: existing.OwnerID}
		}
	case !errors.Is(err, repository.ErrLockNotFound):
		return fmt.Errorf("failed to verify hash lock: %w", err)
	}

	if uniqueID == "" {
		return nil
	}

	existing, err = s.repo.GetByUniqueID(ctx, uniqueID)
	switch {
	case err == nil:
		if existing.OwnerID != identity {
			return &LockConflictError{Reason: UniqueIDConflict, Owner: existing.OwnerID}
		}
	case !errors.Is(err, repository.ErrLockNotFound):
		return fmt.Errorf("failed to verify unique id lock: %w", err)
	}

	return nil
}

// UpsertLock idempotently binds both keys to the identity. The hash
// is checked first, then the unique id, which resolves the "which key
// already exists" ambiguity:
//   - hash already ours: no-op except refreshing the unique id
//   - unique id already ours under a different hash: the existing
//     record is rebound in place, never duplicated
//   - neither exists: a new lock is inserted; a unique violation at
//     insert time is the authoritative conflict signal from a lost
//     race and is reported exactly like a pre-check conflict
func (s *LockService) UpsertLock(ctx context.Context, identity int64, hash, uniqueID string) (*model.ScreenshotLock, error) {
	var uid *string
	if uniqueID != "" {
		uid = &uniqueID
	}

	existing, err := s.repo.GetByHash(ctx, hash)
	switch {
	case err == nil:
		if existing.OwnerID != identity {
			return nil, &LockConflictError{Reason: HashConflict, Owner: existing.OwnerID}
		}
		return s.refresh(ctx, existing, uid)
	case !errors.Is(err, repository.ErrLockNotFound):
		return nil, fmt.Errorf("failed to look up hash lock: %w", err)
	}

	if uid != nil {
		existing, err = s.repo.GetByUniqueID(ctx, *uid)
		switch {
		case err == nil:
			if existing.OwnerID != identity {
				return nil, &LockConflictError{Reason: UniqueIDConflict, Owner: existing.OwnerID}
			}
			if err := s.repo.UpdateHash(ctx, existing.ID, hash); err != nil {
				return nil, s.mapKeyError(ctx, err, hash, uniqueID)
			}
			existing.ScreenshotHash = hash
			return existing, nil
		case !errors.Is(err, repository.ErrLockNotFound):
			return nil, fmt.Errorf("failed to look up unique id lock: %w", err)
		}
	}

	lock, err := s.repo.Insert(ctx, identity, hash, uid)
	if err != nil {
		return nil, s.mapKeyError(ctx, err, hash, uniqueID)
	}
	return lock, nil
}

// refresh handles a repeat claim by the same owner: update the unique
// id if it changed, otherwise just mark the claim.
func (s *LockService) refresh(ctx context.Context, lock *model.ScreenshotLock, uid *string) (*model.ScreenshotLock, error) {
	if uid != nil && (lock.UniqueID == nil || *lock.UniqueID != *uid) {
		if err := s.repo.UpdateUniqueID(ctx, lock.ID, uid); err != nil {
			return nil, s.mapKeyError(ctx, err, lock.ScreenshotHash, *uid)
		}
		lock.UniqueID = uid
		return lock, nil
	}
	if err := s.repo.Touch(ctx, lock.ID); err != nil {
		return nil, err
	}
	return lock, nil
}

// mapKeyError converts the repository's unique-violation sentinels
// into LockConflictErrors carrying the winning owner.
func (s *LockService) mapKeyError(ctx context.Context, err error, hash, uniqueID string) error {
	switch {
	case errors.Is(err, repository.ErrHashTaken):
		owner := s.lookupOwnerByHash(ctx, hash)
		return &LockConflictError{Reason: HashConflict, Owner: owner}
	case errors.Is(err, repository.ErrUniqueIDTaken):
		owner := s.lookupOwnerByUniqueID(ctx, uniqueID)
		return &LockConflictError{Reason: UniqueIDConflict, Owner: owner}
	default:
		return fmt.Errorf("failed to upsert lock: %w", err)
	}
}

func (s *LockService) lookupOwnerByHash(ctx context.Context, hash string) int64 {
	if l, err := s.repo.GetByHash(ctx, hash); err == nil {
		return l.OwnerID
	}
	return 0
}

func (s *LockService) lookupOwnerByUniqueID(ctx context.Context, uniqueID string) int64 {
	if l, err := s.repo.GetByUniqueID(ctx, uniqueID); err == nil {
		return l.OwnerID
	}
	return 0
}

// Unlink removes a lock by hash or by unique id, returning the number
// of bindings removed (normally 0 or 1). Admin override for disputed
// claims; regular flows never delete locks.
func (s *LockService) Unlink(ctx context.Context, hash, uniqueID string) (int64, error) {
	if hash != "" {
		return s.repo.DeleteByHash(ctx, hash)
	}
	if uniqueID != "" {
		return s.repo.DeleteByUniqueID(ctx, uniqueID)
	}
	return 0, errors.New("unlink requires a hash or a unique id")
}
