package service

import (
	"context"
	"fmt"

	"telegram-rank-bot/internal/model"
	"telegram-rank-bot/internal/repository"
)

// AccountService exposes the verified game accounts held by an
// identity.
type AccountService struct {
	accounts *repository.AccountRepository
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(accounts *repository.AccountRepository) *AccountService {
	return &AccountService{accounts: accounts}
}

// Accounts lists an identity's verified accounts, primary first.
func (s *AccountService) Accounts(ctx context.Context, ownerID int64) ([]*model.Account, error) {
	accounts, err := s.accounts.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified accounts: %w", err)
	}
	return accounts, nil
}

// SetPrimary marks one of the identity's accounts as primary. At most
// one account per identity carries the flag.
func (s *AccountService) SetPrimary(ctx context.Context, ownerID int64, uniqueID string) error {
	return s.accounts.SetPrimary(ctx, ownerID, uniqueID)
}
