package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

// AccountService manages the account roster.
type AccountService struct {
	accounts ports.AccountRepository
}

func NewAccountService(accounts ports.AccountRepository) *AccountService {
	return &AccountService{accounts: accounts}
}

func (s *AccountService) Add(ctx context.Context, rawID string, name string) (domain.Account, error) {
	id := domain.AccountID(strings.TrimSpace(rawID))
	if id == "" {
		return domain.Account{}, fmt.Errorf("account id is required")
	}
	if !strings.Contains(string(id), "@") {
		return domain.Account{}, fmt.Errorf("account id %q is not a mail address", id)
	}

	if name == "" {
		name, _, _ = strings.Cut(string(id), "@")
	}

	account := domain.Account{
		ID:        id,
		Name:      name,
		SecretRef: id.SecretKey(),
	}
	if err := s.accounts.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	return account, nil
}

func (s *AccountService) Get(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *AccountService) List(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *AccountService) Remove(ctx context.Context, id domain.AccountID) error {
	return s.accounts.Remove(ctx, id)
}
