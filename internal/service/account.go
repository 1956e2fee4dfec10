package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avolkov-dev/genrelay/internal/domain/billing"
	"github.com/avolkov-dev/genrelay/internal/port/database"
)

// AccountService manages billing accounts. Balance debits and refunds go
// through the ledger; this service only handles account lifecycle and
// top-ups.
type AccountService struct {
	store  database.Store
	logger *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(store database.Store, logger *slog.Logger) *AccountService {
	return &AccountService{store: store, logger: logger}
}

// Create registers a new account. A zero coefficient defaults to 1.0.
func (s *AccountService) Create(ctx context.Context, userID string, balance int64, coefficient float64) (*billing.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("create account: user_id is required")
	}
	if balance < 0 {
		return nil, fmt.Errorf("create account %s: balance must not be negative", userID)
	}
	if coefficient == 0 {
		coefficient = 1.0
	}
	if coefficient < 0 {
		return nil, fmt.Errorf("create account %s: coefficient must be positive", userID)
	}

	acct, err := s.store.CreateAccount(ctx, userID, balance, coefficient)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account created", "user_id", userID, "balance", balance, "coefficient", coefficient)
	return acct, nil
}

// Get returns the account by user ID.
func (s *AccountService) Get(ctx context.Context, userID string) (*billing.Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// List returns all accounts.
func (s *AccountService) List(ctx context.Context) ([]billing.Account, error) {
	return s.store.ListAccounts(ctx)
}

// TopUp credits the account balance and returns the updated account.
func (s *AccountService) TopUp(ctx context.Context, userID string, amount int64) (*billing.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("top up %s: amount must be positive", userID)
	}
	acct, err := s.store.TopUp(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account topped up", "user_id", userID, "amount", amount, "balance", acct.Balance)
	return acct, nil
}
