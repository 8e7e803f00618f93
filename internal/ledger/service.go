package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type store interface {
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (Entry, error)
	Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error)
}

// Service exposes account balance operations.
type Service struct {
	store store
}

// NewService constructs a ledger service.
func NewService(store store) *Service {
	return &Service{store: store}
}

// Balance returns the account's current balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.store.Balance(ctx, accountID)
}

// Deposit credits the account. Amount must be positive.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "balance top-up"
	}
	return s.store.Deposit(ctx, accountID, amount, description)
}

// History returns the account's audit trail, oldest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error) {
	return s.store.Entries(ctx, accountID, limit)
}

// Audit replays the audit trail against the stored balance and reports any
// divergence. A clean account returns nil.
func (s *Service) Audit(ctx context.Context, accountID uuid.UUID) error {
	entries, err := s.store.Entries(ctx, accountID, 1000)
	if err != nil {
		return err
	}
	if err := VerifyChain(entries); err != nil {
		return err
	}

	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	if replayed := Replay(entries); !replayed.Equal(balance) {
		return fmt.Errorf("replayed balance %s does not match stored balance %s", replayed, balance)
	}
	return nil
}
