package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry by the sign of its amount.
type EntryType string

const (
	// EntryDeposit credits the account; amount is positive.
	EntryDeposit EntryType = "deposit"
	// EntryWithdrawal debits the account; amount is negative.
	EntryWithdrawal EntryType = "withdrawal"
)

// Entry is an immutable balance transition. Entries are append-only: they are
// never updated or deleted, and replaying them in creation order reproduces
// the account balance exactly.
type Entry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Type          EntryType
	Description   string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// Replay folds entries in order and returns the resulting balance.
// Entries must be sorted oldest first.
func Replay(entries []Entry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Amount)
	}
	return balance
}

// VerifyChain checks the audit-trail invariants: each entry's balance_after
// equals balance_before plus amount, and consecutive entries chain together.
// Entries must be sorted oldest first.
func VerifyChain(entries []Entry) error {
	for i, e := range entries {
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
			return fmt.Errorf("entry %s: balance_after %s != balance_before %s + amount %s",
				e.ID, e.BalanceAfter, e.BalanceBefore, e.Amount)
		}
		if i > 0 && !e.BalanceBefore.Equal(entries[i-1].BalanceAfter) {
			return fmt.Errorf("entry %s: balance_before %s does not chain from previous balance_after %s",
				e.ID, e.BalanceBefore, entries[i-1].BalanceAfter)
		}
	}
	return nil
}
