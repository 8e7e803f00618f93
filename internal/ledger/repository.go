package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const repoTimeout = 5 * time.Second

// Repository provides access to account balances and the ledger audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ApplyEntry performs one balance mutation inside the caller's transaction:
// it locks the account row, re-reads the balance, refuses withdrawals that
// would drive it negative, appends the ledger entry and persists the new
// balance. Every balance change in the system goes through here so the
// audit trail can never diverge from the balance column.
func ApplyEntry(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType EntryType, description string) (Entry, error) {
	var before decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE;`, accountID).Scan(&before)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrAccountNotFound
		}
		return Entry{}, fmt.Errorf("lock balance: %w", err)
	}

	after := before.Add(amount)
	if after.IsNegative() {
		return Entry{}, ErrInsufficientFunds
	}

	entry := Entry{
		ID:            uuid.New(),
		AccountID:     accountID,
		Amount:        amount,
		Type:          entryType,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  after,
	}

	row := tx.QueryRow(ctx, `
INSERT INTO ledger_entries (id, account_id, amount, type, description, balance_before, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at;`,
		entry.ID, entry.AccountID, entry.Amount, entry.Type, entry.Description, entry.BalanceBefore, entry.BalanceAfter)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("append ledger entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2;`, after, accountID); err != nil {
		return Entry{}, fmt.Errorf("update balance: %w", err)
	}

	return entry, nil
}

// Balance returns the current balance of the account.
func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1;`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Deposit atomically credits the account and appends the matching entry.
func (r *Repository) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := ApplyEntry(ctx, tx, accountID, amount, EntryDeposit, description)
	if err != nil {
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("commit deposit: %w", err)
	}
	return entry, nil
}

// Entries returns the account's audit trail, oldest first.
func (r *Repository) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
SELECT id, account_id, amount, type, description, balance_before, balance_after, created_at
FROM ledger_entries
WHERE account_id = $1
ORDER BY created_at ASC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Type, &e.Description, &e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
