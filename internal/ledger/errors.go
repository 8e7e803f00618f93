package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a withdrawal would drive the
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound signals the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAmount rejects non-positive deposit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)
