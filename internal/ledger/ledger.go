// Package ledger owns user balance mutation. Credit and Debit are the
// only paths that change a balance, and both operate on a store.Tx so
// the balance write commits or rolls back together with whatever
// sibling mutation (position update, request status change) the caller
// performs in the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit would take the
	// balance below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Credit increments the user's balance by amount. amount must be > 0.
func Credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := tx.AddToBalance(ctx, userID, amount); err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	return nil
}

// Debit decrements the user's balance by amount, failing with
// ErrInsufficientFunds if the current balance does not cover it. The
// balance is re-read under the transaction's row lock, so the check
// cannot be invalidated by a concurrent debit before commit.
func Debit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	if u.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	if err := tx.AddToBalance(ctx, userID, amount.Neg()); err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	return nil
}
