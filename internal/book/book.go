// Package book owns per-contract holdings: one position row per
// (user, contract) pair, created on first buy, updated with a weighted
// average price on subsequent buys, and deleted when a sell takes the
// quantity to zero. All operations run against a store.Tx so position
// writes commit atomically with the ledger movement that funds them.
package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

var (
	// ErrInsufficientPosition is returned when a decrease exceeds the
	// current holding.
	ErrInsufficientPosition = errors.New("book: insufficient position")

	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("book: quantity must be at least 1")
)

// OpenOrIncrease records a buy of quantity units at unitPrice. If no
// position exists for (user, contract) one is created on the BUY side;
// otherwise quantity is added and the average price becomes the
// weighted mean of the old holding and the new units.
func OpenOrIncrease(ctx context.Context, tx store.Tx, userID, contractID string, quantity int64, unitPrice decimal.Decimal) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	p, err := tx.GetPositionForUpdate(ctx, userID, contractID)
	if errors.Is(err, store.ErrNotFound) {
		return tx.CreatePosition(ctx, &model.Position{
			ID:           uuid.New().String(),
			UserID:       userID,
			ContractID:   contractID,
			Quantity:     quantity,
			AveragePrice: unitPrice,
			Side:         model.SideBuy,
			CreatedAt:    time.Now().UTC(),
		})
	}
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}

	newQty := p.Quantity + quantity
	// newAvg = (oldAvg*oldQty + unitPrice*quantity) / newQty
	oldValue := p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
	addedValue := unitPrice.Mul(decimal.NewFromInt(quantity))
	newAvg := oldValue.Add(addedValue).Div(decimal.NewFromInt(newQty)).Round(2)

	return tx.UpdatePosition(ctx, p.ID, newQty, newAvg)
}

// Decrease records a sell of quantity units. The holding is re-read
// under the row lock; selling more than held fails with
// ErrInsufficientPosition. A full sell deletes the row, a partial sell
// decrements quantity and leaves the average price unchanged.
func Decrease(ctx context.Context, tx store.Tx, userID, contractID string, quantity int64) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	p, err := tx.GetPositionForUpdate(ctx, userID, contractID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInsufficientPosition
	}
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if p.Quantity < quantity {
		return ErrInsufficientPosition
	}

	if p.Quantity == quantity {
		return tx.DeletePosition(ctx, p.ID)
	}
	return tx.UpdatePosition(ctx, p.ID, p.Quantity-quantity, p.AveragePrice)
}
