// Package exchange implements the contract lifecycle: creation by an
// admin, buys and sells by users, and resolution with payout
// distribution. Every balance- or position-mutating path runs inside a
// single store transaction and re-validates its preconditions under
// row locks, so two concurrent buys against one balance can never both
// succeed on funds that cover only one.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/book"
	"github.com/marketx/exchange/internal/ledger"
	"github.com/marketx/exchange/internal/metrics"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/notify"
	"github.com/marketx/exchange/internal/store"
)

var (
	// ErrContractNotActive is returned when trading or resolving a
	// contract that is already resolved.
	ErrContractNotActive = errors.New("exchange: contract not active")

	// ErrContractExpired is returned when buying past expiry.
	ErrContractExpired = errors.New("exchange: contract expired")

	// ErrForbidden is returned when a non-admin calls an admin
	// operation.
	ErrForbidden = errors.New("exchange: admin role required")

	// ErrInvalidInput is returned for malformed quantities, prices,
	// or resolution results.
	ErrInvalidInput = errors.New("exchange: invalid input")
)

// Service executes contract operations against the store.
type Service struct {
	store store.Store
	hub   *notify.Hub // optional; nil disables event broadcasts

	// FeeRate is charged on sell revenue. Fixed at 1%.
	FeeRate decimal.Decimal

	// PayoutPerUnit is credited per held unit when a contract resolves
	// SIM. The flat 1.00 settlement is independent of the price paid.
	PayoutPerUnit decimal.Decimal

	// SellAfterExpiry allows holders to liquidate positions on expired
	// but unresolved contracts. Buys always enforce expiry.
	SellAfterExpiry bool
}

// NewService creates an exchange service with default settlement
// parameters. Pass nil for hub if event broadcasting is not needed.
func NewService(st store.Store, hub *notify.Hub) *Service {
	return &Service{
		store:           st,
		hub:             hub,
		FeeRate:         decimal.NewFromFloat(0.01),
		PayoutPerUnit:   decimal.NewFromInt(1),
		SellAfterExpiry: true,
	}
}

// CreateContract registers a new ACTIVE contract. Admin only.
func (s *Service) CreateContract(ctx context.Context, caller auth.Identity, title, description string, price decimal.Decimal, expiresAt time.Time) (*model.Contract, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	if title == "" || description == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if !expiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	c := &model.Contract{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Price:       price.Round(2),
		ExpiresAt:   expiresAt.UTC(),
		Status:      model.ContractActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateContract(ctx, c); err != nil {
		return nil, err
	}

	slog.Info("contract created", "contract", c.ID, "title", c.Title, "price", c.Price.String())
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{Type: notify.EventContractCreated, ContractID: c.ID})
	}
	return c, nil
}

// Buy purchases quantity units at the contract's fixed price. The
// debit and the position update commit in one transaction; the balance
// and contract state are re-checked under row locks inside it.
func (s *Service) Buy(ctx context.Context, caller auth.Identity, contractID string, quantity int64) (decimal.Decimal, error) {
	if quantity < 1 {
		return decimal.Zero, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var totalCost decimal.Decimal
	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetContractForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status != model.ContractActive {
			return ErrContractNotActive
		}
		if time.Now().After(c.ExpiresAt) {
			return ErrContractExpired
		}

		totalCost = c.Price.Mul(decimal.NewFromInt(quantity))
		if err := ledger.Debit(ctx, tx, caller.UserID, totalCost); err != nil {
			return err
		}
		return book.OpenOrIncrease(ctx, tx, caller.UserID, contractID, quantity, c.Price)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		}
		return decimal.Zero, err
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	slog.Info("buy executed",
		"user", caller.UserID,
		"contract", contractID,
		"qty", quantity,
		"total_cost", totalCost.String(),
	)
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventTradeExecuted,
			ContractID: contractID,
			Side:       "buy",
			Quantity:   quantity,
		})
	}
	return totalCost, nil
}

// SellResult reports the proceeds of a sell.
type SellResult struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Fee          decimal.Decimal `json:"fee"`
	NetRevenue   decimal.Decimal `json:"net_revenue"`
}

// Sell liquidates quantity units at the contract's fixed price, minus
// the fee. The position decrease and the credit commit together.
func (s *Service) Sell(ctx context.Context, caller auth.Identity, contractID string, quantity int64) (SellResult, error) {
	if quantity < 1 {
		return SellResult{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var res SellResult
	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetContractForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status != model.ContractActive {
			return ErrContractNotActive
		}
		if !s.SellAfterExpiry && time.Now().After(c.ExpiresAt) {
			return ErrContractExpired
		}

		res.TotalRevenue = c.Price.Mul(decimal.NewFromInt(quantity))
		res.Fee = res.TotalRevenue.Mul(s.FeeRate).Round(2)
		res.NetRevenue = res.TotalRevenue.Sub(res.Fee)

		if err := book.Decrease(ctx, tx, caller.UserID, contractID, quantity); err != nil {
			return err
		}
		return ledger.Credit(ctx, tx, caller.UserID, res.NetRevenue)
	})
	if err != nil {
		if errors.Is(err, book.ErrInsufficientPosition) {
			metrics.TradeRejections.WithLabelValues("insufficient_position").Inc()
		}
		return SellResult{}, err
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	slog.Info("sell executed",
		"user", caller.UserID,
		"contract", contractID,
		"qty", quantity,
		"net_revenue", res.NetRevenue.String(),
		"fee", res.Fee.String(),
	)
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventTradeExecuted,
			ContractID: contractID,
			Side:       "sell",
			Quantity:   quantity,
		})
	}
	return res, nil
}

// Resolve settles a contract exactly once. Result SIM credits every
// BUY holder PayoutPerUnit per held unit; NAO credits nothing. The
// status flip and all payouts commit in one transaction. Admin only.
func (s *Service) Resolve(ctx context.Context, caller auth.Identity, contractID, result string) (int, error) {
	if !caller.IsAdmin() {
		return 0, ErrForbidden
	}
	if !model.ValidResult(result) {
		return 0, fmt.Errorf("%w: result must be SIM or NAO", ErrInvalidInput)
	}

	payouts := 0
	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetContractForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status != model.ContractActive {
			return ErrContractNotActive
		}
		if err := tx.SetContractResolved(ctx, contractID, result); err != nil {
			return err
		}

		if result != model.ResultSim {
			return nil
		}
		positions, err := tx.ListContractPositions(ctx, contractID)
		if err != nil {
			return err
		}
		for _, p := range positions {
			if p.Side != model.SideBuy {
				continue
			}
			payout := s.PayoutPerUnit.Mul(decimal.NewFromInt(p.Quantity))
			if err := ledger.Credit(ctx, tx, p.UserID, payout); err != nil {
				return err
			}
			payouts++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.ResolutionsTotal.WithLabelValues(result).Inc()
	slog.Info("contract resolved",
		"contract", contractID,
		"result", result,
		"payouts", payouts,
	)
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:       notify.EventContractResolved,
			ContractID: contractID,
			Result:     result,
		})
	}
	return payouts, nil
}

// GetContract returns a contract by id.
func (s *Service) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return s.store.GetContract(ctx, id)
}

// ListActive returns ACTIVE contracts newest-first.
func (s *Service) ListActive(ctx context.Context) ([]model.Contract, error) {
	return s.store.ListContracts(ctx, true)
}
