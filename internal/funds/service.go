// Package funds implements the deposit/withdrawal request queue.
// Deposits credit the balance only when an admin approves them.
// Withdrawals debit the balance at request time — reserving the funds —
// and refund it if the admin rejects; approval moves no further money.
// The asymmetry guarantees a user can never queue withdrawals beyond
// their real balance.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/ledger"
	"github.com/marketx/exchange/internal/metrics"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/notify"
	"github.com/marketx/exchange/internal/store"
)

var (
	// ErrRequestNotPending is returned when deciding a request that
	// was already approved or rejected.
	ErrRequestNotPending = errors.New("funds: request is not pending")

	// ErrForbidden is returned when a non-admin decides a request.
	ErrForbidden = errors.New("funds: admin role required")

	// ErrInvalidInput is returned for malformed amounts or a missing
	// PIX destination.
	ErrInvalidInput = errors.New("funds: invalid input")
)

// Service handles funds requests and admin decisions.
type Service struct {
	store store.Store
	hub   *notify.Hub // optional; nil disables event broadcasts
}

// NewService creates a funds service.
func NewService(st store.Store, hub *notify.Hub) *Service {
	return &Service{store: st, hub: hub}
}

// RequestDeposit queues a PENDING deposit. No balance effect yet.
func (s *Service) RequestDeposit(ctx context.Context, caller auth.Identity, amount decimal.Decimal, proofURL string) (*model.Deposit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	d := &model.Deposit{
		ID:        uuid.New().String(),
		UserID:    caller.UserID,
		Amount:    amount.Round(2),
		Status:    model.RequestPending,
		ProofURL:  proofURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDeposit(ctx, d); err != nil {
		return nil, err
	}

	slog.Info("deposit requested", "deposit", d.ID, "user", caller.UserID, "amount", d.Amount.String())
	return d, nil
}

// ApproveDeposit credits the requester's balance and marks the request
// APPROVED, atomically. A request is decided exactly once.
func (s *Service) ApproveDeposit(ctx context.Context, caller auth.Identity, depositID string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != model.RequestPending {
			return ErrRequestNotPending
		}
		if err := ledger.Credit(ctx, tx, d.UserID, d.Amount); err != nil {
			return err
		}
		return tx.SetDepositStatus(ctx, depositID, model.RequestApproved)
	})
	if err != nil {
		return err
	}

	metrics.FundsDecisions.WithLabelValues("deposit", model.RequestApproved).Inc()
	slog.Info("deposit approved", "deposit", depositID, "admin", caller.UserID)
	s.broadcast("deposit", model.RequestApproved)
	return nil
}

// RejectDeposit marks the request REJECTED. No balance effect — the
// funds were never credited.
func (s *Service) RejectDeposit(ctx context.Context, caller auth.Identity, depositID string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != model.RequestPending {
			return ErrRequestNotPending
		}
		return tx.SetDepositStatus(ctx, depositID, model.RequestRejected)
	})
	if err != nil {
		return err
	}

	metrics.FundsDecisions.WithLabelValues("deposit", model.RequestRejected).Inc()
	slog.Info("deposit rejected", "deposit", depositID, "admin", caller.UserID)
	s.broadcast("deposit", model.RequestRejected)
	return nil
}

// RequestWithdraw debits the balance and queues a PENDING withdrawal
// in one transaction. The debit re-checks the balance under the row
// lock, so the reserved funds always existed at request time.
func (s *Service) RequestWithdraw(ctx context.Context, caller auth.Identity, amount decimal.Decimal, pixKey string) (*model.Withdraw, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if pixKey == "" {
		return nil, fmt.Errorf("%w: pix key is required", ErrInvalidInput)
	}

	wd := &model.Withdraw{
		ID:        uuid.New().String(),
		UserID:    caller.UserID,
		Amount:    amount.Round(2),
		PixKey:    pixKey,
		Status:    model.RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		if err := ledger.Debit(ctx, tx, caller.UserID, wd.Amount); err != nil {
			return err
		}
		return tx.CreateWithdraw(ctx, wd)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("withdraw requested", "withdraw", wd.ID, "user", caller.UserID, "amount", wd.Amount.String())
	return wd, nil
}

// ApproveWithdraw marks the request APPROVED. The amount was already
// debited at request time; no further balance effect.
func (s *Service) ApproveWithdraw(ctx context.Context, caller auth.Identity, withdrawID string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		wd, err := tx.GetWithdrawForUpdate(ctx, withdrawID)
		if err != nil {
			return err
		}
		if wd.Status != model.RequestPending {
			return ErrRequestNotPending
		}
		return tx.SetWithdrawStatus(ctx, withdrawID, model.RequestApproved)
	})
	if err != nil {
		return err
	}

	metrics.FundsDecisions.WithLabelValues("withdraw", model.RequestApproved).Inc()
	slog.Info("withdraw approved", "withdraw", withdrawID, "admin", caller.UserID)
	s.broadcast("withdraw", model.RequestApproved)
	return nil
}

// RejectWithdraw refunds the reserved amount and marks the request
// REJECTED, atomically. The balance returns to its pre-request value.
func (s *Service) RejectWithdraw(ctx context.Context, caller auth.Identity, withdrawID string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		wd, err := tx.GetWithdrawForUpdate(ctx, withdrawID)
		if err != nil {
			return err
		}
		if wd.Status != model.RequestPending {
			return ErrRequestNotPending
		}
		if err := ledger.Credit(ctx, tx, wd.UserID, wd.Amount); err != nil {
			return err
		}
		return tx.SetWithdrawStatus(ctx, withdrawID, model.RequestRejected)
	})
	if err != nil {
		return err
	}

	metrics.FundsDecisions.WithLabelValues("withdraw", model.RequestRejected).Inc()
	slog.Info("withdraw rejected", "withdraw", withdrawID, "admin", caller.UserID)
	s.broadcast("withdraw", model.RequestRejected)
	return nil
}

func (s *Service) broadcast(kind, decision string) {
	if s.hub != nil {
		s.hub.Broadcast(notify.Event{Type: notify.EventFundsDecision, Kind: kind, Decision: decision})
	}
}
