package funds

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/api"
	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/ledger"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

// DepositRequest is the JSON body for POST /wallet/deposit.
type DepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ProofURL string          `json:"proof_url,omitempty"`
}

// WithdrawRequest is the JSON body for POST /wallet/withdraw.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PixKey string          `json:"pix_key"`
}

// WalletResponse is the caller's balance plus request history.
type WalletResponse struct {
	Balance   decimal.Decimal  `json:"balance"`
	Deposits  []model.Deposit  `json:"deposits"`
	Withdraws []model.Withdraw `json:"withdraws"`
}

// HandleWallet handles GET /api/v1/wallet.
func (s *Service) HandleWallet(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	u, err := s.store.GetUser(r.Context(), caller.UserID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	deposits, err := s.store.ListUserDeposits(r.Context(), caller.UserID)
	if err != nil {
		slog.Error("list deposits failed", "err", err)
		api.Internal(w)
		return
	}
	withdraws, err := s.store.ListUserWithdraws(r.Context(), caller.UserID)
	if err != nil {
		slog.Error("list withdraws failed", "err", err)
		api.Internal(w)
		return
	}
	if deposits == nil {
		deposits = []model.Deposit{}
	}
	if withdraws == nil {
		withdraws = []model.Withdraw{}
	}

	api.WriteJSON(w, http.StatusOK, WalletResponse{
		Balance:   u.Balance,
		Deposits:  deposits,
		Withdraws: withdraws,
	})
}

// HandleRequestDeposit handles POST /api/v1/wallet/deposit.
func (s *Service) HandleRequestDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := s.RequestDeposit(r.Context(), caller, req.Amount, req.ProofURL)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, d)
}

// HandleRequestWithdraw handles POST /api/v1/wallet/withdraw.
func (s *Service) HandleRequestWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wd, err := s.RequestWithdraw(r.Context(), caller, req.Amount, req.PixKey)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, wd)
}

// HandleAdminListDeposits handles GET /api/v1/admin/deposits.
func (s *Service) HandleAdminListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.store.ListDeposits(r.Context())
	if err != nil {
		slog.Error("admin list deposits failed", "err", err)
		api.Internal(w)
		return
	}
	if deposits == nil {
		deposits = []model.Deposit{}
	}
	api.WriteJSON(w, http.StatusOK, deposits)
}

// HandleAdminListWithdraws handles GET /api/v1/admin/withdraws.
func (s *Service) HandleAdminListWithdraws(w http.ResponseWriter, r *http.Request) {
	withdraws, err := s.store.ListWithdraws(r.Context())
	if err != nil {
		slog.Error("admin list withdraws failed", "err", err)
		api.Internal(w)
		return
	}
	if withdraws == nil {
		withdraws = []model.Withdraw{}
	}
	api.WriteJSON(w, http.StatusOK, withdraws)
}

// HandleApproveDeposit handles POST /api/v1/admin/deposits/{requestID}/approve.
func (s *Service) HandleApproveDeposit(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(caller auth.Identity, id string) error {
		return s.ApproveDeposit(r.Context(), caller, id)
	})
}

// HandleRejectDeposit handles POST /api/v1/admin/deposits/{requestID}/reject.
func (s *Service) HandleRejectDeposit(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(caller auth.Identity, id string) error {
		return s.RejectDeposit(r.Context(), caller, id)
	})
}

// HandleApproveWithdraw handles POST /api/v1/admin/withdraws/{requestID}/approve.
func (s *Service) HandleApproveWithdraw(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(caller auth.Identity, id string) error {
		return s.ApproveWithdraw(r.Context(), caller, id)
	})
}

// HandleRejectWithdraw handles POST /api/v1/admin/withdraws/{requestID}/reject.
func (s *Service) HandleRejectWithdraw(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(caller auth.Identity, id string) error {
		return s.RejectWithdraw(r.Context(), caller, id)
	})
}

func (s *Service) decide(w http.ResponseWriter, r *http.Request, fn func(auth.Identity, string) error) {
	caller, _ := auth.FromContext(r.Context())
	if err := fn(caller, chi.URLParam(r, "requestID")); err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOpError maps funds operation errors to HTTP responses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.WriteError(w, "request not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		api.WriteError(w, "admin access required", http.StatusForbidden)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAmount):
		api.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRequestNotPending):
		api.WriteError(w, "request has already been decided", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		api.WriteError(w, "insufficient funds", http.StatusConflict)
	default:
		slog.Error("funds operation failed", "err", err)
		api.Internal(w)
	}
}
