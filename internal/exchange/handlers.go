package exchange

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/api"
	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/book"
	"github.com/marketx/exchange/internal/ledger"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

// --- Request/Response types ---

// CreateContractRequest is the JSON body for admin contract creation.
type CreateContractRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// TradeRequest is the JSON body for buy and sell.
type TradeRequest struct {
	Quantity int64 `json:"quantity"`
}

// BuyResponse is returned from POST /contracts/{id}/buy.
type BuyResponse struct {
	ContractID string          `json:"contract_id"`
	Quantity   int64           `json:"quantity"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// ResolveRequest is the JSON body for admin resolution.
type ResolveRequest struct {
	Result string `json:"result"`
}

// ContractView is a contract plus the caller's position, if any.
type ContractView struct {
	model.Contract
	UserPosition *PositionSummary `json:"user_position,omitempty"`
}

// PositionSummary is the position snapshot attached to contract lists.
type PositionSummary struct {
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Side         string          `json:"side"`
}

// AdminContractView is a contract plus its open position count.
type AdminContractView struct {
	model.Contract
	PositionsCount int64 `json:"positions_count"`
}

// --- HTTP Handlers ---

// HandleList handles GET /api/v1/contracts — active contracts with the
// caller's position attached where one exists.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	contracts, err := s.ListActive(r.Context())
	if err != nil {
		slog.Error("list contracts failed", "err", err)
		api.Internal(w)
		return
	}

	views := make([]ContractView, 0, len(contracts))
	for _, c := range contracts {
		v := ContractView{Contract: c}
		if p, err := s.store.GetPosition(r.Context(), caller.UserID, c.ID); err == nil {
			v.UserPosition = &PositionSummary{
				Quantity:     p.Quantity,
				AveragePrice: p.AveragePrice,
				Side:         p.Side,
			}
		}
		views = append(views, v)
	}
	api.WriteJSON(w, http.StatusOK, views)
}

// HandleGet handles GET /api/v1/contracts/{contractID}.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// HandleBuy handles POST /api/v1/contracts/{contractID}/buy.
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	contractID := chi.URLParam(r, "contractID")
	totalCost, err := s.Buy(r.Context(), caller, contractID, req.Quantity)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, BuyResponse{
		ContractID: contractID,
		Quantity:   req.Quantity,
		TotalCost:  totalCost,
	})
}

// HandleSell handles POST /api/v1/contracts/{contractID}/sell.
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.Sell(r.Context(), caller, chi.URLParam(r, "contractID"), req.Quantity)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// HandleCreate handles POST /api/v1/admin/contracts.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := s.CreateContract(r.Context(), caller, req.Title, req.Description, req.Price, req.ExpiresAt)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

// HandleResolve handles POST /api/v1/admin/contracts/{contractID}/resolve.
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payouts, err := s.Resolve(r.Context(), caller, chi.URLParam(r, "contractID"), req.Result)
	if err != nil {
		writeOpError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"result":  req.Result,
		"payouts": payouts,
	})
}

// HandleAdminList handles GET /api/v1/admin/contracts — every contract
// with its open position count.
func (s *Service) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.store.ListContracts(r.Context(), false)
	if err != nil {
		slog.Error("admin list contracts failed", "err", err)
		api.Internal(w)
		return
	}
	counts, err := s.store.CountContractPositions(r.Context())
	if err != nil {
		slog.Error("count positions failed", "err", err)
		api.Internal(w)
		return
	}

	views := make([]AdminContractView, 0, len(contracts))
	for _, c := range contracts {
		views = append(views, AdminContractView{Contract: c, PositionsCount: counts[c.ID]})
	}
	api.WriteJSON(w, http.StatusOK, views)
}

// writeOpError maps exchange operation errors to HTTP responses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.WriteError(w, "contract not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		api.WriteError(w, "admin access required", http.StatusForbidden)
	case errors.Is(err, ErrInvalidInput):
		api.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrContractNotActive):
		api.WriteError(w, "contract is no longer active", http.StatusConflict)
	case errors.Is(err, ErrContractExpired):
		api.WriteError(w, "contract has expired", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		api.WriteError(w, "insufficient funds", http.StatusConflict)
	case errors.Is(err, book.ErrInsufficientPosition):
		api.WriteError(w, "insufficient position for sale", http.StatusConflict)
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, book.ErrInvalidQuantity):
		api.WriteError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("contract operation failed", "err", err)
		api.Internal(w)
	}
}
