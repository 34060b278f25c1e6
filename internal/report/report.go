// Package report serves the read-only dashboard aggregates: a user's
// portfolio summary and the platform-wide admin overview.
package report

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/api"
	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/store"
)

// Service computes dashboard views from the store.
type Service struct {
	store store.Store
}

// NewService creates a report service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// PositionLine is one row of the user dashboard's recent positions.
type PositionLine struct {
	ContractID   string          `json:"contract_id"`
	Title        string          `json:"title"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Side         string          `json:"side"`
	Status       string          `json:"status"`
	Result       string          `json:"result,omitempty"`
}

// UserDashboard is the response for GET /api/v1/dashboard.
type UserDashboard struct {
	Balance         decimal.Decimal `json:"balance"`
	PositionsCount  int             `json:"positions_count"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	RecentPositions []PositionLine  `json:"recent_positions"`
}

// HandleUserDashboard handles GET /api/v1/dashboard.
func (s *Service) HandleUserDashboard(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	u, err := s.store.GetUser(r.Context(), caller.UserID)
	if err != nil {
		api.WriteError(w, "user not found", http.StatusNotFound)
		return
	}
	positions, err := s.store.ListUserPositions(r.Context(), caller.UserID)
	if err != nil {
		slog.Error("list positions failed", "err", err)
		api.Internal(w)
		return
	}

	dash := UserDashboard{
		Balance:         u.Balance,
		PositionsCount:  len(positions),
		RecentPositions: []PositionLine{},
	}
	for i, p := range positions {
		invested := p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
		dash.TotalInvested = dash.TotalInvested.Add(invested)

		if i >= 5 {
			continue
		}
		line := PositionLine{
			ContractID:   p.ContractID,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			Side:         p.Side,
		}
		if c, err := s.store.GetContract(r.Context(), p.ContractID); err == nil {
			line.Title = c.Title
			line.Status = c.Status
			line.Result = c.Result
		}
		dash.RecentPositions = append(dash.RecentPositions, line)
	}

	api.WriteJSON(w, http.StatusOK, dash)
}

// HandleAdminDashboard handles GET /api/v1/admin/dashboard.
func (s *Service) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.PlatformStats(r.Context())
	if err != nil {
		slog.Error("platform stats failed", "err", err)
		api.Internal(w)
		return
	}
	api.WriteJSON(w, http.StatusOK, stats)
}
