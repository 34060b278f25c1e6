package report_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/report"
	"github.com/marketx/exchange/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance decimal.Decimal) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Email:     id + "@test.com",
		Name:      id,
		Role:      model.RoleUser,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedPosition(t *testing.T, ms *store.MemoryStore, userID, contractID string, qty int64, avg decimal.Decimal) {
	t.Helper()
	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return tx.CreatePosition(context.Background(), &model.Position{
			ID:           userID + "-" + contractID,
			UserID:       userID,
			ContractID:   contractID,
			Quantity:     qty,
			AveragePrice: avg,
			Side:         model.SideBuy,
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
}

func getDashboard(t *testing.T, svc *report.Service, userID string) report.UserDashboard {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID, Role: model.RoleUser}))
	rec := httptest.NewRecorder()
	svc.HandleUserDashboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var dash report.UserDashboard
	if err := json.Unmarshal(rec.Body.Bytes(), &dash); err != nil {
		t.Fatalf("failed to decode dashboard: %v", err)
	}
	return dash
}

func TestUserDashboard(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := report.NewService(ms)
	seedUser(t, ms, "u1", d(150))

	err := ms.CreateContract(context.Background(), &model.Contract{
		ID:        "c1",
		Title:     "Dollar closes above R$5.50?",
		Price:     d(10),
		ExpiresAt: time.Now().Add(time.Hour),
		Status:    model.ContractActive,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed contract: %v", err)
	}
	seedPosition(t, ms, "u1", "c1", 5, d(10))
	seedPosition(t, ms, "u1", "c2", 2, d(3.50))

	dash := getDashboard(t, svc, "u1")
	if !dash.Balance.Equal(d(150)) {
		t.Errorf("expected balance 150, got %s", dash.Balance)
	}
	if dash.PositionsCount != 2 {
		t.Errorf("expected 2 positions, got %d", dash.PositionsCount)
	}
	// 5*10.00 + 2*3.50 = 57.00
	if !dash.TotalInvested.Equal(d(57)) {
		t.Errorf("expected total invested 57, got %s", dash.TotalInvested)
	}

	var line *report.PositionLine
	for i := range dash.RecentPositions {
		if dash.RecentPositions[i].ContractID == "c1" {
			line = &dash.RecentPositions[i]
		}
	}
	if line == nil {
		t.Fatal("c1 missing from recent positions")
	}
	if line.Title != "Dollar closes above R$5.50?" || line.Status != model.ContractActive {
		t.Errorf("contract details not joined in: %+v", line)
	}
}

func TestUserDashboard_RecentPositionsCapped(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := report.NewService(ms)
	seedUser(t, ms, "u1", d(0))

	for _, cid := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"} {
		seedPosition(t, ms, "u1", cid, 1, d(1))
	}

	dash := getDashboard(t, svc, "u1")
	if dash.PositionsCount != 7 {
		t.Errorf("expected 7 positions, got %d", dash.PositionsCount)
	}
	if len(dash.RecentPositions) != 5 {
		t.Errorf("expected 5 recent positions, got %d", len(dash.RecentPositions))
	}
	// The cap limits the listing, not the invested total.
	if !dash.TotalInvested.Equal(d(7)) {
		t.Errorf("expected total invested 7, got %s", dash.TotalInvested)
	}
}

func TestUserDashboard_EmptyPortfolio(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := report.NewService(ms)
	seedUser(t, ms, "u1", d(25))

	dash := getDashboard(t, svc, "u1")
	if dash.PositionsCount != 0 || len(dash.RecentPositions) != 0 {
		t.Errorf("expected empty portfolio, got %+v", dash)
	}
	if !dash.TotalInvested.IsZero() {
		t.Errorf("expected zero invested, got %s", dash.TotalInvested)
	}
}

func TestAdminDashboard(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := report.NewService(ms)
	seedUser(t, ms, "u1", d(100))
	seedUser(t, ms, "u2", d(50.50))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dashboard", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "admin", Role: model.RoleAdmin}))
	rec := httptest.NewRecorder()
	svc.HandleAdminDashboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats model.PlatformStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalUsers != 2 {
		t.Errorf("expected 2 users, got %d", stats.TotalUsers)
	}
	if !stats.PlatformBalance.Equal(d(150.50)) {
		t.Errorf("expected platform balance 150.50, got %s", stats.PlatformBalance)
	}
}
