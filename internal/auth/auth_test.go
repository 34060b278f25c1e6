package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

func newTestService(t *testing.T) (*auth.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return auth.NewService(ms, auth.NewMemorySessions(time.Hour)), ms
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)

	u, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != model.RoleUser {
		t.Errorf("expected USER role, got %s", u.Role)
	}
	if !u.Balance.IsZero() {
		t.Errorf("expected zero starting balance, got %s", u.Balance)
	}
	if u.PasswordHash == "secret123" {
		t.Error("password stored in plaintext")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Register(context.Background(), "ana@test.com", "Other", "secret456")
	if !errors.Is(err, auth.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, u, err := svc.Login(context.Background(), "ana@test.com", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected a session token")
	}
	if u.Email != "ana@test.com" {
		t.Errorf("unexpected user: %s", u.Email)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err := svc.Login(context.Background(), "ana@test.com", "wrong")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "ghost@test.com", "secret123")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "ana@test.com", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doAuthenticated(t, svc, token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func doAuthenticated(t *testing.T, svc *auth.Service, token string) *httptest.ResponseRecorder {
	t.Helper()
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "ana@test.com", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec := doAuthenticated(t, svc, token); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rec.Code)
	}
	if rec := doAuthenticated(t, svc, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doAuthenticated(t, svc, "bogus"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bogus token, got %d", rec.Code)
	}
}

func TestMiddleware_InjectsIdentity(t *testing.T) {
	svc, _ := newTestService(t)

	u, err := svc.Register(context.Background(), "ana@test.com", "Ana", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "ana@test.com", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got auth.Identity
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			t.Error("identity missing from context")
		}
		got = id
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.UserID != u.ID || got.Role != model.RoleUser {
		t.Errorf("unexpected identity: %+v", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.RequireAdmin(inner)

	do := func(id *auth.Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if id != nil {
			req = req.WithContext(auth.WithIdentity(req.Context(), *id))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(&auth.Identity{UserID: "a", Role: model.RoleAdmin}); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
	if rec := do(&auth.Identity{UserID: "u", Role: model.RoleUser}); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for user, got %d", rec.Code)
	}
	if rec := do(nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestHandleRegister_ShortPassword(t *testing.T) {
	svc, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"ana@test.com","name":"Ana","password":"abc"}`))
	rec := httptest.NewRecorder()
	svc.HandleRegister(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
