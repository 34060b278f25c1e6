// Package auth supplies caller identity to the rest of the exchange:
// registration, credential login, bearer-token sessions, and the
// middleware that resolves a request to an Identity before any ledger
// operation runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/marketx/exchange/internal/api"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong
	// password; callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrEmailTaken is returned when registering a duplicate email.
	ErrEmailTaken = errors.New("auth: email already registered")
)

// Service handles registration, login, and session resolution.
type Service struct {
	store    store.Store
	sessions Sessions
}

// NewService creates the auth service.
func NewService(st store.Store, sessions Sessions) *Service {
	return &Service{store: st, sessions: sessions}
}

// Register creates a USER-role account with a zero balance.
func (s *Service) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		Balance:      decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, Identity{UserID: u.ID, Role: u.Role})
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Logout revokes a session token. Revoking an unknown token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// --- HTTP handlers ---

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// HandleRegister handles POST /api/v1/auth/register.
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Name == "" || len(req.Password) < 6 {
		api.WriteError(w, "email, name, and a password of at least 6 characters are required", http.StatusBadRequest)
		return
	}

	u, err := s.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			api.WriteError(w, "email already registered", http.StatusConflict)
			return
		}
		slog.Error("register failed", "err", err)
		api.Internal(w)
		return
	}

	slog.Info("user registered", "user", u.ID, "email", u.Email)
	api.WriteJSON(w, http.StatusCreated, u)
}

// HandleLogin handles POST /api/v1/auth/login.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, u, err := s.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			api.WriteError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("login failed", "err", err)
		api.Internal(w)
		return
	}

	api.WriteJSON(w, http.StatusOK, loginResponse{Token: token, User: u})
}

// HandleLogout handles POST /api/v1/auth/logout.
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		if err := s.Logout(r.Context(), token); err != nil {
			slog.Error("logout failed", "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Middleware ---

type contextKey struct{}

// FromContext returns the identity resolved by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity, as Middleware
// would have set it.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Middleware resolves the bearer token to an Identity and rejects
// requests without a valid session.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			api.WriteError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		id, err := s.sessions.Get(r.Context(), token)
		if errors.Is(err, ErrSessionNotFound) {
			api.WriteError(w, "session expired or invalid", http.StatusUnauthorized)
			return
		}
		if err != nil {
			slog.Error("session lookup failed", "err", err)
			api.Internal(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin gates admin-only routes. Must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			api.WriteError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			api.WriteError(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
