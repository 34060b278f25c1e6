package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/marketx/exchange/internal/auth"
	"github.com/marketx/exchange/internal/exchange"
	"github.com/marketx/exchange/internal/funds"
	"github.com/marketx/exchange/internal/metrics"
	"github.com/marketx/exchange/internal/notify"
	"github.com/marketx/exchange/internal/report"
	"github.com/marketx/exchange/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Sessions ---
	sessionTTL := 24 * time.Hour
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		if parsed, err := time.ParseDuration(ttl); err == nil {
			sessionTTL = parsed
		}
	}

	var sessions auth.Sessions
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		sessions = auth.NewRedisSessions(rdb, sessionTTL)
		slog.Info("Redis session store enabled")
	} else {
		slog.Warn("REDIS_URL not set, sessions will not survive restarts")
		sessions = auth.NewMemorySessions(sessionTTL)
	}

	// --- Event hub ---
	hub := notify.NewHub()
	go hub.Run()

	// --- Services ---
	authSvc := auth.NewService(st, sessions)
	exchangeSvc := exchange.NewService(st, hub)
	if os.Getenv("SELL_AFTER_EXPIRY") == "false" {
		exchangeSvc.SellAfterExpiry = false
	}
	fundsSvc := funds.NewService(st, hub)
	reportSvc := report.NewService(st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exchange"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for exchange events.
		r.Get("/ws", hub.HandleWS)

		// Public auth endpoints.
		r.Post("/auth/register", authSvc.HandleRegister)
		r.Post("/auth/login", authSvc.HandleLogin)

		// Authenticated user endpoints.
		r.Group(func(r chi.Router) {
			r.Use(authSvc.Middleware)

			r.Post("/auth/logout", authSvc.HandleLogout)

			r.Get("/contracts", exchangeSvc.HandleList)
			r.Get("/contracts/{contractID}", exchangeSvc.HandleGet)
			r.Post("/contracts/{contractID}/buy", exchangeSvc.HandleBuy)
			r.Post("/contracts/{contractID}/sell", exchangeSvc.HandleSell)

			r.Get("/wallet", fundsSvc.HandleWallet)
			r.Post("/wallet/deposit", fundsSvc.HandleRequestDeposit)
			r.Post("/wallet/withdraw", fundsSvc.HandleRequestWithdraw)

			r.Get("/dashboard", reportSvc.HandleUserDashboard)

			// Admin endpoints.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/admin/dashboard", reportSvc.HandleAdminDashboard)

				r.Get("/admin/contracts", exchangeSvc.HandleAdminList)
				r.Post("/admin/contracts", exchangeSvc.HandleCreate)
				r.Post("/admin/contracts/{contractID}/resolve", exchangeSvc.HandleResolve)

				r.Get("/admin/deposits", fundsSvc.HandleAdminListDeposits)
				r.Post("/admin/deposits/{requestID}/approve", fundsSvc.HandleApproveDeposit)
				r.Post("/admin/deposits/{requestID}/reject", fundsSvc.HandleRejectDeposit)

				r.Get("/admin/withdraws", fundsSvc.HandleAdminListWithdraws)
				r.Post("/admin/withdraws/{requestID}/approve", fundsSvc.HandleApproveWithdraw)
				r.Post("/admin/withdraws/{requestID}/reject", fundsSvc.HandleRejectWithdraw)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exchange listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("shutting down exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange stopped")
}
