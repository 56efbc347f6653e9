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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/engine"
	"github.com/tradewire/order-engine/internal/exchange"
	"github.com/tradewire/order-engine/internal/metrics"
	"github.com/tradewire/order-engine/internal/risk"
	"github.com/tradewire/order-engine/internal/store"
	"github.com/tradewire/order-engine/internal/webhook"
)

func main() {
	// Local development convenience; ignored when no .env file exists.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Exchange client ---
	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		slog.Error("BINANCE_API_KEY and BINANCE_API_SECRET are required")
		os.Exit(1)
	}
	client := exchange.NewClient(exchange.Config{
		APIKey:         apiKey,
		APISecret:      apiSecret,
		SpotBaseURL:    os.Getenv("BINANCE_SPOT_URL"),    // empty = production
		FuturesBaseURL: os.Getenv("BINANCE_FUTURES_URL"), // empty = production
	})

	// --- Order ledger ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory order ledger (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event hub ---
	hub := webhook.NewHub()
	go hub.Run()

	// --- Validation engine + webhook service ---
	eng := engine.New(client)
	svc := webhook.NewService(eng, client, st, hub, exposureLimiter())

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"order-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time order events.
		r.Get("/ws", hub.HandleWS)

		// Signal ingestion.
		r.Post("/webhook", svc.HandleSignal)

		// Order history.
		r.Get("/orders", svc.ListOrders)
		r.Get("/orders/{orderID}", svc.GetOrder)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("order-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down order-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("order-engine stopped")
}

// exposureLimiter builds the notional exposure limiter from the
// MAX_SYMBOL_EXPOSURE and MAX_BASE_EXPOSURE environment variables (quote
// currency amounts). Returns nil when neither is set.
func exposureLimiter() *risk.ExposureLimiter {
	perSymbol := envDecimal("MAX_SYMBOL_EXPOSURE")
	perBase := envDecimal("MAX_BASE_EXPOSURE")
	if !perSymbol.IsPositive() && !perBase.IsPositive() {
		return nil
	}
	slog.Info("exposure limits enabled",
		"max_symbol_exposure", perSymbol.String(), "max_base_exposure", perBase.String())
	return risk.NewExposureLimiter(perSymbol, perBase)
}

func envDecimal(key string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Error("invalid decimal in environment", "key", key, "value", raw)
		os.Exit(1)
	}
	return v
}
