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

	"github.com/syndollar/dsc-engine/internal/asset"
	"github.com/syndollar/dsc-engine/internal/engine"
	"github.com/syndollar/dsc-engine/internal/metrics"
	"github.com/syndollar/dsc-engine/internal/oracle"
	"github.com/syndollar/dsc-engine/internal/position"
	"github.com/syndollar/dsc-engine/internal/store"
	"github.com/syndollar/dsc-engine/internal/token"
)

const defaultAssets = "WETH:eth-usd,WBTC:btc-usd"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Collateral registry ---
	assetSpec := os.Getenv("COLLATERAL_ASSETS")
	if assetSpec == "" {
		assetSpec = defaultAssets
	}
	assets, err := asset.ParseList(assetSpec)
	if err != nil {
		slog.Error("invalid COLLATERAL_ASSETS", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
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
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	maxAge := 3 * time.Hour
	if v := os.Getenv("ORACLE_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid ORACLE_MAX_AGE", "err", err)
			os.Exit(1)
		}
		maxAge = d
	}

	var po oracle.PriceOracle
	var manual *oracle.Manual
	if oracleURL := os.Getenv("ORACLE_URL"); oracleURL != "" {
		po = oracle.NewHTTPOracle(&http.Client{Timeout: 10 * time.Second}, oracleURL)
		slog.Info("using HTTP price oracle", "endpoint", oracleURL)
	} else {
		slog.Warn("ORACLE_URL not set, using manual oracle (set prices via the admin endpoint)")
		manual = oracle.NewManual()
		po = manual
	}

	// --- Token ledgers ---
	dsc := token.NewBank("DSC")
	collateral := make(map[string]token.CollateralToken, len(assets))
	for _, a := range assets {
		collateral[a.ID] = token.NewBank(a.ID)
	}

	custody := os.Getenv("CUSTODY_ACCOUNT")
	if custody == "" {
		custody = "engine-custody"
	}

	eng, err := engine.New(st, po, dsc, collateral, engine.Config{
		Assets:         assets,
		CustodyAccount: custody,
		MaxPriceAge:    maxAge,
	})
	if err != nil {
		slog.Error("engine construction failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := position.NewWSHub()
	go wsHub.Run()

	// --- Position service ---
	posSvc := position.NewService(eng, manual, wsHub)

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
		w.Write([]byte(`{"status":"ok","service":"dsc-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time position updates.
		r.Get("/ws", wsHub.HandleWS)

		// Collateral operations.
		r.Post("/collateral/deposit", posSvc.Deposit)
		r.Post("/collateral/deposit-and-mint", posSvc.DepositAndMint)
		r.Post("/collateral/redeem", posSvc.Redeem)
		r.Post("/collateral/redeem-for-dsc", posSvc.RedeemForDsc)

		// Synthetic dollar operations.
		r.Post("/dsc/mint", posSvc.Mint)
		r.Post("/dsc/burn", posSvc.Burn)

		// Liquidation.
		r.Post("/liquidate", posSvc.Liquidate)

		// Queries.
		r.Get("/accounts/{account}", posSvc.GetAccount)
		r.Get("/accounts/{account}/health", posSvc.GetHealth)
		r.Get("/accounts/{account}/ledger", posSvc.GetLedger)
		r.Get("/assets", posSvc.ListAssets)
		r.Get("/constants", posSvc.GetConstants)

		// Manual oracle admin (404 when an external oracle is configured).
		r.Post("/oracle/price", posSvc.SetPrice)
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
		slog.Info("dsc-engine listening", "port", port, "assets", assetSpec)
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

	slog.Info("shutting down dsc-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("dsc-engine stopped")
}
