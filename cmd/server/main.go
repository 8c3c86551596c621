package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/predex/trading-core/internal/compliance"
	"github.com/predex/trading-core/internal/config"
	"github.com/predex/trading-core/internal/ledger"
	"github.com/predex/trading-core/internal/limits"
	"github.com/predex/trading-core/internal/metrics"
	"github.com/predex/trading-core/internal/quote"
	"github.com/predex/trading-core/internal/settle"
	"github.com/predex/trading-core/internal/store"
	"github.com/predex/trading-core/internal/trade"
)

const currency = "USD"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	isNotFound := func(err error) bool { return errors.Is(err, store.ErrNotFound) }
	if err := ledger.EnsureSystemAccounts(ctx, st, currency, isNotFound); err != nil {
		return err
	}

	ledgerSvc := ledger.NewService()
	issuer := quote.NewIssuer([]byte(cfg.QuoteSecret))
	limiter := limits.NewTradeLimiter(cfg.MinTradeCents, cfg.MaxTradeCents, cfg.DailyVolumeCents)
	settler := settle.NewEngine(st, ledgerSvc, currency)

	orchCfg := trade.DefaultConfig()
	orchCfg.FeeRate = cfg.FeeRate
	orchCfg.SlippageTolerance = cfg.SlippageTolerance
	orchCfg.Timeout = cfg.TradeTimeout
	orchCfg.IdempotencyTTL = cfg.IdempotencyTTL
	orchCfg.Currency = currency

	orch := trade.NewOrchestrator(st, ledgerSvc, issuer, limiter,
		compliance.AllowAllGate{}, compliance.AllowAllMonitor{}, orchCfg)
	svc := trade.NewService(st, orch, issuer, settler, currency)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.HTTPMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", svc.RegisterRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStore assembles the persistence stack: Postgres when configured,
// in-memory otherwise, with an optional Redis cache layered on the quote
// path.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var (
		st      store.Store
		cleanup = func() {}
	)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		st = pg
		cleanup = pool.Close
		slog.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		slog.Warn("DATABASE_URL not set; using in-memory store")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable; quote cache disabled", "error", err)
		} else {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			prev := cleanup
			cleanup = func() {
				_ = rdb.Close()
				prev()
			}
			slog.Info("redis quote cache enabled", "ttl", cfg.CacheTTL.String())
		}
	}

	return st, cleanup, nil
}
