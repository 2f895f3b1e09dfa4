package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/drone-tax/internal/config"
	"github.com/noah-isme/drone-tax/internal/health"
	"github.com/noah-isme/drone-tax/internal/lock"
	"github.com/noah-isme/drone-tax/internal/store/postgres"
)

type opsChecker struct {
	store *postgres.Store
	redis *redis.Client
}

func (c opsChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	return c.store.Ping(ctx, timeout)
}

func (c opsChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return health.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newLocker(client *redis.Client) lock.Locker {
	return lock.Locker{R: client, RetryBackoff: 100 * time.Millisecond}
}

func opsRouter(checker health.Checker) http.Handler {
	h := health.Handler{Checker: checker}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.Live)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "taxctl.ops")
}

// startOps serves health and metrics while a long command runs. The returned
// function drains the listener.
func startOps(cfg *config.Config, logger zerolog.Logger, checker health.Checker) func() {
	if cfg.OpsAddr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           opsRouter(checker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.OpsAddr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server")
		}
	}()
	return func() {
		health.SetReady(false)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown ops server")
		}
	}
}
