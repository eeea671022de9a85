package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/polluted-cities/internal/core/config"
	"github.com/mohammed-shakir/polluted-cities/internal/core/health"
	middleware "github.com/mohammed-shakir/polluted-cities/internal/core/middleware"
	"github.com/mohammed-shakir/polluted-cities/internal/core/router"
)

type Deps struct {
	Cities router.Citieser
	Cache  health.Pinger
	// Consumer is nil when invalidation is disabled.
	Consumer health.ConsumerReporter
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewHandler builds the routed handler without listening.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Cache, d.Consumer))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin))
		r.Get("/cities", router.HandleCities(logger, cfg, d.Cities))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		router.WriteStatus(w, http.StatusNotFound, "route not found")
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
