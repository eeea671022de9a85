package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/polluted-cities/internal/aggregate"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/local"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/redisstore"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/core/config"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
	"github.com/mohammed-shakir/polluted-cities/internal/core/server"
	"github.com/mohammed-shakir/polluted-cities/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/polluted-cities/internal/logger"
	"github.com/mohammed-shakir/polluted-cities/internal/metrics"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/auth"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/pollution"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/reference"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/wiki"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "polluted-cities",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("configuration rejected", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{}
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Service: "polluted-cities",
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
			Upstreams: map[string]string{
				"pollution": cfg.Pollution.BaseURL,
				"reference": cfg.Reference.URL,
				"wiki":      cfg.Wiki.BaseURL,
			},
		})
		observability.Init(p.Registerer())
		if cfg.Metrics.Addr == "" || cfg.Metrics.Addr == cfg.Addr {
			deps.Metrics = p.Handler()
		} else {
			serveMetrics(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, p.Handler())
		}
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting polluted-cities",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"pollution_api", cfg.Pollution.BaseURL)

	rc, err := redisstore.New(ctx, cfg.RedisAddr)
	if rc == nil {
		appLog.Error("redis client setup failed", "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()
	if err != nil {
		appLog.Warn("redis unreachable at startup; serving without the shared tier until it recovers", "err", err)
	}
	tier := shared.New(rc, cfg.CacheOpTimeout, appLog)

	outbound := httpclient.NewOutbound()
	tokens := auth.NewManager(auth.Config{
		BaseURL:     cfg.Pollution.BaseURL,
		LoginPath:   cfg.Pollution.LoginPath,
		RefreshPath: cfg.Pollution.RefreshPath,
		Username:    cfg.Pollution.Username,
		Password:    cfg.Pollution.Password,
		TokenTTL:    cfg.Pollution.TokenTTL,
	}, httpclient.NewJSON(outbound, "pollution_auth", 0),
		tier, auth.NewMemoryStore(cfg.Pollution.RefreshToken), appLog)

	pollutionFetcher := pollution.NewFetcher(pollution.Config{
		BaseURL:  cfg.Pollution.BaseURL,
		Path:     cfg.Pollution.Path,
		PageSize: cfg.Pollution.PageSize,
		ListTTL:  cfg.Pollution.ListTTL,
		EmptyTTL: cfg.Pollution.EmptyTTL,
	}, httpclient.NewJSON(outbound, "pollution", cfg.Pollution.Timeout), tokens, tier, appLog)

	refLoader := reference.NewLoader(reference.Config{
		URL:     cfg.Reference.URL,
		TTL:     cfg.Reference.TTL,
		MemoTTL: cfg.Reference.MemoTTL,
	}, httpclient.NewJSON(outbound, "reference", cfg.Reference.Timeout), tier, appLog)

	wikiFetcher := wiki.NewFetcher(wiki.Config{
		BaseURL:         cfg.Wiki.BaseURL,
		TTL:             cfg.Wiki.TTL,
		RatePerSec:      cfg.Wiki.RatePerSec,
		BreakerFailures: cfg.Wiki.BreakerFailures,
		BreakerCooldown: cfg.Wiki.BreakerCooldown,
	}, httpclient.NewJSON(outbound, "wiki", cfg.Wiki.Timeout), tier, appLog)

	pages := local.New[model.Page](local.Config{
		TTL:      cfg.LocalCacheTTL,
		Capacity: cfg.LocalCacheSize,
	}, local.WithClone(model.Page.Clone))

	svc := aggregate.New(aggregate.Deps{
		Pollution: pollutionFetcher,
		Reference: refLoader,
		Describer: wikiFetcher,
		Local:     pages,
		Shared:    tier,
		Logger:    appLog,
	}, aggregate.Config{
		SharedTTL:         cfg.PageSharedTTL,
		PromoteSharedHits: cfg.PromoteSharedHits,
		Concurrency:       cfg.Wiki.Concurrency,
	})

	deps.Cities = svc
	deps.Cache = tier

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			appLog, tier, kafkaconsumer.Options{Local: svc, Reference: refLoader})
		deps.Consumer = consumer
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func serveMetrics(ctx context.Context, addr, path string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(path, h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("metrics: listening on %s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
