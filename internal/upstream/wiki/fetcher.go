// Package wiki fetches short encyclopedia summaries for cities.
package wiki

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/cityname"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

const breakerName = "wiki"

type Config struct {
	BaseURL         string
	TTL             time.Duration
	RatePerSec      float64
	BreakerFailures int
	BreakerCooldown time.Duration
}

type summaryResponse struct {
	Extract string `json:"extract"`
}

type Fetcher struct {
	cfg     Config
	http    *httpclient.JSON
	cache   *shared.Tier
	logger  *slog.Logger
	sf      singleflight.Group
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[string]
}

func NewFetcher(cfg Config, hc *httpclient.JSON, cache *shared.Tier, logger *slog.Logger) *Fetcher {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}

	f := &Fetcher{
		cfg:     cfg,
		http:    hc,
		cache:   cache,
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
	failures := uint32(cfg.BreakerFailures)
	f.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// a missing article says nothing about the service's health
		IsSuccessful: func(err error) bool {
			var se *httpclient.StatusError
			if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetBreakerState(name, stateValue(to))
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	observability.SetBreakerState(breakerName, 0)
	return f
}

// Summary returns the trimmed summary for a canonical city name, or "" on
// any failure.
func (f *Fetcher) Summary(ctx context.Context, name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	key := keys.Summary(name)
	v, _, _ := f.sf.Do(key, func() (any, error) {
		return f.summary(context.WithoutCancel(ctx), key, name), nil
	})
	return v.(string)
}

func (f *Fetcher) summary(ctx context.Context, key, name string) string {
	var cached string
	if f.cache.GetJSON(ctx, key, &cached) {
		return cached
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.logger.WarnContext(ctx, "wiki rate limiter", "city", name, "err", err)
		return ""
	}
	desc, err := f.cb.Execute(func() (string, error) {
		return f.fetch(ctx, name)
	})
	if err != nil {
		f.logger.WarnContext(ctx, "wiki summary fetch failed", "city", name, "err", err)
		return ""
	}
	f.cache.SetJSON(ctx, key, desc, f.cfg.TTL)
	return desc
}

func (f *Fetcher) fetch(ctx context.Context, name string) (string, error) {
	u := strings.TrimRight(f.cfg.BaseURL, "/") + "/page/summary/" + cityname.WikiTitle(name)
	h := http.Header{}
	h.Set("Accept-Language", "en")
	var resp summaryResponse
	if err := f.http.Get(ctx, u, h, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Extract), nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
