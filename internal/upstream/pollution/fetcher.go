// Package pollution pages through the pollution API's per-country listing.
package pollution

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
)

type Config struct {
	BaseURL  string
	Path     string
	PageSize int
	// ListTTL applies to any list holding at least one record.
	ListTTL time.Duration
	// EmptyTTL applies when a failure left the list empty.
	EmptyTTL time.Duration
	MaxPages int
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type listResponse struct {
	Results []model.CityRecord `json:"results"`
	Meta    struct {
		TotalPages int `json:"totalPages"`
	} `json:"meta"`
}

type Fetcher struct {
	cfg    Config
	http   *httpclient.JSON
	tokens TokenSource
	cache  *shared.Tier
	logger *slog.Logger
	sf     singleflight.Group
}

func NewFetcher(cfg Config, hc *httpclient.JSON, tokens TokenSource, cache *shared.Tier, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 60 * 24 * time.Hour
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = 5 * time.Minute
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, http: hc, tokens: tokens, cache: cache, logger: logger}
}

// Fetch returns the country's polluted cities in upstream order. Page
// failures end pagination early with what was gathered; only failing to
// authenticate is an error.
func (f *Fetcher) Fetch(ctx context.Context, country string) ([]model.CityRecord, error) {
	v, err, _ := f.sf.Do(country, func() (any, error) {
		return f.fetch(context.WithoutCancel(ctx), country)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.CityRecord), nil
}

func (f *Fetcher) fetch(ctx context.Context, country string) ([]model.CityRecord, error) {
	key := keys.PollutionList(country)
	var cached []model.CityRecord
	if f.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	tok, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.CityRecord, 0, f.cfg.PageSize)
	failed := false
	totalPages := 1
	for page := 1; page <= totalPages && page <= f.cfg.MaxPages; page++ {
		resp, err := f.page(ctx, tok, country, page)
		if err != nil {
			f.logger.WarnContext(ctx, "pollution page fetch failed; keeping partial result",
				"country", country, "page", page, "collected", len(out),
				"err", apperr.Unavailable("pollution page", err))
			failed = true
			break
		}
		out = append(out, resp.Results...)
		if resp.Meta.TotalPages > 0 {
			totalPages = resp.Meta.TotalPages
		}
	}
	if !failed && totalPages > f.cfg.MaxPages {
		f.logger.WarnContext(ctx, "pollution page cap reached; caching truncated result",
			"country", country, "max_pages", f.cfg.MaxPages, "total_pages", totalPages,
			"collected", len(out))
	}

	ttl := f.cfg.ListTTL
	if failed && len(out) == 0 {
		ttl = f.cfg.EmptyTTL
	}
	f.cache.SetJSON(ctx, key, out, ttl)
	return out, nil
}

func (f *Fetcher) page(ctx context.Context, tok, country string, page int) (listResponse, error) {
	q := url.Values{}
	q.Set("country", country)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(f.cfg.PageSize))
	u := strings.TrimRight(f.cfg.BaseURL, "/") + f.cfg.Path + "?" + q.Encode()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)

	var resp listResponse
	if err := f.http.Get(ctx, u, h, &resp); err != nil {
		return listResponse{}, err
	}
	return resp, nil
}
