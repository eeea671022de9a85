package wiki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/redisstore"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/logger"
)

type fakeWiki struct {
	status int
	calls  atomic.Int32
	paths  chan string
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	select {
	case f.paths <- r.URL.EscapedPath() + "|" + r.Header.Get("Accept-Language"):
	default:
	}
	if f.status != 0 {
		http.Error(w, "nope", f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"title":"x","extract":"  Warsaw is the capital of Poland.  "}`))
}

func newTestFetcher(t *testing.T, api http.Handler, withRedis bool, cfg Config) (*Fetcher, *miniredis.Miniredis) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var tier *shared.Tier
	var mr *miniredis.Miniredis
	if withRedis {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		rc, err := redisstore.New(context.Background(), mr.Addr())
		if err != nil {
			t.Fatalf("redisstore: %v", err)
		}
		t.Cleanup(func() { _ = rc.Close() })
		tier = shared.New(rc, time.Second, logger.Discard())
	} else {
		tier = shared.New(nil, time.Second, logger.Discard())
	}

	cfg.BaseURL = srv.URL
	return NewFetcher(cfg, httpclient.NewJSON(srv.Client(), "wiki", time.Second), tier, logger.Discard()), mr
}

func TestSummary_FetchesTrimsAndCaches(t *testing.T) {
	api := &fakeWiki{paths: make(chan string, 4)}
	f, mr := newTestFetcher(t, api, true, Config{TTL: time.Hour})

	got := f.Summary(context.Background(), "Zielona Góra")
	if got != "Warsaw is the capital of Poland." {
		t.Fatalf("summary=%q", got)
	}
	if p := <-api.paths; p != "/page/summary/Zielona%20G%C3%B3ra|en" {
		t.Fatalf("request=%q", p)
	}
	if !mr.Exists(keys.Summary("Zielona Góra")) {
		t.Fatalf("summary not cached")
	}
	if ttl := mr.TTL(keys.Summary("Zielona Góra")); ttl != time.Hour {
		t.Fatalf("ttl=%v", ttl)
	}

	_ = f.Summary(context.Background(), "Zielona Góra")
	if n := api.calls.Load(); n != 1 {
		t.Fatalf("expected cached second call, upstream calls=%d", n)
	}
}

func TestSummary_TitleCasesConnectors(t *testing.T) {
	api := &fakeWiki{paths: make(chan string, 1)}
	f, _ := newTestFetcher(t, api, false, Config{})

	_ = f.Summary(context.Background(), "BOULOGNE SUR MER")
	if p := <-api.paths; p != "/page/summary/Boulogne%20sur%20Mer|en" {
		t.Fatalf("request=%q", p)
	}
}

func TestSummary_NotFoundIsEmptyAndUncached(t *testing.T) {
	api := &fakeWiki{status: http.StatusNotFound}
	f, mr := newTestFetcher(t, api, true, Config{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 4; i++ {
		if got := f.Summary(context.Background(), "Nowhere"); got != "" {
			t.Fatalf("summary=%q", got)
		}
	}
	if mr.Exists(keys.Summary("Nowhere")) {
		t.Fatalf("failure must not be cached")
	}
	if n := api.calls.Load(); n != 4 {
		t.Fatalf("not-found must not trip the breaker, calls=%d", n)
	}
}

func TestSummary_BreakerOpensOnServerErrors(t *testing.T) {
	api := &fakeWiki{status: http.StatusBadGateway}
	f, _ := newTestFetcher(t, api, false, Config{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 5; i++ {
		if got := f.Summary(context.Background(), "Warsaw"); got != "" {
			t.Fatalf("summary=%q", got)
		}
	}
	if n := api.calls.Load(); n != 2 {
		t.Fatalf("breaker should stop calls after 2 failures, calls=%d", n)
	}
}

func TestSummary_EmptyNameSkipsUpstream(t *testing.T) {
	api := &fakeWiki{}
	f, _ := newTestFetcher(t, api, false, Config{})
	if got := f.Summary(context.Background(), "  "); got != "" {
		t.Fatalf("summary=%q", got)
	}
	if api.calls.Load() != 0 {
		t.Fatalf("unexpected upstream call")
	}
}
