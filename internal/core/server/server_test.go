package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/aggregate"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/local"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/redisstore"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/core/config"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
	"github.com/mohammed-shakir/polluted-cities/internal/logger"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/auth"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/pollution"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/reference"
	"github.com/mohammed-shakir/polluted-cities/internal/upstream/wiki"
)

type upstreams struct {
	logins    atomic.Int32
	pollution atomic.Int32
	wiki      atomic.Int32
}

func (u *upstreams) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		u.logins.Add(1)
		_, _ = w.Write([]byte(`{"token":"tok","refreshToken":"r1"}`))
	})
	mux.HandleFunc("GET /pollution", func(w http.ResponseWriter, r *http.Request) {
		u.pollution.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"results":[
			{"name":"warsaw","pollution":81.2},
			{"name":"Atlantis","pollution":99},
			{"name":"KRAKÓW.","pollution":77}
		],"meta":{"totalPages":1}}`))
	})
	mux.HandleFunc("GET /countries", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"iso2":"PL","country":"Poland","cities":["Warsaw","Kraków"]}]}`))
	})
	mux.HandleFunc("GET /wiki/page/summary/{title}", func(w http.ResponseWriter, r *http.Request) {
		u.wiki.Add(1)
		title := r.PathValue("title")
		if title == "Kraków" {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"extract":"` + title + ` is the capital and largest city of Poland."}`))
	})
	return mux
}

type stack struct {
	handler http.Handler
	cities  *aggregate.Service
	up      *upstreams
}

func newStack(t *testing.T) stack {
	t.Helper()
	up := &upstreams{}
	api := httptest.NewServer(up.handler())
	t.Cleanup(api.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	log := logger.Discard()
	tier := shared.New(rc, time.Second, log)
	client := api.Client()

	tokens := auth.NewManager(auth.Config{
		BaseURL: api.URL, LoginPath: "/auth/login", RefreshPath: "/auth/refresh",
		Username: "u", Password: "p", TokenTTL: time.Minute,
	}, httpclient.NewJSON(client, "pollution-auth", time.Second), tier, nil, log)
	pf := pollution.NewFetcher(pollution.Config{
		BaseURL: api.URL, Path: "/pollution", PageSize: 10, ListTTL: time.Hour,
	}, httpclient.NewJSON(client, "pollution", time.Second), tokens, tier, log)
	rl := reference.NewLoader(reference.Config{URL: api.URL + "/countries", TTL: time.Hour},
		httpclient.NewJSON(client, "reference", time.Second), tier, log)
	wf := wiki.NewFetcher(wiki.Config{BaseURL: api.URL + "/wiki", TTL: time.Hour},
		httpclient.NewJSON(client, "wiki", time.Second), tier, log)

	svc := aggregate.New(aggregate.Deps{
		Pollution: pf,
		Reference: rl,
		Describer: wf,
		Local:     local.New[model.Page](local.Config{TTL: 24 * time.Hour, Capacity: 100}, local.WithClone(model.Page.Clone)),
		Shared:    tier,
		Logger:    log,
	}, aggregate.Config{SharedTTL: time.Minute, PromoteSharedHits: true, Concurrency: 2})

	h := NewHandler(config.Config{AuthFailureStatus: 401}, log, Deps{Cities: svc, Cache: tier})
	return stack{handler: h, cities: svc, up: up}
}

type envelope struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Data    model.Page   `json:"data"`
	Source  model.Source `json:"source"`
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	var env envelope
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, env
}

func TestCities_EndToEnd(t *testing.T) {
	s := newStack(t)

	rr, env := get(t, s.handler, "/cities?country=PL")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if env.Source != model.SourceFresh || env.Data.Total != 2 || len(env.Data.Cities) != 2 {
		t.Fatalf("first=%+v", env)
	}
	warsaw, krakow := env.Data.Cities[0], env.Data.Cities[1]
	if warsaw.Name != "Warsaw" || warsaw.Country != "Poland" || !strings.HasPrefix(warsaw.Description, "Warsaw is the capital") {
		t.Fatalf("warsaw=%+v", warsaw)
	}
	if krakow.Name != "Kraków" || krakow.Description != "Kraków is a city in PL." {
		t.Fatalf("krakow=%+v", krakow)
	}
	for _, c := range env.Data.Cities {
		if len([]rune(c.Description)) > 250 {
			t.Fatalf("description too long: %q", c.Description)
		}
	}

	_, env = get(t, s.handler, "/cities?country=PL")
	if env.Source != model.SourceMemory {
		t.Fatalf("second source=%q", env.Source)
	}

	s.cities.ClearLocal()
	_, env = get(t, s.handler, "/cities?country=PL")
	if env.Source != model.SourceRedis || env.Data.Total != 2 {
		t.Fatalf("third=%+v", env)
	}

	if n := s.up.logins.Load(); n != 1 {
		t.Fatalf("logins=%d want 1", n)
	}
	if n := s.up.pollution.Load(); n != 1 {
		t.Fatalf("pollution calls=%d want 1", n)
	}
}

func TestCities_SecondPageEmpty(t *testing.T) {
	s := newStack(t)
	_, env := get(t, s.handler, "/cities?country=PL&page=2&limit=2")
	if env.Data.Total != 2 || len(env.Data.Cities) != 0 || env.Data.Page != 2 {
		t.Fatalf("page=%+v", env.Data)
	}
}

func TestCities_MissingCountry(t *testing.T) {
	s := newStack(t)
	rr, _ := get(t, s.handler, "/cities")
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "country") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestProbesAndNotFound(t *testing.T) {
	s := newStack(t)
	for _, c := range []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, `"status":"ready"`},
		{"/nope", http.StatusNotFound, "NOT_FOUND"},
	} {
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, c.path, nil))
		if rr.Code != c.code || !strings.Contains(rr.Body.String(), c.body) {
			t.Fatalf("%s: status=%d body=%s", c.path, rr.Code, rr.Body.String())
		}
	}
}
