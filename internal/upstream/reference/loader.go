// Package reference loads the global country to cities dataset.
package reference

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/cityname"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
)

type Config struct {
	URL string
	TTL time.Duration
	// MemoTTL bounds how long a decoded snapshot is reused in process.
	MemoTTL time.Duration
}

type countriesResponse struct {
	Data []struct {
		ISO2    string   `json:"iso2"`
		Country string   `json:"country"`
		Cities  []string `json:"cities"`
	} `json:"data"`
}

type Loader struct {
	cfg    Config
	http   *httpclient.JSON
	cache  *shared.Tier
	logger *slog.Logger
	now    func() time.Time
	sf     singleflight.Group

	mu       sync.RWMutex
	snapshot model.CountryReference
	expires  time.Time
}

func NewLoader(cfg Config, hc *httpclient.JSON, cache *shared.Tier, logger *slog.Logger) *Loader {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Hour
	}
	if cfg.MemoTTL <= 0 || cfg.MemoTTL > cfg.TTL {
		cfg.MemoTTL = min(10*time.Minute, cfg.TTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, http: hc, cache: cache, logger: logger, now: time.Now}
}

// Load never fails: on upstream failure it returns empty maps, which makes
// every city lookup miss.
func (l *Loader) Load(ctx context.Context) model.CountryReference {
	if ref, ok := l.memo(); ok {
		return ref
	}
	v, _, _ := l.sf.Do("reference", func() (any, error) {
		return l.load(context.WithoutCancel(ctx)), nil
	})
	return v.(model.CountryReference)
}

// Invalidate drops the in-process snapshot.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.snapshot = model.CountryReference{}
	l.expires = time.Time{}
	l.mu.Unlock()
}

func (l *Loader) memo() (model.CountryReference, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.expires.IsZero() || !l.now().Before(l.expires) {
		return model.CountryReference{}, false
	}
	return l.snapshot, true
}

func (l *Loader) keep(ref model.CountryReference) {
	l.mu.Lock()
	l.snapshot = ref
	l.expires = l.now().Add(l.cfg.MemoTTL)
	l.mu.Unlock()
}

func (l *Loader) load(ctx context.Context) model.CountryReference {
	if ref, ok := l.fromCache(ctx); ok {
		l.keep(ref)
		return ref
	}

	ref, err := l.fetch(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "reference dataset unavailable; all cities will be rejected",
			"err", apperr.Unavailable("reference", err))
		return empty()
	}

	l.cache.SetJSON(ctx, keys.CountryCodes, ref.CodesByCountry, l.cfg.TTL)
	l.cache.SetJSON(ctx, keys.CountryCities, toLists(ref.CitiesByCountry), l.cfg.TTL)
	l.keep(ref)
	return ref
}

func (l *Loader) fromCache(ctx context.Context) (model.CountryReference, bool) {
	var lists map[string][]string
	if !l.cache.GetJSON(ctx, keys.CountryCities, &lists) {
		return model.CountryReference{}, false
	}
	var codes map[string]string
	if !l.cache.GetJSON(ctx, keys.CountryCodes, &codes) {
		return model.CountryReference{}, false
	}
	return model.CountryReference{CitiesByCountry: toSets(lists), CodesByCountry: codes}, true
}

func (l *Loader) fetch(ctx context.Context) (model.CountryReference, error) {
	var resp countriesResponse
	if err := l.http.Get(ctx, l.cfg.URL, nil, &resp); err != nil {
		return model.CountryReference{}, err
	}
	if len(resp.Data) == 0 {
		return model.CountryReference{}, errors.New("reference dataset is empty")
	}
	ref := empty()
	for _, item := range resp.Data {
		if item.ISO2 == "" {
			continue
		}
		ref.CodesByCountry[item.ISO2] = item.Country
		set := make(map[string]struct{}, len(item.Cities))
		for _, c := range item.Cities {
			set[cityname.Lower(c)] = struct{}{}
		}
		ref.CitiesByCountry[item.ISO2] = set
	}
	return ref, nil
}

func empty() model.CountryReference {
	return model.CountryReference{
		CitiesByCountry: map[string]map[string]struct{}{},
		CodesByCountry:  map[string]string{},
	}
}

// sets are stored as sorted lists
func toLists(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for code, set := range sets {
		list := make([]string, 0, len(set))
		for c := range set {
			list = append(list, c)
		}
		sort.Strings(list)
		out[code] = list
	}
	return out
}

func toSets(lists map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(lists))
	for code, list := range lists {
		set := make(map[string]struct{}, len(list))
		for _, c := range list {
			set[cityname.Lower(c)] = struct{}{}
		}
		out[code] = set
	}
	return out
}
