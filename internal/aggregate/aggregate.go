// Package aggregate builds paginated, enriched city listings on top of the
// two cache tiers and the three upstream sources.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/local"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/cityname"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
	"github.com/mohammed-shakir/polluted-cities/internal/logger"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10

	maxDescription = 250
)

type PollutionSource interface {
	Fetch(ctx context.Context, country string) ([]model.CityRecord, error)
}

type ReferenceSource interface {
	Load(ctx context.Context) model.CountryReference
}

// Describer returns a city summary, or "" when none is available.
type Describer interface {
	Summary(ctx context.Context, name string) string
}

type Deps struct {
	Pollution PollutionSource
	Reference ReferenceSource
	Describer Describer
	Local     *local.Cache[model.Page]
	Shared    *shared.Tier
	Logger    *slog.Logger
}

type Config struct {
	SharedTTL time.Duration
	// PromoteSharedHits copies shared-tier hits into the local tier.
	PromoteSharedHits bool
	Concurrency       int
}

type Query struct {
	Country string `validate:"required"`
	Page    int    `validate:"min=1"`
	Limit   int    `validate:"min=1"`
}

type Result struct {
	Page   model.Page
	Source model.Source
}

type Service struct {
	deps Deps
	cfg  Config
	sf   singleflight.Group
}

func New(deps Deps, cfg Config) *Service {
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if deps.Local == nil {
		deps.Local = local.New[model.Page](local.Config{}, local.WithClone(model.Page.Clone))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, cfg: cfg}
}

// Cities serves one page of enriched cities for q.Country. Only an invalid
// query or an authentication failure against the pollution API is an error;
// every other upstream or cache failure degrades the result.
func (s *Service) Cities(ctx context.Context, q Query) (Result, error) {
	q.Country = strings.TrimSpace(q.Country)
	if q.Country == "" {
		return Result{}, apperr.Invalid("country is required")
	}
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	ctx = logger.WithCountry(ctx, q.Country)
	key := keys.Page(q.Country, q.Page, q.Limit)

	if p, ok := s.deps.Local.Get(key); ok {
		return s.result(ctx, p, model.SourceMemory), nil
	}

	var p model.Page
	if s.deps.Shared.GetJSON(ctx, key, &p) {
		if s.cfg.PromoteSharedHits {
			s.deps.Local.Set(key, p)
		}
		return s.result(ctx, p, model.SourceRedis), nil
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.fresh(context.WithoutCancel(ctx), q, key)
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, v.(model.Page).Clone(), model.SourceFresh), nil
}

// ClearLocal drops every page held by the local tier.
func (s *Service) ClearLocal() {
	s.deps.Local.Purge()
}

// ForgetCountry drops the country's pages from the local tier and returns
// how many were removed.
func (s *Service) ForgetCountry(country string) int {
	prefix := keys.PagePrefix(country)
	n := 0
	for _, k := range s.deps.Local.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.deps.Local.Delete(k)
			n++
		}
	}
	return n
}

func (s *Service) result(ctx context.Context, p model.Page, src model.Source) Result {
	observability.IncResponseSource(string(src))
	s.deps.Logger.DebugContext(logger.WithSource(ctx, string(src)), "cities page served",
		"page", p.Page, "limit", p.Limit, "total", p.Total)
	return Result{Page: p, Source: src}
}

func (s *Service) fresh(ctx context.Context, q Query, key string) (model.Page, error) {
	var (
		records []model.CityRecord
		ref     model.CountryReference
		g       errgroup.Group
	)
	g.Go(func() error {
		var err error
		records, err = s.deps.Pollution.Fetch(ctx, q.Country)
		return err
	})
	g.Go(func() error {
		ref = s.deps.Reference.Load(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Page{}, err
	}
	if ref.Empty() {
		s.deps.Logger.WarnContext(ctx, "country reference unavailable; no cities will match",
			"country", q.Country)
	}

	matched := filter(records, ref, q.Country)
	all := s.enrich(ctx, matched, q.Country, ref.CodesByCountry[q.Country])
	p := paginate(all, q.Page, q.Limit)

	s.deps.Shared.SetJSON(ctx, key, p, s.cfg.SharedTTL)
	s.deps.Local.Set(key, p)
	s.deps.Logger.InfoContext(ctx, "cities page computed",
		"upstream", len(records), "matched", len(matched), "page", q.Page, "limit", q.Limit)
	return p, nil
}

// filter keeps records whose normalized name is non-empty, whose index is
// numeric and that the reference lists under country. Names are replaced by
// their normalized form.
func filter(records []model.CityRecord, ref model.CountryReference, country string) []model.CityRecord {
	out := make([]model.CityRecord, 0, len(records))
	for _, r := range records {
		name := cityname.Normalize(r.Name)
		if name == "" {
			continue
		}
		if _, ok := r.Index(); !ok {
			continue
		}
		if !ref.HasCity(country, cityname.Lower(name)) {
			continue
		}
		r.Name = name
		out = append(out, r)
	}
	return out
}

// enrich describes every city concurrently, at most Concurrency at a time.
// Results keep the input order and a failing lookup only affects its own slot.
func (s *Service) enrich(ctx context.Context, cities []model.CityRecord, code, display string) []model.EnrichedCity {
	if display == "" {
		display = code
	}
	out := make([]model.EnrichedCity, len(cities))
	observability.ObserveFanout(len(cities))

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var wg sync.WaitGroup
	for i, c := range cities {
		// ctx is detached from the caller, so Acquire only waits for a slot
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = s.enriched(c, code, display, "")
			continue
		}
		wg.Add(1)
		go func(i int, c model.CityRecord) {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = s.enriched(c, code, display, s.describe(ctx, c.Name))
		}(i, c)
	}
	wg.Wait()
	return out
}

func (s *Service) describe(ctx context.Context, name string) (desc string) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.WarnContext(ctx, "describer panicked; using fallback",
				"city", name, "err", apperr.Unavailable("describe", fmt.Errorf("panic: %v", r)))
			desc = ""
		}
	}()
	return s.deps.Describer.Summary(ctx, name)
}

func (s *Service) enriched(c model.CityRecord, code, display, desc string) model.EnrichedCity {
	if strings.TrimSpace(desc) == "" {
		observability.IncFallbackDescription()
		desc = fmt.Sprintf("%s is a city in %s.", c.Name, code)
	}
	idx, _ := c.Index()
	return model.EnrichedCity{
		Name:        c.Name,
		Country:     display,
		Pollution:   idx,
		Description: cityname.TrimWords(desc, maxDescription),
	}
}

func paginate(all []model.EnrichedCity, page, limit int) model.Page {
	p := model.Page{Page: page, Limit: limit, Total: len(all), Cities: []model.EnrichedCity{}}
	if len(all) == 0 || page < 1 || limit < 1 || page-1 > (len(all)-1)/limit {
		return p
	}
	start := (page - 1) * limit
	end := start + min(limit, len(all)-start)
	p.Cities = append(p.Cities, all[start:end]...)
	return p
}
