package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/polluted-cities/internal/aggregate"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/config"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

const citiesRoute = "/cities"

// serves one page of enriched cities
type Citieser interface {
	Cities(ctx context.Context, q aggregate.Query) (aggregate.Result, error)
}

// validates the query and renders the cities envelope
func HandleCities(logger *slog.Logger, cfg config.Config, svc Citieser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, citiesRoute, sw.code, time.Since(start).Seconds())
		}()

		q, err := ParseCitiesQuery(r)
		if err != nil {
			WriteError(sw, r, logger, err, cfg.AuthFailureStatus)
			return
		}

		res, err := svc.Cities(r.Context(), q)
		if err != nil {
			WriteError(sw, r, logger, err, cfg.AuthFailureStatus)
			return
		}
		writeSuccess(sw, r, logger, res)
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseCitiesQuery reads country, page and limit. Page and limit default to
// 1 and 10; when present they must be positive integers.
func ParseCitiesQuery(r *http.Request) (aggregate.Query, error) {
	v := r.URL.Query()
	q := aggregate.Query{
		Country: strings.TrimSpace(v.Get("country")),
		Page:    aggregate.DefaultPage,
		Limit:   aggregate.DefaultLimit,
	}
	if q.Country == "" {
		return aggregate.Query{}, apperr.Invalid("country is required")
	}

	var err error
	if q.Page, err = positiveInt(v.Get("page"), aggregate.DefaultPage); err != nil {
		return aggregate.Query{}, apperr.Invalid(fmt.Sprintf("page %v", err))
	}
	if q.Limit, err = positiveInt(v.Get("limit"), aggregate.DefaultLimit); err != nil {
		return aggregate.Query{}, apperr.Invalid(fmt.Sprintf("limit %v", err))
	}

	if err := validate.Struct(q); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return aggregate.Query{}, apperr.Invalid(fmt.Sprintf("%s failed %s validation",
				strings.ToLower(ve[0].Field()), ve[0].Tag()))
		}
		return aggregate.Query{}, apperr.Invalid(err.Error())
	}
	return q, nil
}

func positiveInt(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}
