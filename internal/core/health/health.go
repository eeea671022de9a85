// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ConsumerReporter is implemented by the invalidation consumer.
type ConsumerReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type readiness struct {
	Status       string  `json:"status"`
	Cache        string  `json:"cache"`
	Invalidation string  `json:"invalidation"`
	Partitions   []int32 `json:"partitions,omitempty"`
}

// Readiness reports "degraded" instead of failing when the shared cache or
// the invalidation consumer is unavailable; requests are still served from
// the upstreams. consumer may be nil.
func Readiness(cache Pinger, consumer ConsumerReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		out := readiness{Status: "ready", Cache: "up", Invalidation: "disabled"}
		if cache == nil || cache.Ping(ctx) != nil {
			out.Status = "degraded"
			out.Cache = "down"
		}
		if consumer != nil {
			ready, parts := consumer.Readiness()
			if ready {
				out.Invalidation = "ready"
				out.Partitions = parts
			} else {
				out.Status = "degraded"
				out.Invalidation = "not_ready"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
