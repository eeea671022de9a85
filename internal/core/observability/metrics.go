// Package observability holds the service's Prometheus collectors.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Shared cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of shared cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	responseSource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cities_responses_total",
			Help: "Served city pages by source.",
		},
		[]string{"source"},
	)

	fallbackDescriptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enrichment_fallback_total",
			Help: "Cities served with a synthetic description.",
		},
	)

	fanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enrichment_fanout_size",
			Help:    "Number of cities enriched per fresh computation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	tokenAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollution_token_acquisitions_total",
			Help: "Access token acquisitions by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed invalidation events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_version_info",
			Help: "Version of the running binary.",
		},
		[]string{"version"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with reg. Collectors work unregistered,
// so tests and tools may skip it.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	registerOnce.Do(func() {
		cs := []prometheus.Collector{
			httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
			cacheResults, cacheOpTotal, redisOpDuration, responseSource,
			fallbackDescriptions, fanoutSize, tokenAcquisitions, breakerState,
			invalidations, buildInfo,
		}
		for _, c := range cs {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

func IncCacheResult(tier, outcome string) {
	cacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, result(err)).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncResponseSource(source string) {
	responseSource.WithLabelValues(source).Inc()
}

func IncFallbackDescription() {
	fallbackDescriptions.Inc()
}

func ObserveFanout(n int) {
	fanoutSize.Observe(float64(n))
}

func IncTokenAcquisition(flow string, err error) {
	tokenAcquisitions.WithLabelValues(flow, result(err)).Inc()
}

func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}

func IncInvalidation(kind string, err error) {
	invalidations.WithLabelValues(kind, result(err)).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
