package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer())
	observability.ExposeBuildInfo("test")

	observability.ObserveUpstreamLatency("pollution", nil, 0.120)
	observability.ObserveUpstreamLatency("wiki", errors.New("timeout"), 10)
	observability.IncCacheResult("shared", "miss")
	observability.ObserveCacheOp("set", nil, 0.002)
	observability.IncFallbackDescription()
	observability.ObserveFanout(3)
	observability.SetBreakerState("wiki", 2)
	observability.IncInvalidation("pollution", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`upstream_latency_seconds_bucket`,
		`redis_operation_duration_seconds_count`,
		`enrichment_fallback_total `,
		`enrichment_fanout_size_count 1`,
		`circuit_breaker_state{name="wiki"} 2`,
		`invalidation_events_total{kind="pollution",outcome="ok"} 1`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "upstream_latency_seconds_count",
		`upstream="wiki"`, `outcome="error"`)
	assertHasMetricLine(t, body, "cache_results_total",
		`tier="shared"`, `outcome="miss"`)
	assertHasMetricLine(t, body, "app_version_info",
		`version="test"`)
}
