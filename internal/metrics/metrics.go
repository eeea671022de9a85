// Package metrics owns the Prometheus registry the service exposes.
package metrics

import (
	"net/http"
	"net/url"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Enabled bool
	Addr    string
	Path    string
	Service string
	Build   BuildInfo

	// Upstreams maps an upstream name to its base URL.
	Upstreams map[string]string
}

type Provider struct {
	reg       *prometheus.Registry
	buildInfo *prometheus.GaugeVec
	upstreams *prometheus.GaugeVec
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"service", "version", "revision", "branch", "build_date"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	svc := cfg.Service
	if svc == "" {
		svc = "polluted-cities"
	}
	build.WithLabelValues(svc, v.Version, v.Revision, v.Branch, v.BuildDate).Set(1)

	ups := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polluted_cities_upstream_info",
			Help: "Configured upstream APIs by name and host (value is always 1).",
		},
		[]string{"service", "upstream", "host"},
	)
	reg.MustRegister(ups)
	names := make([]string, 0, len(cfg.Upstreams))
	for name := range cfg.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ups.WithLabelValues(svc, name, upstreamHost(cfg.Upstreams[name])).Set(1)
	}

	return &Provider{reg: reg, buildInfo: build, upstreams: ups}
}

// upstreamHost keeps only the host so credentials and paths never become labels.
func upstreamHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
