// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type PollutionCfg struct {
	BaseURL      string `validate:"required,url"`
	Path         string `validate:"required"`
	LoginPath    string `validate:"required"`
	RefreshPath  string `validate:"required"`
	Username     string
	Password     string
	RefreshToken string
	PageSize     int           `validate:"min=1"`
	Timeout      time.Duration `validate:"gt=0"`
	ListTTL      time.Duration `validate:"gt=0"`
	EmptyTTL     time.Duration `validate:"gt=0"`
	TokenTTL     time.Duration `validate:"gt=0"`
}

type ReferenceCfg struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
	TTL     time.Duration `validate:"gt=0"`
	MemoTTL time.Duration
}

type WikiCfg struct {
	BaseURL         string        `validate:"required,url"`
	Timeout         time.Duration `validate:"gt=0"`
	TTL             time.Duration `validate:"gt=0"`
	Concurrency     int           `validate:"min=1"`
	RatePerSec      float64       `validate:"gte=0"`
	BreakerFailures int           `validate:"min=1"`
	BreakerCooldown time.Duration `validate:"gt=0"`
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string `validate:"startswith=/"`
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr              string `validate:"required"`
	LogLevel          string `validate:"oneof=debug info warn error"`
	LogConsole        bool
	LogSampleN        int    `validate:"gte=0"`
	RedisAddr         string `validate:"required"`
	CacheOpTimeout    time.Duration
	LocalCacheTTL     time.Duration `validate:"gt=0"`
	LocalCacheSize    int           `validate:"min=1"`
	PageSharedTTL     time.Duration `validate:"gt=0"`
	PromoteSharedHits bool
	AuthFailureStatus int `validate:"oneof=401 500"`
	RateLimitPerMin   int `validate:"gte=0"`
	Pollution         PollutionCfg
	Reference         ReferenceCfg
	Wiki              WikiCfg
	Metrics           MetricsCfg
	Invalidation      InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:              getenv("ADDR", ":8000"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogConsole:        getbool("LOG_CONSOLE", false),
		LogSampleN:        getint("LOG_SAMPLE_N", 0),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		LocalCacheTTL:     getduration("LOCAL_CACHE_TTL", 24*time.Hour),
		LocalCacheSize:    getint("LOCAL_CACHE_CAPACITY", 1000),
		PageSharedTTL:     getduration("PAGE_SHARED_TTL", 60*time.Second),
		PromoteSharedHits: getbool("PROMOTE_SHARED_HITS", true),
		AuthFailureStatus: getint("AUTH_FAILURE_STATUS", 401),
		RateLimitPerMin:   getint("RATE_LIMIT_PER_MIN", 0),
		Pollution: PollutionCfg{
			BaseURL:      getenv("POLLUTION_BASE_URL", "https://be-recruitment-task.onrender.com"),
			Path:         getenv("POLLUTION_PATH", "/pollution"),
			LoginPath:    getenv("POLLUTION_LOGIN_PATH", "/auth/login"),
			RefreshPath:  getenv("POLLUTION_REFRESH_PATH", "/auth/refresh"),
			Username:     getenv("POLLUTION_USERNAME", "testuser"),
			Password:     getenv("POLLUTION_PASSWORD", "testpass"),
			RefreshToken: os.Getenv("POLLUTION_REFRESH_TOKEN"),
			PageSize:     getint("POLLUTION_PAGE_SIZE", 10),
			Timeout:      getduration("POLLUTION_TIMEOUT", 15*time.Second),
			ListTTL:      getduration("POLLUTION_LIST_TTL", 60*24*time.Hour),
			EmptyTTL:     getduration("POLLUTION_EMPTY_TTL", 5*time.Minute),
			TokenTTL:     getduration("TOKEN_CACHE_TTL", 60*time.Second),
		},
		Reference: ReferenceCfg{
			URL:     getenv("REFERENCE_URL", "https://countriesnow.space/api/v0.1/countries"),
			Timeout: getduration("REFERENCE_TIMEOUT", 30*time.Second),
			TTL:     getduration("REFERENCE_TTL", 60*time.Hour),
			MemoTTL: getduration("REFERENCE_MEMO_TTL", 10*time.Minute),
		},
		Wiki: WikiCfg{
			BaseURL:         getenv("WIKI_BASE_URL", "https://en.wikipedia.org/api/rest_v1"),
			Timeout:         getduration("WIKI_TIMEOUT", 10*time.Second),
			TTL:             getduration("WIKI_TTL", time.Hour),
			Concurrency:     getint("WIKI_CONCURRENCY", 4),
			RatePerSec:      getfloat("WIKI_RATE_PER_SEC", 20),
			BreakerFailures: getint("WIKI_BREAKER_FAILURES", 5),
			BreakerCooldown: getduration("WIKI_BREAKER_COOLDOWN", 30*time.Second),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "pollution-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "cache-invalidator"),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
