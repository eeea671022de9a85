package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8000" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.Pollution.ListTTL != 60*24*time.Hour {
		t.Fatalf("pollution list ttl=%v want 60 days", cfg.Pollution.ListTTL)
	}
	if cfg.Reference.TTL != 60*time.Hour {
		t.Fatalf("reference ttl=%v want 60h", cfg.Reference.TTL)
	}
	if cfg.Wiki.TTL != time.Hour || cfg.Wiki.Timeout != 10*time.Second {
		t.Fatalf("wiki ttl/timeout=%v/%v", cfg.Wiki.TTL, cfg.Wiki.Timeout)
	}
	if cfg.Pollution.Timeout != 15*time.Second || cfg.Pollution.TokenTTL != time.Minute {
		t.Fatalf("pollution timeout/token ttl=%v/%v", cfg.Pollution.Timeout, cfg.Pollution.TokenTTL)
	}
	if cfg.LocalCacheTTL != 24*time.Hour || cfg.PageSharedTTL != time.Minute {
		t.Fatalf("page ttls=%v/%v", cfg.LocalCacheTTL, cfg.PageSharedTTL)
	}
	if !cfg.PromoteSharedHits {
		t.Fatalf("PromoteSharedHits should default to true")
	}
	if cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" || cfg.Invalidation.Enabled {
		t.Fatalf("metrics/invalidation defaults=%+v/%+v", cfg.Metrics, cfg.Invalidation)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WIKI_CONCURRENCY", "9")
	t.Setenv("PROMOTE_SHARED_HITS", "no")
	t.Setenv("POLLUTION_REFRESH_TOKEN", "xyz456")
	t.Setenv("LOCAL_CACHE_TTL", "5m")
	t.Setenv("LOCAL_CACHE_CAPACITY", "not-a-number")

	cfg := FromEnv()
	if cfg.Wiki.Concurrency != 9 {
		t.Fatalf("Concurrency=%d", cfg.Wiki.Concurrency)
	}
	if cfg.PromoteSharedHits {
		t.Fatalf("PromoteSharedHits should be false")
	}
	if cfg.Pollution.RefreshToken != "xyz456" {
		t.Fatalf("RefreshToken=%q", cfg.Pollution.RefreshToken)
	}
	if cfg.LocalCacheTTL != 5*time.Minute {
		t.Fatalf("LocalCacheTTL=%v", cfg.LocalCacheTTL)
	}
	if cfg.LocalCacheSize != 1000 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.LocalCacheSize)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := FromEnv()
	cfg.Wiki.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}

	cfg = FromEnv()
	cfg.Metrics.Path = "metrics"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for relative metrics path")
	}

	cfg = FromEnv()
	cfg.AuthFailureStatus = 418
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unsupported auth failure status")
	}
}
