// Package shared is the JSON view over the shared cache tier. Reads and
// writes never fail a request: errors become misses on read and are logged
// on write.
package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/cache"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

var errNoStore = errors.New("shared cache not configured")

type Tier struct {
	store   cache.Store
	timeout time.Duration
	logger  *slog.Logger
}

// New wraps store. A nil store yields a tier that always misses.
func New(store cache.Store, timeout time.Duration, logger *slog.Logger) *Tier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tier{store: store, timeout: timeout, logger: logger}
}

// returns a context detached from caller cancellation with the op timeout
func (t *Tier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if t.timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, t.timeout)
}

// GetJSON decodes the value under key into dst and reports whether it did.
func (t *Tier) GetJSON(ctx context.Context, key string, dst any) bool {
	if t == nil || t.store == nil {
		return false
	}
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	raw, found, err := t.store.Get(opCtx, key)
	if err != nil {
		observability.IncCacheResult("shared", "error")
		t.logger.WarnContext(ctx, "shared cache get failed; treating as miss",
			"key", key, "err", apperr.Cache("get", err))
		return false
	}
	if !found {
		observability.IncCacheResult("shared", "miss")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		observability.IncCacheResult("shared", "corrupt")
		t.logger.WarnContext(ctx, "shared cache value undecodable; treating as miss",
			"key", key, "err", err)
		return false
	}
	observability.IncCacheResult("shared", "hit")
	return true
}

// SetJSON stores v under key. Failures are logged and swallowed.
func (t *Tier) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if t == nil || t.store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.logger.WarnContext(ctx, "shared cache encode failed", "key", key, "err", err)
		return
	}
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.store.Set(opCtx, key, b, ttl); err != nil {
		t.logger.WarnContext(ctx, "shared cache set failed; continuing",
			"key", key, "err", apperr.Cache("set", err))
	}
}

// Delete removes keys. Unlike reads and writes it reports failure, so
// invalidation can be retried.
func (t *Tier) Delete(ctx context.Context, keys ...string) error {
	if t == nil || t.store == nil {
		return errNoStore
	}
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.store.Del(opCtx, keys...); err != nil {
		return fmt.Errorf("shared delete: %w", err)
	}
	return nil
}

// DeleteMatching removes every key matching pattern and returns how many.
func (t *Tier) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if t == nil || t.store == nil {
		return 0, errNoStore
	}
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()
	ks, err := t.store.Scan(opCtx, pattern)
	if err != nil {
		return 0, fmt.Errorf("shared scan %q: %w", pattern, err)
	}
	if len(ks) == 0 {
		return 0, nil
	}
	if err := t.store.Del(opCtx, ks...); err != nil {
		return 0, fmt.Errorf("shared delete %q: %w", pattern, err)
	}
	return len(ks), nil
}

func (t *Tier) Ping(ctx context.Context) error {
	if t == nil || t.store == nil {
		return errNoStore
	}
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.store.Ping(opCtx); err != nil {
		return fmt.Errorf("shared ping: %w", err)
	}
	return nil
}
