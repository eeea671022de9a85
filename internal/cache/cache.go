// Package cache defines the contract of the shared, out-of-process cache tier.
package cache

import (
	"context"
	"time"
)

// Store is a single-key store with server-side expiry. Get reports a missing
// key with found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}
