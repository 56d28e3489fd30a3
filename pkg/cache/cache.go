// Package cache fronts expensive read paths. A cache backend that is slow or
// down behaves like an empty cache: lookups miss and writes are dropped, so
// callers always fall back to computing the result directly.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get reports a miss on any backend error.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set drops the value on any backend error.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Noop is the cache used when caching is disabled.
type Noop struct{}

var _ Cache = Noop{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Delete(context.Context, ...string) error            { return nil }
func (Noop) DeletePrefix(context.Context, string) error         { return nil }
