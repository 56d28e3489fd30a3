package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Memoizer collapses concurrent computations of the same key.
type Memoizer struct {
	cache  Cache
	flight singleflight.Group
}

// NewMemoizer wraps c. A nil cache behaves like Noop.
func NewMemoizer(c Cache) *Memoizer {
	if c == nil {
		c = Noop{}
	}
	return &Memoizer{cache: c}
}

func (m *Memoizer) Cache() Cache { return m.cache }

// Detach returns a context that keeps the deadline and values of ctx but
// not its cancellation. Computations shared between callers run under it so
// one caller leaving does not fail the others.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

// Memoize returns the cached value for key or computes, stores and returns
// it. Values that fail to decode are recomputed. Errors are never cached.
//
// Concurrent callers of the same key share one computation, which runs
// under the first caller's deadline but not its cancellation. Every caller
// stops waiting when its own ctx is done.
func Memoize[T any](ctx context.Context, m *Memoizer, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if raw, ok := m.cache.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		logger.Warn("[Cache] Dropping undecodable entry", "key", key)
	}

	ch := m.flight.DoChan(key, func() (any, error) {
		fctx, cancel := Detach(ctx)
		defer cancel()

		v, err := compute(fctx)
		if err != nil {
			return v, err
		}
		if raw, err := json.Marshal(v); err == nil {
			m.cache.Set(fctx, key, raw, ttl)
		} else {
			logger.Warn("[Cache] Failed to encode entry", "key", key, "err", err)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}
