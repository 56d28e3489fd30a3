package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	URL string
	// Namespace is prepended to every key.
	Namespace string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CallTimeout bounds every cache call including retries.
	CallTimeout time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Namespace:    "kinship:",
		DialTimeout:  200 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		CallTimeout:  250 * time.Millisecond,
	}
}

// Redis is a Cache backed by Redis.
type Redis struct {
	client      *redis.Client
	namespace   string
	callTimeout time.Duration
}

var _ Cache = (*Redis)(nil)

func NewRedis(opts RedisOptions) (*Redis, error) {
	d := DefaultRedisOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = d.DialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = d.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = d.CallTimeout
	}

	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	ro.DialTimeout = opts.DialTimeout
	ro.ReadTimeout = opts.ReadTimeout
	ro.WriteTimeout = opts.WriteTimeout
	ro.MaxRetries = 1

	return &Redis{
		client:      redis.NewClient(ro),
		namespace:   opts.Namespace,
		callTimeout: opts.CallTimeout,
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) fail(op string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	logger.Warn("[Cache] Redis call failed", "op", op, "err", err)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		r.fail("get", err)
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.namespace+key, value, ttl).Err(); err != nil {
		r.fail("set", err)
	}
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.namespace + k
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		r.fail("delete", err)
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

const scanBatch = 500

// DeletePrefix walks the keyspace with SCAN. Each batch gets its own call
// timeout so large keyspaces are not cut short.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	match := globEscaper.Replace(r.namespace+prefix) + "*"
	var cursor uint64
	deleted := 0
	for {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		keys, next, err := r.client.Scan(callCtx, cursor, match, scanBatch).Result()
		if err == nil && len(keys) > 0 {
			err = r.client.Del(callCtx, keys...).Err()
		}
		cancel()
		if err != nil {
			r.fail("delete_prefix", err)
			return fmt.Errorf("failed to delete cache prefix %q: %w", prefix, err)
		}
		deleted += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	logger.Debug("[Cache] Deleted prefix", "prefix", prefix, "keys", deleted)
	return nil
}
