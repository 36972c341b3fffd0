package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache is a redis read-through cache. Concurrent misses on one key share a
// single load.
type Cache struct {
	RDB *redis.Client
	sf  singleflight.Group
}

// New wraps an existing client. A nil client turns the cache into a
// pass-through.
func New(rdb *redis.Client) *Cache {
	return &Cache{RDB: rdb}
}

// GetOrLoad returns the cached bytes for key or runs load and stores its
// result for ttl. Failed loads are not cached. Redis errors degrade to a
// direct load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil || c.RDB == nil || ttl <= 0 {
		return load(ctx)
	}
	if b, err := c.RDB.Get(ctx, key).Bytes(); err == nil {
		return b, nil
	}
	// The flight outlives the caller that started it; other waiters share
	// its result.
	lctx := context.WithoutCancel(ctx)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		b, e := load(lctx)
		if e != nil {
			return nil, e
		}
		_ = c.RDB.Set(lctx, key, b, ttl).Err()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Generation reads a counter that callers fold into their cache keys. An
// unset counter reads as zero.
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	if c == nil || c.RDB == nil {
		return 0, nil
	}
	n, err := c.RDB.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump advances a generation counter so keys built from the old value are
// never read again. They expire on their own ttl.
func (c *Cache) Bump(ctx context.Context, key string) error {
	if c == nil || c.RDB == nil {
		return nil
	}
	return c.RDB.Incr(ctx, key).Err()
}

// GetOrLoadJSON is GetOrLoad for values that round-trip through JSON.
func GetOrLoadJSON[T any](c *Cache, ctx context.Context, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T
	b, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, e := load(ctx)
		if e != nil {
			return nil, e
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}
