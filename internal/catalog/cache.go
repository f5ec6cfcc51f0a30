package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "catalog:v1:"

// RedisCache caches another Source in Redis. Cache failures are logged and
// fall back to the wrapped source; lookups that miss in the source are not cached.
type RedisCache struct {
	next   Source
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(next Source, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *RedisCache) Product(ctx context.Context, productID string) (Product, error) {
	return cached(ctx, c, "product:"+productID, func() (Product, error) {
		return c.next.Product(ctx, productID)
	})
}

func (c *RedisCache) Band(ctx context.Context, locationID string) (Band, error) {
	return cached(ctx, c, "band:"+locationID, func() (Band, error) {
		return c.next.Band(ctx, locationID)
	})
}

func cached[T any](ctx context.Context, c *RedisCache, key string, load func() (T, error)) (T, error) {
	key = cachePrefix + key

	raw, err := c.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("discarding undecodable catalog cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	return v, nil
}
