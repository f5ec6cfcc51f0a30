package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_shop/internal/requestctx"
)

// RateLimit caps requests per caller within a fixed window using Redis counters.
// Callers are keyed by user id when authenticated, by IP otherwise.
func RateLimit(cache *redis.Client, prefix string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		caller := c.IP()
		if id, ok := requestctx.FromContext(c.UserContext()); ok && id.UserID != "" {
			caller = id.UserID
		}
		key := "rl:" + prefix + ":" + caller
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, window)
		}
		if cnt > int64(max) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
