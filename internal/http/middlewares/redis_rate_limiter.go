package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter enforces the same fixed window as RateLimiter but keeps
// the counters in redis, so the limit holds across api replicas. INCR creates
// the key at 1; the first hit in a window also sets the expiry.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window}
}

func (rl *RedisRateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}
		key = "ratelimit:" + key

		ctx := c.Request.Context()

		count, err := rl.rdb.Incr(ctx, key).Result()
		if err != nil {
			// redis being down must not lock users out
			c.Next()
			return
		}

		if count == 1 {
			_ = rl.rdb.Expire(ctx, key, rl.window).Err()
		}

		if count > int64(rl.limit) {
			ttl, err := rl.rdb.TTL(ctx, key).Result()

			retryAfter := int(rl.window.Seconds())
			if err == nil && ttl > 0 {
				retryAfter = int(ttl.Seconds())
			}

			respondRateLimited(c, retryAfter)
			return
		}

		c.Next()
	}
}
