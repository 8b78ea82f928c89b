package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/pkg/response"
)

// RateLimiter counts requests per user in fixed Redis windows. When Redis is
// unreachable requests are let through.
type RateLimiter struct {
	redis *redis.Client
	log   zerolog.Logger
}

func NewRateLimiter(redisClient *redis.Client, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, log: log.With().Str("component", "ratelimit").Logger()}
}

// allow increments the window counter for key and reports how many requests
// remain and how long until the window resets.
func (rl *RateLimiter) allow(ctx context.Context, key string, limit int, window time.Duration) (int, time.Duration, error) {
	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	reset := ttl.Val()
	if reset < 0 {
		if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		reset = window
	}
	return limit - int(incr.Val()), reset, nil
}

// Limit allows limit requests per user in each window. Anonymous requests
// and a non-positive limit pass untouched.
func (rl *RateLimiter) Limit(keyPrefix string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || limit <= 0 {
			return c.Next()
		}

		key := "ratelimit:" + keyPrefix + ":" + userID
		remaining, reset, err := rl.allow(c.UserContext(), key, limit, window)
		if err != nil {
			rl.log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		if remaining < 0 {
			c.Set("X-RateLimit-Remaining", "0")
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(reset.Seconds())))
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		return c.Next()
	}
}

// GenerateLimit throttles task submission per hour.
func (rl *RateLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}
