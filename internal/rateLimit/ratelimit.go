package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow counts one hit against key and reports whether it is within rate
// per period. The window starts at the first hit and is never extended by
// later ones. Redis errors deny the request.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key
	client := rl.redis.Client()

	count, err := client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false
	}
	if count == 1 {
		if err := client.Expire(ctx, fullKey, period).Err(); err != nil {
			// A window without a TTL would never reset.
			client.Del(context.WithoutCancel(ctx), fullKey)
			return false
		}
	}

	if count > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
