package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/collab/pkg/response"
)

const rateLimitPrefix = "rl:"

// RateLimiter is a fixed-window counter stored in Redis. A nil RateLimiter
// or one without a client lets every request through.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	logger *zap.Logger
}

// NewRateLimiter creates a limiter with the given window.
func NewRateLimiter(client *redis.Client, window time.Duration, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, window: window, logger: logger}
}

// Allow counts one hit for key and reports whether it is within limit,
// together with the remaining hits and the time until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Duration, error) {
	full := rateLimitPrefix + key
	hits, err := l.client.Incr(ctx, full).Result()
	if err != nil {
		return true, limit, 0, fmt.Errorf("incr %s: %w", full, err)
	}
	if hits == 1 {
		if err := l.client.PExpire(ctx, full, l.window).Err(); err != nil {
			return true, limit, 0, fmt.Errorf("pexpire %s: %w", full, err)
		}
	}
	ttl, err := l.client.PTTL(ctx, full).Result()
	if err != nil || ttl <= 0 {
		ttl = l.window
	}
	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return int(hits) <= limit, remaining, ttl, nil
}

// Limit returns a middleware allowing limit requests per window for each
// caller of the named route group. Callers are keyed by user id when
// authenticated and by client IP otherwise. Redis failures fail open.
func (l *RateLimiter) Limit(name string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.client == nil || limit <= 0 {
			c.Next()
			return
		}
		caller := c.ClientIP()
		if id, ok := c.Get(ContextUserID); ok {
			if uid, ok := id.(uuid.UUID); ok {
				caller = uid.String()
			}
		}
		ok, remaining, reset, err := l.Allow(c.Request.Context(), name+":"+caller, limit)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.String("limiter", name), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(reset.Round(time.Second)/time.Second)))
			response.TooManyRequests(c, "too many requests, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
