package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Limit is the number of requests a client may make per Window
	Limit  int
	Window time.Duration

	// RedisClient enables limits shared across gateway replicas. When nil,
	// or when Redis fails, counters are kept in process.
	RedisClient *redis.Client
	KeyPrefix   string

	Logger *logging.Logger
}

// DefaultRateLimitConfig returns 60 requests per minute per client
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:     60,
		Window:    time.Minute,
		KeyPrefix: "textbook-assistant:ratelimit:",
	}
}

type windowCounter struct {
	window time.Time
	count  int
}

// RateLimiter is a fixed-window request counter keyed by client IP
type RateLimiter struct {
	config RateLimitConfig
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]*windowCounter
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &RateLimiter{
		config: config,
		logger: config.Logger,
		now:    time.Now,
		local:  make(map[string]*windowCounter),
	}
}

// RateLimitMiddleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.Limit <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		allowed, remaining, resetTime := rl.Allow(c.Request.Context(), clientIP)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(resetTime.Sub(rl.now()).Seconds()) + 1
			rl.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
				"ip_address": clientIP,
				"endpoint":   c.Request.URL.Path,
				"limit":      rl.config.Limit,
			}).Warn("Rate limit exceeded")

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// Allow counts one request for key and reports whether it fits the window
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time) {
	now := rl.now()
	windowStart := now.Truncate(rl.config.Window)
	resetTime = windowStart.Add(rl.config.Window)
	fullKey := fmt.Sprintf("%s%s:%d", rl.config.KeyPrefix, key, windowStart.Unix())

	var count int
	if rl.config.RedisClient != nil {
		var err error
		count, err = rl.countRedis(ctx, fullKey, resetTime)
		if err != nil {
			// Log error but don't block request
			rl.logger.Warn("Shared rate limit check failed, using local counter", "error", err.Error())
			count = rl.countLocal(key, windowStart)
		}
	} else {
		count = rl.countLocal(key, windowStart)
	}

	remaining = rl.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.Limit, remaining, resetTime
}

func (rl *RateLimiter) countRedis(ctx context.Context, key string, resetTime time.Time) (int, error) {
	pipe := rl.config.RedisClient.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, resetTime)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline failed: %w", err)
	}
	return int(incrCmd.Val()), nil
}

func (rl *RateLimiter) countLocal(key string, windowStart time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.local[key]
	if !ok {
		c = &windowCounter{window: windowStart}
		rl.local[key] = c
	}

	// Reset counter if we're in a new window
	if c.window.Before(windowStart) {
		c.count = 0
		c.window = windowStart
	}
	c.count++

	if len(rl.local) > 10000 {
		for k, v := range rl.local {
			if v.window.Before(windowStart) {
				delete(rl.local, k)
			}
		}
	}

	return c.count
}
