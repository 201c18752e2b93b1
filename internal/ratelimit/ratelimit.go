// Package ratelimit throttles uploads per client IP with a Redis token bucket.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/photo-bridge/internal/metrics"
)

const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 86400)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`

const msgTooManyRequests = "Too many requests. Please try again later."

// Evaler is the part of the Redis client the limiter needs.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
}

// Limiter is a token bucket of capacity 2*qps refilled at qps tokens per second.
type Limiter struct {
	client   Evaler
	prefix   string
	capacity int
	rate     float64
	now      func() time.Time
}

// NewLimiter builds a limiter whose keys are namespaced by prefix.
func NewLimiter(client Evaler, prefix string, qps int) *Limiter {
	return &Limiter{
		client:   client,
		prefix:   "rate_limit:" + prefix + ":",
		capacity: 2 * qps,
		rate:     float64(qps),
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := float64(l.now().UnixNano()) / 1e9
	result, err := l.client.Eval(ctx, tokenBucketScript, []string{l.prefix + key}, l.capacity, l.rate, now, 1).Result()
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Limit: l.capacity, Remaining: l.capacity}
	if arr, ok := result.([]interface{}); ok && len(arr) >= 3 {
		if v, ok := arr[0].(int64); ok {
			d.Allowed = v == 1
		}
		if v, ok := arr[1].(int64); ok {
			d.Remaining = int(v)
		}
		if v, ok := arr[2].(int64); ok {
			d.RetryAfter = int(v)
		}
	}
	return d, nil
}

// Middleware rejects requests over the limit with 429. Redis failures let
// the request through.
func Middleware(l *Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		if !d.Allowed {
			metrics.RateLimited.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": msgTooManyRequests})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}
