package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_portal/internal/utils"
)

// Limiter enforces a per-key request limit over a one minute window. It
// fronts the auth endpoints to slow down credential stuffing.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// NoopLimiter allows all requests. Used when rate limiting is disabled.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never blocks
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	return true, nil
}

// RateLimiter implements distributed rate limiting on Redis sorted sets
// using a sliding one minute window.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow checks if a request should be allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	allowed, _, _, err := rl.AllowWithDetails(ctx, key, limit)
	return allowed, err
}

// AllowWithDetails checks the limit and reports how many requests remain in
// the window and when it resets.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	now := time.Now()
	resetAt := now.Add(1 * time.Minute)

	if limit <= 0 {
		// No limit configured
		return true, 0, resetAt, nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := now.Add(-1 * time.Minute)

	pipe := rl.client.Pipeline()

	// Drop entries that slid out of the window, count the rest, then record
	// this request.
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, redisKey, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, fmt.Errorf("rate limit check failed: %w", err)
	}

	current := int(countCmd.Val())
	remaining := limit - current - 1
	if remaining < 0 {
		remaining = 0
	}

	return current < limit, remaining, resetAt, nil
}

// Reset clears the window for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, fmt.Sprintf("ratelimit:%s", key)).Err()
}

// Middleware limits requests per client IP. A Redis failure lets the request
// through: the limiter protects against abuse, it is not an auth gate.
func Middleware(limiter Limiter, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), clientIP(r), limit)
			if err == nil && !allowed {
				utils.RespondWithError(w, http.StatusTooManyRequests, "Too many requests, slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, honoring X-Forwarded-For from the
// ingress. Behind chained proxies the header carries a comma-separated list;
// the first entry is the originating client.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
