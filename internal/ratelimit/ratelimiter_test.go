package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestRateLimiter_AllowWithDetails(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()

		limit := 5
		for i := 0; i < 5; i++ {
			allowed, remaining, resetAt, err := limiter.AllowWithDetails(ctx, "10.0.0.1", limit)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, limit-i-1, remaining)
			assert.False(t, resetAt.IsZero())
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()

		limit := 3
		for i := 0; i < 3; i++ {
			allowed, _, _, err := limiter.AllowWithDetails(ctx, "10.0.0.2", limit)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, remaining, _, err := limiter.AllowWithDetails(ctx, "10.0.0.2", limit)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()

		allowed, err := limiter.Allow(ctx, "10.0.0.3", 1)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = limiter.Allow(ctx, "10.0.0.3", 1)
		require.NoError(t, err)
		assert.False(t, allowed)

		allowed, err = limiter.Allow(ctx, "10.0.0.4", 1)
		require.NoError(t, err)
		assert.True(t, allowed, "other clients keep their own window")
	})

	t.Run("window slides", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()

		allowed, err := limiter.Allow(ctx, "10.0.0.5", 1)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = limiter.Allow(ctx, "10.0.0.5", 1)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Fast-forward past the window.
		mr.FastForward(2 * time.Minute)

		allowed, err = limiter.Allow(ctx, "10.0.0.5", 1)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("zero limit means unlimited", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 20; i++ {
			allowed, err := limiter.Allow(ctx, "10.0.0.6", 0)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
	})
}

func TestRateLimiter_Reset(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	limiter := NewRateLimiter(client)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "10.0.0.7", 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "10.0.0.7"))

	allowed, err = limiter.Allow(ctx, "10.0.0.7", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMiddleware(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	limiter := NewRateLimiter(client)
	handler := Middleware(limiter, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("192.168.1.1"))
	assert.Equal(t, http.StatusOK, do("192.168.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.168.1.1"))
	assert.Equal(t, http.StatusOK, do("192.168.1.2"))
}

func TestClientIP(t *testing.T) {
	newReq := func(remote, forwarded string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		return req
	}

	t.Run("remote addr without header", func(t *testing.T) {
		assert.Equal(t, "10.0.0.1", clientIP(newReq("10.0.0.1:54321", "")))
	})

	t.Run("forwarded header wins", func(t *testing.T) {
		assert.Equal(t, "1.2.3.4", clientIP(newReq("10.0.0.1:54321", "1.2.3.4")))
	})

	t.Run("first hop of a proxy chain", func(t *testing.T) {
		assert.Equal(t, "1.2.3.4", clientIP(newReq("10.0.0.1:54321", "1.2.3.4, 10.0.0.1, 172.16.0.9")))
	})
}

func TestMiddlewareForwardedChainSharesWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	limiter := NewRateLimiter(client)
	handler := Middleware(limiter, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// The same client reaching us through different proxy paths still
	// counts against one window.
	assert.Equal(t, http.StatusOK, do("1.2.3.4"))
	assert.Equal(t, http.StatusOK, do("1.2.3.4, 172.16.0.9"))
	assert.Equal(t, http.StatusTooManyRequests, do("1.2.3.4, 10.0.0.8, 172.16.0.9"))
}

func TestNoopLimiter(t *testing.T) {
	limiter := NewNoopLimiter()
	for i := 0; i < 100; i++ {
		allowed, err := limiter.Allow(context.Background(), "anyone", 1)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}
