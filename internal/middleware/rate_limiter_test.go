package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 5, BurstSize: 10})

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("tenant-a"), "call %d should be allowed", i+1)
	}
}

func TestRateLimiterBlocksPastBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 4})

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("tenant-a") {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 4)
}

func TestRateLimiterIsolatesTenants(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})

	assert.True(t, rl.Allow("tenant-a"))
	assert.False(t, rl.Allow("tenant-a"))
	assert.True(t, rl.Allow("tenant-b"), "another tenant has its own window")
}

func TestRateLimiterMiddlewareReturns429(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	handler := TenantMiddleware(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/logs", nil)
		req.Header.Set("X-Tenant-ID", "acme")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call().Code)
	rec := call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiterStats(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	rl.Allow("tenant-a")

	stats := rl.Stats()
	assert.Equal(t, 1, stats["active_windows"])
}
