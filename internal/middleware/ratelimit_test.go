package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{Enabled: false})(okHandler())

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRateLimitMiddleware_BurstExceeded(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     0.5,
		Burst:   2,
		Now:     clock.Now,
	})(okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
}

func TestRateLimitMiddleware_ClientsAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   1,
		Now:     clock.Now,
	})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "same host, different port")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware_Refills(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   1,
		Now:     clock.Now,
	})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	clock.now = clock.now.Add(time.Second)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware_CustomKey(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   1,
		Now:     clock.Now,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("X-Reviewer") },
	})(okHandler())

	for _, reviewer := range []string{"ana", "ben"} {
		req := requestFrom("10.0.0.1:1")
		req.Header.Set("X-Reviewer", reviewer)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, reviewer)
	}
}

func TestClientLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := newClientLimiter(1, 1, clock.Now)

	ok, _ := limiter.allow("a")
	assert.True(t, ok)
	assert.Len(t, limiter.buckets, 1)

	clock.now = clock.now.Add(defaultIdleBucketTTL)
	ok, _ = limiter.allow("b")
	assert.True(t, ok)
	assert.Len(t, limiter.buckets, 1)
	assert.Contains(t, limiter.buckets, "b")
}
