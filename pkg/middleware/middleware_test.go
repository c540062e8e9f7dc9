package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	t.Parallel()

	m := NewRateLimiterMiddleware(RateLimiterConfig{Name: "login", RequestsPerSecond: 0.1, Burst: 2}, logger.NewNop())
	t.Cleanup(m.Stop)
	h := m.Middleware(okHandler())

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1:5001").Code)

	rec := call("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"Too many requests. Please try again later."}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, call("10.0.0.2:5000").Code)
}

func TestRateLimiterForwardedFor(t *testing.T) {
	t.Parallel()

	m := NewRateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, TrustForwardedFor: true}, logger.NewNop())
	t.Cleanup(m.Stop)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", m.getClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", m.getClientIP(req))
}

func TestGracefulDegradationSheds(t *testing.T) {
	t.Parallel()

	gd := NewGracefulDegradation(circuitbreaker.Config{MaxFailures: 2, OpenTimeout: time.Minute}, []string{"/api/v1/health"}, logger.NewNop())

	failing := gd.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	assert.Equal(t, gobreaker.StateOpen, gd.Breaker().State())

	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	gd.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "essential paths bypass the breaker")
}

func TestGracefulDegradationIgnoresClientErrors(t *testing.T) {
	t.Parallel()

	gd := NewGracefulDegradation(circuitbreaker.Config{MaxFailures: 1}, nil, logger.NewNop())

	h := gd.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/x/status", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	}
	assert.Equal(t, gobreaker.StateClosed, gd.Breaker().State())
}
