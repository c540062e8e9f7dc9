package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaidashi/lavender-orders/pkg/logger"
	"github.com/vaidashi/lavender-orders/pkg/ratelimit"
)

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	Name              string
	RequestsPerSecond float64
	Burst             int
	TrustForwardedFor bool
}

// RateLimiterMiddleware limits requests per client address
type RateLimiterMiddleware struct {
	name              string
	ipLimiter         *ratelimit.IPRateLimiter
	logger            logger.Logger
	trustForwardedFor bool
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	burst := float64(cfg.Burst)
	if burst < 1 {
		burst = 1
	}

	return &RateLimiterMiddleware{
		name:              cfg.Name,
		ipLimiter:         ratelimit.NewIPRateLimiter(burst, cfg.RequestsPerSecond, 10*time.Minute),
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
	}
}

// Middleware returns a middleware function
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.getClientIP(r)

		if ok, wait := m.ipLimiter.Allow(ip); !ok {
			m.logger.Warn("Rate limit exceeded",
				"limiter", m.name,
				"method", r.Method,
				"path", r.URL.Path,
				"ip", ip)

			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}

			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiterMiddleware) getClientIP(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			first, _, _ := strings.Cut(forwardedFor, ",")
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Stop stops the limiter's cleanup loop
func (m *RateLimiterMiddleware) Stop() {
	m.ipLimiter.Stop()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
