package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// GracefulDegradation sheds non-essential traffic while the service keeps failing
type GracefulDegradation struct {
	breaker        *gobreaker.TwoStepCircuitBreaker
	essential      []string
	retryAfterSecs int
	logger         logger.Logger
}

// NewGracefulDegradation creates a new graceful degradation middleware.
// Requests whose path starts with one of essentialPrefixes always pass.
func NewGracefulDegradation(cfg circuitbreaker.Config, essentialPrefixes []string, logger logger.Logger) *GracefulDegradation {
	retryAfter := 30
	if cfg.OpenTimeout > 0 {
		retryAfter = int(cfg.OpenTimeout.Seconds())
	}

	return &GracefulDegradation{
		breaker:        circuitbreaker.NewTwoStep("http-server", cfg, logger),
		essential:      essentialPrefixes,
		retryAfterSecs: retryAfter,
		logger:         logger,
	}
}

// Breaker exposes the underlying breaker for status reporting
func (gd *GracefulDegradation) Breaker() *gobreaker.TwoStepCircuitBreaker {
	return gd.breaker
}

// Middleware returns a middleware function
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gd.isEssential(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		done, err := gd.breaker.Allow()
		if err != nil {
			gd.logger.Warn("Circuit is open, request rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.State().String())

			w.Header().Set("Retry-After", strconv.Itoa(gd.retryAfterSecs))
			writeError(w, http.StatusServiceUnavailable, "Service is temporarily unavailable. Please try again later.")
			return
		}

		wrapped := newStatusCodeWriter(w)

		defer func() {
			if p := recover(); p != nil {
				done(false)
				panic(p)
			}
			done(wrapped.statusCode < http.StatusInternalServerError)
		}()

		next.ServeHTTP(wrapped, r)
	})
}

func (gd *GracefulDegradation) isEssential(path string) bool {
	for _, prefix := range gd.essential {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// statusCodeWriter captures the status code written by the handler
type statusCodeWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusCodeWriter(w http.ResponseWriter) *statusCodeWriter {
	return &statusCodeWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and passes it to the wrapped ResponseWriter
func (scw *statusCodeWriter) WriteHeader(code int) {
	scw.statusCode = code
	scw.ResponseWriter.WriteHeader(code)
}
