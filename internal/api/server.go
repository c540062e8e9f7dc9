package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/lavender-orders/internal/auth"
	"github.com/vaidashi/lavender-orders/internal/lifecycle"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/outbox"
	"github.com/vaidashi/lavender-orders/internal/repository"
	"github.com/vaidashi/lavender-orders/internal/service"
	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
	"github.com/vaidashi/lavender-orders/pkg/middleware"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// retryAfterSeconds is sent with errors a client may retry
const retryAfterSeconds = "1"

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CatalogLister lists storefront products by category
type CatalogLister interface {
	ListProducts(ctx context.Context, category string) ([]*models.Product, error)
}

// DeadLetterLister pages through dead letter messages
type DeadLetterLister interface {
	List(ctx context.Context, status models.DeadLetterStatus, page repository.Page) ([]*models.DeadLetterMessage, int, error)
}

// Dependencies are the collaborators the HTTP layer calls into. Orders is
// required; a nil collaborator disables the routes that need it.
type Dependencies struct {
	Orders      *service.OrderService
	Checkout    *service.CheckoutService
	Catalog     CatalogLister
	DeadLetters *outbox.DeadLetterProcessor
	DLQStore    DeadLetterLister
	Auth        *auth.Authenticator
	Breakers    *circuitbreaker.Registry
	Health      HealthChecker

	LoginLimiter    *middleware.RateLimiterMiddleware
	CheckoutLimiter *middleware.RateLimiterMiddleware
	Degradation     *middleware.GracefulDegradation
}

// Server is the admin and storefront HTTP API
type Server struct {
	deps       Dependencies
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new API server listening on port
func NewServer(port int, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	server := &Server{
		deps:   deps,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		now: time.Now,
	}

	server.setupRoutes()
	return server
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API. Literal order paths are
// registered before their {id} siblings so mux matches them first.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.deps.Degradation != nil {
		api.Use(s.deps.Degradation.Middleware)
	}

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.Handle("/auth/login", s.limited(s.deps.LoginLimiter, s.loginHandler)).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.logoutHandler).Methods(http.MethodPost)

	api.Handle("/checkout", s.limited(s.deps.CheckoutLimiter, s.checkoutHandler)).Methods(http.MethodPost)
	api.HandleFunc("/catalog/{category}", s.catalogHandler).Methods(http.MethodGet)

	api.Handle("/orders", s.protected(s.listOrdersHandler)).Methods(http.MethodGet)
	api.Handle("/orders/export", s.protected(s.exportOrdersHandler)).Methods(http.MethodGet)
	api.Handle("/orders/bulk/status", s.protected(s.bulkStatusHandler)).Methods(http.MethodPost)
	api.Handle("/orders/bulk/targets", s.protected(s.bulkTargetsHandler)).Methods(http.MethodPost)
	api.Handle("/orders/{id}", s.protected(s.getOrderHandler)).Methods(http.MethodGet)
	api.Handle("/orders/{id}/audit", s.protected(s.getAuditLogHandler)).Methods(http.MethodGet)
	api.Handle("/orders/{id}/status", s.protected(s.changeStatusHandler)).Methods(http.MethodPost)
	api.Handle("/orders/{id}/tracking", s.protected(s.setTrackingHandler)).Methods(http.MethodPost)
	api.Handle("/orders/{id}/notes", s.protected(s.setNoteHandler)).Methods(http.MethodPost)

	// Admin API for monitoring and management
	api.Handle("/admin/dead-letters", s.protected(s.getDeadLettersHandler)).Methods(http.MethodGet)
	api.Handle("/admin/dead-letters/{id}/retry", s.protected(s.retryDeadLetterHandler)).Methods(http.MethodPost)
	api.Handle("/admin/dead-letters/{id}/discard", s.protected(s.discardDeadLetterHandler)).Methods(http.MethodPost)
	api.Handle("/admin/circuit-breaker", s.protected(s.getCircuitBreakerStatusHandler)).Methods(http.MethodGet)
}

// protected requires an admin session
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	if s.deps.Auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.respondWithError(w, http.StatusServiceUnavailable, "Admin authentication is not configured")
		})
	}
	return s.deps.Auth.Middleware(h)
}

// limited applies m to h when m is set
func (s *Server) limited(m *middleware.RateLimiterMiddleware, h http.HandlerFunc) http.Handler {
	if m == nil {
		return h
	}
	return m.Middleware(h)
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

// ApiResponse is the envelope every JSON response uses
type ApiResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// ListResponse is the envelope for paginated lists
type ListResponse struct {
	Success    bool                       `json:"success"`
	Data       interface{}                `json:"data"`
	Pagination service.Pagination         `json:"pagination"`
	Counts     map[models.OrderStatus]int `json:"counts,omitempty"`
}

// RejectionResponse is the 422 body for a refused transition
type RejectionResponse struct {
	Success            bool                 `json:"success"`
	Error              string               `json:"error"`
	Detail             string               `json:"detail"`
	AllowedTransitions []models.OrderStatus `json:"allowedTransitions"`
}

// decodeJSON reads a JSON request body into dst
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return apperrors.NewInvalidInputError("Invalid request payload")
	}
	return nil
}

// respondWithServiceError maps a service error onto its HTTP response.
// notFound replaces the generic message for missing resources.
func (s *Server) respondWithServiceError(w http.ResponseWriter, err error, notFound string) {
	var rejection *lifecycle.Rejection
	if errors.As(err, &rejection) {
		allowed := rejection.Allowed
		if allowed == nil {
			allowed = []models.OrderStatus{}
		}

		s.respondWithJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
			Success:            false,
			Error:              string(rejection.Kind),
			Detail:             rejection.Detail,
			AllowedTransitions: allowed,
		})
		return
	}

	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "status", status)
	}

	// Unclassified failures come from storage and may succeed on a later attempt
	retryable := apperrors.IsRetryable(err) || status == http.StatusInternalServerError

	var (
		appErr  *apperrors.AppError
		message string
	)

	switch {
	case errors.As(err, &appErr) && appErr.Message != "":
		message = appErr.Message
	case status == http.StatusNotFound && notFound != "":
		message = notFound
	case status == http.StatusConflict:
		message = "The order was modified concurrently. Please retry."
	case status >= http.StatusInternalServerError:
		message = "Internal server error"
	default:
		message = http.StatusText(status)
	}

	if retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	s.respondWithJSON(w, status, ApiResponse{
		Success:   false,
		Error:     message,
		Retryable: retryable,
	})
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
