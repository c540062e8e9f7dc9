package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/lavender-orders/internal/service"
)

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// healthCheckHandler reports liveness and whether the store answers
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   Version,
		Database:  "unknown",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			health.Status = "degraded"
			health.Database = "unreachable"

			s.respondWithJSON(w, http.StatusServiceUnavailable, ApiResponse{
				Success: false,
				Data:    health,
				Error:   "Database is unreachable",
			})
			return
		}
		health.Database = "ok"
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// LoginRequest is the admin login body
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse carries the session token for non-browser clients
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// loginHandler exchanges the admin password for a session
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Admin authentication is not configured")
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	token, expires, err := s.deps.Auth.Login(req.Password)
	if err != nil {
		s.logger.Warn("Admin login failed", "remoteAddr", r.RemoteAddr)
		s.respondWithServiceError(w, err, "")
		return
	}

	http.SetCookie(w, s.deps.Auth.SessionCookie(token, expires))
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    LoginResponse{Token: token, ExpiresAt: expires},
	})
}

// logoutHandler clears the session cookie
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth != nil {
		http.SetCookie(w, s.deps.Auth.ClearCookie())
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true})
}

// checkoutHandler places a storefront order
func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checkout == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Checkout is not available")
		return
	}

	var req service.CheckoutInput
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	order, err := s.deps.Checkout.PlaceOrder(r.Context(), req)
	if err != nil {
		s.respondWithServiceError(w, err, "Product not found")
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// catalogHandler lists the active products of a category
func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Catalog is not available")
		return
	}

	products, err := s.deps.Catalog.ListProducts(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    products,
	})
}
