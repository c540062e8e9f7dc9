package api

import (
	"net/http"

	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
)

// getCircuitBreakerStatusHandler returns the state of every registered breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	statuses := []circuitbreaker.Status{}
	if s.deps.Breakers != nil {
		statuses = s.deps.Breakers.Snapshot()
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"breakers": statuses,
		},
	})
}
