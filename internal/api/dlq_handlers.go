package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	"github.com/vaidashi/lavender-orders/internal/service"
)

const deadLetterNotFound = "Dead letter message not found"

// DiscardRequest optionally explains why a dead letter was discarded
type DiscardRequest struct {
	Reason string `json:"reason"`
}

func parseDeadLetterID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// getDeadLettersHandler returns a page of dead letter messages
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DLQStore == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not available")
		return
	}

	query := r.URL.Query()

	page := intParam(query, "page")
	if page < 1 {
		page = 1
	}

	pageSize := intParam(query, "pageSize")
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	status := models.DeadLetterStatus(query.Get("status"))
	switch status {
	case "", models.DeadLetterStatusPending, models.DeadLetterStatusRetrying,
		models.DeadLetterStatusResolved, models.DeadLetterStatusDiscarded:
	default:
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown dead letter status %q", status))
		return
	}

	messages, total, err := s.deps.DLQStore.List(r.Context(), status, repository.Page{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	if messages == nil {
		messages = []*models.DeadLetterMessage{}
	}

	totalPages := (total + pageSize - 1) / pageSize

	s.respondWithJSON(w, http.StatusOK, ListResponse{
		Success: true,
		Data:    messages,
		Pagination: service.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: totalPages,
		},
	})
}

// retryDeadLetterHandler redelivers a dead letter message immediately
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not available")
		return
	}

	id, ok := parseDeadLetterID(r)
	if !ok {
		s.respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	message, err := s.deps.DeadLetters.RetryNow(r.Context(), id)
	if err != nil {
		s.respondWithServiceError(w, err, deadLetterNotFound)
		return
	}

	s.logger.Info("Dead letter retried by operator", "messageID", id)
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: message})
}

// discardDeadLetterHandler gives up on a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not available")
		return
	}

	id, ok := parseDeadLetterID(r)
	if !ok {
		s.respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	// The body is optional
	var req DiscardRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	message, err := s.deps.DeadLetters.Discard(r.Context(), id, req.Reason)
	if err != nil {
		s.respondWithServiceError(w, err, deadLetterNotFound)
		return
	}

	s.logger.Info("Dead letter discarded by operator", "messageID", id)
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: message})
}
