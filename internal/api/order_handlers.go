package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/lavender-orders/internal/auth"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	"github.com/vaidashi/lavender-orders/internal/service"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

const dateLayout = "2006-01-02"

const orderNotFound = "Order not found"

// ChangeStatusRequest is the body of a single status change
type ChangeStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// BulkStatusRequest is the body of a bulk status change
type BulkStatusRequest struct {
	OrderIDs []string `json:"orderIds"`
	Status   string   `json:"status"`
	Note     string   `json:"note"`
}

// BulkTargetsRequest asks which statuses a selection can move to
type BulkTargetsRequest struct {
	OrderIDs []string `json:"orderIds"`
}

// TrackingRequest is the body of a tracking update
type TrackingRequest struct {
	TrackingNumber string `json:"trackingNumber"`
}

// NoteRequest is the body of an admin note update
type NoteRequest struct {
	Note string `json:"note"`
}

// Transition names both ends of a committed status change
type Transition struct {
	From models.OrderStatus `json:"from"`
	To   models.OrderStatus `json:"to"`
}

// StatusChangeResponse is the payload of a committed status change
type StatusChangeResponse struct {
	Order      *models.Order `json:"order"`
	Transition Transition    `json:"transition"`
}

// parseStatus rejects unknown statuses as invalid input
func parseStatus(raw string) (models.OrderStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.NewInvalidInputError("Status is required")
	}

	status, err := models.ParseOrderStatus(raw)
	if err != nil {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("Unknown status %q", raw))
	}
	return status, nil
}

// changeStatusHandler moves one order to a new status
func (s *Server) changeStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	target, err := parseStatus(req.Status)
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	change, err := s.deps.Orders.ChangeStatus(r.Context(), service.ChangeStatusInput{
		OrderID: mux.Vars(r)["id"],
		Target:  target,
		Note:    req.Note,
		Actor:   auth.ActorFromContext(r.Context()),
	})
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: StatusChangeResponse{
			Order:      change.Order,
			Transition: Transition{From: change.From, To: change.To},
		},
	})
}

// bulkStatusHandler moves several orders to the same status, reporting
// successes and failures separately
func (s *Server) bulkStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	target, err := parseStatus(req.Status)
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	result, err := s.deps.Orders.BulkChangeStatus(r.Context(), service.BulkChangeStatusInput{
		OrderIDs: req.OrderIDs,
		Target:   target,
		Note:     req.Note,
		Actor:    auth.ActorFromContext(r.Context()),
	})
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result})
}

// bulkTargetsHandler returns the statuses every selected order may move to
func (s *Server) bulkTargetsHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkTargetsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	targets, err := s.deps.Orders.CommonTargets(r.Context(), req.OrderIDs)
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	if targets == nil {
		targets = []models.OrderStatus{}
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"allowedTransitions": targets,
		},
	})
}

// setTrackingHandler sets or corrects the tracking number of a shipping order
func (s *Server) setTrackingHandler(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	order, err := s.deps.Orders.SetTracking(r.Context(), mux.Vars(r)["id"], req.TrackingNumber, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"orderId":        order.ID,
			"trackingNumber": order.TrackingNumber,
		},
	})
}

// setNoteHandler replaces the admin note on an order
func (s *Server) setNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	order, err := s.deps.Orders.SetNote(r.Context(), mux.Vars(r)["id"], req.Note, auth.ActorFromContext(r.Context()))
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"orderId":    order.ID,
			"adminNotes": order.AdminNotes,
		},
	})
}

// getOrderHandler returns an order with its audit log
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Orders.GetOrderWithAuditLog(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: detail})
}

// getAuditLogHandler pages through an order's audit log
func (s *Server) getAuditLogHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := service.AuditLogQuery{
		Page:     intParam(query, "page"),
		PageSize: intParam(query, "pageSize"),
	}

	if raw := query.Get("action"); raw != "" {
		action, ok := models.ParseAuditAction(raw)
		if !ok {
			s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown audit action %q", raw))
			return
		}
		q.Action = action
	}

	page, err := s.deps.Orders.GetAuditLog(r.Context(), mux.Vars(r)["id"], q)
	if err != nil {
		s.respondWithServiceError(w, err, orderNotFound)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ListResponse{
		Success:    true,
		Data:       page.Entries,
		Pagination: page.Pagination,
	})
}

// listOrdersHandler returns one page of orders with per-status counts
func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	list, err := s.deps.Orders.ListOrders(r.Context(), q)
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ListResponse{
		Success:    true,
		Data:       list.Orders,
		Pagination: list.Pagination,
		Counts:     list.Counts,
	})
}

// exportOrdersHandler streams every matching order as CSV. The body is
// buffered so a failure can still be reported as JSON.
func (s *Server) exportOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	var buf bytes.Buffer
	rows, err := s.deps.Orders.ExportCSV(r.Context(), q, &buf)
	if err != nil {
		s.respondWithServiceError(w, err, "")
		return
	}

	filename := fmt.Sprintf("orders-%s.csv", s.now().UTC().Format(dateLayout))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Total-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// parseListQuery reads the list and export filters from the query string.
// status may repeat or be comma separated.
func parseListQuery(query url.Values) (service.ListOrdersQuery, error) {
	q := service.ListOrdersQuery{
		Search:   query.Get("search"),
		Page:     intParam(query, "page"),
		PageSize: intParam(query, "pageSize"),
	}

	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := parseStatus(part)
			if err != nil {
				return q, err
			}
			q.Statuses = append(q.Statuses, status)
		}
	}

	tab, err := service.ParseTab(query.Get("tab"))
	if err != nil {
		return q, err
	}
	q.Tab = tab

	if raw := query.Get("fulfillment"); raw != "" {
		method, err := models.ParseFulfillmentMethod(raw)
		if err != nil {
			return q, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown fulfillment method %q", raw))
		}
		q.Fulfillment = method
	}

	if q.DateFrom, err = dateParam(query, "dateFrom"); err != nil {
		return q, err
	}
	if q.DateTo, err = dateParam(query, "dateTo"); err != nil {
		return q, err
	}

	if raw := query.Get("sortBy"); raw != "" {
		field, ok := repository.ParseSortField(raw)
		if !ok {
			return q, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown sort field %q", raw))
		}
		q.Sort = repository.OrderSort{Field: field, Desc: true}
	}

	switch order := strings.ToLower(query.Get("sortOrder")); order {
	case "":
	case "asc", "desc":
		if q.Sort.Field == "" {
			q.Sort.Field = repository.DefaultOrderSort.Field
		}
		q.Sort.Desc = order == "desc"
	default:
		return q, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown sort order %q", order))
	}

	return q, nil
}

// intParam reads a positive integer, returning zero when absent or malformed
func intParam(query url.Values, key string) int {
	n, err := strconv.Atoi(query.Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func dateParam(query url.Values, key string) (*time.Time, error) {
	raw := query.Get(key)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%s must be a date in YYYY-MM-DD form", key))
	}
	return &t, nil
}
