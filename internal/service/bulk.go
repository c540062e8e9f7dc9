package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vaidashi/lavender-orders/internal/lifecycle"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

// MaxBulkOrders bounds the number of orders one bulk request may touch
const MaxBulkOrders = 50

// BulkChangeStatusInput asks for several orders to move to the same status
type BulkChangeStatusInput struct {
	OrderIDs []string
	Target   models.OrderStatus
	Note     string
	Actor    string
}

// BulkFailure explains why one order in a bulk request was not changed
type BulkFailure struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

// BulkResult is the partial-success outcome of a bulk request
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// dedupeIDs drops blanks and repeats, keeping first occurrences in order
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

func validateBulkIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewInvalidInputError("orderIds must contain at least one order")
	}

	if len(ids) > MaxBulkOrders {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("At most %d orders can be changed at once", MaxBulkOrders))
	}

	unique := dedupeIDs(ids)

	if len(unique) == 0 {
		return nil, apperrors.NewInvalidInputError("orderIds must contain at least one order")
	}

	return unique, nil
}

// bulkFailureMessage renders the per-order reason shown to the operator
func bulkFailureMessage(orderID string, err error) string {
	var rejection *lifecycle.Rejection

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Sprintf("Order '%s' not found", orderID)
	case errors.As(err, &rejection):
		return rejection.Detail
	case errors.Is(err, repository.ErrConflict):
		return fmt.Sprintf("Order '%s' was modified concurrently", orderID)
	default:
		return "Internal error"
	}
}

// BulkChangeStatus applies the same transition to each order independently.
// One order failing never rolls back another.
func (s *OrderService) BulkChangeStatus(ctx context.Context, in BulkChangeStatusInput) (*BulkResult, error) {
	ids, err := validateBulkIDs(in.OrderIDs)

	if err != nil {
		return nil, err
	}

	if !in.Target.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown status %q", in.Target))
	}

	if _, err := s.operatorText(in.Note, "Note"); err != nil {
		return nil, err
	}

	result := &BulkResult{
		Succeeded: make([]string, 0, len(ids)),
		Failed:    []BulkFailure{},
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, BulkFailure{OrderID: id, Error: "Request cancelled"})
			continue
		}

		_, err := s.changeStatus(ctx, ChangeStatusInput{
			OrderID: id,
			Target:  in.Target,
			Note:    in.Note,
			Actor:   in.Actor,
		}, models.AuditBulkStatusChange)

		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{OrderID: id, Error: bulkFailureMessage(id, err)})
			continue
		}

		result.Succeeded = append(result.Succeeded, id)
	}

	s.logger.Info("Bulk status change finished",
		"target", in.Target,
		"requested", len(ids),
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed))

	return result, nil
}

// CommonTargets returns the statuses every listed order may move to.
// Missing orders are reported as NotFound.
func (s *OrderService) CommonTargets(ctx context.Context, orderIDs []string) ([]models.OrderStatus, error) {
	ids, err := validateBulkIDs(orderIDs)

	if err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(ids))

	for _, id := range ids {
		order, err := s.store.GetOrder(ctx, id)

		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("Order '%s' not found", id))
			}
			s.logFailure("Failed to load order for bulk targets", err, "orderID", id)
			return nil, err
		}

		orders = append(orders, order)
	}

	return lifecycle.CommonAllowedTargets(orders), nil
}
