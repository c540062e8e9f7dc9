// Package lifecycle decides which order status transitions are admissible.
//
// The functions here are pure: they look only at their arguments and never
// touch storage. Callers load an order, ask Validate, and commit on nil.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/vaidashi/lavender-orders/internal/models"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

// RejectionKind classifies why a transition was refused
type RejectionKind string

const (
	InvalidTransition   RejectionKind = "InvalidTransition"
	FulfillmentMismatch RejectionKind = "FulfillmentMismatch"
	NoteRequired        RejectionKind = "NoteRequired"
)

// Rejection is returned by Validate when a transition is refused.
// Allowed is never nil so it always serialises as a JSON array.
type Rejection struct {
	Kind    RejectionKind
	Detail  string
	Allowed []models.OrderStatus
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

// Unwrap maps the rejection onto the shared error taxonomy
func (r *Rejection) Unwrap() error {
	switch r.Kind {
	case FulfillmentMismatch:
		return apperrors.ErrFulfillmentMismatch
	case NoteRequired:
		return apperrors.ErrNoteRequired
	default:
		return apperrors.ErrInvalidTransition
	}
}

// adjacency returns the structurally permitted targets of current, in
// display order. The switch is exhaustive over models.AllStatuses.
func adjacency(current models.OrderStatus) []models.OrderStatus {
	switch current {
	case models.StatusConfirmed:
		return []models.OrderStatus{models.StatusProcessing, models.StatusOnHold, models.StatusCancelled}
	case models.StatusProcessing:
		return []models.OrderStatus{models.StatusReady, models.StatusShipped, models.StatusOnHold, models.StatusCancelled}
	case models.StatusReady:
		return []models.OrderStatus{models.StatusCompleted, models.StatusOnHold, models.StatusCancelled}
	case models.StatusShipped:
		return []models.OrderStatus{models.StatusCompleted, models.StatusOnHold, models.StatusCancelled}
	case models.StatusOnHold:
		return []models.OrderStatus{models.StatusConfirmed, models.StatusProcessing, models.StatusCancelled}
	case models.StatusCompleted, models.StatusCancelled:
		return nil
	default:
		return nil
	}
}

// fulfillmentPermits reports whether target is reachable for the given method
func fulfillmentPermits(method models.FulfillmentMethod, target models.OrderStatus) bool {
	switch target {
	case models.StatusReady:
		return method == models.FulfillmentPickup
	case models.StatusShipped:
		return method == models.FulfillmentShipping
	default:
		return true
	}
}

func requiresNote(target models.OrderStatus) bool {
	return target == models.StatusOnHold || target == models.StatusCancelled
}

// AllowedTargets returns the statuses current may move to, filtered by the
// fulfillment method. Notes are not considered.
func AllowedTargets(current models.OrderStatus, method models.FulfillmentMethod) []models.OrderStatus {
	candidates := adjacency(current)
	allowed := make([]models.OrderStatus, 0, len(candidates))

	for _, target := range candidates {
		if fulfillmentPermits(method, target) {
			allowed = append(allowed, target)
		}
	}

	return allowed
}

// Validate decides whether an order in current with the given fulfillment
// method may move to target. It returns nil on acceptance and a *Rejection
// otherwise. Checks run in order: terminal, adjacency, fulfillment, note.
func Validate(current models.OrderStatus, method models.FulfillmentMethod, target models.OrderStatus, note string) error {
	if current.IsTerminal() {
		return &Rejection{
			Kind:    InvalidTransition,
			Detail:  fmt.Sprintf("Order is %s; no further status changes are allowed", current),
			Allowed: []models.OrderStatus{},
		}
	}

	allowed := AllowedTargets(current, method)

	if !contains(adjacency(current), target) {
		return &Rejection{
			Kind:    InvalidTransition,
			Detail:  fmt.Sprintf("Cannot transition from %s to %s", current, target),
			Allowed: allowed,
		}
	}

	if !fulfillmentPermits(method, target) {
		return &Rejection{
			Kind:    FulfillmentMismatch,
			Detail:  fmt.Sprintf("Status %s is not available for %s orders", target, method),
			Allowed: allowed,
		}
	}

	if requiresNote(target) && strings.TrimSpace(note) == "" {
		return &Rejection{
			Kind:    NoteRequired,
			Detail:  fmt.Sprintf("A note is required when moving an order to %s", target),
			Allowed: allowed,
		}
	}

	return nil
}

func contains(set []models.OrderStatus, s models.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
