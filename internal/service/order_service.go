package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/vaidashi/lavender-orders/internal/lifecycle"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OrderService applies lifecycle changes to orders
type OrderService struct {
	store     repository.Store
	logger    logger.Logger
	metrics   *Metrics
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// Option configures an OrderService
type Option func(*OrderService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *OrderService) {
		s.now = now
	}
}

// WithMetrics overrides the metrics recorder
func WithMetrics(m *Metrics) Option {
	return func(s *OrderService) {
		s.metrics = m
	}
}

// NewOrderService creates a new OrderService
func NewOrderService(store repository.Store, logger logger.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		store:     store,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		now:       models.GetCurrentTime,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics(nil, logger)
	}

	return s
}

// operatorText trims operator input and otherwise keeps it as typed.
// Input that is nothing but markup is rejected.
func (s *OrderService) operatorText(raw, field string) (string, error) {
	text := strings.TrimSpace(raw)

	if text != "" && strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text))) == "" {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("%s must contain text, not only markup", field))
	}

	return text, nil
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return models.ActorAdmin
	}
	return actor
}

// logFailure logs unexpected errors. Expected business outcomes are not logged.
func (s *OrderService) logFailure(msg string, err error, keyvals ...interface{}) {
	var rejection *lifecycle.Rejection

	if errors.As(err, &rejection) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, apperrors.ErrInvalidInput) {
		return
	}

	s.logger.Error(msg, append([]interface{}{"error", err}, keyvals...)...)
}

// CreateOrderInput carries everything captured at checkout
type CreateOrderInput struct {
	Items             []models.LineItem
	Customer          models.CustomerInfo
	FulfillmentMethod models.FulfillmentMethod
	ShippingAddress   *models.Address
	SubtotalCents     int64
	ShippingCents     int64
	TaxCents          int64
	TotalCents        int64
	PaymentID         string
}

func (in CreateOrderInput) validate() error {
	if len(in.Items) == 0 {
		return apperrors.NewInvalidInputError("Order must contain at least one item")
	}

	for i, item := range in.Items {
		if item.Quantity < 1 || item.Quantity > MaxItemQuantity {
			return apperrors.NewInvalidInputError(fmt.Sprintf("Item %d must have a quantity between 1 and %d", i+1, MaxItemQuantity))
		}
		if item.UnitPriceCents < 0 {
			return apperrors.NewInvalidInputError(fmt.Sprintf("Item %d has a negative price", i+1))
		}
		if strings.TrimSpace(item.ProductID) == "" {
			return apperrors.NewInvalidInputError(fmt.Sprintf("Item %d is missing a product", i+1))
		}
	}

	if strings.TrimSpace(in.Customer.Email) == "" {
		return apperrors.NewInvalidInputError("Customer email is required")
	}

	if !in.FulfillmentMethod.IsValid() {
		return apperrors.NewInvalidInputError("Fulfillment method must be pickup or shipping")
	}

	if in.FulfillmentMethod == models.FulfillmentShipping && in.ShippingAddress == nil {
		return apperrors.NewInvalidInputError("Shipping address is required for shipping orders")
	}

	if in.FulfillmentMethod == models.FulfillmentPickup && in.ShippingAddress != nil {
		return apperrors.NewInvalidInputError("Pickup orders must not carry a shipping address")
	}

	if in.SubtotalCents < 0 || in.ShippingCents < 0 || in.TaxCents < 0 {
		return apperrors.NewInvalidInputError("Order amounts must not be negative")
	}

	if in.TotalCents != in.SubtotalCents+in.ShippingCents+in.TaxCents {
		return apperrors.NewInvalidInputError("Order total must equal subtotal plus shipping plus tax")
	}

	return nil
}

// CreateOrder stores a new confirmed order with its initial audit entry
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()

	order := &models.Order{
		ID:                models.GenerateID("ord"),
		Status:            models.StatusConfirmed,
		FulfillmentMethod: in.FulfillmentMethod,
		Items:             append(models.LineItems(nil), in.Items...),
		CustomerInfo:      in.Customer,
		ShippingAddress:   in.ShippingAddress,
		SubtotalCents:     in.SubtotalCents,
		ShippingCents:     in.ShippingCents,
		TaxCents:          in.TaxCents,
		TotalCents:        in.TotalCents,
		PaymentID:         in.PaymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	entry := models.NewStatusAuditEntry(order.ID, models.AuditStatusChange, models.ActorSystem, nil, models.StatusConfirmed, nil, now)

	outboxMsg, err := models.NewOrderCreatedEvent(order, now)

	if err != nil {
		s.logger.Error("Failed to create outbox message", "error", err)
		return nil, fmt.Errorf("failed to create outbox message: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AppendAuditEntry(ctx, entry); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, outboxMsg)
	})

	if err != nil {
		s.logFailure("Failed to create order", err)
		return nil, err
	}

	s.metrics.recordCreated(ctx, order.FulfillmentMethod)
	s.logger.Info("Order created", "orderID", order.ID, "fulfillment", order.FulfillmentMethod, "total", order.TotalCents)

	return order, nil
}

// ChangeStatusInput asks for one order to move to a new status
type ChangeStatusInput struct {
	OrderID string
	Target  models.OrderStatus
	Note    string
	Actor   string
}

// StatusChange describes a committed transition
type StatusChange struct {
	Order *models.Order
	From  models.OrderStatus
	To    models.OrderStatus
}

// ChangeStatus validates and commits a status transition. The validator runs
// against the row locked inside the transaction, so it always sees the last
// committed status.
func (s *OrderService) ChangeStatus(ctx context.Context, in ChangeStatusInput) (*StatusChange, error) {
	return s.changeStatus(ctx, in, models.AuditStatusChange)
}

func (s *OrderService) changeStatus(ctx context.Context, in ChangeStatusInput, action models.AuditAction) (*StatusChange, error) {
	if !in.Target.IsValid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown status %q", in.Target))
	}

	note, err := s.operatorText(in.Note, "Note")
	if err != nil {
		return nil, err
	}

	actor := actorOrDefault(in.Actor)

	var change *StatusChange

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, in.OrderID)

		if err != nil {
			return err
		}

		if err := lifecycle.Validate(order.Status, order.FulfillmentMethod, in.Target, note); err != nil {
			return err
		}

		from := order.Status
		now := s.now()
		expected := order.Version

		order.Status = in.Target
		order.UpdatedAt = now

		if err := tx.UpdateOrder(ctx, order, expected); err != nil {
			return err
		}

		notePtr := models.StringPtr(note)
		entry := models.NewStatusAuditEntry(order.ID, action, actor, models.StatusPtr(from), in.Target, notePtr, now)

		if err := tx.AppendAuditEntry(ctx, entry); err != nil {
			return err
		}

		outboxMsg, err := models.NewOrderStatusChangedEvent(order, from, notePtr, actor, now)

		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := tx.EnqueueOutbox(ctx, outboxMsg); err != nil {
			return err
		}

		change = &StatusChange{Order: order, From: from, To: in.Target}
		return nil
	})

	if err != nil {
		var rejection *lifecycle.Rejection
		if errors.As(err, &rejection) {
			s.metrics.recordRejection(ctx, rejection.Kind, in.Target)
		}

		s.logFailure("Failed to change order status", err, "orderID", in.OrderID, "target", in.Target)
		return nil, err
	}

	s.metrics.recordTransition(ctx, action, change.From, change.To)
	s.logger.Info("Order status changed",
		"orderID", change.Order.ID,
		"from", change.From,
		"to", change.To,
		"action", action,
		"actor", actor)

	return change, nil
}

// SetTracking overwrites the tracking number of a shipping order
func (s *OrderService) SetTracking(ctx context.Context, orderID, trackingNumber, actor string) (*models.Order, error) {
	tracking, err := s.operatorText(trackingNumber, "Tracking number")
	if err != nil {
		return nil, err
	}

	if tracking == "" {
		return nil, apperrors.NewInvalidInputError("Tracking number is required")
	}

	actor = actorOrDefault(actor)

	var updated *models.Order

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)

		if err != nil {
			return err
		}

		if order.FulfillmentMethod != models.FulfillmentShipping {
			return &lifecycle.Rejection{
				Kind:    lifecycle.FulfillmentMismatch,
				Detail:  "Tracking numbers can only be added to shipping orders",
				Allowed: lifecycle.AllowedTargets(order.Status, order.FulfillmentMethod),
			}
		}

		var previous interface{}
		if order.TrackingNumber != nil {
			previous = *order.TrackingNumber
		}

		now := s.now()
		expected := order.Version

		order.TrackingNumber = &tracking
		order.UpdatedAt = now

		if err := tx.UpdateOrder(ctx, order, expected); err != nil {
			return err
		}

		entry := models.NewAuditLogEntry(order.ID, models.AuditTrackingAdded, actor, now)
		entry.Metadata = models.AuditMetadata{
			"trackingNumber":   tracking,
			"previousTracking": previous,
		}

		if err := tx.AppendAuditEntry(ctx, entry); err != nil {
			return err
		}

		outboxMsg, err := models.NewOrderTrackingAddedEvent(order, actor, now)

		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := tx.EnqueueOutbox(ctx, outboxMsg); err != nil {
			return err
		}

		updated = order
		return nil
	})

	if err != nil {
		s.logFailure("Failed to set tracking number", err, "orderID", orderID)
		return nil, err
	}

	s.logger.Info("Tracking number set", "orderID", orderID, "actor", actor)
	return updated, nil
}

// SetNote overwrites the admin note of an order
func (s *OrderService) SetNote(ctx context.Context, orderID, note, actor string) (*models.Order, error) {
	cleaned, err := s.operatorText(note, "Note")
	if err != nil {
		return nil, err
	}

	if cleaned == "" {
		return nil, apperrors.NewInvalidInputError("Note is required")
	}

	actor = actorOrDefault(actor)

	var updated *models.Order

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)

		if err != nil {
			return err
		}

		var previous interface{}
		if order.AdminNotes != nil {
			previous = *order.AdminNotes
		}

		now := s.now()
		expected := order.Version

		order.AdminNotes = &cleaned
		order.UpdatedAt = now

		if err := tx.UpdateOrder(ctx, order, expected); err != nil {
			return err
		}

		entry := models.NewAuditLogEntry(order.ID, models.AuditNoteAdded, actor, now)
		entry.Note = &cleaned
		entry.Metadata = models.AuditMetadata{"previousNote": previous}

		if err := tx.AppendAuditEntry(ctx, entry); err != nil {
			return err
		}

		outboxMsg, err := models.NewOrderNoteAddedEvent(order, actor, now)

		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := tx.EnqueueOutbox(ctx, outboxMsg); err != nil {
			return err
		}

		updated = order
		return nil
	})

	if err != nil {
		s.logFailure("Failed to set admin note", err, "orderID", orderID)
		return nil, err
	}

	s.logger.Info("Admin note set", "orderID", orderID, "actor", actor)
	return updated, nil
}

// OrderDetail is an order with its full audit trail
type OrderDetail struct {
	Order              *models.Order           `json:"order"`
	AuditLog           []*models.AuditLogEntry `json:"auditLog"`
	AllowedTransitions []models.OrderStatus    `json:"allowedTransitions"`
}

// GetOrderWithAuditLog loads an order and its audit log, oldest entry first
func (s *OrderService) GetOrderWithAuditLog(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.store.GetOrder(ctx, orderID)

	if err != nil {
		s.logFailure("Failed to get order", err, "orderID", orderID)
		return nil, err
	}

	entries, err := s.store.ListAuditLog(ctx, orderID)

	if err != nil {
		s.logFailure("Failed to get audit log", err, "orderID", orderID)
		return nil, err
	}

	order.StatusHistory = models.StatusHistoryFromAudit(entries)

	return &OrderDetail{
		Order:              order,
		AuditLog:           entries,
		AllowedTransitions: lifecycle.AllowedTargets(order.Status, order.FulfillmentMethod),
	}, nil
}

// Pagination describes a page of results
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func newPagination(page, pageSize, total int) Pagination {
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}
}

// AuditLogQuery selects a page of an order's audit log
type AuditLogQuery struct {
	Page     int
	PageSize int
	Action   models.AuditAction
}

// AuditLogPage is one page of audit entries
type AuditLogPage struct {
	Entries    []*models.AuditLogEntry `json:"data"`
	Pagination Pagination              `json:"pagination"`
}

// GetAuditLog pages through an order's audit log. A missing order is NotFound
// even though its log would simply be empty.
func (s *OrderService) GetAuditLog(ctx context.Context, orderID string, q AuditLogQuery) (*AuditLogPage, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		s.logFailure("Failed to get order", err, "orderID", orderID)
		return nil, err
	}

	page, pageSize := normalizePage(q.Page, q.PageSize)

	entries, total, err := s.store.ListAuditLogPage(ctx, orderID,
		repository.AuditFilter{Action: q.Action},
		repository.Page{Limit: pageSize, Offset: (page - 1) * pageSize},
	)

	if err != nil {
		s.logFailure("Failed to page audit log", err, "orderID", orderID)
		return nil, err
	}

	return &AuditLogPage{
		Entries:    entries,
		Pagination: newPagination(page, pageSize, total),
	}, nil
}
