package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vaidashi/lavender-orders/internal/models"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

var (
	ErrNotFound = apperrors.ErrNotFound
	ErrConflict = apperrors.ErrConflict
	ErrDatabase = errors.New("database error")
)

// SortField is a column orders can be sorted by
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortTotal     SortField = "total"
	SortStatus    SortField = "status"
)

// ParseSortField converts a query value into a sort field
func ParseSortField(s string) (SortField, bool) {
	switch field := SortField(s); field {
	case SortCreatedAt, SortUpdatedAt, SortTotal, SortStatus:
		return field, true
	}
	return "", false
}

// OrderSort orders a listing. Ties are broken by id in the same direction.
type OrderSort struct {
	Field SortField
	Desc  bool
}

// DefaultOrderSort is newest first
var DefaultOrderSort = OrderSort{Field: SortCreatedAt, Desc: true}

// OrderFilter narrows an order listing. Zero values match everything.
type OrderFilter struct {
	Statuses    []models.OrderStatus
	Fulfillment models.FulfillmentMethod
	// Search is matched case-insensitively as a substring of the order id,
	// customer email, first name, last name and phone
	Search string
	// CreatedFrom is inclusive
	CreatedFrom *time.Time
	// CreatedBefore is exclusive
	CreatedBefore *time.Time
}

// WithoutStatuses returns a copy of f that matches every status
func (f OrderFilter) WithoutStatuses() OrderFilter {
	f.Statuses = nil
	return f
}

// Page is a limit/offset window
type Page struct {
	Limit  int
	Offset int
}

// AuditFilter narrows an audit log listing
type AuditFilter struct {
	Action models.AuditAction
}

// Store is the durable home of orders and their audit log
type Store interface {
	// WithTx runs fn inside a transaction, committing when fn returns nil
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, sort OrderSort, page Page) ([]*models.Order, int, error)
	CountByStatus(ctx context.Context, filter OrderFilter) (map[models.OrderStatus]int, error)

	// ListAuditLog returns every entry for an order, oldest first
	ListAuditLog(ctx context.Context, orderID string) ([]*models.AuditLogEntry, error)
	ListAuditLogPage(ctx context.Context, orderID string, filter AuditFilter, page Page) ([]*models.AuditLogEntry, int, error)

	Ping(ctx context.Context) error
}

// Tx is the set of writes that must commit together
type Tx interface {
	// GetOrderForUpdate loads an order and holds it until the transaction ends
	GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	// UpdateOrder persists the mutable fields of order if its stored version
	// still equals expectedVersion, then bumps order.Version
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
	EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error
}
