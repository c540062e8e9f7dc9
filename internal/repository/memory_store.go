package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/text/cases"

	"github.com/vaidashi/lavender-orders/internal/models"
)

// MemoryStore keeps orders, audit entries, outbox messages and dead letters
// in process memory. A transaction holds the store lock until it finishes,
// so transactions on the same store are serialised.
type MemoryStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	audit       map[string][]*models.AuditLogEntry
	outbox      []*models.OutboxMessage
	deadLetters []*models.DeadLetterMessage
	nextOutbox  int64
	nextDLQ     int64
	fold        cases.Caser
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
		audit:  make(map[string][]*models.AuditLogEntry),
		fold:   cases.Fold(),
	}
}

// WithTx runs fn against a staged copy of the touched rows and applies the
// staged writes only when fn returns nil
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrapf(ErrDatabase, "begin transaction: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, orders: make(map[string]*models.Order)}

	if err := fn(tx); err != nil {
		return err
	}

	for id, order := range tx.orders {
		s.orders[id] = order
	}
	for _, entry := range tx.audit {
		s.audit[entry.OrderID] = append(s.audit[entry.OrderID], entry)
	}
	for _, msg := range tx.outbox {
		s.nextOutbox++
		msg.ID = s.nextOutbox
		s.outbox = append(s.outbox, msg)
	}

	return nil
}

// GetOrder retrieves an order by its ID
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}

	return order.Clone(), nil
}

func (s *MemoryStore) matches(order *models.Order, filter OrderFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if order.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.Fulfillment != "" && order.FulfillmentMethod != filter.Fulfillment {
		return false
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		needle := s.fold.String(search)
		found := false

		for _, field := range []string{order.ID, order.Email, order.FirstName, order.LastName, order.Phone} {
			if strings.Contains(s.fold.String(field), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.CreatedFrom != nil && order.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}

	if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}

	return true
}

func lessOrders(a, b *models.Order, sortBy OrderSort) bool {
	var cmp int

	switch sortBy.Field {
	case SortUpdatedAt:
		cmp = a.UpdatedAt.Compare(b.UpdatedAt)
	case SortTotal:
		cmp = compareInt64(a.TotalCents, b.TotalCents)
	case SortStatus:
		cmp = compareInt64(int64(a.Status.Rank()), int64(b.Status.Rank()))
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}

	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}

	if sortBy.Desc {
		return cmp > 0
	}
	return cmp < 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ListOrders returns one page of orders matching filter plus the total match count
func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter, sortBy OrderSort, page Page) ([]*models.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.Order, 0, len(s.orders))

	for _, order := range s.orders {
		if s.matches(order, filter) {
			matched = append(matched, order)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return lessOrders(matched[i], matched[j], sortBy)
	})

	total := len(matched)
	window := applyPage(len(matched), page)

	out := make([]*models.Order, 0, window.end-window.start)
	for _, order := range matched[window.start:window.end] {
		out = append(out, order.Clone())
	}

	return out, total, nil
}

// CountByStatus counts orders matching filter grouped by status
func (s *MemoryStore) CountByStatus(ctx context.Context, filter OrderFilter) (map[models.OrderStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.OrderStatus]int, len(models.AllStatuses))

	for _, order := range s.orders {
		if s.matches(order, filter) {
			counts[order.Status]++
		}
	}

	return counts, nil
}

// ListAuditLog returns every audit entry for an order, oldest first
func (s *MemoryStore) ListAuditLog(ctx context.Context, orderID string) ([]*models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.audit[orderID]
	out := make([]*models.AuditLogEntry, len(entries))

	for i, entry := range entries {
		out[i] = entry.Clone()
	}

	return out, nil
}

// ListAuditLogPage returns one page of audit entries, oldest first
func (s *MemoryStore) ListAuditLogPage(ctx context.Context, orderID string, filter AuditFilter, page Page) ([]*models.AuditLogEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.AuditLogEntry, 0, len(s.audit[orderID]))

	for _, entry := range s.audit[orderID] {
		if filter.Action == "" || entry.Action == filter.Action {
			matched = append(matched, entry.Clone())
		}
	}

	window := applyPage(len(matched), page)

	return matched[window.start:window.end], len(matched), nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

type pageWindow struct {
	start, end int
}

func applyPage(n int, page Page) pageWindow {
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}

	end := n
	if page.Limit > 0 && start+page.Limit < n {
		end = start + page.Limit
	}

	return pageWindow{start: start, end: end}
}

// memoryTx stages writes until the surrounding WithTx commits
type memoryTx struct {
	store  *MemoryStore
	orders map[string]*models.Order
	audit  []*models.AuditLogEntry
	outbox []*models.OutboxMessage
}

func (t *memoryTx) lookup(id string) (*models.Order, bool) {
	if order, ok := t.orders[id]; ok {
		return order, true
	}
	order, ok := t.store.orders[id]
	return order, ok
}

// GetOrderForUpdate returns a copy of the order as seen by this transaction
func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	order, ok := t.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

// InsertOrder stages a new order
func (t *memoryTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, exists := t.lookup(order.ID); exists {
		return pkgerrors.Wrapf(ErrDatabase, "insert order %s: duplicate id", order.ID)
	}

	t.orders[order.ID] = order.Clone()
	return nil
}

// UpdateOrder stages the mutable fields of order when the version matches
func (t *memoryTx) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	current, ok := t.lookup(order.ID)
	if !ok {
		return ErrNotFound
	}

	if current.Version != expectedVersion {
		return pkgerrors.Wrapf(ErrConflict, "order %s changed since version %d", order.ID, expectedVersion)
	}

	updated := current.Clone()
	updated.Status = order.Status
	updated.TrackingNumber = order.TrackingNumber
	updated.AdminNotes = order.AdminNotes
	updated.UpdatedAt = order.UpdatedAt
	updated.Version = expectedVersion + 1

	t.orders[order.ID] = updated
	order.Version = updated.Version
	return nil
}

// AppendAuditEntry stages an audit entry
func (t *memoryTx) AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	t.audit = append(t.audit, entry.Clone())
	return nil
}

// EnqueueOutbox stages an outbox message
func (t *memoryTx) EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error {
	t.outbox = append(t.outbox, message)
	return nil
}
