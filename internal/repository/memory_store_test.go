package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaidashi/lavender-orders/internal/models"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, s *MemoryStore, id string, status models.OrderStatus, method models.FulfillmentMethod, total int64, created time.Time, customer models.CustomerInfo) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:                id,
		Status:            status,
		FulfillmentMethod: method,
		Items:             models.LineItems{{ProductID: "prod_1", Name: "Lavender Sachet", Quantity: 1, UnitPriceCents: total}},
		CustomerInfo:      customer,
		SubtotalCents:     total,
		TotalCents:        total,
		CreatedAt:         created,
		UpdatedAt:         created,
	}

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertOrder(context.Background(), order)
	})
	require.NoError(t, err)
	return order
}

func seedFixture(t *testing.T) *MemoryStore {
	t.Helper()

	s := NewMemoryStore()
	seedOrder(t, s, "ord-a", models.StatusConfirmed, models.FulfillmentPickup, 1500, base,
		models.CustomerInfo{Email: "jane@example.com", FirstName: "Jane", LastName: "Smith", Phone: "555-0101"})
	seedOrder(t, s, "ord-b", models.StatusProcessing, models.FulfillmentShipping, 4200, base.Add(24*time.Hour),
		models.CustomerInfo{Email: "bob@farm.test", FirstName: "Bob", LastName: "Jones", Phone: "555-0199"})
	seedOrder(t, s, "ord-c", models.StatusCompleted, models.FulfillmentShipping, 900, base.Add(48*time.Hour),
		models.CustomerInfo{Email: "ANNA@EXAMPLE.COM", FirstName: "Anna", LastName: "Smithers"})
	seedOrder(t, s, "ord-d", models.StatusCancelled, models.FulfillmentPickup, 3000, base.Add(72*time.Hour),
		models.CustomerInfo{Email: "li@example.org", FirstName: "Li", LastName: "Wei"})
	return s
}

func ids(orders []*models.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "ord-a")
		require.NoError(t, err)

		order.Status = models.StatusProcessing
		require.NoError(t, tx.UpdateOrder(ctx, order, order.Version))
		require.NoError(t, tx.AppendAuditEntry(ctx, models.NewAuditLogEntry("ord-a", models.AuditStatusChange, models.ActorAdmin, base)))
		require.NoError(t, tx.EnqueueOutbox(ctx, &models.OutboxMessage{AggregateID: "ord-a", Status: models.OutboxStatusPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, order.Status)

	entries, err := s.ListAuditLog(ctx, "ord-a")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, s.Outbox().Messages())
}

func TestMemoryStoreCommitsTransaction(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "ord-a")
		require.NoError(t, err)

		order.Status = models.StatusProcessing
		require.NoError(t, tx.UpdateOrder(ctx, order, order.Version))
		require.Equal(t, int64(1), order.Version)

		reread, err := tx.GetOrderForUpdate(ctx, "ord-a")
		require.NoError(t, err)
		require.Equal(t, models.StatusProcessing, reread.Status)

		require.NoError(t, tx.AppendAuditEntry(ctx, models.NewAuditLogEntry("ord-a", models.AuditStatusChange, models.ActorAdmin, base)))
		return tx.EnqueueOutbox(ctx, &models.OutboxMessage{AggregateID: "ord-a", Status: models.OutboxStatusPending})
	})
	require.NoError(t, err)

	order, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, order.Status)
	require.Equal(t, int64(1), order.Version)

	entries, err := s.ListAuditLog(ctx, "ord-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	messages := s.Outbox().Messages()
	require.Len(t, messages, 1)
	require.Equal(t, int64(1), messages[0].ID)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "ord-a")
		require.NoError(t, err)
		order.Status = models.StatusProcessing
		return tx.UpdateOrder(ctx, order, order.Version+5)
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreStaleVersionConflict(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	stale, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "ord-a")
		require.NoError(t, err)
		order.Status = models.StatusProcessing
		return tx.UpdateOrder(ctx, order, order.Version)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Tx) error {
		stale.Status = models.StatusCancelled
		return tx.UpdateOrder(ctx, stale, stale.Version)
	})
	require.ErrorIs(t, err, ErrConflict)

	current, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, current.Status)
	require.Equal(t, stale.Version+1, current.Version)
}

func TestMemoryStoreGetOrderReturnsCopy(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	order, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)
	order.Status = models.StatusCancelled
	order.Items[0].Quantity = 99

	again, err := s.GetOrder(ctx, "ord-a")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, again.Status)
	require.Equal(t, 1, again.Items[0].Quantity)

	_, err = s.GetOrder(ctx, "ord-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListFilters(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter OrderFilter
		want   []string
	}{
		{"all", OrderFilter{}, []string{"ord-d", "ord-c", "ord-b", "ord-a"}},
		{"active", OrderFilter{Statuses: models.ActiveStatuses()}, []string{"ord-b", "ord-a"}},
		{"archived", OrderFilter{Statuses: models.ArchivedStatuses()}, []string{"ord-d", "ord-c"}},
		{"shipping", OrderFilter{Fulfillment: models.FulfillmentShipping}, []string{"ord-c", "ord-b"}},
		{"search last name substring", OrderFilter{Search: "smith"}, []string{"ord-c", "ord-a"}},
		{"search email case-insensitive", OrderFilter{Search: "anna@example"}, []string{"ord-c"}},
		{"search phone", OrderFilter{Search: "0199"}, []string{"ord-b"}},
		{"search id", OrderFilter{Search: "ORD-D"}, []string{"ord-d"}},
		{"date range", OrderFilter{CreatedFrom: ptrTime(base.Add(24 * time.Hour)), CreatedBefore: ptrTime(base.Add(72 * time.Hour))}, []string{"ord-c", "ord-b"}},
		{"no match", OrderFilter{Search: "nobody"}, []string{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			orders, total, err := s.ListOrders(ctx, tc.filter, DefaultOrderSort, Page{Limit: 20})
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(orders))
			require.Equal(t, len(tc.want), total)
		})
	}
}

func TestMemoryStoreListSortingAndPaging(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	orders, _, err := s.ListOrders(ctx, OrderFilter{}, OrderSort{Field: SortTotal}, Page{Limit: 20})
	require.NoError(t, err)
	require.Equal(t, []string{"ord-c", "ord-a", "ord-d", "ord-b"}, ids(orders))

	orders, _, err = s.ListOrders(ctx, OrderFilter{}, OrderSort{Field: SortStatus, Desc: true}, Page{Limit: 20})
	require.NoError(t, err)
	require.Equal(t, []string{"ord-d", "ord-c", "ord-b", "ord-a"}, ids(orders))

	orders, total, err := s.ListOrders(ctx, OrderFilter{}, OrderSort{Field: SortCreatedAt}, Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, []string{"ord-c", "ord-d"}, ids(orders))

	orders, total, err = s.ListOrders(ctx, OrderFilter{}, DefaultOrderSort, Page{Limit: 2, Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Empty(t, orders)
}

func TestMemoryStoreCountByStatus(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)

	counts, err := s.CountByStatus(context.Background(), OrderFilter{Fulfillment: models.FulfillmentShipping})
	require.NoError(t, err)
	require.Equal(t, map[models.OrderStatus]int{
		models.StatusProcessing: 1,
		models.StatusCompleted:  1,
	}, counts)
}

func TestMemoryStoreAuditPage(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		actions := []models.AuditAction{models.AuditStatusChange, models.AuditNoteAdded, models.AuditStatusChange, models.AuditTrackingAdded}
		for i, action := range actions {
			entry := models.NewAuditLogEntry("ord-b", action, models.ActorAdmin, base.Add(time.Duration(i)*time.Minute))
			if err := tx.AppendAuditEntry(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries, total, err := s.ListAuditLogPage(ctx, "ord-b", AuditFilter{}, Page{Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, entries, 3)
	require.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt))

	entries, total, err = s.ListAuditLogPage(ctx, "ord-b", AuditFilter{Action: models.AuditStatusChange}, Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	for _, e := range entries {
		require.Equal(t, models.AuditStatusChange, e.Action)
	}
}

func TestMemoryStoreAuditEntriesAreImmutable(t *testing.T) {
	t.Parallel()

	s := seedFixture(t)
	ctx := context.Background()

	note := "address issue"
	entry := models.NewStatusAuditEntry("ord-a", models.AuditStatusChange, models.ActorAdmin,
		models.StatusPtr(models.StatusConfirmed), models.StatusOnHold, &note, base)
	entry.Metadata = models.AuditMetadata{"source": "admin"}

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.AppendAuditEntry(ctx, entry)
	})
	require.NoError(t, err)

	// Mutating the appended value must not reach the log
	note = "rewritten"
	entry.Metadata["source"] = "caller"

	entries, err := s.ListAuditLog(ctx, "ord-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	*entries[0].Note = "changed"
	*entries[0].FromStatus = models.StatusCancelled
	*entries[0].ToStatus = models.StatusCompleted
	entries[0].Metadata["source"] = "changed"

	page, _, err := s.ListAuditLogPage(ctx, "ord-a", AuditFilter{}, Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	page[0].Metadata["extra"] = true

	again, err := s.ListAuditLog(ctx, "ord-a")
	require.NoError(t, err)
	require.Equal(t, "address issue", *again[0].Note)
	require.Equal(t, models.StatusConfirmed, *again[0].FromStatus)
	require.Equal(t, models.StatusOnHold, *again[0].ToStatus)
	require.Equal(t, models.AuditMetadata{"source": "admin"}, again[0].Metadata)
}

func TestMemoryOutboxLifecycle(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.EnqueueOutbox(ctx, &models.OutboxMessage{EventType: models.EventOrderCreated, Status: models.OutboxStatusPending})
	})
	require.NoError(t, err)

	outbox := s.Outbox()
	pending, err := outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	id := pending[0].ID
	require.NoError(t, outbox.MarkAsProcessing(ctx, id))
	require.NoError(t, outbox.MarkAsPending(ctx, id, "broker down"))

	pending, err = outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].ProcessingAttempts)
	require.Equal(t, "broker down", *pending[0].LastError)

	require.NoError(t, outbox.MarkAsCompleted(ctx, id))
	pending, err = outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.ErrorIs(t, outbox.MarkAsFailed(ctx, 999, "x"), ErrNotFound)
}

func TestMemoryDeadLetters(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	dlq := s.DeadLetters()

	msg := models.NewDeadLetterMessage(&models.OutboxMessage{ID: 7, AggregateID: "ord-a", EventType: models.EventOrderCreated}, "boom", "max retries")
	require.NoError(t, dlq.Create(ctx, msg))
	require.Equal(t, int64(1), msg.ID)

	require.NoError(t, dlq.MarkAsRetrying(ctx, msg.ID))
	require.NoError(t, dlq.ResetToPending(ctx, msg.ID))
	require.ErrorIs(t, dlq.ResetToPending(ctx, msg.ID), ErrNotFound)

	require.NoError(t, dlq.MarkAsDiscarded(ctx, msg.ID, "operator"))

	stored, err := dlq.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.DeadLetterStatusDiscarded, stored.Status)
	require.Equal(t, 1, stored.RetryCount)
	require.Contains(t, stored.FailureReason, "Discarded: operator")

	listed, total, err := dlq.List(ctx, models.DeadLetterStatusPending, Page{Limit: 10})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, listed)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
