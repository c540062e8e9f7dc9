package repository

import (
	"context"

	"github.com/vaidashi/lavender-orders/internal/models"
)

// MemoryOutbox exposes the outbox messages of a MemoryStore
type MemoryOutbox struct {
	store *MemoryStore
}

// Outbox returns the outbox view of the store
func (s *MemoryStore) Outbox() *MemoryOutbox {
	return &MemoryOutbox{store: s}
}

func (o *MemoryOutbox) find(id int64) *models.OutboxMessage {
	for _, msg := range o.store.outbox {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (o *MemoryOutbox) update(id int64, fn func(msg *models.OutboxMessage)) error {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()

	msg := o.find(id)
	if msg == nil {
		return ErrNotFound
	}

	fn(msg)
	return nil
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (o *MemoryOutbox) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	return o.list(models.OutboxStatusPending, limit), nil
}

// Messages returns every message regardless of status
func (o *MemoryOutbox) Messages() []*models.OutboxMessage {
	return o.list("", 0)
}

func (o *MemoryOutbox) list(status models.OutboxStatus, limit int) []*models.OutboxMessage {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()

	out := []*models.OutboxMessage{}

	for _, msg := range o.store.outbox {
		if status != "" && msg.Status != status {
			continue
		}
		m := *msg
		out = append(out, &m)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out
}

// MarkAsProcessing records a delivery attempt
func (o *MemoryOutbox) MarkAsProcessing(ctx context.Context, id int64) error {
	return o.update(id, func(msg *models.OutboxMessage) {
		msg.Status = models.OutboxStatusProcessing
		msg.ProcessingAttempts++
	})
}

// MarkAsPending returns a message to the queue after a failed attempt
func (o *MemoryOutbox) MarkAsPending(ctx context.Context, id int64, errorMessage string) error {
	return o.update(id, func(msg *models.OutboxMessage) {
		msg.Status = models.OutboxStatusPending
		msg.LastError = &errorMessage
	})
}

// MarkAsCompleted updates the status of an outbox message to completed
func (o *MemoryOutbox) MarkAsCompleted(ctx context.Context, id int64) error {
	return o.update(id, func(msg *models.OutboxMessage) {
		now := models.GetCurrentTime()
		msg.Status = models.OutboxStatusCompleted
		msg.ProcessedAt = &now
	})
}

// MarkAsFailed updates the status of an outbox message to failed
func (o *MemoryOutbox) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return o.update(id, func(msg *models.OutboxMessage) {
		msg.Status = models.OutboxStatusFailed
		msg.LastError = &errorMessage
	})
}

// MemoryDeadLetters exposes the dead letter queue of a MemoryStore
type MemoryDeadLetters struct {
	store *MemoryStore
}

// DeadLetters returns the dead letter view of the store
func (s *MemoryStore) DeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{store: s}
}

// Create inserts a new dead letter message
func (d *MemoryDeadLetters) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	d.store.nextDLQ++
	message.ID = d.store.nextDLQ

	m := *message
	d.store.deadLetters = append(d.store.deadLetters, &m)
	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (d *MemoryDeadLetters) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	messages, _, err := d.List(ctx, models.DeadLetterStatusPending, Page{Limit: limit})
	return messages, err
}

// List returns dead letters, optionally restricted to one status, oldest first
func (d *MemoryDeadLetters) List(ctx context.Context, status models.DeadLetterStatus, page Page) ([]*models.DeadLetterMessage, int, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	matched := []*models.DeadLetterMessage{}

	for _, msg := range d.store.deadLetters {
		if status == "" || msg.Status == status {
			m := *msg
			matched = append(matched, &m)
		}
	}

	window := applyPage(len(matched), page)
	return matched[window.start:window.end], len(matched), nil
}

// GetMessage retrieves a message by ID
func (d *MemoryDeadLetters) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	for _, msg := range d.store.deadLetters {
		if msg.ID == id {
			m := *msg
			return &m, nil
		}
	}

	return nil, ErrNotFound
}

func (d *MemoryDeadLetters) update(id int64, fn func(msg *models.DeadLetterMessage) bool) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	for _, msg := range d.store.deadLetters {
		if msg.ID == id {
			if !fn(msg) {
				return ErrNotFound
			}
			return nil
		}
	}

	return ErrNotFound
}

// MarkAsRetrying marks a message as being retried
func (d *MemoryDeadLetters) MarkAsRetrying(ctx context.Context, id int64) error {
	return d.update(id, func(msg *models.DeadLetterMessage) bool {
		now := models.GetCurrentTime()
		msg.Status = models.DeadLetterStatusRetrying
		msg.RetryCount++
		msg.LastRetryAt = &now
		return true
	})
}

// MarkAsResolved marks a message as resolved
func (d *MemoryDeadLetters) MarkAsResolved(ctx context.Context, id int64) error {
	return d.update(id, func(msg *models.DeadLetterMessage) bool {
		now := models.GetCurrentTime()
		msg.Status = models.DeadLetterStatusResolved
		msg.ResolvedAt = &now
		return true
	})
}

// MarkAsDiscarded marks a message as permanently discarded
func (d *MemoryDeadLetters) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	return d.update(id, func(msg *models.DeadLetterMessage) bool {
		now := models.GetCurrentTime()
		msg.Status = models.DeadLetterStatusDiscarded
		msg.FailureReason += " | Discarded: " + reason
		msg.ResolvedAt = &now
		return true
	})
}

// ResetToPending puts a retrying message back in the queue
func (d *MemoryDeadLetters) ResetToPending(ctx context.Context, id int64) error {
	return d.update(id, func(msg *models.DeadLetterMessage) bool {
		if msg.Status != models.DeadLetterStatusRetrying {
			return false
		}
		msg.Status = models.DeadLetterStatusPending
		return true
	})
}
