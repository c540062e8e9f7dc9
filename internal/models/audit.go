package models

import (
	"database/sql/driver"
	"time"
)

// AuditAction identifies the kind of change an audit entry records
type AuditAction string

const (
	AuditStatusChange     AuditAction = "status_change"
	AuditBulkStatusChange AuditAction = "bulk_status_change"
	AuditTrackingAdded    AuditAction = "tracking_added"
	AuditNoteAdded        AuditAction = "note_added"
)

const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
)

// ParseAuditAction converts a raw string into a known audit action
func ParseAuditAction(s string) (AuditAction, bool) {
	action := AuditAction(s)

	switch action {
	case AuditStatusChange, AuditBulkStatusChange, AuditTrackingAdded, AuditNoteAdded:
		return action, true
	}

	return "", false
}

// IsStatusAction reports whether the action moved the order between statuses
func (a AuditAction) IsStatusAction() bool {
	return a == AuditStatusChange || a == AuditBulkStatusChange
}

// AuditMetadata is the free-form payload attached to an audit entry
type AuditMetadata map[string]interface{}

// Value implements driver.Valuer
func (m AuditMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSON(map[string]interface{}(m))
}

// Scan implements sql.Scanner
func (m *AuditMetadata) Scan(src interface{}) error {
	return scanJSON(src, (*map[string]interface{})(m))
}

// AuditLogEntry is one immutable record of a change to an order
type AuditLogEntry struct {
	ID         string        `db:"id" json:"id"`
	OrderID    string        `db:"order_id" json:"orderId"`
	Action     AuditAction   `db:"action" json:"action"`
	Actor      string        `db:"actor" json:"actor"`
	FromStatus *OrderStatus  `db:"from_status" json:"fromStatus"`
	ToStatus   *OrderStatus  `db:"to_status" json:"toStatus"`
	Note       *string       `db:"note" json:"note"`
	Metadata   AuditMetadata `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// Clone returns a deep copy of the entry
func (e *AuditLogEntry) Clone() *AuditLogEntry {
	if e == nil {
		return nil
	}

	c := *e

	if e.FromStatus != nil {
		from := *e.FromStatus
		c.FromStatus = &from
	}
	if e.ToStatus != nil {
		to := *e.ToStatus
		c.ToStatus = &to
	}
	if e.Note != nil {
		note := *e.Note
		c.Note = &note
	}
	if e.Metadata != nil {
		c.Metadata = make(AuditMetadata, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}

	return &c
}

// NewAuditLogEntry builds an entry stamped with a fresh sortable id
func NewAuditLogEntry(orderID string, action AuditAction, actor string, at time.Time) *AuditLogEntry {
	return &AuditLogEntry{
		ID:        GenerateSortableID(),
		OrderID:   orderID,
		Action:    action,
		Actor:     actor,
		CreatedAt: at,
	}
}

// NewStatusAuditEntry records a move from one status to another.
// from is nil for the entry written at order creation.
func NewStatusAuditEntry(orderID string, action AuditAction, actor string, from *OrderStatus, to OrderStatus, note *string, at time.Time) *AuditLogEntry {
	entry := NewAuditLogEntry(orderID, action, actor, at)
	entry.FromStatus = from
	entry.ToStatus = &to
	entry.Note = note
	return entry
}

// StatusHistoryFromAudit derives the status history view from an audit log
// ordered oldest first
func StatusHistoryFromAudit(entries []*AuditLogEntry) []StatusHistoryEntry {
	history := make([]StatusHistoryEntry, 0, len(entries))

	for _, e := range entries {
		if !e.Action.IsStatusAction() || e.ToStatus == nil {
			continue
		}

		history = append(history, StatusHistoryEntry{
			Status:    *e.ToStatus,
			Timestamp: e.CreatedAt,
			Note:      e.Note,
		})
	}

	return history
}

// StatusPtr returns a pointer to a copy of s
func StatusPtr(s OrderStatus) *OrderStatus {
	return &s
}
