package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Event types published for orders
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderTrackingAdded = "order_tracking_added"
	EventOrderNoteAdded     = "order_note_added"
)

const AggregateOrder = "order"

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregateType"`
	AggregateID        string       `db:"aggregate_id" json:"aggregateId"`
	EventType          string       `db:"event_type" json:"eventType"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processedAt,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processingAttempts"`
	LastError          *string      `db:"last_error" json:"lastError,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the JSON envelope stored in an outbox payload
type OutboxMessageEvent struct {
	EventType   string          `json:"eventType"`
	EventID     string          `json:"eventId"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

// OrderEventData is the data carried by every order event
type OrderEventData struct {
	Order          *Order       `json:"order"`
	OldStatus      *OrderStatus `json:"oldStatus,omitempty"`
	NewStatus      *OrderStatus `json:"newStatus,omitempty"`
	Note           *string      `json:"note,omitempty"`
	TrackingNumber *string      `json:"trackingNumber,omitempty"`
	Actor          string       `json:"actor"`
}

// DecodeOrderEvent unpacks an outbox payload into its envelope and order data
func DecodeOrderEvent(payload []byte) (*OutboxMessageEvent, *OrderEventData, error) {
	var event OutboxMessageEvent

	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, nil, err
	}

	var data OrderEventData

	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, nil, err
		}
	}

	return &event, &data, nil
}

func newOrderEvent(eventType string, order *Order, data OrderEventData, at time.Time) (*OutboxMessage, error) {
	data.Order = order

	raw, err := json.Marshal(data)

	if err != nil {
		return nil, err
	}

	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateSortableID(),
		AggregateID: order.ID,
		OccurredAt:  at,
		Data:        raw,
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:          eventType,
		Payload:            payload,
		AggregateType:      AggregateOrder,
		AggregateID:        order.ID,
		CreatedAt:          at,
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent creates a new order created event
func NewOrderCreatedEvent(order *Order, at time.Time) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderCreated, order, OrderEventData{
		NewStatus: StatusPtr(order.Status),
		Actor:     ActorSystem,
	}, at)
}

// NewOrderStatusChangedEvent creates a new event for order status change
func NewOrderStatusChangedEvent(order *Order, oldStatus OrderStatus, note *string, actor string, at time.Time) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderStatusChanged, order, OrderEventData{
		OldStatus: StatusPtr(oldStatus),
		NewStatus: StatusPtr(order.Status),
		Note:      note,
		Actor:     actor,
	}, at)
}

// NewOrderTrackingAddedEvent creates a new event for a tracking number update
func NewOrderTrackingAddedEvent(order *Order, actor string, at time.Time) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderTrackingAdded, order, OrderEventData{
		TrackingNumber: order.TrackingNumber,
		Actor:          actor,
	}, at)
}

// NewOrderNoteAddedEvent creates a new event for an admin note update
func NewOrderNoteAddedEvent(order *Order, actor string, at time.Time) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderNoteAdded, order, OrderEventData{
		Note:  order.AdminNotes,
		Actor: actor,
	}, at)
}
