package handlers

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Dispatcher consumes a serialized order event
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte) error
}

// OrderEventsHandler feeds order events from Kafka to the notification dispatcher
type OrderEventsHandler struct {
	dispatcher Dispatcher
	logger     logger.Logger
}

// NewOrderEventsHandler creates a new OrderEventsHandler
func NewOrderEventsHandler(dispatcher Dispatcher, logger logger.Logger) *OrderEventsHandler {
	return &OrderEventsHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleMessage handles incoming order events from Kafka messages
func (h *OrderEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	eventType := ""
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == "event_type" {
			eventType = string(header.Value)
		}
	}

	h.logger.Debug("Handling order event",
		"eventType", eventType,
		"orderID", string(msg.Key),
		"partition", msg.Partition,
		"offset", msg.Offset)

	if err := h.dispatcher.Dispatch(ctx, msg.Value); err != nil {
		return fmt.Errorf("failed to handle order event at offset %d: %w", msg.Offset, err)
	}

	return nil
}
