package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Publisher sends a keyed message to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	publisher Publisher
	topic     string
	logger    logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(publisher Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// HandleMessage publishes the payload keyed by order id, so every event for
// one order lands on the same partition in commit order.
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	headers := map[string]string{
		"event_type":     message.EventType,
		"aggregate_type": message.AggregateType,
	}

	if err := h.publisher.SendMessage(ctx, h.topic, message.AggregateID, message.Payload, headers); err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"topic", h.topic,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
