package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// handlerSet routes messages by event type with an optional fallback
type handlerSet struct {
	mu       sync.RWMutex
	byType   map[string]MessageHandler
	fallback MessageHandler
}

// RegisterHandler registers a message handler for a specific event type
func (h *handlerSet) RegisterHandler(eventType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byType == nil {
		h.byType = make(map[string]MessageHandler)
	}
	h.byType[eventType] = handler
}

// SetFallbackHandler handles every event type without its own handler
func (h *handlerSet) SetFallbackHandler(handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = handler
}

func (h *handlerSet) lookup(eventType string) (MessageHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if handler, ok := h.byType[eventType]; ok {
		return handler, true
	}

	return h.fallback, h.fallback != nil
}

// EventDispatcher consumes serialized order events in process
type EventDispatcher interface {
	Dispatch(ctx context.Context, payload []byte) error
}

// DispatchHandler delivers outbox messages straight to an in-process
// dispatcher. It is used when no broker is configured.
type DispatchHandler struct {
	dispatcher EventDispatcher
	logger     logger.Logger
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(dispatcher EventDispatcher, logger logger.Logger) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleMessage hands the payload to the dispatcher
func (h *DispatchHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	h.logger.Debug("Dispatching outbox message",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID)

	if err := h.dispatcher.Dispatch(ctx, message.Payload); err != nil {
		return fmt.Errorf("failed to dispatch outbox message %d: %w", message.ID, err)
	}

	return nil
}
