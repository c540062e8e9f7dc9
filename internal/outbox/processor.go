package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// MessageStore is the outbox table as seen by the processor
type MessageStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) error
	MarkAsPending(ctx context.Context, id int64, errorMessage string) error
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
}

// DeadLetterStore is the dead letter table
type DeadLetterStore interface {
	Create(ctx context.Context, message *models.DeadLetterMessage) error
	GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error)
	MarkAsRetrying(ctx context.Context, id int64) error
	MarkAsResolved(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
	ResetToPending(ctx context.Context, id int64) error
}

// Processor is responsible for processing outbox messages
type Processor struct {
	handlerSet

	store           MessageStore
	deadLetters     DeadLetterStore
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
}

// NewProcessor creates a new Processor. Messages that exhaust their attempts
// move to deadLetters; with a nil deadLetters they are only marked failed.
func NewProcessor(store MessageStore, deadLetters DeadLetterStore, config ProcessorConfig, logger logger.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	return &Processor{
		store:           store,
		deadLetters:     deadLetters,
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the outbox processor and waits for the current batch
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessBatch delivers up to one batch of pending messages and returns how
// many were delivered
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	if p.pollingInterval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.pollingInterval)
		defer cancel()
	}

	messages, err := p.store.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	delivered := 0

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Warn("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if err := p.store.MarkAsProcessing(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}

	attempt := msg.ProcessingAttempts + 1
	handler, exists := p.lookup(msg.EventType)

	if !exists {
		reason := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)
		p.bury(ctx, msg, reason, "No handler available")
		return fmt.Errorf("%s", reason)
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if attempt >= p.maxRetries {
			p.bury(ctx, msg, err.Error(), fmt.Sprintf("Max retries (%d) reached", p.maxRetries))
			return fmt.Errorf("message failed after %d attempts: %w", attempt, err)
		}

		if markErr := p.store.MarkAsPending(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to return message to pending", "error", markErr, "messageID", msg.ID)
		}

		return fmt.Errorf("attempt %d of %d: %w", attempt, p.maxRetries, err)
	}

	if err := p.store.MarkAsCompleted(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.logger.Debug("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}

// bury marks a message failed and copies it to the dead letter queue
func (p *Processor) bury(ctx context.Context, msg *models.OutboxMessage, errorMsg, reason string) {
	if err := p.store.MarkAsFailed(ctx, msg.ID, errorMsg); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}

	if p.deadLetters == nil {
		return
	}

	if err := p.deadLetters.Create(ctx, models.NewDeadLetterMessage(msg, errorMsg, reason)); err != nil {
		p.logger.Error("Failed to move message to dead letter queue", "error", err, "messageID", msg.ID)
		return
	}

	p.logger.Warn("Message moved to dead letter queue",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType,
		"reason", reason)
}
