package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/lavender-orders/internal/models"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
	"github.com/vaidashi/lavender-orders/pkg/retry"
)

// DeadLetterProcessor redelivers dead letter messages with backoff
type DeadLetterProcessor struct {
	handlerSet

	store           DeadLetterStore
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	backoffStrategy retry.BackoffStrategy
	logger          logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// DeadLetterProcessorConfig holds the configuration for the DeadLetterProcessor
type DeadLetterProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	BackoffStrategy retry.BackoffStrategy
}

// NewDeadLetterProcessor creates a new dead letter processor
func NewDeadLetterProcessor(store DeadLetterStore, config DeadLetterProcessorConfig, logger logger.Logger) *DeadLetterProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	backoffStrategy := config.BackoffStrategy

	if backoffStrategy == nil {
		backoffStrategy = retry.NewDefaultExponentialBackoff()
	}

	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	return &DeadLetterProcessor{
		store:           store,
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		backoffStrategy: backoffStrategy,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the dead letter processor
func (p *DeadLetterProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processDLQ()
	}()

	p.logger.Info("Dead letter processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the dead letter processor. A message interrupted mid-retry
// goes back to pending.
func (p *DeadLetterProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Dead letter processor stopped")
}

func (p *DeadLetterProcessor) processDLQ() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process dead letter batch", "error", err)
			}
		}
	}
}

// ProcessBatch retries one batch of pending dead letters
func (p *DeadLetterProcessor) ProcessBatch(ctx context.Context) error {
	messages, err := p.store.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("Processing batch of dead letter messages", "count", len(messages))

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg, p.maxRetries); err != nil {
			p.logger.Error("Failed to process dead letter message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType,
				"retryCount", msg.RetryCount)
		}
	}

	return nil
}

// RetryNow makes one immediate redelivery attempt for a pending or discarded
// dead letter. On failure the message is left pending for the background loop.
func (p *DeadLetterProcessor) RetryNow(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	msg, err := p.store.GetMessage(ctx, id)

	if err != nil {
		return nil, err
	}

	switch msg.Status {
	case models.DeadLetterStatusPending, models.DeadLetterStatusDiscarded:
	default:
		return nil, apperrors.NewConflictError(fmt.Sprintf("Dead letter %d is %s and cannot be retried", id, msg.Status))
	}

	handler, exists := p.lookup(msg.EventType)

	if !exists {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("No handler registered for event type %s", msg.EventType))
	}

	if err := p.store.MarkAsRetrying(ctx, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	if err := handler.HandleMessage(ctx, msg.ToOutboxMessage()); err != nil {
		if resetErr := p.store.ResetToPending(ctx, msg.ID); resetErr != nil {
			p.logger.Error("Failed to reset dead letter to pending", "error", resetErr, "messageID", msg.ID)
		}
		return nil, apperrors.NewTemporaryError(fmt.Sprintf("Redelivery failed: %v", err))
	}

	if err := p.store.MarkAsResolved(ctx, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to mark message as resolved: %w", err)
	}

	p.logger.Info("Dead letter redelivered on request", "messageID", msg.ID, "eventType", msg.EventType)

	return p.store.GetMessage(ctx, msg.ID)
}

// Discard permanently gives up on a dead letter
func (p *DeadLetterProcessor) Discard(ctx context.Context, id int64, reason string) (*models.DeadLetterMessage, error) {
	msg, err := p.store.GetMessage(ctx, id)

	if err != nil {
		return nil, err
	}

	if msg.Status == models.DeadLetterStatusResolved || msg.Status == models.DeadLetterStatusDiscarded {
		return nil, apperrors.NewConflictError(fmt.Sprintf("Dead letter %d is already %s", id, msg.Status))
	}

	if reason == "" {
		reason = "Discarded by operator"
	}

	if err := p.store.MarkAsDiscarded(ctx, id, reason); err != nil {
		return nil, err
	}

	return p.store.GetMessage(ctx, id)
}

func (p *DeadLetterProcessor) processMessage(ctx context.Context, msg *models.DeadLetterMessage, attempts int) error {
	if err := p.store.MarkAsRetrying(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	handler, exists := p.lookup(msg.EventType)

	if !exists {
		if err := p.store.MarkAsDiscarded(ctx, msg.ID, "No handler available"); err != nil {
			p.logger.Error("Failed to mark message as discarded", "error", err, "messageID", msg.ID)
		}
		return fmt.Errorf("no handler registered for event type %s", msg.EventType)
	}

	outboxMsg := msg.ToOutboxMessage()

	retryConfig := &retry.RetryConfig{
		MaxAttempts:     attempts,
		BackoffStrategy: p.backoffStrategy,
		Logger:          p.logger,
	}

	discard := func(err error) error {
		reason := fmt.Sprintf("Failed to process message after %d attempts: %v", attempts, err)

		if markErr := p.store.MarkAsDiscarded(ctx, msg.ID, reason); markErr != nil {
			p.logger.Error("Failed to mark message as discarded", "error", markErr, "messageID", msg.ID)
		}

		return fmt.Errorf("message discarded after %d retries: %w", attempts, err)
	}

	err := retry.RetryWithDiscard(ctx, func(ctx context.Context) error {
		return handler.HandleMessage(ctx, outboxMsg)
	}, retryConfig, discard)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// interrupted by shutdown; leave it for the next run
			resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if resetErr := p.store.ResetToPending(resetCtx, msg.ID); resetErr != nil {
				p.logger.Error("Failed to reset dead letter to pending", "error", resetErr, "messageID", msg.ID)
			}
		}
		return err
	}

	if err := p.store.MarkAsResolved(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as resolved: %w", err)
	}

	p.logger.Info("Successfully processed dead letter message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}
