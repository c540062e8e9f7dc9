package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"

	"github.com/vaidashi/lavender-orders/internal/database"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

func insertOutboxMessage(ctx context.Context, q sqlx.QueryerContext, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := q.QueryRowxContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		return pkgerrors.Wrapf(ErrDatabase, "insert outbox message for %s: %v", message.AggregateID, err)
	}

	message.ID = id
	return nil
}

// Create inserts a new outbox message outside any transaction
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	if err := insertOutboxMessage(ctx, r.db.DB, message); err != nil {
		r.logger.Error("Failed to create outbox message", "error", err)
		return err
	}
	return nil
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	messages := []*models.OutboxMessage{}

	err := r.db.DB.SelectContext(
		ctx,
		&messages,
		query,
		models.OutboxStatusPending,
		limit,
	)

	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, pkgerrors.Wrapf(ErrDatabase, "get pending outbox messages: %v", err)
	}

	return messages, nil
}

// MarkAsProcessing records a delivery attempt
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1
		WHERE id = $2
	`

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusProcessing, id); err != nil {
		r.logger.Error("Failed to mark outbox message as processing", "error", err, "messageID", id)
		return pkgerrors.Wrapf(ErrDatabase, "mark outbox %d processing: %v", id, err)
	}

	return nil
}

// MarkAsPending returns a message to the queue after a failed attempt
func (r *OutboxRepository) MarkAsPending(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusPending, errorMessage, id); err != nil {
		r.logger.Error("Failed to return outbox message to pending", "error", err, "messageID", id)
		return pkgerrors.Wrapf(ErrDatabase, "mark outbox %d pending: %v", id, err)
	}

	return nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusCompleted, models.GetCurrentTime(), id); err != nil {
		r.logger.Error("Failed to mark outbox message as completed", "error", err, "messageID", id)
		return pkgerrors.Wrapf(ErrDatabase, "mark outbox %d completed: %v", id, err)
	}

	return nil
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusFailed, errorMessage, id); err != nil {
		r.logger.Error("Failed to mark outbox message as failed", "error", err, "messageID", id)
		return pkgerrors.Wrapf(ErrDatabase, "mark outbox %d failed: %v", id, err)
	}

	return nil
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id = $1`

	var message models.OutboxMessage

	if err := r.db.DB.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get outbox message", "error", err, "messageID", id)
		return nil, pkgerrors.Wrapf(ErrDatabase, "get outbox message %d: %v", id, err)
	}

	return &message, nil
}
