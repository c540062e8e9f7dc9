package repository

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/vaidashi/lavender-orders/internal/database"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository handles database operations related to dead letter messages
type DeadLetterRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new dead letter message
func (r *DeadLetterRepository) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	query := `
		INSERT INTO dead_letter_messages (
			original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) RETURNING id
	`

	var id int64

	err := r.db.DB.QueryRowContext(
		ctx,
		query,
		message.OriginalMessageID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.ErrorMessage,
		message.FailureReason,
		message.RetryCount,
		message.Status,
		message.CreatedAt,
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to create dead letter message", "error", err)
		return pkgerrors.Wrapf(ErrDatabase, "insert dead letter for %s: %v", message.AggregateID, err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	messages, _, err := r.List(ctx, models.DeadLetterStatusPending, Page{Limit: limit})
	return messages, err
}

// List returns dead letters, optionally restricted to one status, oldest first
func (r *DeadLetterRepository) List(ctx context.Context, status models.DeadLetterStatus, page Page) ([]*models.DeadLetterMessage, int, error) {
	where := &whereBuilder{}

	if status != "" {
		where.add("status = " + where.arg(string(status)))
	}

	var total int

	if err := r.db.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM dead_letter_messages`+where.String(), where.args...); err != nil {
		r.logger.Error("Failed to count dead letter messages", "error", err)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "count dead letters: %v", err)
	}

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages` + where.String() +
		` ORDER BY created_at ASC, id ASC LIMIT ` + where.arg(page.Limit) + ` OFFSET ` + where.arg(page.Offset)

	messages := []*models.DeadLetterMessage{}

	if err := r.db.DB.SelectContext(ctx, &messages, query, where.args...); err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "list dead letters: %v", err)
	}

	return messages, total, nil
}

func (r *DeadLetterRepository) exec(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to update dead letter message", "op", op, "error", err, "messageID", id)
		return pkgerrors.Wrapf(ErrDatabase, "%s dead letter %d: %v", op, id, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return pkgerrors.Wrapf(ErrDatabase, "%s dead letter %d: %v", op, id, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkAsRetrying marks a message as being retried
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, "retry", id, query, models.DeadLetterStatusRetrying, models.GetCurrentTime(), id)
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, "resolve", id, query, models.DeadLetterStatusResolved, models.GetCurrentTime(), id)
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, failure_reason = CONCAT(failure_reason, ' | Discarded: ', $2::text), resolved_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, "discard", id, query, models.DeadLetterStatusDiscarded, reason, models.GetCurrentTime(), id)
}

// ResetToPending puts a retrying message back in the queue
func (r *DeadLetterRepository) ResetToPending(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	return r.exec(ctx, "reset", id, query, models.DeadLetterStatusPending, id, models.DeadLetterStatusRetrying)
}

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE id = $1`

	var message models.DeadLetterMessage

	if err := r.db.DB.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get dead letter message", "error", err, "messageID", id)
		return nil, pkgerrors.Wrapf(ErrDatabase, "get dead letter %d: %v", id, err)
	}

	return &message, nil
}
