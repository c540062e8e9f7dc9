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

const orderColumns = `id, status, fulfillment_method, items,
	customer_email, customer_first_name, customer_last_name, customer_phone,
	shipping_address, subtotal_cents, shipping_cents, tax_cents, total_cents,
	payment_id, tracking_number, admin_notes, version, created_at, updated_at`

const auditColumns = `id, order_id, action, actor, from_status, to_status, note, metadata, created_at`

// OrderRepository is the Postgres implementation of Store
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// WithTx runs fn in a database transaction
func (r *OrderRepository) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		r.logger.Error("Failed to begin transaction", "error", err)
		return pkgerrors.Wrapf(ErrDatabase, "begin transaction: %v", err)
	}

	// Rollback transaction if any error occurs
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				r.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	if err = fn(&orderTx{tx: tx, logger: r.logger}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", "error", err)
		return pkgerrors.Wrapf(ErrDatabase, "commit transaction: %v", err)
	}

	return nil
}

// GetOrder retrieves an order by its ID
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order models.Order
	err := r.db.DB.GetContext(ctx, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, pkgerrors.Wrapf(ErrDatabase, "get order %s: %v", id, err)
	}

	return &order, nil
}

// ListOrders returns one page of orders matching filter plus the total match count
func (r *OrderRepository) ListOrders(ctx context.Context, filter OrderFilter, sort OrderSort, page Page) ([]*models.Order, int, error) {
	where := buildOrderWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM orders` + where.String()

	if err := r.db.DB.GetContext(ctx, &total, countQuery, where.args...); err != nil {
		r.logger.Error("Failed to count orders", "error", err)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "count orders: %v", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where.String() + buildOrderBy(sort)
	args := where.args

	if page.Limit > 0 {
		query += " LIMIT " + where.arg(page.Limit) + " OFFSET " + where.arg(page.Offset)
		args = where.args
	}

	orders := []*models.Order{}

	if err := r.db.DB.SelectContext(ctx, &orders, query, args...); err != nil {
		r.logger.Error("Failed to list orders", "error", err, "limit", page.Limit, "offset", page.Offset)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "list orders: %v", err)
	}

	return orders, total, nil
}

// CountByStatus counts orders matching filter grouped by status
func (r *OrderRepository) CountByStatus(ctx context.Context, filter OrderFilter) (map[models.OrderStatus]int, error) {
	where := buildOrderWhere(filter)
	query := `SELECT status, COUNT(*) AS count FROM orders` + where.String() + ` GROUP BY status`

	var rows []struct {
		Status models.OrderStatus `db:"status"`
		Count  int                `db:"count"`
	}

	if err := r.db.DB.SelectContext(ctx, &rows, query, where.args...); err != nil {
		r.logger.Error("Failed to count orders by status", "error", err)
		return nil, pkgerrors.Wrapf(ErrDatabase, "count orders by status: %v", err)
	}

	counts := make(map[models.OrderStatus]int, len(models.AllStatuses))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

// ListAuditLog returns every audit entry for an order, oldest first
func (r *OrderRepository) ListAuditLog(ctx context.Context, orderID string) ([]*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM order_audit_log WHERE order_id = $1 ORDER BY created_at ASC, id ASC`

	entries := []*models.AuditLogEntry{}

	if err := r.db.DB.SelectContext(ctx, &entries, query, orderID); err != nil {
		r.logger.Error("Failed to list audit log", "error", err, "orderID", orderID)
		return nil, pkgerrors.Wrapf(ErrDatabase, "list audit log %s: %v", orderID, err)
	}

	return entries, nil
}

// ListAuditLogPage returns one page of audit entries, oldest first
func (r *OrderRepository) ListAuditLogPage(ctx context.Context, orderID string, filter AuditFilter, page Page) ([]*models.AuditLogEntry, int, error) {
	where := &whereBuilder{}
	where.add("order_id = " + where.arg(orderID))

	if filter.Action != "" {
		where.add("action = " + where.arg(string(filter.Action)))
	}

	var total int

	if err := r.db.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM order_audit_log`+where.String(), where.args...); err != nil {
		r.logger.Error("Failed to count audit log", "error", err, "orderID", orderID)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "count audit log %s: %v", orderID, err)
	}

	query := `SELECT ` + auditColumns + ` FROM order_audit_log` + where.String() +
		` ORDER BY created_at ASC, id ASC LIMIT ` + where.arg(page.Limit) + ` OFFSET ` + where.arg(page.Offset)

	entries := []*models.AuditLogEntry{}

	if err := r.db.DB.SelectContext(ctx, &entries, query, where.args...); err != nil {
		r.logger.Error("Failed to page audit log", "error", err, "orderID", orderID)
		return nil, 0, pkgerrors.Wrapf(ErrDatabase, "page audit log %s: %v", orderID, err)
	}

	return entries, total, nil
}

// Ping checks the database connection
func (r *OrderRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return pkgerrors.Wrapf(ErrDatabase, "ping: %v", err)
	}
	return nil
}

// orderTx implements Tx on a sqlx transaction
type orderTx struct {
	tx     *sqlx.Tx
	logger logger.Logger
}

// GetOrderForUpdate locks the order row until the transaction ends
func (t *orderTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	var order models.Order
	err := t.tx.GetContext(ctx, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		t.logger.Error("Failed to lock order", "error", err, "orderID", id)
		return nil, pkgerrors.Wrapf(ErrDatabase, "lock order %s: %v", id, err)
	}

	return &order, nil
}

// InsertOrder inserts a new order
func (t *orderTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			id, status, fulfillment_method, items,
			customer_email, customer_first_name, customer_last_name, customer_phone,
			shipping_address, subtotal_cents, shipping_cents, tax_cents, total_cents,
			payment_id, tracking_number, admin_notes, version, created_at, updated_at
		) VALUES (
			:id, :status, :fulfillment_method, :items,
			:customer_email, :customer_first_name, :customer_last_name, :customer_phone,
			:shipping_address, :subtotal_cents, :shipping_cents, :tax_cents, :total_cents,
			:payment_id, :tracking_number, :admin_notes, :version, :created_at, :updated_at
		)
	`

	if _, err := t.tx.NamedExecContext(ctx, query, order); err != nil {
		t.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return pkgerrors.Wrapf(ErrDatabase, "insert order %s: %v", order.ID, err)
	}

	return nil
}

// UpdateOrder writes status, tracking and notes when the version still matches
func (t *orderTx) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	query := `
		UPDATE orders
		SET status = $1, tracking_number = $2, admin_notes = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`

	result, err := t.tx.ExecContext(
		ctx,
		query,
		order.Status,
		order.TrackingNumber,
		order.AdminNotes,
		order.UpdatedAt,
		order.ID,
		expectedVersion,
	)

	if err != nil {
		t.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		return pkgerrors.Wrapf(ErrDatabase, "update order %s: %v", order.ID, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return pkgerrors.Wrapf(ErrDatabase, "update order %s: %v", order.ID, err)
	}

	if rowsAffected == 0 {
		return pkgerrors.Wrapf(ErrConflict, "order %s changed since version %d", order.ID, expectedVersion)
	}

	order.Version = expectedVersion + 1
	return nil
}

// AppendAuditEntry inserts an audit entry
func (t *orderTx) AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO order_audit_log (` + auditColumns + `)
		VALUES (:id, :order_id, :action, :actor, :from_status, :to_status, :note, :metadata, :created_at)
	`

	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		t.logger.Error("Failed to append audit entry", "error", err, "orderID", entry.OrderID)
		return pkgerrors.Wrapf(ErrDatabase, "append audit entry for %s: %v", entry.OrderID, err)
	}

	return nil
}

// EnqueueOutbox creates a new outbox message within the transaction
func (t *orderTx) EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error {
	return insertOutboxMessage(ctx, t.tx, message)
}
