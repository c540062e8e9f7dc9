package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vaidashi/lavender-orders/internal/config"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(ctx context.Context, cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDBConnString())

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// schema creates every table the service uses. Statements are idempotent.
const schema = `
	CREATE EXTENSION IF NOT EXISTS pg_trgm;

	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(50) PRIMARY KEY,
		status VARCHAR(20) NOT NULL,
		fulfillment_method VARCHAR(20) NOT NULL,
		items JSONB NOT NULL,
		customer_email VARCHAR(320) NOT NULL,
		customer_first_name VARCHAR(100) NOT NULL DEFAULT '',
		customer_last_name VARCHAR(100) NOT NULL DEFAULT '',
		customer_phone VARCHAR(40) NOT NULL DEFAULT '',
		shipping_address JSONB,
		subtotal_cents BIGINT NOT NULL,
		shipping_cents BIGINT NOT NULL,
		tax_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		payment_id VARCHAR(100) NOT NULL DEFAULT '',
		tracking_number VARCHAR(100),
		admin_notes TEXT,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT orders_status_check CHECK (status IN ('confirmed', 'processing', 'ready', 'shipped', 'on_hold', 'completed', 'cancelled')),
		CONSTRAINT orders_fulfillment_check CHECK (fulfillment_method IN ('pickup', 'shipping')),
		CONSTRAINT orders_total_check CHECK (total_cents = subtotal_cents + shipping_cents + tax_cents)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_email_trgm ON orders USING gin (customer_email gin_trgm_ops);
	CREATE INDEX IF NOT EXISTS idx_orders_first_name_trgm ON orders USING gin (customer_first_name gin_trgm_ops);
	CREATE INDEX IF NOT EXISTS idx_orders_last_name_trgm ON orders USING gin (customer_last_name gin_trgm_ops);
	CREATE INDEX IF NOT EXISTS idx_orders_phone_trgm ON orders USING gin (customer_phone gin_trgm_ops);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS order_audit_log (
		id CHAR(26) PRIMARY KEY,
		order_id VARCHAR(50) NOT NULL,
		action VARCHAR(30) NOT NULL,
		actor VARCHAR(100) NOT NULL,
		from_status VARCHAR(20),
		to_status VARCHAR(20),
		note TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_order_created ON order_audit_log(order_id, created_at, id);

	CREATE OR REPLACE FUNCTION order_audit_log_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'order_audit_log is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS order_audit_log_no_mutation ON order_audit_log;
	CREATE TRIGGER order_audit_log_no_mutation
		BEFORE UPDATE OR DELETE ON order_audit_log
		FOR EACH ROW EXECUTE FUNCTION order_audit_log_immutable();

	-- Outbox table for message publishing
	CREATE TABLE IF NOT EXISTS outbox_messages (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		processing_attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
	CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);

	CREATE TABLE IF NOT EXISTS dead_letter_messages (
		id BIGSERIAL PRIMARY KEY,
		original_message_id BIGINT NOT NULL,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		error_message TEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMPTZ,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status);
`

// RunMigrations creates the schema if it does not exist yet
func (d *Database) RunMigrations(ctx context.Context) error {
	if _, err := d.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
