// Package migrations applies the engine schema at startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements run in order; each is idempotent so Apply can be called on
// every boot.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL,
		line_item_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		requested_qty INTEGER NOT NULL,
		reserved_qty INTEGER NOT NULL,
		allocated_qty INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		strategy TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		confirmation_deadline TIMESTAMPTZ NOT NULL,
		confirmed_by TEXT NOT NULL DEFAULT '',
		confirmed_at TIMESTAMPTZ,
		reservation_data JSONB NOT NULL DEFAULT '{}',
		performance_metrics JSONB NOT NULL DEFAULT '{}',
		conflict_type TEXT,
		competing_ids BIGINT[],
		conflict_data JSONB,
		automation_config JSONB NOT NULL DEFAULT '{}',
		audit_trail JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS allocations (
		id BIGSERIAL PRIMARY KEY,
		reservation_id BIGINT NOT NULL REFERENCES reservations (id),
		warehouse_id TEXT NOT NULL,
		allocated_qty INTEGER NOT NULL,
		stock_snapshot INTEGER NOT NULL DEFAULT 0,
		algorithm TEXT NOT NULL,
		allocation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		logistics JSONB NOT NULL DEFAULT '{}',
		fulfillment_status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		capacity INTEGER NOT NULL DEFAULT 0,
		committed_units INTEGER NOT NULL DEFAULT 0,
		perishable_priority BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS stock_levels (
		variant_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		available INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (variant_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations (order_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_active ON reservations (variant_id, warehouse_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations (status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_allocations_reservation ON allocations (reservation_id);
	CREATE INDEX IF NOT EXISTS idx_order_line_items_order ON order_line_items (order_id)`,
}

// Apply runs the schema statements against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
