package sqlite

import (
	"context"
	"fmt"
)

// Money columns hold decimal strings so totals never pass through float64.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS skus (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		short_name TEXT NOT NULL DEFAULT '',
		variant_name TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		cost TEXT NOT NULL DEFAULT '0',
		category TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		low_stock_alert INTEGER NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS sequence_counters (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL CHECK (count >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		readable_id TEXT NOT NULL UNIQUE,
		cashier_id TEXT NOT NULL,
		cashier_name TEXT NOT NULL,
		store_id TEXT NOT NULL,
		initial_cash TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
		sales_count INTEGER NOT NULL DEFAULT 0,
		total_sales TEXT NOT NULL DEFAULT '0',
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		final_cash TEXT,
		expected_cash TEXT,
		difference TEXT,
		notes TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_one_open_per_cashier
		ON cash_sessions (cashier_id) WHERE status = 'open';`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		readable_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES cash_sessions (id),
		cashier_id TEXT NOT NULL,
		cashier_name TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		customer_address TEXT NOT NULL DEFAULT '',
		is_delivery INTEGER NOT NULL DEFAULT 0,
		subtotal TEXT NOT NULL,
		delivery_fee TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount_tendered TEXT NOT NULL,
		change_due TEXT NOT NULL,
		bank TEXT,
		reference TEXT,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS sales_session_id ON sales (session_id);`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales (id),
		line_no INTEGER NOT NULL,
		sku_id TEXT NOT NULL,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		line_total TEXT NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	);`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
