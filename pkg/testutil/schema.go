package testutil

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InventorySchema is the DDL for the inventory service tables. It mirrors
// the production migrations so integration tests run against the same
// constraints the service relies on.
const InventorySchema = `
	CREATE TABLE IF NOT EXISTS medicines (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		code VARCHAR(50) NOT NULL,
		name VARCHAR(255) NOT NULL,
		name_en VARCHAR(255),
		description TEXT,
		manufacturer VARCHAR(255) NOT NULL,
		unit VARCHAR(50) NOT NULL,
		category VARCHAR(100),
		storage_condition VARCHAR(255),
		min_stock_quantity INTEGER NOT NULL DEFAULT 0,
		reorder_level INTEGER,
		is_prescription_required BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT medicines_medicine_code_unique UNIQUE (code)
	);

	CREATE TABLE IF NOT EXISTS stock_lots (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		medicine_id UUID NOT NULL REFERENCES medicines(id),
		lot_number VARCHAR(100) NOT NULL,
		quantity INTEGER NOT NULL,
		expiry_date DATE NOT NULL,
		manufacture_date DATE,
		received_date DATE NOT NULL,
		supplier VARCHAR(255),
		purchase_price_cents INTEGER,
		location VARCHAR(100),
		status VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE',
		remarks TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT stock_lots_lot_number_unique UNIQUE (lot_number),
		CONSTRAINT stock_lots_quantity_non_negative CHECK (quantity >= 0),
		CONSTRAINT stock_lots_status_valid CHECK (
			status IN ('AVAILABLE', 'RESERVED', 'EXPIRED', 'DAMAGED', 'QUARANTINE')
		)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_lots_medicine_expiry
		ON stock_lots (medicine_id, expiry_date, id);

	CREATE TABLE IF NOT EXISTS stock_transactions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		medicine_id UUID NOT NULL REFERENCES medicines(id),
		lot_id UUID REFERENCES stock_lots(id),
		transaction_type VARCHAR(20) NOT NULL,
		quantity INTEGER NOT NULL,
		before_quantity INTEGER NOT NULL,
		after_quantity INTEGER NOT NULL,
		transaction_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reference_number VARCHAR(100),
		department VARCHAR(100),
		requester_name VARCHAR(255),
		approver_name VARCHAR(255),
		reason VARCHAR(50) NOT NULL,
		remarks TEXT,
		reversal_of UUID REFERENCES stock_transactions(id),
		performed_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT stock_transactions_transaction_quantity_positive CHECK (quantity > 0),
		CONSTRAINT stock_transactions_transaction_type_valid CHECK (
			transaction_type IN ('INBOUND', 'OUTBOUND', 'ADJUSTMENT', 'RETURN', 'DISPOSAL', 'TRANSFER')
		)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_transactions_medicine
		ON stock_transactions (medicine_id, transaction_date DESC);
	CREATE INDEX IF NOT EXISTS idx_stock_transactions_lot
		ON stock_transactions (lot_id, transaction_date DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_transactions_reversal_of
		ON stock_transactions (reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE TABLE IF NOT EXISTS user_cache (
		user_id UUID PRIMARY KEY,
		first_name VARCHAR(255) NOT NULL,
		last_name VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		role_name VARCHAR(100),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// CreateInventorySchema applies the inventory DDL to the given database
func CreateInventorySchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, InventorySchema); err != nil {
		return fmt.Errorf("failed to create inventory schema: %w", err)
	}
	return nil
}

// TruncateInventoryTables clears all inventory tables between tests
func TruncateInventoryTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE stock_transactions, stock_lots, medicines, user_cache CASCADE
	`)
	if err != nil {
		return fmt.Errorf("failed to truncate inventory tables: %w", err)
	}
	return nil
}
