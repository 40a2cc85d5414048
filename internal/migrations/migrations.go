package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Run creates the schema. Every statement is idempotent so it is safe on each start.
func Run(ctx context.Context, db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            brand TEXT NOT NULL DEFAULT '',
            species TEXT NOT NULL CHECK (species IN ('poultry', 'swine')),
            product_type TEXT NOT NULL CHECK (product_type IN ('live', 'killed', 'attenuated')),
            manufacturer TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            active_ingredients TEXT NOT NULL DEFAULT '',
            cold_chain_required BOOLEAN NOT NULL DEFAULT TRUE,
            storage_temp_range TEXT NOT NULL DEFAULT '',
            minimum_order_qty INTEGER NOT NULL DEFAULT 1,
            lead_time_days INTEGER NOT NULL DEFAULT 0,
            administration_notes TEXT NOT NULL DEFAULT '',
            available_stock INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS dose_packs (
            id TEXT PRIMARY KEY,
            product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
            doses INTEGER NOT NULL CHECK (doses > 0),
            units_per_pack INTEGER NOT NULL DEFAULT 0 CHECK (units_per_pack >= 0)
        );`,
		`CREATE TABLE IF NOT EXISTS batches (
            id TEXT PRIMARY KEY,
            product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
            batch_number TEXT NOT NULL UNIQUE,
            expiry_date DATE NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity >= 0),
            quantity_reserved INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'available',
            storage_location TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (quantity_reserved >= 0 AND quantity_reserved <= quantity)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_batches_product_expiry ON batches (product_id, expiry_date);`,
		`CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            order_number TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL DEFAULT 'requested',
            total_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
            notes TEXT,
            internal_notes TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS order_items (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
            dose_pack_id TEXT REFERENCES dose_packs(id) ON DELETE SET NULL,
            batch_id TEXT REFERENCES batches(id) ON DELETE SET NULL,
            product_name TEXT NOT NULL,
            doses INTEGER NOT NULL DEFAULT 0,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            unit_price NUMERIC(10, 2) NOT NULL,
            requested_delivery_date DATE NOT NULL,
            special_instructions TEXT,
            position INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS inventory_logs (
            id TEXT PRIMARY KEY,
            product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
            batch_id TEXT REFERENCES batches(id) ON DELETE SET NULL,
            action TEXT NOT NULL,
            quantity_changed INTEGER NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            related_order_id TEXT REFERENCES orders(id) ON DELETE SET NULL,
            performed_by TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_logs_product ON inventory_logs (product_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            status TEXT NOT NULL,
            changed_by TEXT,
            changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	}

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
