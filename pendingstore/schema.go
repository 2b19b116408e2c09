// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pendingstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the schema version written to PRAGMA user_version after migrations
const SchemaVersion = 2

// migrations are applied in order; step i upgrades user_version i to i+1.
// Steps only add tables, columns and indexes so older data stays readable.
var migrations = [][]string{
	// v1: the four queues and their secondary indexes
	{
		`CREATE TABLE IF NOT EXISTS pending_product_updates (
			local_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id  TEXT NOT NULL,
			updates     TEXT NOT NULL DEFAULT '{}',   -- partial field map (JSON object)
			created_at  TIMESTAMP NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE TABLE IF NOT EXISTS pending_sales (
			local_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id     TEXT NOT NULL,
			product_id  TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			form        TEXT NOT NULL DEFAULT '',
			quantity    INTEGER NOT NULL,
			amount      REAL NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE TABLE IF NOT EXISTS pending_transactions (
			local_id     INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id      TEXT NOT NULL,
			total_amount REAL NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE TABLE IF NOT EXISTS pending_transaction_items (
			local_id        INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id  INTEGER NOT NULL REFERENCES pending_transactions(local_id),
			product_id      TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			form            TEXT NOT NULL DEFAULT '',
			quantity        INTEGER NOT NULL,
			price           REAL NOT NULL,
			amount          REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ppu_product_id ON pending_product_updates(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ppu_created_at ON pending_product_updates(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ps_shop_id ON pending_sales(shop_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ps_product_id ON pending_sales(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ps_created_at ON pending_sales(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pt_shop_id ON pending_transactions(shop_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pt_created_at ON pending_transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pti_transaction_id ON pending_transaction_items(transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pti_product_id ON pending_transaction_items(product_id)`,
	},
	// v2: checkout idempotency key and remote identity
	{
		`ALTER TABLE pending_transactions ADD COLUMN checkout_key TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE pending_transactions ADD COLUMN remote_id INTEGER`,
		`ALTER TABLE pending_sales ADD COLUMN checkout_key TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_pt_checkout_key ON pending_transactions(checkout_key)`,
		`CREATE INDEX IF NOT EXISTS idx_ps_checkout_key ON pending_sales(checkout_key)`,
	},
}

// initializeDatabase configures the connection and brings the schema to SchemaVersion
func initializeDatabase(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return migrateTo(ctx, db, SchemaVersion, logger)
}

func schemaVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var v int
	if err := db.GetContext(ctx, &v, `PRAGMA user_version`); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrateTo applies pending migration steps up to target, one SQLite transaction per step
func migrateTo(ctx context.Context, db *sqlx.DB, target int, logger *slog.Logger) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for v := current; v < target; v++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration to v%d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration to v%d failed: %w", v+1, err)
			}
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to v%d: %w", v+1, err)
		}
		logger.Debug("pendingstore schema migrated", "version", v+1)
	}
	return nil
}
