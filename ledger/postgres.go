// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-posync/internal/auth"
)

const (
	productColumns     = `id, shop_id, name, form, quantity, cost_price, selling_price, updated_at`
	transactionColumns = `id, shop_id, total_amount, COALESCE(checkout_key, '') AS checkout_key, created_at`
	itemColumns        = `id, transaction_id, product_id, name, form, quantity, price, amount, COALESCE(line_key, '') AS line_key`
	saleColumns        = `id, shop_id, product_id, name, form, quantity, amount, COALESCE(line_key, '') AS line_key, created_at`
)

// PostgresLedger implements Ledger on PostgreSQL.
//
// When the context carries an authenticated shop (see internal/auth), product
// mutations and item inserts are restricted to rows owned by that shop.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates the ledger schema if needed. The caller owns the pool lifecycle.
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &PostgresLedger{pool: pool, logger: logger}
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return l.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	logger.Debug("Ledger schema initialized successfully")
	return l, nil
}

func (l *PostgresLedger) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS products (
			id            TEXT PRIMARY KEY,
			shop_id       TEXT NOT NULL,
			name          TEXT NOT NULL DEFAULT '',
			form          TEXT NOT NULL DEFAULT '',
			quantity      BIGINT NOT NULL DEFAULT 0,
			cost_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
			selling_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS products_shop_idx ON products(shop_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS transactions (
			id           BIGSERIAL PRIMARY KEY,
			shop_id      TEXT NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			checkout_key TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS transactions_shop_idx ON transactions(shop_id)`,
		// Idempotency gate for replayed checkouts
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS transactions_checkout_key_uq
			ON transactions(shop_id, checkout_key) WHERE checkout_key IS NOT NULL`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS transaction_items (
			id             BIGSERIAL PRIMARY KEY,
			transaction_id BIGINT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
			product_id     TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			form           TEXT NOT NULL DEFAULT '',
			quantity       BIGINT NOT NULL,
			price          DOUBLE PRECISION NOT NULL,
			amount         DOUBLE PRECISION NOT NULL,
			line_key       TEXT
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS transaction_items_tx_idx ON transaction_items(transaction_id)`,
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS transaction_items_line_key_uq
			ON transaction_items(line_key) WHERE line_key IS NOT NULL`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sales (
			id         BIGSERIAL PRIMARY KEY,
			shop_id    TEXT NOT NULL,
			product_id TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			form       TEXT NOT NULL DEFAULT '',
			quantity   BIGINT NOT NULL,
			amount     DOUBLE PRECISION NOT NULL,
			line_key   TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS sales_shop_idx ON sales(shop_id)`,
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS sales_line_key_uq
			ON sales(line_key) WHERE line_key IS NOT NULL`,

		// One row per applied stock adjustment line; makes AdjustProductQuantity replay-safe
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS stock_adjustments (
			line_key   TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			delta      BIGINT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

func scopedShop(ctx context.Context) string {
	shopID, _ := auth.GetShopID(ctx)
	return shopID
}

// UpsertProduct creates or replaces a product row (catalog management and seeding)
func (l *PostgresLedger) UpsertProduct(ctx context.Context, p Product) (*Product, error) {
	if p.ID == "" || p.ShopID == "" {
		return nil, fmt.Errorf("%w: product id and shop id are required", ErrInvalidInput)
	}
	rows, err := l.pool.Query(ctx, `INSERT INTO products (id, shop_id, name, form, quantity, cost_price, selling_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			shop_id = EXCLUDED.shop_id, name = EXCLUDED.name, form = EXCLUDED.form,
			quantity = EXCLUDED.quantity, cost_price = EXCLUDED.cost_price,
			selling_price = EXCLUDED.selling_price, updated_at = now()
		RETURNING `+productColumns,
		p.ID, p.ShopID, p.Name, p.Form, p.Quantity, p.CostPrice, p.SellingPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert product: %w", err)
	}
	out, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[Product])
	if err != nil {
		return nil, fmt.Errorf("failed to upsert product: %w", err)
	}
	return &out, nil
}

// InsertTransaction implements Ledger
func (l *PostgresLedger) InsertTransaction(ctx context.Context, shopID string, totalAmount float64, checkoutKey string) (*Transaction, error) {
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id is required", ErrInvalidInput)
	}
	var out Transaction
	err := l.inTx(ctx, "insert_transaction", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `INSERT INTO transactions (shop_id, total_amount, checkout_key)
			VALUES ($1, $2, NULLIF($3, ''))
			ON CONFLICT (shop_id, checkout_key) WHERE checkout_key IS NOT NULL DO NOTHING
			RETURNING `+transactionColumns, shopID, totalAmount, checkoutKey)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[Transaction])
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// Conflict: the checkout was already recorded by an earlier attempt
		rows, err = tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
			WHERE shop_id = $1 AND checkout_key = $2`, shopID, checkoutKey)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[Transaction])
		if err != nil {
			return fmt.Errorf("failed to load existing transaction: %w", err)
		}
		l.logger.Info("Deduplicated replayed transaction", "shop_id", shopID, "checkout_key", checkoutKey, "id", out.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return &out, nil
}

// InsertTransactionItems implements Ledger
func (l *PostgresLedger) InsertTransactionItems(ctx context.Context, transactionID int64, items []TransactionItem) error {
	if len(items) == 0 {
		return nil
	}
	scope := scopedShop(ctx)
	err := l.inTx(ctx, "insert_items", func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT shop_id FROM transactions WHERE id = $1`, transactionID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && scope != "" && owner != scope) {
			return fmt.Errorf("%w: transaction %d", ErrNotFound, transactionID)
		}
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, it := range items {
			batch.Queue(`INSERT INTO transaction_items
				(transaction_id, product_id, name, form, quantity, price, amount, line_key)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
				ON CONFLICT (line_key) WHERE line_key IS NOT NULL DO NOTHING`,
				transactionID, it.ProductID, it.Name, it.Form, it.Quantity, it.Price, it.Amount, it.LineKey)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to insert transaction items: %w", err)
	}
	return nil
}

// InsertSales implements Ledger
func (l *PostgresLedger) InsertSales(ctx context.Context, sales []Sale) error {
	if len(sales) == 0 {
		return nil
	}
	for _, s := range sales {
		if s.ShopID == "" {
			return fmt.Errorf("%w: sale shop id is required", ErrInvalidInput)
		}
	}
	err := l.inTx(ctx, "insert_sales", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range sales {
			batch.Queue(`INSERT INTO sales (shop_id, product_id, name, form, quantity, amount, line_key, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), COALESCE($8::timestamptz, now()))
				ON CONFLICT (line_key) WHERE line_key IS NOT NULL DO NOTHING`,
				s.ShopID, s.ProductID, s.Name, s.Form, s.Quantity, s.Amount, s.LineKey, capturedAt(s.CreatedAt))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to insert sales: %w", err)
	}
	return nil
}

// capturedAt returns nil for a zero time so the database stamps now()
func capturedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// UpdateProductQuantity implements Ledger
func (l *PostgresLedger) UpdateProductQuantity(ctx context.Context, productID string, quantity int64) (*Product, error) {
	return l.UpdateProduct(ctx, productID, map[string]any{FieldQuantity: quantity})
}

// AdjustProductQuantity implements Ledger
func (l *PostgresLedger) AdjustProductQuantity(ctx context.Context, productID string, delta int64, lineKey string) (*Product, error) {
	scope := scopedShop(ctx)
	var out Product
	err := l.inTx(ctx, "adjust_quantity", func(tx pgx.Tx) error {
		apply := true
		if lineKey != "" {
			tag, err := tx.Exec(ctx, `INSERT INTO stock_adjustments (line_key, product_id, delta)
				VALUES ($1, $2, $3) ON CONFLICT (line_key) DO NOTHING`, lineKey, productID, delta)
			if err != nil {
				return err
			}
			apply = tag.RowsAffected() == 1
		}

		var rows pgx.Rows
		var err error
		if apply {
			rows, err = tx.Query(ctx, `UPDATE products SET quantity = quantity + $2, updated_at = now()
				WHERE id = $1 AND ($3::text = '' OR shop_id = $3)
				RETURNING `+productColumns, productID, delta, scope)
		} else {
			l.logger.Debug("Stock adjustment already applied", "product_id", productID, "line_key", lineKey)
			rows, err = tx.Query(ctx, `SELECT `+productColumns+` FROM products
				WHERE id = $1 AND ($2::text = '' OR shop_id = $2)`, productID, scope)
		}
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[Product])
		if errors.Is(err, pgx.ErrNoRows) {
			// rolls back the adjustment marker as well
			return fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to adjust product quantity: %w", err)
	}
	return &out, nil
}

// UpdateProduct implements Ledger
func (l *PostgresLedger) UpdateProduct(ctx context.Context, productID string, fields map[string]any) (*Product, error) {
	updates, err := normalizeProductFields(fields)
	if err != nil {
		return nil, err
	}
	scope := scopedShop(ctx)

	args := []any{productID, scope}
	var query string
	if len(updates) == 0 {
		query = `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND ($2::text = '' OR shop_id = $2)`
	} else {
		sets := make([]string, 0, len(updates)+1)
		for _, u := range updates {
			args = append(args, u.Value)
			sets = append(sets, fmt.Sprintf("%s = $%d", u.Column, len(args)))
		}
		sets = append(sets, "updated_at = now()")
		query = `UPDATE products SET ` + strings.Join(sets, ", ") +
			` WHERE id = $1 AND ($2::text = '' OR shop_id = $2) RETURNING ` + productColumns
	}

	var out Product
	err = l.inTx(ctx, "update_product", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[Product])
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return &out, nil
}

// ListProducts implements Ledger
func (l *PostgresLedger) ListProducts(ctx context.Context, shopID string) ([]Product, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE shop_id = $1 ORDER BY id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Product])
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return out, nil
}

// ListTransactions implements Ledger
func (l *PostgresLedger) ListTransactions(ctx context.Context, shopID string) ([]Transaction, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE shop_id = $1 ORDER BY id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// ListTransactionItems returns the items of one transaction
func (l *PostgresLedger) ListTransactionItems(ctx context.Context, transactionID int64) ([]TransactionItem, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+itemColumns+` FROM transaction_items WHERE transaction_id = $1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction items: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[TransactionItem])
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction items: %w", err)
	}
	return out, nil
}

// ListSales implements Ledger
func (l *PostgresLedger) ListSales(ctx context.Context, shopID string) ([]Sale, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE shop_id = $1 ORDER BY id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Sale])
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return out, nil
}
