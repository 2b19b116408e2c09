// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledger is the authoritative backend store of transactions, sales and
// product stock. Terminals talk to it through the Ledger interface, either in
// process (PostgresLedger, MemoryLedger) or over HTTP (Client).
package ledger

import (
	"context"
	"time"
)

// Ledger is the remote surface used by checkout and sync
type Ledger interface {
	// InsertTransaction creates a transaction header. A non-empty checkoutKey makes the
	// call idempotent per shop: a replay returns the row created by the first call.
	InsertTransaction(ctx context.Context, shopID string, totalAmount float64, checkoutKey string) (*Transaction, error)

	// InsertTransactionItems attaches items to a transaction. Items whose LineKey was
	// already stored are ignored.
	InsertTransactionItems(ctx context.Context, transactionID int64, items []TransactionItem) error

	// InsertSales stores denormalized sale rows. Rows whose LineKey was already stored are ignored.
	InsertSales(ctx context.Context, sales []Sale) error

	// UpdateProductQuantity overwrites the stock level (last writer wins)
	UpdateProductQuantity(ctx context.Context, productID string, quantity int64) (*Product, error)

	// AdjustProductQuantity atomically adds delta to the stock level. A non-empty
	// lineKey is applied at most once.
	AdjustProductQuantity(ctx context.Context, productID string, delta int64, lineKey string) (*Product, error)

	// UpdateProduct applies a partial field map keyed by the Field* names
	UpdateProduct(ctx context.Context, productID string, fields map[string]any) (*Product, error)

	ListProducts(ctx context.Context, shopID string) ([]Product, error)
	ListTransactions(ctx context.Context, shopID string) ([]Transaction, error)
	ListSales(ctx context.Context, shopID string) ([]Sale, error)
}

// Product is a stock-keeping row owned by a shop
type Product struct {
	ID           string    `json:"id" db:"id"`
	ShopID       string    `json:"shop_id" db:"shop_id"`
	Name         string    `json:"name" db:"name"`
	Form         string    `json:"form" db:"form"`
	Quantity     int64     `json:"quantity" db:"quantity"`
	CostPrice    float64   `json:"cost_price" db:"cost_price"`
	SellingPrice float64   `json:"selling_price" db:"selling_price"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is a completed checkout header
type Transaction struct {
	ID          int64     `json:"id" db:"id"`
	ShopID      string    `json:"shop_id" db:"shop_id"`
	TotalAmount float64   `json:"total_amount" db:"total_amount"`
	CheckoutKey string    `json:"checkout_key,omitempty" db:"checkout_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TransactionItem is one line of a Transaction
type TransactionItem struct {
	ID            int64   `json:"id,omitempty" db:"id"`
	TransactionID int64   `json:"transaction_id" db:"transaction_id"`
	ProductID     string  `json:"product_id" db:"product_id"`
	Name          string  `json:"name" db:"name"`
	Form          string  `json:"form" db:"form"`
	Quantity      int64   `json:"quantity" db:"quantity"`
	Price         float64 `json:"price" db:"price"`
	Amount        float64 `json:"amount" db:"amount"`
	LineKey       string  `json:"line_key,omitempty" db:"line_key"`
}

// Sale is a denormalized sales ledger row
type Sale struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	ShopID    string    `json:"shop_id" db:"shop_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Form      string    `json:"form" db:"form"`
	Quantity  int64     `json:"quantity" db:"quantity"`
	Amount    float64   `json:"amount" db:"amount"`
	LineKey   string    `json:"line_key,omitempty" db:"line_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LineKey derives the idempotency key of one cart line; line is the 1-based
// position of the line within its checkout.
func LineKey(checkoutKey string, line int64) string {
	if checkoutKey == "" {
		return ""
	}
	return checkoutKey + ":" + itoa(line)
}
