// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pendingstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Record status values
const (
	StatusPending      = "pending"
	StatusHeaderSynced = "header_synced" // remote transaction row exists, items/effects not yet confirmed
)

// PendingTransaction is a checkout captured while offline
type PendingTransaction struct {
	LocalID     int64     `db:"local_id" json:"local_id"`
	ShopID      string    `db:"shop_id" json:"shop_id"`
	TotalAmount float64   `db:"total_amount" json:"total_amount"`
	CheckoutKey string    `db:"checkout_key" json:"checkout_key"` // client idempotency token carried to the ledger
	RemoteID    *int64    `db:"remote_id" json:"remote_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Status      string    `db:"status" json:"status"`
}

// PendingTransactionItem is one cart line of a PendingTransaction
type PendingTransactionItem struct {
	LocalID            int64   `db:"local_id" json:"local_id"`
	TransactionLocalID int64   `db:"transaction_id" json:"transaction_local_id"`
	ProductID          string  `db:"product_id" json:"product_id"`
	Name               string  `db:"name" json:"name"`
	Form               string  `db:"form" json:"form"`
	Quantity           int64   `db:"quantity" json:"quantity"`
	Price              float64 `db:"price" json:"price"`
	Amount             float64 `db:"amount" json:"amount"`
}

// PendingSale mirrors a row of the ledger's denormalized sales table
type PendingSale struct {
	LocalID     int64     `db:"local_id" json:"local_id"`
	ShopID      string    `db:"shop_id" json:"shop_id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	Name        string    `db:"name" json:"name"`
	Form        string    `db:"form" json:"form"`
	Quantity    int64     `db:"quantity" json:"quantity"`
	Amount      float64   `db:"amount" json:"amount"`
	CheckoutKey *string   `db:"checkout_key" json:"checkout_key,omitempty"` // nil for sales not captured by a checkout
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Status      string    `db:"status" json:"status"`
}

// PendingProductUpdate is a deferred partial update of a ledger product row
type PendingProductUpdate struct {
	LocalID   int64     `db:"local_id" json:"local_id"`
	ProductID string    `db:"product_id" json:"product_id"`
	Updates   FieldMap  `db:"updates" json:"updates"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Status    string    `db:"status" json:"status"`
}

// FieldMap is a partial field map persisted as a JSON object
type FieldMap map[string]any

// Value implements driver.Valuer
func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *FieldMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = FieldMap{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported field map source %T", src)
	}
	out := FieldMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal field map: %w", err)
	}
	*m = out
	return nil
}

// CheckoutIDs holds the local ids assigned by AddPendingCheckout
type CheckoutIDs struct {
	TransactionID int64
	ItemIDs       []int64
	SaleIDs       []int64
}
