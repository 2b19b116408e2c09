// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

// REST/JSON models for the ledger HTTP API.
// The shop is always taken from the JWT sub claim, never from request bodies.

// InsertTransactionRequest creates a transaction header
type InsertTransactionRequest struct {
	TotalAmount float64 `json:"total_amount"`
	CheckoutKey string  `json:"checkout_key,omitempty"` // client idempotency token
}

// InsertItemsRequest attaches items to a transaction
type InsertItemsRequest struct {
	Items []TransactionItem `json:"items"`
}

// InsertSalesRequest stores sale rows
type InsertSalesRequest struct {
	Sales []Sale `json:"sales"`
}

// SetQuantityRequest overwrites a product's stock level
type SetQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// AdjustQuantityRequest applies a stock delta, at most once per line key
type AdjustQuantityRequest struct {
	Delta   int64  `json:"delta"`
	LineKey string `json:"line_key,omitempty"`
}

// ProductsResponse lists a shop's products
type ProductsResponse struct {
	Products []Product `json:"products"`
}

// TransactionsResponse lists a shop's transactions
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// SalesResponse lists a shop's sales rows
type SalesResponse struct {
	Sales []Sale `json:"sales"`
}

// StatusResponse is returned by write endpoints without a richer body
type StatusResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
