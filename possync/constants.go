// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

// Drain names (also used as singleflight keys and metrics operations)
const (
	DrainTransactions   = "transactions"
	DrainProductUpdates = "product_updates"
	DrainSales          = "sales"
)

// Status constants for per-record drain results
const (
	StSynced        = "synced"         // reconciled and removed from the local store
	StHeaderFailed  = "header_failed"  // transaction header insert failed; record kept
	StItemsFailed   = "items_failed"   // item insert failed; header and items kept
	StUpdateFailed  = "update_failed"  // product update rejected or unreachable; kept
	StSaleFailed    = "sale_failed"    // standalone sale insert failed; kept
	StSyncedPartial = "synced_partial" // removed locally, but sales or stock effects logged as failed
)

// Warning reasons recorded for non-fatal step failures
const (
	ReasonSalesInsert    = "sales_insert"
	ReasonStockAdjust    = "stock_adjust"
	ReasonProductMissing = "product_missing"
)
