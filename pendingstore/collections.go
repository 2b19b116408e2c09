// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pendingstore

// Collection names a record collection (one SQLite table per collection)
type Collection string

const (
	PendingProductUpdates   Collection = "pending_product_updates"
	PendingSales            Collection = "pending_sales"
	PendingTransactions     Collection = "pending_transactions"
	PendingTransactionItems Collection = "pending_transaction_items"
)

// Secondary index fields
const (
	IndexProductID     = "product_id"
	IndexShopID        = "shop_id"
	IndexCreatedAt     = "created_at"
	IndexTransactionID = "transaction_id"
	IndexCheckoutKey   = "checkout_key"
)

// collectionIndexes lists the fields usable with ListByIndex/RemoveAllByIndex.
// Every entry is backed by a SQLite index created in migrations.
var collectionIndexes = map[Collection][]string{
	PendingProductUpdates:   {IndexProductID, IndexCreatedAt},
	PendingSales:            {IndexShopID, IndexProductID, IndexCreatedAt, IndexCheckoutKey},
	PendingTransactions:     {IndexShopID, IndexCreatedAt, IndexCheckoutKey},
	PendingTransactionItems: {IndexTransactionID, IndexProductID},
}

// Collections returns all known collections
func Collections() []Collection {
	return []Collection{PendingProductUpdates, PendingSales, PendingTransactions, PendingTransactionItems}
}

func (c Collection) valid() bool {
	_, ok := collectionIndexes[c]
	return ok
}

func (c Collection) hasIndex(field string) bool {
	for _, f := range collectionIndexes[c] {
		if f == field {
			return true
		}
	}
	return false
}
