// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-posync/ledger"
)

func newCheckoutKey() string { return uuid.NewString() }

// Products returns the cached product list in ledger order
func (c *Coordinator) Products() []ledger.Product {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	out := make([]ledger.Product, 0, len(c.productOrder))
	for _, id := range c.productOrder {
		out = append(out, c.products[id])
	}
	return out
}

// Product looks up one cached product
func (c *Coordinator) Product(id string) (ledger.Product, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	p, ok := c.products[id]
	return p, ok
}

// PutProduct replaces a cached product with a row returned by the ledger
func (c *Coordinator) PutProduct(p ledger.Product) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if _, ok := c.products[p.ID]; !ok {
		c.productOrder = append(c.productOrder, p.ID)
	}
	c.products[p.ID] = p
}

// Sales returns the cached sales list
func (c *Coordinator) Sales() []ledger.Sale {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return append([]ledger.Sale(nil), c.sales...)
}

// Transactions returns the cached transaction list
func (c *Coordinator) Transactions() []ledger.Transaction {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return append([]ledger.Transaction(nil), c.transactions...)
}

// RefreshProducts reloads the product cache from the ledger
func (c *Coordinator) RefreshProducts(ctx context.Context) error {
	products, err := c.ledger.ListProducts(ctx, c.shopID)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.products = make(map[string]ledger.Product, len(products))
	c.productOrder = c.productOrder[:0]
	for _, p := range products {
		c.products[p.ID] = p
		c.productOrder = append(c.productOrder, p.ID)
	}
	return nil
}

// RefreshCaches reloads products, sales and transactions. Each list is
// refreshed independently; a failed list keeps its previous contents.
func (c *Coordinator) RefreshCaches(ctx context.Context) error {
	start := c.stageStart()
	var errs []error

	if err := c.RefreshProducts(ctx); err != nil {
		errs = append(errs, err)
	}
	if sales, err := c.ledger.ListSales(ctx, c.shopID); err != nil {
		errs = append(errs, fmt.Errorf("failed to list sales: %w", err))
	} else {
		c.cacheMu.Lock()
		c.sales = sales
		c.cacheMu.Unlock()
	}
	if txs, err := c.ledger.ListTransactions(ctx, c.shopID); err != nil {
		errs = append(errs, fmt.Errorf("failed to list transactions: %w", err))
	} else {
		c.cacheMu.Lock()
		c.transactions = txs
		c.cacheMu.Unlock()
	}

	err := errors.Join(errs...)
	c.observeStage(ctx, "refresh", MetricsStageRefreshCaches, start, len(errs), err != nil)
	return err
}

func (c *Coordinator) productCacheEmpty() bool {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.products) == 0
}
