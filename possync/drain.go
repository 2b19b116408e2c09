// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"fmt"

	"github.com/mobiletoly/go-posync/ledger"
	"github.com/mobiletoly/go-posync/pendingstore"
)

// DrainPendingTransactions replays every queued transaction to the ledger in
// creation order. A record whose header or items cannot be written stays
// queued for the next drain; the error return is reserved for local storage
// failures.
func (c *Coordinator) DrainPendingTransactions(ctx context.Context) (*DrainReport, error) {
	return c.serialize(ctx, DrainTransactions, c.drainTransactionsOnce)
}

// DrainPendingProductUpdates replays queued product edits one by one in queue
// order. Updates for the same product are not merged.
func (c *Coordinator) DrainPendingProductUpdates(ctx context.Context) (*DrainReport, error) {
	return c.serialize(ctx, DrainProductUpdates, c.drainProductUpdatesOnce)
}

// DrainPendingSales replays sales that are not tied to a queued checkout
func (c *Coordinator) DrainPendingSales(ctx context.Context) (*DrainReport, error) {
	return c.serialize(ctx, DrainSales, c.drainSalesOnce)
}

func (c *Coordinator) drainTransactionsOnce(ctx context.Context) (*DrainReport, error) {
	total := c.stageStart()
	report := &DrainReport{Drain: DrainTransactions, Passes: 1}

	start := c.stageStart()
	txs, err := c.store.ListPendingTransactions(ctx)
	c.observeStage(ctx, DrainTransactions, MetricsStageList, start, len(txs), err != nil)
	if err != nil {
		return report, err
	}
	if len(txs) == 0 {
		return report, nil
	}

	// stock adjustments resolve products through the cache
	if c.productCacheEmpty() {
		if err := c.RefreshProducts(ctx); err != nil {
			c.logger.Warn("Failed to load products before drain", "error", err)
		}
	}

	for _, tx := range txs {
		st, err := c.reconcileTransaction(ctx, tx)
		if err != nil {
			c.observeStage(ctx, DrainTransactions, MetricsStageTotal, total, len(report.Statuses), true)
			return report, err
		}
		report.Statuses = append(report.Statuses, st)
	}

	if err := c.RefreshCaches(ctx); err != nil {
		c.logger.Warn("Failed to refresh caches after drain", "error", err)
	}
	c.NotifyPendingChanged(ctx)

	c.observeStage(ctx, DrainTransactions, MetricsStageTotal, total, len(report.Statuses), false)
	c.logger.Info("Drained pending transactions",
		"attempted", len(report.Statuses),
		"synced", report.Synced(),
		"kept", report.Kept())
	return report, nil
}

// reconcileTransaction walks one queued transaction through header, items,
// sales, stock and local deletion. Only storage errors are returned.
func (c *Coordinator) reconcileTransaction(ctx context.Context, tx pendingstore.PendingTransaction) (RecordStatus, error) {
	log := c.logger.With("local_id", tx.LocalID)

	// Rows queued before checkout keys existed get one now. Their sales were
	// queued as standalone records and are replayed by DrainPendingSales.
	deriveSales := tx.CheckoutKey != ""
	if tx.CheckoutKey == "" {
		key, err := c.store.AssignCheckoutKey(ctx, tx.LocalID, c.config.NewCheckoutKey())
		if err != nil {
			return RecordStatus{}, err
		}
		tx.CheckoutKey = key
	}

	// a. header
	remoteID := tx.RemoteID
	if remoteID == nil {
		start := c.stageStart()
		created, err := c.ledger.InsertTransaction(ctx, tx.ShopID, tx.TotalAmount, tx.CheckoutKey)
		c.observeStage(ctx, DrainTransactions, MetricsStageTransactionHeader, start, 1, err != nil)
		if err != nil {
			log.Warn("Failed to insert transaction header, keeping for retry", "error", err)
			return statusFailed(tx.LocalID, StHeaderFailed, err), nil
		}
		id := created.ID
		remoteID = &id
		if err := c.store.MarkTransactionRemote(ctx, tx.LocalID, id); err != nil {
			return RecordStatus{}, err
		}
	}

	// b. items, keyed by position so an online attempt and its queued replay agree
	items, err := c.store.ListTransactionItems(ctx, tx.LocalID)
	if err != nil {
		return RecordStatus{}, err
	}
	lines := make([]ledger.TransactionItem, len(items))
	for i, it := range items {
		lines[i] = ledger.TransactionItem{
			TransactionID: *remoteID,
			ProductID:     it.ProductID,
			Name:          it.Name,
			Form:          it.Form,
			Quantity:      it.Quantity,
			Price:         it.Price,
			Amount:        it.Amount,
			LineKey:       ledger.LineKey(tx.CheckoutKey, int64(i+1)),
		}
	}
	if len(lines) > 0 {
		start := c.stageStart()
		err := c.ledger.InsertTransactionItems(ctx, *remoteID, lines)
		c.observeStage(ctx, DrainTransactions, MetricsStageTransactionItems, start, len(lines), err != nil)
		if err != nil {
			log.Warn("Failed to insert transaction items, keeping for retry", "remote_id", *remoteID, "error", err)
			st := statusFailed(tx.LocalID, StItemsFailed, err)
			st.RemoteID = remoteID
			return st, nil
		}
	}

	var warnings []string

	// c. sales
	if deriveSales && len(lines) > 0 {
		sales := make([]ledger.Sale, len(lines))
		for i, ln := range lines {
			sales[i] = ledger.Sale{
				ShopID:    tx.ShopID,
				ProductID: ln.ProductID,
				Name:      ln.Name,
				Form:      ln.Form,
				Quantity:  ln.Quantity,
				Amount:    ln.Amount,
				LineKey:   ln.LineKey,
				CreatedAt: tx.CreatedAt,
			}
		}
		start := c.stageStart()
		err := c.ledger.InsertSales(ctx, sales)
		c.observeStage(ctx, DrainTransactions, MetricsStageSales, start, len(sales), err != nil)
		if err != nil {
			log.Error("Failed to insert sales for transaction", "remote_id", *remoteID, "error", err)
			warnings = append(warnings, ReasonSalesInsert)
		}
	}

	// d. stock
	start := c.stageStart()
	stockErr := false
	for _, ln := range lines {
		if _, ok := c.Product(ln.ProductID); !ok {
			log.Warn("Product not in cache, skipping stock adjustment", "product_id", ln.ProductID)
			warnings = appendOnce(warnings, ReasonProductMissing)
			continue
		}
		p, err := c.ledger.AdjustProductQuantity(ctx, ln.ProductID, -ln.Quantity, ln.LineKey)
		if err != nil {
			log.Error("Failed to adjust stock", "product_id", ln.ProductID, "delta", -ln.Quantity, "error", err)
			warnings = appendOnce(warnings, ReasonStockAdjust)
			stockErr = true
			continue
		}
		c.PutProduct(*p)
	}
	c.observeStage(ctx, DrainTransactions, MetricsStageStock, start, len(lines), stockErr)

	// e. local deletion
	start = c.stageStart()
	err = c.store.CompleteTransaction(ctx, tx.LocalID, tx.CheckoutKey)
	c.observeStage(ctx, DrainTransactions, MetricsStageComplete, start, 1, err != nil)
	if err != nil {
		return RecordStatus{}, err
	}
	return statusSynced(tx.LocalID, remoteID, warnings), nil
}

func (c *Coordinator) drainProductUpdatesOnce(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{Drain: DrainProductUpdates, Passes: 1}

	updates, err := c.store.ListPendingProductUpdates(ctx)
	if err != nil {
		return report, err
	}
	if len(updates) == 0 {
		return report, nil
	}

	for _, u := range updates {
		start := c.stageStart()
		p, err := c.ledger.UpdateProduct(ctx, u.ProductID, u.Updates)
		c.observeStage(ctx, DrainProductUpdates, MetricsStageProductUpdate, start, 1, err != nil)
		if err != nil {
			c.logger.Warn("Failed to replay product update, keeping for retry",
				"local_id", u.LocalID, "product_id", u.ProductID, "error", err)
			report.Statuses = append(report.Statuses, statusFailed(u.LocalID, StUpdateFailed, err))
			continue
		}
		if err := c.store.Remove(ctx, pendingstore.PendingProductUpdates, u.LocalID); err != nil {
			return report, err
		}
		c.PutProduct(*p)
		report.Statuses = append(report.Statuses, statusSynced(u.LocalID, nil, nil))
	}

	c.NotifyPendingChanged(ctx)
	c.logger.Info("Drained pending product updates", "attempted", len(updates), "synced", report.Synced())
	return report, nil
}

func (c *Coordinator) drainSalesOnce(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{Drain: DrainSales, Passes: 1}

	sales, err := c.store.ListUnlinkedSales(ctx)
	if err != nil {
		return report, err
	}
	if len(sales) == 0 {
		return report, nil
	}

	for _, s := range sales {
		start := c.stageStart()
		err := c.ledger.InsertSales(ctx, []ledger.Sale{{
			ShopID:    s.ShopID,
			ProductID: s.ProductID,
			Name:      s.Name,
			Form:      s.Form,
			Quantity:  s.Quantity,
			Amount:    s.Amount,
			CreatedAt: s.CreatedAt,
		}})
		c.observeStage(ctx, DrainSales, MetricsStageSaleInsert, start, 1, err != nil)
		if err != nil {
			c.logger.Warn("Failed to replay sale, keeping for retry", "local_id", s.LocalID, "error", err)
			report.Statuses = append(report.Statuses, statusFailed(s.LocalID, StSaleFailed, err))
			continue
		}
		if err := c.store.Remove(ctx, pendingstore.PendingSales, s.LocalID); err != nil {
			return report, err
		}
		report.Statuses = append(report.Statuses, statusSynced(s.LocalID, nil, nil))
	}

	c.NotifyPendingChanged(ctx)
	return report, nil
}

func appendOnce(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// String renders a short summary for logs
func (r *DrainReport) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: passes=%d synced=%d kept=%d", r.Drain, r.Passes, r.Synced(), r.Kept())
}
