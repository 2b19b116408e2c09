// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package checkout turns a cart into either direct ledger writes (online) or a
// queued checkout in the local store (offline).
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-posync/ledger"
	"github.com/mobiletoly/go-posync/pendingstore"
)

// Reachability reports the current network state
type Reachability interface {
	IsOnline() bool
}

// Queue is the part of the local store used by checkout
type Queue interface {
	AddPendingCheckout(ctx context.Context, t pendingstore.PendingTransaction, items []pendingstore.PendingTransactionItem, sales []pendingstore.PendingSale) (*pendingstore.CheckoutIDs, error)
	AddPendingProductUpdate(ctx context.Context, u pendingstore.PendingProductUpdate) (int64, error)
}

// Catalog is the terminal's product cache and pending-count emitter
type Catalog interface {
	Product(id string) (ledger.Product, bool)
	PutProduct(p ledger.Product)
	NotifyPendingChanged(ctx context.Context)
}

// Receipt reflects what was captured by a checkout
type Receipt struct {
	CheckoutKey   string    `json:"checkout_key"`
	ShopID        string    `json:"shop_id"`
	Lines         []Line    `json:"lines"`
	Total         float64   `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
	PendingSync   bool      `json:"pending_sync"`
	TransactionID *int64    `json:"transaction_id,omitempty"` // ledger id, online only
	LocalID       *int64    `json:"local_id,omitempty"`       // queue id, offline only
	Warnings      []string  `json:"warnings,omitempty"`
}

// Service performs checkouts for one terminal
type Service struct {
	ledger  ledger.Ledger
	queue   Queue
	net     Reachability
	catalog Catalog
	logger  *slog.Logger

	now    func() time.Time
	newKey func() string
}

// NewService wires checkout to the ledger, the local queue, the network
// monitor and the product cache.
func NewService(l ledger.Ledger, queue Queue, net Reachability, catalog Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:  l,
		queue:   queue,
		net:     net,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

// Checkout captures the cart for shopID and clears it. Online, the ledger is
// written directly; if the header or items cannot be written the checkout is
// queued instead. Offline, it is queued. Only validation and local storage
// errors are returned, and on error the cart is left untouched.
func (s *Service) Checkout(ctx context.Context, shopID string, cart *Cart) (*Receipt, error) {
	if shopID == "" {
		return nil, ErrNoShop
	}
	lines := cart.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	for i, l := range lines {
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	r := &Receipt{
		CheckoutKey: s.newKey(),
		ShopID:      shopID,
		Lines:       lines,
		Total:       total(lines),
		CreatedAt:   s.now().UTC(),
	}
	log := s.logger.With("shop_id", shopID, "checkout_key", r.CheckoutKey)

	if s.net.IsOnline() {
		err := s.checkoutOnline(ctx, r, log)
		if err == nil {
			cart.Clear()
			log.Info("Checkout recorded", "transaction_id", *r.TransactionID, "total", r.Total)
			return r, nil
		}
		log.Warn("Online checkout failed, queueing for sync", "error", err)
	}

	if err := s.checkoutOffline(ctx, r); err != nil {
		return nil, err
	}
	cart.Clear()
	s.catalog.NotifyPendingChanged(ctx)
	log.Info("Checkout queued", "local_id", *r.LocalID, "total", r.Total)
	return r, nil
}

// checkoutOnline writes header, items, sales and stock. An error means the
// items were not stored and the checkout must be queued; the queued replay
// reuses the header through the checkout key.
func (s *Service) checkoutOnline(ctx context.Context, r *Receipt, log *slog.Logger) error {
	tx, err := s.ledger.InsertTransaction(ctx, r.ShopID, r.Total, r.CheckoutKey)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	items := make([]ledger.TransactionItem, len(r.Lines))
	sales := make([]ledger.Sale, len(r.Lines))
	for i, l := range r.Lines {
		key := ledger.LineKey(r.CheckoutKey, int64(i+1))
		items[i] = ledger.TransactionItem{
			TransactionID: tx.ID,
			ProductID:     l.ProductID,
			Name:          l.Name,
			Form:          l.Form,
			Quantity:      l.Quantity,
			Price:         l.Price,
			Amount:        l.Amount,
			LineKey:       key,
		}
		sales[i] = ledger.Sale{
			ShopID:    r.ShopID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Form:      l.Form,
			Quantity:  l.Quantity,
			Amount:    l.Amount,
			LineKey:   key,
			CreatedAt: r.CreatedAt,
		}
	}
	if err := s.ledger.InsertTransactionItems(ctx, tx.ID, items); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	r.TransactionID = &tx.ID

	if err := s.ledger.InsertSales(ctx, sales); err != nil {
		log.Error("Failed to insert sales", "transaction_id", tx.ID, "error", err)
		r.Warnings = append(r.Warnings, "sales not recorded")
	}
	for _, it := range items {
		if _, ok := s.catalog.Product(it.ProductID); !ok {
			log.Warn("Product not in cache, skipping stock adjustment", "product_id", it.ProductID)
			continue
		}
		p, err := s.ledger.AdjustProductQuantity(ctx, it.ProductID, -it.Quantity, it.LineKey)
		if err != nil {
			log.Error("Failed to adjust stock", "product_id", it.ProductID, "error", err)
			r.Warnings = append(r.Warnings, "stock not updated for "+it.ProductID)
			continue
		}
		s.catalog.PutProduct(*p)
	}
	return nil
}

func (s *Service) checkoutOffline(ctx context.Context, r *Receipt) error {
	items := make([]pendingstore.PendingTransactionItem, len(r.Lines))
	sales := make([]pendingstore.PendingSale, len(r.Lines))
	for i, l := range r.Lines {
		items[i] = pendingstore.PendingTransactionItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Form:      l.Form,
			Quantity:  l.Quantity,
			Price:     l.Price,
			Amount:    l.Amount,
		}
		sales[i] = pendingstore.PendingSale{
			ShopID:    r.ShopID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Form:      l.Form,
			Quantity:  l.Quantity,
			Amount:    l.Amount,
		}
	}
	ids, err := s.queue.AddPendingCheckout(ctx, pendingstore.PendingTransaction{
		ShopID:      r.ShopID,
		TotalAmount: r.Total,
		CheckoutKey: r.CheckoutKey,
		CreatedAt:   r.CreatedAt,
	}, items, sales)
	if err != nil {
		return fmt.Errorf("failed to queue checkout: %w", err)
	}
	r.TransactionID = nil
	r.LocalID = &ids.TransactionID
	r.PendingSync = true
	return nil
}

// QueueProductUpdate stores a product edit for the next sync
func (s *Service) QueueProductUpdate(ctx context.Context, productID string, updates map[string]any) (int64, error) {
	if err := ledger.ValidateProductFields(updates); err != nil {
		return 0, err
	}
	id, err := s.queue.AddPendingProductUpdate(ctx, pendingstore.PendingProductUpdate{
		ProductID: productID,
		Updates:   pendingstore.FieldMap(updates),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to queue product update: %w", err)
	}
	s.catalog.NotifyPendingChanged(ctx)
	return id, nil
}

// UpdateProduct applies a product edit directly when online and queues it
// otherwise or when the ledger cannot be reached. pending reports whether
// the edit was queued.
func (s *Service) UpdateProduct(ctx context.Context, productID string, updates map[string]any) (pending bool, err error) {
	if err := ledger.ValidateProductFields(updates); err != nil {
		return false, err
	}
	if s.net.IsOnline() {
		p, err := s.ledger.UpdateProduct(ctx, productID, updates)
		if err == nil {
			s.catalog.PutProduct(*p)
			return false, nil
		}
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrInvalidInput) {
			// rejected by the ledger; a queued replay would fail the same way
			return false, err
		}
		s.logger.Warn("Product update failed, queueing for sync", "product_id", productID, "error", err)
	}
	if _, err := s.QueueProductUpdate(ctx, productID, updates); err != nil {
		return false, err
	}
	return true, nil
}
