// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger with the same idempotency rules as
// PostgresLedger. It backs demos and tests; nothing is persisted.
type MemoryLedger struct {
	mu           sync.Mutex
	products     map[string]Product
	transactions []Transaction
	items        []TransactionItem
	sales        []Sale
	byCheckout   map[string]int64 // shop_id + "/" + checkout_key -> transaction id
	lineKeys     map[string]bool  // "item:", "sale:" and "adjust:" prefixed line keys
	nextID       int64
	now          func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger seeded with products
func NewMemoryLedger(products ...Product) *MemoryLedger {
	m := &MemoryLedger{
		products:   make(map[string]Product),
		byCheckout: make(map[string]int64),
		lineKeys:   make(map[string]bool),
		now:        time.Now,
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *MemoryLedger) id() int64 {
	m.nextID++
	return m.nextID
}

// UpsertProduct creates or replaces a product row
func (m *MemoryLedger) UpsertProduct(_ context.Context, p Product) (*Product, error) {
	if p.ID == "" || p.ShopID == "" {
		return nil, fmt.Errorf("%w: product id and shop id are required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.now().UTC()
	m.products[p.ID] = p
	return &p, nil
}

// Product returns a snapshot of one product row
func (m *MemoryLedger) Product(id string) (Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, ok
}

// Items returns a snapshot of all transaction items
func (m *MemoryLedger) Items() []TransactionItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransactionItem(nil), m.items...)
}

func (m *MemoryLedger) InsertTransaction(_ context.Context, shopID string, totalAmount float64, checkoutKey string) (*Transaction, error) {
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if checkoutKey != "" {
		if id, ok := m.byCheckout[shopID+"/"+checkoutKey]; ok {
			for _, t := range m.transactions {
				if t.ID == id {
					return &t, nil
				}
			}
		}
	}
	t := Transaction{ID: m.id(), ShopID: shopID, TotalAmount: totalAmount, CheckoutKey: checkoutKey, CreatedAt: m.now().UTC()}
	m.transactions = append(m.transactions, t)
	if checkoutKey != "" {
		m.byCheckout[shopID+"/"+checkoutKey] = t.ID
	}
	return &t, nil
}

func (m *MemoryLedger) InsertTransactionItems(ctx context.Context, transactionID int64, items []TransactionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owner string
	for _, t := range m.transactions {
		if t.ID == transactionID {
			owner = t.ShopID
		}
	}
	if owner == "" || (scopedShop(ctx) != "" && scopedShop(ctx) != owner) {
		return fmt.Errorf("%w: transaction %d", ErrNotFound, transactionID)
	}
	for _, it := range items {
		if it.LineKey != "" {
			if m.lineKeys["item:"+it.LineKey] {
				continue
			}
			m.lineKeys["item:"+it.LineKey] = true
		}
		it.ID = m.id()
		it.TransactionID = transactionID
		m.items = append(m.items, it)
	}
	return nil
}

func (m *MemoryLedger) InsertSales(_ context.Context, sales []Sale) error {
	for _, s := range sales {
		if s.ShopID == "" {
			return fmt.Errorf("%w: sale shop id is required", ErrInvalidInput)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sales {
		if s.LineKey != "" {
			if m.lineKeys["sale:"+s.LineKey] {
				continue
			}
			m.lineKeys["sale:"+s.LineKey] = true
		}
		s.ID = m.id()
		if s.CreatedAt.IsZero() {
			s.CreatedAt = m.now()
		}
		s.CreatedAt = s.CreatedAt.UTC()
		m.sales = append(m.sales, s)
	}
	return nil
}

// product must be called with mu held
func (m *MemoryLedger) product(ctx context.Context, id string) (Product, error) {
	p, ok := m.products[id]
	if !ok || (scopedShop(ctx) != "" && scopedShop(ctx) != p.ShopID) {
		return Product{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryLedger) UpdateProductQuantity(ctx context.Context, productID string, quantity int64) (*Product, error) {
	return m.UpdateProduct(ctx, productID, map[string]any{FieldQuantity: quantity})
}

func (m *MemoryLedger) AdjustProductQuantity(ctx context.Context, productID string, delta int64, lineKey string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if lineKey != "" {
		if m.lineKeys["adjust:"+lineKey] {
			return &p, nil
		}
		m.lineKeys["adjust:"+lineKey] = true
	}
	p.Quantity += delta
	p.UpdatedAt = m.now().UTC()
	m.products[productID] = p
	return &p, nil
}

func (m *MemoryLedger) UpdateProduct(ctx context.Context, productID string, fields map[string]any) (*Product, error) {
	updates, err := normalizeProductFields(fields)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		applyFields(&p, updates)
		p.UpdatedAt = m.now().UTC()
		m.products[productID] = p
	}
	return &p, nil
}

func (m *MemoryLedger) ListProducts(_ context.Context, shopID string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		if p.ShopID == shopID {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func (m *MemoryLedger) ListTransactions(_ context.Context, shopID string) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Transaction{}
	for _, t := range m.transactions {
		if t.ShopID == shopID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryLedger) ListSales(_ context.Context, shopID string) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Sale{}
	for _, s := range m.sales {
		if s.ShopID == shopID {
			out = append(out, s)
		}
	}
	return out, nil
}

func sortProducts(ps []Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
