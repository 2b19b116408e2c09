// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mobiletoly/go-posync/ledger"
	"github.com/mobiletoly/go-posync/netstate"
	"github.com/mobiletoly/go-posync/pendingstore"
)

// Store is the part of the local durable store the Coordinator drains
type Store interface {
	ListPendingTransactions(ctx context.Context) ([]pendingstore.PendingTransaction, error)
	ListTransactionItems(ctx context.Context, txLocalID int64) ([]pendingstore.PendingTransactionItem, error)
	ListPendingProductUpdates(ctx context.Context) ([]pendingstore.PendingProductUpdate, error)
	ListUnlinkedSales(ctx context.Context) ([]pendingstore.PendingSale, error)
	AssignCheckoutKey(ctx context.Context, localID int64, key string) (string, error)
	MarkTransactionRemote(ctx context.Context, localID, remoteID int64) error
	CompleteTransaction(ctx context.Context, localID int64, checkoutKey string) error
	Remove(ctx context.Context, c pendingstore.Collection, localID int64) error
	PendingCount(ctx context.Context) (int, error)
}

var _ Store = (*pendingstore.Store)(nil)

// Config holds coordinator settings
type Config struct {
	// StageMetrics receives per-stage drain timings when set
	StageMetrics StageMetricsRecorder
	// LogStageTimings logs stage timings at Debug level
	LogStageTimings bool
	// NewCheckoutKey generates keys for queued transactions written without one
	NewCheckoutKey func() string
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{NewCheckoutKey: newCheckoutKey}
}

// Coordinator replays locally queued records to the ledger and keeps the
// terminal's view of products, sales and transactions.
type Coordinator struct {
	store  Store
	ledger ledger.Ledger
	shopID string
	logger *slog.Logger
	config *Config

	group singleflight.Group
	rerun map[string]*atomic.Bool
	// passesDone runs after the last pass of a drain, before joined callers are released
	passesDone func(name string)

	cacheMu      sync.RWMutex
	products     map[string]ledger.Product
	productOrder []string
	sales        []ledger.Sale
	transactions []ledger.Transaction

	listenersMu sync.Mutex
	listeners   []*countListener

	bg sync.WaitGroup
}

type countListener struct {
	fn     func(count int)
	active atomic.Bool
}

// NewCoordinator creates a coordinator draining store into l for shopID
func NewCoordinator(store Store, l ledger.Ledger, shopID string, config *Config, logger *slog.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if shopID == "" {
		return nil, fmt.Errorf("shopID must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.NewCheckoutKey == nil {
		config.NewCheckoutKey = newCheckoutKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		ledger:   l,
		shopID:   shopID,
		logger:   logger.With("shop_id", shopID),
		config:   config,
		products: make(map[string]ledger.Product),
		rerun: map[string]*atomic.Bool{
			DrainTransactions:   new(atomic.Bool),
			DrainProductUpdates: new(atomic.Bool),
			DrainSales:          new(atomic.Bool),
		},
	}, nil
}

// ShopID returns the shop this coordinator syncs
func (c *Coordinator) ShopID() string { return c.shopID }

// Ledger returns the remote ledger the coordinator writes to
func (c *Coordinator) Ledger() ledger.Ledger { return c.ledger }

// serialize runs pass under the singleflight key name. A call that arrives
// while a pass is in flight raises the rerun flag and joins it; the running
// call keeps looping while the flag is set. A caller that joined after the
// last flag check finds the flag still raised and starts another drain.
func (c *Coordinator) serialize(ctx context.Context, name string, pass func(ctx context.Context) (*DrainReport, error)) (*DrainReport, error) {
	flag := c.rerun[name]
	flag.Store(true)
	report := &DrainReport{Drain: name}
	for {
		v, err, shared := c.group.Do(name, func() (any, error) {
			total := &DrainReport{Drain: name}
			for flag.Swap(false) {
				r, err := pass(ctx)
				total.merge(r)
				if err != nil {
					return total, err
				}
			}
			if c.passesDone != nil {
				c.passesDone(name)
			}
			return total, nil
		})
		r, _ := v.(*DrainReport)
		report.merge(r)
		if err != nil || !shared || !flag.Load() {
			return report, err
		}
		c.logger.Debug("Joined drain finished before picking up trigger, draining again", "drain", name)
	}
}

// SyncNow runs every drain in order: transactions, product updates, then
// standalone sales. Storage errors stop the sequence.
func (c *Coordinator) SyncNow(ctx context.Context) (*SyncReport, error) {
	out := &SyncReport{}
	var err error
	if out.Transactions, err = c.DrainPendingTransactions(ctx); err != nil {
		return out, err
	}
	if out.ProductUpdates, err = c.DrainPendingProductUpdates(ctx); err != nil {
		return out, err
	}
	if out.Sales, err = c.DrainPendingSales(ctx); err != nil {
		return out, err
	}
	if out.PendingCount, err = c.PendingCount(ctx); err != nil {
		return out, err
	}
	c.logger.Info("Sync finished",
		"transactions_synced", out.Transactions.Synced(),
		"product_updates_synced", out.ProductUpdates.Synced(),
		"sales_synced", out.Sales.Synced(),
		"pending", out.PendingCount)
	return out, nil
}

// Start drains at application start when records are waiting
func (c *Coordinator) Start(ctx context.Context) error {
	n, err := c.PendingCount(ctx)
	if err != nil {
		return err
	}
	c.emitPendingCount(n)
	if n == 0 {
		return nil
	}
	c.logger.Info("Pending records found at start", "count", n)
	_, err = c.SyncNow(ctx)
	return err
}

// Attach registers a drain on every offline-to-online transition of m. The
// drain runs on its own goroutine bound to ctx so the monitor's caller is not
// blocked. The returned func unregisters the trigger.
func (c *Coordinator) Attach(ctx context.Context, m *netstate.Monitor) (detach func()) {
	return m.OnBecameOnline(func() {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if _, err := c.SyncNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("Sync after reconnect failed", "error", err)
			}
		}()
	})
}

// Wait blocks until drains started by Attach have returned
func (c *Coordinator) Wait() { c.bg.Wait() }

// PendingCount is the number of local records not yet reconciled
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	return c.store.PendingCount(ctx)
}

// OnPendingCountChanged registers h to receive the pending count after every
// mutation of the local queue made through the Coordinator.
func (c *Coordinator) OnPendingCountChanged(h func(count int)) (unregister func()) {
	l := &countListener{fn: h}
	l.active.Store(true)
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, x := range c.listeners {
				if x == l {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// NotifyPendingChanged recomputes the pending count and emits it. Callers that
// write to the store directly (checkout) use it after each write.
func (c *Coordinator) NotifyPendingChanged(ctx context.Context) {
	n, err := c.PendingCount(ctx)
	if err != nil {
		c.logger.Error("Failed to count pending records", "error", err)
		return
	}
	c.emitPendingCount(n)
}

func (c *Coordinator) emitPendingCount(n int) {
	c.listenersMu.Lock()
	snapshot := append([]*countListener(nil), c.listeners...)
	c.listenersMu.Unlock()
	for _, l := range snapshot {
		if l.active.Load() {
			l.fn(n)
		}
	}
}
