// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package pendingstore is the terminal-side durable queue of records that
// still have to reach the remote ledger. It is backed by a single SQLite file.
package pendingstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	insertTransactionSQL = `INSERT INTO pending_transactions (shop_id, total_amount, checkout_key, remote_id, created_at, status)
		VALUES (:shop_id, :total_amount, :checkout_key, :remote_id, :created_at, :status)`
	insertItemSQL = `INSERT INTO pending_transaction_items (transaction_id, product_id, name, form, quantity, price, amount)
		VALUES (:transaction_id, :product_id, :name, :form, :quantity, :price, :amount)`
	insertSaleSQL = `INSERT INTO pending_sales (shop_id, product_id, name, form, quantity, amount, checkout_key, created_at, status)
		VALUES (:shop_id, :product_id, :name, :form, :quantity, :amount, :checkout_key, :created_at, :status)`
	insertProductUpdateSQL = `INSERT INTO pending_product_updates (product_id, updates, created_at, status)
		VALUES (:product_id, :updates, :created_at, :status)`
)

// Store is the local durable store. It is safe for concurrent use; all access
// goes through a single SQLite connection.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the SQLite file at path and migrates it.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, storageErr("open", "", err)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// connParams apply to every connection the pool opens, including replacements
const connParams = "_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + connParams
	}
	return path + "?" + connParams
}

// New wraps an already opened sqlite3 database and migrates it to SchemaVersion
func New(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// One connection: serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := initializeDatabase(ctx, db, logger); err != nil {
		return nil, storageErr("initialize", "", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// DB exposes the underlying handle (tests, diagnostics)
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the underlying database
func (s *Store) Close() error {
	return storageErr("close", "", s.db.Close())
}

// withTx runs fn inside one SQLite transaction, rolling back on any error
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()
	return fn(tx)
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

func namedInsert(ctx context.Context, tx *sqlx.Tx, query string, arg any) (int64, error) {
	res, err := tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func prepareTransaction(t *PendingTransaction, at time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = at
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
}

func prepareSale(sl *PendingSale, at time.Time) {
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = at
	}
	if sl.Status == "" {
		sl.Status = StatusPending
	}
}

// AddPendingTransaction stores a transaction header and returns its local id
func (s *Store) AddPendingTransaction(ctx context.Context, t PendingTransaction) (int64, error) {
	prepareTransaction(&t, s.stamp())
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		id, err = namedInsert(ctx, tx, insertTransactionSQL, &t)
		return err
	})
	return id, storageErr("add", PendingTransactions, err)
}

// AddPendingTransactionItems stores items of an existing transaction in one batch.
// The parent transaction must already exist.
func (s *Store) AddPendingTransactionItems(ctx context.Context, txLocalID int64, items []PendingTransactionItem) ([]int64, error) {
	ids := make([]int64, 0, len(items))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range items {
			items[i].TransactionLocalID = txLocalID
			id, err := namedInsert(ctx, tx, insertItemSQL, &items[i])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("add batch", PendingTransactionItems, err)
	}
	return ids, nil
}

// AddPendingSale stores one sale row
func (s *Store) AddPendingSale(ctx context.Context, sale PendingSale) (int64, error) {
	ids, err := s.AddPendingSales(ctx, []PendingSale{sale})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AddPendingSales stores sale rows in one batch sharing one created_at
func (s *Store) AddPendingSales(ctx context.Context, sales []PendingSale) ([]int64, error) {
	at := s.stamp()
	ids := make([]int64, 0, len(sales))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range sales {
			prepareSale(&sales[i], at)
			id, err := namedInsert(ctx, tx, insertSaleSQL, &sales[i])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("add batch", PendingSales, err)
	}
	return ids, nil
}

// AddPendingProductUpdate queues a partial product update
func (s *Store) AddPendingProductUpdate(ctx context.Context, u PendingProductUpdate) (int64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.stamp()
	}
	if u.Status == "" {
		u.Status = StatusPending
	}
	if u.Updates == nil {
		u.Updates = FieldMap{}
	}
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		id, err = namedInsert(ctx, tx, insertProductUpdateSQL, &u)
		return err
	})
	return id, storageErr("add", PendingProductUpdates, err)
}

// AddPendingCheckout stores a transaction, its items and its sales atomically.
// All records share one created_at; sales are linked through the checkout key.
func (s *Store) AddPendingCheckout(ctx context.Context, t PendingTransaction, items []PendingTransactionItem, sales []PendingSale) (*CheckoutIDs, error) {
	at := s.stamp()
	prepareTransaction(&t, at)
	out := &CheckoutIDs{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		txID, err := namedInsert(ctx, tx, insertTransactionSQL, &t)
		if err != nil {
			return err
		}
		out.TransactionID = txID
		for i := range items {
			items[i].TransactionLocalID = txID
			id, err := namedInsert(ctx, tx, insertItemSQL, &items[i])
			if err != nil {
				return err
			}
			out.ItemIDs = append(out.ItemIDs, id)
		}
		for i := range sales {
			prepareSale(&sales[i], at)
			if sales[i].CheckoutKey == nil && t.CheckoutKey != "" {
				key := t.CheckoutKey
				sales[i].CheckoutKey = &key
			}
			id, err := namedInsert(ctx, tx, insertSaleSQL, &sales[i])
			if err != nil {
				return err
			}
			out.SaleIDs = append(out.SaleIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("add checkout", PendingTransactions, err)
	}
	return out, nil
}

// ListPendingTransactions returns every queued transaction in local_id order
func (s *Store) ListPendingTransactions(ctx context.Context) ([]PendingTransaction, error) {
	var out []PendingTransaction
	if err := s.list(ctx, PendingTransactions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPendingSales returns every queued sale in local_id order
func (s *Store) ListPendingSales(ctx context.Context) ([]PendingSale, error) {
	var out []PendingSale
	if err := s.list(ctx, PendingSales, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPendingProductUpdates returns every queued product update in local_id order
func (s *Store) ListPendingProductUpdates(ctx context.Context) ([]PendingProductUpdate, error) {
	var out []PendingProductUpdate
	if err := s.list(ctx, PendingProductUpdates, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransactionItems returns the items of one transaction
func (s *Store) ListTransactionItems(ctx context.Context, txLocalID int64) ([]PendingTransactionItem, error) {
	var out []PendingTransactionItem
	if err := s.ListByIndex(ctx, PendingTransactionItems, IndexTransactionID, txLocalID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListProductUpdatesByProduct returns queued updates of one product
func (s *Store) ListProductUpdatesByProduct(ctx context.Context, productID string) ([]PendingProductUpdate, error) {
	var out []PendingProductUpdate
	if err := s.ListByIndex(ctx, PendingProductUpdates, IndexProductID, productID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSalesByCheckout returns the sales captured together with one checkout
func (s *Store) ListSalesByCheckout(ctx context.Context, checkoutKey string) ([]PendingSale, error) {
	var out []PendingSale
	if err := s.ListByIndex(ctx, PendingSales, IndexCheckoutKey, checkoutKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUnlinkedSales returns sales that do not belong to a queued checkout
func (s *Store) ListUnlinkedSales(ctx context.Context) ([]PendingSale, error) {
	var out []PendingSale
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM pending_sales WHERE checkout_key IS NULL OR checkout_key = '' ORDER BY local_id`)
	return out, storageErr("list unlinked", PendingSales, err)
}

func (s *Store) list(ctx context.Context, c Collection, dest any) error {
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY local_id`, c)
	return storageErr("list", c, s.db.SelectContext(ctx, dest, query))
}

// ListByIndex selects rows of c whose indexed field equals value into dest,
// which must be a pointer to a slice of the collection's record type.
func (s *Store) ListByIndex(ctx context.Context, c Collection, field string, value any, dest any) error {
	if err := checkIndex(c, field); err != nil {
		return err
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = ? ORDER BY local_id`, c, field)
	return storageErr("list by index", c, s.db.SelectContext(ctx, dest, query, value))
}

func checkIndex(c Collection, field string) error {
	if !c.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if !c.hasIndex(field) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, c, field)
	}
	return nil
}

// Remove deletes one record. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, c Collection, localID int64) error {
	if !c.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, c)
	_, err := s.db.ExecContext(ctx, query, localID)
	return storageErr("remove", c, err)
}

// RemoveAllByIndex deletes every record of c whose field equals value and
// returns how many were deleted. Matching ids are snapshotted first and only
// those are deleted.
func (s *Store) RemoveAllByIndex(ctx context.Context, c Collection, field string, value any) (int, error) {
	if err := checkIndex(c, field); err != nil {
		return 0, err
	}
	var removed int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var ids []int64
		sel := fmt.Sprintf(`SELECT local_id FROM %s WHERE %s = ?`, c, field)
		if err := tx.SelectContext(ctx, &ids, sel, value); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		del, args, err := sqlx.In(fmt.Sprintf(`DELETE FROM %s WHERE local_id IN (?)`, c), ids)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(del), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	return removed, storageErr("remove all by index", c, err)
}

// Count returns the number of records in c
func (s *Store) Count(ctx context.Context, c Collection) (int, error) {
	if !c.valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	var n int
	err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c))
	return n, storageErr("count", c, err)
}

// PendingCount is the number of records still owed to the ledger: queued
// transactions, queued product updates and sales not linked to a checkout.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT
		(SELECT COUNT(*) FROM pending_transactions) +
		(SELECT COUNT(*) FROM pending_product_updates) +
		(SELECT COUNT(*) FROM pending_sales WHERE checkout_key IS NULL OR checkout_key = '')`)
	return n, storageErr("pending count", "", err)
}

// MarkTransactionRemote records the ledger identity of a queued transaction
func (s *Store) MarkTransactionRemote(ctx context.Context, localID, remoteID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_transactions SET remote_id = ?, status = ? WHERE local_id = ?`,
		remoteID, StatusHeaderSynced, localID)
	if err != nil {
		return storageErr("mark remote", PendingTransactions, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("mark remote on missing transaction", "local_id", localID)
	}
	return nil
}

// CompleteTransaction deletes a transaction, its items and the sales linked to
// checkoutKey in one SQLite transaction. Missing rows are ignored.
func (s *Store) CompleteTransaction(ctx context.Context, localID int64, checkoutKey string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_transaction_items WHERE transaction_id = ?`, localID); err != nil {
			return err
		}
		if checkoutKey != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_sales WHERE checkout_key = ?`, checkoutKey); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_transactions WHERE local_id = ?`, localID)
		return err
	})
	return storageErr("complete", PendingTransactions, err)
}

// GetPendingTransaction loads one transaction; ok is false when it does not exist
func (s *Store) GetPendingTransaction(ctx context.Context, localID int64) (t PendingTransaction, ok bool, err error) {
	err = s.db.GetContext(ctx, &t, `SELECT * FROM pending_transactions WHERE local_id = ?`, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, nil
	}
	if err != nil {
		return t, false, storageErr("get", PendingTransactions, err)
	}
	return t, true, nil
}

// AssignCheckoutKey gives a transaction without a checkout key (rows written
// before v2) the key used to deduplicate its replay. A transaction that
// already has a key keeps it; the stored key is returned.
func (s *Store) AssignCheckoutKey(ctx context.Context, localID int64, key string) (string, error) {
	var stored string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_transactions SET checkout_key = ? WHERE local_id = ? AND checkout_key = ''`,
			key, localID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &stored, `SELECT checkout_key FROM pending_transactions WHERE local_id = ?`, localID)
	})
	if err != nil {
		return "", storageErr("assign checkout key", PendingTransactions, err)
	}
	return stored, nil
}
