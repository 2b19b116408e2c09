package pendingstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestInitializeDatabase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range Collections() {
		var count int
		err := s.DB().GetContext(ctx, &count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", string(c))
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", c)
	}

	v, err := schemaVersion(ctx, s.DB())
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	var journalMode string
	require.NoError(t, s.DB().GetContext(ctx, &journalMode, "PRAGMA journal_mode"))
	// In-memory databases use "memory" mode instead of "wal"
	require.Contains(t, []string{"wal", "memory"}, journalMode)

	var foreignKeys int
	require.NoError(t, s.DB().GetContext(ctx, &foreignKeys, "PRAGMA foreign_keys"))
	require.Equal(t, 1, foreignKeys)
}

func TestAddPendingTransaction_StampsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)

	id1, err := s.AddPendingTransaction(ctx, PendingTransaction{ShopID: "shop-1", TotalAmount: 100, CheckoutKey: "k1"})
	require.NoError(t, err)
	id2, err := s.AddPendingTransaction(ctx, PendingTransaction{ShopID: "shop-1", TotalAmount: 200, CheckoutKey: "k2"})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	txs, err := s.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		require.Equal(t, StatusPending, tx.Status)
		require.True(t, tx.CreatedAt.After(before))
		require.Nil(t, tx.RemoteID)
	}
}

func TestAddPendingCheckout_AtomicAndSharedTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []PendingTransactionItem{
		{ProductID: "p1", Name: "Paracetamol", Form: "tablet", Quantity: 3, Price: 500, Amount: 1500},
		{ProductID: "p2", Name: "Amoxicillin", Form: "capsule", Quantity: 1, Price: 250, Amount: 250},
	}
	sales := []PendingSale{
		{ShopID: "shop-1", ProductID: "p1", Name: "Paracetamol", Form: "tablet", Quantity: 3, Amount: 1500},
		{ShopID: "shop-1", ProductID: "p2", Name: "Amoxicillin", Form: "capsule", Quantity: 1, Amount: 250},
	}
	ids, err := s.AddPendingCheckout(ctx, PendingTransaction{ShopID: "shop-1", TotalAmount: 1750, CheckoutKey: "ck-1"}, items, sales)
	require.NoError(t, err)
	require.Len(t, ids.ItemIDs, 2)
	require.Len(t, ids.SaleIDs, 2)

	tx, ok, err := s.GetPendingTransaction(ctx, ids.TransactionID)
	require.NoError(t, err)
	require.True(t, ok)

	gotItems, err := s.ListTransactionItems(ctx, ids.TransactionID)
	require.NoError(t, err)
	require.Len(t, gotItems, 2)
	var sum float64
	for _, it := range gotItems {
		sum += it.Amount
	}
	require.InDelta(t, tx.TotalAmount, sum, 0.005)

	gotSales, err := s.ListSalesByCheckout(ctx, "ck-1")
	require.NoError(t, err)
	require.Len(t, gotSales, 2)
	for _, sl := range gotSales {
		require.True(t, sl.CreatedAt.Equal(tx.CreatedAt), "sale and transaction share created_at")
	}

	// linked sales are not counted separately
	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAddPendingCheckout_RollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `CREATE TRIGGER fail_sales BEFORE INSERT ON pending_sales
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	_, err = s.AddPendingCheckout(ctx,
		PendingTransaction{ShopID: "shop-1", TotalAmount: 10, CheckoutKey: "ck"},
		[]PendingTransactionItem{{ProductID: "p1", Quantity: 1, Price: 10, Amount: 10}},
		[]PendingSale{{ShopID: "shop-1", ProductID: "p1", Quantity: 1, Amount: 10}})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorage)

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "add checkout", serr.Op)

	for _, c := range []Collection{PendingTransactions, PendingTransactionItems} {
		n, err := s.Count(ctx, c)
		require.NoError(t, err)
		require.Zero(t, n, "collection %s must be empty after rollback", c)
	}
}

func TestAddPendingTransactionItems_RequiresParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddPendingTransactionItems(context.Background(), 999, []PendingTransactionItem{{ProductID: "p1", Quantity: 1}})
	require.ErrorIs(t, err, ErrStorage)
}

func TestQueueDurability_AcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pos.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	_, err = s.AddPendingCheckout(ctx,
		PendingTransaction{ShopID: "shop-1", TotalAmount: 1500, CheckoutKey: "ck-1"},
		[]PendingTransactionItem{{ProductID: "p1", Quantity: 3, Price: 500, Amount: 1500}},
		[]PendingSale{{ShopID: "shop-1", ProductID: "p1", Quantity: 3, Amount: 1500}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	txs, err := s.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, 1500.0, txs[0].TotalAmount)
	require.Equal(t, "ck-1", txs[0].CheckoutKey)

	items, err := s.ListTransactionItems(ctx, txs[0].LocalID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(3), items[0].Quantity)
	require.Equal(t, 1500.0, items[0].Amount)
}

func TestRemove_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddPendingProductUpdate(ctx, PendingProductUpdate{ProductID: "p2", Updates: FieldMap{"quantity": 10}})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, PendingProductUpdates, id))
	require.NoError(t, s.Remove(ctx, PendingProductUpdates, id))

	n, err := s.Count(ctx, PendingProductUpdates)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUnknownCollectionAndIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.Remove(ctx, Collection("nope"), 1), ErrUnknownCollection)

	var out []PendingSale
	require.ErrorIs(t, s.ListByIndex(ctx, PendingSales, "amount", 1, &out), ErrUnknownIndex)

	_, err := s.RemoveAllByIndex(ctx, PendingTransactionItems, "shop_id", "x")
	require.ErrorIs(t, err, ErrUnknownIndex)
}

func TestRemoveAllByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, qty := range []int{10, 7} {
		_, err := s.AddPendingProductUpdate(ctx, PendingProductUpdate{ProductID: "p2", Updates: FieldMap{"quantity": qty}})
		require.NoError(t, err)
	}
	_, err := s.AddPendingProductUpdate(ctx, PendingProductUpdate{ProductID: "p3", Updates: FieldMap{"name": "Ibuprofen"}})
	require.NoError(t, err)

	removed, err := s.RemoveAllByIndex(ctx, PendingProductUpdates, IndexProductID, "p2")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	left, err := s.ListPendingProductUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "p3", left[0].ProductID)
	require.Equal(t, "Ibuprofen", left[0].Updates["name"])

	removed, err = s.RemoveAllByIndex(ctx, PendingProductUpdates, IndexProductID, "p2")
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestProductUpdates_PreserveQueueOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddPendingProductUpdate(ctx, PendingProductUpdate{ProductID: "p2", Updates: FieldMap{"quantity": 10}})
	require.NoError(t, err)
	_, err = s.AddPendingProductUpdate(ctx, PendingProductUpdate{ProductID: "p2", Updates: FieldMap{"quantity": 7}})
	require.NoError(t, err)

	ups, err := s.ListProductUpdatesByProduct(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, ups, 2)
	// JSON numbers decode as float64
	require.Equal(t, 10.0, ups[0].Updates["quantity"])
	require.Equal(t, 7.0, ups[1].Updates["quantity"])
}

func TestMarkRemoteAndCompleteTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.AddPendingCheckout(ctx,
		PendingTransaction{ShopID: "shop-1", TotalAmount: 1500, CheckoutKey: "ck-1"},
		[]PendingTransactionItem{{ProductID: "p1", Quantity: 3, Price: 500, Amount: 1500}},
		[]PendingSale{{ShopID: "shop-1", ProductID: "p1", Quantity: 3, Amount: 1500}})
	require.NoError(t, err)
	// an unrelated sale recorded without a checkout
	_, err = s.AddPendingSale(ctx, PendingSale{ShopID: "shop-1", ProductID: "p9", Quantity: 1, Amount: 5})
	require.NoError(t, err)

	require.NoError(t, s.MarkTransactionRemote(ctx, ids.TransactionID, 42))
	tx, ok, err := s.GetPendingTransaction(ctx, ids.TransactionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tx.RemoteID)
	require.Equal(t, int64(42), *tx.RemoteID)
	require.Equal(t, StatusHeaderSynced, tx.Status)

	require.NoError(t, s.CompleteTransaction(ctx, ids.TransactionID, "ck-1"))
	// second completion is a no-op
	require.NoError(t, s.CompleteTransaction(ctx, ids.TransactionID, "ck-1"))

	_, ok, err = s.GetPendingTransaction(ctx, ids.TransactionID)
	require.NoError(t, err)
	require.False(t, ok)

	items, err := s.ListTransactionItems(ctx, ids.TransactionID)
	require.NoError(t, err)
	require.Empty(t, items)

	sales, err := s.ListPendingSales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, "p9", sales[0].ProductID)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListUnlinkedSales(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddPendingSales(ctx, []PendingSale{
		{ShopID: "shop-1", ProductID: "p1", Quantity: 1, Amount: 5},
		{ShopID: "shop-1", ProductID: "p2", Quantity: 1, Amount: 5, CheckoutKey: strPtr("ck-x")},
	})
	require.NoError(t, err)

	unlinked, err := s.ListUnlinkedSales(ctx)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	require.Equal(t, "p1", unlinked[0].ProductID)
}

func TestSchemaUpgrade_V1ToV2PreservesData(t *testing.T) {
	ctx := context.Background()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	require.NoError(t, migrateTo(ctx, db, 1, testLogger()))
	_, err = db.ExecContext(ctx, `INSERT INTO pending_transactions (shop_id, total_amount, created_at, status)
		VALUES ('shop-1', 99.5, ?, 'pending')`, time.Now().UTC())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO pending_sales (shop_id, product_id, quantity, amount, created_at)
		VALUES ('shop-1', 'p1', 1, 99.5, ?)`, time.Now().UTC())
	require.NoError(t, err)

	s, err := New(ctx, db, nil)
	require.NoError(t, err)

	v, err := schemaVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	txs, err := s.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, 99.5, txs[0].TotalAmount)
	require.Empty(t, txs[0].CheckoutKey)
	require.Nil(t, txs[0].RemoteID)

	// legacy sales carry no checkout key and count towards pending work
	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// reopening an up-to-date database is a no-op
	_, err = New(ctx, db, nil)
	require.NoError(t, err)
}

func TestFieldMapScan(t *testing.T) {
	var m FieldMap
	require.NoError(t, m.Scan(`{"quantity":7,"name":"x"}`))
	require.Equal(t, 7.0, m["quantity"])
	require.NoError(t, m.Scan(nil))
	require.Empty(t, m)
	require.Error(t, m.Scan(12))
}

func TestAssignCheckoutKey_OnlyFillsEmptyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	legacy, err := s.AddPendingTransaction(ctx, PendingTransaction{ShopID: "shop-1", TotalAmount: 10})
	require.NoError(t, err)
	keyed, err := s.AddPendingTransaction(ctx, PendingTransaction{ShopID: "shop-1", TotalAmount: 20, CheckoutKey: "k-orig"})
	require.NoError(t, err)

	got, err := s.AssignCheckoutKey(ctx, legacy, "k-new")
	require.NoError(t, err)
	require.Equal(t, "k-new", got)

	// a second assignment keeps the first key
	got, err = s.AssignCheckoutKey(ctx, legacy, "k-other")
	require.NoError(t, err)
	require.Equal(t, "k-new", got)

	got, err = s.AssignCheckoutKey(ctx, keyed, "k-new2")
	require.NoError(t, err)
	require.Equal(t, "k-orig", got)
}

func TestOpen_ConnectionParamsApplyToNewConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Equal(t, path+"?"+connParams, dsn(path))
	require.Equal(t, "file:q.db?mode=rwc&"+connParams, dsn("file:q.db?mode=rwc"))

	// a connection opened from the same DSN, as the pool would after dropping one
	db, err := sqlx.Open("sqlite3", dsn(path))
	require.NoError(t, err)
	defer db.Close()

	var foreignKeys, busyTimeout int
	var journalMode string
	require.NoError(t, db.GetContext(ctx, &foreignKeys, "PRAGMA foreign_keys"))
	require.NoError(t, db.GetContext(ctx, &busyTimeout, "PRAGMA busy_timeout"))
	require.NoError(t, db.GetContext(ctx, &journalMode, "PRAGMA journal_mode"))
	require.Equal(t, 1, foreignKeys)
	require.Equal(t, 5000, busyTimeout)
	require.Equal(t, "wal", journalMode)
}
