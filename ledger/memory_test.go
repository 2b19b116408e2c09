package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mobiletoly/go-posync/internal/auth"
	"github.com/stretchr/testify/require"
)

func seededLedger() *MemoryLedger {
	return NewMemoryLedger(
		Product{ID: "p1", ShopID: "shop-1", Name: "Paracetamol", Form: "tablet", Quantity: 50, SellingPrice: 500},
		Product{ID: "p2", ShopID: "shop-1", Name: "Amoxicillin", Form: "capsule", Quantity: 20, SellingPrice: 250},
		Product{ID: "q1", ShopID: "shop-2", Name: "Ibuprofen", Form: "tablet", Quantity: 5},
	)
}

func TestMemoryLedger_InsertTransactionDeduplicatesCheckoutKey(t *testing.T) {
	ctx := context.Background()
	l := seededLedger()

	t1, err := l.InsertTransaction(ctx, "shop-1", 1500, "ck-1")
	require.NoError(t, err)
	t2, err := l.InsertTransaction(ctx, "shop-1", 1500, "ck-1")
	require.NoError(t, err)
	require.Equal(t, t1.ID, t2.ID)

	// same key in another shop is a different checkout
	t3, err := l.InsertTransaction(ctx, "shop-2", 10, "ck-1")
	require.NoError(t, err)
	require.NotEqual(t, t1.ID, t3.ID)

	// empty key is never deduplicated
	t4, err := l.InsertTransaction(ctx, "shop-1", 5, "")
	require.NoError(t, err)
	t5, err := l.InsertTransaction(ctx, "shop-1", 5, "")
	require.NoError(t, err)
	require.NotEqual(t, t4.ID, t5.ID)

	txs, err := l.ListTransactions(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
}

func TestMemoryLedger_LineKeysAreApplyOnce(t *testing.T) {
	ctx := context.Background()
	l := seededLedger()

	tx, err := l.InsertTransaction(ctx, "shop-1", 1500, "ck-1")
	require.NoError(t, err)
	items := []TransactionItem{{ProductID: "p1", Quantity: 3, Price: 500, Amount: 1500, LineKey: LineKey("ck-1", 1)}}
	require.NoError(t, l.InsertTransactionItems(ctx, tx.ID, items))
	require.NoError(t, l.InsertTransactionItems(ctx, tx.ID, items))
	require.Len(t, l.Items(), 1)

	sales := []Sale{{ShopID: "shop-1", ProductID: "p1", Quantity: 3, Amount: 1500, LineKey: "ck-1:1"}}
	require.NoError(t, l.InsertSales(ctx, sales))
	require.NoError(t, l.InsertSales(ctx, sales))
	got, err := l.ListSales(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	p, err := l.AdjustProductQuantity(ctx, "p1", -3, "ck-1:1")
	require.NoError(t, err)
	require.Equal(t, int64(47), p.Quantity)
	p, err = l.AdjustProductQuantity(ctx, "p1", -3, "ck-1:1")
	require.NoError(t, err)
	require.Equal(t, int64(47), p.Quantity)

	require.ErrorIs(t, l.InsertTransactionItems(ctx, 999, items), ErrNotFound)
}

func TestMemoryLedger_ShopScope(t *testing.T) {
	ctx := auth.SetAuthContext(context.Background(), "shop-1", "terminal-1")
	l := seededLedger()

	_, err := l.AdjustProductQuantity(ctx, "q1", -1, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = l.UpdateProductQuantity(ctx, "p2", 7)
	require.NoError(t, err)
}

func TestUpdateProduct_PartialFields(t *testing.T) {
	ctx := context.Background()
	l := seededLedger()

	p, err := l.UpdateProduct(ctx, "p2", map[string]any{"quantity": 10.0, "selling_price": json.Number("275.5")})
	require.NoError(t, err)
	require.Equal(t, int64(10), p.Quantity)
	require.Equal(t, 275.5, p.SellingPrice)
	require.Equal(t, "Amoxicillin", p.Name)

	_, err = l.UpdateProduct(ctx, "p2", map[string]any{"quantity": 1.5})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.UpdateProduct(ctx, "p2", map[string]any{"shop_id": "shop-2"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.UpdateProduct(ctx, "nope", map[string]any{"quantity": 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeProductFields_Sorted(t *testing.T) {
	ups, err := normalizeProductFields(map[string]any{"selling_price": 1, "name": "x", "quantity": int64(4)})
	require.NoError(t, err)
	require.Equal(t, []fieldUpdate{
		{Column: "name", Value: "x"},
		{Column: "quantity", Value: int64(4)},
		{Column: "selling_price", Value: 1.0},
	}, ups)
}

func TestValidateProductFields(t *testing.T) {
	require.NoError(t, ValidateProductFields(map[string]any{"quantity": 7}))
	require.ErrorIs(t, ValidateProductFields(nil), ErrInvalidInput)
	require.ErrorIs(t, ValidateProductFields(map[string]any{"barcode": "x"}), ErrInvalidInput)
}

func TestLineKey(t *testing.T) {
	require.Equal(t, "ck:12", LineKey("ck", 12))
	require.Empty(t, LineKey("", 12))
}

func TestMemoryLedger_InsertSalesKeepsCaptureTime(t *testing.T) {
	ctx := context.Background()
	l := seededLedger()
	syncTime := time.Date(2026, 10, 19, 13, 41, 0, 0, time.UTC)
	l.now = func() time.Time { return syncTime }

	captured := time.Date(2026, 1, 2, 10, 0, 0, 0, time.FixedZone("EAT", 3*3600))
	require.NoError(t, l.InsertSales(ctx, []Sale{
		{ShopID: "shop-1", ProductID: "p1", Quantity: 3, Amount: 1500, LineKey: "k:1", CreatedAt: captured},
		{ShopID: "shop-1", ProductID: "p2", Quantity: 1, Amount: 250, LineKey: "k:2"},
	}))

	sales, err := l.ListSales(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, captured.UTC(), sales[0].CreatedAt)
	require.Equal(t, syncTime, sales[1].CreatedAt)
}
