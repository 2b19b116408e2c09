package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI starts the ledger API over a MemoryLedger and returns a client
// authenticated as terminal-1 of shopID.
func newTestAPI(t *testing.T, shopID string) (*Client, *MemoryLedger, *JWTAuth, *httptest.Server) {
	t.Helper()
	mem := seededLedger()
	jwtAuth := NewJWTAuth("test-secret", quietLogger())
	srv := httptest.NewServer(NewHTTPHandlers(mem, quietLogger()).Router(jwtAuth))
	t.Cleanup(srv.Close)

	token, err := jwtAuth.GenerateToken(shopID, "terminal-1", time.Hour)
	require.NoError(t, err)
	client := NewClient(srv.URL, srv.Client(), func(ctx context.Context) (string, error) {
		return token, nil
	}, quietLogger())
	return client, mem, jwtAuth, srv
}

func TestClient_CheckoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, mem, _, _ := newTestAPI(t, "shop-1")

	tx, err := client.InsertTransaction(ctx, "ignored", 1500, "ck-1")
	require.NoError(t, err)
	require.Equal(t, "shop-1", tx.ShopID)
	require.Equal(t, 1500.0, tx.TotalAmount)

	// replay returns the same header
	again, err := client.InsertTransaction(ctx, "shop-1", 1500, "ck-1")
	require.NoError(t, err)
	require.Equal(t, tx.ID, again.ID)

	items := []TransactionItem{{ProductID: "p1", Name: "Paracetamol", Form: "tablet", Quantity: 3, Price: 500, Amount: 1500, LineKey: "ck-1:1"}}
	require.NoError(t, client.InsertTransactionItems(ctx, tx.ID, items))
	require.NoError(t, client.InsertTransactionItems(ctx, tx.ID, items))
	require.Len(t, mem.Items(), 1)

	require.NoError(t, client.InsertSales(ctx, []Sale{{ShopID: "other-shop", ProductID: "p1", Quantity: 3, Amount: 1500, LineKey: "ck-1:1"}}))
	sales, err := client.ListSales(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, "shop-1", sales[0].ShopID, "shop comes from the token")

	p, err := client.AdjustProductQuantity(ctx, "p1", -3, "ck-1:1")
	require.NoError(t, err)
	require.Equal(t, int64(47), p.Quantity)
	p, err = client.AdjustProductQuantity(ctx, "p1", -3, "ck-1:1")
	require.NoError(t, err)
	require.Equal(t, int64(47), p.Quantity)

	txs, err := client.ListTransactions(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestClient_ProductUpdates(t *testing.T) {
	ctx := context.Background()
	client, _, _, _ := newTestAPI(t, "shop-1")

	p, err := client.UpdateProductQuantity(ctx, "p2", 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), p.Quantity)

	p, err = client.UpdateProduct(ctx, "p2", map[string]any{"quantity": 7, "name": "Amoxil"})
	require.NoError(t, err)
	require.Equal(t, int64(7), p.Quantity)
	require.Equal(t, "Amoxil", p.Name)

	products, err := client.ListProducts(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "p1", products[0].ID)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	client, _, _, _ := newTestAPI(t, "shop-1")

	// product of another shop is invisible
	_, err := client.AdjustProductQuantity(ctx, "q1", -1, "")
	require.ErrorIs(t, err, ErrNotFound)
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusNotFound, remoteErr.StatusCode)
	require.Equal(t, CodeNotFound, remoteErr.Code)
	require.False(t, remoteErr.Temporary())

	_, err = client.UpdateProduct(ctx, "p1", map[string]any{"colour": "red"})
	require.ErrorIs(t, err, ErrInvalidInput)

	err = client.InsertTransactionItems(ctx, 424242, []TransactionItem{{ProductID: "p1", Quantity: 1}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Unauthorized(t *testing.T) {
	ctx := context.Background()
	_, _, _, srv := newTestAPI(t, "shop-1")

	anon := NewClient(srv.URL, srv.Client(), nil, quietLogger())
	require.NoError(t, anon.Health(ctx))

	_, err := anon.ListProducts(ctx, "shop-1")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
	require.Equal(t, CodeAuthenticationError, remoteErr.Code)

	bad := NewClient(srv.URL, srv.Client(), func(ctx context.Context) (string, error) {
		return "garbage", nil
	}, quietLogger())
	_, err = bad.ListProducts(ctx, "shop-1")
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
}

func TestClient_TransportError(t *testing.T) {
	client := NewClient("http://ledger.invalid", &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}, nil, quietLogger())

	_, err := client.ListProducts(context.Background(), "shop-1")
	require.ErrorContains(t, err, "connection refused")
	var remoteErr *RemoteError
	require.False(t, errors.As(err, &remoteErr))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
