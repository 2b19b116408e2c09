// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenFunc returns a bearer token for the next request
type TokenFunc func(ctx context.Context) (string, error)

// Client is the terminal-side HTTP implementation of Ledger.
// The shop is bound to the token; shopID arguments are ignored.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenFunc
	logger  *slog.Logger
}

var _ Ledger = (*Client)(nil)

// NewClient creates a ledger client. A nil httpClient gets a 30s timeout client.
func NewClient(baseURL string, httpClient *http.Client, tok TokenFunc, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    httpClient,
		Token:   tok,
		logger:  logger,
	}
}

// do sends one JSON request and decodes a 2xx body into out (when non-nil)
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		remoteErr := &RemoteError{StatusCode: resp.StatusCode}
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			remoteErr.Code = er.Error
			remoteErr.Message = er.Message
		} else {
			remoteErr.Message = string(raw)
		}
		c.logger.Debug("Ledger request rejected", "method", method, "path", path, "status", resp.StatusCode, "code", remoteErr.Code)
		return remoteErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func productPath(productID, suffix string) string {
	return "/products/" + url.PathEscape(productID) + suffix
}

func (c *Client) InsertTransaction(ctx context.Context, _ string, totalAmount float64, checkoutKey string) (*Transaction, error) {
	var out Transaction
	req := InsertTransactionRequest{TotalAmount: totalAmount, CheckoutKey: checkoutKey}
	if err := c.do(ctx, http.MethodPost, "/transactions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InsertTransactionItems(ctx context.Context, transactionID int64, items []TransactionItem) error {
	path := fmt.Sprintf("/transactions/%d/items", transactionID)
	return c.do(ctx, http.MethodPost, path, InsertItemsRequest{Items: items}, nil)
}

func (c *Client) InsertSales(ctx context.Context, sales []Sale) error {
	return c.do(ctx, http.MethodPost, "/sales", InsertSalesRequest{Sales: sales}, nil)
}

func (c *Client) UpdateProductQuantity(ctx context.Context, productID string, quantity int64) (*Product, error) {
	var out Product
	if err := c.do(ctx, http.MethodPut, productPath(productID, "/quantity"), SetQuantityRequest{Quantity: quantity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AdjustProductQuantity(ctx context.Context, productID string, delta int64, lineKey string) (*Product, error) {
	var out Product
	req := AdjustQuantityRequest{Delta: delta, LineKey: lineKey}
	if err := c.do(ctx, http.MethodPost, productPath(productID, "/adjust"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProduct(ctx context.Context, productID string, fields map[string]any) (*Product, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	var out Product
	if err := c.do(ctx, http.MethodPatch, productPath(productID, ""), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context, _ string) ([]Product, error) {
	var out ProductsResponse
	if err := c.do(ctx, http.MethodGet, "/products", nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *Client) ListTransactions(ctx context.Context, _ string) ([]Transaction, error) {
	var out TransactionsResponse
	if err := c.do(ctx, http.MethodGet, "/transactions", nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) ListSales(ctx context.Context, _ string) ([]Sale, error) {
	var out SalesResponse
	if err := c.do(ctx, http.MethodGet, "/sales", nil, &out); err != nil {
		return nil, err
	}
	return out.Sales, nil
}

// Health calls the unauthenticated health endpoint
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &RemoteError{StatusCode: resp.StatusCode, Code: "unhealthy"}
	}
	return nil
}
