// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mobiletoly/go-posync/internal/auth"
)

// HTTPHandlers exposes a Ledger over HTTP for remote terminals
type HTTPHandlers struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHTTPHandlers creates a new instance of ledger handlers
func NewHTTPHandlers(l Ledger, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{ledger: l, logger: logger}
}

// Router wires the ledger API. Everything except /health requires a bearer
// token; protected middlewares run after authentication.
func (h *HTTPHandlers) Router(jwtAuth *JWTAuth, protected ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)

	r.Group(func(pr chi.Router) {
		pr.Use(jwtAuth.Middleware)
		pr.Use(protected...)

		pr.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.HandleInsertTransaction)
			r.Get("/", h.HandleListTransactions)
			r.Post("/{id}/items", h.HandleInsertItems)
		})
		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.HandleInsertSales)
			r.Get("/", h.HandleListSales)
		})
		pr.Route("/products", func(r chi.Router) {
			r.Get("/", h.HandleListProducts)
			r.Patch("/{id}", h.HandleUpdateProduct)
			r.Put("/{id}/quantity", h.HandleSetQuantity)
			r.Post("/{id}/adjust", h.HandleAdjustQuantity)
		})
	})
	return r
}

// HandleHealth is the reachability probe endpoint
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *HTTPHandlers) shopID(w http.ResponseWriter, r *http.Request) (string, bool) {
	shopID, ok := auth.GetShopID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, CodeAuthenticationError, "missing shop identity")
		return "", false
	}
	return shopID, true
}

// HandleInsertTransaction creates (or returns the deduplicated) transaction header
func (h *HTTPHandlers) HandleInsertTransaction(w http.ResponseWriter, r *http.Request) {
	shopID, ok := h.shopID(w, r)
	if !ok {
		return
	}
	var req InsertTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse transaction request")
		return
	}
	tx, err := h.ledger.InsertTransaction(r.Context(), shopID, req.TotalAmount, req.CheckoutKey)
	if err != nil {
		h.writeLedgerError(w, "insert transaction", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, tx)
}

// HandleInsertItems attaches items to the transaction in the path
func (h *HTTPHandlers) HandleInsertItems(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "transaction id must be an integer")
		return
	}
	var req InsertItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse items request")
		return
	}
	if err := h.ledger.InsertTransactionItems(r.Context(), id, req.Items); err != nil {
		h.writeLedgerError(w, "insert items", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, StatusResponse{Status: "ok", Count: len(req.Items)})
}

// HandleInsertSales stores sale rows for the authenticated shop
func (h *HTTPHandlers) HandleInsertSales(w http.ResponseWriter, r *http.Request) {
	shopID, ok := h.shopID(w, r)
	if !ok {
		return
	}
	var req InsertSalesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse sales request")
		return
	}
	for i := range req.Sales {
		req.Sales[i].ShopID = shopID
	}
	if err := h.ledger.InsertSales(r.Context(), req.Sales); err != nil {
		h.writeLedgerError(w, "insert sales", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, StatusResponse{Status: "ok", Count: len(req.Sales)})
}

// HandleSetQuantity overwrites a product's stock level
func (h *HTTPHandlers) HandleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse quantity request")
		return
	}
	p, err := h.ledger.UpdateProductQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.writeLedgerError(w, "set quantity", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// HandleAdjustQuantity applies a stock delta
func (h *HTTPHandlers) HandleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req AdjustQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse adjust request")
		return
	}
	p, err := h.ledger.AdjustProductQuantity(r.Context(), chi.URLParam(r, "id"), req.Delta, req.LineKey)
	if err != nil {
		h.writeLedgerError(w, "adjust quantity", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// HandleUpdateProduct applies a partial field map
func (h *HTTPHandlers) HandleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	fields := map[string]any{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, "failed to parse product fields")
		return
	}
	p, err := h.ledger.UpdateProduct(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		h.writeLedgerError(w, "update product", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// HandleListProducts lists the authenticated shop's products
func (h *HTTPHandlers) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	shopID, ok := h.shopID(w, r)
	if !ok {
		return
	}
	products, err := h.ledger.ListProducts(r.Context(), shopID)
	if err != nil {
		h.writeLedgerError(w, "list products", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ProductsResponse{Products: nonNil(products)})
}

// HandleListTransactions lists the authenticated shop's transactions
func (h *HTTPHandlers) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	shopID, ok := h.shopID(w, r)
	if !ok {
		return
	}
	txs, err := h.ledger.ListTransactions(r.Context(), shopID)
	if err != nil {
		h.writeLedgerError(w, "list transactions", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, TransactionsResponse{Transactions: nonNil(txs)})
}

// HandleListSales lists the authenticated shop's sales rows
func (h *HTTPHandlers) HandleListSales(w http.ResponseWriter, r *http.Request) {
	shopID, ok := h.shopID(w, r)
	if !ok {
		return
	}
	sales, err := h.ledger.ListSales(r.Context(), shopID)
	if err != nil {
		h.writeLedgerError(w, "list sales", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SalesResponse{Sales: nonNil(sales)})
}

func (h *HTTPHandlers) writeLedgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput):
		writeError(w, h.logger, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		h.logger.Error("Ledger operation failed", "op", op, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, CodeInternalError, "failed to "+op)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorType, message string) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: errorType, Message: message})
}
