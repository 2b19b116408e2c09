// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const productCacheKeyPrefix = "posync:products:"

// CachedLedger serves ListProducts from Redis and drops the cached list
// whenever one of the shop's products is written through it. Redis failures
// are logged and the call falls through to the wrapped ledger.
type CachedLedger struct {
	Ledger
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Ledger = (*CachedLedger)(nil)

func NewCachedLedger(inner Ledger, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLedger{Ledger: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func productCacheKey(shopID string) string { return productCacheKeyPrefix + shopID }

func (c *CachedLedger) ListProducts(ctx context.Context, shopID string) ([]Product, error) {
	key := productCacheKey(shopID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var products []Product
		if err := json.Unmarshal(raw, &products); err == nil {
			return products, nil
		}
		c.logger.Warn("Discarding corrupt product cache entry", "shop_id", shopID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Product cache read failed", "shop_id", shopID, "error", err)
	}

	products, err := c.Ledger.ListProducts(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(products); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("Product cache write failed", "shop_id", shopID, "error", err)
		}
	}
	return products, nil
}

func (c *CachedLedger) invalidate(ctx context.Context, p *Product) {
	if err := c.rdb.Del(ctx, productCacheKey(p.ShopID)).Err(); err != nil {
		c.logger.Warn("Product cache invalidation failed", "shop_id", p.ShopID, "error", err)
	}
}

func (c *CachedLedger) UpdateProductQuantity(ctx context.Context, productID string, quantity int64) (*Product, error) {
	p, err := c.Ledger.UpdateProductQuantity(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, p)
	return p, nil
}

func (c *CachedLedger) AdjustProductQuantity(ctx context.Context, productID string, delta int64, lineKey string) (*Product, error) {
	p, err := c.Ledger.AdjustProductQuantity(ctx, productID, delta, lineKey)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, p)
	return p, nil
}

func (c *CachedLedger) UpdateProduct(ctx context.Context, productID string, fields map[string]any) (*Product, error) {
	p, err := c.Ledger.UpdateProduct(ctx, productID, fields)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, p)
	return p, nil
}
