// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated terminal identity through request contexts.
package auth

import (
	"context"
)

type contextKey string

const (
	shopIDKey   contextKey = "shop_id"
	deviceIDKey contextKey = "device_id"
)

// SetShopID sets the shop ID in the context
func SetShopID(ctx context.Context, shopID string) context.Context {
	return context.WithValue(ctx, shopIDKey, shopID)
}

// GetShopID retrieves the shop ID from the context
func GetShopID(ctx context.Context) (string, bool) {
	shopID, ok := ctx.Value(shopIDKey).(string)
	return shopID, ok && shopID != ""
}

// SetDeviceID sets the terminal device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the terminal device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok && deviceID != ""
}

// SetAuthContext sets both shop and device ID in context
func SetAuthContext(ctx context.Context, shopID, deviceID string) context.Context {
	ctx = SetShopID(ctx, shopID)
	ctx = SetDeviceID(ctx, deviceID)
	return ctx
}
