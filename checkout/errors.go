// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package checkout

import "errors"

var (
	ErrEmptyCart   = errors.New("cart is empty")
	ErrInvalidLine = errors.New("invalid cart line")
	ErrNoShop      = errors.New("shop id is required")
)
