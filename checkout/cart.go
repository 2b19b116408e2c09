// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package checkout

import (
	"fmt"
	"math"
	"sync"
)

// amountTolerance absorbs float rounding when checking amount == quantity*price
const amountTolerance = 0.005

// Line is one cart entry
type Line struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Form      string  `json:"form"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
}

func (l Line) validate() error {
	if l.ProductID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidLine)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive for %s", ErrInvalidLine, l.ProductID)
	}
	if l.Price < 0 {
		return fmt.Errorf("%w: negative price for %s", ErrInvalidLine, l.ProductID)
	}
	if math.Abs(l.Amount-float64(l.Quantity)*l.Price) > amountTolerance {
		return fmt.Errorf("%w: amount %.2f does not match %d x %.2f for %s",
			ErrInvalidLine, l.Amount, l.Quantity, l.Price, l.ProductID)
	}
	return nil
}

// Cart is an ordered list of lines, safe for concurrent use
type Cart struct {
	mu    sync.Mutex
	lines []Line
}

// Add appends a line. A zero Amount is filled in as quantity*price.
func (c *Cart) Add(l Line) error {
	if l.Amount == 0 {
		l.Amount = float64(l.Quantity) * l.Price
	}
	if err := l.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
	return nil
}

// Lines returns a copy of the cart contents in insertion order
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// Total is the sum of line amounts
func (c *Cart) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return total(c.lines)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

func total(lines []Line) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Amount
	}
	return sum
}
