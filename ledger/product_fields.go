// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Product fields accepted by UpdateProduct
const (
	FieldName         = "name"
	FieldForm         = "form"
	FieldQuantity     = "quantity"
	FieldCostPrice    = "cost_price"
	FieldSellingPrice = "selling_price"
)

type productField struct {
	name string
	kind string // "string", "int", "float"
}

var productFields = map[string]productField{
	FieldName:         {FieldName, "string"},
	FieldForm:         {FieldForm, "string"},
	FieldQuantity:     {FieldQuantity, "int"},
	FieldCostPrice:    {FieldCostPrice, "float"},
	FieldSellingPrice: {FieldSellingPrice, "float"},
}

// fieldUpdate is one validated column assignment
type fieldUpdate struct {
	Column string
	Value  any
}

// normalizeProductFields validates a partial field map and coerces values
// (JSON numbers arrive as float64). Output is sorted by column name.
func normalizeProductFields(fields map[string]any) ([]fieldUpdate, error) {
	out := make([]fieldUpdate, 0, len(fields))
	for k, v := range fields {
		f, ok := productFields[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown product field %q", ErrInvalidInput, k)
		}
		cv, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		out = append(out, fieldUpdate{Column: f.name, Value: cv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out, nil
}

// ValidateProductFields reports whether fields would be accepted by UpdateProduct
func ValidateProductFields(fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no product fields to update", ErrInvalidInput)
	}
	_, err := normalizeProductFields(fields)
	return err
}

func coerce(f productField, v any) (any, error) {
	switch f.kind {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %s must be a string, got %T", ErrInvalidInput, f.name, v)
		}
		return s, nil
	case "int":
		n, err := toFloat(v)
		if err != nil || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: field %s must be an integer", ErrInvalidInput, f.name)
		}
		return int64(n), nil
	default:
		n, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s must be a number", ErrInvalidInput, f.name)
		}
		return n, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func applyFields(p *Product, updates []fieldUpdate) {
	for _, u := range updates {
		switch u.Column {
		case FieldName:
			p.Name = u.Value.(string)
		case FieldForm:
			p.Form = u.Value.(string)
		case FieldQuantity:
			p.Quantity = u.Value.(int64)
		case FieldCostPrice:
			p.CostPrice = u.Value.(float64)
		case FieldSellingPrice:
			p.SellingPrice = u.Value.(float64)
		}
	}
}
