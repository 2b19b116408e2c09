// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Error codes carried in ErrorResponse.Error
const (
	CodeInvalidRequest      = "invalid_request"
	CodeAuthenticationError = "authentication_failed"
	CodeNotFound            = "not_found"
	CodeInternalError       = "internal_error"
)

var (
	// ErrNotFound is returned when a product or transaction does not exist (or belongs to another shop)
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed requests, e.g. unknown product fields
	ErrInvalidInput = errors.New("invalid input")
)

// RemoteError is a non-2xx answer of the ledger HTTP API
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d (%s)", e.StatusCode, e.Code)
}

// Is maps HTTP statuses back onto the package sentinels
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// Temporary reports whether a retry at the next sync pass may succeed
func (e *RemoteError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
