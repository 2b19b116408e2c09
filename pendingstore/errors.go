// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pendingstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every *StorageError via errors.Is
	ErrStorage = errors.New("pending store failure")
	// ErrUnknownCollection is returned for collection names not declared by the schema
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned for fields that are not a declared secondary index
	ErrUnknownIndex = errors.New("unknown index")
)

// StorageError wraps a failure of the underlying SQLite database. Callers must
// treat it as fatal for the operation that produced it.
type StorageError struct {
	Op         string
	Collection Collection
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("pendingstore %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("pendingstore %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, c Collection, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Collection: c, Err: err}
}
