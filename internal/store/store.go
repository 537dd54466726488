// Package store persists validation results. The primary store is a remote
// service; a bounded in-memory cache keeps the most recent results readable
// when the remote is down.
package store

import (
	"context"
	"fmt"
	"time"

	"idxwatch/pkg/contracts/domain"
)

// ResultStore is the persistence contract for validation results.
type ResultStore interface {
	// Save persists one run result.
	Save(ctx context.Context, res *domain.Result) error
	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.Result, error)
	// Since returns all results executed at or after cutoff, newest first.
	Since(ctx context.Context, cutoff time.Time) ([]*domain.Result, error)
}

// StoreError marks a failure of the persistence layer itself, as opposed to
// a bad argument. Callers fall back to the cache only for this type.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a persistence failure for operation op.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
