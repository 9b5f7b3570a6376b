package store

import (
	"context"
	"errors"

	"coupleledger/internal/core"
)

var (
	// ErrStoreUnavailable is returned by mutating operations when the
	// hosted store is not configured. Reads degrade to empty results
	// instead.
	ErrStoreUnavailable = errors.New("hosted store unavailable")

	ErrNotFound = errors.New("transaction not found")
)

// Ports for the hosted transaction store.
type (
	TransactionWriter interface {
		// Insert persists one validated transaction and returns it with
		// the store-assigned id and created_at.
		Insert(ctx context.Context, t core.Transaction) (core.Transaction, error)
		// InsertBatch persists all rows in a single batch. It either
		// succeeds for every row or fails as a whole.
		InsertBatch(ctx context.Context, ts []core.Transaction) error
	}

	TransactionReader interface {
		// ListMonth returns the month's transactions ordered by tx_date
		// desc, created_at desc.
		ListMonth(ctx context.Context, m core.Month, limit int) ([]core.Transaction, error)
		// List returns all transactions with the same ordering.
		List(ctx context.Context, limit int) ([]core.Transaction, error)
		Get(ctx context.Context, id int64) (core.Transaction, error)
	}

	TransactionUpdater interface {
		Update(ctx context.Context, id int64, t core.Transaction) error
	}

	TransactionDeleter interface {
		Delete(ctx context.Context, id int64) error
		DeleteSet(ctx context.Context, ids []int64) error
	}
)

// Store is the full hosted-store surface.
type Store interface {
	TransactionWriter
	TransactionReader
	TransactionUpdater
	TransactionDeleter

	// Available reports whether the store is actually reachable or the
	// degraded no-op implementation is in place.
	Available() bool
}
