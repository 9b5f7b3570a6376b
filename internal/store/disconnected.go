package store

import (
	"context"

	"coupleledger/internal/core"
)

// Disconnected is the degraded store used when the Supabase secrets are
// absent. Reads come back empty, writes fail with a descriptive error,
// nothing crashes.
type Disconnected struct{}

func NewDisconnected() Disconnected { return Disconnected{} }

func (Disconnected) Available() bool { return false }

func (Disconnected) Insert(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	return core.Transaction{}, ErrStoreUnavailable
}

func (Disconnected) InsertBatch(ctx context.Context, ts []core.Transaction) error {
	return ErrStoreUnavailable
}

func (Disconnected) ListMonth(ctx context.Context, m core.Month, limit int) ([]core.Transaction, error) {
	return []core.Transaction{}, nil
}

func (Disconnected) List(ctx context.Context, limit int) ([]core.Transaction, error) {
	return []core.Transaction{}, nil
}

func (Disconnected) Get(ctx context.Context, id int64) (core.Transaction, error) {
	return core.Transaction{}, ErrStoreUnavailable
}

func (Disconnected) Update(ctx context.Context, id int64, t core.Transaction) error {
	return ErrStoreUnavailable
}

func (Disconnected) Delete(ctx context.Context, id int64) error {
	return ErrStoreUnavailable
}

func (Disconnected) DeleteSet(ctx context.Context, ids []int64) error {
	return ErrStoreUnavailable
}
