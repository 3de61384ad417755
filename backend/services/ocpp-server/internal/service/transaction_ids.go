package service

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MaxIDSource reports the highest transaction id ever persisted.
type MaxIDSource interface {
	MaxTransactionID(ctx context.Context) (int64, error)
}

// TransactionIDs hands out strictly increasing transaction ids. It is seeded
// once from the store so ids survive restarts without reuse.
type TransactionIDs struct {
	last atomic.Int64
}

// NewTransactionIDs seeds the sequence from the persisted maximum.
func NewTransactionIDs(ctx context.Context, source MaxIDSource) (*TransactionIDs, error) {
	maxID, err := source.MaxTransactionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: seed transaction ids: %w", err)
	}
	ids := &TransactionIDs{}
	ids.last.Store(maxID)
	return ids, nil
}

// Next returns a new id.
func (t *TransactionIDs) Next() int64 {
	return t.last.Add(1)
}

// Last returns the most recently issued id.
func (t *TransactionIDs) Last() int64 {
	return t.last.Load()
}
