// Package stock provides the stock balance register.
package stock

import (
	"bytes"
	"context"
	"sort"

	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
)

// Key identifies one balance row.
type Key struct {
	WarehouseID    id.ID
	PresentationID id.ID
}

// Less defines the stable lock order for balance rows.
// Every multi-key locking path must acquire rows in this order so two
// postings over overlapping key sets cannot deadlock.
func (k Key) Less(other Key) bool {
	if c := bytes.Compare(k.WarehouseID[:], other.WarehouseID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.PresentationID[:], other.PresentationID[:]) < 0
}

// SortKeys sorts keys in lock order, in place.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Repository defines persistence for stock balances.
type Repository interface {
	// GetBalance returns the balance row for a key, or NotFound.
	GetBalance(ctx context.Context, key Key) (entity.StockBalance, error)

	// LockBalance locks one balance row (SELECT ... FOR UPDATE) and
	// returns it. A key no movement has touched yet gets a zero row
	// materialized first, so concurrent first movements on the same key
	// serialize on the row lock instead of both folding from zero.
	LockBalance(ctx context.Context, key Key) (entity.StockBalance, error)

	// LockBalances locks rows for the given keys, acquiring the row locks
	// in Key lock order. Every key appears in the result.
	LockBalances(ctx context.Context, keys []Key) (map[Key]entity.StockBalance, error)

	// UpsertBalance creates or updates a balance row.
	UpsertBalance(ctx context.Context, balance *entity.StockBalance) error

	// ListByWarehouse returns balances for a warehouse.
	ListByWarehouse(ctx context.Context, warehouseID id.ID, filter BalanceFilter) ([]entity.StockBalance, error)

	// ListByPresentation returns balances across warehouses for one item.
	ListByPresentation(ctx context.Context, presentationID id.ID) ([]entity.StockBalance, error)

	// ListAll streams every balance row. Used by ledger verification.
	ListAll(ctx context.Context, batch func(entity.StockBalance) error) error
}

// BalanceFilter for filtering balance queries.
type BalanceFilter struct {
	PresentationIDs []id.ID
	ExcludeZero     bool
	MinQuantity     *types.Quantity
}
