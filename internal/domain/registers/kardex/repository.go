// Package kardex provides the append-only stock movement ledger.
package kardex

import (
	"context"
	"time"

	"facturo/internal/core/entity"
	"facturo/internal/core/id"
)

// Repository defines persistence for kardex entries.
// Entries are append-only: there is no update or delete operation.
type Repository interface {
	// Append inserts one entry and returns it with the assigned Seq.
	Append(ctx context.Context, entry *entity.KardexEntry) (entity.KardexEntry, error)

	// ListByKey returns all entries for one (warehouse, presentation) key
	// ordered by timestamp, Seq.
	ListByKey(ctx context.Context, warehouseID, presentationID id.ID) ([]entity.KardexEntry, error)

	// LastByKey returns the latest entry for a key, or NotFound.
	LastByKey(ctx context.Context, warehouseID, presentationID id.ID) (entity.KardexEntry, error)

	// ListByReference returns entries recorded by one document or adjustment.
	ListByReference(ctx context.Context, referenceID id.ID) ([]entity.KardexEntry, error)

	// ListKeys returns every distinct (warehouse, presentation) key present
	// in the ledger. Used by ledger verification.
	ListKeys(ctx context.Context, batch func(warehouseID, presentationID id.ID) error) error

	// History returns entries for a key within a period, ordered.
	History(ctx context.Context, warehouseID, presentationID id.ID, filter HistoryFilter) ([]entity.KardexEntry, error)
}

// HistoryFilter limits kardex history queries.
type HistoryFilter struct {
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}
