// Package entity provides core domain entities.
package entity

import (
	"time"

	"facturo/internal/core/id"
	"facturo/internal/core/types"
)

// MovementType classifies a kardex entry.
type MovementType string

const (
	// MovementIn increases stock (receipt, positive adjustment)
	MovementIn MovementType = "in"
	// MovementOut decreases stock (sale, negative adjustment)
	MovementOut MovementType = "out"
	// MovementAdjust marks a manual correction entry
	MovementAdjust MovementType = "adjust"
)

// IsValid reports whether the movement type is known.
func (m MovementType) IsValid() bool {
	switch m {
	case MovementIn, MovementOut, MovementAdjust:
		return true
	}
	return false
}

// StockBalance is the live balance for one (warehouse, presentation) key.
// Rows are created lazily by the first movement and never deleted.
type StockBalance struct {
	// Dimensions
	WarehouseID    id.ID `db:"warehouse_id" json:"warehouseId"`
	PresentationID id.ID `db:"presentation_id" json:"presentationId"`

	// Resources
	Quantity types.Quantity `db:"quantity" json:"quantity"`
	Reserved types.Quantity `db:"reserved" json:"reserved"`

	// AverageCost is the current moving-average unit cost (6 digits)
	AverageCost types.Money `db:"average_cost" json:"averageCost"`

	// Metadata
	LastMovementAt time.Time `db:"last_movement_at" json:"lastMovementAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Available returns the quantity free for sale: quantity minus reserved.
func (b *StockBalance) Available() types.Quantity {
	return b.Quantity - b.Reserved
}

// KardexEntry is one immutable line of the perpetual inventory ledger.
// Entries are append-only; corrections are made by offsetting entries.
//
// Ordering per (warehouse, presentation) key is by Timestamp with Seq as
// the tie-break. Folding the ordered entries from a zero state reproduces
// BalanceQuantity and AverageCost of the last entry.
type KardexEntry struct {
	// Seq is a database-assigned monotonic sequence (bigserial).
	// It breaks ties between entries sharing a timestamp.
	Seq int64 `db:"seq" json:"seq"`

	// Timestamp is the business time of the movement
	Timestamp time.Time `db:"ts" json:"timestamp"`

	// Dimensions
	WarehouseID    id.ID `db:"warehouse_id" json:"warehouseId"`
	PresentationID id.ID `db:"presentation_id" json:"presentationId"`

	MovementType MovementType `db:"movement_type" json:"movementType"`

	// Exactly one of QuantityIn / QuantityOut is non-zero per entry.
	QuantityIn  types.Quantity `db:"quantity_in" json:"quantityIn"`
	QuantityOut types.Quantity `db:"quantity_out" json:"quantityOut"`

	// BalanceQuantity is the running balance after this entry
	BalanceQuantity types.Quantity `db:"balance_quantity" json:"balanceQuantity"`

	// UnitCost is the cost of the units moved (6 digits).
	// For Out movements it equals the average cost they were consumed at.
	UnitCost types.Money `db:"unit_cost" json:"unitCost"`

	// MovementCost = UnitCost * moved quantity (6 digits)
	MovementCost types.Money `db:"movement_cost" json:"movementCost"`

	// AverageCost is the moving average after this entry (6 digits)
	AverageCost types.Money `db:"average_cost" json:"averageCost"`

	// Reference to the document or adjustment that produced the entry
	ReferenceID   id.ID  `db:"reference_id" json:"referenceId"`
	ReferenceType string `db:"reference_type" json:"referenceType"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// SignedQuantity returns the balance effect of the entry.
func (e *KardexEntry) SignedQuantity() types.Quantity {
	return e.QuantityIn - e.QuantityOut
}
