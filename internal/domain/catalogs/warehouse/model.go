// Package warehouse provides the Warehouse catalog.
// Warehouses represent physical locations for storing goods and inventory.
package warehouse

import (
	"context"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
)

// WarehouseType defines the type of warehouse.
type WarehouseType string

const (
	TypeMain    WarehouseType = "main"
	TypeRetail  WarehouseType = "retail"
	TypeTransit WarehouseType = "transit"
)

// Warehouse represents a storage location for goods.
type Warehouse struct {
	entity.Catalog

	// Type defines the warehouse category
	Type WarehouseType `db:"type" json:"type"`

	// Address is the physical address
	Address *string `db:"address" json:"address,omitempty"`

	// IsDefault indicates if this is the default warehouse for new documents
	IsDefault bool `db:"is_default" json:"isDefault"`

	// Description
	Description *string `db:"description" json:"description,omitempty"`
}

// NewWarehouse creates a new Warehouse with required fields.
func NewWarehouse(code, name string, whType WarehouseType) *Warehouse {
	return &Warehouse{
		Catalog: entity.NewCatalog(code, name),
		Type:    whType,
	}
}

// Validate implements entity.Validatable interface.
func (w *Warehouse) Validate(ctx context.Context) error {
	if err := w.Catalog.Validate(ctx); err != nil {
		return err
	}

	if !isValidWarehouseType(w.Type) {
		return apperror.NewValidation("invalid warehouse type").
			WithDetail("field", "type").
			WithDetail("value", string(w.Type))
	}

	return nil
}

// CanShip returns true if the warehouse may appear on new documents.
func (w *Warehouse) CanShip() bool {
	return w.Active && !w.DeletionMark
}

func isValidWarehouseType(t WarehouseType) bool {
	switch t {
	case TypeMain, TypeRetail, TypeTransit:
		return true
	}
	return false
}
