// Package product provides the Product catalog and its sale presentations.
// A presentation is the saleable unit of a product (box, unit, pack) with
// its own SKU, cost and default tax rules.
package product

import (
	"context"

	"github.com/shopspring/decimal"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain/billing"
)

// ProductType defines the type of item.
type ProductType string

const (
	TypeGoods   ProductType = "goods"
	TypeService ProductType = "service"
)

// Product represents a sellable item.
// Stock is tracked per presentation; the product carries the policies that
// apply to all of its presentations.
type Product struct {
	entity.Catalog

	// Type defines item category. Services have no inventory impact.
	Type ProductType `db:"type" json:"type"`

	// Barcode is the item barcode (EAN-13, etc.)
	Barcode *string `db:"barcode" json:"barcode,omitempty"`

	// TrackInventory indicates whether postings debit stock for this item
	TrackInventory bool `db:"track_inventory" json:"trackInventory"`

	// AllowNegativeStock lets postings drive the balance below zero
	AllowNegativeStock bool `db:"allow_negative_stock" json:"allowNegativeStock"`

	// Description is a detailed description
	Description *string `db:"description" json:"description,omitempty"`
}

// NewProduct creates a new Product with required fields.
func NewProduct(code, name string, itemType ProductType) *Product {
	return &Product{
		Catalog:        entity.NewCatalog(code, name),
		Type:           itemType,
		TrackInventory: itemType == TypeGoods,
	}
}

// Validate implements entity.Validatable interface.
func (p *Product) Validate(ctx context.Context) error {
	if err := p.Catalog.Validate(ctx); err != nil {
		return err
	}

	if !isValidProductType(p.Type) {
		return apperror.NewValidation("invalid product type").
			WithDetail("field", "type").
			WithDetail("value", string(p.Type))
	}

	if p.Type == TypeService && p.TrackInventory {
		return apperror.NewValidation("services cannot track inventory").
			WithDetail("field", "trackInventory")
	}

	return nil
}

// HasInventoryImpact reports whether posting a line of this product
// debits stock.
func (p *Product) HasInventoryImpact() bool {
	return p.Type == TypeGoods && p.TrackInventory
}

func isValidProductType(t ProductType) bool {
	switch t {
	case TypeGoods, TypeService:
		return true
	}
	return false
}

// PresentationTax is one default tax rule attached to a presentation.
// It seeds the tax set of new document lines.
type PresentationTax struct {
	ID             id.ID       `db:"id" json:"id"`
	PresentationID id.ID       `db:"presentation_id" json:"presentationId"`
	Name           string      `db:"name" json:"name"`
	Rate           types.Money `db:"rate" json:"rate"`
	IsIncluded     bool        `db:"is_included" json:"isIncluded"`
}

// Rule converts the stored tax to a billing rule.
func (t PresentationTax) Rule() billing.TaxRule {
	return billing.TaxRule{
		Name:            t.Name,
		Rate:            t.Rate,
		IncludedInPrice: t.IsIncluded,
	}
}

// Presentation is the saleable unit of a product.
type Presentation struct {
	entity.BaseCatalog

	ProductID id.ID `db:"product_id" json:"productId"`

	// SKU is the unique stock-keeping code of this presentation
	SKU string `db:"sku" json:"sku"`

	// Name is the display name (e.g. "Box of 12")
	Name string `db:"name" json:"name"`

	// UnitOfMeasure is the display unit (e.g. "und", "kg")
	UnitOfMeasure string `db:"unit_of_measure" json:"unitOfMeasure"`

	// Factor is how many base units this presentation contains
	Factor decimal.Decimal `db:"factor" json:"factor"`

	// Price is the default sale price
	Price types.Money `db:"price" json:"price"`

	// Cost is the reference purchase cost used to value incoming stock
	Cost types.Money `db:"cost" json:"cost"`

	// IsDefault marks the presentation preselected on new document lines.
	// At most one per product; the write path enforces exclusivity.
	IsDefault bool `db:"is_default" json:"isDefault"`

	// AllowFractionalSale permits non-whole quantities on document lines
	AllowFractionalSale bool `db:"allow_fractional_sale" json:"allowFractionalSale"`

	// Active marks whether the presentation may be sold
	Active bool `db:"active" json:"active"`

	// Taxes are the default tax rules for new lines
	Taxes []PresentationTax `db:"-" json:"taxes,omitempty"`
}

// NewPresentation creates a presentation for a product.
func NewPresentation(productID id.ID, sku, name string) *Presentation {
	return &Presentation{
		BaseCatalog: entity.NewBaseCatalog(),
		ProductID:   productID,
		SKU:         sku,
		Name:        name,
		Factor:      decimal.NewFromInt(1),
		Price:       types.Zero(),
		Cost:        types.Zero(),
		Active:      true,
	}
}

// Validate implements entity.Validatable interface.
func (p *Presentation) Validate(ctx context.Context) error {
	if id.IsNil(p.ProductID) {
		return apperror.NewValidation("presentation requires a product").
			WithDetail("field", "productId")
	}
	if p.SKU == "" {
		return apperror.NewValidation("sku is required").
			WithDetail("field", "sku")
	}
	if p.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if !p.Factor.IsPositive() {
		return apperror.NewValidation("factor must be positive").
			WithDetail("field", "factor")
	}
	if p.Price.IsNegative() {
		return apperror.NewValidation("price cannot be negative").
			WithDetail("field", "price")
	}
	if p.Cost.IsNegative() {
		return apperror.NewValidation("cost cannot be negative").
			WithDetail("field", "cost")
	}

	for _, tax := range p.Taxes {
		if tax.Rate.IsNegative() || tax.Rate.GreaterThan(decimal.NewFromInt(100)) {
			return apperror.NewValidation("tax rate must be within [0,100]").
				WithDetail("field", "taxes").
				WithDetail("tax", tax.Name)
		}
	}

	return nil
}

// TaxRules returns the default billing rules for new document lines.
func (p *Presentation) TaxRules() []billing.TaxRule {
	rules := make([]billing.TaxRule, 0, len(p.Taxes))
	for _, t := range p.Taxes {
		rules = append(rules, t.Rule())
	}
	return rules
}

// IsSaleable reports whether the presentation may appear on new lines.
func (p *Presentation) IsSaleable() bool {
	return p.Active && !p.DeletionMark
}
