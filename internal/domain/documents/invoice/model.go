// Package invoice provides the sales Invoice document.
package invoice

import (
	"context"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain/billing"
)

// DocumentType is the reference type recorded on register entries.
const DocumentType = "invoice"

// Invoice represents a sales invoice.
// Lines are owned exclusively by their invoice and are mutable only while
// the document is Draft. Totals are derived from the lines and recomputed
// only through RecalculateTotals; nothing mutates them independently.
type Invoice struct {
	entity.Document

	// Customer reference
	CustomerID id.ID `db:"customer_id" json:"customerId"`

	// Warehouse goods are shipped from
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`

	// Currency support trait
	entity.CurrencyAware

	// Totals (calculated from lines)
	Subtotal         types.Money `db:"subtotal" json:"subtotal"`
	DiscountTotal    types.Money `db:"discount_total" json:"discountTotal"`
	TaxTotal         types.Money `db:"tax_total" json:"taxTotal"`
	IncludedTaxTotal types.Money `db:"included_tax_total" json:"includedTaxTotal"`
	Total            types.Money `db:"total" json:"total"`

	// Table part: invoiced goods
	Lines []Line `db:"-" json:"lines"`
}

// Line represents one invoice line.
// SKU, Name and UnitOfMeasure are sale-time snapshots of the presentation;
// later catalog edits do not rewrite history.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	PresentationID id.ID  `db:"presentation_id" json:"presentationId"`
	SKU            string `db:"sku" json:"sku"`
	Name           string `db:"name" json:"name"`
	UnitOfMeasure  string `db:"unit_of_measure" json:"unitOfMeasure"`

	Quantity  types.Quantity    `db:"quantity" json:"quantity"`
	UnitPrice types.Money       `db:"unit_price" json:"unitPrice"`
	Discount  billing.Discount  `db:"-" json:"discount"`
	Taxes     []billing.TaxRule `db:"-" json:"taxes,omitempty"`

	// Derived, set by RecalculateTotals
	DiscountAmount types.Money `db:"discount_amount" json:"discountAmount"`
	Subtotal       types.Money `db:"subtotal" json:"subtotal"`
	TaxAmount      types.Money `db:"tax_amount" json:"taxAmount"`
	Total          types.Money `db:"total" json:"total"`
}

// New creates a new draft invoice.
func New(customerID, warehouseID id.ID, currency string) *Invoice {
	inv := &Invoice{
		Document:    entity.NewDocument(),
		CustomerID:  customerID,
		WarehouseID: warehouseID,
		Lines:       make([]Line, 0),
	}
	inv.Currency = currency
	inv.resetTotals()
	return inv
}

// AddLine appends a line while the document is Draft.
// Totals are NOT recomputed implicitly; the caller mutating lines is
// responsible for invoking RecalculateTotals before persisting.
func (inv *Invoice) AddLine(line Line) error {
	if err := inv.CanModify(); err != nil {
		return err
	}

	if id.IsNil(line.LineID) {
		line.LineID = id.New()
	}
	line.LineNo = len(inv.Lines) + 1
	inv.Lines = append(inv.Lines, line)
	return nil
}

// RemoveLine deletes a line by its ID and renumbers the remainder.
func (inv *Invoice) RemoveLine(lineID id.ID) error {
	if err := inv.CanModify(); err != nil {
		return err
	}

	for i, line := range inv.Lines {
		if line.LineID == lineID {
			inv.Lines = append(inv.Lines[:i], inv.Lines[i+1:]...)
			for j := range inv.Lines {
				inv.Lines[j].LineNo = j + 1
			}
			return nil
		}
	}
	return apperror.NewNotFound("invoice line", lineID.String())
}

// UpdateLine replaces a line in place, matched by LineID.
func (inv *Invoice) UpdateLine(line Line) error {
	if err := inv.CanModify(); err != nil {
		return err
	}

	for i := range inv.Lines {
		if inv.Lines[i].LineID == line.LineID {
			line.LineNo = inv.Lines[i].LineNo
			inv.Lines[i] = line
			return nil
		}
	}
	return apperror.NewNotFound("invoice line", line.LineID.String())
}

// RecalculateTotals recomputes every line's derived amounts and the
// document totals. Pure: same lines in, bit-identical decimals out.
// Fails with InvalidDiscount before touching any stored value.
func (inv *Invoice) RecalculateTotals() error {
	lineTotals := make([]billing.LineTotals, len(inv.Lines))
	for i, line := range inv.Lines {
		totals, err := billing.CalculateLineTotals(line.UnitPrice, line.Quantity, line.Discount, line.Taxes)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				return appErr.WithDetail("lineNo", line.LineNo)
			}
			return err
		}
		lineTotals[i] = totals
	}

	for i, totals := range lineTotals {
		inv.Lines[i].DiscountAmount = totals.DiscountAmount
		inv.Lines[i].Subtotal = totals.Subtotal
		inv.Lines[i].TaxAmount = totals.TaxAmount
		inv.Lines[i].Total = totals.Total
	}

	doc := billing.AggregateTotals(lineTotals)
	inv.Subtotal = doc.Subtotal
	inv.DiscountTotal = doc.DiscountAmount
	inv.TaxTotal = doc.TaxAmount
	inv.IncludedTaxTotal = doc.IncludedTaxAmount
	inv.Total = doc.Total
	return nil
}

func (inv *Invoice) resetTotals() {
	inv.Subtotal = types.Zero()
	inv.DiscountTotal = types.Zero()
	inv.TaxTotal = types.Zero()
	inv.IncludedTaxTotal = types.Zero()
	inv.Total = types.Zero()
}

// Validate implements entity.Validatable.
func (inv *Invoice) Validate(ctx context.Context) error {
	if err := inv.Document.Validate(ctx); err != nil {
		return err
	}

	if err := inv.CurrencyAware.ValidateCurrency(ctx); err != nil {
		return err
	}

	if id.IsNil(inv.CustomerID) {
		return apperror.NewValidation("customer is required").
			WithDetail("field", "customerId")
	}

	if id.IsNil(inv.WarehouseID) {
		return apperror.NewValidation("warehouse is required").
			WithDetail("field", "warehouseId")
	}

	if len(inv.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for _, line := range inv.Lines {
		if id.IsNil(line.PresentationID) {
			return apperror.NewValidation("presentation is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", line.LineNo)
		}
		if !line.Quantity.IsPositive() {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", line.LineNo)
		}
		if line.UnitPrice.IsNegative() {
			return apperror.NewValidation("unit price cannot be negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", line.LineNo)
		}
	}

	return nil
}
