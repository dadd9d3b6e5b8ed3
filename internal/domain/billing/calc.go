// Package billing computes line and document totals.
//
// Everything here is a pure function over exact decimals: no I/O, no
// persistence, no floating point. Rounding is applied once per final money
// component, never at intermediate steps, so recomputation is idempotent
// down to exact decimal equality.
package billing

import (
	"github.com/shopspring/decimal"

	"facturo/internal/core/apperror"
	"facturo/internal/core/types"
)

// DiscountType selects how a line discount is computed.
type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Discount is a per-line discount policy.
// Value is a percentage in [0,100] for DiscountPercentage, a non-negative
// amount for DiscountFixed, and ignored for DiscountNone.
type Discount struct {
	Type  DiscountType `json:"type"`
	Value types.Money  `json:"value"`
}

// NoDiscount returns the empty discount policy.
func NoDiscount() Discount {
	return Discount{Type: DiscountNone}
}

// PercentageDiscount returns a percentage discount policy.
func PercentageDiscount(percent types.Money) Discount {
	return Discount{Type: DiscountPercentage, Value: percent}
}

// FixedDiscount returns a fixed-amount discount policy.
func FixedDiscount(amount types.Money) Discount {
	return Discount{Type: DiscountFixed, Value: amount}
}

// TaxRule describes one tax applied to a line.
// IncludedInPrice means the tax is already embedded in the unit price: its
// amount is extracted from the subtotal and does not add to the total.
// The flag is always explicit per rule, never inferred.
type TaxRule struct {
	Name            string      `json:"name,omitempty"`
	Rate            types.Money `json:"rate"` // percent, 0..100
	IncludedInPrice bool        `json:"includedInPrice"`
}

// TaxDetail is the computed amount for one tax rule.
type TaxDetail struct {
	Rule   TaxRule     `json:"rule"`
	Amount types.Money `json:"amount"`
}

// LineTotals is the result of CalculateLineTotals.
// Invariants: Subtotal = Gross - DiscountAmount and Total = Subtotal + TaxAmount.
// IncludedTaxAmount is informational: it is part of Subtotal's composition,
// not an addend.
type LineTotals struct {
	Gross             types.Money `json:"gross"`
	DiscountAmount    types.Money `json:"discountAmount"`
	Subtotal          types.Money `json:"subtotal"`
	TaxAmount         types.Money `json:"taxAmount"`
	IncludedTaxAmount types.Money `json:"includedTaxAmount"`
	Total             types.Money `json:"total"`
	Taxes             []TaxDetail `json:"taxes,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// CalculateLineTotals computes discount, taxes and total for one line.
//
// Steps: gross = unitPrice * quantity; discount per policy (fixed amounts
// are clamped to [0, gross]); subtotal = gross - discount; excluded taxes
// are added on top of the subtotal, included taxes are extracted from it.
// Returns InvalidDiscount for a negative fixed discount, a percentage
// outside [0,100], or a tax rate outside [0,100].
func CalculateLineTotals(unitPrice types.Money, quantity types.Quantity, discount Discount, taxes []TaxRule) (LineTotals, error) {
	if unitPrice.IsNegative() {
		return LineTotals{}, apperror.NewValidation("unit price must not be negative").
			WithDetail("unitPrice", unitPrice.String())
	}
	if !quantity.IsPositive() {
		return LineTotals{}, apperror.NewValidation("quantity must be positive").
			WithDetail("quantity", quantity.String())
	}
	if err := validateDiscount(discount); err != nil {
		return LineTotals{}, err
	}
	for _, rule := range taxes {
		if rule.Rate.IsNegative() || rule.Rate.GreaterThan(hundred) {
			return LineTotals{}, apperror.NewInvalidDiscount("tax rate must be within [0,100]").
				WithDetail("rate", rule.Rate.String()).
				WithDetail("tax", rule.Name)
		}
	}

	gross := types.RoundMoney(unitPrice.Mul(quantity.Decimal()))

	discountAmount := discountAmount(gross, discount)
	subtotal := gross.Sub(discountAmount)

	totals := LineTotals{
		Gross:             gross,
		DiscountAmount:    discountAmount,
		Subtotal:          subtotal,
		TaxAmount:         types.Zero(),
		IncludedTaxAmount: types.Zero(),
	}

	for _, rule := range taxes {
		var amount types.Money
		if rule.IncludedInPrice {
			// tax = subtotal - subtotal/(1+rate/100), extracted, not added
			divisor := decimal.NewFromInt(1).Add(rule.Rate.Div(hundred))
			amount = types.RoundMoney(subtotal.Sub(subtotal.DivRound(divisor, types.CostScale+4)))
			totals.IncludedTaxAmount = totals.IncludedTaxAmount.Add(amount)
		} else {
			amount = types.RoundMoney(subtotal.Mul(rule.Rate).Div(hundred))
			totals.TaxAmount = totals.TaxAmount.Add(amount)
		}
		totals.Taxes = append(totals.Taxes, TaxDetail{Rule: rule, Amount: amount})
	}

	totals.Total = subtotal.Add(totals.TaxAmount)
	return totals, nil
}

func validateDiscount(d Discount) error {
	switch d.Type {
	case DiscountNone, "":
		return nil
	case DiscountPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			return apperror.NewInvalidDiscount("discount percentage must be within [0,100]").
				WithDetail("percentage", d.Value.String())
		}
		return nil
	case DiscountFixed:
		if d.Value.IsNegative() {
			return apperror.NewInvalidDiscount("fixed discount must not be negative").
				WithDetail("amount", d.Value.String())
		}
		return nil
	}
	return apperror.NewInvalidDiscount("unknown discount type").
		WithDetail("type", string(d.Type))
}

// discountAmount computes the rounded discount for an already-rounded gross.
// Fixed discounts are clamped to [0, gross].
func discountAmount(gross types.Money, d Discount) types.Money {
	switch d.Type {
	case DiscountPercentage:
		return types.RoundMoney(gross.Mul(d.Value).Div(hundred))
	case DiscountFixed:
		amount := types.RoundMoney(d.Value)
		if amount.GreaterThan(gross) {
			return gross
		}
		return amount
	}
	return types.Zero()
}

// DocumentTotals is the elementwise sum of line totals, in line order.
type DocumentTotals struct {
	Gross             types.Money `json:"gross"`
	DiscountAmount    types.Money `json:"discountAmount"`
	Subtotal          types.Money `json:"subtotal"`
	TaxAmount         types.Money `json:"taxAmount"`
	IncludedTaxAmount types.Money `json:"includedTaxAmount"`
	Total             types.Money `json:"total"`
}

// AggregateTotals sums line totals into document totals.
// Pure and idempotent: unchanged lines yield bit-identical decimals.
func AggregateTotals(lines []LineTotals) DocumentTotals {
	totals := DocumentTotals{
		Gross:             types.Zero(),
		DiscountAmount:    types.Zero(),
		Subtotal:          types.Zero(),
		TaxAmount:         types.Zero(),
		IncludedTaxAmount: types.Zero(),
		Total:             types.Zero(),
	}
	for _, l := range lines {
		totals.Gross = totals.Gross.Add(l.Gross)
		totals.DiscountAmount = totals.DiscountAmount.Add(l.DiscountAmount)
		totals.Subtotal = totals.Subtotal.Add(l.Subtotal)
		totals.TaxAmount = totals.TaxAmount.Add(l.TaxAmount)
		totals.IncludedTaxAmount = totals.IncludedTaxAmount.Add(l.IncludedTaxAmount)
		totals.Total = totals.Total.Add(l.Total)
	}
	return totals
}
