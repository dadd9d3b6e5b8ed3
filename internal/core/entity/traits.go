package entity

import (
	"context"

	"facturo/internal/core/apperror"
)

// CurrencyAware is a trait for entities that have a currency dimension.
// Used for composition in models like Invoice.
type CurrencyAware struct {
	// Currency is the ISO 4217 code for financial amounts in this entity
	Currency string `db:"currency" json:"currency"`
}

// ValidateCurrency ensures a currency is set.
func (c *CurrencyAware) ValidateCurrency(ctx context.Context) error {
	if c.Currency == "" {
		return apperror.NewValidation("currency is required").
			WithDetail("field", "currency")
	}
	if len(c.Currency) != 3 {
		return apperror.NewValidation("currency must be a 3-letter ISO code").
			WithDetail("field", "currency").
			WithDetail("value", c.Currency)
	}
	return nil
}

// GetCurrency returns the currency code (useful for interfaces).
func (c *CurrencyAware) GetCurrency() string {
	return c.Currency
}
