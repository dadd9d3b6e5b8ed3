package billing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"facturo/internal/core/apperror"
	"facturo/internal/core/types"
)

func qty(s float64) types.Quantity {
	return types.NewQuantityFromFloat64(s)
}

func TestCalculateLineTotals_PercentageDiscountExcludedTax(t *testing.T) {
	totals, err := CalculateLineTotals(
		types.MustMoney("100.00"),
		qty(2),
		PercentageDiscount(types.MustMoney("10")),
		[]TaxRule{{Name: "IVA", Rate: types.MustMoney("19")}},
	)
	require.NoError(t, err)

	require.True(t, totals.Gross.Equal(types.MustMoney("200.00")), "gross = %s", totals.Gross)
	require.True(t, totals.DiscountAmount.Equal(types.MustMoney("20.00")), "discount = %s", totals.DiscountAmount)
	require.True(t, totals.Subtotal.Equal(types.MustMoney("180.00")), "subtotal = %s", totals.Subtotal)
	require.True(t, totals.TaxAmount.Equal(types.MustMoney("34.20")), "tax = %s", totals.TaxAmount)
	require.True(t, totals.Total.Equal(types.MustMoney("214.20")), "total = %s", totals.Total)
}

func TestCalculateLineTotals_IncludedTaxDoesNotAddToTotal(t *testing.T) {
	totals, err := CalculateLineTotals(
		types.MustMoney("119.00"),
		qty(1),
		NoDiscount(),
		[]TaxRule{{Name: "IVA", Rate: types.MustMoney("19"), IncludedInPrice: true}},
	)
	require.NoError(t, err)

	require.True(t, totals.Subtotal.Equal(types.MustMoney("119.00")))
	require.True(t, totals.IncludedTaxAmount.Equal(types.MustMoney("19.00")), "included tax = %s", totals.IncludedTaxAmount)
	require.True(t, totals.TaxAmount.Equal(types.MustMoney("0")))
	require.True(t, totals.Total.Equal(types.MustMoney("119.00")), "total = %s", totals.Total)
}

func TestCalculateLineTotals_MixedTaxes(t *testing.T) {
	totals, err := CalculateLineTotals(
		types.MustMoney("100.00"),
		qty(1),
		NoDiscount(),
		[]TaxRule{
			{Name: "IVA", Rate: types.MustMoney("19")},
			{Name: "ICO", Rate: types.MustMoney("8"), IncludedInPrice: true},
		},
	)
	require.NoError(t, err)

	require.True(t, totals.TaxAmount.Equal(types.MustMoney("19.00")))
	// 100 - 100/1.08 = 7.41
	require.True(t, totals.IncludedTaxAmount.Equal(types.MustMoney("7.41")), "included tax = %s", totals.IncludedTaxAmount)
	require.True(t, totals.Total.Equal(types.MustMoney("119.00")))
	require.Len(t, totals.Taxes, 2)
}

func TestCalculateLineTotals_FixedDiscountClamped(t *testing.T) {
	totals, err := CalculateLineTotals(
		types.MustMoney("25.00"),
		qty(2),
		FixedDiscount(types.MustMoney("80.00")),
		nil,
	)
	require.NoError(t, err)

	require.True(t, totals.DiscountAmount.Equal(types.MustMoney("50.00")))
	require.True(t, totals.Subtotal.Equal(types.MustMoney("0.00")))
	require.True(t, totals.Total.Equal(types.MustMoney("0.00")))
}

func TestCalculateLineTotals_FractionalQuantityRoundsOnce(t *testing.T) {
	// 3.333 * 9.99 = 33.296... -> 33.30 once, at the gross
	totals, err := CalculateLineTotals(
		types.MustMoney("9.99"),
		types.NewQuantityFromFloat64(3.333),
		NoDiscount(),
		nil,
	)
	require.NoError(t, err)
	require.True(t, totals.Gross.Equal(types.MustMoney("33.30")), "gross = %s", totals.Gross)
	require.True(t, totals.Total.Equal(types.MustMoney("33.30")))
}

func TestCalculateLineTotals_InvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		price    string
		quantity types.Quantity
		discount Discount
		taxes    []TaxRule
		code     string
	}{
		{
			name:     "negative fixed discount",
			price:    "10.00",
			quantity: qty(1),
			discount: FixedDiscount(types.MustMoney("-5")),
			code:     apperror.CodeInvalidDiscount,
		},
		{
			name:     "percentage above 100",
			price:    "10.00",
			quantity: qty(1),
			discount: PercentageDiscount(types.MustMoney("101")),
			code:     apperror.CodeInvalidDiscount,
		},
		{
			name:     "negative percentage",
			price:    "10.00",
			quantity: qty(1),
			discount: PercentageDiscount(types.MustMoney("-1")),
			code:     apperror.CodeInvalidDiscount,
		},
		{
			name:     "tax rate out of range",
			price:    "10.00",
			quantity: qty(1),
			discount: NoDiscount(),
			taxes:    []TaxRule{{Rate: types.MustMoney("120")}},
			code:     apperror.CodeInvalidDiscount,
		},
		{
			name:     "negative unit price",
			price:    "-1.00",
			quantity: qty(1),
			discount: NoDiscount(),
			code:     apperror.CodeValidation,
		},
		{
			name:     "zero quantity",
			price:    "10.00",
			quantity: qty(0),
			discount: NoDiscount(),
			code:     apperror.CodeValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateLineTotals(types.MustMoney(tc.price), tc.quantity, tc.discount, tc.taxes)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			require.Equal(t, tc.code, appErr.Code)
		})
	}
}

func TestAggregateTotals_SumsInLineOrderAndIsIdempotent(t *testing.T) {
	l1, err := CalculateLineTotals(
		types.MustMoney("100.00"), qty(2),
		PercentageDiscount(types.MustMoney("10")),
		[]TaxRule{{Rate: types.MustMoney("19")}},
	)
	require.NoError(t, err)

	l2, err := CalculateLineTotals(
		types.MustMoney("50.00"), qty(1),
		NoDiscount(),
		[]TaxRule{{Rate: types.MustMoney("19")}},
	)
	require.NoError(t, err)

	lines := []LineTotals{l1, l2}
	totals := AggregateTotals(lines)

	require.True(t, totals.Subtotal.Equal(types.MustMoney("230.00")), "subtotal = %s", totals.Subtotal)
	require.True(t, totals.DiscountAmount.Equal(types.MustMoney("20.00")))
	require.True(t, totals.TaxAmount.Equal(types.MustMoney("43.70")), "tax = %s", totals.TaxAmount)
	require.True(t, totals.Total.Equal(types.MustMoney("273.70")), "total = %s", totals.Total)

	// Re-running with unchanged lines yields identical decimals.
	again := AggregateTotals(lines)
	require.Equal(t, totals.Total.String(), again.Total.String())
	require.Equal(t, totals.Subtotal.String(), again.Subtotal.String())
}

func TestAggregateTotals_Empty(t *testing.T) {
	totals := AggregateTotals(nil)
	require.True(t, totals.Total.IsZero())
	require.True(t, totals.Subtotal.IsZero())
}
