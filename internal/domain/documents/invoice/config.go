package invoice

import "facturo/pkg/numerator"

// NumberPrefix for generated invoice numbers (FAC-2026-00001).
const NumberPrefix = "FAC"

// NumeratorStrategy for invoices. Strict: gapless legal numbering.
var NumeratorStrategy = &numerator.Options{
	Strategy: numerator.StrategyStrict,
}

// NumberingConfig returns the numbering configuration for invoices.
func NumberingConfig() numerator.Config {
	return numerator.DefaultConfig(NumberPrefix)
}
