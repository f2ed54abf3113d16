package liquidation

import (
	"github.com/shopspring/decimal"
)

// UnknownIndicator is rendered for values that have not been loaded yet
const UnknownIndicator = "?"

// Default display precision
const (
	DefaultPriceDecimals   = 2
	DefaultPercentDecimals = 2
	DefaultAmountDecimals  = 4
)

var (
	// DefaultLossEpsilon is the loss percentage at or below which a non-zero
	// loss is shown as "<epsilon" instead of a misleading near-zero number
	DefaultLossEpsilon = decimal.New(1, -4)
	// DefaultWarnHealth marks positions close to liquidation (10%)
	DefaultWarnHealth = decimal.New(1, -1)

	hundred = decimal.NewFromInt(100)
)

// FormatFixed rounds half away from zero and renders exactly places decimals
func FormatFixed(d decimal.Decimal, places int) string {
	if places < 0 {
		places = 0
	}
	return d.StringFixed(int32(places))
}

// FormatPercent renders a fraction (0.873) as a percentage ("87.30%")
func FormatPercent(fraction decimal.Decimal, places int) string {
	return FormatFixed(fraction.Mul(hundred), places) + "%"
}

// decimalPlaces is the number of fractional digits needed to write d
func decimalPlaces(d decimal.Decimal) int {
	if exp := d.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}
