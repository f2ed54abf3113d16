// Package liquidation turns raw loan state (band prices, band indices, health
// and soft-liquidation losses) into display values. Every function is pure and
// never panics; missing inputs degrade to sentinel display states.
package liquidation

import (
	"github.com/shopspring/decimal"
)

// Range is a formatted liquidation range. Low and High keep the source order
// of the inputs (price1, price2); they are not sorted numerically.
type Range struct {
	Low   string `json:"low"`
	High  string `json:"high"`
	Band1 int    `json:"band1"`
	Band2 int    `json:"band2"`
}

// LossState is the display state of a loss figure
type LossState int

const (
	LossUnknown        LossState = iota // not loaded yet
	LossZero                            // raw loss is exactly zero
	LossBelowThreshold                  // non-zero but at or below epsilon
	LossValue                           // shown as a number
)

func (s LossState) String() string {
	switch s {
	case LossZero:
		return "zero"
	case LossBelowThreshold:
		return "below_threshold"
	case LossValue:
		return "value"
	default:
		return "unknown"
	}
}

// LossDisplay is the rendered soft-liquidation loss
type LossDisplay struct {
	State   LossState
	Amount  string
	Percent string
}

func (l LossDisplay) String() string {
	switch l.State {
	case LossUnknown:
		return UnknownIndicator
	case LossZero:
		return "0"
	case LossBelowThreshold:
		return l.Percent
	default:
		return l.Amount + " (" + l.Percent + ")"
	}
}

// HealthStatus classifies a position relative to liquidation
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthOK
	HealthWarning
	HealthSoftLiquidation
	HealthHardLiquidation
)

func (h HealthStatus) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthWarning:
		return "warning"
	case HealthSoftLiquidation:
		return "soft_liquidation"
	case HealthHardLiquidation:
		return "hard_liquidation"
	default:
		return "unknown"
	}
}

// Formatter carries display precision and thresholds. Zero decimals are kept
// as configured; negative precision and non-positive thresholds take the
// package defaults. Start from DefaultFormatter to get default precision.
type Formatter struct {
	PriceDecimals   int
	PercentDecimals int
	AmountDecimals  int
	LossEpsilon     decimal.Decimal
	WarnHealth      decimal.Decimal
}

// DefaultFormatter returns a formatter with the package defaults
func DefaultFormatter() Formatter {
	return Formatter{
		PriceDecimals:   DefaultPriceDecimals,
		PercentDecimals: DefaultPercentDecimals,
		AmountDecimals:  DefaultAmountDecimals,
		LossEpsilon:     DefaultLossEpsilon,
		WarnHealth:      DefaultWarnHealth,
	}
}

func (f Formatter) normalized() Formatter {
	if f.PriceDecimals < 0 {
		f.PriceDecimals = DefaultPriceDecimals
	}
	if f.PercentDecimals < 0 {
		f.PercentDecimals = DefaultPercentDecimals
	}
	if f.AmountDecimals < 0 {
		f.AmountDecimals = DefaultAmountDecimals
	}
	if !f.LossEpsilon.IsPositive() {
		f.LossEpsilon = DefaultLossEpsilon
	}
	if !f.WarnHealth.IsPositive() {
		f.WarnHealth = DefaultWarnHealth
	}
	return f
}

// LiquidationRange formats the two edge prices and band indices. ok is false
// when any of the four inputs has not been loaded.
func (f Formatter) LiquidationRange(prices [2]decimal.NullDecimal, bands [2]*int) (Range, bool) {
	if !prices[0].Valid || !prices[1].Valid || bands[0] == nil || bands[1] == nil {
		return Range{}, false
	}
	f = f.normalized()
	return Range{
		Low:   FormatFixed(prices[0].Decimal, f.PriceDecimals),
		High:  FormatFixed(prices[1].Decimal, f.PriceDecimals),
		Band1: *bands[0],
		Band2: *bands[1],
	}, true
}

// Health formats a health fraction as a percentage. Negative values are kept.
func (f Formatter) Health(health decimal.NullDecimal) string {
	if !health.Valid {
		return UnknownIndicator
	}
	return FormatPercent(health.Decimal, f.normalized().PercentDecimals)
}

// Loss renders a soft-liquidation loss. lossPct is already a percentage.
func (f Formatter) Loss(loss, lossPct decimal.NullDecimal) LossDisplay {
	if !loss.Valid || !lossPct.Valid {
		return LossDisplay{State: LossUnknown, Amount: UnknownIndicator, Percent: UnknownIndicator}
	}
	f = f.normalized()

	if loss.Decimal.IsZero() {
		return LossDisplay{State: LossZero, Amount: "0", Percent: "0%"}
	}

	epsPlaces := decimalPlaces(f.LossEpsilon)
	if lossPct.Decimal.Abs().LessThanOrEqual(f.LossEpsilon) {
		return LossDisplay{
			State:   LossBelowThreshold,
			Amount:  "<" + FormatFixed(f.LossEpsilon, epsPlaces),
			Percent: "<" + FormatFixed(f.LossEpsilon, epsPlaces) + "%",
		}
	}

	// small percentages keep the epsilon precision so they never print as 0.00%
	pctPlaces := f.PercentDecimals
	if lossPct.Decimal.Abs().LessThan(decimal.New(1, -int32(f.PercentDecimals))) && epsPlaces > pctPlaces {
		pctPlaces = epsPlaces
	}
	return LossDisplay{
		State:   LossValue,
		Amount:  FormatFixed(loss.Decimal, f.AmountDecimals),
		Percent: FormatFixed(lossPct.Decimal, pctPlaces) + "%",
	}
}

// Status classifies health; non-positive health is past the liquidation threshold
func (f Formatter) Status(health decimal.NullDecimal, softLiquidation bool) HealthStatus {
	if !health.Valid {
		return HealthUnknown
	}
	f = f.normalized()
	switch {
	case !health.Decimal.IsPositive():
		return HealthHardLiquidation
	case softLiquidation:
		return HealthSoftLiquidation
	case health.Decimal.LessThan(f.WarnHealth):
		return HealthWarning
	default:
		return HealthOK
	}
}

// ComputeLiquidationRange formats a range with two-decimal prices
func ComputeLiquidationRange(prices [2]decimal.NullDecimal, bands [2]*int) (Range, bool) {
	return DefaultFormatter().LiquidationRange(prices, bands)
}

// ComputeHealthDisplay formats health with two decimals ("-5.00%", "87.30%")
func ComputeHealthDisplay(health decimal.NullDecimal) string {
	return DefaultFormatter().Health(health)
}

// ComputeLossDisplay renders a loss using epsilon as the below-threshold cutoff.
// A non-positive epsilon means DefaultLossEpsilon.
func ComputeLossDisplay(loss, lossPct decimal.NullDecimal, epsilon decimal.Decimal) LossDisplay {
	f := DefaultFormatter()
	f.LossEpsilon = epsilon
	return f.Loss(loss, lossPct)
}

// ClassifyHealth classifies a position using warn as the warning threshold
func ClassifyHealth(health decimal.NullDecimal, softLiquidation bool, warn decimal.Decimal) HealthStatus {
	f := DefaultFormatter()
	f.WarnHealth = warn
	return f.Status(health, softLiquidation)
}

// IsSoftLiquidation reports whether the active band lies inside the user's
// band range. Either band order is accepted.
func IsSoftLiquidation(activeBand *int, bands [2]*int) bool {
	if activeBand == nil || bands[0] == nil || bands[1] == nil {
		return false
	}
	lo, hi := *bands[0], *bands[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	return *activeBand >= lo && *activeBand <= hi
}
