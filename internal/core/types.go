package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest describes a swap the user wants priced
type QuoteRequest struct {
	Chain  string
	From   string // token address
	To     string // token address
	Amount decimal.Decimal
}

// RouteStep is one pool hop of a swap route
type RouteStep struct {
	Pool     string `json:"pool"`
	PoolName string `json:"pool_name"`
	InToken  string `json:"in_token"`
	OutToken string `json:"out_token"`
}

// Quote is the expected result of a swap along a route
type Quote struct {
	RequestID   string
	Chain       string
	From        string
	To          string
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	PriceImpact decimal.Decimal // percent
	Route       []RouteStep
	FetchedAt   time.Time
}

// LoanSnapshot is the raw state of a user's loan as returned by the chain or prices API.
// Fields that have not been loaded yet are left invalid/nil.
type LoanSnapshot struct {
	Chain      string
	Controller string
	User       string

	Prices     [2]decimal.NullDecimal // liquidation prices at the two range edges
	Bands      [2]*int                // band indices of the range edges
	ActiveBand *int                   // oracle's current band

	Health     decimal.NullDecimal // fraction, negative when liquidatable
	Loss       decimal.NullDecimal // collateral lost to soft liquidation
	LossPct    decimal.NullDecimal
	Debt       decimal.NullDecimal
	Collateral decimal.NullDecimal
}
