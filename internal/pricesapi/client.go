// Package pricesapi reads swap routes and loan state from a Curve prices-style REST API
package pricesapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"curve_core/internal/core"
	apperrors "curve_core/pkg/errors"
	httpx "curve_core/pkg/http"

	"github.com/shopspring/decimal"
)

// Client implements core.IQuoteRouter and core.ILoanSource
type Client struct {
	http   *httpx.Client
	logger core.ILogger
	now    func() time.Time
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, opts httpx.Options, logger core.ILogger) *Client {
	return &Client{
		http:   httpx.NewClient(baseURL, opts),
		logger: logger.WithField("component", "prices_api"),
		now:    time.Now,
	}
}

// Check fails while the upstream circuit breaker is open
func (c *Client) Check() error {
	if c.http.BreakerOpen() {
		return fmt.Errorf("%w: circuit breaker open", apperrors.ErrUpstream)
	}
	return nil
}

type routeStepDTO struct {
	PoolAddress string `json:"pool_address"`
	PoolName    string `json:"pool_name"`
	InputCoin   string `json:"input_coin"`
	OutputCoin  string `json:"output_coin"`
}

type quoteDTO struct {
	AmountOut   decimal.Decimal `json:"amount_out"`
	PriceImpact decimal.Decimal `json:"price_impact"`
	Route       []routeStepDTO  `json:"route"`
}

type loanStatsDTO struct {
	PriceRange [2]decimal.NullDecimal `json:"liquidation_prices"`
	N1         *int                   `json:"n1"`
	N2         *int                   `json:"n2"`
	ActiveBand *int                   `json:"active_band"`
	Health     decimal.NullDecimal    `json:"health"`
	Loss       decimal.NullDecimal    `json:"loss"`
	LossPct    decimal.NullDecimal    `json:"loss_pct"`
	Debt       decimal.NullDecimal    `json:"debt"`
	Collateral decimal.NullDecimal    `json:"collateral"`
}

// Route fetches the best route for a swap
func (c *Client) Route(ctx context.Context, req core.QuoteRequest) (core.Quote, error) {
	path := fmt.Sprintf("/v1/router/%s/quote", url.PathEscape(req.Chain))
	params := map[string]string{
		"from":   req.From,
		"to":     req.To,
		"amount": req.Amount.String(),
	}

	var dto quoteDTO
	if err := c.http.GetJSON(ctx, path, params, &dto); err != nil {
		return core.Quote{}, c.classify(err, apperrors.ErrRouteUnavailable, "route", req.Chain)
	}
	if len(dto.Route) == 0 {
		return core.Quote{}, fmt.Errorf("%w: empty route for %s -> %s", apperrors.ErrRouteUnavailable, req.From, req.To)
	}

	steps := make([]core.RouteStep, 0, len(dto.Route))
	for _, s := range dto.Route {
		steps = append(steps, core.RouteStep{
			Pool:     s.PoolAddress,
			PoolName: s.PoolName,
			InToken:  s.InputCoin,
			OutToken: s.OutputCoin,
		})
	}

	return core.Quote{
		Chain:       req.Chain,
		From:        req.From,
		To:          req.To,
		AmountIn:    req.Amount,
		AmountOut:   dto.AmountOut,
		PriceImpact: dto.PriceImpact,
		Route:       steps,
		FetchedAt:   c.now(),
	}, nil
}

// UserLoan fetches the raw loan state of user in a lending market controller
func (c *Client) UserLoan(ctx context.Context, chain, controller, user string) (core.LoanSnapshot, error) {
	path := fmt.Sprintf("/v1/crvusd/users/%s/%s/%s/stats",
		url.PathEscape(chain), url.PathEscape(user), url.PathEscape(controller))

	var dto loanStatsDTO
	if err := c.http.GetJSON(ctx, path, nil, &dto); err != nil {
		return core.LoanSnapshot{}, c.classify(err, apperrors.ErrUpstream, "user_loan", chain)
	}

	return core.LoanSnapshot{
		Chain:      chain,
		Controller: controller,
		User:       user,
		Prices:     dto.PriceRange,
		Bands:      [2]*int{dto.N1, dto.N2},
		ActiveBand: dto.ActiveBand,
		Health:     dto.Health,
		Loss:       dto.Loss,
		LossPct:    dto.LossPct,
		Debt:       dto.Debt,
		Collateral: dto.Collateral,
	}, nil
}

// classify maps transport failures onto service errors, keeping the cause
func (c *Client) classify(err error, fallback error, op, chain string) error {
	switch {
	case httpx.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %s: %v", apperrors.ErrNotFound, op, err)
	case httpx.IsStatus(err, http.StatusTooManyRequests):
		return fmt.Errorf("%w: %s: %v", apperrors.ErrRateLimited, op, err)
	case httpx.IsStatus(err, http.StatusBadRequest), httpx.IsStatus(err, http.StatusUnprocessableEntity):
		return fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidRequest, op, err)
	}
	c.logger.Warn("Prices API request failed", "op", op, "chain", chain, "error", err)
	return fmt.Errorf("%w: %s: %v", fallback, op, err)
}
