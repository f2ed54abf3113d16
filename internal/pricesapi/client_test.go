package pricesapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"curve_core/internal/core"
	apperrors "curve_core/pkg/errors"
	httpx "curve_core/pkg/http"
	"curve_core/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts := httpx.DefaultOptions()
	opts.MaxRetries = 0
	opts.InitialBackoff = time.Millisecond
	c := NewClient(server.URL, opts, logging.NewNopLogger())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestClient_Route(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/router/ethereum/quote", r.URL.Path)
		assert.Equal(t, "0xusdc", r.URL.Query().Get("from"))
		assert.Equal(t, "0xcrvusd", r.URL.Query().Get("to"))
		assert.Equal(t, "1000.5", r.URL.Query().Get("amount"))
		_, _ = w.Write([]byte(`{
			"amount_out": "1000.12",
			"price_impact": 0.013,
			"route": [{"pool_address": "0xpool", "pool_name": "crvUSD/USDC", "input_coin": "0xusdc", "output_coin": "0xcrvusd"}]
		}`))
	})

	q, err := c.Route(context.Background(), core.QuoteRequest{
		Chain:  "ethereum",
		From:   "0xusdc",
		To:     "0xcrvusd",
		Amount: decimal.RequireFromString("1000.5"),
	})
	require.NoError(t, err)

	assert.True(t, q.AmountOut.Equal(decimal.RequireFromString("1000.12")))
	assert.True(t, q.PriceImpact.Equal(decimal.RequireFromString("0.013")))
	require.Len(t, q.Route, 1)
	assert.Equal(t, "crvUSD/USDC", q.Route[0].PoolName)
	assert.Equal(t, time.Unix(1700000000, 0), q.FetchedAt)
}

func TestClient_RouteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"no route", http.StatusOK, `{"amount_out": "0", "route": []}`, apperrors.ErrRouteUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, apperrors.ErrRouteUnavailable},
		{"unknown token", http.StatusNotFound, `{}`, apperrors.ErrNotFound},
		{"throttled", http.StatusTooManyRequests, `{}`, apperrors.ErrRateLimited},
		{"bad amount", http.StatusBadRequest, `{}`, apperrors.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Route(context.Background(), core.QuoteRequest{Chain: "ethereum", From: "a", To: "b", Amount: decimal.NewFromInt(1)})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_UserLoan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/crvusd/users/ethereum/0xuser/0xcontroller/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"liquidation_prices": [1950.23, "2010.55"],
			"n1": 10,
			"n2": 12,
			"active_band": 11,
			"health": 0.873,
			"loss": null,
			"loss_pct": null,
			"debt": "5000",
			"collateral": "3.2"
		}`))
	})

	snap, err := c.UserLoan(context.Background(), "ethereum", "0xcontroller", "0xuser")
	require.NoError(t, err)

	assert.True(t, snap.Prices[0].Valid)
	assert.True(t, snap.Prices[0].Decimal.Equal(decimal.RequireFromString("1950.23")))
	assert.True(t, snap.Prices[1].Decimal.Equal(decimal.RequireFromString("2010.55")))
	require.NotNil(t, snap.Bands[0])
	require.NotNil(t, snap.Bands[1])
	assert.Equal(t, 10, *snap.Bands[0])
	assert.Equal(t, 12, *snap.Bands[1])
	require.NotNil(t, snap.ActiveBand)
	assert.Equal(t, 11, *snap.ActiveBand)
	assert.True(t, snap.Health.Valid)
	assert.False(t, snap.Loss.Valid)
	assert.False(t, snap.LossPct.Valid)
	assert.Equal(t, "0xuser", snap.User)
}

func TestClient_UserLoanNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.UserLoan(context.Background(), "ethereum", "0xcontroller", "0xnobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
