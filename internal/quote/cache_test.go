package quote

import (
	"context"
	"os"
	"testing"
	"time"

	"curve_core/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	a := cacheKey(core.QuoteRequest{Chain: "Ethereum", From: "0xAB", To: "0xCD", Amount: decimal.RequireFromString("100.50")})
	b := cacheKey(core.QuoteRequest{Chain: "ethereum", From: "0xab", To: "0xcd", Amount: decimal.RequireFromString("100.5")})
	assert.Equal(t, a, b)
	assert.Equal(t, "curve_core:quote:ethereum:0xab:0xcd:100.5", b)

	c := cacheKey(core.QuoteRequest{Chain: "ethereum", From: "0xcd", To: "0xab", Amount: decimal.RequireFromString("100.5")})
	assert.NotEqual(t, b, c)
}

func TestQuoteEncoding(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	want := core.Quote{
		RequestID:   "r1",
		Chain:       "ethereum",
		From:        "0xa0b8",
		To:          "0xdac1",
		AmountIn:    decimal.RequireFromString("1000.5"),
		AmountOut:   decimal.RequireFromString("999.123456789012345678"),
		PriceImpact: decimal.RequireFromString("-0.0012"),
		Route: []core.RouteStep{
			{Pool: "0xpool", PoolName: "3pool", InToken: "0xa0b8", OutToken: "0xdac1"},
		},
		FetchedAt: fetched,
	}

	data, err := encodeQuote(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pool_name":"3pool"`)

	got, err := decodeQuote(data)
	require.NoError(t, err)
	assert.Equal(t, want.RequestID, got.RequestID)
	assert.Equal(t, want.Route, got.Route)
	assert.True(t, got.FetchedAt.Equal(fetched))
	assert.True(t, got.AmountIn.Equal(want.AmountIn))
	assert.True(t, got.AmountOut.Equal(want.AmountOut), "got %s", got.AmountOut)
	assert.True(t, got.PriceImpact.Equal(want.PriceImpact))

	_, err = decodeQuote([]byte(`{"AmountOut":"not-a-number"}`))
	assert.ErrorContains(t, err, "decode cached quote")
}

// Runs against a real server when CURVE_CORE_TEST_REDIS is set, e.g. localhost:6379
func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("CURVE_CORE_TEST_REDIS")
	if addr == "" {
		t.Skip("CURVE_CORE_TEST_REDIS not set")
	}

	ctx := context.Background()
	cache, err := NewRedisCache(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	require.NoError(t, cache.Check())

	req := core.QuoteRequest{Chain: "ethereum", From: "0xtest_from", To: "0xtest_to", Amount: decimal.NewFromInt(7)}
	t.Cleanup(func() { _ = cache.rdb.Del(context.Background(), cacheKey(req)).Err() })

	_, ok, err := cache.Get(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	want := core.Quote{RequestID: "r1", Chain: "ethereum", AmountOut: decimal.RequireFromString("6.99")}
	require.NoError(t, cache.Set(ctx, req, want))

	got, ok, err := cache.Get(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", got.RequestID)
	assert.True(t, got.AmountOut.Equal(want.AmountOut))
}
