package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"curve_core/internal/core"
	apperrors "curve_core/pkg/errors"
	"curve_core/pkg/logging"
	"curve_core/pkg/retry"
	"curve_core/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu    sync.Mutex
	calls []core.QuoteRequest
	route func(n int, req core.QuoteRequest) (core.Quote, error)
}

func (f *fakeRouter) Route(_ context.Context, req core.QuoteRequest) (core.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.route(n, req)
}

func (f *fakeRouter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRouter) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.From)
	}
	return out
}

func okRoute(_ int, req core.QuoteRequest) (core.Quote, error) {
	return core.Quote{Chain: req.Chain, From: req.From, To: req.To, AmountIn: req.Amount, AmountOut: req.Amount}, nil
}

func newTestService(t *testing.T, router core.IQuoteRouter, capacity int) (*Service, *scheduler.Scheduler) {
	t.Helper()
	logger := logging.NewNopLogger()
	sched := scheduler.New(scheduler.Config{Name: "quote_test", Capacity: capacity}, logger)
	t.Cleanup(sched.Close)

	cfg := Config{Retry: retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}}
	return NewService(router, sched, cfg, logger), sched
}

func req(from string) core.QuoteRequest {
	return core.QuoteRequest{Chain: "ethereum", From: from, To: "0xcrvusd", Amount: decimal.NewFromInt(100)}
}

func TestService_Quote(t *testing.T) {
	router := &fakeRouter{route: okRoute}
	svc, _ := newTestService(t, router, 3)

	q, err := svc.Quote(context.Background(), req("0xusdc"), scheduler.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, "0xusdc", q.From)
	assert.True(t, q.AmountOut.Equal(decimal.NewFromInt(100)))
	_, parseErr := uuid.Parse(q.RequestID)
	assert.NoError(t, parseErr)
	assert.Equal(t, 1, router.callCount())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  core.QuoteRequest
	}{
		{"missing chain", core.QuoteRequest{From: "a", To: "b", Amount: decimal.NewFromInt(1)}},
		{"missing from", core.QuoteRequest{Chain: "ethereum", To: "b", Amount: decimal.NewFromInt(1)}},
		{"same token", core.QuoteRequest{Chain: "ethereum", From: "0xA", To: "0xa", Amount: decimal.NewFromInt(1)}},
		{"zero amount", core.QuoteRequest{Chain: "ethereum", From: "a", To: "b"}},
		{"negative amount", core.QuoteRequest{Chain: "ethereum", From: "a", To: "b", Amount: decimal.NewFromInt(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.req), apperrors.ErrInvalidRequest)
		})
	}
	assert.NoError(t, Validate(req("0xusdc")))
}

func TestService_InvalidRequestNeverQueued(t *testing.T) {
	router := &fakeRouter{route: okRoute}
	svc, sched := newTestService(t, router, 1)

	_, err := svc.Quote(context.Background(), core.QuoteRequest{Chain: "ethereum"}, scheduler.PriorityHigh)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	assert.Equal(t, 0, router.callCount())
	assert.Equal(t, uint64(0), sched.Stats().Dispatched)
}

func TestService_RetriesTransientErrors(t *testing.T) {
	router := &fakeRouter{route: func(n int, r core.QuoteRequest) (core.Quote, error) {
		if n < 3 {
			return core.Quote{}, apperrors.ErrUpstream
		}
		return okRoute(n, r)
	}}
	svc, sched := newTestService(t, router, 1)

	_, err := svc.Quote(context.Background(), req("0xusdc"), scheduler.PriorityDefault)
	require.NoError(t, err)
	assert.Equal(t, 3, router.callCount())
	// retries happen inside one slot
	assert.Equal(t, uint64(1), sched.Stats().Dispatched)
}

func TestService_DoesNotRetryNotFound(t *testing.T) {
	router := &fakeRouter{route: func(int, core.QuoteRequest) (core.Quote, error) {
		return core.Quote{}, apperrors.ErrNotFound
	}}
	svc, _ := newTestService(t, router, 1)

	_, err := svc.Quote(context.Background(), req("0xusdc"), scheduler.PriorityDefault)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, router.callCount())
}

func TestService_RouteUnavailableSurvives(t *testing.T) {
	sentinel := errors.Join(apperrors.ErrRouteUnavailable, errors.New("no pools"))
	router := &fakeRouter{route: func(int, core.QuoteRequest) (core.Quote, error) {
		return core.Quote{}, sentinel
	}}
	svc, sched := newTestService(t, router, 1)

	_, err := svc.Quote(context.Background(), req("0xusdc"), scheduler.PriorityHigh)
	assert.Same(t, sentinel, err)
	assert.ErrorIs(t, err, apperrors.ErrRouteUnavailable)
	assert.Equal(t, 3, router.callCount())
	assert.Equal(t, uint64(1), sched.Stats().Failed)
}

func TestService_HighPriorityOvertakesPrefetch(t *testing.T) {
	release := make(chan struct{})
	router := &fakeRouter{route: func(n int, r core.QuoteRequest) (core.Quote, error) {
		if n == 1 {
			<-release
		}
		return okRoute(n, r)
	}}
	svc, sched := newTestService(t, router, 1)
	ctx := context.Background()

	first := svc.Submit(ctx, req("first"), scheduler.PriorityDefault)
	require.Eventually(t, func() bool { return sched.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	low := svc.Submit(ctx, req("prefetch"), scheduler.PriorityLow)
	high := svc.Submit(ctx, req("user"), scheduler.PriorityHigh)
	assert.Equal(t, 2, sched.Stats().Pending)

	close(release)
	for _, f := range []*scheduler.Future[core.Quote]{first, low, high} {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "user", "prefetch"}, router.order())
}

func TestService_Prefetch(t *testing.T) {
	router := &fakeRouter{route: func(n int, r core.QuoteRequest) (core.Quote, error) {
		if r.From == "bad" {
			return core.Quote{}, apperrors.ErrNotFound
		}
		return okRoute(n, r)
	}}
	svc, _ := newTestService(t, router, 2)

	reqs := []core.QuoteRequest{req("a"), req("bad"), req("c"), {Chain: "ethereum"}}
	results := svc.Prefetch(context.Background(), reqs)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "a", results[0].Quote.From)
	assert.ErrorIs(t, results[1].Err, apperrors.ErrNotFound)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "c", results[2].Quote.From)
	assert.ErrorIs(t, results[3].Err, apperrors.ErrInvalidRequest)
	assert.Equal(t, 3, router.callCount())
}

func TestService_RateLimited(t *testing.T) {
	router := &fakeRouter{route: okRoute}
	logger := logging.NewNopLogger()
	sched := scheduler.New(scheduler.Config{Capacity: 1}, logger)
	t.Cleanup(sched.Close)

	svc := NewService(router, sched, Config{RateLimit: 1, RateBurst: 1}, logger)

	_, err := svc.Quote(context.Background(), req("a"), scheduler.PriorityHigh)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Submit(ctx, req("b"), scheduler.PriorityHigh).Result()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, 1, router.callCount())
}

func TestLimiterError(t *testing.T) {
	waitErr := errors.New("rate: Wait(n=1) would exceed context deadline")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiterError(canceled, waitErr), context.Canceled)

	withDeadline, cancelDeadline := context.WithTimeout(context.Background(), time.Hour)
	defer cancelDeadline()
	err := limiterError(withDeadline, waitErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, apperrors.ErrRateLimited)

	assert.ErrorIs(t, limiterError(context.Background(), waitErr), apperrors.ErrRateLimited)
}

// memoryCache stores the same JSON encoding RedisCache writes
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
	sets  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, req core.QuoteRequest) (core.Quote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[cacheKey(req)]
	if !ok {
		return core.Quote{}, false, nil
	}
	q, err := decodeQuote(data)
	return q, err == nil, err
}

func (m *memoryCache) Set(_ context.Context, req core.QuoteRequest, q core.Quote) error {
	data, err := encodeQuote(q)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[cacheKey(req)] = data
	m.sets++
	return nil
}

func TestService_CacheHitSkipsScheduler(t *testing.T) {
	router := &fakeRouter{route: okRoute}
	logger := logging.NewNopLogger()
	sched := scheduler.New(scheduler.Config{Capacity: 1}, logger)
	t.Cleanup(sched.Close)

	cache := newMemoryCache()
	svc := NewService(router, sched, Config{Cache: cache}, logger)
	ctx := context.Background()

	first, err := svc.Quote(ctx, req("0xusdc"), scheduler.PriorityHigh)
	require.NoError(t, err)
	second, err := svc.Quote(ctx, req("0xusdc"), scheduler.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, 1, router.callCount())
	assert.Equal(t, uint64(1), sched.Stats().Dispatched)
}

func TestService_PrefetchWarmsCache(t *testing.T) {
	router := &fakeRouter{route: okRoute}
	logger := logging.NewNopLogger()
	sched := scheduler.New(scheduler.Config{Capacity: 2}, logger)
	t.Cleanup(sched.Close)

	cache := newMemoryCache()
	svc := NewService(router, sched, Config{Cache: cache}, logger)
	ctx := context.Background()

	results := svc.Prefetch(ctx, []core.QuoteRequest{req("a"), req("b")})
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, 2, cache.sets)

	q, err := svc.Quote(ctx, req("b"), scheduler.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, results[1].Quote.RequestID, q.RequestID)
	assert.Equal(t, 2, router.callCount())
}
