// Package quote fetches swap quotes through the request scheduler
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"curve_core/internal/core"
	apperrors "curve_core/pkg/errors"
	"curve_core/pkg/retry"
	"curve_core/pkg/scheduler"
	"curve_core/pkg/telemetry"
	"curve_core/pkg/validate"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config holds caller-side policies. The scheduler itself never retries.
type Config struct {
	Retry        retry.Policy
	RateLimit    rate.Limit // 0 disables limiting
	RateBurst    int
	QuoteTimeout time.Duration // per attempt, 0 means no timeout
	Cache        Cache         // optional
}

// Service prices swaps. User-facing requests should use PriorityHigh,
// speculative prefetches PriorityLow.
type Service struct {
	router  core.IQuoteRouter
	sched   *scheduler.Scheduler
	limiter *rate.Limiter
	cfg     Config
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
}

// NewService creates a quote service on top of a shared scheduler
func NewService(router core.IQuoteRouter, sched *scheduler.Scheduler, cfg Config, logger core.ILogger) *Service {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &Service{
		router:  router,
		sched:   sched,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.WithField("component", "quote_service"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// Validate checks a quote request before it is queued
func Validate(req core.QuoteRequest) error {
	for _, f := range []struct{ name, value string }{
		{"chain", req.Chain},
		{"from", req.From},
		{"to", req.To},
	} {
		if err := validate.Identifier(f.name, f.value); err != nil {
			return err
		}
	}

	switch {
	case strings.EqualFold(req.From, req.To):
		return fmt.Errorf("%w: from and to tokens must differ", apperrors.ErrInvalidRequest)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidRequest)
	}
	return nil
}

// Submit validates req and queues it, returning the scheduler future
func (s *Service) Submit(ctx context.Context, req core.QuoteRequest, priority scheduler.Priority) *scheduler.Future[core.Quote] {
	requestID := uuid.NewString()
	start := time.Now()

	if err := Validate(req); err != nil {
		return scheduler.Failed[core.Quote](err)
	}

	return scheduler.Submit(s.sched, priority, func() (core.Quote, error) {
		q, err := s.fetch(ctx, req)
		s.metrics.RecordQuoteLatency(ctx, req.Chain, priority.String(), float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			s.logger.Debug("Quote failed", "request_id", requestID, "chain", req.Chain, "priority", priority.String(), "error", err)
			return core.Quote{}, err
		}
		q.RequestID = requestID

		if s.cfg.Cache != nil {
			if err := s.cfg.Cache.Set(ctx, req, q); err != nil {
				s.logger.Warn("Failed to cache quote", "request_id", requestID, "error", err)
			}
		}
		return q, nil
	})
}

// Quote returns a cached quote when one exists, otherwise fetches and waits
func (s *Service) Quote(ctx context.Context, req core.QuoteRequest, priority scheduler.Priority) (core.Quote, error) {
	if s.cfg.Cache != nil && Validate(req) == nil {
		q, ok, err := s.cfg.Cache.Get(ctx, req)
		if err != nil {
			s.logger.Warn("Quote cache read failed", "chain", req.Chain, "error", err)
		} else if ok {
			return q, nil
		}
	}
	return s.Submit(ctx, req, priority).Await(ctx)
}

// Prefetch warms quotes at low priority. Results keep the order of reqs;
// a failed entry holds its error instead of aborting the batch.
func (s *Service) Prefetch(ctx context.Context, reqs []core.QuoteRequest) []Result {
	results := make([]Result, len(reqs))
	futures := make([]*scheduler.Future[core.Quote], len(reqs))
	for i, req := range reqs {
		futures[i] = s.Submit(ctx, req, scheduler.PriorityLow)
	}

	var g errgroup.Group
	for i := range futures {
		i := i
		g.Go(func() error {
			q, err := futures[i].Await(ctx)
			results[i] = Result{Request: reqs[i], Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Result pairs a prefetched request with its outcome
type Result struct {
	Request core.QuoteRequest
	Quote   core.Quote
	Err     error
}

// fetch is the operation run inside a scheduler slot
func (s *Service) fetch(ctx context.Context, req core.QuoteRequest) (core.Quote, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return core.Quote{}, limiterError(ctx, err)
		}
	}

	var q core.Quote
	err := retry.Do(ctx, s.cfg.Retry, isTransient, func() error {
		attemptCtx, cancel := s.attemptContext(ctx)
		defer cancel()

		var err error
		q, err = s.router.Route(attemptCtx, req)
		return err
	})
	return q, err
}

// limiterError keeps caller cancellation and deadlines distinguishable from
// a local rate limit. The limiter fails early when the next token falls after
// the deadline, before ctx itself is done.
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
}

func (s *Service) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QuoteTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	}
	return context.WithCancel(ctx)
}

// isTransient retries upstream hiccups but never bad input or missing tokens
func isTransient(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, apperrors.ErrRouteUnavailable),
		errors.Is(err, apperrors.ErrRateLimited),
		errors.Is(err, apperrors.ErrUpstream),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
