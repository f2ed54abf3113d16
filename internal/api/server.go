// Package api exposes quotes, loan displays and health over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"curve_core/internal/core"
	"curve_core/internal/infrastructure/health"
	"curve_core/internal/loan"
	apperrors "curve_core/pkg/errors"
	"curve_core/pkg/scheduler"
	"curve_core/pkg/telemetry"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// QuoteService prices swaps
type QuoteService interface {
	Quote(ctx context.Context, req core.QuoteRequest, priority scheduler.Priority) (core.Quote, error)
}

// LoanService renders user loans
type LoanService interface {
	Display(ctx context.Context, req loan.Request) (loan.Display, error)
}

// Options configures the HTTP server
type Options struct {
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the public HTTP API
type Server struct {
	opts      Options
	quotes    QuoteService
	loans     LoanService
	health    *health.HealthManager
	scheduler *scheduler.Scheduler
	logger    core.ILogger
	router    *mux.Router
}

// NewServer wires handlers. sched may be nil when no scheduler stats should be reported.
func NewServer(opts Options, quotes QuoteService, loans LoanService, hm *health.HealthManager, sched *scheduler.Scheduler, logger core.ILogger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:      opts,
		quotes:    quotes,
		loans:     loans,
		health:    hm,
		scheduler: sched,
		logger:    logger.WithField("component", "api_server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recovery, s.logging)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)
	v1.HandleFunc("/loan", s.handleLoan).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

// Handler returns the routed handler wrapped in OTel server spans
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "curve_core.api")
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadTimeout,
		ReadTimeout:       s.opts.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("API server failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type quoteResponse struct {
	RequestID   string           `json:"request_id"`
	Chain       string           `json:"chain"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	AmountIn    decimal.Decimal  `json:"amount_in"`
	AmountOut   decimal.Decimal  `json:"amount_out"`
	PriceImpact decimal.Decimal  `json:"price_impact"`
	Route       []core.RouteStep `json:"route"`
	FetchedAt   time.Time        `json:"fetched_at"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount %q is not a number", apperrors.ErrInvalidRequest, q.Get("amount")))
		return
	}

	// interactive callers default to high priority
	priority := scheduler.PriorityHigh
	if p := q.Get("priority"); p != "" {
		if priority, err = scheduler.ParsePriority(p); err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err))
			return
		}
	}

	quote, err := s.quotes.Quote(r.Context(), core.QuoteRequest{
		Chain:  q.Get("chain"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Amount: amount,
	}, priority)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		RequestID:   quote.RequestID,
		Chain:       quote.Chain,
		From:        quote.From,
		To:          quote.To,
		AmountIn:    quote.AmountIn,
		AmountOut:   quote.AmountOut,
		PriceImpact: quote.PriceImpact,
		Route:       quote.Route,
		FetchedAt:   quote.FetchedAt,
	})
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := s.loans.Display(r.Context(), loan.Request{
		Chain:      q.Get("chain"),
		Controller: q.Get("controller"),
		User:       q.Get("user"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	code := http.StatusOK

	if s.health != nil {
		report := s.health.Check()
		resp["components"] = report.Components
		if !report.Healthy {
			resp["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"gauges": telemetry.GetGlobalMetrics().GetSchedulerState(),
	}
	if s.scheduler != nil {
		st := s.scheduler.Stats()
		resp["scheduler"] = s.scheduler.Name()
		resp["pending"] = st.Pending
		resp["in_flight"] = st.InFlight
		resp["capacity"] = st.Capacity
		resp["dispatched"] = st.Dispatched
		resp["failed"] = st.Failed
		resp["closed"] = st.Closed
		resp["pool"] = s.scheduler.PoolStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrRouteUnavailable), errors.Is(err, apperrors.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
