package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSchedulerPending       = "curve_core_scheduler_pending"
	MetricSchedulerInFlight      = "curve_core_scheduler_in_flight"
	MetricSchedulerDispatched    = "curve_core_scheduler_dispatched_total"
	MetricSchedulerFailed        = "curve_core_scheduler_failed_total"
	MetricSchedulerQueueWait     = "curve_core_scheduler_queue_wait_ms"
	MetricQuoteLatency           = "curve_core_quote_latency_ms"
	MetricLoanHealthChecks       = "curve_core_loan_health_checks_total"
	MetricLoanSoftLiquidationSet = "curve_core_loan_soft_liquidation"
)

// SchedulerGauge is the observable state of one scheduler
type SchedulerGauge struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
}

// MetricsHolder holds initialized instruments.
// Record helpers are no-ops until InitMetrics has run.
type MetricsHolder struct {
	SchedulerPending    metric.Int64ObservableGauge
	SchedulerInFlight   metric.Int64ObservableGauge
	SchedulerDispatched metric.Int64Counter
	SchedulerFailed     metric.Int64Counter
	SchedulerQueueWait  metric.Float64Histogram
	QuoteLatency        metric.Float64Histogram
	LoanHealthChecks    metric.Int64Counter
	LoanSoftLiquidation metric.Int64ObservableGauge

	mu              sync.RWMutex
	schedulerMap    map[string]SchedulerGauge
	softLiquidation map[string]int64 // chain -> users seen in soft liquidation
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		schedulerMap:    make(map[string]SchedulerGauge),
		softLiquidation: make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SchedulerDispatched, err = meter.Int64Counter(MetricSchedulerDispatched, metric.WithDescription("Tasks handed to an execution slot"))
	if err != nil {
		return err
	}

	m.SchedulerFailed, err = meter.Int64Counter(MetricSchedulerFailed, metric.WithDescription("Tasks whose operation returned an error"))
	if err != nil {
		return err
	}

	m.SchedulerQueueWait, err = meter.Float64Histogram(MetricSchedulerQueueWait, metric.WithDescription("Time a task spent pending before dispatch"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.QuoteLatency, err = meter.Float64Histogram(MetricQuoteLatency, metric.WithDescription("End-to-end swap quote latency including queueing"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LoanHealthChecks, err = meter.Int64Counter(MetricLoanHealthChecks, metric.WithDescription("Loan displays computed, by health status"))
	if err != nil {
		return err
	}

	// Observables
	m.SchedulerPending, err = meter.Int64ObservableGauge(MetricSchedulerPending, metric.WithDescription("Tasks waiting for a slot"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, g := range m.schedulerMap {
				obs.Observe(g.Pending, metric.WithAttributes(attribute.String("scheduler", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.SchedulerInFlight, err = meter.Int64ObservableGauge(MetricSchedulerInFlight, metric.WithDescription("Tasks currently executing"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, g := range m.schedulerMap {
				obs.Observe(g.InFlight, metric.WithAttributes(attribute.String("scheduler", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LoanSoftLiquidation, err = meter.Int64ObservableGauge(MetricLoanSoftLiquidationSet, metric.WithDescription("Loans last seen in soft liquidation"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for chain, n := range m.softLiquidation {
				obs.Observe(n, metric.WithAttributes(attribute.String("chain", chain)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetSchedulerState(name string, pending, inFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulerMap[name] = SchedulerGauge{Pending: int64(pending), InFlight: int64(inFlight)}
}

func (m *MetricsHolder) SetSoftLiquidationCount(chain string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.softLiquidation[chain] = n
}

func (m *MetricsHolder) GetSchedulerState() map[string]SchedulerGauge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]SchedulerGauge, len(m.schedulerMap))
	for k, v := range m.schedulerMap {
		res[k] = v
	}
	return res
}

// Helpers for synchronous instruments

func (m *MetricsHolder) RecordDispatch(ctx context.Context, scheduler, priority string, waitMs float64) {
	attrs := metric.WithAttributes(attribute.String("scheduler", scheduler), attribute.String("priority", priority))
	if m.SchedulerDispatched != nil {
		m.SchedulerDispatched.Add(ctx, 1, attrs)
	}
	if m.SchedulerQueueWait != nil {
		m.SchedulerQueueWait.Record(ctx, waitMs, attrs)
	}
}

func (m *MetricsHolder) RecordFailure(ctx context.Context, scheduler, priority string) {
	if m.SchedulerFailed != nil {
		m.SchedulerFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("scheduler", scheduler), attribute.String("priority", priority)))
	}
}

func (m *MetricsHolder) RecordQuoteLatency(ctx context.Context, chain, priority string, ms float64) {
	if m.QuoteLatency != nil {
		m.QuoteLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("chain", chain), attribute.String("priority", priority)))
	}
}

func (m *MetricsHolder) RecordLoanHealth(ctx context.Context, chain, status string) {
	if m.LoanHealthChecks != nil {
		m.LoanHealthChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("chain", chain), attribute.String("status", status)))
	}
}
