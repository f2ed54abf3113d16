// Package scheduler throttles outbound requests: tasks are queued by priority
// and at most Capacity of them are in flight at any time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curve_core/internal/core"
	"curve_core/pkg/concurrency"
	apperrors "curve_core/pkg/errors"
	"curve_core/pkg/telemetry"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// DefaultCapacity is the number of concurrent requests allowed when none is configured
const DefaultCapacity = 3

// Config holds construction-time settings. Capacity cannot change afterwards.
type Config struct {
	Name     string
	Capacity int
}

// Stats is a snapshot of scheduler state
type Stats struct {
	Pending    int
	InFlight   int
	Capacity   int
	Dispatched uint64
	Failed     uint64
	Closed     bool
}

// task is one queued operation. op runs at most once; settle delivers its outcome.
type task struct {
	seq        uint64
	priority   Priority
	op         func() (any, error)
	settle     func(any, error)
	enqueuedAt time.Time
}

// Scheduler is a priority queue in front of a fixed number of execution slots.
// Pending tasks are ordered by (priority rank, arrival); there is no aging, so a
// steady stream of high priority work can starve low priority work.
type Scheduler struct {
	mu         sync.Mutex
	name       string
	capacity   int
	inFlight   int
	seq        uint64
	pending    *redblacktree.Tree // taskKey -> *task
	closed     bool
	dispatched uint64
	failed     uint64

	drained   chan struct{}
	drainOnce sync.Once
	closeOnce sync.Once

	pool    *concurrency.WorkerPool
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
}

// New creates a scheduler. A non-positive capacity falls back to DefaultCapacity.
func New(cfg Config, logger core.ILogger) *Scheduler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	logger = logger.WithField("component", "scheduler").WithField("scheduler", cfg.Name)

	// Finished workers may still hold their goroutine while the next batch is
	// handed over, so the buffer covers a full second round of slots.
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        cfg.Name,
		MaxWorkers:  cfg.Capacity,
		MaxCapacity: cfg.Capacity * 2,
	}, logger)

	s := &Scheduler{
		name:     cfg.Name,
		capacity: cfg.Capacity,
		pending:  redblacktree.NewWith(compareKeys),
		drained:  make(chan struct{}),
		pool:     pool,
		logger:   logger,
		metrics:  telemetry.GetGlobalMetrics(),
	}
	s.publishLocked()
	return s
}

// Submit queues op at the given priority and returns its future. op is not
// called until a slot is free; when one is free at submission, op takes it
// before Submit returns, so priority only orders requests that have to wait.
// Errors from op are delivered unchanged; the scheduler never retries, times
// out or cancels an operation.
func Submit[T any](s *Scheduler, priority Priority, op func() (T, error)) *Future[T] {
	if op == nil {
		return Failed[T](fmt.Errorf("%w: nil operation", apperrors.ErrInvalidRequest))
	}

	f := newFuture[T]()

	s.enqueue(priority,
		func() (any, error) { return op() },
		func(v any, err error) {
			tv, _ := v.(T)
			f.resolve(tv, err)
		},
	)
	return f
}

func (s *Scheduler) enqueue(priority Priority, op func() (any, error), settle func(any, error)) {
	priority = priority.normalize()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		settle(nil, apperrors.ErrSchedulerClosed)
		return
	}
	s.seq++
	t := &task{
		seq:        s.seq,
		priority:   priority,
		op:         op,
		settle:     settle,
		enqueuedAt: time.Now(),
	}
	s.pending.Put(taskKey{rank: priority.rank(), seq: t.seq}, t)
	s.publishLocked()
	s.mu.Unlock()

	s.dispatch()
}

// dispatch moves tasks from pending to free slots, best priority first
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	var ready []*task
	for s.inFlight < s.capacity {
		node := s.pending.Left()
		if node == nil {
			break
		}
		s.pending.Remove(node.Key)
		s.inFlight++
		s.dispatched++
		ready = append(ready, node.Value.(*task))
	}
	if len(ready) > 0 {
		s.publishLocked()
	}
	s.mu.Unlock()

	for _, t := range ready {
		t := t
		if err := s.pool.Submit(func() { s.execute(t) }); err != nil {
			s.logger.Error("Failed to start task", "seq", t.seq, "error", err)
			s.complete(t, err)
			t.settle(nil, err)
		}
	}
}

func (s *Scheduler) execute(t *task) {
	wait := time.Since(t.enqueuedAt)
	s.metrics.RecordDispatch(context.Background(), s.name, t.priority.String(), float64(wait.Microseconds())/1000)
	s.logger.Debug("Task dispatched", "seq", t.seq, "priority", t.priority.String(), "queued_ms", wait.Milliseconds())

	v, err := callOperation(t.op)

	s.complete(t, err)
	t.settle(v, err)
	s.dispatch()
}

// complete releases the slot held by t. It runs exactly once per dispatched task.
func (s *Scheduler) complete(t *task, err error) {
	s.mu.Lock()
	s.inFlight--
	if err != nil {
		s.failed++
	}
	idle := s.closed && s.inFlight == 0 && s.pending.Empty()
	s.publishLocked()
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordFailure(context.Background(), s.name, t.priority.String())
	}
	s.logger.Debug("Task finished", "seq", t.seq, "priority", t.priority.String(), "failed", err != nil)

	if idle {
		s.drainOnce.Do(func() { close(s.drained) })
	}
}

// callOperation converts a panic in op into an error so the slot is always released
func callOperation(op func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("%w: %v", apperrors.ErrOperationPanicked, r)
		}
	}()
	return op()
}

// Stats returns a snapshot of the scheduler state
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:    s.pending.Size(),
		InFlight:   s.inFlight,
		Capacity:   s.capacity,
		Dispatched: s.dispatched,
		Failed:     s.failed,
		Closed:     s.closed,
	}
}

// PoolStats returns the counters of the underlying worker pool
func (s *Scheduler) PoolStats() concurrency.PoolStats {
	return s.pool.Stats()
}

// Name returns the configured scheduler name
func (s *Scheduler) Name() string {
	return s.name
}

// Close rejects further submissions, waits for pending and in-flight tasks
// to finish, then stops the execution pool.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		idle := s.inFlight == 0 && s.pending.Empty()
		s.publishLocked()
		s.mu.Unlock()

		if idle {
			s.drainOnce.Do(func() { close(s.drained) })
		}
		<-s.drained
		s.pool.Stop()

		stats := s.Stats()
		s.logger.Info("Scheduler closed", "dispatched", stats.Dispatched, "failed", stats.Failed)
	})
}

func (s *Scheduler) publishLocked() {
	s.metrics.SetSchedulerState(s.name, s.pending.Size(), s.inFlight)
}

// taskKey orders the pending tree by priority rank, then arrival
type taskKey struct {
	rank int
	seq  uint64
}

func compareKeys(a, b interface{}) int {
	ka, kb := a.(taskKey), b.(taskKey)
	switch {
	case ka.rank < kb.rank:
		return -1
	case ka.rank > kb.rank:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
