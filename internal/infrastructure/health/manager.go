package health

import (
	"fmt"
	"sort"
	"sync"

	"curve_core/internal/core"
	"curve_core/pkg/scheduler"
)

// Report is the aggregated result of all registered checks
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]func() error)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Components returns the registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check once
func (hm *HealthManager) Check() Report {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	report := Report{Healthy: true, Components: make(map[string]string, len(hm.checks))}
	for component, check := range hm.checks {
		if err := check(); err != nil {
			report.Healthy = false
			report.Components[component] = "Unhealthy: " + err.Error()
			if hm.logger != nil {
				hm.logger.Warn("Health check failed", "check", component, "error", err)
			}
			continue
		}
		report.Components[component] = "Healthy"
	}
	return report
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	return hm.Check().Healthy
}

// SchedulerCheck fails once the scheduler is closed or its backlog grows
// past maxPending. A non-positive maxPending disables the backlog limit.
func SchedulerCheck(s *scheduler.Scheduler, maxPending int) func() error {
	return func() error {
		st := s.Stats()
		if st.Closed {
			return fmt.Errorf("scheduler %s closed", s.Name())
		}
		if maxPending > 0 && st.Pending > maxPending {
			return fmt.Errorf("scheduler %s backlog %d exceeds %d", s.Name(), st.Pending, maxPending)
		}
		return nil
	}
}
