// Package alert fans loan risk notifications out to external channels
package alert

import (
	"context"
	"sync"
	"time"

	"curve_core/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager delivers every alert to all channels asynchronously
type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	timeout  time.Duration
	mu       sync.RWMutex
	inflight sync.WaitGroup
	now      func() time.Time
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		logger:  logger.WithField("component", "alert_manager"),
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert returns immediately; delivery continues even if ctx is cancelled
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: am.now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", string(level))

	ctx = context.WithoutCancel(ctx)

	am.mu.RLock()
	defer am.mu.RUnlock()
	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, am.timeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Close waits for in-flight deliveries
func (am *AlertManager) Close() error {
	am.inflight.Wait()
	return nil
}
