// Package loan turns raw loan state into display values
package loan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"curve_core/internal/alert"
	"curve_core/internal/core"
	"curve_core/pkg/liquidation"
	"curve_core/pkg/scheduler"
	"curve_core/pkg/telemetry"
	"curve_core/pkg/validate"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Request identifies one user position in one controller
type Request struct {
	Chain      string
	Controller string
	User       string
}

// Validate checks that every identifier is present
func (r Request) Validate() error {
	if err := validate.Identifier("chain", r.Chain); err != nil {
		return err
	}
	if err := validate.Identifier("controller", r.Controller); err != nil {
		return err
	}
	return validate.Identifier("user", r.User)
}

func (r Request) key() string {
	return strings.ToLower(r.Controller + "/" + r.User)
}

// Display is a loan rendered for the UI
type Display struct {
	Chain           string                   `json:"chain"`
	Controller      string                   `json:"controller"`
	User            string                   `json:"user"`
	RangeLoaded     bool                     `json:"range_loaded"`
	Range           liquidation.Range        `json:"range"`
	Health          string                   `json:"health"`
	Status          liquidation.HealthStatus `json:"-"`
	StatusName      string                   `json:"status"`
	Loss            liquidation.LossDisplay  `json:"-"`
	LossText        string                   `json:"loss"`
	SoftLiquidation bool                     `json:"soft_liquidation"`
	Debt            decimal.NullDecimal      `json:"debt"`
	Collateral      decimal.NullDecimal      `json:"collateral"`
}

// Alerter receives liquidation status transitions
type Alerter interface {
	Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string)
}

// Service fetches loan snapshots through the shared scheduler
type Service struct {
	source    core.ILoanSource
	sched     *scheduler.Scheduler
	formatter liquidation.Formatter
	alerter   Alerter
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder

	mu       sync.Mutex
	soft     map[string]map[string]struct{} // chain -> positions in soft liquidation
	statuses map[string]liquidation.HealthStatus
}

// NewService creates a loan display service
func NewService(source core.ILoanSource, sched *scheduler.Scheduler, formatter liquidation.Formatter, logger core.ILogger) *Service {
	return &Service{
		source:    source,
		sched:     sched,
		formatter: formatter,
		logger:    logger.WithField("component", "loan_service"),
		metrics:   telemetry.GetGlobalMetrics(),
		soft:      make(map[string]map[string]struct{}),
		statuses:  make(map[string]liquidation.HealthStatus),
	}
}

// SetAlerter enables alerts when a position enters or leaves liquidation
func (s *Service) SetAlerter(a Alerter) {
	s.alerter = a
}

// Display loads the user's loan at default priority and renders it
func (s *Service) Display(ctx context.Context, req Request) (Display, error) {
	if err := req.Validate(); err != nil {
		return Display{}, err
	}

	snap, err := scheduler.Submit(s.sched, scheduler.PriorityDefault, func() (core.LoanSnapshot, error) {
		return s.source.UserLoan(ctx, req.Chain, req.Controller, req.User)
	}).Await(ctx)
	if err != nil {
		return Display{}, err
	}

	d := s.Render(snap)
	d.Chain, d.Controller, d.User = req.Chain, req.Controller, req.User

	s.metrics.RecordLoanHealth(ctx, req.Chain, d.StatusName)
	s.trackSoftLiquidation(req, d.SoftLiquidation)
	if prev := s.trackStatus(req, d.Status); prev != d.Status {
		s.notify(ctx, prev, d)
	}
	return d, nil
}

// Render derives display values from a snapshot without any I/O
func (s *Service) Render(snap core.LoanSnapshot) Display {
	r, ok := s.formatter.LiquidationRange(snap.Prices, snap.Bands)
	soft := liquidation.IsSoftLiquidation(snap.ActiveBand, snap.Bands)
	status := s.formatter.Status(snap.Health, soft)
	loss := s.formatter.Loss(snap.Loss, snap.LossPct)

	return Display{
		Chain:           snap.Chain,
		Controller:      snap.Controller,
		User:            snap.User,
		RangeLoaded:     ok,
		Range:           r,
		Health:          s.formatter.Health(snap.Health),
		Status:          status,
		StatusName:      status.String(),
		Loss:            loss,
		LossText:        loss.String(),
		SoftLiquidation: soft,
		Debt:            snap.Debt,
		Collateral:      snap.Collateral,
	}
}

func (s *Service) trackSoftLiquidation(req Request, soft bool) {
	s.mu.Lock()
	positions, ok := s.soft[req.Chain]
	if !ok {
		positions = make(map[string]struct{})
		s.soft[req.Chain] = positions
	}
	if soft {
		positions[req.key()] = struct{}{}
	} else {
		delete(positions, req.key())
	}
	n := int64(len(positions))
	s.mu.Unlock()

	s.metrics.SetSoftLiquidationCount(req.Chain, n)
}

// trackStatus stores the latest status and returns the previous one
func (s *Service) trackStatus(req Request, status liquidation.HealthStatus) liquidation.HealthStatus {
	key := req.Chain + "/" + req.key()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.statuses[key]
	if !ok {
		prev = liquidation.HealthUnknown
	}
	s.statuses[key] = status
	return prev
}

func inLiquidation(st liquidation.HealthStatus) bool {
	return st == liquidation.HealthSoftLiquidation || st == liquidation.HealthHardLiquidation
}

func (s *Service) notify(ctx context.Context, prev liquidation.HealthStatus, d Display) {
	var (
		title string
		level alert.AlertLevel
	)
	switch {
	case d.Status == liquidation.HealthHardLiquidation:
		title, level = "Loan can be liquidated", alert.Critical
		s.logger.Warn("Loan past liquidation threshold", "chain", d.Chain, "controller", d.Controller, "user", d.User, "health", d.Health)
	case d.Status == liquidation.HealthSoftLiquidation:
		title, level = "Loan in soft liquidation", alert.Warning
	case inLiquidation(prev) && d.Status != liquidation.HealthUnknown:
		title, level = "Loan left liquidation", alert.Info
	default:
		return
	}
	if s.alerter == nil {
		return
	}

	fields := map[string]string{
		"chain":      d.Chain,
		"controller": d.Controller,
		"user":       d.User,
		"health":     d.Health,
		"loss":       d.LossText,
	}
	if d.RangeLoaded {
		fields["range"] = d.Range.Low + " - " + d.Range.High
	}
	if d.Debt.Valid {
		fields["debt"] = humanAmount(d.Debt.Decimal)
	}
	if d.Collateral.Valid {
		fields["collateral"] = humanAmount(d.Collateral.Decimal)
	}
	msg := fmt.Sprintf("status changed from %s to %s", prev, d.Status)
	s.alerter.Alert(ctx, title, msg, level, fields)
}

// humanAmount renders large amounts with thousands separators for alert text
func humanAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return humanize.CommafWithDigits(f, 2)
}
