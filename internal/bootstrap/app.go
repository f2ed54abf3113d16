// Package bootstrap runs long-lived components under one lifecycle
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"curve_core/internal/core"

	"golang.org/x/sync/errgroup"
)

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// App owns the process lifecycle. Closers run in reverse order after all
// runners have returned.
type App struct {
	logger  core.ILogger
	closers []func() error
}

// NewApp creates an application shell
func NewApp(logger core.ILogger) *App {
	return &App{logger: logger.WithField("component", "app")}
}

// OnShutdown registers cleanup to run once every runner has stopped
func (a *App) OnShutdown(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run starts the runners and blocks until SIGINT/SIGTERM or the first failure
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller-supplied context instead of signal handling
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.logger.Info("Starting application", "runners", len(runners))
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i](); cerr != nil {
			a.logger.Error("Shutdown hook failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}

	if err != nil {
		a.logger.Error("Application stopped with error", "error", err)
		return err
	}
	a.logger.Info("Application shut down gracefully")
	return nil
}
