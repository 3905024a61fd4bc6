// Package app runs long-lived services as one process: the first service to
// return stops all the others.
package app

import (
	"context"
	"os"
	"syscall"

	"github.com/oklog/run"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
)

type App struct {
	logger   slog.Logger
	services []named
	runner   *run.Group
	signals  bool
}

type named struct {
	name    string
	service Service
}

func NewApp(logger slog.Logger) *App {
	return &App{
		logger: logger,
		runner: &run.Group{},
	}
}

// WithService adds a service. Its context is cancelled when any service returns.
func (a *App) WithService(name string, s Service) *App {
	a.services = append(a.services, named{name: name, service: s})
	return a
}

// WithSignals makes SIGINT and SIGTERM stop the app cleanly.
func (a *App) WithSignals() *App {
	a.signals = true
	return a
}

// Run blocks until every service has returned. A stop caused by a signal is not an error.
func (a *App) Run(ctx context.Context) error {
	if a.signals {
		a.runner.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}
	for _, s := range a.services {
		a.runner.Add(a.actor(ctx, s))
	}

	err := a.runner.Run()
	var sig run.SignalError
	if xerrors.As(err, &sig) {
		a.logger.Info(ctx, "received signal, stopped", slog.F("signal", sig.Signal.String()))
		return nil
	}
	return err
}

func (a *App) actor(ctx context.Context, s named) (func() error, func(err error)) {
	ctx, cancel := context.WithCancelCause(ctx)

	return func() error {
			err := s.service.Run(ctx)
			if err != nil && context.Cause(ctx) == nil {
				a.logger.Error(ctx, "service failed", slog.F("service", s.name), slog.Error(err))
				return xerrors.Errorf("%s: %w", s.name, err)
			}
			a.logger.Debug(ctx, "service stopped", slog.F("service", s.name))
			return err
		}, func(err error) {
			cancel(err)
		}
}
