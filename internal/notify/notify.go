// Package notify delivers inactivity alerts.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
)

// Notifier delivers one alert message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Log writes alerts to the logger. It is the default channel.
type Log struct {
	logger slog.Logger
}

func NewLog(logger slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, message string) error {
	l.logger.Warn(ctx, "ALERT", slog.F("message", message))
	return nil
}

// Multi sends every alert to all of its notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) error {
	var merr error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

// Async hands alerts to a background goroutine bounded by timeout, so callers
// never block on delivery. Failures are logged and not retried.
type Async struct {
	logger  slog.Logger
	next    Notifier
	timeout time.Duration

	wg sync.WaitGroup
}

func NewAsync(logger slog.Logger, next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{logger: logger, next: next, timeout: timeout}
}

// Notify always returns nil; the delivery result only reaches the log.
func (a *Async) Notify(ctx context.Context, message string) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, message); err != nil {
			a.logger.Error(ctx, "alert delivery failed",
				slog.F("message", message),
				slog.Error(xerrors.Errorf("notify: %w", err)),
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
