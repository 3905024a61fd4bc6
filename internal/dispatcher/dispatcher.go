// Package dispatcher applies ingress events to the live state with a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

type Options struct {
	Workers int
	// DedupWindow is how close two identical spins on one wheel must be to count once.
	DedupWindow time.Duration
	// RoundDuration is the spin time worth one round; remainders are discarded.
	RoundDuration time.Duration
	// Location decides which calendar day an event belongs to.
	Location *time.Location
}

type applyFunc func(ctx context.Context, env models.Envelope) string

type Dispatcher struct {
	logger  slog.Logger
	store   *state.Store
	sub     *ingress.Subscription
	metrics *metrics.Metrics
	opts    Options
	// Keyed by event kind; read-only once New returns.
	apply map[models.Kind]applyFunc
}

func New(logger slog.Logger, store *state.Store, sub *ingress.Subscription, m *metrics.Metrics, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RoundDuration <= 0 {
		opts.RoundDuration = 5 * time.Second
	}
	// Rounds are counted in whole milliseconds.
	if opts.RoundDuration < time.Millisecond {
		opts.RoundDuration = time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	d := &Dispatcher{
		logger:  logger,
		store:   store,
		sub:     sub,
		metrics: m,
		opts:    opts,
	}
	d.apply = map[models.Kind]applyFunc{
		models.KindEnter:         d.enter,
		models.KindExit:          d.exit,
		models.KindSpin:          d.spin,
		models.KindSensorFailure: d.sensorFailure,
	}
	return d
}

// Run starts the workers and blocks until ctx is done or the subscription is
// closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info(ctx, "dispatcher started",
		slog.F("workers", d.opts.Workers),
		slog.F("subscription", d.sub.Name()),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			return d.work(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return xerrors.Errorf("dispatcher: %w", err)
	}
	d.logger.Info(ctx, "dispatcher drained")
	return nil
}

func (d *Dispatcher) work(ctx context.Context) error {
	for {
		env, err := d.sub.Next(ctx)
		if xerrors.Is(err, ingress.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		d.Handle(ctx, env)
	}
}

// Handle applies one event and reports the outcome. It never panics: a
// failure while applying env is logged and only env is lost.
func (d *Dispatcher) Handle(ctx context.Context, env models.Envelope) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomeFailed
			d.logger.Error(ctx, "failed to apply event",
				slog.F("event_id", env.ID),
				slog.F("event", env.Event.String()),
				slog.F("sensor_id", env.SensorID),
				slog.F("panic", fmt.Sprint(r)),
				slog.F("stack", string(debug.Stack())),
			)
		}
		d.metrics.EventsProcessed.WithLabelValues(string(env.Event.Type), outcome).Inc()
	}()

	if env.SensorID != "" {
		d.store.TouchSensor(env.SensorID, env.ReceivedAt)
	}

	if err := env.Event.Validate(); err != nil {
		d.logger.Warn(ctx, "invalid event dropped",
			slog.F("event_id", env.ID),
			slog.F("event", env.Event.String()),
			slog.Error(err),
		)
		return metrics.OutcomeInvalid
	}

	if apply, ok := d.apply[env.Event.Type]; ok {
		return apply(ctx, env)
	}
	return metrics.OutcomeIgnored
}
