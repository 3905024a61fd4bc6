// Package monitor raises an alert when a hamster or a sensor goes quiet for
// longer than its threshold. Alerts are edge-triggered: one per transition
// into inactivity, none while the entity stays inactive, and a fresh one only
// after it has been seen again.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/puzpuzpuz/xsync/v3"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/notify"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

const (
	KindHamster = "hamster"
	KindSensor  = "sensor"
)

type Options struct {
	Interval         time.Duration
	HamsterThreshold time.Duration
	SensorThreshold  time.Duration
	// Location decides which day is "today" when reading hamster activity.
	Location *time.Location
}

type Monitor struct {
	logger   slog.Logger
	clock    quartz.Clock
	store    *state.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     Options

	hamsters *edgeState
	sensors  *edgeState
}

func New(logger slog.Logger, clk quartz.Clock, store *state.Store, notifier notify.Notifier, m *metrics.Metrics, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Monitor{
		logger:   logger,
		clock:    clk,
		store:    store,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		hamsters: newEdgeState(),
		sensors:  newEdgeState(),
	}
}

// Run sweeps every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info(ctx, "inactivity monitor started", slog.F("interval", m.opts.Interval))
	err := m.clock.TickerFunc(ctx, m.opts.Interval, func() error {
		m.Sweep(ctx)
		return nil
	}, "monitor").Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Sweep checks every known hamster and sensor once.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.clock.Now()

	hamsters := map[string]time.Time{}
	for id, stats := range m.store.StatsForDate(models.DateOf(now, m.opts.Location)) {
		hamsters[id] = stats.LastActive
	}
	m.check(ctx, KindHamster, "Hamster", hamsters, m.hamsters, now, m.opts.HamsterThreshold)
	m.check(ctx, KindSensor, "Sensor", m.store.SensorsLastSeen(), m.sensors, now, m.opts.SensorThreshold)
}

func (m *Monitor) check(ctx context.Context, kind, label string, lastSeen map[string]time.Time, edges *edgeState, now time.Time, threshold time.Duration) {
	edges.forgetMissing(lastSeen)

	for id, seen := range lastSeen {
		idle := now.Sub(seen)
		if idle <= threshold {
			if edges.clear(id) {
				m.logger.Info(ctx, "activity resumed", slog.F("kind", kind), slog.F("id", id))
			}
			continue
		}
		if !edges.raise(id) {
			continue
		}

		m.metrics.AlertsRaised.WithLabelValues(kind).Inc()
		m.logger.Warn(ctx, "inactivity detected",
			slog.F("kind", kind),
			slog.F("id", id),
			slog.F("idle", idle),
		)
		message := fmt.Sprintf("%s %s inactive", label, id)
		if err := m.notifier.Notify(ctx, message); err != nil {
			m.logger.Error(ctx, "failed to send alert", slog.F("message", message), slog.Error(err))
		}
	}
}

// edgeState is the set of ids currently in the alerted state.
type edgeState struct {
	alerted *xsync.MapOf[string, struct{}]
}

func newEdgeState() *edgeState {
	return &edgeState{alerted: xsync.NewMapOf[string, struct{}]()}
}

// raise marks id alerted and reports whether it was not already.
func (e *edgeState) raise(id string) bool {
	_, loaded := e.alerted.LoadOrStore(id, struct{}{})
	return !loaded
}

// clear marks id active again and reports whether it had been alerted.
func (e *edgeState) clear(id string) bool {
	_, loaded := e.alerted.LoadAndDelete(id)
	return loaded
}

func (e *edgeState) forgetMissing(present map[string]time.Time) {
	e.alerted.Range(func(id string, _ struct{}) bool {
		if _, ok := present[id]; !ok {
			e.alerted.Delete(id)
		}
		return true
	})
}

// Alerted reports whether id of kind is currently in the alerted state.
func (m *Monitor) Alerted(kind, id string) bool {
	edges := m.sensors
	if kind == KindHamster {
		edges = m.hamsters
	}
	_, ok := edges.alerted.Load(id)
	return ok
}
