package dispatcher

import (
	"context"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

func (d *Dispatcher) enter(ctx context.Context, env models.Envelope) string {
	ev := env.Event
	previous, changed := d.store.OccupyWheel(ev.WheelID, ev.HamsterID)
	if changed && previous != "" {
		d.logger.Info(ctx, "wheel taken over without exit",
			slog.F("wheel_id", ev.WheelID),
			slog.F("hamster_id", ev.HamsterID),
			slog.F("previous_hamster_id", previous),
		)
	}

	d.store.TouchHamster(ev.HamsterID, env.ReceivedAt)
	// Zero rounds still lists the hamster in that day's report.
	d.store.AddRounds(d.dateOf(env), ev.HamsterID, 0, env.ReceivedAt)

	d.logger.Debug(ctx, "enter",
		slog.F("hamster_id", ev.HamsterID),
		slog.F("wheel_id", ev.WheelID),
		slog.F("changed", changed),
	)
	return metrics.OutcomeApplied
}

func (d *Dispatcher) exit(ctx context.Context, env models.Envelope) string {
	ev := env.Event
	released, occupant := d.store.ReleaseWheel(ev.WheelID, ev.HamsterID)
	d.store.TouchHamster(ev.HamsterID, env.ReceivedAt)
	if !released {
		d.logger.Debug(ctx, "exit ignored, hamster does not occupy wheel",
			slog.F("hamster_id", ev.HamsterID),
			slog.F("wheel_id", ev.WheelID),
			slog.F("occupant", occupant),
		)
		return metrics.OutcomeIgnored
	}

	d.logger.Debug(ctx, "exit", slog.F("hamster_id", ev.HamsterID), slog.F("wheel_id", ev.WheelID))
	return metrics.OutcomeApplied
}

func (d *Dispatcher) spin(ctx context.Context, env models.Envelope) string {
	ev := env.Event
	if ev.DurationMs < 0 {
		d.logger.Warn(ctx, "negative spin duration",
			slog.F("wheel_id", ev.WheelID),
			slog.F("duration_ms", ev.DurationMs),
		)
		return metrics.OutcomeIgnored
	}

	rounds := ev.DurationMs / d.opts.RoundDuration.Milliseconds()

	hamsterID, ok := d.store.Occupant(ev.WheelID)
	if !ok {
		d.logger.Warn(ctx, "spin on unoccupied wheel",
			slog.F("wheel_id", ev.WheelID),
			slog.F("duration_ms", ev.DurationMs),
			slog.F("event_id", env.ID),
		)
		return metrics.OutcomeOrphan
	}

	if !d.store.ShouldAcceptSpin(ev.WheelID, ev.DurationMs, env.ReceivedAt, d.opts.DedupWindow) {
		d.logger.Debug(ctx, "duplicate spin dropped",
			slog.F("wheel_id", ev.WheelID),
			slog.F("duration_ms", ev.DurationMs),
			slog.F("sensor_id", env.SensorID),
		)
		return metrics.OutcomeDuplicate
	}

	if rounds <= 0 {
		return metrics.OutcomeIgnored
	}

	d.store.TouchHamster(hamsterID, env.ReceivedAt)
	d.store.AddRounds(d.dateOf(env), hamsterID, rounds, env.ReceivedAt)
	d.metrics.RoundsCounted.Add(float64(rounds))

	d.logger.Debug(ctx, "spin",
		slog.F("hamster_id", hamsterID),
		slog.F("wheel_id", ev.WheelID),
		slog.F("rounds", rounds),
	)
	return metrics.OutcomeApplied
}

func (d *Dispatcher) sensorFailure(ctx context.Context, env models.Envelope) string {
	ev := env.Event
	// The failing sensor managed to report, so it is alive as far as inactivity goes.
	if ev.SensorID != "" {
		d.store.TouchSensor(ev.SensorID, env.ReceivedAt)
	}
	d.logger.Info(ctx, "sensor failure reported",
		slog.F("sensor_id", ev.SensorID),
		slog.F("error_code", ev.ErrorCode),
		slog.F("reported_by", env.SensorID),
	)
	return metrics.OutcomeApplied
}

func (d *Dispatcher) dateOf(env models.Envelope) models.Date {
	return models.DateOf(env.ReceivedAt, d.opts.Location)
}
