// Package simulator drives the tracker with synthetic sensor traffic.
//
// Every wheel carries several sensors and each of them relays every event of
// its wheel, so the tracker receives the duplicates real hardware produces.
package simulator

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// Sender delivers one event as relayed by sensorID.
type Sender interface {
	Send(ctx context.Context, sensorID string, ev models.Event) error
}

type Options struct {
	Wheels          int
	SensorsPerWheel int
	Hamsters        int
	Tick            time.Duration
	// Per-minute probabilities, converted to per-tick ones.
	EnterPerMinute float64
	FailPerMinute  float64
	// TemporaryFailShare is the part of failures after which the sensor keeps working.
	TemporaryFailShare float64
	SpinMin            time.Duration
	SpinMax            time.Duration
	RestAfterExit      time.Duration
	// Concurrency bounds in-flight sends.
	Concurrency int
	Seed        uint64
}

func DefaultOptions() Options {
	return Options{
		Wheels:             5,
		SensorsPerWheel:    2,
		Hamsters:           8,
		Tick:               time.Second,
		EnterPerMinute:     0.5,
		FailPerMinute:      0.01,
		TemporaryFailShare: 0.8,
		SpinMin:            5 * time.Second,
		SpinMax:            30 * time.Second,
		RestAfterExit:      30 * time.Second,
		Concurrency:        16,
	}
}

type Simulator struct {
	logger slog.Logger
	clock  quartz.Clock
	sender Sender
	opts   Options

	mu    sync.Mutex
	rnd   *rand.Rand
	world *world
}

func New(logger slog.Logger, clk quartz.Clock, sender Sender, opts Options) *Simulator {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.SpinMax < opts.SpinMin {
		opts.SpinMax = opts.SpinMin
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(clk.Now().UnixNano())
	}
	return &Simulator{
		logger: logger,
		clock:  clk,
		sender: sender,
		opts:   opts,
		rnd:    rand.New(rand.NewPCG(seed, seed>>1|1)),
		world:  newWorld(opts.Wheels, opts.SensorsPerWheel, opts.Hamsters),
	}
}

// RuntimeConfig is the part of the world that can change while running.
// SensorCount is the total over all wheels.
type RuntimeConfig struct {
	HamsterCount int `json:"hamsterCount" binding:"required,min=1,max=10000"`
	SensorCount  int `json:"sensorCount" binding:"required,min=1,max=10000"`
}

// Runtime reports the current hamster and sensor counts.
func (s *Simulator) Runtime() RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RuntimeConfig{
		HamsterCount: s.world.hamsters(),
		SensorCount:  s.world.sensors(),
	}
}

// Apply resizes the world between ticks. Released hamsters leave their wheel
// without an exit event, and removed sensors go silent, broken ones first.
func (s *Simulator) Apply(ctx context.Context, cfg RuntimeConfig) RuntimeConfig {
	s.mu.Lock()
	s.world.resizeHamsters(max(1, cfg.HamsterCount))
	s.world.resizeSensors(max(1, cfg.SensorCount))
	s.mu.Unlock()

	applied := s.Runtime()
	s.logger.Info(ctx, "runtime config applied",
		slog.F("hamsters", applied.HamsterCount),
		slog.F("sensors", applied.SensorCount),
	)
	return applied
}

// Run ticks until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info(ctx, "simulation started",
		slog.F("wheels", s.opts.Wheels),
		slog.F("sensors_per_wheel", s.opts.SensorsPerWheel),
		slog.F("hamsters", s.opts.Hamsters),
		slog.F("tick", s.opts.Tick),
	)
	err := s.clock.TickerFunc(ctx, s.opts.Tick, func() error {
		s.Tick(ctx)
		return nil
	}, "simulator").Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type delivery struct {
	sensorID string
	event    models.Event
}

// Tick advances the world once and sends the resulting events. A failed send
// is logged and dropped, like a lost radio packet.
func (s *Simulator) Tick(ctx context.Context) {
	batches := s.advance()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	// Each wheel's events go out in order; wheels proceed in parallel.
	for _, batch := range batches {
		g.Go(func() error {
			for _, d := range batch {
				if err := s.sender.Send(ctx, d.sensorID, d.event); err != nil {
					s.logger.Warn(ctx, "send failed",
						slog.F("sensor_id", d.sensorID),
						slog.F("event", d.event.String()),
						slog.Error(err),
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// advance applies one tick to the world and returns, per wheel, what its
// sensors report.
func (s *Simulator) advance() [][]delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	failP := perTick(s.opts.FailPerMinute, s.opts.Tick)
	enterP := perTick(s.opts.EnterPerMinute, s.opts.Tick)
	exitP := enterP

	var batches [][]delivery
	for _, w := range s.world.wheels {
		var out []delivery
		broadcast := func(ev models.Event) {
			for _, id := range w.working() {
				out = append(out, delivery{sensorID: id, event: ev})
			}
		}

		for _, sn := range w.sensors {
			if sn.broken || s.rnd.Float64() >= failP {
				continue
			}
			code := "500"
			if s.rnd.Float64() >= s.opts.TemporaryFailShare {
				code = "666"
				sn.broken = true
			}
			out = append(out, delivery{sensorID: sn.id, event: models.SensorFailure(sn.id, code)})
		}

		switch {
		case w.occupant == "":
			if s.rnd.Float64() >= enterP {
				break
			}
			hamsterID, ok := s.world.takeReady(now)
			if !ok {
				break
			}
			w.occupant = hamsterID
			broadcast(models.Enter(hamsterID, w.id))
			broadcast(s.spin(w, now))
		case now.Before(w.spinUntil):
			// Still spinning.
		case s.rnd.Float64() < exitP:
			broadcast(models.Exit(w.occupant, w.id))
			s.world.rest(w.occupant, now.Add(s.opts.RestAfterExit))
			w.occupant = ""
		default:
			broadcast(s.spin(w, now))
		}

		if len(out) > 0 {
			batches = append(batches, out)
		}
	}
	return batches
}

func (s *Simulator) spin(w *wheel, now time.Time) models.Event {
	d := s.opts.SpinMin
	if span := int64(s.opts.SpinMax/time.Second - s.opts.SpinMin/time.Second); span > 0 {
		d += time.Duration(s.rnd.Int64N(span+1)) * time.Second
	}
	w.spinUntil = now.Add(d)
	return models.Spin(w.id, d.Milliseconds())
}

// perTick converts a per-minute probability into the probability for one tick.
func perTick(perMinute float64, tick time.Duration) float64 {
	if perMinute >= 1 {
		return 1
	}
	if perMinute <= 0 {
		return 0
	}
	return 1 - math.Pow(1-perMinute, tick.Seconds()/60)
}
