package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	sensorID string
	event    models.Event
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Send(_ context.Context, sensorID string, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{sensorID: sensorID, event: ev})
	return nil
}

func (f *fakeSender) drain() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func countKind(events []sent, kind models.Kind) int {
	n := 0
	for _, s := range events {
		if s.event.Type == kind {
			n++
		}
	}
	return n
}

func certainOptions() Options {
	return Options{
		Wheels:          2,
		SensorsPerWheel: 3,
		Hamsters:        2,
		Tick:            time.Second,
		EnterPerMinute:  1,
		SpinMin:         5 * time.Second,
		SpinMax:         5 * time.Second,
		RestAfterExit:   time.Minute,
		Concurrency:     4,
		Seed:            42,
	}
}

func TestPerTick(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, perTick(1, time.Second))
	require.Equal(t, 0.0, perTick(0, time.Second))
	require.InDelta(t, 0.5, perTick(0.5, time.Minute), 1e-9)
	// Sixty one-second ticks compound back to the per-minute figure.
	p := perTick(0.3, time.Second)
	require.InDelta(t, 0.3, 1-pow(1-p, 60), 1e-9)
}

func pow(x float64, n int) float64 {
	r := 1.0
	for range n {
		r *= x
	}
	return r
}

func TestEveryWorkingSensorRelays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := quartz.NewMock(t)
	clk.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sender := &fakeSender{}
	sim := New(slogtest.Make(t, nil), clk, sender, certainOptions())

	sim.Tick(ctx)
	got := sender.drain()
	// Two wheels, three sensors each, Enter followed by Spin.
	require.Len(t, got, 2*3*2)
	require.Equal(t, 6, countKind(got, models.KindEnter))
	require.Equal(t, 6, countKind(got, models.KindSpin))
	for _, s := range got {
		if s.event.Type == models.KindSpin {
			require.EqualValues(t, 5000, s.event.DurationMs)
		}
	}

	// Still spinning.
	clk.Advance(4 * time.Second)
	sim.Tick(ctx)
	require.Empty(t, sender.drain())

	clk.Advance(time.Second)
	sim.Tick(ctx)
	got = sender.drain()
	require.Len(t, got, 6)
	require.Equal(t, 6, countKind(got, models.KindExit))

	// Both hamsters rest, so the free wheels stay empty.
	clk.Advance(time.Second)
	sim.Tick(ctx)
	require.Empty(t, sender.drain())
}

func TestPermanentFailureSilencesSensor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := quartz.NewMock(t)
	opts := certainOptions()
	opts.EnterPerMinute = 0
	opts.FailPerMinute = 1
	opts.TemporaryFailShare = 0
	sender := &fakeSender{}
	sim := New(slogtest.Make(t, nil), clk, sender, opts)

	sim.Tick(ctx)
	got := sender.drain()
	require.Len(t, got, 6)
	for _, s := range got {
		require.Equal(t, models.KindSensorFailure, s.event.Type)
		require.Equal(t, "666", s.event.ErrorCode)
		require.Equal(t, s.sensorID, s.event.SensorID)
	}

	clk.Advance(time.Second)
	sim.Tick(ctx)
	require.Empty(t, sender.drain())
}

func TestTemporaryFailureKeepsRelaying(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := quartz.NewMock(t)
	opts := certainOptions()
	opts.Wheels = 1
	opts.FailPerMinute = 1
	opts.TemporaryFailShare = 1
	sender := &fakeSender{}
	sim := New(slogtest.Make(t, nil), clk, sender, opts)

	sim.Tick(ctx)
	got := sender.drain()
	require.Equal(t, 3, countKind(got, models.KindSensorFailure))
	require.Equal(t, 3, countKind(got, models.KindEnter))
	for _, s := range got {
		if s.event.Type == models.KindSensorFailure {
			require.Equal(t, "500", s.event.ErrorCode)
		}
	}
}

func TestRunTicksOnClock(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clk := quartz.NewMock(t)
	trap := clk.Trap().TickerFunc("simulator")
	defer trap.Close()

	sender := &fakeSender{}
	sim := New(slogtest.Make(t, nil), clk, sender, certainOptions())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sim.Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	_, w := clk.AdvanceNext()
	w.MustWait(ctx)
	require.Len(t, sender.drain(), 12)

	stop()
	require.NoError(t, <-done)
}

func TestHTTPSender(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		got  models.Event
		hdrs http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hdrs = r.Header.Clone()
		if r.URL.Path != "/events" || json.NewDecoder(r.Body).Decode(&got) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := context.Background()
	sender := NewHTTPSender(srv.URL+"/", "k", time.Second)
	defer sender.Close()
	err := sender.Send(ctx, "sensor-1-1", models.Spin("wheel-1", 7000))
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, models.Spin("wheel-1", 7000), got)
	require.Equal(t, "sensor-1-1", hdrs.Get("X-Sensor-Id"))
	mu.Unlock()

	bad := NewHTTPSender(srv.URL, "wrong", time.Second)
	defer bad.Close()
	err = bad.Send(ctx, "sensor-1-1", models.Exit("h", "w"))
	require.ErrorContains(t, err, "401")
}
