package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/retention"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSweeperPrunesOldSpins(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	clk := quartz.NewMock(t)
	clk.Set(start)
	store := state.NewStore()
	m := metrics.New(prometheus.NewRegistry())

	window := 250 * time.Millisecond
	require.True(t, store.ShouldAcceptSpin("w1", 5000, start, window))
	require.True(t, store.ShouldAcceptSpin("w2", 5000, start.Add(90*time.Second), window))

	trap := clk.Trap().TickerFunc("retention")
	defer trap.Close()
	closer := retention.New(ctx, slogtest.Make(t, nil), clk, store, m, time.Minute, time.Minute)
	defer closer.Close()
	trap.MustWait(ctx).MustRelease(ctx)

	// First tick at +1m: nothing older than +0m.
	_, w := clk.AdvanceNext()
	w.MustWait(ctx)
	require.Zero(t, testutil.ToFloat64(m.SpinsPruned))

	// Second tick at +2m: w1's entry from +0 is now stale.
	_, w = clk.AdvanceNext()
	w.MustWait(ctx)
	require.Equal(t, float64(1), testutil.ToFloat64(m.SpinsPruned))

	// A pruned key starts a fresh window; w2 is still deduplicated.
	require.True(t, store.ShouldAcceptSpin("w1", 5000, start, window))
	require.False(t, store.ShouldAcceptSpin("w2", 5000, start.Add(90*time.Second), window))

	require.NoError(t, closer.Close())
}
