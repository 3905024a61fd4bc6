package retention

import (
	"context"
	"io"
	"time"

	"github.com/coder/quartz"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

// New starts a sweeper that every interval forgets spin dedup entries older
// than retention. It is the caller's responsibility to call Close on the
// returned instance.
func New(ctx context.Context, logger slog.Logger, clk quartz.Clock, store *state.Store, m *metrics.Metrics, interval, retention time.Duration) io.Closer {
	closed := make(chan struct{})
	ctx, cancelFunc := context.WithCancel(ctx)

	doTick := func() error {
		cutoff := clk.Now().Add(-retention)
		removed := store.PruneSpinWindows(cutoff)
		m.SpinsPruned.Add(float64(removed))
		if removed > 0 {
			logger.Debug(ctx, "pruned spin dedup entries", slog.F("removed", removed), slog.F("cutoff", cutoff))
		}
		return nil
	}

	waiter := clk.TickerFunc(ctx, interval, doTick, "retention")
	go func() {
		defer close(closed)
		_ = waiter.Wait()
	}()

	return &instance{
		cancel: cancelFunc,
		closed: closed,
	}
}

type instance struct {
	cancel context.CancelFunc
	closed chan struct{}
}

func (i *instance) Close() error {
	i.cancel()
	<-i.closed
	return nil
}
