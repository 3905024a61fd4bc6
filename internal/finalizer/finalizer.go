// Package finalizer exports completed days to durable storage and evicts the
// exported rounds from the live state once the write is confirmed.
package finalizer

import (
	"context"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

// Persister stores daily rows. UpsertDailyStats writes all rows of one day
// in a single transaction, replacing the totals of existing rows.
type Persister interface {
	UpsertDailyStats(ctx context.Context, date models.Date, rows []models.DailyStatRow) error
	LoadDailyStats(ctx context.Context, date models.Date) (map[string]models.HamsterStats, bool, error)
}

type Options struct {
	// Schedule is a standard five-field cron spec evaluated in Location.
	Schedule string
	Location *time.Location
	// DaysBack is how many days before today each pass looks at; at least 1.
	DaysBack        int
	ActiveThreshold int64
	// Timeout bounds one day's persistence call.
	Timeout time.Duration
}

type Finalizer struct {
	logger    slog.Logger
	clock     quartz.Clock
	store     *state.Store
	persister Persister
	metrics   *metrics.Metrics
	opts      Options
}

func New(logger slog.Logger, clk quartz.Clock, store *state.Store, persister Persister, m *metrics.Metrics, opts Options) *Finalizer {
	if opts.Schedule == "" {
		opts.Schedule = "5 0 * * *"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DaysBack < 1 {
		opts.DaysBack = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Finalizer{
		logger:    logger,
		clock:     clk,
		store:     store,
		persister: persister,
		metrics:   m,
		opts:      opts,
	}
}

// Run schedules FinalizePass and blocks until ctx is done. A pass that is
// still running when ctx ends is allowed to finish.
func (f *Finalizer) Run(ctx context.Context) error {
	cl := cronLogger{ctx: ctx, logger: f.logger}
	c := cron.New(
		cron.WithLocation(f.opts.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	passCtx := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(f.opts.Schedule, func() {
		if err := f.FinalizePass(passCtx); err != nil {
			f.logger.Error(passCtx, "finalize pass failed", slog.Error(err))
		}
	}); err != nil {
		return xerrors.Errorf("schedule finalizer %q: %w", f.opts.Schedule, err)
	}

	c.Start()
	f.logger.Info(ctx, "day finalizer scheduled",
		slog.F("schedule", f.opts.Schedule),
		slog.F("location", f.opts.Location.String()),
		slog.F("days_back", f.opts.DaysBack),
	)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// FinalizePass finalizes today-1 through today-DaysBack, plus any older day
// still holding live counters. A failed day does not stop the others; the
// combined error lists every failure.
func (f *Finalizer) FinalizePass(ctx context.Context) error {
	today := models.DateOf(f.clock.Now(), f.opts.Location)
	oldest := today.AddDays(-f.opts.DaysBack)

	var dates []models.Date
	for _, date := range f.store.Days() {
		if date.Before(oldest) {
			dates = append(dates, date)
		}
	}
	if len(dates) > 0 {
		f.logger.Warn(ctx, "live counters found before the look-back window",
			slog.F("days", len(dates)),
			slog.F("oldest", dates[0].String()),
		)
	}
	for i := f.opts.DaysBack; i >= 1; i-- {
		dates = append(dates, today.AddDays(-i))
	}

	var merr error
	for _, date := range dates {
		if err := f.FinalizeDay(ctx, date); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

// FinalizeDay adds the live counters of date to what is already persisted for
// it, writes the sums and then takes the written rounds out of the live state.
// Rounds that arrive while the write is in flight stay live for the next pass.
// An empty day is skipped.
func (f *Finalizer) FinalizeDay(ctx context.Context, date models.Date) error {
	live := f.store.StatsForDate(date)
	if len(live) == 0 {
		f.metrics.DaysFinalized.WithLabelValues("empty").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	persisted, _, err := f.persister.LoadDailyStats(ctx, date)
	if err != nil {
		return f.failed(ctx, date, len(live), xerrors.Errorf("load persisted rows: %w", err))
	}

	rows := make([]models.DailyStatRow, 0, len(live))
	for hamsterID, stats := range live {
		hs := models.NewHamsterStats(persisted[hamsterID].TotalRounds+stats.TotalRounds, f.opts.ActiveThreshold)
		rows = append(rows, models.DailyStatRow{
			Date:        date,
			HamsterID:   hamsterID,
			TotalRounds: hs.TotalRounds,
			IsActive:    hs.IsActive,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].HamsterID < rows[j].HamsterID })

	if err := f.persister.UpsertDailyStats(ctx, date, rows); err != nil {
		return f.failed(ctx, date, len(rows), err)
	}

	if late := f.store.RemoveDay(date, live); late > 0 {
		f.logger.Info(ctx, "rounds arrived during export, kept live",
			slog.F("date", date.String()),
			slog.F("rounds", late),
		)
	}

	f.metrics.DaysFinalized.WithLabelValues("exported").Inc()
	f.logger.Info(ctx, "day exported",
		slog.F("date", date.String()),
		slog.F("hamsters", len(rows)),
		slog.F("merged", len(persisted)),
	)
	return nil
}

func (f *Finalizer) failed(ctx context.Context, date models.Date, hamsters int, err error) error {
	f.metrics.DaysFinalized.WithLabelValues("failed").Inc()
	f.logger.Error(ctx, "failed to export day, keeping live counters",
		slog.F("date", date.String()),
		slog.F("hamsters", hamsters),
		slog.Error(err),
	)
	return xerrors.Errorf("finalize %s: %w", date, err)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	ctx    context.Context
	logger slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.ctx, "cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.ctx, "cron: "+msg, append(fields(keysAndValues), slog.Error(err))...)
}

func fields(keysAndValues []interface{}) []slog.Field {
	out := make([]slog.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		out = append(out, slog.F(key, keysAndValues[i+1]))
	}
	return out
}
