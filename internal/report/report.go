// Package report answers daily report queries from live or durable state.
package report

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

var ErrInvalidDate = xerrors.New("invalid date")

// Repository reads finalized days. found is false when no rows exist for date.
type Repository interface {
	LoadDailyStats(ctx context.Context, date models.Date) (stats map[string]models.HamsterStats, found bool, err error)
}

type Service struct {
	clock           quartz.Clock
	store           *state.Store
	repo            Repository
	location        *time.Location
	activeThreshold int64
}

func NewService(clk quartz.Clock, store *state.Store, repo Repository, loc *time.Location, activeThreshold int64) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		clock:           clk,
		store:           store,
		repo:            repo,
		location:        loc,
		activeThreshold: activeThreshold,
	}
}

// Today is the current date in the service's zone.
func (s *Service) Today() models.Date {
	return models.DateOf(s.clock.Now(), s.location)
}

// DailyReportFor parses a YYYY-MM-DD date; an empty string means today.
func (s *Service) DailyReportFor(ctx context.Context, raw string) (models.DailyReport, error) {
	if raw == "" {
		return s.DailyReport(ctx, s.Today())
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		return models.DailyReport{}, xerrors.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return s.DailyReport(ctx, date)
}

// DailyReport reads past days from the repository first and falls back to the
// live state when nothing was persisted yet. Today and future days are live only.
// Live counters of a persisted day hold rounds not exported yet and are added
// to the persisted totals.
func (s *Service) DailyReport(ctx context.Context, date models.Date) (models.DailyReport, error) {
	if date.Before(s.Today()) {
		stats, found, err := s.repo.LoadDailyStats(ctx, date)
		if err != nil {
			return models.DailyReport{}, xerrors.Errorf("load daily stats for %s: %w", date, err)
		}
		if found {
			hamsters := make(map[string]models.HamsterStats, len(stats))
			for id, hs := range stats {
				hamsters[id] = hs
			}
			for id, live := range s.store.StatsForDate(date) {
				hamsters[id] = models.NewHamsterStats(hamsters[id].TotalRounds+live.TotalRounds, s.activeThreshold)
			}
			return models.DailyReport{Date: date, Source: models.SourceDurable, Hamsters: hamsters}, nil
		}
	}
	return s.live(date), nil
}

func (s *Service) live(date models.Date) models.DailyReport {
	snapshot := s.store.StatsForDate(date)
	hamsters := make(map[string]models.HamsterStats, len(snapshot))
	for id, stats := range snapshot {
		hamsters[id] = models.NewHamsterStats(stats.TotalRounds, s.activeThreshold)
	}
	return models.DailyReport{Date: date, Source: models.SourceLive, Hamsters: hamsters}
}
