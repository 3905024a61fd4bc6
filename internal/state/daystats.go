package state

import (
	"time"

	"go.uber.org/atomic"
)

// DayStats accumulates one hamster's activity for one calendar day that has
// not been persisted yet.
type DayStats struct {
	totalRounds *atomic.Int64
	lastActive  *atomic.Int64 // unix millis
}

// DayStatsSnapshot is a copy of DayStats taken at one instant.
type DayStatsSnapshot struct {
	TotalRounds int64
	LastActive  time.Time
}

func newDayStats() *DayStats {
	return &DayStats{
		totalRounds: atomic.NewInt64(0),
		lastActive:  atomic.NewInt64(0),
	}
}

// add adds rounds (ignored unless positive) and raises the last-active time to ts.
func (d *DayStats) add(rounds int64, ts time.Time) {
	if rounds > 0 {
		d.totalRounds.Add(rounds)
	}
	storeMax(d.lastActive, ts.UnixMilli())
}

func (d *DayStats) Snapshot() DayStatsSnapshot {
	return DayStatsSnapshot{
		TotalRounds: d.totalRounds.Load(),
		LastActive:  time.UnixMilli(d.lastActive.Load()),
	}
}
