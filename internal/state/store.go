// Package state holds the live, in-memory view of wheel activity.
//
// Every logical key (a wheel's occupant, a day/hamster counter, a spin dedup
// slot, a last-seen timestamp) is mutated through its own atomic primitive, so
// unrelated keys never contend and no operation takes a store-wide lock.
package state

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// Store is safe for concurrent use.
type Store struct {
	// Counters are only mutated inside Compute on their own key, so an export
	// settling a key and a worker adding to it are serialized.
	stats *xsync.MapOf[dayKey, *DayStats]

	occupancy *xsync.MapOf[string, string]

	hamsterLastSeen *xsync.MapOf[string, *atomic.Int64]
	sensorLastSeen  *xsync.MapOf[string, *atomic.Int64]

	// wheelID -> durationMs -> canonical unix millis
	spinWindows *xsync.MapOf[string, *xsync.MapOf[int64, int64]]
}

func NewStore() *Store {
	return &Store{
		stats:           xsync.NewMapOf[dayKey, *DayStats](),
		occupancy:       xsync.NewMapOf[string, string](),
		hamsterLastSeen: xsync.NewMapOf[string, *atomic.Int64](),
		sensorLastSeen:  xsync.NewMapOf[string, *atomic.Int64](),
		spinWindows:     xsync.NewMapOf[string, *xsync.MapOf[int64, int64]](),
	}
}

type dayKey struct {
	date      models.Date
	hamsterID string
}

// AddRounds adds rounds to (date, hamsterID), creating the counters on first
// touch. AddRounds with zero rounds only marks the hamster as present that day.
func (s *Store) AddRounds(date models.Date, hamsterID string, rounds int64, ts time.Time) {
	s.stats.Compute(dayKey{date: date, hamsterID: hamsterID}, func(stats *DayStats, loaded bool) (*DayStats, bool) {
		if !loaded {
			stats = newDayStats()
		}
		stats.add(rounds, ts)
		return stats, false
	})
}

// StatsForDate copies the day's counters. Later updates do not show up in the result.
func (s *Store) StatsForDate(date models.Date) map[string]DayStatsSnapshot {
	out := map[string]DayStatsSnapshot{}
	s.stats.Range(func(key dayKey, stats *DayStats) bool {
		if key.date == date {
			out[key.hamsterID] = stats.Snapshot()
		}
		return true
	})
	return out
}

// Days lists the dates that currently hold live counters, oldest first.
func (s *Store) Days() []models.Date {
	seen := map[models.Date]struct{}{}
	s.stats.Range(func(key dayKey, _ *DayStats) bool {
		seen[key.date] = struct{}{}
		return true
	})
	out := make([]models.Date, 0, len(seen))
	for date := range seen {
		out = append(out, date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// RemoveDay evicts the day's counters after exported has been persisted. Only
// rounds added after exported was taken stay live; their total is returned.
func (s *Store) RemoveDay(date models.Date, exported map[string]DayStatsSnapshot) (remaining int64) {
	for hamsterID, stats := range exported {
		remaining += s.Settle(date, hamsterID, stats.TotalRounds)
	}
	return remaining
}

// Settle takes rounds that have been persisted out of (date, hamsterID).
// The counters are dropped when nothing else arrived since the export;
// otherwise the rounds added meanwhile stay live and are returned.
func (s *Store) Settle(date models.Date, hamsterID string, persisted int64) (remaining int64) {
	s.stats.Compute(dayKey{date: date, hamsterID: hamsterID}, func(stats *DayStats, loaded bool) (*DayStats, bool) {
		if !loaded {
			return stats, true
		}
		remaining = stats.totalRounds.Sub(persisted)
		if remaining <= 0 {
			remaining = 0
			return stats, true
		}
		return stats, false
	})
	return remaining
}

// OccupyWheel makes hamsterID the occupant of wheelID.
// It reports the displaced occupant (if any) and whether occupancy changed;
// entering a wheel the hamster already holds changes nothing.
func (s *Store) OccupyWheel(wheelID, hamsterID string) (previous string, changed bool) {
	s.occupancy.Compute(wheelID, func(old string, loaded bool) (string, bool) {
		if loaded {
			previous = old
		}
		changed = !loaded || old != hamsterID
		return hamsterID, false
	})
	return previous, changed
}

// ReleaseWheel clears the occupant of wheelID only when it is hamsterID.
// It returns the occupant left in place when the release was refused.
func (s *Store) ReleaseWheel(wheelID, hamsterID string) (released bool, occupant string) {
	s.occupancy.Compute(wheelID, func(old string, loaded bool) (string, bool) {
		if !loaded {
			return old, true
		}
		if old != hamsterID {
			occupant = old
			return old, false
		}
		released = true
		return "", true
	})
	return released, occupant
}

// Occupant returns the hamster currently on wheelID.
func (s *Store) Occupant(wheelID string) (string, bool) {
	return s.occupancy.Load(wheelID)
}

// ShouldAcceptSpin is the dedup gate for spins relayed by several sensors.
// A spin is accepted, and ts recorded as the canonical timestamp of
// (wheelID, durationMs), only if no canonical timestamp for that key lies
// within window of ts. A rejected spin leaves the canonical timestamp as is,
// so the first accepted relay stays the baseline whatever order duplicates
// arrive in.
func (s *Store) ShouldAcceptSpin(wheelID string, durationMs int64, ts time.Time, window time.Duration) bool {
	wheel, _ := s.spinWindows.LoadOrCompute(wheelID, func() *xsync.MapOf[int64, int64] {
		return xsync.NewMapOf[int64, int64]()
	})

	tsMs := ts.UnixMilli()
	windowMs := window.Milliseconds()
	accepted := false
	wheel.Compute(durationMs, func(last int64, loaded bool) (int64, bool) {
		if loaded && abs(tsMs-last) <= windowMs {
			return last, false
		}
		accepted = true
		return tsMs, false
	})
	return accepted
}

// PruneSpinWindows forgets canonical spin timestamps older than cutoff and
// returns how many were removed.
func (s *Store) PruneSpinWindows(cutoff time.Time) int {
	cutoffMs := cutoff.UnixMilli()
	removed := 0
	s.spinWindows.Range(func(_ string, wheel *xsync.MapOf[int64, int64]) bool {
		wheel.Range(func(duration int64, _ int64) bool {
			// Re-check under the key's lock; a newer spin may have landed since Range read it.
			wheel.Compute(duration, func(last int64, loaded bool) (int64, bool) {
				if loaded && last < cutoffMs {
					removed++
					return last, true
				}
				return last, !loaded
			})
			return true
		})
		return true
	})
	return removed
}

// TouchHamster records that hamsterID was seen at ts. The value never moves backwards.
func (s *Store) TouchHamster(hamsterID string, ts time.Time) {
	touch(s.hamsterLastSeen, hamsterID, ts)
}

// TouchSensor records that sensorID was seen at ts. The value never moves backwards.
func (s *Store) TouchSensor(sensorID string, ts time.Time) {
	touch(s.sensorLastSeen, sensorID, ts)
}

func (s *Store) HamsterLastSeen(hamsterID string) (time.Time, bool) {
	return lastSeen(s.hamsterLastSeen, hamsterID)
}

func (s *Store) SensorLastSeen(sensorID string) (time.Time, bool) {
	return lastSeen(s.sensorLastSeen, sensorID)
}

// SensorsLastSeen copies the sensor registry.
func (s *Store) SensorsLastSeen() map[string]time.Time {
	return snapshot(s.sensorLastSeen)
}

func touch(registry *xsync.MapOf[string, *atomic.Int64], id string, ts time.Time) {
	v, _ := registry.LoadOrCompute(id, func() *atomic.Int64 {
		return atomic.NewInt64(0)
	})
	storeMax(v, ts.UnixMilli())
}

func lastSeen(registry *xsync.MapOf[string, *atomic.Int64], id string) (time.Time, bool) {
	v, ok := registry.Load(id)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(v.Load()), true
}

func snapshot(registry *xsync.MapOf[string, *atomic.Int64]) map[string]time.Time {
	out := make(map[string]time.Time, registry.Size())
	registry.Range(func(id string, v *atomic.Int64) bool {
		out[id] = time.UnixMilli(v.Load())
		return true
	})
	return out
}

// storeMax raises v to ms unless v already holds a later value.
func storeMax(v *atomic.Int64, ms int64) {
	for {
		cur := v.Load()
		if ms <= cur {
			return
		}
		if v.CompareAndSwap(cur, ms) {
			return
		}
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
