package simulator

import (
	"fmt"
	"sort"
	"time"
)

type sensor struct {
	id     string
	broken bool
}

type wheel struct {
	id         string
	index      int
	sensors    []*sensor
	nextSensor int
	occupant   string
	spinUntil  time.Time
}

func (w *wheel) working() []string {
	var out []string
	for _, s := range w.sensors {
		if !s.broken {
			out = append(out, s.id)
		}
	}
	return out
}

func (w *wheel) addSensor() {
	w.nextSensor++
	w.sensors = append(w.sensors, &sensor{id: fmt.Sprintf("sensor-%d-%d", w.index, w.nextSensor)})
}

// trimSensors drops sensors down to n, broken ones first.
func (w *wheel) trimSensors(n int) {
	kept := w.sensors[:0]
	excess := len(w.sensors) - n
	for _, s := range w.sensors {
		if excess > 0 && s.broken {
			excess--
			continue
		}
		kept = append(kept, s)
	}
	w.sensors = kept[:len(kept)-excess]
}

// world is the simulated hamster room. It is only touched with Simulator.mu held.
type world struct {
	wheels []*wheel
	// resting maps a hamster that is off the wheels to the time it may run again.
	resting     map[string]time.Time
	nextHamster int
}

func newWorld(wheels, sensorsPerWheel, hamsters int) *world {
	w := &world{resting: make(map[string]time.Time, hamsters)}
	for i := 1; i <= wheels; i++ {
		wh := &wheel{id: fmt.Sprintf("wheel-%d", i), index: i}
		for j := 0; j < sensorsPerWheel; j++ {
			wh.addSensor()
		}
		w.wheels = append(w.wheels, wh)
	}
	w.resizeHamsters(hamsters)
	return w
}

// takeReady removes and returns a hamster that has rested long enough, if any.
// The lowest id wins so runs are reproducible.
func (w *world) takeReady(now time.Time) (string, bool) {
	best := ""
	for id, readyAt := range w.resting {
		if readyAt.After(now) {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	if best == "" {
		return "", false
	}
	delete(w.resting, best)
	return best, true
}

func (w *world) rest(hamsterID string, until time.Time) {
	w.resting[hamsterID] = until
}

func (w *world) hamsters() int {
	n := len(w.resting)
	for _, wh := range w.wheels {
		if wh.occupant != "" {
			n++
		}
	}
	return n
}

func (w *world) sensors() int {
	n := 0
	for _, wh := range w.wheels {
		n += len(wh.sensors)
	}
	return n
}

// resizeHamsters adds ready hamsters or releases them, resting ones first and
// then those on a wheel, until n remain.
func (w *world) resizeHamsters(n int) {
	for w.hamsters() < n {
		w.nextHamster++
		w.resting[fmt.Sprintf("hamster-%d", w.nextHamster)] = time.Time{}
	}

	excess := w.hamsters() - n
	if excess <= 0 {
		return
	}
	ids := make([]string, 0, len(w.resting))
	for id := range w.resting {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	for _, id := range ids {
		if excess == 0 {
			return
		}
		delete(w.resting, id)
		excess--
	}
	for _, wh := range w.wheels {
		if excess == 0 {
			return
		}
		if wh.occupant != "" {
			wh.occupant = ""
			wh.spinUntil = time.Time{}
			excess--
		}
	}
}

// resizeSensors spreads n sensors over the wheels as evenly as possible.
func (w *world) resizeSensors(n int) {
	if len(w.wheels) == 0 {
		return
	}
	base, extra := n/len(w.wheels), n%len(w.wheels)
	for i, wh := range w.wheels {
		target := base
		if i < extra {
			target++
		}
		if len(wh.sensors) > target {
			wh.trimSensors(target)
		}
		for len(wh.sensors) < target {
			wh.addSensor()
		}
	}
}
