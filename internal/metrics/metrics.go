// Package metrics defines the prometheus collectors shared by the tracker components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wheel_tracker_"

// Outcomes of applying one event.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeOrphan    = "orphan"
	OutcomeIgnored   = "ignored"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	RoundsCounted   prometheus.Counter
	AlertsRaised    *prometheus.CounterVec
	DaysFinalized   *prometheus.CounterVec
	SpinsPruned     prometheus.Counter
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "events_published_total",
			Help: "Events accepted by ingress, by event type.",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "events_dropped_total",
			Help: "Events dropped because a bounded subscription was full.",
		}, []string{"subscription"}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "events_processed_total",
			Help: "Events handled by the dispatcher, by event type and outcome.",
		}, []string{"type", "outcome"}),
		RoundsCounted: factory.NewCounter(prometheus.CounterOpts{
			Name: namespace + "rounds_counted_total",
			Help: "Wheel rounds added to daily statistics.",
		}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "inactivity_alerts_total",
			Help: "Inactivity alerts raised, by entity kind.",
		}, []string{"kind"}),
		DaysFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "days_finalized_total",
			Help: "Days exported to durable storage, by result.",
		}, []string{"result"}),
		SpinsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: namespace + "spin_windows_pruned_total",
			Help: "Spin dedup entries removed by the retention sweep.",
		}),
	}
}
