package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"knobd/internal/knob"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commits       *prometheus.CounterVec
	liveChanges   *prometheus.CounterVec
	discarded     *prometheus.CounterVec
	settles       *prometheus.CounterVec
	committedVal  *prometheus.GaugeVec
	eventsHandled *prometheus.CounterVec
}

// NewMetrics registers the knobd collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobd_commits_total",
				Help: "Values committed through user input.",
			},
			[]string{"knob"},
		),
		liveChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobd_live_changes_total",
				Help: "Live value changes emitted while dragging.",
			},
			[]string{"knob"},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobd_pending_discarded_total",
				Help: "Pending changes dropped without a commit.",
			},
			[]string{"knob", "reason"},
		),
		settles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobd_settles_total",
				Help: "Indicator animations that came to rest.",
			},
			[]string{"knob"},
		),
		committedVal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "knobd_committed_value",
				Help: "Current committed value (step value for discrete knobs).",
			},
			[]string{"knob"},
		),
		eventsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobd_events_total",
				Help: "Events received by the daemon loop.",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(m.commits, m.liveChanges, m.discarded, m.settles, m.committedVal, m.eventsHandled)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one inbound event by wire type.
func (m *Metrics) ObserveEvent(typ string) {
	if m == nil {
		return
	}
	m.eventsHandled.WithLabelValues(typ).Inc()
}

// ObserveNotification records a knob notification.
func (m *Metrics) ObserveNotification(b Broadcast) {
	if m == nil {
		return
	}
	switch n := b.Note.(type) {
	case knob.LiveChange:
		m.liveChanges.WithLabelValues(b.Knob).Inc()
	case knob.Commit:
		m.commits.WithLabelValues(b.Knob).Inc()
		m.committedVal.WithLabelValues(b.Knob).Set(gaugeValue(n.Committed.Value, n.Step))
	case knob.Synced:
		m.committedVal.WithLabelValues(b.Knob).Set(gaugeValue(n.Committed.Value, n.Step))
	case knob.PendingDiscarded:
		m.discarded.WithLabelValues(b.Knob, string(n.Reason)).Inc()
	case knob.Settled:
		m.settles.WithLabelValues(b.Knob).Inc()
	}
}

// SetCommitted seeds the committed-value gauge at startup.
func (m *Metrics) SetCommitted(id string, v knob.Value, step knob.Step) {
	if m == nil {
		return
	}
	m.committedVal.WithLabelValues(id).Set(gaugeValue(v, step))
}

func gaugeValue(v knob.Value, step knob.Step) float64 {
	if v.StepID != "" {
		return step.Value
	}
	return v.Number
}
