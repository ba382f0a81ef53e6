package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"knobd/internal/knob"
)

func TestMetrics_ObserveNotification(t *testing.T) {
	m := NewMetrics()
	high := knob.Step{ID: "HIGH", AngleDeg: 180, Value: 200}

	m.ObserveNotification(Broadcast{Knob: "kitchen", Note: knob.Commit{Committed: knob.CommittedValue{Value: knob.StepValue("HIGH"), Revision: 1}, Step: high}})
	m.ObserveNotification(Broadcast{Knob: "kitchen", Note: knob.PendingDiscarded{Step: high, Reason: knob.DiscardNewGesture}})
	m.ObserveNotification(Broadcast{Knob: "kitchen", Note: knob.Settled{AngleDeg: 180}})
	m.ObserveNotification(Broadcast{Knob: "thermostat", Note: knob.LiveChange{Value: 21}})
	m.ObserveNotification(Broadcast{Knob: "thermostat", Note: knob.LiveChange{Value: 22}})
	m.ObserveNotification(Broadcast{Knob: "thermostat", Note: knob.Synced{Committed: knob.CommittedValue{Value: knob.Number(19), Revision: 1}}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("kitchen")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.committedVal.WithLabelValues("kitchen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discarded.WithLabelValues("kitchen", "new_gesture")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settles.WithLabelValues("kitchen")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.liveChanges.WithLabelValues("thermostat")))
	assert.Equal(t, 19.0, testutil.ToFloat64(m.committedVal.WithLabelValues("thermostat")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.commits.WithLabelValues("thermostat")))
}

func TestMetrics_SeededFromFleet(t *testing.T) {
	m := NewMetrics()
	newTestFleet(t).seedMetrics(m)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.committedVal.WithLabelValues("kitchen")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.committedVal.WithLabelValues("bedroom")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.committedVal.WithLabelValues("thermostat")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("confirm")
	m.ObserveNotification(Broadcast{Note: knob.Settled{}})
	m.SetCommitted("kitchen", knob.Number(1), knob.Step{})
}
