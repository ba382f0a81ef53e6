package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knobd/internal/knob"
)

func newTestFleet(t *testing.T) *Fleet {
	t.Helper()
	f, err := NewFleet(DefaultConfig().Knobs, testRotaryConfig(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return f
}

// notes extracts the broadcast notifications from a command batch.
func notes(cmds []Command) []knob.Notification {
	var out []knob.Notification
	for _, c := range cmds {
		if b, ok := c.(CmdBroadcast); ok {
			out = append(out, b.Broadcast.Note)
		}
	}
	return out
}

// replyOf returns the reply carried by the last command of a batch.
func replyOf(t *testing.T, cmds []Command) Reply {
	t.Helper()
	require.NotEmpty(t, cmds)
	r, ok := cmds[len(cmds)-1].(CmdReply)
	require.True(t, ok, "last command is %T", cmds[len(cmds)-1])
	return r.Result
}

func pointerAt(f *Fleet, id string, deg float64) PointerMove {
	p := f.knobs[id].ctrl.Geometry().PointFromAngle(deg)
	return PointerMove{Knob: id, X: p.X, Y: p.Y}
}

func TestFleet_DragNeedsConfirmation(t *testing.T) {
	f := newTestFleet(t)

	f.Handle(PointerGrant{Knob: "kitchen"})
	cmds := f.Handle(pointerAt(f, "kitchen", 100))
	require.Len(t, notes(cmds), 1)
	assert.Equal(t, "MEDIUM", notes(cmds)[0].(knob.Hover).Step.ID)

	cmds = f.Handle(PointerRelease{Knob: "kitchen"})
	require.Len(t, notes(cmds), 1)
	assert.Equal(t, "MEDIUM", notes(cmds)[0].(knob.PendingProposed).Step.ID)

	reply := make(chan Reply, 1)
	cmds = f.Handle(Confirm{Knob: "kitchen", Reply: reply})
	require.Len(t, cmds, 2)
	commit, ok := cmds[0].(CmdBroadcast)
	require.True(t, ok)
	assert.Equal(t, "kitchen", commit.Broadcast.Knob)
	assert.Equal(t, knob.StepValue("MEDIUM"), commit.Broadcast.Note.(knob.Commit).Committed.Value)

	r := replyOf(t, cmds)
	require.NoError(t, r.Err)
	require.NotNil(t, r.Knob)
	assert.Equal(t, "kitchen", r.Knob.ID)
	assert.Equal(t, "MEDIUM", r.Knob.Committed.Value.StepID)
	assert.Nil(t, r.Knob.Pending)
}

func TestFleet_ConfirmWithoutPending(t *testing.T) {
	f := newTestFleet(t)

	reply := make(chan Reply, 1)
	r := replyOf(t, f.Handle(Confirm{Knob: "kitchen", Reply: reply}))
	assert.ErrorIs(t, r.Err, knob.ErrNothingPending)
	require.NotNil(t, r.Knob)
	assert.Equal(t, "OFF", r.Knob.Committed.Value.StepID)
}

func TestFleet_UnknownKnob(t *testing.T) {
	f := newTestFleet(t)

	reply := make(chan Reply, 1)
	r := replyOf(t, f.Handle(SetValue{Knob: "garage", Value: "HIGH", Reply: reply}))
	assert.Equal(t, errUnknownKnob{ID: "garage"}, r.Err)

	// Fire-and-forget events for unknown knobs produce nothing.
	assert.Empty(t, f.Handle(PointerGrant{Knob: "garage"}))

	r = replyOf(t, f.Handle(RequestSnapshot{Knob: "garage", Reply: reply}))
	assert.Equal(t, errUnknownKnob{ID: "garage"}, r.Err)
}

func TestFleet_SetValue(t *testing.T) {
	f := newTestFleet(t)
	reply := make(chan Reply, 1)

	r := replyOf(t, f.Handle(SetValue{Knob: "thermostat", Value: 25.4, Reply: reply}))
	require.NoError(t, r.Err)
	assert.Equal(t, 25.0, r.Knob.Committed.Value.Number)

	r = replyOf(t, f.Handle(SetValue{Knob: "kitchen", Value: "BOIL", Reply: reply}))
	assert.ErrorIs(t, r.Err, knob.ErrUnknownStep)

	r = replyOf(t, f.Handle(SetValue{Knob: "kitchen", Value: nil, Reply: reply}))
	assert.ErrorIs(t, r.Err, knob.ErrInvalidValue)

	r = replyOf(t, f.Handle(SetValue{Knob: "kitchen", Value: 3.0, Reply: reply}))
	assert.ErrorIs(t, r.Err, knob.ErrWrongMode)
}

func TestFleet_SnapshotAllInConfigOrder(t *testing.T) {
	f := newTestFleet(t)
	reply := make(chan Reply, 1)

	r := replyOf(t, f.Handle(RequestSnapshot{Reply: reply}))
	require.Len(t, r.Knobs, 4)

	var ids []string
	for _, k := range r.Knobs {
		ids = append(ids, k.ID)
	}
	assert.Equal(t, []string{"kitchen", "kitchen-new", "bedroom", "thermostat"}, ids)
	assert.Equal(t, f.IDs(), ids)

	assert.False(t, r.Knobs[1].Enabled)
	assert.Len(t, r.Knobs[0].Steps, 4)
	assert.Nil(t, r.Knobs[0].Range)
	require.NotNil(t, r.Knobs[3].Range)
	assert.Equal(t, rangeView{Min: 10, Max: 30, Resolution: 1}, *r.Knobs[3].Range)
	assert.Equal(t, 180.0, r.Knobs[3].AngleDeg)
}

func TestFleet_TickSettlesAndExpiresEncoder(t *testing.T) {
	f := newTestFleet(t)
	now := t0

	f.Handle(TimedEvent{Event: RotaryTurn{Knob: "thermostat", Steps: 2}, At: now})
	assert.Equal(t, knob.PhaseDragging, f.knobs["thermostat"].ctrl.Phase())

	var all []knob.Notification
	for i := 0; i < 200; i++ {
		now = now.Add(16 * time.Millisecond)
		all = append(all, notes(f.Handle(Tick{Now: now, Dt: 16 * time.Millisecond}))...)
	}

	assert.Equal(t, knob.PhaseIdle, f.knobs["thermostat"].ctrl.Phase())
	assert.Equal(t, 22.0, f.knobs["thermostat"].ctrl.Committed().Value.Number)

	var commits, settles int
	for _, n := range all {
		switch n.(type) {
		case knob.Commit:
			commits++
		case knob.Settled:
			settles++
		}
	}
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, settles)
}

func TestFleet_SetEnabledDiscardsPending(t *testing.T) {
	f := newTestFleet(t)

	f.Handle(PointerGrant{Knob: "bedroom"})
	f.Handle(pointerAt(f, "bedroom", 170))
	f.Handle(PointerRelease{Knob: "bedroom"})

	reply := make(chan Reply, 1)
	cmds := f.Handle(SetEnabled{Knob: "bedroom", Enabled: false, Reply: reply})
	got := notes(cmds)
	require.Len(t, got, 2)
	assert.Equal(t, knob.DiscardDisabled, got[0].(knob.PendingDiscarded).Reason)
	assert.Equal(t, knob.EnabledChanged{Enabled: false}, got[1])

	r := replyOf(t, cmds)
	require.NoError(t, r.Err)
	assert.False(t, r.Knob.Enabled)
	assert.Equal(t, "MEDIUM", r.Knob.Committed.Value.StepID)
}

func TestNewFleet_RejectsDuplicateIDs(t *testing.T) {
	knobs := DefaultConfig().Knobs
	knobs = append(knobs, knobs[0])
	_, err := NewFleet(knobs, testRotaryConfig(), slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
