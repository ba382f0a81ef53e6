package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knobd/internal/knob"
)

// waitForNote drains src until a notification for knobID matches want.
func waitForNote(t *testing.T, src <-chan Broadcast, knobID string, want func(knob.Notification) bool) Broadcast {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-src:
			if b.Knob == knobID && want(b.Note) {
				return b
			}
		case <-deadline:
			t.Fatalf("timeout waiting for notification on %s", knobID)
			return Broadcast{}
		}
	}
}

func TestDaemon_DragConfirmBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet := newTestFleet(t)
	move := pointerAt(fleet, "kitchen", 100)

	events := make(chan Event, 16)
	ws := make(chan Broadcast, 256)
	pub := make(chan Broadcast, 16)
	go runDaemon(ctx, events, fleet, Sinks{WS: ws, Publish: pub}, defaultUpdateHz, slog.New(slog.DiscardHandler))

	events <- PointerGrant{Knob: "kitchen"}
	events <- move
	events <- PointerRelease{Knob: "kitchen"}

	waitForNote(t, ws, "kitchen", func(n knob.Notification) bool {
		_, ok := n.(knob.PendingProposed)
		return ok
	})

	reply, err := request(ctx, events, Confirm{Knob: "kitchen"})
	require.NoError(t, err)
	require.NoError(t, reply.Err)
	require.NotNil(t, reply.Knob)
	assert.Equal(t, "MEDIUM", reply.Knob.Committed.Value.StepID)

	b := waitForNote(t, ws, "kitchen", func(n knob.Notification) bool {
		_, ok := n.(knob.Commit)
		return ok
	})
	assert.False(t, b.At.IsZero())

	// Only the commit reaches the publisher.
	select {
	case got := <-pub:
		assert.IsType(t, knob.Commit{}, got.Note)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}
	assert.Empty(t, pub)
}

func TestDaemon_RequestSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	go runDaemon(ctx, events, newTestFleet(t), Sinks{}, defaultUpdateHz, slog.New(slog.DiscardHandler))

	reply, err := request(ctx, events, RequestSnapshot{})
	require.NoError(t, err)
	require.Len(t, reply.Knobs, 4)
	assert.Equal(t, []string{"kitchen", "kitchen-new", "bedroom", "thermostat"},
		[]string{reply.Knobs[0].ID, reply.Knobs[1].ID, reply.Knobs[2].ID, reply.Knobs[3].ID})

	reply, err = request(ctx, events, RequestSnapshot{Knob: "bedroom"})
	require.NoError(t, err)
	require.NotNil(t, reply.Knob)
	assert.Equal(t, "MEDIUM", reply.Knob.Committed.Value.StepID)
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	events := make(chan Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(context.Background(), events, newTestFleet(t), Sinks{}, defaultUpdateHz, slog.New(slog.DiscardHandler))
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop after events channel closed")
	}
}

func TestRequest_TimesOutWithoutDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := request(ctx, make(chan Event), Confirm{Knob: "kitchen"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunEffect_NonBlocking(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ws := make(chan Broadcast) // unbuffered, nobody reading
	pub := make(chan Broadcast, 1)
	m := NewMetrics()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runEffect(CmdBroadcast{Broadcast: Broadcast{Knob: "thermostat", Note: knob.LiveChange{Value: 21}}}, Sinks{WS: ws, Publish: pub, Metrics: m}, logger)
		runEffect(CmdBroadcast{Broadcast: Broadcast{Knob: "thermostat", Note: knob.Synced{Committed: knob.CommittedValue{Value: knob.Number(21), Revision: 1}}}}, Sinks{WS: ws, Publish: pub, Metrics: m}, logger)
		// Reply channel already full.
		full := make(chan Reply, 1)
		full <- Reply{}
		runEffect(CmdReply{Reply: full, Result: Reply{}}, Sinks{}, logger)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runEffect blocked")
	}

	require.Len(t, pub, 1)
	assert.IsType(t, knob.Synced{}, (<-pub).Note)
}

func TestPublishable(t *testing.T) {
	assert.True(t, publishable(knob.Commit{}))
	assert.True(t, publishable(knob.Synced{}))
	assert.False(t, publishable(knob.LiveChange{}))
	assert.False(t, publishable(knob.PendingProposed{}))
	assert.False(t, publishable(knob.Settled{}))
}
