package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knobd/internal/knob"
)

func newTestPublisher(t *testing.T, opts ...PublisherOption) (*Publisher, *miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPublisherFromClient(client, opts...), mr, client
}

func TestPublisher_PublishCommit(t *testing.T) {
	p, mr, client := newTestPublisher(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "knobd:commit:kitchen")
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	step := knob.Step{ID: "HIGH", AngleDeg: 180, Label: "HIGH", Value: 200}
	err = p.Publish(ctx, Broadcast{
		Knob: "kitchen",
		At:   at,
		Note: knob.Commit{Committed: knob.CommittedValue{Value: knob.StepValue("HIGH"), Revision: 2}, Step: step},
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var got ValueMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "commit", got.Kind)
		assert.Equal(t, "HIGH", got.Value.StepID)
		assert.Equal(t, uint64(2), got.Revision)
		require.NotNil(t, got.Step)
		assert.Equal(t, 200.0, got.Step.Value)
		assert.True(t, at.Equal(got.At))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published message")
	}

	assert.True(t, mr.Exists("knobd:commit:last:kitchen"))
	last, ok, err := p.Last(ctx, "kitchen")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Revision)
}

func TestPublisher_IgnoresLiveNotifications(t *testing.T) {
	p, mr, _ := newTestPublisher(t, WithPrefix("panel:"))
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, Broadcast{Knob: "thermostat", Note: knob.LiveChange{Value: 22}}))
	require.NoError(t, p.Publish(ctx, Broadcast{Knob: "thermostat", Note: knob.Hover{}}))
	assert.Empty(t, mr.Keys())

	_, ok, err := p.Last(ctx, "thermostat")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Publish(ctx, Broadcast{
		Knob: "thermostat",
		Note: knob.Synced{Committed: knob.CommittedValue{Value: knob.Number(18), Revision: 5}},
	}))
	assert.Equal(t, []string{"panel:last:thermostat"}, mr.Keys())
	assert.Equal(t, "panel:thermostat", p.Channel("thermostat"))
}

func TestRunPublisher_DrainsUntilClosed(t *testing.T) {
	p, mr, _ := newTestPublisher(t)

	src := make(chan Broadcast, 4)
	src <- Broadcast{Knob: "bedroom", Note: knob.Commit{Committed: knob.CommittedValue{Value: knob.StepValue("SIM"), Revision: 1}}}
	src <- Broadcast{Knob: "thermostat", Note: knob.Synced{Committed: knob.CommittedValue{Value: knob.Number(25), Revision: 1}}}
	close(src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunPublisher(context.Background(), p, src, slog.New(slog.DiscardHandler))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop after source closed")
	}
	assert.True(t, mr.Exists("knobd:commit:last:bedroom"))
	assert.True(t, mr.Exists("knobd:commit:last:thermostat"))
}

func TestPublisher_RedisDown(t *testing.T) {
	p, mr, _ := newTestPublisher(t, WithTimeout(200*time.Millisecond))
	mr.Close()

	err := p.Publish(context.Background(), Broadcast{
		Knob: "kitchen",
		Note: knob.Commit{Committed: knob.CommittedValue{Value: knob.StepValue("OFF"), Revision: 1}},
	})
	assert.Error(t, err)
}
