package main

import (
	"encoding/binary"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateInput(t *testing.T) {
	tests := []struct {
		name string
		ev   inputEvent
		want Event
	}{
		{"dial clockwise", inputEvent{Type: EV_REL, Code: REL_DIAL, Value: 2}, RotaryTurn{Knob: "kitchen", Steps: 2}},
		{"wheel counter-clockwise", inputEvent{Type: EV_REL, Code: REL_WHEEL, Value: -1}, RotaryTurn{Knob: "kitchen", Steps: -1}},
		{"enter press", inputEvent{Type: EV_KEY, Code: KEY_ENTER, Value: evValuePress}, Confirm{Knob: "kitchen"}},
		{"button press", inputEvent{Type: EV_KEY, Code: BTN_0, Value: evValuePress}, Confirm{Knob: "kitchen"}},
		{"escape press", inputEvent{Type: EV_KEY, Code: KEY_ESC, Value: evValuePress}, CancelPending{Knob: "kitchen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translateInput("kitchen", tt.ev)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	ignored := []inputEvent{
		{Type: EV_SYN},
		{Type: EV_REL, Code: REL_DIAL, Value: 0},
		{Type: EV_REL, Code: 0x00, Value: 3}, // REL_X
		{Type: EV_KEY, Code: KEY_ENTER, Value: evValueRelease},
		{Type: EV_KEY, Code: KEY_ENTER, Value: evValueRepeat},
		{Type: EV_KEY, Code: 30, Value: evValuePress}, // KEY_A
	}
	for _, ev := range ignored {
		_, ok := translateInput("kitchen", ev)
		assert.False(t, ok, "%+v", ev)
	}
}

func TestReadInputEvents(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	events := make(chan deviceEvent, 4)
	readErr := make(chan error, 1)
	go readInputEvents(r, events, readErr)

	want := inputEvent{Sec: 1, Usec: 2, Type: EV_REL, Code: REL_DIAL, Value: -3}
	require.NoError(t, binary.Write(w, binary.LittleEndian, want))
	require.NoError(t, w.Close())

	select {
	case got := <-events:
		assert.Equal(t, r.Name(), got.Device)
		assert.Equal(t, want, got.Event)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for input event")
	}

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read error")
	}
}
