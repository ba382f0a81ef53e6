package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// deviceEvent is an input event tagged with the device it was read from.
type deviceEvent struct {
	Device string
	Event  inputEvent
}

// readInputEvents reads input events from a single device and sends them to a channel.
// This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- deviceEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- deviceEvent{Device: f.Name(), Event: ev}
	}
}

// translateInput maps one raw encoder event to a daemon event for knobID.
//
//   - REL_DIAL / REL_WHEEL: detents, positive = clockwise
//   - KEY_ENTER / BTN_0 press: confirm the pending step
//   - KEY_ESC press: drop the pending step
func translateInput(knobID string, ev inputEvent) (Event, bool) {
	switch ev.Type {
	case EV_REL:
		if ev.Code != REL_DIAL && ev.Code != REL_WHEEL {
			return nil, false
		}
		if ev.Value == 0 {
			return nil, false
		}
		return RotaryTurn{Knob: knobID, Steps: int(ev.Value)}, true

	case EV_KEY:
		if ev.Value != evValuePress {
			return nil, false
		}
		switch ev.Code {
		case KEY_ENTER, BTN_0:
			return Confirm{Knob: knobID}, true
		case KEY_ESC:
			return CancelPending{Knob: knobID}, true
		}
	}
	return nil, false
}
