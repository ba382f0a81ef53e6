package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"knobd/internal/knob"
)

// ============================================================================
// Events - inputs to the daemon loop
// ============================================================================
// Events come from pointer hosts (WS clients), IPC, the HTTP API, rotary
// encoders and the daemon's own ticker. The daemon loop applies them to the
// hosted knob controllers one at a time.
// ============================================================================

// Event is a marker interface for all daemon inputs.
type Event interface {
	eventMarker()
}

// TimedEvent wraps an event with its arrival time (assigned by the daemon loop).
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick advances every knob's animation by Dt.
type Tick struct {
	Now time.Time
	Dt  time.Duration
}

func (Tick) eventMarker() {}

// Reply is the daemon's answer to a request-style event.
type Reply struct {
	Knob  *KnobSnapshot
	Knobs []KnobSnapshot
	Err   error
}

// PointerGrant starts a drag on a knob.
type PointerGrant struct {
	Knob string `json:"knob"`
}

// PointerMove carries a live pointer position in the knob's coordinate space.
type PointerMove struct {
	Knob string  `json:"knob"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// PointerRelease ends a drag.
type PointerRelease struct {
	Knob string `json:"knob"`
}

// PointerCancel ends a drag that the host interrupted.
type PointerCancel struct {
	Knob string `json:"knob"`
}

// Confirm commits a knob's pending step.
type Confirm struct {
	Knob  string       `json:"knob"`
	Reply chan<- Reply `json:"-"`
}

// CancelPending drops a knob's pending step.
type CancelPending struct {
	Knob  string       `json:"knob"`
	Reply chan<- Reply `json:"-"`
}

// SetValue sets a knob's committed value from outside the gesture flow.
// Value is a number (continuous) or a step id (discrete).
type SetValue struct {
	Knob  string       `json:"knob"`
	Value any          `json:"value"`
	Reply chan<- Reply `json:"-"`
}

// SetEnabled toggles a knob's power/enabled flag.
type SetEnabled struct {
	Knob    string       `json:"knob"`
	Enabled bool         `json:"enabled"`
	Reply   chan<- Reply `json:"-"`
}

// RotaryTurn represents raw rotary encoder movement (detents/steps).
// The daemon turns it into a synthetic drag on the knob.
type RotaryTurn struct {
	Knob  string `json:"knob"`
	Steps int    `json:"steps"` // positive=clockwise
}

// RequestSnapshot asks for one knob's state, or every knob's when Knob is empty.
type RequestSnapshot struct {
	Knob  string       `json:"knob,omitempty"`
	Reply chan<- Reply `json:"-"`
}

func (PointerGrant) eventMarker()    {}
func (PointerMove) eventMarker()     {}
func (PointerRelease) eventMarker()  {}
func (PointerCancel) eventMarker()   {}
func (Confirm) eventMarker()         {}
func (CancelPending) eventMarker()   {}
func (SetValue) eventMarker()        {}
func (SetEnabled) eventMarker()      {}
func (RotaryTurn) eventMarker()      {}
func (RequestSnapshot) eventMarker() {}

// replyable events can carry a reply channel back to the requester.
type replyable interface {
	Event
	withReply(chan<- Reply) Event
}

func (e Confirm) withReply(r chan<- Reply) Event         { e.Reply = r; return e }
func (e CancelPending) withReply(r chan<- Reply) Event   { e.Reply = r; return e }
func (e SetValue) withReply(r chan<- Reply) Event        { e.Reply = r; return e }
func (e SetEnabled) withReply(r chan<- Reply) Event      { e.Reply = r; return e }
func (e RequestSnapshot) withReply(r chan<- Reply) Event { e.Reply = r; return e }

// valueFromAny converts a decoded JSON/YAML scalar into a knob value.
func valueFromAny(v any) (knob.Value, error) {
	switch x := v.(type) {
	case float64:
		return knob.Number(x), nil
	case float32:
		return knob.Number(float64(x)), nil
	case int:
		return knob.Number(float64(x)), nil
	case int64:
		return knob.Number(float64(x)), nil
	case uint64:
		return knob.Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return knob.Value{}, fmt.Errorf("%w: number %q", knob.ErrInvalidValue, x.String())
		}
		return knob.Number(f), nil
	case string:
		if x == "" {
			return knob.Value{}, fmt.Errorf("%w: empty step id", knob.ErrInvalidValue)
		}
		return knob.StepValue(x), nil
	case nil:
		return knob.Value{}, fmt.Errorf("%w: value is required", knob.ErrInvalidValue)
	default:
		return knob.Value{}, fmt.Errorf("%w: unsupported type %T", knob.ErrInvalidValue, v)
	}
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeEvent[T Event](data json.RawMessage) (Event, error) {
	var ev T
	if len(data) == 0 {
		return nil, fmt.Errorf("unmarshal %T: missing data", ev)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", ev, err)
	}
	return ev, nil
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "pointer_grant":
		return decodeEvent[PointerGrant](env.Data)
	case "pointer_move":
		return decodeEvent[PointerMove](env.Data)
	case "pointer_release":
		return decodeEvent[PointerRelease](env.Data)
	case "pointer_cancel":
		return decodeEvent[PointerCancel](env.Data)
	case "confirm":
		return decodeEvent[Confirm](env.Data)
	case "cancel_pending":
		return decodeEvent[CancelPending](env.Data)
	case "set_value":
		return decodeEvent[SetValue](env.Data)
	case "set_enabled":
		return decodeEvent[SetEnabled](env.Data)
	case "rotary_turn":
		return decodeEvent[RotaryTurn](env.Data)
	case "request_snapshot":
		if len(env.Data) == 0 {
			return RequestSnapshot{}, nil
		}
		return decodeEvent[RequestSnapshot](env.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// eventType returns the wire discriminator for an event, or "" for internal events.
func eventType(e Event) string {
	switch e.(type) {
	case PointerGrant:
		return "pointer_grant"
	case PointerMove:
		return "pointer_move"
	case PointerRelease:
		return "pointer_release"
	case PointerCancel:
		return "pointer_cancel"
	case Confirm:
		return "confirm"
	case CancelPending:
		return "cancel_pending"
	case SetValue:
		return "set_value"
	case SetEnabled:
		return "set_enabled"
	case RotaryTurn:
		return "rotary_turn"
	case RequestSnapshot:
		return "request_snapshot"
	default:
		return ""
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	typ := eventType(e)
	if typ == "" {
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", e, err)
	}
	return json.Marshal(EventEnvelope{Type: typ, Data: data})
}

// knobOf returns the knob id an event targets.
func knobOf(e Event) string {
	switch ev := e.(type) {
	case PointerGrant:
		return ev.Knob
	case PointerMove:
		return ev.Knob
	case PointerRelease:
		return ev.Knob
	case PointerCancel:
		return ev.Knob
	case Confirm:
		return ev.Knob
	case CancelPending:
		return ev.Knob
	case SetValue:
		return ev.Knob
	case SetEnabled:
		return ev.Knob
	case RotaryTurn:
		return ev.Knob
	case RequestSnapshot:
		return ev.Knob
	default:
		return ""
	}
}

// errUnknownKnob is returned for events addressed to a knob id that is not hosted.
type errUnknownKnob struct {
	ID string
}

func (e errUnknownKnob) Error() string { return "unknown knob: " + strconv.Quote(e.ID) }
