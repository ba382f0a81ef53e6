package main

import (
	"fmt"
	"log/slog"
	"time"

	"knobd/internal/knob"
)

// Fleet is the daemon-owned set of hosted knobs.
//
// This is intended to be used only by the daemon goroutine (single-owner):
// knob controllers are not safe for concurrent use, and every event is applied
// to completion before the next one.
type Fleet struct {
	knobs map[string]*hostedKnob
	order []string

	rotaryCfg RotaryConfig
	logger    *slog.Logger

	// Commands produced while handling the current event, in order.
	outbox []Command
	now    time.Time
}

type hostedKnob struct {
	profile      KnobProfile
	ctrl         *knob.Controller
	encoder      *encoderDrag
	degPerDetent float64
}

// KnobSnapshot is the externally visible state of one hosted knob.
type KnobSnapshot struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Location        string `json:"location,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	knob.Snapshot

	ArcStartDeg float64     `json:"arc_start_deg"`
	ArcEndDeg   float64     `json:"arc_end_deg"`
	Steps       []knob.Step `json:"steps,omitempty"`
	Range       *rangeView  `json:"range,omitempty"`
}

type rangeView struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Resolution float64 `json:"resolution"`
}

// NewFleet builds one controller per profile. Profiles are expected to have
// passed Config.Validate.
func NewFleet(profiles []KnobProfile, rotaryCfg RotaryConfig, logger *slog.Logger) (*Fleet, error) {
	f := &Fleet{
		knobs:     make(map[string]*hostedKnob, len(profiles)),
		rotaryCfg: rotaryCfg,
		logger:    logger,
	}

	for _, p := range profiles {
		if _, dup := f.knobs[p.ID]; dup {
			return nil, fmt.Errorf("duplicate knob id %q", p.ID)
		}
		kc, err := p.KnobConfig()
		if err != nil {
			return nil, fmt.Errorf("knob %s: %w", p.ID, err)
		}

		id := p.ID
		ctrl, err := knob.New(kc,
			knob.WithLogger(logger.With("knob", id)),
			knob.WithNotifier(func(n knob.Notification) {
				f.outbox = append(f.outbox, CmdBroadcast{Broadcast: Broadcast{Knob: id, At: f.now, Note: n}})
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("knob %s: %w", p.ID, err)
		}

		f.knobs[id] = &hostedKnob{
			profile:      p,
			ctrl:         ctrl,
			encoder:      newEncoderDrag(),
			degPerDetent: p.degreesPerDetent(),
		}
		f.order = append(f.order, id)
	}
	return f, nil
}

// IDs returns the hosted knob ids in config order.
func (f *Fleet) IDs() []string { return append([]string(nil), f.order...) }

// Handle applies one event and returns the resulting commands in order.
func (f *Fleet) Handle(ev Event) []Command {
	f.now = time.Now()
	if te, ok := ev.(TimedEvent); ok {
		ev = te.Event
		if !te.At.IsZero() {
			f.now = te.At
		}
	}

	switch e := ev.(type) {
	case Tick:
		if !e.Now.IsZero() {
			f.now = e.Now
		}
		for _, id := range f.order {
			h := f.knobs[id]
			h.encoder.expire(h.ctrl, f.rotaryCfg, f.now)
			h.ctrl.Tick(e.Dt)
		}

	case RequestSnapshot:
		if e.Knob == "" {
			all := make([]KnobSnapshot, 0, len(f.order))
			for _, id := range f.order {
				all = append(all, f.knobs[id].snapshot())
			}
			f.reply(e.Reply, Reply{Knobs: all})
			break
		}
		h, ok := f.knobs[e.Knob]
		if !ok {
			f.reply(e.Reply, Reply{Err: errUnknownKnob{ID: e.Knob}})
			break
		}
		snap := h.snapshot()
		f.reply(e.Reply, Reply{Knob: &snap})

	default:
		id := knobOf(ev)
		h, ok := f.knobs[id]
		if !ok {
			err := errUnknownKnob{ID: id}
			f.logger.Warn("event for unknown knob", "type", fmt.Sprintf("%T", ev), "knob", id)
			if r, ok := ev.(replyable); ok {
				f.reply(replyChan(r), Reply{Err: err})
			}
			break
		}
		f.apply(h, ev)
	}

	out := f.outbox
	f.outbox = nil
	return out
}

func (f *Fleet) apply(h *hostedKnob, ev Event) {
	switch e := ev.(type) {
	case PointerGrant:
		h.ctrl.Grant()
	case PointerMove:
		h.ctrl.Move(knob.Point{X: e.X, Y: e.Y})
	case PointerRelease:
		h.ctrl.Release()
	case PointerCancel:
		h.ctrl.Cancel()

	case Confirm:
		_, err := h.ctrl.Confirm()
		f.answer(e.Reply, h, err)

	case CancelPending:
		f.answer(e.Reply, h, h.ctrl.CancelPending())

	case SetValue:
		v, err := valueFromAny(e.Value)
		if err == nil {
			_, err = h.ctrl.SetExternalValue(v)
		}
		f.answer(e.Reply, h, err)

	case SetEnabled:
		h.ctrl.SetEnabled(e.Enabled)
		f.answer(e.Reply, h, nil)

	case RotaryTurn:
		h.encoder.turn(h.ctrl, e.Steps, h.degPerDetent, f.rotaryCfg, f.now)

	default:
		f.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

// answer replies with the knob's post-event snapshot. Requests without a
// reply channel (IPC fire-and-forget, WS) only get their failures logged.
func (f *Fleet) answer(ch chan<- Reply, h *hostedKnob, err error) {
	if ch == nil {
		if err != nil {
			f.logger.Info("knob request failed", "knob", h.profile.ID, "error", err)
		}
		return
	}
	snap := h.snapshot()
	f.reply(ch, Reply{Knob: &snap, Err: err})
}

func (f *Fleet) reply(ch chan<- Reply, r Reply) {
	if ch == nil {
		return
	}
	f.outbox = append(f.outbox, CmdReply{Reply: ch, Result: r})
}

func replyChan(ev Event) chan<- Reply {
	switch e := ev.(type) {
	case Confirm:
		return e.Reply
	case CancelPending:
		return e.Reply
	case SetValue:
		return e.Reply
	case SetEnabled:
		return e.Reply
	case RequestSnapshot:
		return e.Reply
	default:
		return nil
	}
}

func (h *hostedKnob) snapshot() KnobSnapshot {
	g := h.ctrl.Geometry()
	snap := KnobSnapshot{
		ID:              h.profile.ID,
		Name:            h.profile.Name,
		Location:        h.profile.Location,
		DeviceID:        h.profile.DeviceID,
		FirmwareVersion: h.profile.FirmwareVersion,
		Snapshot:        h.ctrl.Snapshot(),
		ArcStartDeg:     g.ArcStartDeg,
		ArcEndDeg:       g.ArcEndDeg,
	}
	if r, ok := h.ctrl.Range(); ok {
		snap.Range = &rangeView{Min: r.Min, Max: r.Max, Resolution: r.Resolution}
	} else {
		snap.Steps = h.ctrl.Steps()
	}
	return snap
}

// seedMetrics publishes every knob's initial committed value.
func (f *Fleet) seedMetrics(m *Metrics) {
	for _, id := range f.order {
		h := f.knobs[id]
		step, _ := h.ctrl.CommittedStep()
		m.SetCommitted(id, h.ctrl.Committed().Value, step)
	}
}
