package main

import (
	"math"
	"time"

	"knobd/internal/knob"
)

// RotaryConfig is the encoder policy: velocity scaling for fast spins and the
// idle time after which a synthetic drag is released.
type RotaryConfig struct {
	VelocityWindow     time.Duration
	VelocityMultiplier float64
	VelocityThreshold  int
	ReleaseAfter       time.Duration
}

// rotaryState tracks recent encoder activity for velocity detection.
// This allows us to detect "fast spinning" and scale the step size accordingly.
//
// This is intended to be called only by the daemon goroutine (single-owner).
type rotaryState struct {
	recentSteps []rotaryStep
}

// rotaryStep records a single encoder detent/step
type rotaryStep struct {
	timestamp time.Time
	direction int // +1 for clockwise, -1 for counter-clockwise
}

// newRotaryState creates a new rotary state tracker
func newRotaryState() *rotaryState {
	return &rotaryState{
		recentSteps: make([]rotaryStep, 0, 16), // Pre-allocate small capacity
	}
}

// addStep records a new encoder step at now and returns the count of recent
// steps in the same direction within the velocity window.
//
// This count can be used to determine if the user is "fast spinning" the encoder.
func (r *rotaryState) addStep(now time.Time, direction int, window time.Duration) int {
	cutoff := now.Add(-window)

	// Remove old steps outside the velocity window
	filtered := r.recentSteps[:0] // reuse underlying array
	for _, s := range r.recentSteps {
		if s.timestamp.After(cutoff) {
			filtered = append(filtered, s)
		}
	}

	filtered = append(filtered, rotaryStep{
		timestamp: now,
		direction: direction,
	})
	r.recentSteps = filtered

	// Count steps in same direction within window
	sameDir := 0
	for _, s := range filtered {
		if s.direction == direction {
			sameDir++
		}
	}

	return sameDir
}

// encoderDrag is a synthetic drag driven by encoder detents. The first detent
// grants the knob; each detent moves the virtual pointer; the daemon releases
// it after ReleaseAfter without detents.
type encoderDrag struct {
	rotary *rotaryState

	active     bool
	angle      float64
	lastTurnAt time.Time
}

func newEncoderDrag() *encoderDrag {
	return &encoderDrag{rotary: newRotaryState()}
}

// turn applies steps detents to ctrl.
func (e *encoderDrag) turn(ctrl *knob.Controller, steps int, degPerDetent float64, cfg RotaryConfig, now time.Time) {
	if steps == 0 {
		return
	}

	// A pointer release (or a disable) may have ended our drag from outside.
	if e.active && ctrl.Phase() == knob.PhaseIdle {
		e.active = false
	}
	if !e.active {
		if !ctrl.Grant() {
			return
		}
		e.active = true
		e.angle = ctrl.CommittedAngle()
	}

	dir := 1
	if steps < 0 {
		dir = -1
	}
	mult := 1.0
	if n := e.rotary.addStep(now, dir, cfg.VelocityWindow); cfg.VelocityThreshold > 0 && n >= cfg.VelocityThreshold {
		mult = cfg.VelocityMultiplier
	}

	g := ctrl.Geometry()
	e.angle += float64(steps) * degPerDetent * mult
	e.angle = math.Min(g.ArcEndDeg, math.Max(g.ArcStartDeg, e.angle))
	e.lastTurnAt = now

	ctrl.Move(g.PointFromAngle(e.angle))
}

// expire releases the synthetic drag once the encoder has been idle long enough.
func (e *encoderDrag) expire(ctrl *knob.Controller, cfg RotaryConfig, now time.Time) {
	if !e.active {
		return
	}
	if ctrl.Phase() == knob.PhaseIdle {
		e.active = false
		return
	}
	if now.Sub(e.lastTurnAt) >= cfg.ReleaseAfter {
		e.active = false
		ctrl.Release()
	}
}
