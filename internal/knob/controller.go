package knob

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// PressConfig is the grab feedback: the knob scales up while held and springs
// back on release.
type PressConfig struct {
	Scale   float64
	Grab    SpringConfig
	Release SpringConfig
}

// DefaultPress matches the sample app's grab feedback.
func DefaultPress() PressConfig {
	return PressConfig{
		Scale:   1.1,
		Grab:    SpringConfig{Tension: 40, Friction: 3},
		Release: SpringConfig{Tension: 60, Friction: 50},
	}
}

// Config describes one knob. Exactly one of Range (continuous mode) and
// Steps (discrete mode) must be set.
type Config struct {
	Geometry Geometry
	Range    *Range
	Steps    []Step

	// Initial committed value. Zero picks the range minimum or the first step.
	Initial Value

	Disabled            bool
	RequireConfirmation bool

	// Spring drives the indicator after release. Zero means DefaultSpring.
	Spring SpringConfig

	// Press enables grab feedback when non-nil.
	Press *PressConfig
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for debug tracing of gate transitions and
// ignored input.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier registers the function that receives every Notification.
func WithNotifier(fn func(Notification)) Option {
	return func(c *Controller) { c.notify = fn }
}

// Controller is the rotary input controller. It owns a ValueStore, a
// ConfirmationGate, an AnimationDriver and at most one GestureSession.
//
// A Controller is not safe for concurrent use; the host serializes every call
// (pointer events, ticks, external sets) on one goroutine.
type Controller struct {
	mode  Mode
	geom  Geometry
	rng   Range
	steps []Step

	store  *ValueStore
	gate   *ConfirmationGate
	driver *AnimationDriver

	press    *AnimationDriver
	pressCfg PressConfig

	session       *GestureSession
	pendingSettle *SettleEvent

	notify func(Notification)
	logger *slog.Logger
}

// New validates cfg and returns a Controller at rest on its initial value.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		geom:   cfg.Geometry,
		logger: slog.New(slog.DiscardHandler),
	}

	switch {
	case cfg.Range != nil && cfg.Steps != nil:
		return nil, ErrModeConflict
	case cfg.Range != nil:
		if err := cfg.Range.Validate(); err != nil {
			return nil, err
		}
		c.mode = ModeContinuous
		c.rng = *cfg.Range
	case cfg.Steps != nil:
		if err := validateSteps(cfg.Steps); err != nil {
			return nil, err
		}
		c.mode = ModeDiscrete
		c.steps = append([]Step(nil), cfg.Steps...)
	default:
		return nil, ErrModeConflict
	}

	spring := cfg.Spring
	if spring == (SpringConfig{}) {
		spring = DefaultSpring()
	}
	if err := spring.Validate(); err != nil {
		return nil, err
	}

	initial, err := resolveInitial(c.mode, cfg.Initial, c.rng, c.steps)
	if err != nil {
		return nil, err
	}

	c.store = newValueStore(initial, !cfg.Disabled)
	c.gate = newConfirmationGate(cfg.RequireConfirmation)
	c.driver = NewAnimationDriver(spring, c.CommittedAngle())

	if cfg.Press != nil {
		if err := cfg.Press.Grab.Validate(); err != nil {
			return nil, fmt.Errorf("press grab: %w", err)
		}
		if err := cfg.Press.Release.Validate(); err != nil {
			return nil, fmt.Errorf("press release: %w", err)
		}
		c.pressCfg = *cfg.Press
		c.press = NewAnimationDriver(c.pressCfg.Release, 1)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Mode() Mode         { return c.mode }
func (c *Controller) Geometry() Geometry { return c.geom }
func (c *Controller) Enabled() bool      { return c.store.Enabled() }

// Range returns the continuous range; ok is false for discrete knobs.
func (c *Controller) Range() (r Range, ok bool) { return c.rng, c.mode == ModeContinuous }

// Steps returns a copy of the step list.
func (c *Controller) Steps() []Step { return append([]Step(nil), c.steps...) }

// Committed returns the authoritative value and its revision.
func (c *Controller) Committed() CommittedValue { return c.store.Committed() }

// CommittedStep returns the committed step of a discrete knob.
func (c *Controller) CommittedStep() (Step, bool) {
	if c.mode != ModeDiscrete {
		return Step{}, false
	}
	return findStep(c.steps, c.store.Committed().Value.StepID)
}

// Pending returns the step awaiting confirmation, if any.
func (c *Controller) Pending() (Step, bool) {
	p, ok := c.gate.Pending()
	if !ok {
		return Step{}, false
	}
	s, _ := findStep(c.steps, p.ProposedStepID)
	return s, true
}

// Phase is the current gesture phase; Idle when no drag is in progress.
func (c *Controller) Phase() Phase {
	if c.session == nil {
		return PhaseIdle
	}
	return c.session.Phase
}

// DisplayAngle is the indicator angle produced by the AnimationDriver.
func (c *Controller) DisplayAngle() float64 { return c.driver.Position() }

// Scale is the grab feedback scale (1 when press feedback is off).
func (c *Controller) Scale() float64 {
	if c.press == nil {
		return 1
	}
	return c.press.Position()
}

// CommittedAngle is the arc angle of the committed value.
func (c *Controller) CommittedAngle() float64 {
	v := c.store.Committed().Value
	if c.mode == ModeContinuous {
		return c.geom.AngleFromContinuousValue(v.Number, c.rng)
	}
	s, _ := findStep(c.steps, v.StepID)
	return s.AngleDeg
}

func (c *Controller) emit(n Notification) {
	if c.notify != nil {
		c.notify(n)
	}
}

func (c *Controller) stepFor(id string) Step {
	s, _ := findStep(c.steps, id)
	return s
}

// discardPending drops the pending change, if any, and reports it.
func (c *Controller) discardPending(reason DiscardReason) bool {
	p, ok := c.gate.discard()
	if !ok {
		return false
	}
	c.logger.Debug("pending change discarded", "step", p.ProposedStepID, "reason", reason)
	c.emit(PendingDiscarded{Step: c.stepFor(p.ProposedStepID), Reason: reason})
	return true
}

// ============================================================================
// Gesture input
// ============================================================================

// Grant starts a drag. It reports false when the knob is disabled or a drag
// is already in progress. A pending confirmation is discarded.
func (c *Controller) Grant() bool {
	if !c.store.Enabled() {
		c.logger.Debug("grant ignored (disabled)")
		return false
	}
	if c.session != nil {
		c.logger.Debug("grant ignored (drag in progress)")
		return false
	}

	c.discardPending(DiscardNewGesture)

	start := c.CommittedAngle()
	c.session = newGestureSession(start, c.store.Committed())
	// A settle queued by the previous animation belongs to the old gesture.
	c.pendingSettle = nil
	if !c.driver.AtRest() || c.driver.Position() != start {
		c.driver.AnimateTo(start)
	}
	if c.press != nil {
		c.press.cfg = c.pressCfg.Grab
		c.press.AnimateTo(c.pressCfg.Scale)
	}
	return true
}

// Move feeds the live pointer position of the current drag.
func (c *Controller) Move(p Point) {
	s := c.session
	if s == nil || s.Phase != PhaseDragging || !c.store.Enabled() {
		return
	}
	if c.store.Revision() != s.revision {
		c.logger.Debug("move ignored (value changed externally during drag)")
		return
	}

	angle := c.geom.ClampToArc(c.geom.AngleFromPointer(p))
	if !s.moveTo(angle) {
		return
	}

	switch c.mode {
	case ModeContinuous:
		v := c.geom.ContinuousValueFromAngle(angle, c.rng)
		if v == s.lastNumber {
			return
		}
		s.lastNumber = v
		c.driver.Track(angle)
		c.pendingSettle = nil
		c.emit(LiveChange{Value: v})

	case ModeDiscrete:
		c.driver.Track(angle)
		c.pendingSettle = nil
		step, _ := NearestStep(angle, c.steps)
		if step.ID != s.lastStepID {
			s.lastStepID = step.ID
			c.emit(Hover{Step: step})
		}
	}
}

// Release ends the drag: continuous knobs commit the last live value,
// discrete knobs route the nearest step through the confirmation gate.
func (c *Controller) Release() {
	s := c.session
	if s == nil {
		return
	}
	s.Phase = PhaseReleasing
	c.resolveRelease(s)
	s.Phase = PhaseIdle
	c.session = nil

	if c.press != nil {
		c.press.cfg = c.pressCfg.Release
		c.press.AnimateTo(1)
	}
}

// Cancel is an externally interrupted drag. It resolves exactly like Release.
func (c *Controller) Cancel() { c.Release() }

func (c *Controller) resolveRelease(s *GestureSession) {
	if c.store.Revision() != s.revision {
		c.logger.Debug("release superseded by external value")
		c.driver.AnimateTo(c.CommittedAngle())
		return
	}

	switch c.mode {
	case ModeContinuous:
		if s.Moved() && s.lastNumber != c.store.Committed().Value.Number {
			cv := c.store.commit(Number(s.lastNumber))
			c.emit(Commit{Committed: cv})
		}
		c.driver.AnimateTo(c.CommittedAngle())

	case ModeDiscrete:
		if !s.Moved() {
			c.driver.AnimateTo(c.CommittedAngle())
			return
		}
		step, _ := NearestStep(s.CurrentAngleDeg, c.steps)
		committed := c.store.Committed().Value.StepID

		switch c.gate.resolve(step.ID, committed) {
		case DecisionCommit:
			cv := c.store.commit(StepValue(step.ID))
			c.logger.Debug("gate transition", "from", GateIdle, "to", GateCommitted, "step", step.ID)
			c.gate.settle()
			c.emit(Commit{Committed: cv, Step: step})
		case DecisionHold:
			c.logger.Debug("gate transition", "from", GateIdle, "to", GateAwaitingConfirmation, "step", step.ID)
			c.emit(PendingProposed{Step: step})
		}
		c.driver.AnimateTo(step.AngleDeg)
	}
}

// ============================================================================
// Confirmation
// ============================================================================

// Confirm commits the pending step. It returns ErrNothingPending when the
// gate is not awaiting confirmation.
func (c *Controller) Confirm() (CommittedValue, error) {
	p, err := c.gate.confirm()
	if err != nil {
		return CommittedValue{}, err
	}
	step := c.stepFor(p.ProposedStepID)
	cv := c.store.commit(StepValue(step.ID))
	c.logger.Debug("gate transition", "from", GateAwaitingConfirmation, "to", GateCommitted, "step", step.ID)
	c.gate.settle()
	c.emit(Commit{Committed: cv, Step: step})

	if c.driver.Target() != step.AngleDeg {
		c.driver.AnimateTo(step.AngleDeg)
	}
	return cv, nil
}

// CancelPending drops the pending step and animates back to the committed
// one. It returns ErrNothingPending when nothing is pending.
func (c *Controller) CancelPending() error {
	if !c.discardPending(DiscardCancelled) {
		return ErrNothingPending
	}
	c.driver.AnimateTo(c.CommittedAngle())
	return nil
}

// ============================================================================
// External control
// ============================================================================

// SetExternalValue replaces the committed value from outside the gesture
// flow. Continuous values are clamped and rounded; unknown step ids are
// rejected with ErrUnknownStep and leave the store unchanged. Any pending
// change is discarded and a drag in progress is superseded.
func (c *Controller) SetExternalValue(v Value) (CommittedValue, error) {
	switch c.mode {
	case ModeContinuous:
		if v.StepID != "" {
			return CommittedValue{}, fmt.Errorf("%w: step %q on a continuous knob", ErrWrongMode, v.StepID)
		}
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return CommittedValue{}, ErrInvalidValue
		}
		v = Number(c.rng.Round(v.Number))
	case ModeDiscrete:
		if v.StepID == "" {
			return CommittedValue{}, fmt.Errorf("%w: number on a discrete knob", ErrWrongMode)
		}
		if _, ok := findStep(c.steps, v.StepID); !ok {
			return CommittedValue{}, fmt.Errorf("%w: %q", ErrUnknownStep, v.StepID)
		}
		v = StepValue(v.StepID)
	}

	c.discardPending(DiscardExternal)
	cv := c.store.commit(v)
	if c.session != nil {
		c.logger.Debug("external value supersedes drag in progress", "value", v)
	}

	if c.store.Enabled() {
		c.driver.AnimateTo(c.CommittedAngle())
	} else {
		c.driver.Snap(c.CommittedAngle())
	}
	c.pendingSettle = nil
	c.emit(Synced{Committed: cv, Step: c.stepFor(v.StepID)})
	return cv, nil
}

// SetEnabled flips the enabled flag. Disabling clears any pending change,
// ends a drag in progress without committing and freezes the indicator on
// the committed value.
func (c *Controller) SetEnabled(on bool) {
	if !c.store.setEnabled(on) {
		return
	}
	if !on {
		c.discardPending(DiscardDisabled)
		if c.session != nil {
			c.session.Phase = PhaseIdle
			c.session = nil
		}
		c.driver.Snap(c.CommittedAngle())
		c.pendingSettle = nil
		if c.press != nil {
			c.press.Snap(1)
		}
	}
	c.emit(EnabledChanged{Enabled: on})
}

// Tick advances the animations by dt. A settle detected on the previous tick
// is delivered first, provided the driver has not been retargeted since.
func (c *Controller) Tick(dt time.Duration) {
	if c.pendingSettle != nil {
		ev := *c.pendingSettle
		c.pendingSettle = nil
		if c.driver.IsCurrent(ev) {
			c.emit(Settled{AngleDeg: ev.Target})
		} else {
			c.logger.Debug("stale settle dropped", "target", ev.Target)
		}
	}
	if ev, ok := c.driver.Step(dt); ok {
		c.pendingSettle = &ev
	}
	if c.press != nil {
		c.press.Step(dt)
	}
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is a read-only view of the controller state.
type Snapshot struct {
	Mode                Mode           `json:"mode"`
	Committed           CommittedValue `json:"committed"`
	Enabled             bool           `json:"enabled"`
	RequireConfirmation bool           `json:"require_confirmation"`
	Pending             *Step          `json:"pending,omitempty"`
	Gate                string         `json:"gate"`
	Phase               string         `json:"phase"`
	Drive               string         `json:"drive"`
	AngleDeg            float64        `json:"angle_deg"`
	TargetDeg           float64        `json:"target_deg"`
	Scale               float64        `json:"scale"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		Mode:                c.mode,
		Committed:           c.store.Committed(),
		Enabled:             c.store.Enabled(),
		RequireConfirmation: c.gate.RequireConfirmation(),
		Gate:                c.gate.State().String(),
		Phase:               c.Phase().String(),
		Drive:               c.driver.Mode().String(),
		AngleDeg:            c.driver.Position(),
		TargetDeg:           c.driver.Target(),
		Scale:               c.Scale(),
	}
	if s, ok := c.Pending(); ok {
		snap.Pending = &s
	}
	return snap
}
