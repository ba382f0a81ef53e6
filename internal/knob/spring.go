package knob

import (
	"fmt"
	"math"
	"time"
)

// SpringConfig is a damped spring expressed as tension/friction, the usual
// UI animation parameterization. It is converted to stiffness/damping with a
// linear mapping.
type SpringConfig struct {
	Tension  float64
	Friction float64

	// Rest thresholds. Zero means the package defaults.
	RestDisplacement float64
	RestSpeed        float64
}

const (
	defaultRestDisplacement = 0.001
	defaultRestSpeed        = 0.001

	// springSubstep bounds the integration step so stiff springs stay stable
	// at low tick rates.
	springSubstep = time.Millisecond

	// maxSpringDt caps how much time one Tick may integrate. A stalled host
	// resumes the animation instead of jumping to the end.
	maxSpringDt = 250 * time.Millisecond
)

// DefaultSpring is the detent spring used by the sample discrete knob.
func DefaultSpring() SpringConfig { return SpringConfig{Tension: 40, Friction: 7} }

// Validate checks that the spring can settle.
func (c SpringConfig) Validate() error {
	if c.Tension <= 0 || c.Friction <= 0 {
		return fmt.Errorf("%w: tension=%g friction=%g", ErrInvalidSpring, c.Tension, c.Friction)
	}
	if c.RestDisplacement < 0 || c.RestSpeed < 0 {
		return fmt.Errorf("%w: rest thresholds must be >= 0", ErrInvalidSpring)
	}
	return nil
}

func (c SpringConfig) stiffness() float64 { return (c.Tension-30)*3.62 + 194 }
func (c SpringConfig) damping() float64   { return (c.Friction-8)*3 + 25 }

func (c SpringConfig) restDisplacement() float64 {
	if c.RestDisplacement > 0 {
		return c.RestDisplacement
	}
	return defaultRestDisplacement
}

func (c SpringConfig) restSpeed() float64 {
	if c.RestSpeed > 0 {
		return c.RestSpeed
	}
	return defaultRestSpeed
}

// DriveMode is the AnimationDriver's current mode.
type DriveMode int

const (
	DriveRest DriveMode = iota
	DriveTracking
	DriveAnimating
)

func (m DriveMode) String() string {
	switch m {
	case DriveTracking:
		return "tracking"
	case DriveAnimating:
		return "animating"
	default:
		return "rest"
	}
}

// SettleEvent is produced when an animation comes to rest. Generation is the
// driver generation at the time of settling; the event is stale once the
// driver has been retargeted.
type SettleEvent struct {
	Target     float64
	Generation uint64
}

// AnimationDriver turns discrete target changes into a continuous displayed
// position. In tracking mode the output follows the input exactly; in
// animating mode a damped spring pulls the output toward the target.
//
// Not safe for concurrent use.
type AnimationDriver struct {
	cfg SpringConfig

	mode     DriveMode
	position float64
	velocity float64 // units/s
	target   float64

	generation uint64
}

// NewAnimationDriver returns a driver at rest at position.
func NewAnimationDriver(cfg SpringConfig, position float64) *AnimationDriver {
	return &AnimationDriver{cfg: cfg, position: position, target: position}
}

func (d *AnimationDriver) Position() float64  { return d.position }
func (d *AnimationDriver) Velocity() float64  { return d.velocity }
func (d *AnimationDriver) Target() float64    { return d.target }
func (d *AnimationDriver) Mode() DriveMode    { return d.mode }
func (d *AnimationDriver) Generation() uint64 { return d.generation }

// AtRest reports whether the driver has no motion in progress.
func (d *AnimationDriver) AtRest() bool { return d.mode == DriveRest }

// Track puts the driver in tracking mode and moves the output to pos.
func (d *AnimationDriver) Track(pos float64) {
	if d.mode != DriveTracking {
		d.generation++
	}
	d.mode = DriveTracking
	d.position = pos
	d.target = pos
	d.velocity = 0
}

// AnimateTo retargets the spring. Position and velocity carry over so an
// interrupted animation continues smoothly toward the new target.
func (d *AnimationDriver) AnimateTo(target float64) {
	d.generation++
	d.mode = DriveAnimating
	d.target = target
}

// Snap jumps to pos with no animation and no settle event.
func (d *AnimationDriver) Snap(pos float64) {
	d.generation++
	d.mode = DriveRest
	d.position = pos
	d.target = pos
	d.velocity = 0
}

// Step integrates the spring over dt. It reports a SettleEvent the first time
// the animation comes to rest.
func (d *AnimationDriver) Step(dt time.Duration) (SettleEvent, bool) {
	if d.mode != DriveAnimating {
		return SettleEvent{}, false
	}
	if dt > maxSpringDt {
		dt = maxSpringDt
	}

	k := d.cfg.stiffness()
	c := d.cfg.damping()
	for remaining := dt; remaining > 0; remaining -= springSubstep {
		h := springSubstep
		if remaining < h {
			h = remaining
		}
		s := h.Seconds()
		accel := -k*(d.position-d.target) - c*d.velocity
		d.velocity += accel * s
		d.position += d.velocity * s
	}

	if math.Abs(d.position-d.target) <= d.cfg.restDisplacement() && math.Abs(d.velocity) <= d.cfg.restSpeed() {
		d.position = d.target
		d.velocity = 0
		d.mode = DriveRest
		return SettleEvent{Target: d.target, Generation: d.generation}, true
	}
	return SettleEvent{}, false
}

// IsCurrent reports whether ev still describes the driver's latest animation.
func (d *AnimationDriver) IsCurrent(ev SettleEvent) bool {
	return d.mode == DriveRest && ev.Generation == d.generation && ev.Target == d.target
}
