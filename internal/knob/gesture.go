package knob

// Phase is the lifecycle phase of a GestureSession.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
	PhaseReleasing
)

func (p Phase) String() string {
	switch p {
	case PhaseDragging:
		return "dragging"
	case PhaseReleasing:
		return "releasing"
	default:
		return "idle"
	}
}

// GestureSession is one drag interaction, from grant to release. It is
// created on grant and discarded once the release has been resolved.
type GestureSession struct {
	Phase           Phase
	StartAngleDeg   float64
	CurrentAngleDeg float64

	// revision of the committed value at grant time; an external set during
	// the drag makes the session stale.
	revision uint64
	moved    bool

	// Last value that produced downstream work, for de-duplication.
	lastNumber float64
	lastStepID string
}

func newGestureSession(startAngle float64, committed CommittedValue) *GestureSession {
	return &GestureSession{
		Phase:           PhaseDragging,
		StartAngleDeg:   startAngle,
		CurrentAngleDeg: startAngle,
		revision:        committed.Revision,
		lastNumber:      committed.Value.Number,
		lastStepID:      committed.Value.StepID,
	}
}

// moveTo records a new pointer angle. It reports false when the angle is
// unchanged, in which case no downstream work is needed.
func (s *GestureSession) moveTo(angle float64) bool {
	if s.moved && angle == s.CurrentAngleDeg {
		return false
	}
	s.CurrentAngleDeg = angle
	s.moved = true
	return true
}

// Moved reports whether any move was recorded since the grant.
func (s *GestureSession) Moved() bool { return s.moved }
