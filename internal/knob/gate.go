package knob

// GateState is the ConfirmationGate state.
type GateState int

const (
	GateIdle GateState = iota
	GateAwaitingConfirmation
	GateCommitted
)

func (s GateState) String() string {
	switch s {
	case GateAwaitingConfirmation:
		return "awaiting_confirmation"
	case GateCommitted:
		return "committed"
	default:
		return "idle"
	}
}

// PendingChange is a resolved step waiting for explicit confirmation.
type PendingChange struct {
	ProposedStepID string `json:"proposed_step_id"`
}

// GateDecision is the outcome of resolving a step through the gate.
type GateDecision int

const (
	// DecisionNone: the resolved step equals the committed one.
	DecisionNone GateDecision = iota
	// DecisionCommit: commit the step now.
	DecisionCommit
	// DecisionHold: the step is pending confirmation.
	DecisionHold
)

// ConfirmationGate decides whether a resolved step commits immediately or
// waits as a PendingChange. A pending change exists only while the gate is
// AwaitingConfirmation.
type ConfirmationGate struct {
	require bool
	state   GateState
	pending *PendingChange
}

func newConfirmationGate(require bool) *ConfirmationGate {
	return &ConfirmationGate{require: require}
}

func (g *ConfirmationGate) State() GateState { return g.state }

// RequireConfirmation reports the gate policy.
func (g *ConfirmationGate) RequireConfirmation() bool { return g.require }

// Pending returns the pending change, if any.
func (g *ConfirmationGate) Pending() (PendingChange, bool) {
	if g.pending == nil {
		return PendingChange{}, false
	}
	return *g.pending, true
}

// resolve routes a released step through the gate.
func (g *ConfirmationGate) resolve(proposed, committed string) GateDecision {
	if proposed == committed {
		return DecisionNone
	}
	if !g.require {
		g.state = GateCommitted
		return DecisionCommit
	}
	g.state = GateAwaitingConfirmation
	g.pending = &PendingChange{ProposedStepID: proposed}
	return DecisionHold
}

// confirm takes the pending change and moves the gate to Committed.
func (g *ConfirmationGate) confirm() (PendingChange, error) {
	if g.state != GateAwaitingConfirmation || g.pending == nil {
		return PendingChange{}, ErrNothingPending
	}
	p := *g.pending
	g.pending = nil
	g.state = GateCommitted
	return p, nil
}

// discard drops any pending change without committing it.
func (g *ConfirmationGate) discard() (PendingChange, bool) {
	p, ok := g.Pending()
	g.pending = nil
	if g.state == GateAwaitingConfirmation {
		g.state = GateIdle
	}
	return p, ok
}

// settle returns the gate to Idle after a commit has been applied.
func (g *ConfirmationGate) settle() {
	if g.state == GateCommitted {
		g.state = GateIdle
	}
}
