package knob

// Notification is emitted synchronously by the Controller, in the order the
// underlying state transitions happened.
type Notification interface {
	notification()
}

// DiscardReason says why a pending change was dropped.
type DiscardReason string

const (
	DiscardNewGesture DiscardReason = "new_gesture"
	DiscardCancelled  DiscardReason = "cancelled"
	DiscardExternal   DiscardReason = "external_set"
	DiscardDisabled   DiscardReason = "disabled"
)

// LiveChange carries a continuous value while the user is still dragging.
type LiveChange struct {
	Value float64
}

// Commit is emitted when a value becomes authoritative through user input.
// Step is set in discrete mode.
type Commit struct {
	Committed CommittedValue
	Step      Step
}

// PendingProposed is emitted when a released step waits for confirmation.
type PendingProposed struct {
	Step Step
}

// PendingDiscarded is emitted when a pending step is dropped uncommitted.
type PendingDiscarded struct {
	Step   Step
	Reason DiscardReason
}

// Hover is emitted in discrete mode when the step under the pointer changes.
type Hover struct {
	Step Step
}

// Synced is emitted after SetExternalValue replaced the committed value.
// Step is set in discrete mode.
type Synced struct {
	Committed CommittedValue
	Step      Step
}

// Settled is emitted one tick after an animation came to rest, unless the
// driver was retargeted in between.
type Settled struct {
	AngleDeg float64
}

// EnabledChanged is emitted when the enabled flag flips.
type EnabledChanged struct {
	Enabled bool
}

func (LiveChange) notification()       {}
func (Commit) notification()           {}
func (PendingProposed) notification()  {}
func (PendingDiscarded) notification() {}
func (Hover) notification()            {}
func (Synced) notification()           {}
func (Settled) notification()          {}
func (EnabledChanged) notification()   {}

// Hooks adapts plain callbacks to a notifier. Nil callbacks are skipped.
type Hooks struct {
	OnLiveChange func(value float64)
	OnCommit     func(value Value)
	OnPending    func(step Step)
	OnSettle     func(angleDeg float64)
}

// Notify dispatches n to the matching callback.
func (h Hooks) Notify(n Notification) {
	switch n := n.(type) {
	case LiveChange:
		if h.OnLiveChange != nil {
			h.OnLiveChange(n.Value)
		}
	case Commit:
		if h.OnCommit != nil {
			h.OnCommit(n.Committed.Value)
		}
	case PendingProposed:
		if h.OnPending != nil {
			h.OnPending(n.Step)
		}
	case Settled:
		if h.OnSettle != nil {
			h.OnSettle(n.AngleDeg)
		}
	}
}
