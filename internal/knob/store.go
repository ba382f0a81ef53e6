package knob

import (
	"fmt"
	"strconv"
)

// Mode selects how a knob interprets rotation.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeDiscrete   Mode = "discrete"
)

// Value is a knob value: a number in continuous mode, a step id in discrete
// mode. Only the field matching the knob mode is meaningful.
type Value struct {
	Number float64 `json:"number"`
	StepID string  `json:"step_id,omitempty"`
}

// Number returns a continuous value.
func Number(v float64) Value { return Value{Number: v} }

// StepValue returns a discrete value.
func StepValue(id string) Value { return Value{StepID: id} }

func (v Value) String() string {
	if v.StepID != "" {
		return v.StepID
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// CommittedValue is the authoritative value plus a revision that increments on
// every commit and every external set.
type CommittedValue struct {
	Value    Value  `json:"value"`
	Revision uint64 `json:"revision"`
}

// ValueStore holds the committed value and the enabled flag.
type ValueStore struct {
	committed CommittedValue
	enabled   bool
}

func newValueStore(initial Value, enabled bool) *ValueStore {
	return &ValueStore{committed: CommittedValue{Value: initial}, enabled: enabled}
}

func (s *ValueStore) Committed() CommittedValue { return s.committed }
func (s *ValueStore) Revision() uint64          { return s.committed.Revision }
func (s *ValueStore) Enabled() bool             { return s.enabled }

// commit replaces the committed value and bumps the revision.
func (s *ValueStore) commit(v Value) CommittedValue {
	s.committed = CommittedValue{Value: v, Revision: s.committed.Revision + 1}
	return s.committed
}

// setEnabled reports whether the flag changed.
func (s *ValueStore) setEnabled(on bool) bool {
	if s.enabled == on {
		return false
	}
	s.enabled = on
	return true
}

// resolveInitial validates the configured initial value for the knob mode.
// A zero Value picks the range minimum or the first step.
func resolveInitial(mode Mode, initial Value, r Range, steps []Step) (Value, error) {
	switch mode {
	case ModeContinuous:
		if initial.StepID != "" {
			return Value{}, fmt.Errorf("%w: initial step %q on a continuous knob", ErrWrongMode, initial.StepID)
		}
		return Number(r.Round(initial.Number)), nil
	default:
		if initial.StepID == "" {
			return StepValue(steps[0].ID), nil
		}
		if _, ok := findStep(steps, initial.StepID); !ok {
			return Value{}, fmt.Errorf("%w: initial %q", ErrUnknownStep, initial.StepID)
		}
		return initial, nil
	}
}
