package knob

import "errors"

// Construction errors. New wraps these with the offending field or id so
// callers can match them with errors.Is and still print something useful.
var (
	ErrInvalidRange  = errors.New("knob: range min must be less than max")
	ErrInvalidArc    = errors.New("knob: arc start must be less than arc end, both within [0, 360]")
	ErrNoSteps       = errors.New("knob: discrete mode requires at least one step")
	ErrDuplicateStep = errors.New("knob: duplicate step id")
	ErrModeConflict  = errors.New("knob: exactly one of range or steps must be set")
	ErrInvalidSpring = errors.New("knob: spring tension and friction must be > 0")
)

// Runtime errors.
var (
	// ErrUnknownStep is returned when a step id is not part of the knob's step list.
	ErrUnknownStep = errors.New("knob: unknown step id")

	// ErrNothingPending is returned by Confirm and CancelPending when the gate
	// is not awaiting confirmation.
	ErrNothingPending = errors.New("knob: nothing pending")

	// ErrWrongMode is returned when a value of the wrong kind is supplied
	// (a step id to a continuous knob or a number to a discrete one).
	ErrWrongMode = errors.New("knob: value does not match knob mode")

	// ErrInvalidValue is returned for NaN or infinite continuous values and
	// malformed external values.
	ErrInvalidValue = errors.New("knob: invalid value")
)
