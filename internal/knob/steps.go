package knob

import "fmt"

// Step is one named detent of a discrete knob. Value is an optional payload
// carried along with the step (a target temperature, for example).
type Step struct {
	ID       string  `json:"id"`
	AngleDeg float64 `json:"angle_deg"`
	Label    string  `json:"label,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

// validateSteps rejects empty lists and duplicate ids.
func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return fmt.Errorf("knob: steps[%d] has an empty id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateStep, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// NearestStep returns the step whose angle is circularly closest to deg.
// Ties go to the step declared first. ok is false only for an empty list.
func NearestStep(deg float64, steps []Step) (best Step, ok bool) {
	bestDist := 0.0
	for i, s := range steps {
		d := AngularDistance(deg, s.AngleDeg)
		if i == 0 || d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, len(steps) > 0
}

// findStep looks a step up by id.
func findStep(steps []Step, id string) (Step, bool) {
	for _, s := range steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
