package knob

import (
	"fmt"
	"math"
)

// Reference names the screen direction that maps to 0°. Angles grow clockwise
// in screen coordinates (y grows downward).
type Reference string

const (
	ReferenceUp    Reference = "up"
	ReferenceRight Reference = "right"
	ReferenceDown  Reference = "down"
	ReferenceLeft  Reference = "left"
)

// screenAngle is the atan2 angle (degrees) of the reference direction.
func (r Reference) screenAngle() float64 {
	switch r {
	case ReferenceRight:
		return 0
	case ReferenceDown:
		return 90
	case ReferenceLeft:
		return 180
	default:
		return -90
	}
}

// Point is a pointer position in the host's coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry describes the physical knob: its center and radius in host
// coordinates and the reachable arc in degrees.
type Geometry struct {
	CenterX     float64
	CenterY     float64
	Radius      float64
	ArcStartDeg float64
	ArcEndDeg   float64
	Reference   Reference
}

// Center returns the knob center as a Point.
func (g Geometry) Center() Point { return Point{X: g.CenterX, Y: g.CenterY} }

// Validate checks 0 <= ArcStartDeg < ArcEndDeg <= 360. NaN bounds fail every
// comparison and are rejected.
func (g Geometry) Validate() error {
	if !(g.ArcStartDeg >= 0 && g.ArcEndDeg <= 360 && g.ArcStartDeg < g.ArcEndDeg) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidArc, g.ArcStartDeg, g.ArcEndDeg)
	}
	switch g.Reference {
	case "", ReferenceUp, ReferenceRight, ReferenceDown, ReferenceLeft:
	default:
		return fmt.Errorf("knob: unknown reference direction %q", g.Reference)
	}
	return nil
}

// Range is the continuous value domain. Resolution is the rounding quantum
// applied to derived values; zero disables rounding.
type Range struct {
	Min        float64
	Max        float64
	Resolution float64
}

// Validate checks Min < Max and a non-negative resolution.
func (r Range) Validate() error {
	if !(r.Min < r.Max) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, r.Min, r.Max)
	}
	if r.Resolution < 0 {
		return fmt.Errorf("knob: range resolution must be >= 0, got %g", r.Resolution)
	}
	return nil
}

// Clamp limits v to [Min, Max].
func (r Range) Clamp(v float64) float64 {
	return math.Min(r.Max, math.Max(r.Min, v))
}

// Round snaps v to the nearest multiple of Resolution and keeps it in range.
func (r Range) Round(v float64) float64 {
	if r.Resolution > 0 {
		v = math.Round(v/r.Resolution) * r.Resolution
	}
	return r.Clamp(v)
}

// NormalizeAngle maps any angle onto [0, 360).
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// AngularDistance is the shortest circular distance between two angles.
func AngularDistance(a, b float64) float64 {
	d := math.Abs(NormalizeAngle(a) - NormalizeAngle(b))
	return math.Min(d, 360-d)
}

// AngleFromPointer returns the angle of p around the knob center, rotated so
// the reference direction is 0° and normalized to [0, 360).
func (g Geometry) AngleFromPointer(p Point) float64 {
	dx := p.X - g.CenterX
	dy := p.Y - g.CenterY
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	return NormalizeAngle(deg - g.Reference.screenAngle())
}

// PointFromAngle is the inverse of AngleFromPointer on the knob circle.
func (g Geometry) PointFromAngle(deg float64) Point {
	rad := (deg + g.Reference.screenAngle()) * math.Pi / 180
	r := g.Radius
	if r <= 0 {
		r = 1
	}
	return Point{
		X: g.CenterX + r*math.Cos(rad),
		Y: g.CenterY + r*math.Sin(rad),
	}
}

// ClampToArc returns deg when it lies on the reachable arc, otherwise the
// circularly nearer arc boundary. Ties go to the start boundary. An angle
// already on the arc is returned unnormalized, so 360 stays the end of a
// full-circle arc.
func (g Geometry) ClampToArc(deg float64) float64 {
	if deg >= g.ArcStartDeg && deg <= g.ArcEndDeg {
		return deg
	}
	a := NormalizeAngle(deg)
	if a >= g.ArcStartDeg && a <= g.ArcEndDeg {
		return a
	}
	if AngularDistance(a, g.ArcEndDeg) < AngularDistance(a, g.ArcStartDeg) {
		return g.ArcEndDeg
	}
	return g.ArcStartDeg
}

// ContinuousValueFromAngle clamps the angle to the arc, interpolates it into
// the range and rounds to the range resolution.
func (g Geometry) ContinuousValueFromAngle(deg float64, r Range) float64 {
	a := g.ClampToArc(deg)
	frac := (a - g.ArcStartDeg) / (g.ArcEndDeg - g.ArcStartDeg)
	return r.Round(r.Min + frac*(r.Max-r.Min))
}

// AngleFromContinuousValue maps a value (clamped to the range) back onto the arc.
func (g Geometry) AngleFromContinuousValue(v float64, r Range) float64 {
	frac := (r.Clamp(v) - r.Min) / (r.Max - r.Min)
	return g.ArcStartDeg + frac*(g.ArcEndDeg-g.ArcStartDeg)
}
