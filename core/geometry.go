package core

import (
	"fmt"
	"math"
)

// Location is a point on the simulated city plane, in metres.
type Location struct {
	X, Y float64
}

// DistanceTo returns the Euclidean distance between two locations.
func (l Location) DistanceTo(other Location) float64 {
	return math.Hypot(l.X-other.X, l.Y-other.Y)
}

// Lerp returns the point at fraction f along the segment from l to other.
func (l Location) Lerp(other Location, f float64) Location {
	return Location{
		X: l.X + f*(other.X-l.X),
		Y: l.Y + f*(other.Y-l.Y),
	}
}

func (l Location) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", l.X, l.Y)
}

// WithinRange reports whether two locations are at most r apart.
func WithinRange(a, b Location, r float64) bool {
	return a.DistanceTo(b) <= r
}
