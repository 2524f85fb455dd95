package trajplan

import "fmt"

// Derivative identifies a derivative order of position. The same enumeration is
// used for vertex constraints, the optimization target, magnitude constraints,
// and sampling queries.
type Derivative int

// Derivative orders of position.
const (
	Position Derivative = iota
	Velocity
	Acceleration
	Jerk
	Snap
)

func (d Derivative) String() string {
	switch d {
	case Position:
		return "position"
	case Velocity:
		return "velocity"
	case Acceleration:
		return "acceleration"
	case Jerk:
		return "jerk"
	case Snap:
		return "snap"
	}
	return fmt.Sprintf("derivative(%d)", int(d))
}
