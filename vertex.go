package trajplan

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Vertex is a waypoint with per-dimension derivative constraints. A constrained
// derivative is held fixed by the optimizer; any derivative left unconstrained
// at an interior vertex becomes a free unknown, solved for minimum cost subject
// to continuity. A vertex must not be mutated once an optimization run has been
// set up from it.
type Vertex struct {
	dim         int
	constraints map[Derivative][]float64
}

// NewVertex creates an unconstrained vertex of the given spatial dimension.
func NewVertex(dim int) *Vertex {
	return &Vertex{dim: dim, constraints: map[Derivative][]float64{}}
}

// NewVertex3 creates a three-dimensional vertex with its position fixed, the
// common case for an interior waypoint.
func NewVertex3(position r3.Vector) *Vertex {
	v := NewVertex(3)
	v.constraints[Position] = []float64{position.X, position.Y, position.Z}
	return v
}

// Dim returns the vertex's spatial dimension.
func (v *Vertex) Dim() int {
	return v.dim
}

// AddConstraint fixes the given derivative to value, one entry per dimension.
// Re-adding a derivative replaces the previous value.
func (v *Vertex) AddConstraint(d Derivative, value []float64) error {
	if d < Position {
		return errors.Errorf("invalid derivative order %d", int(d))
	}
	if len(value) != v.dim {
		return errors.Errorf("constraint value has %d entries, vertex has %d dimensions", len(value), v.dim)
	}
	c := make([]float64, len(value))
	copy(c, value)
	v.constraints[d] = c
	return nil
}

// AddConstraint3 fixes the given derivative on a three-dimensional vertex.
func (v *Vertex) AddConstraint3(d Derivative, value r3.Vector) error {
	if v.dim != 3 {
		return errors.Errorf("vertex has %d dimensions, not 3", v.dim)
	}
	return v.AddConstraint(d, []float64{value.X, value.Y, value.Z})
}

// MakeStartOrEnd fixes the position and every derivative up to and including
// upTo. Derivatives not already constrained are fixed to zero, the usual
// rest-to-rest endpoint.
func (v *Vertex) MakeStartOrEnd(position []float64, upTo Derivative) error {
	if err := v.AddConstraint(Position, position); err != nil {
		return err
	}
	for d := Velocity; d <= upTo; d++ {
		if !v.HasConstraint(d) {
			v.constraints[d] = make([]float64, v.dim)
		}
	}
	return nil
}

// MakeStartOrEnd3 is MakeStartOrEnd for a three-dimensional vertex.
func (v *Vertex) MakeStartOrEnd3(position r3.Vector, upTo Derivative) error {
	if v.dim != 3 {
		return errors.Errorf("vertex has %d dimensions, not 3", v.dim)
	}
	return v.MakeStartOrEnd([]float64{position.X, position.Y, position.Z}, upTo)
}

// HasConstraint reports whether the given derivative is fixed.
func (v *Vertex) HasConstraint(d Derivative) bool {
	_, ok := v.constraints[d]
	return ok
}

// Constraint returns a copy of the fixed value for the given derivative, if
// present.
func (v *Vertex) Constraint(d Derivative) ([]float64, bool) {
	val, ok := v.constraints[d]
	if !ok {
		return nil, false
	}
	c := make([]float64, len(val))
	copy(c, val)
	return c, true
}

// maxConstraintOrder returns the highest constrained derivative, or -1 for an
// unconstrained vertex.
func (v *Vertex) maxConstraintOrder() Derivative {
	maxOrder := Derivative(-1)
	for d := range v.constraints {
		if d > maxOrder {
			maxOrder = d
		}
	}
	return maxOrder
}
