package trajplan

import "github.com/pkg/errors"

// Segment is one piece of a trajectory: a single duration shared by one
// polynomial per spatial dimension.
type Segment struct {
	duration float64
	polys    []Polynomial
}

// NewSegment creates a segment from a strictly positive duration and one
// polynomial per dimension. All polynomials must share a coefficient count.
func NewSegment(duration float64, polynomials []Polynomial) (Segment, error) {
	if duration <= 0 {
		return Segment{}, errors.Errorf("segment duration must be positive, got %f", duration)
	}
	if len(polynomials) == 0 {
		return Segment{}, errors.New("segment needs at least one polynomial")
	}
	n := polynomials[0].N()
	for i, p := range polynomials {
		if p.N() != n {
			return Segment{}, errors.Errorf("polynomial %d has %d coefficients, expected %d", i, p.N(), n)
		}
	}
	polys := make([]Polynomial, len(polynomials))
	copy(polys, polynomials)
	return Segment{duration: duration, polys: polys}, nil
}

// Duration returns the segment's time span.
func (s Segment) Duration() float64 {
	return s.duration
}

// Dim returns the number of spatial dimensions.
func (s Segment) Dim() int {
	return len(s.polys)
}

// N returns the per-dimension polynomial coefficient count.
func (s Segment) N() int {
	if len(s.polys) == 0 {
		return 0
	}
	return s.polys[0].N()
}

// Polynomials returns a copy of the per-dimension polynomials.
func (s Segment) Polynomials() []Polynomial {
	polys := make([]Polynomial, len(s.polys))
	copy(polys, s.polys)
	return polys
}

// Evaluate returns the d-th derivative of the segment at local time offset t,
// one value per dimension. t is not range checked; Trajectory owns domain
// checking.
func (s Segment) Evaluate(t float64, d Derivative) []float64 {
	out := make([]float64, len(s.polys))
	for i, p := range s.polys {
		out[i] = p.Evaluate(t, d)
	}
	return out
}
