package trajplan

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultTimeFactor stretches the trapezoidal-profile time estimate. The
	// profile assumes bang-bang acceleration, which a high-order continuous
	// polynomial cannot follow, so the raw estimate runs short. Empirically
	// chosen; override with EstimateSegmentTimesWithFactor.
	DefaultTimeFactor = 2.0

	// minSegmentTime is the duration assigned to a segment between coincident
	// waypoints. A zero duration would make the segment unsolvable.
	minSegmentTime = 0.01
)

// EstimateSegmentTimes produces an initial strictly positive duration for each
// segment of the path, using DefaultTimeFactor. The result is a starting point
// for NonlinearOptimizer, not a feasibility guarantee.
func EstimateSegmentTimes(vertices []*Vertex, vMax, aMax float64) ([]float64, error) {
	return EstimateSegmentTimesWithFactor(vertices, vMax, aMax, DefaultTimeFactor)
}

// EstimateSegmentTimesWithFactor estimates per-segment durations from the
// trapezoidal velocity profile implied by vMax and aMax over each segment's
// Euclidean displacement, scaled by factor. Every vertex must have a fixed
// position.
func EstimateSegmentTimesWithFactor(vertices []*Vertex, vMax, aMax, factor float64) ([]float64, error) {
	if len(vertices) < 2 {
		return nil, newTooFewVerticesError(len(vertices))
	}
	if vMax <= 0 || aMax <= 0 {
		return nil, errors.Errorf("velocity and acceleration bounds must be positive, got v=%f a=%f", vMax, aMax)
	}
	if factor <= 0 {
		return nil, errors.Errorf("time factor must be positive, got %f", factor)
	}
	dim := vertices[0].Dim()
	positions := make([][]float64, len(vertices))
	for i, v := range vertices {
		if v.Dim() != dim {
			return nil, newDimensionMismatchError(i, v.Dim(), dim)
		}
		p, ok := v.Constraint(Position)
		if !ok {
			return nil, errors.Errorf("vertex %d has no position constraint", i)
		}
		positions[i] = p
	}

	times := make([]float64, len(vertices)-1)
	for i := range times {
		d := floats.Distance(positions[i], positions[i+1], 2)
		t := factor * trapezoidTime(d, vMax, aMax)
		if t < minSegmentTime {
			t = minSegmentTime
		}
		times[i] = t
	}
	return times, nil
}

// trapezoidTime is the minimum time to cover distance d under a trapezoidal
// velocity profile limited by vMax and aMax. Short moves never reach vMax and
// degenerate to a triangular profile.
func trapezoidTime(d, vMax, aMax float64) float64 {
	if d <= 0 {
		return 0
	}
	rampDistance := vMax * vMax / aMax
	if d < rampDistance {
		return 2 * math.Sqrt(d/aMax)
	}
	return d/vMax + vMax/aMax
}
