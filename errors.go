package trajplan

import "github.com/pkg/errors"

var (
	// ErrUnsolved is returned by result accessors called before a successful
	// solve.
	ErrUnsolved = errors.New("no solution has been computed")
	// ErrOutOfRange is returned when a trajectory is evaluated outside its time
	// domain without clamped evaluation enabled.
	ErrOutOfRange = errors.New("time is outside the trajectory domain")
)

func newTooFewVerticesError(count int) error {
	return errors.Errorf("a path needs at least two vertices, got %d", count)
}

func newDurationCountError(segments, durations int) error {
	return errors.Errorf("got %d durations for %d segments", durations, segments)
}

func newNonPositiveDurationError(segment int, duration float64) error {
	return errors.Errorf("segment %d has non-positive duration %f; zero-length segments are degenerate", segment, duration)
}

func newDimensionMismatchError(vertex, got, want int) error {
	return errors.Errorf("vertex %d has %d dimensions, expected %d", vertex, got, want)
}

func newOrderTooLowError(n int, d Derivative) error {
	return errors.Errorf("%d polynomial coefficients cannot minimize %s, need at least %d", n, d, 2*int(d)+2)
}

func newConstraintOrderError(vertex int, d Derivative, n int) error {
	return errors.Errorf("vertex %d fixes %s but %d coefficients only represent endpoint derivatives below order %d", vertex, d, n, n/2)
}
