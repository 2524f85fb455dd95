package trajplan

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Trajectory is an ordered concatenation of segments with cumulative time
// offsets. Its time domain is [0, Duration()], contiguous with no gaps. A
// trajectory is read-only after construction; concurrent reads are safe.
type Trajectory struct {
	segments []Segment
	starts   []float64
	duration float64
	dim      int
	n        int
	clamped  bool
}

// NewTrajectory builds a trajectory from segments. All segments must share a
// dimension and coefficient count.
func NewTrajectory(segments []Segment) (*Trajectory, error) {
	if len(segments) == 0 {
		return nil, errors.New("a trajectory needs at least one segment")
	}
	dim := segments[0].Dim()
	n := segments[0].N()
	segs := make([]Segment, len(segments))
	starts := make([]float64, len(segments))
	total := 0.0
	for i, s := range segments {
		if s.Dim() != dim || s.N() != n {
			return nil, errors.Errorf("segment %d does not match trajectory shape (%d dimensions, %d coefficients)", i, dim, n)
		}
		segs[i] = s
		starts[i] = total
		total += s.Duration()
	}
	return &Trajectory{segments: segs, starts: starts, duration: total, dim: dim, n: n}, nil
}

// WithClampedEvaluation returns a view of the trajectory that clamps
// out-of-domain query times to the nearest endpoint instead of reporting an
// error. Clamping is opt-in only.
func (tr *Trajectory) WithClampedEvaluation() *Trajectory {
	clamped := *tr
	clamped.clamped = true
	return &clamped
}

// Duration returns the total trajectory time, the sum of segment durations.
func (tr *Trajectory) Duration() float64 {
	return tr.duration
}

// Dim returns the number of spatial dimensions.
func (tr *Trajectory) Dim() int {
	return tr.dim
}

// SegmentCount returns the number of segments.
func (tr *Trajectory) SegmentCount() int {
	return len(tr.segments)
}

// Segments returns a copy of the trajectory's segments.
func (tr *Trajectory) Segments() []Segment {
	segs := make([]Segment, len(tr.segments))
	copy(segs, tr.segments)
	return segs
}

// Evaluate returns the d-th derivative of the trajectory at time t, one value
// per dimension. Times outside [0, Duration()] are an error unless clamped
// evaluation was requested.
func (tr *Trajectory) Evaluate(t float64, d Derivative) ([]float64, error) {
	if t < 0 || t > tr.duration {
		if !tr.clamped {
			return nil, errors.Wrapf(ErrOutOfRange, "t=%f, domain [0, %f]", t, tr.duration)
		}
		t = math.Max(0, math.Min(t, tr.duration))
	}
	// The cumulative starts are monotonic, so the owning segment is one binary
	// search away. t == Duration() belongs to the final segment.
	i := sort.SearchFloat64s(tr.starts, t)
	if i == len(tr.starts) || tr.starts[i] > t {
		i--
	}
	local := math.Min(t-tr.starts[i], tr.segments[i].Duration())
	return tr.segments[i].Evaluate(local, d), nil
}

// EvaluateR3 evaluates a three-dimensional trajectory as an r3 vector.
func (tr *Trajectory) EvaluateR3(t float64, d Derivative) (r3.Vector, error) {
	if tr.dim != 3 {
		return r3.Vector{}, errors.Errorf("trajectory has %d dimensions, not 3", tr.dim)
	}
	v, err := tr.Evaluate(t, d)
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// EvaluateRange evaluates the d-th derivative at tStart, tStart+dt, ... up to
// tEnd, returning exactly floor((tEnd-tStart)/dt)+1 samples in strictly
// increasing time order. The call is stateless and repeatable.
func (tr *Trajectory) EvaluateRange(tStart, tEnd, dt float64, d Derivative) ([][]float64, error) {
	if dt <= 0 {
		return nil, errors.Errorf("sample interval must be positive, got %f", dt)
	}
	if tEnd < tStart {
		return nil, errors.Errorf("range end %f precedes start %f", tEnd, tStart)
	}
	count := int(math.Floor((tEnd-tStart)/dt)) + 1
	out := make([][]float64, 0, count)
	for i := 0; i < count; i++ {
		t := tStart + float64(i)*dt
		if t > tEnd {
			// guard against accumulated floating-point overshoot on the last
			// sample
			t = tEnd
		}
		v, err := tr.Evaluate(t, d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Sample evaluates the whole trajectory at a fixed interval.
func (tr *Trajectory) Sample(dt float64, d Derivative) ([][]float64, error) {
	return tr.EvaluateRange(0, tr.duration, dt, d)
}

// MaxMagnitude samples the Euclidean magnitude of the d-th derivative at the
// given resolution, returning the largest value observed and the time it
// occurred at. The final trajectory time is always included.
func (tr *Trajectory) MaxMagnitude(d Derivative, dt float64) (float64, float64, error) {
	if dt <= 0 {
		return 0, 0, errors.Errorf("sample interval must be positive, got %f", dt)
	}
	best := math.Inf(-1)
	at := 0.0
	for t := 0.0; ; t += dt {
		if t > tr.duration {
			t = tr.duration
		}
		v, err := tr.Evaluate(t, d)
		if err != nil {
			return 0, 0, err
		}
		if m := floats.Norm(v, 2); m > best {
			best = m
			at = t
		}
		if t >= tr.duration {
			break
		}
	}
	return best, at, nil
}
