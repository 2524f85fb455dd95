package trajplan

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

const solveTol = 1e-6

// snapTestPath is three 3D waypoints with fully fixed rest-to-rest endpoints
// and a position-only interior vertex.
func snapTestPath(t *testing.T) []*Vertex {
	t.Helper()
	start := NewVertex(3)
	test.That(t, start.MakeStartOrEnd3(r3.Vector{Z: 1}, Snap), test.ShouldBeNil)
	mid := NewVertex3(r3.Vector{X: 1, Y: 2, Z: 3})
	end := NewVertex(3)
	test.That(t, end.MakeStartOrEnd3(r3.Vector{X: 2, Y: 1, Z: 5}, Snap), test.ShouldBeNil)
	return []*Vertex{start, mid, end}
}

func solvedSnapSegments(t *testing.T) ([]Segment, *LinearOptimizer) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	vertices := snapTestPath(t)
	times, err := EstimateSegmentTimes(vertices, 2.0, 2.0)
	test.That(t, err, test.ShouldBeNil)

	opt, err := NewLinearOptimizer(10, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opt.SetupFromVertices(vertices, times, Snap), test.ShouldBeNil)
	test.That(t, opt.Solve(), test.ShouldBeNil)
	segs, err := opt.Segments()
	test.That(t, err, test.ShouldBeNil)
	return segs, opt
}

func TestSolveLinearReproducesWaypoints(t *testing.T) {
	segs, opt := solvedSnapSegments(t)
	test.That(t, len(segs), test.ShouldEqual, 2)

	p0 := segs[0].Evaluate(0, Position)
	pMid := segs[0].Evaluate(segs[0].Duration(), Position)
	pMid2 := segs[1].Evaluate(0, Position)
	pEnd := segs[1].Evaluate(segs[1].Duration(), Position)
	for i, want := range []float64{0, 0, 1} {
		test.That(t, p0[i], test.ShouldAlmostEqual, want, solveTol)
	}
	for i, want := range []float64{1, 2, 3} {
		test.That(t, pMid[i], test.ShouldAlmostEqual, want, solveTol)
		test.That(t, pMid2[i], test.ShouldAlmostEqual, want, solveTol)
	}
	for i, want := range []float64{2, 1, 5} {
		test.That(t, pEnd[i], test.ShouldAlmostEqual, want, solveTol)
	}

	// rest-to-rest endpoints: derivatives through snap are zero
	for d := Velocity; d <= Snap; d++ {
		atStart := segs[0].Evaluate(0, d)
		atEnd := segs[1].Evaluate(segs[1].Duration(), d)
		for i := 0; i < 3; i++ {
			test.That(t, atStart[i], test.ShouldAlmostEqual, 0, solveTol)
			test.That(t, atEnd[i], test.ShouldAlmostEqual, 0, solveTol)
		}
	}
	test.That(t, opt.Cost(), test.ShouldBeGreaterThan, 0)
}

func TestSolveLinearContinuity(t *testing.T) {
	segs, _ := solvedSnapSegments(t)

	// derivatives up through N/2-1 match across the interior vertex
	for d := Position; d <= Snap; d++ {
		left := segs[0].Evaluate(segs[0].Duration(), d)
		right := segs[1].Evaluate(0, d)
		for i := 0; i < 3; i++ {
			test.That(t, left[i], test.ShouldAlmostEqual, right[i], solveTol)
		}
	}
}

func TestSolveLinearIdempotent(t *testing.T) {
	segsA, opt := solvedSnapSegments(t)
	test.That(t, opt.Solve(), test.ShouldBeNil)
	segsB, err := opt.Segments()
	test.That(t, err, test.ShouldBeNil)

	for s := range segsA {
		polysA := segsA[s].Polynomials()
		polysB := segsB[s].Polynomials()
		for dim := range polysA {
			ca := polysA[dim].Coefficients()
			cb := polysB[dim].Coefficients()
			for i := range ca {
				test.That(t, ca[i], test.ShouldAlmostEqual, cb[i], 1e-12)
			}
		}
	}
}

func TestSolveLinearSingleSegment(t *testing.T) {
	logger := golog.NewTestLogger(t)
	start := NewVertex(1)
	test.That(t, start.MakeStartOrEnd([]float64{0}, Acceleration), test.ShouldBeNil)
	end := NewVertex(1)
	test.That(t, end.MakeStartOrEnd([]float64{1}, Acceleration), test.ShouldBeNil)

	opt, err := NewLinearOptimizer(6, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opt.SetupFromVertices([]*Vertex{start, end}, []float64{2}, Acceleration), test.ShouldBeNil)
	test.That(t, opt.Solve(), test.ShouldBeNil)

	segs, err := opt.Segments()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(segs), test.ShouldEqual, 1)
	test.That(t, segs[0].Evaluate(0, Position)[0], test.ShouldAlmostEqual, 0, solveTol)
	test.That(t, segs[0].Evaluate(2, Position)[0], test.ShouldAlmostEqual, 1, solveTol)
	test.That(t, segs[0].Evaluate(0, Velocity)[0], test.ShouldAlmostEqual, 0, solveTol)
	test.That(t, segs[0].Evaluate(2, Velocity)[0], test.ShouldAlmostEqual, 0, solveTol)
}

func TestLinearOptimizerValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)

	_, err := NewLinearOptimizer(7, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLinearOptimizer(2, logger)
	test.That(t, err, test.ShouldNotBeNil)

	vertices := snapTestPath(t)

	// polynomial order too low for the requested derivative: must fail, not
	// silently truncate
	small, err := NewLinearOptimizer(6, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, small.SetupFromVertices(vertices, []float64{1, 1}, Snap), test.ShouldNotBeNil)

	opt, err := NewLinearOptimizer(10, logger)
	test.That(t, err, test.ShouldBeNil)

	// zero-duration segment is degenerate input
	test.That(t, opt.SetupFromVertices(vertices, []float64{1, 0}, Snap), test.ShouldNotBeNil)
	test.That(t, opt.SetupFromVertices(vertices, []float64{1, -2}, Snap), test.ShouldNotBeNil)

	// structural errors
	test.That(t, opt.SetupFromVertices(vertices[:1], nil, Snap), test.ShouldNotBeNil)
	test.That(t, opt.SetupFromVertices(vertices, []float64{1}, Snap), test.ShouldNotBeNil)
	test.That(t, opt.SetupFromVertices(vertices, []float64{1, 1}, Position), test.ShouldNotBeNil)

	// mixed dimensions
	test.That(t, opt.SetupFromVertices([]*Vertex{vertices[0], NewVertex(2), vertices[2]},
		[]float64{1, 1}, Snap), test.ShouldNotBeNil)

	// interior vertex without a position constraint
	test.That(t, opt.SetupFromVertices([]*Vertex{vertices[0], NewVertex(3), vertices[2]},
		[]float64{1, 1}, Snap), test.ShouldNotBeNil)

	// a constraint order the polynomial's endpoint derivatives cannot express
	tight, err := NewLinearOptimizer(4, logger)
	test.That(t, err, test.ShouldBeNil)
	overConstrained := NewVertex(1)
	test.That(t, overConstrained.MakeStartOrEnd([]float64{0}, Acceleration), test.ShouldBeNil)
	other := NewVertex(1)
	test.That(t, other.AddConstraint(Position, []float64{1}), test.ShouldBeNil)
	test.That(t, tight.SetupFromVertices([]*Vertex{overConstrained, other}, []float64{1}, Velocity), test.ShouldNotBeNil)
}

func TestNewOptimizersDefaultLogger(t *testing.T) {
	lin, err := NewLinearOptimizer(10, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lin.logger, test.ShouldNotBeNil)

	nl, err := NewNonlinearOptimizer(10, DefaultNonlinearOptions(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, nl.logger, test.ShouldNotBeNil)
}

func TestLinearOptimizerUnsolvedAccessors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	opt, err := NewLinearOptimizer(10, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, opt.Solve(), test.ShouldNotBeNil)
	_, err = opt.Segments()
	test.That(t, errors.Is(err, ErrUnsolved), test.ShouldBeTrue)
	_, err = opt.Trajectory()
	test.That(t, errors.Is(err, ErrUnsolved), test.ShouldBeTrue)
}

func TestSolveFreeLeastSquaresFallback(t *testing.T) {
	logger := golog.NewTestLogger(t)
	opt, err := NewLinearOptimizer(4, logger)
	test.That(t, err, test.ShouldBeNil)

	// A rank-deficient reduced system. The second free unknown carries no
	// cost at all, so Cholesky cannot factorize it and the minimum-norm
	// least-squares solution leaves that unknown at zero.
	opt.dim = 1
	opt.nFixed = 1
	opt.nFree = 2
	opt.fixedVals = [][]float64{{1}}
	opt.rpp = mat.NewDense(2, 2, []float64{1, 0, 0, 0})
	opt.rfp = mat.NewDense(1, 2, []float64{2, 0})

	test.That(t, opt.solveFree(), test.ShouldBeNil)
	test.That(t, opt.free[0][0], test.ShouldAlmostEqual, -2)
	test.That(t, opt.free[0][1], test.ShouldAlmostEqual, 0)
	// an exactly singular system reports an infinite condition, not the
	// ratio over the retained subspace
	test.That(t, math.IsInf(opt.ConditionReported(), 1), test.ShouldBeTrue)

	// with no cost in any direction there is nothing to solve for
	opt.condition = 0
	opt.rpp = mat.NewDense(2, 2, nil)
	opt.rfp = mat.NewDense(1, 2, nil)
	test.That(t, opt.solveFree(), test.ShouldNotBeNil)
}

func TestSolveLinearTrajectoryEndpoints(t *testing.T) {
	_, opt := solvedSnapSegments(t)
	traj, err := opt.Trajectory()
	test.That(t, err, test.ShouldBeNil)

	startPos, err := traj.EvaluateR3(0, Position)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, startPos.Z, test.ShouldAlmostEqual, 1, solveTol)
	endPos, err := traj.EvaluateR3(traj.Duration(), Position)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, endPos.X, test.ShouldAlmostEqual, 2, solveTol)
	test.That(t, endPos.Y, test.ShouldAlmostEqual, 1, solveTol)
	test.That(t, endPos.Z, test.ShouldAlmostEqual, 5, solveTol)
}
