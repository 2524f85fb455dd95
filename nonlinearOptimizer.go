package trajplan

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/trajplan/minimize"
)

// ViolationAggregation selects how sampled constraint violations along a
// trajectory are folded into a single penalty term. The choice is a policy
// knob; neither option is canonical.
type ViolationAggregation int

const (
	// AggregateMax penalizes the worst excess over the bound.
	AggregateMax ViolationAggregation = iota
	// AggregateIntegral penalizes the excess integrated over time.
	AggregateIntegral
)

const (
	// bounds on the optimization variables, in log-duration space and raw
	// derivative units
	maxSegmentTime      = 1e6
	freeDerivativeBound = 1e7

	// cap on the soft-penalty exponent so a badly infeasible iterate stays a
	// finite (if enormous) objective value the solver can move away from
	maxPenaltyExponent = 50.0
)

// NonlinearOptions tunes NonlinearOptimizer. The defaults are empirical; in
// particular TimePenalty trades total trajectory time against smoothness and
// has no universally right value.
type NonlinearOptions struct {
	// MaxIterations caps objective evaluations of the outer solver.
	MaxIterations int
	// FTolRel and XTolRel are relative convergence tolerances on objective
	// value and parameter vector.
	FTolRel float64
	XTolRel float64
	// TimePenalty scales the cost of total trajectory time.
	TimePenalty float64
	// InitialStep is the outer solver's first trial step.
	InitialStep float64
	// ConstraintTolerance is the magnitude slack treated as satisfied; it also
	// sets the softness of the penalty ramp.
	ConstraintTolerance float64
	// PenaltyWeight scales the soft constraint penalties.
	PenaltyWeight float64
	// Aggregation selects max versus integral violation accumulation.
	Aggregation ViolationAggregation
	// SampleResolution is the constraint-check sampling interval in seconds.
	SampleResolution float64
	// TimeOnly restricts optimization to segment durations, re-solving the
	// free derivatives in closed form each iteration.
	TimeOnly bool
	// Minimizer overrides the outer solver; nil selects NLopt BOBYQA.
	Minimizer minimize.Minimizer
}

// DefaultNonlinearOptions returns the empirically chosen defaults.
func DefaultNonlinearOptions() NonlinearOptions {
	return NonlinearOptions{
		MaxIterations:       500,
		FTolRel:             1e-4,
		XTolRel:             1e-4,
		TimePenalty:         500,
		InitialStep:         0.1,
		ConstraintTolerance: 0.1,
		PenaltyWeight:       100,
		Aggregation:         AggregateMax,
		SampleResolution:    0.1,
		TimeOnly:            false,
	}
}

type magnitudeConstraint struct {
	derivative Derivative
	bound      float64
}

// NonlinearOptimizer refines segment durations, and optionally the free
// derivative values, around the closed-form linear solve. The objective is the
// inner derivative cost plus a time penalty plus smooth soft penalties for
// registered maximum-magnitude constraints. Durations are optimized in log
// space so every iterate stays strictly positive without clipping.
type NonlinearOptimizer struct {
	opts   NonlinearOptions
	logger golog.Logger
	lin    *LinearOptimizer

	constraints []magnitudeConstraint
	violation   float64
	solved      bool
}

// NewNonlinearOptimizer creates a refinement layer producing polynomials with
// n coefficients per dimension.
func NewNonlinearOptimizer(n int, opts NonlinearOptions, logger golog.Logger) (*NonlinearOptimizer, error) {
	if opts.MaxIterations <= 0 {
		return nil, errors.Errorf("MaxIterations must be positive, got %d", opts.MaxIterations)
	}
	if opts.SampleResolution <= 0 {
		return nil, errors.Errorf("SampleResolution must be positive, got %f", opts.SampleResolution)
	}
	if opts.ConstraintTolerance <= 0 {
		return nil, errors.Errorf("ConstraintTolerance must be positive, got %f", opts.ConstraintTolerance)
	}
	if opts.InitialStep <= 0 {
		return nil, errors.Errorf("InitialStep must be positive, got %f", opts.InitialStep)
	}
	if opts.TimePenalty < 0 || opts.PenaltyWeight < 0 {
		return nil, errors.New("TimePenalty and PenaltyWeight must not be negative")
	}
	if logger == nil {
		logger = golog.Global()
	}
	lin, err := NewLinearOptimizer(n, logger)
	if err != nil {
		return nil, err
	}
	return &NonlinearOptimizer{opts: opts, logger: logger, lin: lin}, nil
}

// AddMaximumMagnitudeConstraint registers a soft upper bound on the Euclidean
// magnitude of the given derivative anywhere along the trajectory. Must be
// called before Optimize.
func (no *NonlinearOptimizer) AddMaximumMagnitudeConstraint(d Derivative, bound float64) error {
	if d < Velocity {
		return errors.Errorf("cannot bound the magnitude of %s", d)
	}
	if bound <= 0 {
		return errors.Errorf("magnitude bound must be positive, got %f", bound)
	}
	no.constraints = append(no.constraints, magnitudeConstraint{derivative: d, bound: bound})
	return nil
}

// SetupFromVertices validates the path and prepares the inner solve; see
// LinearOptimizer.SetupFromVertices.
func (no *NonlinearOptimizer) SetupFromVertices(vertices []*Vertex, durations []float64, d Derivative) error {
	no.solved = false
	no.violation = 0
	return no.lin.SetupFromVertices(vertices, durations, d)
}

// Optimize refines the setup path and reports whether the outer solver
// converged within its tolerances. Hitting the iteration cap keeps the best
// iterate found and returns converged == false rather than an error. A result
// that still violates a registered constraint is kept and reported through
// ConstraintViolation.
func (no *NonlinearOptimizer) Optimize(ctx context.Context) (bool, error) {
	if !no.lin.ready {
		return false, errors.New("SetupFromVertices must be called before Optimize")
	}
	// The initial closed-form solve seeds the free derivatives and proves the
	// input solvable before the outer iteration starts.
	if err := no.lin.Solve(); err != nil {
		return false, err
	}

	nSeg := len(no.lin.durations)
	nFree := no.lin.nFree
	dim := no.lin.dim
	timeOnly := no.opts.TimeOnly || nFree == 0
	nVar := nSeg
	if !timeOnly {
		nVar += nFree * dim
	}

	x0 := make([]float64, nVar)
	lower := make([]float64, nVar)
	upper := make([]float64, nVar)
	// A caller may set up with durations below the usual floor; widen the box
	// so the start point is never outside it.
	timeFloor := math.Min(minSegmentTime, floats.Min(no.lin.durations))
	for i, t := range no.lin.durations {
		x0[i] = math.Log(t)
		lower[i] = math.Log(timeFloor)
		upper[i] = math.Log(maxSegmentTime)
	}
	if !timeOnly {
		for dd := 0; dd < dim; dd++ {
			copy(x0[nSeg+dd*nFree:], no.lin.free[dd])
		}
		for i := nSeg; i < nVar; i++ {
			lower[i] = -freeDerivativeBound
			upper[i] = freeDerivativeBound
		}
	}

	durations := make([]float64, nSeg)
	objective := func(x []float64) float64 {
		for i := 0; i < nSeg; i++ {
			durations[i] = math.Exp(x[i])
		}
		if err := no.lin.updateDurations(durations); err != nil {
			return math.MaxFloat64
		}
		if err := no.lin.assemble(); err != nil {
			no.logger.Debugw("inner assembly failed during refinement", "error", err)
			return math.MaxFloat64
		}
		if timeOnly {
			if err := no.lin.solveFree(); err != nil {
				no.logger.Debugw("inner solve failed during refinement", "error", err)
				return math.MaxFloat64
			}
		} else {
			free := make([][]float64, dim)
			for dd := 0; dd < dim; dd++ {
				free[dd] = x[nSeg+dd*nFree : nSeg+(dd+1)*nFree]
			}
			if err := no.lin.setFreeDerivatives(free); err != nil {
				return math.MaxFloat64
			}
		}
		if err := no.lin.backSubstitute(); err != nil {
			return math.MaxFloat64
		}
		total := no.lin.cost
		total += no.opts.TimePenalty * floats.Sum(durations)
		total += no.penalty(no.lin.segments)
		return total
	}

	m := no.opts.Minimizer
	if m == nil {
		nm, err := minimize.NewNLoptMinimizer(no.logger)
		if err != nil {
			return false, err
		}
		m = nm
	}
	res, err := m.Minimize(ctx, minimize.Problem{
		X0:             x0,
		Objective:      objective,
		LowerBounds:    lower,
		UpperBounds:    upper,
		InitialStep:    no.opts.InitialStep,
		MaxEvaluations: no.opts.MaxIterations,
		FTolRel:        no.opts.FTolRel,
		XTolRel:        no.opts.XTolRel,
	})
	if len(res.X) == nVar {
		// leave the inner optimizer holding the best iterate found
		objective(res.X)
	}
	no.solved = no.lin.solved
	if err != nil {
		return false, err
	}
	if no.violation > no.opts.ConstraintTolerance {
		no.logger.Warnw("refined trajectory still violates a magnitude constraint",
			"violation", no.violation, "tolerance", no.opts.ConstraintTolerance)
	}
	no.logger.Debugw("nonlinear refinement finished",
		"evaluations", res.Evaluations, "objective", res.Value, "converged", res.Converged)
	return res.Converged, nil
}

// penalty computes the soft constraint cost of a candidate segment set and
// records the worst positive bound excess seen.
func (no *NonlinearOptimizer) penalty(segments []Segment) float64 {
	no.violation = 0
	if len(no.constraints) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range no.constraints {
		worst := math.Inf(-1)
		integral := 0.0
		for _, seg := range segments {
			steps := int(seg.Duration()/no.opts.SampleResolution) + 1
			dt := seg.Duration() / float64(steps)
			for i := 0; i <= steps; i++ {
				mag := floats.Norm(seg.Evaluate(float64(i)*dt, c.derivative), 2)
				excess := mag - c.bound
				if excess > worst {
					worst = excess
				}
				integral += penaltyRamp(excess/no.opts.ConstraintTolerance) * dt
			}
		}
		switch no.opts.Aggregation {
		case AggregateIntegral:
			total += no.opts.PenaltyWeight * integral
		default:
			total += no.opts.PenaltyWeight * penaltyRamp(worst/no.opts.ConstraintTolerance)
		}
		if worst > no.violation {
			no.violation = worst
		}
	}
	return total
}

// penaltyRamp maps a normalized bound excess to a smooth penalty that is tiny
// while the constraint has slack and grows steeply once the bound is crossed.
func penaltyRamp(e float64) float64 {
	return math.Exp(math.Min(e, maxPenaltyExponent))
}

// Segments returns the refined segments.
func (no *NonlinearOptimizer) Segments() ([]Segment, error) {
	if !no.solved {
		return nil, ErrUnsolved
	}
	return no.lin.Segments()
}

// Trajectory builds a trajectory from the refined segments.
func (no *NonlinearOptimizer) Trajectory() (*Trajectory, error) {
	if !no.solved {
		return nil, ErrUnsolved
	}
	return no.lin.Trajectory()
}

// Cost returns the inner derivative cost of the refined segments, excluding
// the time and constraint penalty terms.
func (no *NonlinearOptimizer) Cost() float64 {
	return no.lin.Cost()
}

// ConstraintViolation returns the worst positive magnitude excess of the
// result over its registered bounds, zero when every constraint is satisfied.
// A value above the constraint tolerance marks the result as infeasible with
// respect to the soft constraints; the segments themselves remain the
// minimum-penalty iterate found.
func (no *NonlinearOptimizer) ConstraintViolation() float64 {
	return no.violation
}

// SegmentTimes returns the refined per-segment durations.
func (no *NonlinearOptimizer) SegmentTimes() ([]float64, error) {
	if !no.solved {
		return nil, ErrUnsolved
	}
	return append([]float64(nil), no.lin.durations...), nil
}
