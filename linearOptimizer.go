package trajplan

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// singularValueTol scales the largest singular value to decide the numerical
// rank of the reduced cost matrix during the least-squares fallback.
const singularValueTol = 1e-12

// LinearOptimizer computes minimum-derivative polynomial segments through a
// vertex sequence with known segment durations, in closed form.
//
// Unknowns are the endpoint derivatives of every segment, orders 0 through
// N/2-1 per vertex. Derivatives fixed by a vertex are eliminated by
// substitution; the remaining free derivatives are solved from the reduced
// quadratic cost. Adjacent segments share their boundary unknowns, so
// derivative continuity through order N/2-1 holds by construction.
type LinearOptimizer struct {
	n      int
	logger golog.Logger

	dim        int
	derivative Derivative
	vertices   []*Vertex
	durations  []float64

	// unknown bookkeeping, indexed [vertex][derivative order]
	fixed  [][]bool
	index  [][]int
	nFixed int
	nFree  int
	// fixed derivative values, indexed [dimension][fixed index]
	fixedVals [][]float64

	// per-segment matrices for the current durations
	invA []*mat.Dense
	quad []*mat.Dense

	// reduced cost blocks over the free (P) and fixed (F) unknowns
	rpp *mat.Dense
	rfp *mat.Dense

	// free derivative values, indexed [dimension][free index]
	free [][]float64

	segments  []Segment
	cost      float64
	condition float64
	ready     bool
	solved    bool
}

// NewLinearOptimizer creates an optimizer producing polynomials with n
// coefficients per dimension. n must be a positive even number of at least 4;
// minimizing derivative d additionally needs n >= 2d+2, checked at setup.
func NewLinearOptimizer(n int, logger golog.Logger) (*LinearOptimizer, error) {
	if n < 4 || n%2 != 0 {
		return nil, errors.Errorf("polynomial coefficient count must be even and at least 4, got %d", n)
	}
	if logger == nil {
		logger = golog.Global()
	}
	return &LinearOptimizer{n: n, logger: logger}, nil
}

// N returns the per-dimension polynomial coefficient count.
func (lo *LinearOptimizer) N() int {
	return lo.n
}

// SetupFromVertices validates the path and prepares the solve. The vertices
// are referenced, not copied, and must not be mutated until the run finishes.
func (lo *LinearOptimizer) SetupFromVertices(vertices []*Vertex, durations []float64, d Derivative) error {
	if len(vertices) < 2 {
		return newTooFewVerticesError(len(vertices))
	}
	if len(durations) != len(vertices)-1 {
		return newDurationCountError(len(vertices)-1, len(durations))
	}
	if d < Velocity {
		return errors.Errorf("cannot minimize %s", d)
	}
	if lo.n < 2*int(d)+2 {
		return newOrderTooLowError(lo.n, d)
	}
	for i, t := range durations {
		if t <= 0 {
			return newNonPositiveDurationError(i, t)
		}
	}
	dim := vertices[0].Dim()
	if dim < 1 {
		return errors.New("vertices must have at least one dimension")
	}
	nd := lo.n / 2
	for i, v := range vertices {
		if v.Dim() != dim {
			return newDimensionMismatchError(i, v.Dim(), dim)
		}
		if !v.HasConstraint(Position) {
			return errors.Errorf("vertex %d has no position constraint", i)
		}
		if maxOrder := v.maxConstraintOrder(); int(maxOrder) >= nd {
			return newConstraintOrderError(i, maxOrder, lo.n)
		}
	}

	lo.dim = dim
	lo.derivative = d
	lo.vertices = vertices
	lo.durations = append([]float64(nil), durations...)

	// Partition the per-vertex endpoint derivatives into fixed and free
	// unknowns, numbering each block in vertex-then-order sequence.
	lo.fixed = make([][]bool, len(vertices))
	lo.index = make([][]int, len(vertices))
	lo.nFixed, lo.nFree = 0, 0
	for vi, v := range vertices {
		lo.fixed[vi] = make([]bool, nd)
		lo.index[vi] = make([]int, nd)
		for k := 0; k < nd; k++ {
			if v.HasConstraint(Derivative(k)) {
				lo.fixed[vi][k] = true
				lo.index[vi][k] = lo.nFixed
				lo.nFixed++
			} else {
				lo.index[vi][k] = lo.nFree
				lo.nFree++
			}
		}
	}
	lo.fixedVals = make([][]float64, dim)
	for dd := range lo.fixedVals {
		lo.fixedVals[dd] = make([]float64, lo.nFixed)
	}
	for vi, v := range vertices {
		for k := 0; k < nd; k++ {
			if !lo.fixed[vi][k] {
				continue
			}
			val, _ := v.Constraint(Derivative(k))
			for dd := 0; dd < dim; dd++ {
				lo.fixedVals[dd][lo.index[vi][k]] = val[dd]
			}
		}
	}

	lo.free = nil
	lo.segments = nil
	lo.cost = 0
	lo.condition = 0
	lo.ready = true
	lo.solved = false
	return nil
}

// Solve runs the closed-form optimization for the current vertices and
// durations. It is deterministic and has no side effects beyond storing the
// resulting segments; solving the same inputs twice yields identical
// coefficients.
func (lo *LinearOptimizer) Solve() error {
	if !lo.ready {
		return errors.New("SetupFromVertices must be called before Solve")
	}
	lo.condition = 0
	if err := lo.assemble(); err != nil {
		return err
	}
	if err := lo.solveFree(); err != nil {
		return err
	}
	return lo.backSubstitute()
}

// Segments returns the solved segments.
func (lo *LinearOptimizer) Segments() ([]Segment, error) {
	if !lo.solved {
		return nil, ErrUnsolved
	}
	segs := make([]Segment, len(lo.segments))
	copy(segs, lo.segments)
	return segs, nil
}

// Trajectory builds a trajectory from the solved segments.
func (lo *LinearOptimizer) Trajectory() (*Trajectory, error) {
	if !lo.solved {
		return nil, ErrUnsolved
	}
	return NewTrajectory(lo.segments)
}

// Cost returns the achieved integral of the squared optimization derivative,
// summed over segments and dimensions. Zero before a successful solve.
func (lo *LinearOptimizer) Cost() float64 {
	return lo.cost
}

// ConditionReported returns the largest condition estimate encountered while
// solving, or zero when every factorization was well conditioned. A large
// value flags a numerically marginal result that was recovered by the
// least-squares fallback.
func (lo *LinearOptimizer) ConditionReported() float64 {
	return lo.condition
}

// updateDurations swaps in new segment durations without re-deriving the
// constraint partition. Used by the nonlinear refinement between iterations.
func (lo *LinearOptimizer) updateDurations(durations []float64) error {
	if !lo.ready {
		return errors.New("SetupFromVertices must be called first")
	}
	if len(durations) != len(lo.durations) {
		return newDurationCountError(len(lo.durations), len(durations))
	}
	for i, t := range durations {
		if t <= 0 {
			return newNonPositiveDurationError(i, t)
		}
	}
	copy(lo.durations, durations)
	lo.solved = false
	return nil
}

// setFreeDerivatives installs externally chosen free derivative values,
// bypassing solveFree. Used when the nonlinear refinement optimizes the free
// derivatives jointly with the durations.
func (lo *LinearOptimizer) setFreeDerivatives(free [][]float64) error {
	if len(free) != lo.dim {
		return errors.Errorf("got free derivatives for %d dimensions, expected %d", len(free), lo.dim)
	}
	for dd, vals := range free {
		if len(vals) != lo.nFree {
			return errors.Errorf("dimension %d has %d free values, expected %d", dd, len(vals), lo.nFree)
		}
	}
	lo.free = free
	return nil
}

// localToGlobal maps a segment-local endpoint derivative (orders 0..N/2-1 at
// the start, then at the end) to its vertex and derivative order.
func (lo *LinearOptimizer) localToGlobal(segment, local int) (vertex, order int) {
	nd := lo.n / 2
	if local < nd {
		return segment, local
	}
	return segment + 1, local - nd
}

// assemble builds the per-segment cost Hessians and endpoint mapping inverses
// for the current durations, then accumulates the reduced cost blocks over the
// global unknown ordering.
func (lo *LinearOptimizer) assemble() error {
	nd := lo.n / 2
	nSeg := len(lo.durations)
	lo.invA = make([]*mat.Dense, nSeg)
	lo.quad = make([]*mat.Dense, nSeg)
	for s, t := range lo.durations {
		a := mat.NewDense(lo.n, lo.n, nil)
		for k := 0; k < nd; k++ {
			a.Set(k, k, baseCoefficient(k, Derivative(k)))
			tPow := 1.0
			for i := k; i < lo.n; i++ {
				a.Set(nd+k, i, baseCoefficient(i, Derivative(k))*tPow)
				tPow *= t
			}
		}
		var inv mat.Dense
		if err := inv.Inverse(a); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return errors.Wrapf(err, "endpoint map of segment %d is singular", s)
			}
			lo.condition = math.Max(lo.condition, float64(cond))
		}
		lo.invA[s] = &inv
		lo.quad[s] = costHessian(lo.n, lo.derivative, t)
	}

	if lo.nFree == 0 {
		lo.rpp = nil
		lo.rfp = nil
		return nil
	}
	// R = invA^T Q invA per segment, scattered into blocks over the fixed (F)
	// and free (P) unknowns. The fixed-fixed block is a constant cost offset
	// and is never needed; the free-fixed block is the transpose of rfp.
	lo.rpp = mat.NewDense(lo.nFree, lo.nFree, nil)
	lo.rfp = mat.NewDense(lo.nFixed, lo.nFree, nil)
	var qa, r mat.Dense
	for s := range lo.durations {
		qa.Reset()
		r.Reset()
		qa.Mul(lo.quad[s], lo.invA[s])
		r.Mul(lo.invA[s].T(), &qa)
		for li := 0; li < lo.n; li++ {
			vi, ki := lo.localToGlobal(s, li)
			for lj := 0; lj < lo.n; lj++ {
				vj, kj := lo.localToGlobal(s, lj)
				if lo.fixed[vj][kj] {
					continue
				}
				gj := lo.index[vj][kj]
				val := r.At(li, lj)
				if lo.fixed[vi][ki] {
					gi := lo.index[vi][ki]
					lo.rfp.Set(gi, gj, lo.rfp.At(gi, gj)+val)
				} else {
					gi := lo.index[vi][ki]
					lo.rpp.Set(gi, gj, lo.rpp.At(gi, gj)+val)
				}
			}
		}
	}
	return nil
}

// solveFree computes the free derivative values that minimize the quadratic
// cost given the fixed ones, solving R_pp dp = -R_fp^T df per dimension.
// Cholesky handles the well-conditioned positive-definite case; an SVD
// pseudoinverse is the least-squares fallback for near-singular systems, with
// the observed condition recorded rather than treated as fatal.
func (lo *LinearOptimizer) solveFree() error {
	lo.free = make([][]float64, lo.dim)
	if lo.nFree == 0 {
		return nil
	}

	// The scatter accumulation is symmetric up to floating-point error;
	// symmetrize explicitly before factorizing.
	sym := mat.NewSymDense(lo.nFree, nil)
	for i := 0; i < lo.nFree; i++ {
		for j := i; j < lo.nFree; j++ {
			sym.SetSym(i, j, 0.5*(lo.rpp.At(i, j)+lo.rpp.At(j, i)))
		}
	}
	var chol mat.Cholesky
	posDef := chol.Factorize(sym)

	var svd mat.SVD
	var u, v mat.Dense
	var sv []float64
	rank := 0
	if !posDef {
		if ok := svd.Factorize(lo.rpp, mat.SVDThin); !ok {
			return errors.New("SVD of the reduced cost matrix failed")
		}
		svd.UTo(&u)
		svd.VTo(&v)
		sv = svd.Values(nil)
		tol := float64(lo.nFree) * sv[0] * singularValueTol
		for _, s := range sv {
			if s > tol {
				rank++
			}
		}
		if rank == 0 {
			return errors.New("reduced cost matrix is numerically zero")
		}
		lo.logger.Debugw("reduced cost matrix is not positive definite, falling back to least squares",
			"size", lo.nFree, "rank", rank)
		// Condition over the full spectrum, not just the retained subspace, so
		// a truncated direction reports as infinite rather than well behaved.
		cond := math.Inf(1)
		if smallest := sv[len(sv)-1]; smallest > 0 {
			cond = sv[0] / smallest
		}
		lo.condition = math.Max(lo.condition, cond)
	}

	for dd := 0; dd < lo.dim; dd++ {
		df := mat.NewVecDense(lo.nFixed, lo.fixedVals[dd])
		rhs := mat.NewVecDense(lo.nFree, nil)
		rhs.MulVec(lo.rfp.T(), df)
		rhs.ScaleVec(-1, rhs)

		dp := mat.NewVecDense(lo.nFree, nil)
		if posDef {
			if err := chol.SolveVecTo(dp, rhs); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					return errors.Wrap(err, "reduced solve failed")
				}
				lo.condition = math.Max(lo.condition, float64(cond))
			}
		} else {
			// Minimum-norm least-squares solution dp = V S^+ U^T rhs.
			var ur mat.VecDense
			ur.MulVec(u.T(), rhs)
			scaled := mat.NewVecDense(len(sv), nil)
			for i := 0; i < rank; i++ {
				scaled.SetVec(i, ur.AtVec(i)/sv[i])
			}
			dp.MulVec(&v, scaled)
		}
		vals := make([]float64, lo.nFree)
		copy(vals, dp.RawVector().Data)
		lo.free[dd] = vals
	}
	return nil
}

// backSubstitute maps the fixed and free endpoint derivatives back to
// polynomial coefficients per segment and dimension, accumulating the achieved
// cost along the way.
func (lo *LinearOptimizer) backSubstitute() error {
	segs := make([]Segment, len(lo.durations))
	cost := 0.0
	for s, t := range lo.durations {
		polys := make([]Polynomial, lo.dim)
		for dd := 0; dd < lo.dim; dd++ {
			b := mat.NewVecDense(lo.n, nil)
			for li := 0; li < lo.n; li++ {
				vi, ki := lo.localToGlobal(s, li)
				if lo.fixed[vi][ki] {
					b.SetVec(li, lo.fixedVals[dd][lo.index[vi][ki]])
				} else {
					b.SetVec(li, lo.free[dd][lo.index[vi][ki]])
				}
			}
			p := mat.NewVecDense(lo.n, nil)
			p.MulVec(lo.invA[s], b)
			cost += mat.Inner(p, lo.quad[s], p)
			polys[dd] = NewPolynomial(p.RawVector().Data)
		}
		seg, err := NewSegment(t, polys)
		if err != nil {
			return err
		}
		segs[s] = seg
	}
	lo.segments = segs
	lo.cost = cost
	lo.solved = true
	return nil
}

// costHessian is the Hessian of the integral over [0, t] of the squared d-th
// derivative, in the coefficient basis. Entries below order d are zero.
func costHessian(n int, d Derivative, t float64) *mat.Dense {
	q := mat.NewDense(n, n, nil)
	for i := int(d); i < n; i++ {
		bi := baseCoefficient(i, d)
		for j := int(d); j < n; j++ {
			bj := baseCoefficient(j, d)
			power := i + j - 2*int(d) + 1
			q.Set(i, j, bi*bj*math.Pow(t, float64(power))/float64(power))
		}
	}
	return q
}
