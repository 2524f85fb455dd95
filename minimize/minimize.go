// Package minimize abstracts local nonlinear minimization behind a small
// problem/result interface, keeping callers decoupled from any particular
// solver library. The default implementation wraps NLopt.
package minimize

import "context"

// Problem describes a bound-constrained local minimization.
type Problem struct {
	// X0 is the starting point; its length fixes the variable count.
	X0 []float64
	// Objective returns the value to minimize at x. Required.
	Objective func(x []float64) float64
	// Gradient, when non-nil, fills grad with the objective gradient at x and
	// selects a gradient-based algorithm. When nil a derivative-free algorithm
	// is used.
	Gradient func(x, grad []float64)
	// LowerBounds and UpperBounds are per-variable box constraints; empty
	// slices leave the corresponding side unbounded.
	LowerBounds []float64
	UpperBounds []float64
	// InitialStep is the first trial step size, when positive.
	InitialStep float64
	// MaxEvaluations caps the number of objective evaluations. Non-positive
	// selects a solver default.
	MaxEvaluations int
	// FTolRel and XTolRel are relative convergence tolerances on the objective
	// value and the variable vector; non-positive values disable the test.
	FTolRel float64
	XTolRel float64
}

// Result is the outcome of a minimization. X and Value always describe the
// best iterate seen, whether or not the run converged.
type Result struct {
	X           []float64
	Value       float64
	Evaluations int
	// Converged is false when the run stopped on the evaluation cap rather
	// than meeting a tolerance.
	Converged bool
}

// Minimizer is a pluggable local solver.
type Minimizer interface {
	Minimize(ctx context.Context, prob Problem) (Result, error)
}
