//go:build !windows && !no_cgo

package minimize

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

const defaultMaxEvaluations = 1000

// NLoptMinimizer runs a local NLopt algorithm: derivative-free BOBYQA when the
// problem carries no gradient, SLSQP otherwise. The best iterate is tracked
// inside the objective so a capped or force-stopped run still returns the best
// point seen.
type NLoptMinimizer struct {
	logger golog.Logger
}

// NewNLoptMinimizer creates an NLopt-backed minimizer.
func NewNLoptMinimizer(logger golog.Logger) (*NLoptMinimizer, error) {
	if logger == nil {
		logger = golog.Global()
	}
	return &NLoptMinimizer{logger: logger}, nil
}

type optimizeReturn struct {
	x   []float64
	f   float64
	err error
}

// Minimize runs the solver until a tolerance is met, the evaluation cap is
// reached, or ctx is cancelled. Cancellation force-stops the solver and
// returns the best iterate alongside the context error.
func (m *NLoptMinimizer) Minimize(ctx context.Context, prob Problem) (Result, error) {
	if prob.Objective == nil {
		return Result{}, errors.New("problem has no objective")
	}
	n := len(prob.X0)
	if n == 0 {
		return Result{}, errors.New("problem has no variables")
	}
	maxEval := prob.MaxEvaluations
	if maxEval <= 0 {
		maxEval = defaultMaxEvaluations
	}

	algorithm := nlopt.LN_BOBYQA
	if prob.Gradient != nil {
		algorithm = nlopt.LD_SLSQP
	}
	opt, err := nlopt.NewNLopt(algorithm, uint(n))
	if err != nil {
		return Result{}, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	evals := 0
	best := Result{X: append([]float64(nil), prob.X0...), Value: math.Inf(1)}
	objective := func(x, gradient []float64) float64 {
		evals++
		f := prob.Objective(x)
		if f < best.Value {
			best.Value = f
			copy(best.X, x)
		}
		if len(gradient) > 0 && prob.Gradient != nil {
			prob.Gradient(x, gradient)
		}
		return f
	}

	err = multierr.Combine(
		opt.SetMinObjective(objective),
		opt.SetMaxEval(maxEval),
	)
	if prob.FTolRel > 0 {
		err = multierr.Append(err, opt.SetFtolRel(prob.FTolRel))
	}
	if prob.XTolRel > 0 {
		err = multierr.Append(err, opt.SetXtolRel(prob.XTolRel))
	}
	if len(prob.LowerBounds) > 0 {
		err = multierr.Append(err, opt.SetLowerBounds(prob.LowerBounds))
	}
	if len(prob.UpperBounds) > 0 {
		err = multierr.Append(err, opt.SetUpperBounds(prob.UpperBounds))
	}
	if prob.InitialStep > 0 {
		err = multierr.Append(err, opt.SetInitialStep1(prob.InitialStep))
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "nlopt configuration error")
	}

	solveChan := make(chan *optimizeReturn, 1)
	utils.PanicCapturingGo(func() {
		x, f, optErr := opt.Optimize(append([]float64(nil), prob.X0...))
		solveChan <- &optimizeReturn{x, f, optErr}
	})

	var solveErr error
	select {
	case <-ctx.Done():
		solveErr = multierr.Combine(ctx.Err(), opt.ForceStop())
		<-solveChan
	case ret := <-solveChan:
		if ret.err != nil {
			// Roundoff-limited and similar soft stops still leave a usable
			// iterate; the tracked best covers them.
			m.logger.Debugw("nlopt stopped early", "error", ret.err)
		}
		if ret.x != nil && ret.f <= best.Value {
			best.Value = ret.f
			copy(best.X, ret.x)
		}
	}
	best.Evaluations = evals
	best.Converged = solveErr == nil && evals > 0 && evals < maxEval
	return best, solveErr
}
