//go:build windows || no_cgo

package minimize

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// NLoptMinimizer mimics the type in the cgo compiled code.
type NLoptMinimizer struct{}

// NewNLoptMinimizer is not supported on builds without cgo.
func NewNLoptMinimizer(logger golog.Logger) (*NLoptMinimizer, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Minimize refuses to solve problems without cgo.
func (m *NLoptMinimizer) Minimize(ctx context.Context, prob Problem) (Result, error) {
	return Result{}, errors.New("cannot minimize without cgo")
}
