// Package optim differentiates scalar objectives over model parameters and
// applies Adam updates.
package optim

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/diff/fd"

	"kissgp/internal/model"
)

var ErrNonFiniteGradient = errors.New("optim: non-finite gradient")

// Objective evaluates a scalar loss at a parameter point. It must not modify p.
type Objective func(p *model.Params) (float64, error)

// GradientSettings tunes the finite-difference stencil.
type GradientSettings struct {
	// Step is the stencil spacing in raw parameter space; zero uses the formula default.
	Step float64
	// Concurrent evaluates stencil points in parallel.
	Concurrent bool
}

// Gradient differentiates f at p with respect to the raw parameters using a
// central difference and adds the result to p's accumulated gradient.
// The first error returned by f aborts the update.
func Gradient(f Objective, p *model.Params, s GradientSettings) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	eval := func(raw []float64) float64 {
		v, err := f(p.WithRaw(raw))
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return math.NaN()
		}
		return v
	}
	grad := fd.Gradient(nil, eval, p.Raw(), &fd.Settings{
		Formula:    fd.Central,
		Step:       s.Step,
		Concurrent: s.Concurrent,
	})
	if firstErr != nil {
		return fmt.Errorf("optim: gradient: %w", firstErr)
	}
	for i, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: d/d%s = %g", ErrNonFiniteGradient, p.Names()[i], g)
		}
	}
	p.AccumulateGrad(grad)
	return nil
}
