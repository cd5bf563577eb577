package optim

import (
	"math"

	"kissgp/internal/model"
)

// Adam holds the optimizer hyperparameters. Moment estimates live in AdamState
// and are threaded through Step explicitly.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
}

// NewAdam returns Adam with the usual moment decay rates.
func NewAdam(lr float64) Adam {
	return Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

// AdamState carries the first and second moment estimates.
type AdamState struct {
	Step int
	M    []float64
	V    []float64
}

// Step applies one update using the gradient accumulated in p and returns the
// updated parameters and moments. Neither p nor s is modified.
func (a Adam) Step(p *model.Params, s AdamState) (*model.Params, AdamState) {
	raw := p.Raw()
	grad := p.Grad()
	next := AdamState{
		Step: s.Step + 1,
		M:    make([]float64, len(raw)),
		V:    make([]float64, len(raw)),
	}
	copy(next.M, s.M)
	copy(next.V, s.V)

	c1 := 1 - math.Pow(a.Beta1, float64(next.Step))
	c2 := 1 - math.Pow(a.Beta2, float64(next.Step))
	for i, g := range grad {
		next.M[i] = a.Beta1*next.M[i] + (1-a.Beta1)*g
		next.V[i] = a.Beta2*next.V[i] + (1-a.Beta2)*g*g
		mHat := next.M[i] / c1
		vHat := next.V[i] / c2
		raw[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
	}
	return p.WithRaw(raw), next
}
