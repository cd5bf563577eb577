package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Posterior is the GP conditioned on training data under fixed hyperparameters.
// It is read-only once built.
type Posterior struct {
	gp     *GP
	spec   *spectrum
	mean   float64
	noise  float64
	chol   *mat.Cholesky
	weight *mat.VecDense // B⁻¹Φᵀ(y − μ), equal to Φᵀα
}

// Prediction is the predictive distribution of the latent function.
// Variance is nil when it was not requested.
type Prediction struct {
	Mean     *mat.VecDense
	Variance *mat.VecDense
}

// Posterior conditions the model on (x, y).
func (g *GP) Posterior(p *Params, x mat.Matrix, y mat.Vector) (*Posterior, error) {
	n, _ := x.Dims()
	if y.Len() != n {
		return nil, fmt.Errorf("%w: %d targets for %d inputs", ErrShapeMismatch, y.Len(), n)
	}
	k, err := g.Kernel(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonFinite, err)
	}
	spec, err := g.decompose(k)
	if err != nil {
		return nil, err
	}
	phi, err := spec.factor(g.grid, x)
	if err != nil {
		return nil, err
	}
	mean := p.Value(MeanConstant)
	noise := g.Likelihood(p).Noise
	chol, err := capacitance(phi, noise)
	if err != nil {
		return nil, err
	}

	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, y.AtVec(i)-mean)
	}
	var phiTr mat.VecDense
	phiTr.MulVec(phi.T(), r)
	weight := &mat.VecDense{}
	if err := chol.SolveVecTo(weight, &phiTr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericalInstability, err)
	}
	return &Posterior{
		gp:     g,
		spec:   spec,
		mean:   mean,
		noise:  noise,
		chol:   chol,
		weight: weight,
	}, nil
}

// Noise is the likelihood noise variance the posterior was built with.
func (post *Posterior) Noise() float64 {
	return post.noise
}

// Predict evaluates the predictive mean, and optionally the latent variance,
// at the rows of x:
//
//	μ* = c + Φ*·B⁻¹Φᵀ(y − c)
//	v* = σ²·diag(Φ* B⁻¹ Φ*ᵀ)
func (post *Posterior) Predict(x mat.Matrix, withVariance bool) (*Prediction, error) {
	phi, err := post.spec.factor(post.gp.grid, x)
	if err != nil {
		return nil, err
	}
	n, _ := phi.Dims()

	mean := mat.NewVecDense(n, nil)
	mean.MulVec(phi, post.weight)
	for i := 0; i < n; i++ {
		v := mean.AtVec(i) + post.mean
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: predictive mean at row %d", ErrNonFinite, i)
		}
		mean.SetVec(i, v)
	}
	pred := &Prediction{Mean: mean}
	if !withVariance {
		return pred, nil
	}

	var solved mat.Dense
	if err := post.chol.SolveTo(&solved, phi.T()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericalInstability, err)
	}
	variance := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v := post.noise * mat.Dot(phi.RowView(i), solved.ColView(i))
		variance.SetVec(i, math.Max(v, 0))
	}
	pred.Variance = variance
	return pred, nil
}
