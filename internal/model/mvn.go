package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxCond bounds the condition number of the capacitance matrix before a
// solve is treated as numerically unusable.
const maxCond = 1e15

var (
	ErrNumericalInstability = errors.New("model: covariance is numerically ill-conditioned")
	ErrNonFinite            = errors.New("model: non-finite value")
	ErrShapeMismatch        = errors.New("model: shape mismatch")
)

// MVN is a multivariate normal whose covariance has the low-rank-plus-diagonal
// form Factor·Factorᵀ + Noise·I.
type MVN struct {
	Mean   *mat.VecDense
	Factor *mat.Dense
	Noise  float64
}

func (m *MVN) Len() int {
	return m.Mean.Len()
}

// Rank is the number of columns of the covariance factor.
func (m *MVN) Rank() int {
	_, k := m.Factor.Dims()
	return k
}

// Covariance materialises the dense covariance matrix.
func (m *MVN) Covariance() *mat.SymDense {
	cov := mat.NewSymDense(m.Len(), nil)
	cov.SymOuterK(1, m.Factor)
	for i := 0; i < m.Len(); i++ {
		cov.SetSym(i, i, cov.At(i, i)+m.Noise)
	}
	return cov
}

// Variance returns the diagonal of the covariance.
func (m *MVN) Variance() []float64 {
	out := make([]float64, m.Len())
	for i := range out {
		row := m.Factor.RawRowView(i)
		out[i] = floats.Dot(row, row) + m.Noise
	}
	return out
}

// LogProb evaluates log N(y; Mean, Factor·Factorᵀ + Noise·I).
//
// With Φ = Factor, σ² = Noise and B = σ²I + ΦᵀΦ the quadratic form and the
// log-determinant reduce to k×k work:
//
//	rᵀ(ΦΦᵀ + σ²I)⁻¹r = (rᵀr − (Φᵀr)ᵀ B⁻¹ (Φᵀr)) / σ²
//	log|ΦΦᵀ + σ²I|  = (n − k)·log σ² + log|B|
func (m *MVN) LogProb(y mat.Vector) (float64, error) {
	n := m.Len()
	if y.Len() != n {
		return 0, fmt.Errorf("%w: %d targets for %d outputs", ErrShapeMismatch, y.Len(), n)
	}
	var r mat.VecDense
	r.SubVec(y, m.Mean)

	chol, err := capacitance(m.Factor, m.Noise)
	if err != nil {
		return 0, err
	}
	var phiTr, z mat.VecDense
	phiTr.MulVec(m.Factor.T(), &r)
	if err := chol.SolveVecTo(&z, &phiTr); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNumericalInstability, err)
	}
	quad := (mat.Dot(&r, &r) - mat.Dot(&phiTr, &z)) / m.Noise
	logDet := float64(n-m.Rank())*math.Log(m.Noise) + chol.LogDet()
	lp := -0.5 * (quad + logDet + float64(n)*math.Log(2*math.Pi))
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return 0, fmt.Errorf("%w: log probability %g", ErrNonFinite, lp)
	}
	return lp, nil
}

// MarginalLogLikelihood is the log probability of y under dist, averaged
// over the number of observations.
func MarginalLogLikelihood(dist *MVN, y mat.Vector) (float64, error) {
	lp, err := dist.LogProb(y)
	if err != nil {
		return 0, err
	}
	return lp / float64(dist.Len()), nil
}

// capacitance factorises B = noise·I + ΦᵀΦ.
func capacitance(phi *mat.Dense, noise float64) (*mat.Cholesky, error) {
	if !(noise > 0) || math.IsInf(noise, 0) {
		return nil, fmt.Errorf("%w: noise variance %g", ErrNumericalInstability, noise)
	}
	_, k := phi.Dims()
	b := mat.NewSymDense(k, nil)
	b.SymOuterK(1, phi.T())
	for i := 0; i < k; i++ {
		v := b.At(i, i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: covariance factor", ErrNonFinite)
		}
		b.SetSym(i, i, v+noise)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(b); !ok {
		return nil, fmt.Errorf("%w: capacitance matrix is not positive definite", ErrNumericalInstability)
	}
	if cond := chol.Cond(); cond > maxCond {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrNumericalInstability, cond)
	}
	return &chol, nil
}
