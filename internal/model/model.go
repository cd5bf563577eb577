package model

import "gonum.org/v1/gonum/mat"

// Batch is a regression training set: one input point per row of X and the
// matching targets in Y.
type Batch struct {
	X mat.Matrix
	Y mat.Vector
}

// Model defines the minimal functionality required by the training loop.
type Model interface {
	// Marginal returns the marginal distribution of the targets at x.
	Marginal(p *Params, x mat.Matrix) (*MVN, error)
	// Loss is the negative marginal log-likelihood per data point.
	Loss(p *Params, x mat.Matrix, y mat.Vector) (float64, error)
}

var _ Model = (*GP)(nil)
