// Package kernel evaluates covariance and mean functions on point sets.
// Points are the rows of a matrix; columns are input dimensions.
package kernel

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidHyperparameter is returned when a kernel is built from non-positive scales.
var ErrInvalidHyperparameter = errors.New("kernel: hyperparameters must be positive and finite")

// Kernel evaluates the prior covariance between two point sets.
type Kernel interface {
	// Matrix returns K with K[i][j] = k(x_i, y_j).
	Matrix(x, y mat.Matrix) *mat.Dense
}

// Separable kernels factor over input dimensions:
//
//	k(x, y) = Scale() · Π_d k_d(x_d, y_d)
//
// which lets the covariance on a Cartesian grid be written as a Kronecker product.
type Separable interface {
	Kernel
	Dims() int
	Scale() float64
	// Factor evaluates the unit-scale kernel of dimension d on the points u.
	Factor(d int, u []float64) *mat.SymDense
}

// Mean evaluates the prior mean at each row of x.
type Mean interface {
	Vector(x mat.Matrix) *mat.VecDense
}

// Constant broadcasts a single value to every input.
type Constant float64

var _ Mean = Constant(0)

func (c Constant) Vector(x mat.Matrix) *mat.VecDense {
	r, _ := x.Dims()
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetVec(i, float64(c))
	}
	return out
}
