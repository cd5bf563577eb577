package kernel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	rbf *RBF
	_   Separable = rbf // Check that RBF respects the Separable interface.
)

// RBF is the squared-exponential kernel with one length-scale per dimension.
type RBF struct {
	outputscale  float64
	lengthscales []float64
}

func NewRBF(outputscale float64, lengthscales ...float64) (*RBF, error) {
	if !positive(outputscale) || len(lengthscales) == 0 {
		return nil, fmt.Errorf("%w: outputscale=%g dims=%d", ErrInvalidHyperparameter, outputscale, len(lengthscales))
	}
	for d, l := range lengthscales {
		if !positive(l) {
			return nil, fmt.Errorf("%w: lengthscale[%d]=%g", ErrInvalidHyperparameter, d, l)
		}
	}
	return &RBF{
		outputscale:  outputscale,
		lengthscales: append([]float64(nil), lengthscales...),
	}, nil
}

func (k *RBF) Dims() int {
	return len(k.lengthscales)
}

func (k *RBF) Scale() float64 {
	return k.outputscale
}

func (k *RBF) Lengthscale(d int) float64 {
	return k.lengthscales[d]
}

// Matrix evaluates s·exp(-½ Σ_d (x_d - y_d)²/l_d²) for every pair of rows.
func (k *RBF) Matrix(x, y mat.Matrix) *mat.Dense {
	nx, dx := x.Dims()
	ny, dy := y.Dims()
	if dx != k.Dims() || dy != k.Dims() {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(nx, ny, nil)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			sq := 0.0
			for d, l := range k.lengthscales {
				diff := (x.At(i, d) - y.At(j, d)) / l
				sq += diff * diff
			}
			out.Set(i, j, k.outputscale*math.Exp(-0.5*sq))
		}
	}
	return out
}

func (k *RBF) Factor(d int, u []float64) *mat.SymDense {
	l := k.lengthscales[d]
	out := mat.NewSymDense(len(u), nil)
	for i := range u {
		out.SetSym(i, i, 1)
		for j := i + 1; j < len(u); j++ {
			diff := (u[i] - u[j]) / l
			out.SetSym(i, j, math.Exp(-0.5*diff*diff))
		}
	}
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
