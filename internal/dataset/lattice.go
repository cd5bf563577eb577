package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidResolution is returned when a lattice cannot be laid out over [0,1]².
var ErrInvalidResolution = errors.New("dataset: grid resolution must be >= 2")

// Data is a synthetic regression set. It is built once and shared by the
// trainer and evaluator; callers must treat X and Y as read-only.
type Data struct {
	X *mat.Dense    // n² × 2 inputs, row-major over the lattice
	Y *mat.VecDense // noisy targets
	N int           // lattice resolution per axis
}

// Grid lays out an n×n lattice over [0,1]×[0,1]. Row i*n+j holds (i/(n-1), j/(n-1)).
func Grid(n int) (*mat.Dense, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidResolution, n)
	}
	step := 1.0 / float64(n-1)
	x := mat.NewDense(n*n, 2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			row := i*n + j
			x.Set(row, 0, float64(i)*step)
			x.Set(row, 1, float64(j)*step)
		}
	}
	return x, nil
}

// Sine evaluates sin(2π(x0+x1)) for every row of x.
func Sine(x mat.Matrix) *mat.VecDense {
	r, _ := x.Dims()
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetVec(i, math.Sin(2*math.Pi*(x.At(i, 0)+x.At(i, 1))))
	}
	return out
}

// Targets adds independent N(0, noiseStd²) noise to the sine surface.
func Targets(x mat.Matrix, noiseStd float64, src rand.Source) *mat.VecDense {
	y := Sine(x)
	if noiseStd <= 0 {
		return y
	}
	noise := distuv.Normal{Mu: 0, Sigma: noiseStd, Src: src}
	for i := 0; i < y.Len(); i++ {
		y.SetVec(i, y.AtVec(i)+noise.Rand())
	}
	return y
}

// Generate builds the training set for an n×n lattice.
func Generate(n int, noiseStd float64, seed uint64) (*Data, error) {
	x, err := Grid(n)
	if err != nil {
		return nil, err
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Data{
		X: x,
		Y: Targets(x, noiseStd, src),
		N: n,
	}, nil
}
