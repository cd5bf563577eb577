// Package interp provides the regular inducing grid and the sparse cubic
// interpolation weights used by structured kernel interpolation.
package interp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinSize is the smallest grid that still holds one full cubic stencil
// around every point of the data range.
const MinSize = 4

var (
	ErrGridTooSmall = errors.New("interp: grid size must be at least 4")
	ErrEmptyInput   = errors.New("interp: no input points")
	ErrOutsideGrid  = errors.New("interp: point lies outside the grid bounds")
	ErrDimMismatch  = errors.New("interp: dimension mismatch")
)

// Grid is a Cartesian lattice with Size points per dimension. Each axis spans
// the data range padded by one spacing on either side.
type Grid struct {
	size  int
	lower []float64
	upper []float64
	start []float64
	step  []float64
}

// NewGrid sizes the grid to the bounds of the rows of x.
func NewGrid(x mat.Matrix, size int) (*Grid, error) {
	if size < MinSize {
		return nil, fmt.Errorf("%w (got %d)", ErrGridTooSmall, size)
	}
	n, dims := x.Dims()
	if n == 0 || dims == 0 {
		return nil, ErrEmptyInput
	}
	g := &Grid{
		size:  size,
		lower: make([]float64, dims),
		upper: make([]float64, dims),
		start: make([]float64, dims),
		step:  make([]float64, dims),
	}
	for d := 0; d < dims; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			v := x.At(i, d)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		span := hi - lo
		if span <= 0 {
			span = 1
		}
		g.lower[d] = lo
		g.upper[d] = hi
		g.step[d] = span / float64(size-3)
		g.start[d] = lo - g.step[d]
	}
	return g, nil
}

// Size is the number of grid points per dimension.
func (g *Grid) Size() int {
	return g.size
}

func (g *Grid) Dims() int {
	return len(g.step)
}

// Bounds returns the data range covered along dimension d.
func (g *Grid) Bounds(d int) (lo, hi float64) {
	return g.lower[d], g.upper[d]
}

// Axis returns the grid coordinates along dimension d.
func (g *Grid) Axis(d int) []float64 {
	out := make([]float64, g.size)
	for p := range out {
		out[p] = g.start[d] + float64(p)*g.step[d]
	}
	return out
}

// Stencils computes one interpolation stencil per dimension for the rows of x.
func (g *Grid) Stencils(x mat.Matrix) ([]*Stencil, error) {
	n, dims := x.Dims()
	if dims != g.Dims() {
		return nil, fmt.Errorf("%w: grid has %d dims, input has %d", ErrDimMismatch, g.Dims(), dims)
	}
	out := make([]*Stencil, dims)
	for d := 0; d < dims; d++ {
		s := &Stencil{
			size:   g.size,
			first:  make([]int, n),
			weight: make([][4]float64, n),
		}
		tol := 1e-9 * (g.upper[d] - g.lower[d] + g.step[d])
		for i := 0; i < n; i++ {
			v := x.At(i, d)
			if v < g.lower[d]-tol || v > g.upper[d]+tol || math.IsNaN(v) {
				return nil, fmt.Errorf("%w: x[%d][%d]=%g not in [%g, %g]",
					ErrOutsideGrid, i, d, v, g.lower[d], g.upper[d])
			}
			t := (v - g.start[d]) / g.step[d]
			base := int(math.Floor(t))
			if base < 1 {
				base = 1
			}
			if base > g.size-3 {
				base = g.size - 3
			}
			frac := t - float64(base)
			s.first[i] = base - 1
			s.weight[i] = [4]float64{
				cubic(1 + frac),
				cubic(frac),
				cubic(1 - frac),
				cubic(2 - frac),
			}
		}
		out[d] = s
	}
	return out, nil
}

// cubic is the Keys cubic convolution kernel with a = -0.5.
func cubic(s float64) float64 {
	s = math.Abs(s)
	switch {
	case s <= 1:
		return 1.5*s*s*s - 2.5*s*s + 1
	case s < 2:
		return -0.5*s*s*s + 2.5*s*s - 4*s + 2
	default:
		return 0
	}
}
