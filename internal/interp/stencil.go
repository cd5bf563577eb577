package interp

import (
	"gonum.org/v1/gonum/mat"
)

// Stencil is the sparse interpolation matrix W of one dimension. Row i has
// four non-zero weights on grid indices first[i] .. first[i]+3.
type Stencil struct {
	size   int
	first  []int
	weight [][4]float64
}

// Rows is the number of interpolated points.
func (s *Stencil) Rows() int {
	return len(s.first)
}

// Project computes W·q for a grid-indexed matrix q (Size × k).
func (s *Stencil) Project(q mat.Matrix) *mat.Dense {
	r, k := q.Dims()
	if r != s.size {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(s.Rows(), k, nil)
	row := make([]float64, k)
	for i, first := range s.first {
		for c := range row {
			row[c] = 0
		}
		for j, w := range s.weight[i] {
			if w == 0 {
				continue
			}
			for c := 0; c < k; c++ {
				row[c] += w * q.At(first+j, c)
			}
		}
		out.SetRow(i, row)
	}
	return out
}

// Dense materialises W as a Rows × Size matrix.
func (s *Stencil) Dense() *mat.Dense {
	out := mat.NewDense(s.Rows(), s.size, nil)
	for i, first := range s.first {
		for j, w := range s.weight[i] {
			out.Set(i, first+j, w)
		}
	}
	return out
}
