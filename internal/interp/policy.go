package interp

import "math"

// SizePolicy chooses the per-dimension grid size for a training set.
type SizePolicy interface {
	GridSize(numData, numDims int) int
}

// RatioPolicy picks floor(Ratio · numData^(1/numDims)) points per dimension,
// so the full grid holds roughly Ratio^numDims · numData inducing points.
// A zero Ratio means 1.
type RatioPolicy struct {
	Ratio float64
}

func (p RatioPolicy) GridSize(numData, numDims int) int {
	ratio := p.Ratio
	if ratio <= 0 {
		ratio = 1
	}
	if numDims < 1 {
		numDims = 1
	}
	if numData < 1 {
		return MinSize
	}
	size := int(math.Floor(ratio*math.Pow(float64(numData), 1/float64(numDims)) + 1e-9))
	if size < MinSize {
		return MinSize
	}
	return size
}

// FixedPolicy always returns the same grid size.
type FixedPolicy int

func (p FixedPolicy) GridSize(int, int) int {
	return int(p)
}
