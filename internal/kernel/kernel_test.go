package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewRBFValidates(t *testing.T) {
	_, err := NewRBF(0, 1, 1)
	require.ErrorIs(t, err, ErrInvalidHyperparameter)
	_, err = NewRBF(1)
	require.ErrorIs(t, err, ErrInvalidHyperparameter)
	_, err = NewRBF(1, 0.5, math.NaN())
	require.ErrorIs(t, err, ErrInvalidHyperparameter)

	k, err := NewRBF(2, 0.5, 0.25)
	require.NoError(t, err)
	require.Equal(t, 2, k.Dims())
	require.Equal(t, 2.0, k.Scale())
}

func TestRBFMatrix(t *testing.T) {
	k, err := NewRBF(2, 0.5, 0.25)
	require.NoError(t, err)
	x := mat.NewDense(2, 2, []float64{0, 0, 0.5, 0.25})
	got := k.Matrix(x, x)

	require.InDelta(t, 2.0, got.At(0, 0), 1e-12)
	want := 2 * math.Exp(-0.5*(1+1))
	require.InDelta(t, want, got.At(0, 1), 1e-12)
	require.InDelta(t, got.At(0, 1), got.At(1, 0), 1e-15)
}

func TestRBFFactorsReproduceMatrix(t *testing.T) {
	k, err := NewRBF(1.5, 0.3, 0.7)
	require.NoError(t, err)
	x := mat.NewDense(3, 2, []float64{
		0.1, 0.9,
		0.4, 0.2,
		0.8, 0.5,
	})
	full := k.Matrix(x, x)

	u0 := []float64{0.1, 0.4, 0.8}
	u1 := []float64{0.9, 0.2, 0.5}
	f0 := k.Factor(0, u0)
	f1 := k.Factor(1, u1)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			require.InDelta(t, full.At(i, j), k.Scale()*f0.At(i, j)*f1.At(i, j), 1e-12)
		}
	}
}

func TestConstantMean(t *testing.T) {
	x := mat.NewDense(4, 2, nil)
	v := Constant(0.3).Vector(x)
	require.Equal(t, 4, v.Len())
	for i := 0; i < v.Len(); i++ {
		require.Equal(t, 0.3, v.AtVec(i))
	}
}
