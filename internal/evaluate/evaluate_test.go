package evaluate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"kissgp/internal/dataset"
	"kissgp/internal/model"
)

// oracle predicts the true surface plus a constant offset.
type oracle struct {
	offset float64
	short  bool
}

func (o oracle) Predict(x mat.Matrix, withVariance bool) (*model.Prediction, error) {
	mean := dataset.Sine(x)
	n := mean.Len()
	if o.short {
		n--
	}
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, mean.AtVec(i)+o.offset)
	}
	pred := &model.Prediction{Mean: out}
	if withVariance {
		pred.Variance = mat.NewVecDense(n, nil)
	}
	return pred, nil
}

func TestEvaluateOracle(t *testing.T) {
	report, err := Evaluate(oracle{offset: 0.25}, 10, Options{Variance: true})
	require.NoError(t, err)
	require.Equal(t, 10, report.N)
	require.InDelta(t, 0.25, report.Stats.MAE, 1e-12)
	require.InDelta(t, 0.25, report.Stats.MaxAbs, 1e-12)
	require.NotNil(t, report.Variance)

	r, c := report.Predicted.Dims()
	require.Equal(t, 10, r)
	require.Equal(t, 10, c)
	// Entry (i, j) sits at (i/9, j/9).
	want := math.Sin(2 * math.Pi * (3.0/9 + 7.0/9))
	require.InDelta(t, want, report.Actual.At(3, 7), 1e-12)
	require.InDelta(t, want+0.25, report.Predicted.At(3, 7), 1e-12)
	require.InDelta(t, 0.25, report.AbsError.At(3, 7), 1e-12)
}

func TestEvaluateWithoutVariance(t *testing.T) {
	report, err := Evaluate(oracle{}, 4, Options{})
	require.NoError(t, err)
	require.Nil(t, report.Variance)
	require.InDelta(t, 0.0, report.Stats.MAE, 1e-15)
}

func TestEvaluateShapeMismatchFailsLoudly(t *testing.T) {
	_, err := Evaluate(oracle{short: true}, 5, Options{})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Evaluate(oracle{}, 1, Options{})
	require.ErrorIs(t, err, dataset.ErrInvalidResolution)
}

type failing struct{ after int }

func (f failing) Predict(x mat.Matrix, withVariance bool) (*model.Prediction, error) {
	if r, _ := x.Dims(); r > 0 && x.At(0, 0) >= float64(f.after)/10 {
		return nil, errors.New("solver exploded")
	}
	return oracle{}.Predict(x, withVariance)
}

func TestEvaluateWorkerErrorStopsPool(t *testing.T) {
	_, err := Evaluate(failing{after: 5}, 11, Options{Workers: 4, ChunkSize: 7})
	require.Error(t, err)
	require.Contains(t, err.Error(), "solver exploded")
}

func TestEvaluateChunkedMatchesSingleCall(t *testing.T) {
	single, err := Evaluate(oracle{offset: 0.1}, 9, Options{Variance: true})
	require.NoError(t, err)
	for _, opts := range []Options{
		{Variance: true, Workers: 4, ChunkSize: 5},
		{Variance: true, Workers: 3},
		{Variance: true, ChunkSize: 10},
	} {
		chunked, err := Evaluate(oracle{offset: 0.1}, 9, opts)
		require.NoError(t, err)
		require.True(t, mat.Equal(single.Predicted, chunked.Predicted))
		require.True(t, mat.Equal(single.Variance, chunked.Variance))
		require.Equal(t, single.Stats, chunked.Stats)
	}
}

func TestReshape(t *testing.T) {
	m, err := Reshape([]float64{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	require.Equal(t, 2.0, m.At(0, 1))
	require.Equal(t, 3.0, m.At(1, 0))

	_, err = Reshape([]float64{1, 2, 3}, 2)
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = Reshape(nil, 0)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEvaluateTrainedPosterior(t *testing.T) {
	data, err := dataset.Generate(12, 0.01, 1)
	require.NoError(t, err)
	gp, err := model.New(data.X)
	require.NoError(t, err)
	p := gp.InitParams()
	require.NoError(t, p.Set(model.Outputscale, 1))
	require.NoError(t, p.Set(model.Lengthscale(0), 0.3))
	require.NoError(t, p.Set(model.Lengthscale(1), 0.3))
	require.NoError(t, p.Set(model.Noise, 1e-3))

	post, err := gp.Posterior(p, data.X, data.Y)
	require.NoError(t, err)
	report, err := Evaluate(post, 10, Options{Variance: true})
	require.NoError(t, err)

	parallel, err := Evaluate(post, 10, Options{Variance: true, Workers: 4, ChunkSize: 16})
	require.NoError(t, err)
	require.True(t, mat.EqualApprox(report.Predicted, parallel.Predicted, 1e-10))
	require.True(t, mat.EqualApprox(report.Variance, parallel.Variance, 1e-10))
	require.Less(t, report.Stats.MAE, 0.1)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			require.GreaterOrEqual(t, report.Variance.At(i, j), 0.0)
		}
	}
}
