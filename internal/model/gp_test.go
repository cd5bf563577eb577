package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"kissgp/internal/interp"
)

func lattice(n int) *mat.Dense {
	x := mat.NewDense(n*n, 2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x.Set(i*n+j, 0, float64(i)/float64(n-1))
			x.Set(i*n+j, 1, float64(j)/float64(n-1))
		}
	}
	return x
}

func sine(x mat.Matrix) *mat.VecDense {
	r, _ := x.Dims()
	y := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		y.SetVec(i, math.Sin(2*math.Pi*(x.At(i, 0)+x.At(i, 1))))
	}
	return y
}

func fittedParams(t *testing.T, g *GP) *Params {
	t.Helper()
	p := g.InitParams()
	require.NoError(t, p.Set(Outputscale, 1))
	require.NoError(t, p.Set(Lengthscale(0), 0.3))
	require.NoError(t, p.Set(Lengthscale(1), 0.3))
	require.NoError(t, p.Set(Noise, 1e-3))
	return p
}

func TestNewChoosesGridFromPolicy(t *testing.T) {
	g, err := New(lattice(40))
	require.NoError(t, err)
	require.Equal(t, 40, g.Grid().Size())
	require.Equal(t, 2, g.Dims())

	g, err = New(lattice(40), WithGridSize(25))
	require.NoError(t, err)
	require.Equal(t, 25, g.Grid().Size())

	g, err = New(lattice(40), WithSizePolicy(interp.RatioPolicy{Ratio: 0.5}))
	require.NoError(t, err)
	require.Equal(t, 20, g.Grid().Size())

	_, err = New(lattice(4), WithGridSize(2))
	require.ErrorIs(t, err, interp.ErrGridTooSmall)
	_, err = New(lattice(4), WithMaxRank(0))
	require.Error(t, err)
	_, err = New(lattice(4), WithEigenTolerance(2))
	require.Error(t, err)
}

func TestInitParams(t *testing.T) {
	g, err := New(lattice(5))
	require.NoError(t, err)
	p := g.InitParams()
	require.Equal(t, []string{
		MeanConstant, Outputscale, Lengthscale(0), Lengthscale(1), Noise,
	}, p.Names())
	require.Equal(t, 0.0, p.Value(MeanConstant))
	require.InDelta(t, math.Ln2, p.Value(Outputscale), 1e-12)
	require.InDelta(t, math.Ln2+NoiseFloor, p.Value(Noise), 1e-12)
}

func TestPriorApproximatesExactKernel(t *testing.T) {
	train := lattice(6)
	g, err := New(train, WithGridSize(30))
	require.NoError(t, err)
	p := g.InitParams()

	prior, err := g.Prior(p, train)
	require.NoError(t, err)
	exact, err := g.ExactCovariance(p, train)
	require.NoError(t, err)

	approx := prior.Covariance()
	n := prior.Len()
	for i := 0; i < n; i++ {
		require.InDelta(t, 0.0, prior.Mean.AtVec(i), 1e-15)
		for j := 0; j < n; j++ {
			require.InDelta(t, exact.At(i, j), approx.At(i, j), 2e-3)
		}
	}
	require.Greater(t, prior.Rank(), 0)
	require.LessOrEqual(t, prior.Rank(), 30*30)
}

func TestMaxRankTruncates(t *testing.T) {
	train := lattice(6)
	g, err := New(train, WithGridSize(12), WithMaxRank(5), WithEigenTolerance(0))
	require.NoError(t, err)
	prior, err := g.Prior(g.InitParams(), train)
	require.NoError(t, err)
	require.Equal(t, 5, prior.Rank())
}

func TestLogProbMatchesDenseDensity(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const n, k = 9, 4
	phi := mat.NewDense(n, k, nil)
	mean := mat.NewVecDense(n, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			phi.Set(i, c, rng.NormFloat64())
		}
		mean.SetVec(i, rng.NormFloat64())
		y.SetVec(i, rng.NormFloat64())
	}
	dist := &MVN{Mean: mean, Factor: phi, Noise: 0.2}

	got, err := dist.LogProb(y)
	require.NoError(t, err)

	var chol mat.Cholesky
	require.True(t, chol.Factorize(dist.Covariance()))
	var r, z mat.VecDense
	r.SubVec(y, mean)
	require.NoError(t, chol.SolveVecTo(&z, &r))
	want := -0.5 * (mat.Dot(&r, &z) + chol.LogDet() + n*math.Log(2*math.Pi))
	require.InDelta(t, want, got, 1e-9)

	mll, err := MarginalLogLikelihood(dist, y)
	require.NoError(t, err)
	require.InDelta(t, want/n, mll, 1e-9)

	variance := dist.Variance()
	cov := dist.Covariance()
	for i := range variance {
		require.InDelta(t, cov.At(i, i), variance[i], 1e-12)
	}
}

func TestLogProbErrors(t *testing.T) {
	phi := mat.NewDense(3, 1, []float64{1, 2, 3})
	dist := &MVN{Mean: mat.NewVecDense(3, nil), Factor: phi, Noise: 0.1}

	_, err := dist.LogProb(mat.NewVecDense(2, nil))
	require.ErrorIs(t, err, ErrShapeMismatch)

	dist.Noise = 0
	_, err = dist.LogProb(mat.NewVecDense(3, nil))
	require.ErrorIs(t, err, ErrNumericalInstability)

	dist.Noise = 0.1
	phi.Set(0, 0, math.NaN())
	_, err = dist.LogProb(mat.NewVecDense(3, nil))
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestPosteriorMatchesDenseFormulas(t *testing.T) {
	train := lattice(5)
	g, err := New(train, WithGridSize(10))
	require.NoError(t, err)
	p := fittedParams(t, g)
	require.NoError(t, p.Set(MeanConstant, 0.2))
	y := sine(train)

	test := mat.NewDense(3, 2, []float64{
		0.1, 0.2,
		0.55, 0.9,
		1, 0,
	})
	post, err := g.Posterior(p, train, y)
	require.NoError(t, err)
	pred, err := post.Predict(test, true)
	require.NoError(t, err)
	require.Equal(t, 3, pred.Mean.Len())
	require.Equal(t, 3, pred.Variance.Len())
	require.InDelta(t, 1e-3, post.Noise(), 1e-12)

	// Rebuild the same quantities densely from the interpolated factors.
	trainPrior, err := g.Prior(p, train)
	require.NoError(t, err)
	testPrior, err := g.Prior(p, test)
	require.NoError(t, err)
	noise := post.Noise()

	n := trainPrior.Len()
	a := mat.NewSymDense(n, nil)
	a.SymOuterK(1, trainPrior.Factor)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, a.At(i, i)+noise)
	}
	var chol mat.Cholesky
	require.True(t, chol.Factorize(a))

	var cross mat.Dense
	cross.Mul(testPrior.Factor, trainPrior.Factor.T())
	var r, alpha, mean mat.VecDense
	r.SubVec(y, trainPrior.Mean)
	require.NoError(t, chol.SolveVecTo(&alpha, &r))
	mean.MulVec(&cross, &alpha)

	var solved mat.Dense
	require.NoError(t, chol.SolveTo(&solved, cross.T()))
	for i := 0; i < 3; i++ {
		require.InDelta(t, 0.2+mean.AtVec(i), pred.Mean.AtVec(i), 1e-7)
		prior := mat.Dot(testPrior.Factor.RowView(i), testPrior.Factor.RowView(i))
		reduction := mat.Dot(cross.RowView(i), solved.ColView(i))
		require.InDelta(t, math.Max(prior-reduction, 0), pred.Variance.AtVec(i), 1e-7)
	}

	meanOnly, err := post.Predict(test, false)
	require.NoError(t, err)
	require.Nil(t, meanOnly.Variance)
	require.Equal(t, pred.Mean.RawVector().Data, meanOnly.Mean.RawVector().Data)
}

func TestPosteriorInterpolatesTrainingData(t *testing.T) {
	train := lattice(15)
	g, err := New(train)
	require.NoError(t, err)
	p := fittedParams(t, g)
	y := sine(train)

	post, err := g.Posterior(p, train, y)
	require.NoError(t, err)
	pred, err := post.Predict(train, true)
	require.NoError(t, err)

	mae := 0.0
	for i := 0; i < y.Len(); i++ {
		mae += math.Abs(pred.Mean.AtVec(i) - y.AtVec(i))
		require.GreaterOrEqual(t, pred.Variance.AtVec(i), 0.0)
	}
	mae /= float64(y.Len())
	require.Less(t, mae, 0.05)
}

func TestPosteriorErrors(t *testing.T) {
	train := lattice(5)
	g, err := New(train)
	require.NoError(t, err)
	p := g.InitParams()

	_, err = g.Posterior(p, train, mat.NewVecDense(3, nil))
	require.ErrorIs(t, err, ErrShapeMismatch)

	post, err := g.Posterior(p, train, sine(train))
	require.NoError(t, err)
	_, err = post.Predict(mat.NewDense(1, 2, []float64{2, 0.5}), false)
	require.ErrorIs(t, err, interp.ErrOutsideGrid)

	_, err = g.Loss(p, train, mat.NewVecDense(4, nil))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLossIsFinite(t *testing.T) {
	train := lattice(8)
	g, err := New(train)
	require.NoError(t, err)
	loss, err := g.Loss(g.InitParams(), train, sine(train))
	require.NoError(t, err)
	require.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
}
