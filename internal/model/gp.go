package model

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"kissgp/internal/interp"
	"kissgp/internal/kernel"
)

const (
	// DefaultEigenTolerance drops Kronecker eigenpairs whose eigenvalue falls
	// below this fraction of the largest one.
	DefaultEigenTolerance = 1e-10
	// DefaultMaxRank caps the number of eigenpairs kept in the covariance factor.
	DefaultMaxRank = 1024
	// NoiseFloor is the lower bound of the likelihood noise variance.
	NoiseFloor = 1e-4
)

var (
	defaultSizePolicy interp.SizePolicy = interp.RatioPolicy{Ratio: 1}
)

// Option configures a GP.
type Option func(*options)

type options struct {
	gridSize  int
	policy    interp.SizePolicy
	tolerance float64
	maxRank   int
}

// WithGridSize fixes the number of inducing points per dimension.
func WithGridSize(size int) Option {
	return func(o *options) { o.gridSize = size }
}

// WithSizePolicy chooses the grid size from the training set when no
// explicit size is given.
func WithSizePolicy(p interp.SizePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithEigenTolerance sets the fraction of the top eigenvalue below which
// Kronecker components are dropped.
func WithEigenTolerance(tol float64) Option {
	return func(o *options) { o.tolerance = tol }
}

// WithMaxRank caps the number of covariance components kept.
func WithMaxRank(rank int) Option {
	return func(o *options) { o.maxRank = rank }
}

// GP is an exact-likelihood Gaussian process regression model whose kernel is
// approximated by structured interpolation from a regular inducing grid:
//
//	K_XX ≈ W · K_UU · Wᵀ
//
// with an RBF base kernel, a constant mean and a Gaussian likelihood.
type GP struct {
	grid      *interp.Grid
	dims      int
	tolerance float64
	maxRank   int
}

// New builds the inducing grid over the training inputs.
func New(train mat.Matrix, opts ...Option) (*GP, error) {
	o := options{
		policy:    defaultSizePolicy,
		tolerance: DefaultEigenTolerance,
		maxRank:   DefaultMaxRank,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !(o.tolerance >= 0 && o.tolerance < 1) {
		return nil, fmt.Errorf("model: eigen tolerance must be in [0, 1) (got %g)", o.tolerance)
	}
	if o.maxRank <= 0 {
		return nil, fmt.Errorf("model: max rank must be > 0 (got %d)", o.maxRank)
	}
	n, dims := train.Dims()
	size := o.gridSize
	if size == 0 {
		size = o.policy.GridSize(n, dims)
	}
	grid, err := interp.NewGrid(train, size)
	if err != nil {
		return nil, err
	}
	return &GP{
		grid:      grid,
		dims:      dims,
		tolerance: o.tolerance,
		maxRank:   o.maxRank,
	}, nil
}

// Grid is the inducing grid built over the training inputs.
func (g *GP) Grid() *interp.Grid {
	return g.grid
}

// Dims is the input dimensionality.
func (g *GP) Dims() int {
	return g.dims
}

// InitParams declares the GP hyperparameters at their default starting point.
func (g *GP) InitParams() *Params {
	specs := []Param{
		{Name: MeanConstant, Constraint: Unconstrained{}},
		{Name: Outputscale, Constraint: Positive{}},
	}
	for d := 0; d < g.dims; d++ {
		specs = append(specs, Param{Name: Lengthscale(d), Constraint: Positive{}})
	}
	specs = append(specs, Param{Name: Noise, Constraint: GreaterThan(NoiseFloor)})
	return NewParams(specs...)
}

// Kernel builds the RBF kernel from the current hyperparameters.
func (g *GP) Kernel(p *Params) (*kernel.RBF, error) {
	ls := make([]float64, g.dims)
	for d := range ls {
		ls[d] = p.Value(Lengthscale(d))
	}
	return kernel.NewRBF(p.Value(Outputscale), ls...)
}

// Mean is the constant prior mean.
func (g *GP) Mean(p *Params) kernel.Mean {
	return kernel.Constant(p.Value(MeanConstant))
}

// Likelihood is the Gaussian noise model at the current noise variance.
func (g *GP) Likelihood(p *Params) Gaussian {
	return Gaussian{Noise: p.Value(Noise)}
}

// Prior evaluates the latent prior at the rows of x.
func (g *GP) Prior(p *Params, x mat.Matrix) (*MVN, error) {
	k, err := g.Kernel(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonFinite, err)
	}
	spec, err := g.decompose(k)
	if err != nil {
		return nil, err
	}
	phi, err := spec.factor(g.grid, x)
	if err != nil {
		return nil, err
	}
	return &MVN{
		Mean:   g.Mean(p).Vector(x),
		Factor: phi,
	}, nil
}

// Marginal is the prior at x pushed through the likelihood.
func (g *GP) Marginal(p *Params, x mat.Matrix) (*MVN, error) {
	prior, err := g.Prior(p, x)
	if err != nil {
		return nil, err
	}
	return g.Likelihood(p).Marginal(prior), nil
}

// Loss is the negative marginal log-likelihood per observation.
func (g *GP) Loss(p *Params, x mat.Matrix, y mat.Vector) (float64, error) {
	dist, err := g.Marginal(p, x)
	if err != nil {
		return 0, err
	}
	mll, err := MarginalLogLikelihood(dist, y)
	if err != nil {
		return 0, err
	}
	return -mll, nil
}

// ExactCovariance evaluates the base kernel densely, without interpolation.
func (g *GP) ExactCovariance(p *Params, x mat.Matrix) (*mat.Dense, error) {
	k, err := g.Kernel(p)
	if err != nil {
		return nil, err
	}
	_, dims := x.Dims()
	if dims != g.dims {
		return nil, fmt.Errorf("%w: %d input dims, model has %d", ErrShapeMismatch, dims, g.dims)
	}
	return k.Matrix(x, x), nil
}

// Gaussian is an additive homoskedastic noise likelihood.
type Gaussian struct {
	Noise float64
}

// Marginal adds the noise variance to the diagonal of the prior covariance.
func (l Gaussian) Marginal(prior *MVN) *MVN {
	return &MVN{
		Mean:   prior.Mean,
		Factor: prior.Factor,
		Noise:  prior.Noise + l.Noise,
	}
}

// spectrum is the truncated eigendecomposition of K_UU = s·⊗_d K_d.
type spectrum struct {
	vectors []*mat.Dense // per dimension, eigenvectors in columns, descending order
	combos  [][]int      // per kept component, one eigen index per dimension
	scale   []float64    // per kept component, sqrt(s·Π_d λ_d)
}

func (g *GP) decompose(k kernel.Separable) (*spectrum, error) {
	dims := k.Dims()
	spec := &spectrum{vectors: make([]*mat.Dense, dims)}
	values := make([][]float64, dims)
	for d := 0; d < dims; d++ {
		var es mat.EigenSym
		if ok := es.Factorize(k.Factor(d, g.grid.Axis(d)), true); !ok {
			return nil, fmt.Errorf("%w: eigendecomposition of dimension %d failed", ErrNumericalInstability, d)
		}
		asc := es.Values(nil)
		var vecs mat.Dense
		es.VectorsTo(&vecs)

		size := len(asc)
		desc := make([]float64, size)
		ordered := mat.NewDense(size, size, nil)
		for j := 0; j < size; j++ {
			src := size - 1 - j
			desc[j] = asc[src]
			for i := 0; i < size; i++ {
				ordered.Set(i, j, vecs.At(i, src))
			}
		}
		values[d] = desc
		spec.vectors[d] = ordered
	}

	top := 1.0
	for _, v := range values {
		top *= v[0]
	}
	if !(top > 0) || math.IsInf(top, 0) {
		return nil, fmt.Errorf("%w: leading eigenvalue %g", ErrNumericalInstability, top)
	}
	combos, products := enumerate(values, g.tolerance*top)
	if len(combos) > g.maxRank {
		order := make([]int, len(combos))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return products[order[a]] > products[order[b]]
		})
		keptCombos := make([][]int, g.maxRank)
		keptProducts := make([]float64, g.maxRank)
		for i := range keptCombos {
			keptCombos[i] = combos[order[i]]
			keptProducts[i] = products[order[i]]
		}
		combos, products = keptCombos, keptProducts
	}
	s := k.Scale()
	spec.combos = combos
	spec.scale = make([]float64, len(products))
	for i, prod := range products {
		spec.scale[i] = math.Sqrt(s * prod)
	}
	return spec, nil
}

// enumerate lists every index tuple whose eigenvalue product reaches
// threshold. Each values[d] must be sorted in descending order.
func enumerate(values [][]float64, threshold float64) ([][]int, []float64) {
	dims := len(values)
	// restMax[d] is the largest product attainable from dimensions d.. onwards.
	restMax := make([]float64, dims+1)
	restMax[dims] = 1
	for d := dims - 1; d >= 0; d-- {
		restMax[d] = restMax[d+1] * values[d][0]
	}
	var (
		combos   [][]int
		products []float64
		current  = make([]int, dims)
	)
	var walk func(d int, partial float64)
	walk = func(d int, partial float64) {
		if d == dims {
			combos = append(combos, append([]int(nil), current...))
			products = append(products, partial)
			return
		}
		for a, v := range values[d] {
			if v <= 0 || partial*v*restMax[d+1] < threshold {
				break
			}
			current[d] = a
			walk(d+1, partial*v)
		}
	}
	walk(0, 1)
	return combos, products
}

// factor builds Φ = W·Q·Λ^{1/2} for the rows of x, so that ΦΦᵀ ≈ K_XX.
// Row i, component c is scale[c] · Π_d (W_d Q_d)[i, combos[c][d]].
func (s *spectrum) factor(grid *interp.Grid, x mat.Matrix) (*mat.Dense, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, fmt.Errorf("%w: no input points", ErrShapeMismatch)
	}
	if len(s.combos) == 0 {
		return nil, fmt.Errorf("%w: covariance factor has no components", ErrNumericalInstability)
	}
	stencils, err := grid.Stencils(x)
	if err != nil {
		return nil, err
	}
	projected := make([]*mat.Dense, len(stencils))
	for d, st := range stencils {
		projected[d] = st.Project(s.vectors[d])
	}
	phi := mat.NewDense(n, len(s.combos), nil)
	for i := 0; i < n; i++ {
		row := phi.RawRowView(i)
		for c, combo := range s.combos {
			v := s.scale[c]
			for d, a := range combo {
				v *= projected[d].At(i, a)
			}
			row[c] = v
		}
	}
	return phi, nil
}
