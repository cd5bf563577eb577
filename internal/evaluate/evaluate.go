// Package evaluate scores a trained GP on a regular test lattice against the
// noise-free target surface.
package evaluate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"kissgp/internal/dataset"
	"kissgp/internal/metrics"
	"kissgp/internal/model"
)

var ErrShapeMismatch = errors.New("evaluate: shape mismatch")

// Predictor produces the predictive distribution at a batch of points.
type Predictor interface {
	Predict(x mat.Matrix, withVariance bool) (*model.Prediction, error)
}

const defaultChunkSize = 256

// Options controls what is computed besides the predictive mean.
type Options struct {
	// Variance also computes the latent predictive variance.
	Variance bool
	// Workers predicts row chunks concurrently when > 1.
	Workers int
	// ChunkSize is the number of rows per prediction call. Zero means all
	// rows for a single worker and 256 otherwise.
	ChunkSize int
}

// Report holds n×n surfaces laid out like dataset.Grid: entry (i, j) is the
// point (i/(n-1), j/(n-1)).
type Report struct {
	N         int
	Predicted *mat.Dense
	Actual    *mat.Dense
	AbsError  *mat.Dense
	Variance  *mat.Dense
	Stats     metrics.ErrorStats
}

// Evaluate predicts on an n×n lattice and compares with sin(2π(x0+x1)).
func Evaluate(p Predictor, n int, opts Options) (*Report, error) {
	x, err := dataset.Grid(n)
	if err != nil {
		return nil, err
	}
	mean, variance, err := predictChunks(p, x, opts)
	if err != nil {
		return nil, err
	}
	truth := dataset.Sine(x).RawVector().Data

	abs, err := metrics.AbsErrors(mean, truth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	stats, err := metrics.Errors(mean, truth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	report := &Report{N: n, Stats: stats}
	if report.Predicted, err = Reshape(mean, n); err != nil {
		return nil, err
	}
	if report.Actual, err = Reshape(truth, n); err != nil {
		return nil, err
	}
	if report.AbsError, err = Reshape(abs, n); err != nil {
		return nil, err
	}
	if opts.Variance {
		if report.Variance, err = Reshape(variance, n); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Reshape lays a row-major vector of length n² onto an n×n matrix.
func Reshape(v []float64, n int) (*mat.Dense, error) {
	if n <= 0 || len(v) != n*n {
		return nil, fmt.Errorf("%w: %d values for a %d×%d grid", ErrShapeMismatch, len(v), n, n)
	}
	return mat.NewDense(n, n, append([]float64(nil), v...)), nil
}
