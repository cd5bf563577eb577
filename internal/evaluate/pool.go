package evaluate

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

type chunk struct {
	lo, hi int
}

// predictChunks fans row ranges of x out to a pool of workers. Each worker
// writes its slice of the result in place, so output order matches x.
func predictChunks(p Predictor, x *mat.Dense, opts Options) (mean, variance []float64, err error) {
	rows, cols := x.Dims()
	size := opts.ChunkSize
	workers := opts.Workers
	if workers <= 1 {
		workers = 1
		if size <= 0 {
			size = rows
		}
	}
	if size <= 0 {
		size = defaultChunkSize
	}

	mean = make([]float64, rows)
	if opts.Variance {
		variance = make([]float64, rows)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make(chan chunk, workers)
	errCh := make(chan error, workers)

	go func() {
		defer close(jobs)
		for lo := 0; lo < rows; lo += size {
			select {
			case <-ctx.Done():
				return
			case jobs <- chunk{lo: lo, hi: min(lo+size, rows)}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := predictChunk(p, x.Slice(c.lo, c.hi, 0, cols), c, opts.Variance, mean, variance); err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, nil, err
	}
	return mean, variance, nil
}

func predictChunk(p Predictor, x mat.Matrix, c chunk, withVariance bool, mean, variance []float64) error {
	pred, err := p.Predict(x, withVariance)
	if err != nil {
		return fmt.Errorf("evaluate: predict rows %d-%d: %w", c.lo, c.hi, err)
	}
	want := c.hi - c.lo
	if pred.Mean.Len() != want {
		return fmt.Errorf("%w: %d predictions for %d rows", ErrShapeMismatch, pred.Mean.Len(), want)
	}
	for i := 0; i < want; i++ {
		mean[c.lo+i] = pred.Mean.AtVec(i)
	}
	if withVariance && variance != nil {
		if pred.Variance == nil || pred.Variance.Len() != want {
			return fmt.Errorf("%w: missing variance for rows %d-%d", ErrShapeMismatch, c.lo, c.hi)
		}
		for i := 0; i < want; i++ {
			variance[c.lo+i] = pred.Variance.AtVec(i)
		}
	}
	return nil
}
