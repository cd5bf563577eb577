package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrLengthMismatch = errors.New("metrics: prediction and truth lengths differ")

// ErrorStats summarises the absolute error of a prediction.
type ErrorStats struct {
	MAE    float64
	RMSE   float64
	MaxAbs float64
	Count  int
}

// AbsErrors returns |pred[i] - truth[i]|.
func AbsErrors(pred, truth []float64) ([]float64, error) {
	if len(pred) != len(truth) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(pred), len(truth))
	}
	out := make([]float64, len(pred))
	floats.SubTo(out, pred, truth)
	for i, v := range out {
		out[i] = math.Abs(v)
	}
	return out, nil
}

// Errors compares a prediction against the truth.
func Errors(pred, truth []float64) (ErrorStats, error) {
	abs, err := AbsErrors(pred, truth)
	if err != nil {
		return ErrorStats{}, err
	}
	if len(abs) == 0 {
		return ErrorStats{}, nil
	}
	sq := make([]float64, len(abs))
	floats.MulTo(sq, abs, abs)
	return ErrorStats{
		MAE:    stat.Mean(abs, nil),
		RMSE:   math.Sqrt(stat.Mean(sq, nil)),
		MaxAbs: floats.Max(abs),
		Count:  len(abs),
	}, nil
}
