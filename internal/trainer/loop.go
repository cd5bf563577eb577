package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kissgp/internal/metrics"
	"kissgp/internal/model"
	"kissgp/internal/optim"
)

// ErrDiverged is returned when the loss or its gradient stops being finite.
var ErrDiverged = errors.New("trainer: loss diverged")

// State is the phase of a training run.
type State int

const (
	Training State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Training:
		return "training"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Recorder receives the loss of every iteration together with the
// hyperparameters that produced it.
type Recorder interface {
	RecordIteration(iter int, loss float64, params map[string]float64) error
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Iterations   int
	LearningRate float64
	LogEvery     int
	Gradient     optim.GradientSettings
	Recorder     Recorder
}

// Result is the outcome of a completed run.
type Result struct {
	Params  *model.Params
	Losses  []float64
	State   State
	Elapsed time.Duration
}

// Run maximises the marginal log-likelihood of the batch for a fixed number
// of Adam iterations, starting from params. params itself is not modified.
func Run(ctx context.Context, m model.Model, params *model.Params, batch model.Batch, cfg RunConfig) (*Result, error) {
	if cfg.Iterations <= 0 {
		return nil, errors.New("trainer: iterations must be > 0")
	}
	if !(cfg.LearningRate > 0) {
		return nil, errors.New("trainer: learning rate must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}

	x, y := batch.X, batch.Y
	objective := func(p *model.Params) (float64, error) {
		return m.Loss(p, x, y)
	}
	adam := optim.NewAdam(cfg.LearningRate)
	var adamState optim.AdamState
	var window metrics.Window

	p := params.Clone()
	res := &Result{
		State:  Training,
		Losses: make([]float64, 0, cfg.Iterations),
	}
	start := time.Now()

	for iter := 1; iter <= cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.ZeroGrad()

		startForward := time.Now()
		dist, err := m.Marginal(p, x)
		if err != nil {
			return nil, iterationError(iter, err)
		}
		mll, err := model.MarginalLogLikelihood(dist, y)
		if err != nil {
			return nil, iterationError(iter, err)
		}
		loss := -mll
		forwardTime := time.Since(startForward)

		startBackward := time.Now()
		if err := optim.Gradient(objective, p, cfg.Gradient); err != nil {
			return nil, iterationError(iter, err)
		}
		current := p.Map()
		p, adamState = adam.Step(p, adamState)
		backwardTime := time.Since(startBackward)

		res.Losses = append(res.Losses, loss)
		window.Record(dist.Len(), forwardTime, backwardTime, loss)
		if cfg.Recorder != nil {
			if err := cfg.Recorder.RecordIteration(iter, loss, current); err != nil {
				return nil, fmt.Errorf("trainer: record iteration %d: %w", iter, err)
			}
		}

		if iter%cfg.LogEvery == 0 || iter == cfg.Iterations {
			snap := window.Snapshot()
			log.Printf("iter=%d/%d loss=%.3f outputscale=%.3f noise=%.4f rank=%d points_per_sec=%.1f forward_ms=%.2f backward_ms=%.2f",
				iter,
				cfg.Iterations,
				snap.LastLoss,
				current[model.Outputscale],
				current[model.Noise],
				dist.Rank(),
				snap.PointsPerSec,
				snap.AvgForwardMS,
				snap.AvgBackwardMS,
			)
		}
	}

	res.Params = p
	res.State = Stopped
	res.Elapsed = time.Since(start)
	return res, nil
}

func iterationError(iter int, err error) error {
	if errors.Is(err, model.ErrNonFinite) || errors.Is(err, optim.ErrNonFiniteGradient) {
		return fmt.Errorf("%w at iteration %d: %w", ErrDiverged, iter, err)
	}
	return fmt.Errorf("trainer: iteration %d: %w", iter, err)
}
