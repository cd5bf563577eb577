package metrics

import "time"

// Window accumulates timing stats across training iterations.
type Window struct {
	points   int
	forward  time.Duration
	backward time.Duration
	steps    int
	lastLoss float64
}

// Record adds one iteration: points scored, time spent evaluating the loss,
// time spent on the gradient and update, and the loss itself.
func (w *Window) Record(points int, forwardTime, backwardTime time.Duration, loss float64) {
	w.points += points
	w.forward += forwardTime
	w.backward += backwardTime
	w.steps++
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.forward + w.backward
	if total > 0 {
		snap.PointsPerSec = float64(w.points) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgForwardMS = (w.forward.Seconds() * 1000) / float64(w.steps)
		snap.AvgBackwardMS = (w.backward.Seconds() * 1000) / float64(w.steps)
	}
	snap.Steps = w.steps
	snap.LastLoss = w.lastLoss

	w.points = 0
	w.forward = 0
	w.backward = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	PointsPerSec  float64
	AvgForwardMS  float64
	AvgBackwardMS float64
	Steps         int
	LastLoss      float64
}
