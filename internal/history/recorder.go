package history

import "context"

// Recorder binds a store to a single run so it can be handed to the
// training loop.
type Recorder struct {
	ctx   context.Context
	store *Store
	runID int64
}

// Recorder returns a per-run recorder.
func (s *Store) Recorder(ctx context.Context, runID int64) *Recorder {
	return &Recorder{ctx: ctx, store: s, runID: runID}
}

// RunID is the run being recorded.
func (r *Recorder) RunID() int64 { return r.runID }

func (r *Recorder) RecordIteration(iter int, loss float64, params map[string]float64) error {
	return r.store.RecordIteration(r.ctx, r.runID, iter, loss, params)
}
