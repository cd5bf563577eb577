// Package history persists training runs in a SQLite database: one row per
// run, the loss and hyperparameters of every iteration, and the final error
// statistics on the test lattice.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"kissgp/internal/metrics"
)

var ErrRunNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at    TEXT    NOT NULL,
	finished_at   TEXT    NOT NULL DEFAULT '',
	status        TEXT    NOT NULL,
	train_grid    INTEGER NOT NULL,
	test_grid     INTEGER NOT NULL,
	interp_grid   INTEGER NOT NULL,
	iterations    INTEGER NOT NULL,
	learning_rate REAL    NOT NULL,
	seed          INTEGER NOT NULL,
	final_loss    REAL    NOT NULL DEFAULT 0,
	mae           REAL    NOT NULL DEFAULT 0,
	rmse          REAL    NOT NULL DEFAULT 0,
	max_abs       REAL    NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS iterations (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	iter   INTEGER NOT NULL,
	loss   REAL    NOT NULL,
	PRIMARY KEY (run_id, iter)
);
CREATE TABLE IF NOT EXISTS iteration_params (
	run_id INTEGER NOT NULL,
	iter   INTEGER NOT NULL,
	name   TEXT    NOT NULL,
	value  REAL    NOT NULL,
	PRIMARY KEY (run_id, iter, name)
);
`

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run is one row of the runs table.
type Run struct {
	ID           int64   `db:"id"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   string  `db:"finished_at"`
	Status       string  `db:"status"`
	TrainGrid    int     `db:"train_grid"`
	TestGrid     int     `db:"test_grid"`
	InterpGrid   int     `db:"interp_grid"`
	Iterations   int     `db:"iterations"`
	LearningRate float64 `db:"learning_rate"`
	Seed         uint64  `db:"seed"`
	FinalLoss    float64 `db:"final_loss"`
	MAE          float64 `db:"mae"`
	RMSE         float64 `db:"rmse"`
	MaxAbs       float64 `db:"max_abs"`
}

// Iteration is the loss and hyperparameters recorded for one optimizer step.
type Iteration struct {
	RunID  int64              `db:"run_id"`
	Iter   int                `db:"iter"`
	Loss   float64            `db:"loss"`
	Params map[string]float64 `db:"-"`
}

type paramRow struct {
	RunID int64   `db:"run_id"`
	Iter  int     `db:"iter"`
	Name  string  `db:"name"`
	Value float64 `db:"value"`
}

// Store wraps the history database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to (and if needed creates) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite serialises writers; a single connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in the running state and returns its id.
func (s *Store) CreateRun(ctx context.Context, r Run) (int64, error) {
	r.StartedAt = s.timestamp()
	r.Status = StatusRunning
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (started_at, status, train_grid, test_grid, interp_grid, iterations, learning_rate, seed)
		VALUES (:started_at, :status, :train_grid, :test_grid, :interp_grid, :iterations, :learning_rate, :seed)`, r)
	if err != nil {
		return 0, fmt.Errorf("history: create run: %w", err)
	}
	return res.LastInsertId()
}

// RecordIteration stores the loss and hyperparameters of one iteration.
func (s *Store) RecordIteration(ctx context.Context, runID int64, iter int, loss float64, params map[string]float64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO iterations (run_id, iter, loss) VALUES (?, ?, ?)`, runID, iter, loss); err != nil {
		return fmt.Errorf("history: record iteration %d: %w", iter, err)
	}
	if len(params) > 0 {
		rows := make([]paramRow, 0, len(params))
		for name, v := range params {
			rows = append(rows, paramRow{RunID: runID, Iter: iter, Name: name, Value: v})
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO iteration_params (run_id, iter, name, value) VALUES (:run_id, :iter, :name, :value)`, rows); err != nil {
			return fmt.Errorf("history: record params %d: %w", iter, err)
		}
	}
	return tx.Commit()
}

// FinishRun marks a run finished with its last loss and test error statistics.
func (s *Store) FinishRun(ctx context.Context, runID int64, finalLoss float64, stats metrics.ErrorStats) error {
	return s.close(ctx, runID, StatusFinished, finalLoss, stats)
}

// FailRun marks a run failed.
func (s *Store) FailRun(ctx context.Context, runID int64) error {
	return s.close(ctx, runID, StatusFailed, 0, metrics.ErrorStats{})
}

func (s *Store) close(ctx context.Context, runID int64, status string, loss float64, stats metrics.ErrorStats) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, final_loss = ?, mae = ?, rmse = ?, max_abs = ?
		WHERE id = ?`,
		s.timestamp(), status, loss, stats.MAE, stats.RMSE, stats.MaxAbs, runID)
	if err != nil {
		return fmt.Errorf("history: update run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `SELECT * FROM runs WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get run %d: %w", runID, err)
	}
	return &r, nil
}

// Runs lists every run, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, `SELECT * FROM runs ORDER BY id DESC`); err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

// Iterations returns the recorded iterations of a run in order.
func (s *Store) Iterations(ctx context.Context, runID int64) ([]Iteration, error) {
	var iters []Iteration
	if err := s.db.SelectContext(ctx, &iters,
		`SELECT run_id, iter, loss FROM iterations WHERE run_id = ? ORDER BY iter`, runID); err != nil {
		return nil, fmt.Errorf("history: list iterations: %w", err)
	}
	var params []paramRow
	if err := s.db.SelectContext(ctx, &params,
		`SELECT run_id, iter, name, value FROM iteration_params WHERE run_id = ?`, runID); err != nil {
		return nil, fmt.Errorf("history: list params: %w", err)
	}
	byIter := make(map[int]int, len(iters))
	for i := range iters {
		byIter[iters[i].Iter] = i
		iters[i].Params = map[string]float64{}
	}
	for _, p := range params {
		if i, ok := byIter[p.Iter]; ok {
			iters[i].Params[p.Name] = p.Value
		}
	}
	sort.Slice(iters, func(a, b int) bool { return iters[a].Iter < iters[b].Iter })
	return iters, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
