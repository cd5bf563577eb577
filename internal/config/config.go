package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainGrid          int     `yaml:"train_grid"`
	TestGrid           int     `yaml:"test_grid"`
	NoiseStd           float64 `yaml:"noise_std"`
	Iterations         int     `yaml:"iterations"`
	LearningRate       float64 `yaml:"learning_rate"`
	Seed               uint64  `yaml:"seed"`
	LogEvery           int     `yaml:"log_every"`
	InterpGridSize     int     `yaml:"interp_grid_size"`
	GridRatio          float64 `yaml:"grid_ratio"`
	EigenTolerance     float64 `yaml:"eigen_tolerance"`
	MaxRank            int     `yaml:"max_rank"`
	PredictVariance    bool    `yaml:"predict_variance"`
	PredictWorkers     int     `yaml:"predict_workers"`
	ConcurrentGradient bool    `yaml:"concurrent_gradient"`
	OutputDir          string  `yaml:"output_dir"`
	HeatmapCell        int     `yaml:"heatmap_cell"`
	HistoryDB          string  `yaml:"history_db"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainGrid      int
	TestGrid       int
	Iterations     int
	LearningRate   float64
	Seed           uint64
	InterpGridSize int
	OutputDir      string
	HistoryDB      string
}

// Default returns the reference scenario: a 40×40 training lattice, 30 Adam
// iterations at lr 0.1 and a 10×10 test lattice.
func Default() *Config {
	return &Config{
		TrainGrid:       40,
		TestGrid:        10,
		NoiseStd:        0.01,
		Iterations:      30,
		LearningRate:    0.1,
		LogEvery:        1,
		GridRatio:       1.0,
		EigenTolerance:  1e-10,
		MaxRank:         1024,
		PredictVariance: true,
		PredictWorkers:  1,
		OutputDir:       "out",
		HeatmapCell:     32,
	}
}

// Load reads and validates a Config from YAML. Keys absent from the file
// keep their Default value.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainGrid > 0 {
		c.TrainGrid = o.TrainGrid
	}
	if o.TestGrid > 0 {
		c.TestGrid = o.TestGrid
	}
	if o.Iterations > 0 {
		c.Iterations = o.Iterations
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.InterpGridSize > 0 {
		c.InterpGridSize = o.InterpGridSize
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainGrid < 2 {
		return fmt.Errorf("train_grid must be >= 2 (got %d)", c.TrainGrid)
	}
	if c.TestGrid < 2 {
		return fmt.Errorf("test_grid must be >= 2 (got %d)", c.TestGrid)
	}
	if c.NoiseStd < 0 {
		return fmt.Errorf("noise_std must be >= 0 (got %g)", c.NoiseStd)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be > 0 (got %d)", c.Iterations)
	}
	if !(c.LearningRate > 0) {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.InterpGridSize != 0 && c.InterpGridSize < 4 {
		return fmt.Errorf("interp_grid_size must be 0 (auto) or >= 4 (got %d)", c.InterpGridSize)
	}
	if !(c.GridRatio > 0) {
		return fmt.Errorf("grid_ratio must be > 0 (got %g)", c.GridRatio)
	}
	if c.EigenTolerance < 0 || c.EigenTolerance >= 1 {
		return fmt.Errorf("eigen_tolerance must be in [0, 1) (got %g)", c.EigenTolerance)
	}
	if c.MaxRank <= 0 {
		return fmt.Errorf("max_rank must be > 0 (got %d)", c.MaxRank)
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	if c.PredictWorkers <= 0 {
		c.PredictWorkers = 1
	}
	if c.HeatmapCell <= 0 {
		c.HeatmapCell = 32
	}
	return nil
}
