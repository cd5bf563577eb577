package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kissgp/internal/config"
	"kissgp/internal/dataset"
	"kissgp/internal/evaluate"
	"kissgp/internal/heatmap"
	"kissgp/internal/history"
	"kissgp/internal/interp"
	"kissgp/internal/model"
	"kissgp/internal/optim"
	"kissgp/internal/trainer"
	"kissgp/internal/version"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	trainGrid := flag.Int("train-grid", 0, "Training lattice resolution per axis")
	testGrid := flag.Int("test-grid", 0, "Test lattice resolution per axis")
	iterations := flag.Int("iterations", 0, "Number of Adam iterations")
	lr := flag.Float64("lr", 0, "Adam learning rate")
	seed := flag.Uint64("seed", 0, "PRNG seed for target noise")
	interpGrid := flag.Int("interp-grid", 0, "Inducing grid size per dimension (0 = auto)")
	outDir := flag.String("out", "", "Directory for heatmap PNGs")
	historyDB := flag.String("history", "", "SQLite file recording the run")
	showVersion := flag.Bool("version", false, "Print version information and exit")

	flag.Parse()

	info := version.Read()
	if *showVersion {
		fmt.Println(info)
		return
	}
	if err := version.Check(info); err != nil {
		log.Fatalf("environment: %v", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		TrainGrid:      *trainGrid,
		TestGrid:       *testGrid,
		Iterations:     *iterations,
		LearningRate:   *lr,
		Seed:           *seed,
		InterpGridSize: *interpGrid,
		OutputDir:      *outDir,
		HistoryDB:      *historyDB,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		log.Fatalf("run failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	data, err := dataset.Generate(cfg.TrainGrid, cfg.NoiseStd, cfg.Seed)
	if err != nil {
		return err
	}

	opts := []model.Option{
		model.WithEigenTolerance(cfg.EigenTolerance),
		model.WithMaxRank(cfg.MaxRank),
	}
	if cfg.InterpGridSize > 0 {
		opts = append(opts, model.WithGridSize(cfg.InterpGridSize))
	} else {
		opts = append(opts, model.WithSizePolicy(interp.RatioPolicy{Ratio: cfg.GridRatio}))
	}
	gp, err := model.New(data.X, opts...)
	if err != nil {
		return err
	}
	log.Printf("train_points=%d interp_grid=%d^%d noise_std=%g", data.X.RawMatrix().Rows, gp.Grid().Size(), gp.Dims(), cfg.NoiseStd)

	runCfg := trainer.RunConfig{
		Iterations:   cfg.Iterations,
		LearningRate: cfg.LearningRate,
		LogEvery:     cfg.LogEvery,
		Gradient:     optim.GradientSettings{Concurrent: cfg.ConcurrentGradient},
	}

	var (
		store *history.Store
		runID int64
	)
	if cfg.HistoryDB != "" {
		store, err = history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		runID, err = store.CreateRun(ctx, history.Run{
			TrainGrid:    cfg.TrainGrid,
			TestGrid:     cfg.TestGrid,
			InterpGrid:   gp.Grid().Size(),
			Iterations:   cfg.Iterations,
			LearningRate: cfg.LearningRate,
			Seed:         cfg.Seed,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				if ferr := store.FailRun(context.WithoutCancel(ctx), runID); ferr != nil {
					log.Printf("history: %v", ferr)
				}
			}
		}()
		runCfg.Recorder = store.Recorder(ctx, runID)
		log.Printf("history=%s run_id=%d", cfg.HistoryDB, runID)
	}

	res, err := trainer.Run(ctx, gp, gp.InitParams(), model.Batch{X: data.X, Y: data.Y}, runCfg)
	if err != nil {
		return err
	}
	log.Printf("trained in %s params=%s", res.Elapsed, res.Params)

	post, err := gp.Posterior(res.Params, data.X, data.Y)
	if err != nil {
		return err
	}
	report, err := evaluate.Evaluate(post, cfg.TestGrid, evaluate.Options{
		Variance: cfg.PredictVariance,
		Workers:  cfg.PredictWorkers,
	})
	if err != nil {
		return err
	}
	log.Printf("test_points=%d mae=%.4f rmse=%.4f max_abs=%.4f",
		report.Stats.Count, report.Stats.MAE, report.Stats.RMSE, report.Stats.MaxAbs)

	paths, err := heatmap.WriteAll(cfg.OutputDir, heatmap.Surfaces{
		Predicted: report.Predicted,
		Actual:    report.Actual,
		AbsError:  report.AbsError,
		Variance:  report.Variance,
	}, cfg.HeatmapCell)
	if err != nil {
		return err
	}
	for _, p := range paths {
		log.Printf("wrote %s", p)
	}

	if store != nil {
		return store.FinishRun(ctx, runID, res.Losses[len(res.Losses)-1], report.Stats)
	}
	return nil
}
