// Command trainer runs the instruction-to-program training loop: it wires
// the config file, dataset, policy, beam search, reward evaluator, and
// policy-gradient trainer, then drives the loop until the last epoch or a
// stop signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snow-ghost/tangram/checkpoint"
	"github.com/snow-ghost/tangram/config"
	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/dataset"
	"github.com/snow-ghost/tangram/pkg/logging"
	"github.com/snow-ghost/tangram/pkg/metrics"
	"github.com/snow-ghost/tangram/pkg/tracing"
	"github.com/snow-ghost/tangram/policy/softmax"
	"github.com/snow-ghost/tangram/reward"
	"github.com/snow-ghost/tangram/search"
	"github.com/snow-ghost/tangram/train"
	"github.com/snow-ghost/tangram/trainer"
	"github.com/snow-ghost/tangram/world"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "trainer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	runInfo := core.RunInfo{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log = log.With(zap.String("run_id", runInfo.RunID))

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics listener stopped", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	ds, err := dataset.Load(cfg.DatasetPath)
	if err != nil {
		return err
	}
	log.Info("dataset loaded", zap.String("path", cfg.DatasetPath), zap.Int("examples", ds.Len()))

	sim := world.NewSimulator()
	feats, err := softmax.NewFeaturizer(cfg.FeatureDim)
	if err != nil {
		return err
	}
	pol := softmax.New(feats)

	engine, err := search.NewEngine(sim, cfg.Search)
	if err != nil {
		return fmt.Errorf("search engine: %w", err)
	}
	evaluator, err := reward.NewEvaluator(sim, cfg.Reward, cfg.EvalCacheSize)
	if err != nil {
		return err
	}
	evaluator.SetCacheCounters(m.CacheHitsTotal, m.CacheMissesTotal)

	tr, err := trainer.New(pol, sim, cfg.Trainer, log)
	if err != nil {
		return err
	}

	ckpt := checkpoint.NewManager(cfg.CheckpointPath, runInfo.RunID, pol, log)
	if cfg.ResumeFrom != "" {
		if err := ckpt.Restore(cfg.ResumeFrom); err != nil {
			return err
		}
	}

	loop, err := train.NewLoop(
		train.Options{
			Epochs:          cfg.Epochs,
			BatchSize:       cfg.BatchSize,
			Workers:         cfg.Workers,
			Seed:            cfg.Seed,
			CheckpointEvery: cfg.CheckpointEvery,
		},
		train.Deps{
			Dataset:      ds,
			Searcher:     engine,
			Evaluator:    evaluator,
			Trainer:      tr,
			Checkpointer: ckpt,
			Log:          log,
			Metrics:      m,
			Tracer:       tracer,
		},
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("training starting",
		zap.Int("epochs", cfg.Epochs),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Int("beam_width", cfg.Search.BeamWidth))

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("training interrupted, checkpoint written")
			return nil
		}
		return err
	}

	hits, misses := evaluator.CacheStats()
	log.Info("evaluation cache", zap.Int64("hits", hits), zap.Int64("misses", misses))
	return nil
}
