// Command evaluate replays a trained checkpoint over a dataset with
// deterministic beam decoding and reports denotation accuracy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/snow-ghost/tangram/checkpoint"
	"github.com/snow-ghost/tangram/config"
	"github.com/snow-ghost/tangram/dataset"
	"github.com/snow-ghost/tangram/pkg/logging"
	"github.com/snow-ghost/tangram/policy/softmax"
	"github.com/snow-ghost/tangram/reward"
	"github.com/snow-ghost/tangram/search"
	"github.com/snow-ghost/tangram/world"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG"), "path to the YAML config file")
	checkpointPath := flag.String("checkpoint", "", "checkpoint to evaluate (defaults to the configured checkpoint path)")
	flag.Parse()

	if err := run(*configPath, *checkpointPath); err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, checkpointPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if checkpointPath == "" {
		checkpointPath = cfg.CheckpointPath
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ds, err := dataset.Load(cfg.DatasetPath)
	if err != nil {
		return err
	}

	sim := world.NewSimulator()
	feats, err := softmax.NewFeaturizer(cfg.FeatureDim)
	if err != nil {
		return err
	}
	pol := softmax.New(feats)
	if err := checkpoint.NewManager(checkpointPath, "evaluate", pol, log).Restore(checkpointPath); err != nil {
		return err
	}

	engine, err := search.NewEngine(sim, cfg.Search)
	if err != nil {
		return fmt.Errorf("search engine: %w", err)
	}
	evaluator, err := reward.NewEvaluator(sim, cfg.Reward, cfg.EvalCacheSize)
	if err != nil {
		return err
	}

	snap := pol.Snapshot()
	ctx := context.Background()

	correct := 0
	var rewardSum float64
	examples := ds.Examples()
	for _, ex := range examples {
		candidates, err := engine.Search(ctx, snap, ex, false)
		if err != nil {
			return fmt.Errorf("example %s: %w", ex.ID, err)
		}
		if len(candidates) == 0 {
			log.Warn("no candidates decoded", zap.String("example", ex.ID))
			continue
		}
		out, err := evaluator.Evaluate(ctx, ex, candidates[0])
		if err != nil {
			return fmt.Errorf("example %s: %w", ex.ID, err)
		}
		rewardSum += out.Reward
		if out.Exact {
			correct++
		}
		log.Debug("decoded",
			zap.String("example", ex.ID),
			zap.String("program", candidates[0].Program.String()),
			zap.Float64("reward", out.Reward),
			zap.Bool("exact", out.Exact))
	}

	n := len(examples)
	fmt.Printf("examples:   %d\n", n)
	fmt.Printf("accuracy:   %.4f\n", float64(correct)/float64(n))
	fmt.Printf("avg reward: %.4f\n", rewardSum/float64(n))
	fmt.Printf("checkpoint: %s (version %d)\n", checkpointPath, snap.Version())
	return nil
}
