// Package train drives the learning run: an explicit state machine that
// samples a batch, decodes candidate programs under a frozen policy
// snapshot, scores them by execution, and applies one parameter update per
// step. Search and evaluation fan out across workers; the update is the
// only synchronization point.
package train

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/dataset"
	"github.com/snow-ghost/tangram/pkg/metrics"
	"github.com/snow-ghost/tangram/pkg/tracing"
	"github.com/snow-ghost/tangram/trainer"
)

// phase names the orchestrator states. Each step transitions
// sample → search → evaluate → update; checkpoint and terminate are
// boundary states entered between steps.
type phase int

const (
	phaseSample phase = iota
	phaseSearch
	phaseEvaluate
	phaseUpdate
	phaseCheckpoint
	phaseTerminate
)

func (p phase) String() string {
	switch p {
	case phaseSample:
		return "sample"
	case phaseSearch:
		return "search"
	case phaseEvaluate:
		return "evaluate"
	case phaseUpdate:
		return "update"
	case phaseCheckpoint:
		return "checkpoint"
	case phaseTerminate:
		return "terminate"
	}
	return "unknown"
}

// Options bound the run.
type Options struct {
	Epochs          int
	BatchSize       int
	Workers         int
	Seed            int64
	CheckpointEvery int
}

// Deps wires the loop's collaborators. Metrics and Tracer may be nil.
type Deps struct {
	Dataset      *dataset.Dataset
	Searcher     core.Searcher
	Evaluator    core.Evaluator
	Trainer      core.Trainer
	Checkpointer core.Checkpointer
	Log          *zap.Logger
	Metrics      *metrics.TrainingMetrics
	Tracer       *tracing.Tracer
}

// Loop is the training orchestrator.
type Loop struct {
	opts Options
	deps Deps

	progress *rate.Limiter

	// cumulative denotation accuracy, strongsup-style
	correct int
	total   int
}

// NewLoop validates the wiring and returns an orchestrator.
func NewLoop(opts Options, deps Deps) (*Loop, error) {
	if deps.Dataset == nil || deps.Searcher == nil || deps.Evaluator == nil ||
		deps.Trainer == nil || deps.Checkpointer == nil || deps.Log == nil {
		return nil, fmt.Errorf("training loop: missing dependency")
	}
	if opts.Epochs < 1 || opts.BatchSize < 1 || opts.Workers < 1 || opts.CheckpointEvery < 1 {
		return nil, fmt.Errorf("training loop: bounds must be positive")
	}
	return &Loop{
		opts:     opts,
		deps:     deps,
		progress: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Accuracy returns cumulative (correct, total) example counts.
func (l *Loop) Accuracy() (int, int) { return l.correct, l.total }

// stepResult carries one example's outcome across the batch barrier.
type stepResult struct {
	experiences []core.Experience
	beamSize    int
	correct     bool
	illegal     int
	err         error
}

// Run executes the state machine until all epochs complete or the
// context is cancelled. Cancellation is observed at step boundaries; a
// checkpoint is written before returning either way.
func (l *Loop) Run(ctx context.Context) error {
	step := 0
	for epoch := 0; epoch < l.opts.Epochs; epoch++ {
		order := l.deps.Dataset.Shuffled(l.opts.Seed, epoch)
		for start := 0; start < len(order); start += l.opts.BatchSize {
			select {
			case <-ctx.Done():
				l.deps.Log.Info("stop signal received", zap.Int("step", step))
				if err := l.deps.Checkpointer.Save(step); err != nil {
					l.deps.Log.Error("checkpoint on shutdown failed", zap.Error(err))
				}
				return ctx.Err()
			default:
			}

			end := start + l.opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			step++
			if err := l.runStep(ctx, step, epoch, order[start:end]); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					// A mid-step cancellation aborts the step before its
					// update; parameters stay at the prior version.
					if saveErr := l.deps.Checkpointer.Save(step - 1); saveErr != nil {
						l.deps.Log.Error("checkpoint on shutdown failed", zap.Error(saveErr))
					}
					return err
				}
				return fmt.Errorf("step %d: %w", step, err)
			}

			if step%l.opts.CheckpointEvery == 0 {
				if err := l.deps.Checkpointer.Save(step); err != nil {
					return fmt.Errorf("checkpoint at step %d: %w", step, err)
				}
				if l.deps.Metrics != nil {
					l.deps.Metrics.CheckpointsTotal.Inc()
				}
			}
		}
	}

	if err := l.deps.Checkpointer.Save(step); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.CheckpointsTotal.Inc()
	}
	l.deps.Log.Info("training finished",
		zap.Int("steps", step),
		zap.Int("correct", l.correct),
		zap.Int("total", l.total))
	return nil
}

// runStep executes one sample→search→evaluate→update transition.
func (l *Loop) runStep(ctx context.Context, step, epoch int, batch []core.Example) error {
	started := time.Now()
	snap := l.deps.Trainer.Snapshot()

	stepCtx := ctx
	if l.deps.Tracer != nil {
		var span trace.Span
		stepCtx, span = l.deps.Tracer.StartStep(ctx, step, snap.Version())
		defer span.End()
	}

	// Search and evaluate fan out per example; the Wait below is the
	// barrier before the parameter update.
	searchCtx := stepCtx
	if l.deps.Tracer != nil {
		var span trace.Span
		searchCtx, span = l.deps.Tracer.StartPhase(stepCtx, phaseSearch.String())
		defer span.End()
	}
	results := make([]stepResult, len(batch))
	g, gctx := errgroup.WithContext(searchCtx)
	g.SetLimit(l.opts.Workers)
	for i, ex := range batch {
		i, ex := i, ex
		g.Go(func() error {
			res := l.solveExample(gctx, snap, ex)
			results[i] = res
			if res.err != nil && (errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)) {
				return res.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Aggregate, skipping failed examples rather than aborting the run:
	// degenerate search output on one example must not kill training.
	var experiences []core.Experience
	for i, res := range results {
		if res.err != nil {
			l.deps.Log.Warn("skipping example",
				zap.String("example", batch[i].ID),
				zap.Error(res.err))
			if l.deps.Metrics != nil {
				l.deps.Metrics.SkippedExamplesTotal.Inc()
			}
			continue
		}
		experiences = append(experiences, res.experiences...)
		l.total++
		if res.correct {
			l.correct++
		}
		if l.deps.Metrics != nil {
			l.deps.Metrics.ExamplesTotal.Inc()
			l.deps.Metrics.BeamSizeHistogram.Observe(float64(res.beamSize))
			l.deps.Metrics.IllegalProgramsTotal.Add(float64(res.illegal))
			for _, exp := range res.experiences {
				l.deps.Metrics.RewardHistogram.Observe(exp.Reward)
			}
		}
	}

	// Update: the sole writer. A non-finite gradient skips this step's
	// update and keeps the prior parameters; anything else is fatal.
	updateCtx := stepCtx
	if l.deps.Tracer != nil {
		var span trace.Span
		updateCtx, span = l.deps.Tracer.StartPhase(stepCtx, phaseUpdate.String())
		defer span.End()
	}
	if err := l.deps.Trainer.Update(updateCtx, experiences); err != nil {
		if errors.Is(err, trainer.ErrNonFinite) {
			l.deps.Log.Warn("skipping non-finite update", zap.Int("step", step))
			if l.deps.Metrics != nil {
				l.deps.Metrics.SkippedUpdatesTotal.Inc()
			}
		} else {
			return fmt.Errorf("update: %w", err)
		}
	}

	if l.deps.Metrics != nil {
		l.deps.Metrics.StepsTotal.Inc()
		l.deps.Metrics.StepSeconds.Observe(time.Since(started).Seconds())
		l.deps.Metrics.PolicyVersion.Set(float64(l.deps.Trainer.Snapshot().Version()))
		if l.total > 0 {
			l.deps.Metrics.TrainAccuracy.Set(float64(l.correct) / float64(l.total))
		}
	}

	if l.progress.Allow() {
		acc := 0.0
		if l.total > 0 {
			acc = float64(l.correct) / float64(l.total)
		}
		l.deps.Log.Info("train step",
			zap.Int("step", step),
			zap.Int("epoch", epoch),
			zap.Int("batch", len(batch)),
			zap.Int("experiences", len(experiences)),
			zap.Float64("accuracy", acc),
			zap.Uint64("policy_version", snap.Version()))
	}
	return nil
}

// solveExample searches and evaluates one example under the shared frozen
// snapshot. Failures are contained in the result and handled at the batch
// boundary.
func (l *Loop) solveExample(ctx context.Context, snap core.PolicySnapshot, ex core.Example) stepResult {
	candidates, err := l.deps.Searcher.Search(ctx, snap, ex, true)
	if err != nil {
		return stepResult{err: fmt.Errorf("search: %w", err)}
	}
	if len(candidates) == 0 {
		return stepResult{err: fmt.Errorf("search produced no candidates")}
	}

	res := stepResult{beamSize: len(candidates)}
	for rank, cand := range candidates {
		out, err := l.deps.Evaluator.Evaluate(ctx, ex, cand)
		if err != nil {
			return stepResult{err: fmt.Errorf("evaluate: %w", err)}
		}
		if out.Illegal {
			res.illegal++
		}
		if rank == 0 && out.Exact {
			// Denotation accuracy counts the best-scored candidate only.
			res.correct = true
		}
		res.experiences = append(res.experiences, core.Experience{
			Example:   ex,
			Candidate: cand,
			Reward:    out.Reward,
		})
	}
	return res
}
