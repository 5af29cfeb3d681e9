// Package trainer updates the policy parameters from scored candidates
// with a policy-gradient rule: the log-probability gradient of each taken
// operation is scaled by its baseline-subtracted reward.
package trainer

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/policy/softmax"
)

// ErrNonFinite reports an update rejected for non-finite gradients. The
// parameters are unchanged when it is returned; the orchestrator skips the
// step rather than aborting the run.
var ErrNonFinite = softmax.ErrNonFinite

// Config holds the update hyperparameters.
type Config struct {
	LearningRate float64 `yaml:"learning_rate"`
	BaselineRate float64 `yaml:"baseline_rate"`
	UseBaseline  bool    `yaml:"use_baseline"`
	// NormalizeRewards standardizes batch rewards to zero mean and unit
	// variance before the update, guarding the gradient against outliers.
	NormalizeRewards bool `yaml:"normalize_rewards"`
	// RewardClip bounds |reward| before normalization. Zero disables.
	RewardClip float64 `yaml:"reward_clip"`
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate %v must be positive", c.LearningRate)
	}
	if c.UseBaseline && c.BaselineRate <= 0 {
		return fmt.Errorf("baseline rate %v must be positive when the baseline is enabled", c.BaselineRate)
	}
	if c.RewardClip < 0 {
		return fmt.Errorf("reward clip %v must not be negative", c.RewardClip)
	}
	return nil
}

// REINFORCE owns the policy and applies batched policy-gradient updates.
// Parameters move monotonically through versions; a failed update leaves
// the previous version in place.
type REINFORCE struct {
	policy *softmax.Policy
	sim    core.Simulator
	cfg    Config
	log    *zap.Logger
}

// New creates the trainer.
func New(policy *softmax.Policy, sim core.Simulator, cfg Config, log *zap.Logger) (*REINFORCE, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer config: %w", err)
	}
	return &REINFORCE{policy: policy, sim: sim, cfg: cfg, log: log}, nil
}

// Snapshot returns a frozen view of the current parameters for search.
func (t *REINFORCE) Snapshot() core.PolicySnapshot { return t.policy.Snapshot() }

// Version returns the current parameter version.
func (t *REINFORCE) Version() uint64 { return t.policy.Version() }

// Update applies one batched gradient step. Every candidate on the beam
// contributes, weighted by its shaped reward; gradients are computed by
// replaying each program through the simulator and re-scoring the
// operation choices under the current parameters.
func (t *REINFORCE) Update(ctx context.Context, batch []core.Experience) error {
	if len(batch) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rewards := t.shapeRewards(batch)

	snap, ok := t.policy.Snapshot().(*softmax.Snapshot)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", t.policy.Snapshot())
	}

	dim := t.policy.Featurizer().Dim()
	gw := make([]float64, dim)
	gv := make([]float64, dim)

	for i, exp := range batch {
		t.accumulate(snap, exp, rewards[i], gw, gv)
	}

	scale := 1.0 / float64(len(batch))
	err := t.policy.ApplyGradient(
		mat.NewVecDense(dim, gw),
		mat.NewVecDense(dim, gv),
		t.cfg.LearningRate*scale,
		t.cfg.BaselineRate*scale,
	)
	if err != nil {
		return fmt.Errorf("apply gradient: %w", err)
	}
	return nil
}

// shapeRewards clips and normalizes the batch rewards per config.
func (t *REINFORCE) shapeRewards(batch []core.Experience) []float64 {
	rewards := make([]float64, len(batch))
	for i, exp := range batch {
		r := exp.Reward
		if t.cfg.RewardClip > 0 {
			r = math.Max(-t.cfg.RewardClip, math.Min(t.cfg.RewardClip, r))
		}
		rewards[i] = r
	}
	if !t.cfg.NormalizeRewards || len(rewards) < 2 {
		return rewards
	}
	var mean float64
	for _, r := range rewards {
		mean += r
	}
	mean /= float64(len(rewards))
	var variance float64
	for _, r := range rewards {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(rewards)))
	if std < 1e-8 {
		for i := range rewards {
			rewards[i] -= mean
		}
		return rewards
	}
	for i := range rewards {
		rewards[i] = (rewards[i] - mean) / std
	}
	return rewards
}

// accumulate adds one experience's gradient contribution. The program is
// replayed through the simulator; at each step the legal operations are
// re-enumerated and re-scored exactly as the decoder scored them.
func (t *REINFORCE) accumulate(snap *softmax.Snapshot, exp core.Experience, reward float64, gw, gv []float64) {
	u := exp.Example.Utterance
	st := exp.Example.Start

	advantage := reward
	if t.cfg.UseBaseline {
		b := snap.Baseline(u, exp.Example.Start)
		advantage = reward - b
		// Move the baseline toward the observed reward (squared-error
		// gradient on the state features).
		for _, idx := range snap.StateFeatures(u, exp.Example.Start) {
			gv[idx] += reward - b
		}
	}

	for step, op := range exp.Candidate.Program {
		prefix := exp.Candidate.Program[:step]
		ops := st.CandidateOps()
		taken := -1
		for i, cand := range ops {
			if cand == op {
				taken = i
				break
			}
		}
		if taken < 0 {
			// Program step not reachable from the replayed state; the
			// experience came from a different world than the example.
			t.log.Debug("skipping unreplayable experience",
				zap.String("example", exp.Example.ID),
				zap.String("op", op.String()))
			return
		}

		probs := softmax.Probs(snap.Logits(u, st, prefix, ops))
		for i, cand := range ops {
			grad := -advantage * probs[i]
			if i == taken {
				grad += advantage
			}
			for _, idx := range snap.ActionFeatures(u, st, prefix, cand) {
				gw[idx] += grad
			}
		}

		next, legal := t.sim.Apply(st, op)
		if !legal {
			return
		}
		st = next
	}
}
