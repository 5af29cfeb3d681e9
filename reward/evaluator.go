// Package reward turns program executions into scalar training signals.
// The shaping keeps a strict ordering: an illegal step is penalized below
// every legal outcome, a target mismatch earns zero, partial placement earns
// fractional credit, an exact match earns 1.
package reward

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/pkg/cache"
	"github.com/snow-ghost/tangram/world"
)

// Shaping holds the reward constants.
type Shaping struct {
	// IllegalPenalty is the reward for a program that halts on an illegal
	// operation. Must be negative so it stays below every legal outcome.
	IllegalPenalty float64 `yaml:"illegal_penalty"`
	// PartialWeight scales partial credit: a legal program placing a
	// fraction f of the gold pieces earns PartialWeight*f. Must stay below
	// 1 so partial credit never reaches the exact-match reward.
	PartialWeight float64 `yaml:"partial_weight"`
	// ForcedStopPenalty is subtracted when the decoder hit the length bound
	// instead of emitting stop itself. Legal rewards are floored at zero so
	// the illegal penalty keeps its strict ordering.
	ForcedStopPenalty float64 `yaml:"forced_stop_penalty"`
}

// DefaultShaping returns the standard constants.
func DefaultShaping() Shaping {
	return Shaping{IllegalPenalty: -1.0, PartialWeight: 0.5, ForcedStopPenalty: 0.1}
}

// Validate enforces the reward ordering invariants.
func (s Shaping) Validate() error {
	if s.IllegalPenalty >= 0 {
		return fmt.Errorf("illegal penalty %v must be negative", s.IllegalPenalty)
	}
	if s.PartialWeight < 0 || s.PartialWeight >= 1 {
		return fmt.Errorf("partial weight %v outside [0,1)", s.PartialWeight)
	}
	if s.ForcedStopPenalty < 0 {
		return fmt.Errorf("forced stop penalty %v must not be negative", s.ForcedStopPenalty)
	}
	return nil
}

// Match compares a final state to the gold target: whether they are
// identical, and the fraction of gold pieces sitting in their gold
// configuration.
func Match(final, gold world.State) (exact bool, frac float64) {
	if len(gold.Pieces) == 0 {
		return final.Equal(gold), 0
	}
	placed := 0
	for _, want := range gold.Pieces {
		if got, ok := final.Piece(want.ID); ok && got == want {
			placed++
		}
	}
	return final.Equal(gold), float64(placed) / float64(len(gold.Pieces))
}

// Evaluator executes candidates and shapes their rewards. Evaluations are
// memoized on (start, gold, program) since the beam re-proposes the same
// programs across steps while parameters move.
type Evaluator struct {
	sim     core.Simulator
	shaping Shaping
	cache   *cache.Cache[string, core.Outcome]

	hitsCtr   prometheus.Counter
	missesCtr prometheus.Counter
}

// SetCacheCounters wires optional Prometheus counters for cache traffic.
func (e *Evaluator) SetCacheCounters(hits, misses prometheus.Counter) {
	e.hitsCtr, e.missesCtr = hits, misses
}

// NewEvaluator creates an evaluator. cacheSize <= 0 disables memoization.
func NewEvaluator(sim core.Simulator, shaping Shaping, cacheSize int) (*Evaluator, error) {
	if err := shaping.Validate(); err != nil {
		return nil, fmt.Errorf("reward shaping: %w", err)
	}
	ev := &Evaluator{sim: sim, shaping: shaping}
	if cacheSize > 0 {
		c, err := cache.New[string, core.Outcome](cacheSize)
		if err != nil {
			return nil, err
		}
		ev.cache = c
	}
	return ev, nil
}

// CacheStats returns cumulative evaluation-cache hits and misses.
func (e *Evaluator) CacheStats() (hits, misses int64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.Stats()
}

// Evaluate runs the candidate program step by step. Execution halts at the
// first illegal operation with the illegal penalty; a fully legal program is
// scored against the gold target. Illegal operations are recovered here and
// never surface as errors.
func (e *Evaluator) Evaluate(ctx context.Context, ex core.Example, cand core.Candidate) (core.Outcome, error) {
	select {
	case <-ctx.Done():
		return core.Outcome{}, ctx.Err()
	default:
	}

	var key string
	if e.cache != nil {
		key = fmt.Sprintf("%x|%x|%x|%t", ex.Start.Digest(), ex.Gold.Digest(), cand.Program.Digest(), cand.ForcedStop)
		if out, ok := e.cache.Get(key); ok {
			if e.hitsCtr != nil {
				e.hitsCtr.Inc()
			}
			return out, nil
		}
		if e.missesCtr != nil {
			e.missesCtr.Inc()
		}
	}

	out := e.run(ex, cand)
	if e.cache != nil {
		e.cache.Add(key, out)
	}
	return out, nil
}

func (e *Evaluator) run(ex core.Example, cand core.Candidate) core.Outcome {
	final, steps, legal := e.sim.Run(ex.Start, cand.Program)
	if !legal {
		return core.Outcome{Reward: e.shaping.IllegalPenalty, Illegal: true, StepsRun: steps}
	}

	exact, frac := Match(final, ex.Gold)
	var r float64
	switch {
	case exact:
		r = 1.0
	default:
		r = e.shaping.PartialWeight * frac
	}
	if cand.ForcedStop {
		r -= e.shaping.ForcedStopPenalty
		if r < 0 {
			r = 0
		}
	}
	return core.Outcome{Reward: r, Exact: exact, Match: frac, StepsRun: steps}
}
