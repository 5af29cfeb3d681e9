// Package search implements beam decoding of candidate programs. The beam
// keeps the highest-scoring partial programs at each depth, terminates
// candidates on an explicit stop, and forces a stop at the length bound so
// every search finishes.
package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/policy/softmax"
	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

// Config bounds the search.
type Config struct {
	BeamWidth     int     `yaml:"beam_width"`
	MaxProgramLen int     `yaml:"max_program_len"`
	// Epsilon mixes uniform exploration into beam pruning during training:
	// each surviving slot is replaced by a random pruned expansion with this
	// probability. Zero gives pure argmax beams.
	Epsilon float64 `yaml:"epsilon"`
	// Seed derives per-example decode randomness. Exploration for a given
	// (example, policy version) is reproducible regardless of how searches
	// are scheduled across workers.
	Seed int64 `yaml:"seed"`
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.BeamWidth < 1 {
		return fmt.Errorf("beam width %d, must be at least 1", c.BeamWidth)
	}
	if c.MaxProgramLen < 1 {
		return fmt.Errorf("max program length %d, must be at least 1", c.MaxProgramLen)
	}
	if c.Epsilon < 0 || c.Epsilon >= 1 {
		return fmt.Errorf("exploration epsilon %v outside [0,1)", c.Epsilon)
	}
	return nil
}

// Engine is a beam-search decoder. It is stateless across calls; beams are
// rebuilt from the given snapshot every step since parameters move between
// steps.
type Engine struct {
	sim core.Simulator
	cfg Config
}

// NewEngine creates a beam-search engine over the given simulator.
func NewEngine(sim core.Simulator, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{sim: sim, cfg: cfg}, nil
}

// item is a partial program on the beam.
type item struct {
	prog    program.Program
	st      world.State
	logProb float64
}

// Search decodes candidate programs for ex under the given snapshot,
// best-scored first. The result length is bounded by the beam width and
// every candidate by the configured maximum program length.
func (e *Engine) Search(ctx context.Context, snap core.PolicySnapshot, ex core.Example, train bool) ([]core.Candidate, error) {
	rng := rand.New(rand.NewSource(e.exampleSeed(ex, snap.Version())))

	live := []item{{st: ex.Start}}
	var done []core.Candidate

	// Depth is bounded one short of the program length cap so the forced
	// stop below never pushes a candidate past it.
	for depth := 0; depth < e.cfg.MaxProgramLen-1 && len(live) > 0; depth++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var next []item
		for _, it := range live {
			ops := it.st.CandidateOps()
			logProbs := softmax.LogSoftmax(snap.Logits(ex.Utterance, it.st, it.prog, ops))
			for i, op := range ops {
				lp := it.logProb + logProbs[i]
				if op.Kind == program.KindStop {
					done = append(done, core.Candidate{
						Program: append(append(program.Program{}, it.prog...), op),
						LogProb: lp,
					})
					continue
				}
				st, legal := e.sim.Apply(it.st, op)
				if !legal {
					// CandidateOps only proposes executable operations;
					// a rejection here is a simulator/enumeration mismatch.
					continue
				}
				next = append(next, item{
					prog:    append(append(program.Program{}, it.prog...), op),
					st:      st,
					logProb: lp,
				})
			}
		}
		live = e.prune(next, train, rng)
	}

	// Length bound reached with candidates still open: force-terminate them.
	// The evaluator discounts forced stops.
	for _, it := range live {
		done = append(done, core.Candidate{
			Program:    append(append(program.Program{}, it.prog...), program.Stop()),
			LogProb:    it.logProb,
			ForcedStop: true,
		})
	}

	sort.SliceStable(done, func(i, j int) bool { return done[i].LogProb > done[j].LogProb })
	if len(done) > e.cfg.BeamWidth {
		done = done[:e.cfg.BeamWidth]
	}
	return done, nil
}

// prune keeps the BeamWidth best expansions, optionally mixing in random
// pruned expansions during training.
func (e *Engine) prune(next []item, train bool, rng *rand.Rand) []item {
	sort.SliceStable(next, func(i, j int) bool { return next[i].logProb > next[j].logProb })
	if len(next) <= e.cfg.BeamWidth {
		return next
	}
	kept, rest := next[:e.cfg.BeamWidth], next[e.cfg.BeamWidth:]
	if train && e.cfg.Epsilon > 0 {
		for i := range kept {
			if rng.Float64() < e.cfg.Epsilon {
				kept[i] = rest[rng.Intn(len(rest))]
			}
		}
	}
	return kept
}

// exampleSeed ties decode randomness to the example and parameter version,
// not to worker scheduling.
func (e *Engine) exampleSeed(ex core.Example, version uint64) int64 {
	h := fnv.New64a()
	h.Write([]byte(ex.ID))
	return e.cfg.Seed ^ int64(h.Sum64()) ^ int64(version)
}
