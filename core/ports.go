package core

import (
	"context"

	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

// Simulator executes single operations against board states. Apply must be
// pure: on an illegal operation it returns the input state unchanged, and
// identical inputs always yield identical outputs.
type Simulator interface {
	Apply(s world.State, op program.Op) (world.State, bool)
	Run(s world.State, prog program.Program) (world.State, int, bool)
}

// PolicySnapshot is a frozen, versioned view of the policy parameters.
// Search workers in one batch share a snapshot and are unaffected by
// concurrent updates.
type PolicySnapshot interface {
	// Version is the parameter version the snapshot was taken at.
	Version() uint64
	// Logits scores the candidate operations for extending partial in
	// state st, conditioned on the utterance. len(out) == len(ops).
	Logits(u Utterance, st world.State, partial program.Program, ops []program.Op) []float64
	// Baseline estimates the expected reward for the example, used to
	// reduce gradient variance.
	Baseline(u Utterance, st world.State) float64
}

// Searcher decodes candidate programs for an example under a frozen policy
// snapshot, best-scored first. Candidates never exceed the engine's length
// bound. Train mode may mix exploration into the beam; eval mode is
// deterministic.
type Searcher interface {
	Search(ctx context.Context, snap PolicySnapshot, ex Example, train bool) ([]Candidate, error)
}

// Evaluator scores a candidate by executing it against the example's start
// state and comparing the outcome to the gold target. Illegal execution is
// absorbed into the reward, never returned as an error.
type Evaluator interface {
	Evaluate(ctx context.Context, ex Example, cand Candidate) (Outcome, error)
}

// Trainer owns the policy parameters. Snapshot is safe to call concurrently
// with Update; Update is the sole writer and rejects non-finite gradients
// without touching the parameters.
type Trainer interface {
	Snapshot() PolicySnapshot
	Update(ctx context.Context, batch []Experience) error
}

// Checkpointer persists policy parameters so a run can be resumed with
// identical behavior.
type Checkpointer interface {
	Save(step int) error
	Restore(path string) error
}
