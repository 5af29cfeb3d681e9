package core

import (
	"strings"
	"time"

	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

// Utterance is an ordered, immutable sequence of instruction tokens.
type Utterance struct {
	Tokens []string `json:"tokens" yaml:"tokens"`
}

// Tokenize lowercases and whitespace-splits raw instruction text. The corpus
// is pre-tokenized prose, so no further normalization is applied.
func Tokenize(text string) Utterance {
	return Utterance{Tokens: strings.Fields(strings.ToLower(text))}
}

func (u Utterance) String() string { return strings.Join(u.Tokens, " ") }

// Example is one training triple: an instruction, the board it applies to,
// and the target configuration the instruction denotes.
type Example struct {
	ID        string
	Utterance Utterance
	Start     world.State
	Gold      world.State
}

// Candidate is a complete program proposed for an example by the decoder.
// LogProb is the policy log-probability of the action sequence; ForcedStop
// marks a program cut off at the length bound rather than terminated by the
// policy. Candidates live for one training step only.
type Candidate struct {
	Program    program.Program
	LogProb    float64
	ForcedStop bool
}

// Outcome is the result of executing a candidate against its example.
type Outcome struct {
	Reward   float64 // shaped scalar the trainer consumes
	Exact    bool    // final state equals the gold target
	Match    float64 // fraction of gold pieces placed correctly
	Illegal  bool    // execution halted on an illegal operation
	StepsRun int     // operations executed before halting
}

// Experience is one scored candidate, ready for a policy update.
type Experience struct {
	Example   Example
	Candidate Candidate
	Reward    float64
}

// RunInfo identifies a training run in logs and checkpoints.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}
