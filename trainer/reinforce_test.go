package trainer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/policy/softmax"
	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

func testSetup(t *testing.T, cfg Config) (*REINFORCE, *softmax.Policy, core.Example) {
	t.Helper()
	feats, err := softmax.NewFeaturizer(512)
	require.NoError(t, err)
	pol := softmax.New(feats)

	start, err := world.New(3, []world.Piece{{ID: "p1", Shape: world.ShapeSquare, Pos: 1}})
	require.NoError(t, err)
	gold, err := world.New(3, []world.Piece{{ID: "p1", Shape: world.ShapeSquare, Pos: 3}})
	require.NoError(t, err)
	ex := core.Example{
		ID:        "ex1",
		Utterance: core.Tokenize("move the square to the last cell"),
		Start:     start,
		Gold:      gold,
	}

	tr, err := New(pol, world.NewSimulator(), cfg, zap.NewNop())
	require.NoError(t, err)
	return tr, pol, ex
}

func defaultConfig() Config {
	return Config{
		LearningRate:     0.1,
		BaselineRate:     0.1,
		UseBaseline:      true,
		NormalizeRewards: false,
		RewardClip:       5,
	}
}

// opProb returns the current policy probability of choosing op first.
func opProb(pol *softmax.Policy, ex core.Example, op program.Op) float64 {
	snap := pol.Snapshot().(*softmax.Snapshot)
	ops := ex.Start.CandidateOps()
	probs := softmax.Probs(snap.Logits(ex.Utterance, ex.Start, nil, ops))
	for i, cand := range ops {
		if cand == op {
			return probs[i]
		}
	}
	return 0
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, defaultConfig().Validate())

	bad := []Config{
		{LearningRate: 0},
		{LearningRate: 0.1, UseBaseline: true, BaselineRate: 0},
		{LearningRate: 0.1, RewardClip: -1},
	}
	for _, cfg := range bad {
		require.Error(t, cfg.Validate())
	}
}

func TestUpdateReinforcesRewardedProgram(t *testing.T) {
	tr, pol, ex := testSetup(t, defaultConfig())

	goodOp := program.Op{Kind: program.KindMove, Piece: "p1", To: 3}
	good := core.Candidate{Program: program.Program{goodOp, program.Stop()}}
	bad := core.Candidate{Program: program.Program{{Kind: program.KindFlip, Piece: "p1"}, program.Stop()}}

	before := opProb(pol, ex, goodOp)

	batch := []core.Experience{
		{Example: ex, Candidate: good, Reward: 1.0},
		{Example: ex, Candidate: bad, Reward: -1.0},
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Update(context.Background(), batch))
	}

	after := opProb(pol, ex, goodOp)
	require.Greater(t, after, before,
		"the rewarded operation must gain probability mass")
	require.Equal(t, uint64(10), tr.Version())
}

func TestUpdateEmptyBatchIsNoop(t *testing.T) {
	tr, _, _ := testSetup(t, defaultConfig())
	require.NoError(t, tr.Update(context.Background(), nil))
	require.Equal(t, uint64(0), tr.Version())
}

func TestUpdateRejectsNonFiniteRewards(t *testing.T) {
	cfg := defaultConfig()
	cfg.RewardClip = 0 // let the bad reward through to the gradient
	tr, pol, ex := testSetup(t, cfg)

	cand := core.Candidate{Program: program.Program{{Kind: program.KindMove, Piece: "p1", To: 3}, program.Stop()}}
	err := tr.Update(context.Background(), []core.Experience{
		{Example: ex, Candidate: cand, Reward: math.NaN()},
	})
	require.ErrorIs(t, err, ErrNonFinite)
	require.Equal(t, uint64(0), pol.Version(), "a rejected update must leave the version alone")
}

func TestRewardClipTamesOutliers(t *testing.T) {
	tr, pol, ex := testSetup(t, defaultConfig())

	cand := core.Candidate{Program: program.Program{{Kind: program.KindMove, Piece: "p1", To: 3}, program.Stop()}}
	require.NoError(t, tr.Update(context.Background(), []core.Experience{
		{Example: ex, Candidate: cand, Reward: 1e12},
	}))

	// Parameters must stay finite after an outlier reward.
	_, _, w, v := pol.Export()
	for _, x := range w {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
	for _, x := range v {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
}

func TestUpdateSkipsUnreplayableExperience(t *testing.T) {
	tr, pol, ex := testSetup(t, defaultConfig())

	// References a piece the example's world never had.
	cand := core.Candidate{Program: program.Program{{Kind: program.KindMove, Piece: "ghost", To: 2}, program.Stop()}}
	require.NoError(t, tr.Update(context.Background(), []core.Experience{
		{Example: ex, Candidate: cand, Reward: 1.0},
	}))

	// The action weights get no contribution from the unreplayable program.
	snap := pol.Snapshot()
	ops := ex.Start.CandidateOps()
	logits := snap.Logits(ex.Utterance, ex.Start, nil, ops)
	for _, l := range logits {
		require.InDelta(t, 0.0, l, 1e-12)
	}
}

func TestNormalizationCentersUniformRewards(t *testing.T) {
	cfg := defaultConfig()
	cfg.NormalizeRewards = true
	cfg.UseBaseline = false
	tr, pol, ex := testSetup(t, cfg)

	cand := core.Candidate{Program: program.Program{{Kind: program.KindMove, Piece: "p1", To: 3}, program.Stop()}}
	batch := []core.Experience{
		{Example: ex, Candidate: cand, Reward: 0.7},
		{Example: ex, Candidate: cand, Reward: 0.7},
	}
	require.NoError(t, tr.Update(context.Background(), batch))

	// Identical rewards normalize to zero advantage: no movement.
	snap := pol.Snapshot()
	ops := ex.Start.CandidateOps()
	for _, l := range snap.Logits(ex.Utterance, ex.Start, nil, ops) {
		require.InDelta(t, 0.0, l, 1e-12)
	}
}

func TestUpdateHonorsCancellation(t *testing.T) {
	tr, _, ex := testSetup(t, defaultConfig())
	cand := core.Candidate{Program: program.Program{program.Stop()}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Update(ctx, []core.Experience{{Example: ex, Candidate: cand, Reward: 0}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotIsolation(t *testing.T) {
	tr, _, ex := testSetup(t, defaultConfig())

	snap := tr.Snapshot()
	cand := core.Candidate{Program: program.Program{{Kind: program.KindMove, Piece: "p1", To: 3}, program.Stop()}}
	require.NoError(t, tr.Update(context.Background(), []core.Experience{
		{Example: ex, Candidate: cand, Reward: 1.0},
	}))

	require.Equal(t, uint64(0), snap.Version())
	require.Equal(t, uint64(1), tr.Snapshot().Version())
}
