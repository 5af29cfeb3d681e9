package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/policy/softmax"
	"github.com/snow-ghost/tangram/world"
)

func testExample(t *testing.T, id string) core.Example {
	t.Helper()
	start, err := world.New(4, []world.Piece{
		{ID: "p1", Shape: world.ShapeSquare, Pos: 1},
		{ID: "p2", Shape: world.ShapeSmallTriangle, Pos: 2},
	})
	require.NoError(t, err)
	gold, err := world.New(4, []world.Piece{
		{ID: "p1", Shape: world.ShapeSquare, Pos: 4},
		{ID: "p2", Shape: world.ShapeSmallTriangle, Pos: 2},
	})
	require.NoError(t, err)
	return core.Example{
		ID:        id,
		Utterance: core.Tokenize("move the square to the last cell"),
		Start:     start,
		Gold:      gold,
	}
}

func testEngine(t *testing.T, cfg Config) (*Engine, core.PolicySnapshot) {
	t.Helper()
	engine, err := NewEngine(world.NewSimulator(), cfg)
	require.NoError(t, err)
	feats, err := softmax.NewFeaturizer(256)
	require.NoError(t, err)
	return engine, softmax.New(feats).Snapshot()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero beam", Config{BeamWidth: 0, MaxProgramLen: 4}},
		{"zero max len", Config{BeamWidth: 4, MaxProgramLen: 0}},
		{"negative epsilon", Config{BeamWidth: 4, MaxProgramLen: 4, Epsilon: -0.1}},
		{"epsilon one", Config{BeamWidth: 4, MaxProgramLen: 4, Epsilon: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.cfg.Validate())
		})
	}
}

func TestSearchRespectsLengthBound(t *testing.T) {
	const maxLen = 3
	engine, snap := testEngine(t, Config{BeamWidth: 8, MaxProgramLen: maxLen})
	ex := testExample(t, "len-bound")

	candidates, err := engine.Search(context.Background(), snap, ex, true)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, cand := range candidates {
		require.LessOrEqual(t, len(cand.Program), maxLen)
		require.True(t, cand.Program.Terminated(), "every candidate must end with stop")
	}
}

func TestSearchBoundedByBeamWidth(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 3, MaxProgramLen: 5})
	ex := testExample(t, "beam-bound")

	candidates, err := engine.Search(context.Background(), snap, ex, false)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.LessOrEqual(t, len(candidates), 3)
}

func TestSearchOrderedByScore(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 8, MaxProgramLen: 4})
	ex := testExample(t, "ordering")

	candidates, err := engine.Search(context.Background(), snap, ex, false)
	require.NoError(t, err)
	for i := 1; i < len(candidates); i++ {
		require.GreaterOrEqual(t, candidates[i-1].LogProb, candidates[i].LogProb)
	}
}

func TestSearchDeterministic(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 8, MaxProgramLen: 4, Epsilon: 0.3, Seed: 17})
	ex := testExample(t, "determinism")

	for _, train := range []bool{false, true} {
		first, err := engine.Search(context.Background(), snap, ex, train)
		require.NoError(t, err)
		second, err := engine.Search(context.Background(), snap, ex, train)
		require.NoError(t, err)
		require.Equal(t, first, second, "train=%t", train)
	}
}

func TestParallelSearchMatchesSequential(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 6, MaxProgramLen: 4, Epsilon: 0.2, Seed: 5})

	const n = 8
	examples := make([]core.Example, n)
	for i := range examples {
		examples[i] = testExample(t, fmt.Sprintf("ex-%d", i))
	}

	sequential := make([][]core.Candidate, n)
	for i, ex := range examples {
		got, err := engine.Search(context.Background(), snap, ex, true)
		require.NoError(t, err)
		sequential[i] = got
	}

	parallel := make([][]core.Candidate, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i, ex := range examples {
		i, ex := i, ex
		g.Go(func() error {
			got, err := engine.Search(ctx, snap, ex, true)
			parallel[i] = got
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, sequential, parallel)
}

func TestSearchHonorsCancellation(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 8, MaxProgramLen: 6})
	ex := testExample(t, "cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Search(ctx, snap, ex, false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestShortestBoundStillTerminates(t *testing.T) {
	engine, snap := testEngine(t, Config{BeamWidth: 2, MaxProgramLen: 1})
	ex := testExample(t, "tiny")

	candidates, err := engine.Search(context.Background(), snap, ex, false)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, cand := range candidates {
		require.Len(t, cand.Program, 1)
		require.True(t, cand.Program.Terminated())
	}
}
