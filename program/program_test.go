package program

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      Op
		wantErr bool
	}{
		{"move ok", Op{Kind: KindMove, Piece: "p1", To: 3}, false},
		{"move missing piece", Op{Kind: KindMove, To: 3}, true},
		{"move bad cell", Op{Kind: KindMove, Piece: "p1", To: 0}, true},
		{"rotate ok", Op{Kind: KindRotate, Piece: "p1", Degrees: 90}, false},
		{"rotate bad angle", Op{Kind: KindRotate, Piece: "p1", Degrees: 45}, true},
		{"flip ok", Op{Kind: KindFlip, Piece: "p1"}, false},
		{"swap ok", Op{Kind: KindSwap, Piece: "p1", Other: "p2"}, false},
		{"swap self", Op{Kind: KindSwap, Piece: "p1", Other: "p1"}, true},
		{"swap missing other", Op{Kind: KindSwap, Piece: "p1"}, true},
		{"remove ok", Op{Kind: KindRemove, Piece: "p1"}, false},
		{"stop ok", Stop(), false},
		{"stop with operand", Op{Kind: KindStop, Piece: "p1"}, true},
		{"unknown kind", Op{Kind: "teleport", Piece: "p1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestProgramValidate(t *testing.T) {
	ok := Program{{Kind: KindMove, Piece: "p1", To: 2}, Stop()}
	require.NoError(t, ok.Validate())

	early := Program{Stop(), {Kind: KindMove, Piece: "p1", To: 2}}
	require.Error(t, early.Validate())
}

func TestTerminated(t *testing.T) {
	require.False(t, Program{}.Terminated())
	require.False(t, Program{{Kind: KindFlip, Piece: "p1"}}.Terminated())
	require.True(t, Program{{Kind: KindFlip, Piece: "p1"}, Stop()}.Terminated())
}

func TestDigest(t *testing.T) {
	a := Program{{Kind: KindMove, Piece: "p1", To: 2}, Stop()}
	b := Program{{Kind: KindMove, Piece: "p1", To: 3}, Stop()}

	require.Equal(t, a.Digest(), a.Digest())
	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestString(t *testing.T) {
	p := Program{{Kind: KindMove, Piece: "p1", To: 2}, {Kind: KindSwap, Piece: "p1", Other: "p2"}, Stop()}
	require.Equal(t, "move(p1,2);swap(p1,p2);stop", p.String())
}
