// Package world implements the tangram board simulator. A State is an
// immutable value; Apply returns a new state and never mutates its input,
// so identical (state, operation) inputs always produce identical results.
package world

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/snow-ghost/tangram/program"
)

// Shape names a tangram figure.
type Shape string

const (
	ShapeSquare        Shape = "square"
	ShapeLargeTriangle Shape = "large-triangle"
	ShapeSmallTriangle Shape = "small-triangle"
	ShapeParallelogram Shape = "parallelogram"
)

// Piece is one figure on the board. Pos is a 1-based cell index, Orient is
// a clockwise rotation in degrees, Mirrored marks a flipped piece.
type Piece struct {
	ID       string `json:"id" yaml:"id"`
	Shape    Shape  `json:"shape" yaml:"shape"`
	Pos      int    `json:"pos" yaml:"pos"`
	Orient   int    `json:"orient" yaml:"orient"`
	Mirrored bool   `json:"mirrored,omitempty" yaml:"mirrored,omitempty"`
}

// State is a board configuration: a row of Width cells, each holding at
// most one piece. The zero value is an empty zero-width board.
type State struct {
	Width  int     `json:"width" yaml:"width"`
	Pieces []Piece `json:"pieces" yaml:"pieces"`
}

// New builds a state and checks the board invariants: positive width, pieces
// in bounds, unique IDs, one piece per cell.
func New(width int, pieces []Piece) (State, error) {
	s := State{Width: width, Pieces: append([]Piece(nil), pieces...)}
	if err := s.check(); err != nil {
		return State{}, err
	}
	s.normalize()
	return s, nil
}

func (s *State) check() error {
	if s.Width < 1 {
		return fmt.Errorf("board width %d out of range", s.Width)
	}
	byID := make(map[string]bool, len(s.Pieces))
	byPos := make(map[int]string, len(s.Pieces))
	for _, p := range s.Pieces {
		if p.ID == "" {
			return fmt.Errorf("piece with empty id")
		}
		if byID[p.ID] {
			return fmt.Errorf("duplicate piece id %q", p.ID)
		}
		byID[p.ID] = true
		if p.Pos < 1 || p.Pos > s.Width {
			return fmt.Errorf("piece %q at cell %d outside board of width %d", p.ID, p.Pos, s.Width)
		}
		if other, taken := byPos[p.Pos]; taken {
			return fmt.Errorf("pieces %q and %q overlap at cell %d", other, p.ID, p.Pos)
		}
		byPos[p.Pos] = p.ID
		if p.Orient%90 != 0 || p.Orient < 0 || p.Orient >= 360 {
			return fmt.Errorf("piece %q has orientation %d", p.ID, p.Orient)
		}
	}
	return nil
}

// normalize keeps pieces sorted by ID so equal configurations compare equal.
func (s *State) normalize() {
	sort.Slice(s.Pieces, func(i, j int) bool { return s.Pieces[i].ID < s.Pieces[j].ID })
}

// Piece returns the piece with the given id.
func (s State) Piece(id string) (Piece, bool) {
	for _, p := range s.Pieces {
		if p.ID == id {
			return p, true
		}
	}
	return Piece{}, false
}

// Occupant returns the id of the piece at the given cell.
func (s State) Occupant(pos int) (string, bool) {
	for _, p := range s.Pieces {
		if p.Pos == pos {
			return p.ID, true
		}
	}
	return "", false
}

func (s State) clone() State {
	return State{Width: s.Width, Pieces: append([]Piece(nil), s.Pieces...)}
}

// Equal reports whether two states are the same configuration.
func (s State) Equal(o State) bool {
	if s.Width != o.Width || len(s.Pieces) != len(o.Pieces) {
		return false
	}
	for i := range s.Pieces {
		if s.Pieces[i] != o.Pieces[i] {
			return false
		}
	}
	return true
}

// Digest returns a stable hash of the configuration for cache keys.
func (s State) Digest() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "w%d;", s.Width)
	for _, p := range s.Pieces {
		fmt.Fprintf(h, "%s|%s|%d|%d|%t;", p.ID, p.Shape, p.Pos, p.Orient, p.Mirrored)
	}
	return h.Sum64()
}

// String renders the board as position:shape pairs in cell order.
func (s State) String() string {
	ordered := append([]Piece(nil), s.Pieces...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Pos < ordered[j].Pos })
	parts := make([]string, len(ordered))
	for i, p := range ordered {
		parts[i] = fmt.Sprintf("%d:%s", p.Pos, p.Shape)
	}
	return strings.Join(parts, " ")
}

// Simulator executes operations against board states.
type Simulator struct{}

// NewSimulator returns the stateless board simulator.
func NewSimulator() *Simulator { return &Simulator{} }

// Apply executes one operation. It returns the successor state and whether
// the operation was legal; on an illegal operation the input state is
// returned unchanged. The simulator holds no state of its own.
func (Simulator) Apply(s State, op program.Op) (State, bool) {
	if op.Validate() != nil {
		return s, false
	}
	switch op.Kind {
	case program.KindStop:
		return s, true

	case program.KindMove:
		p, ok := s.Piece(op.Piece)
		if !ok || op.To > s.Width {
			return s, false
		}
		if id, taken := s.Occupant(op.To); taken && id != p.ID {
			return s, false
		}
		out := s.clone()
		for i := range out.Pieces {
			if out.Pieces[i].ID == p.ID {
				out.Pieces[i].Pos = op.To
			}
		}
		return out, true

	case program.KindRotate:
		p, ok := s.Piece(op.Piece)
		if !ok {
			return s, false
		}
		out := s.clone()
		for i := range out.Pieces {
			if out.Pieces[i].ID == p.ID {
				out.Pieces[i].Orient = (out.Pieces[i].Orient + op.Degrees) % 360
			}
		}
		return out, true

	case program.KindFlip:
		_, ok := s.Piece(op.Piece)
		if !ok {
			return s, false
		}
		out := s.clone()
		for i := range out.Pieces {
			if out.Pieces[i].ID == op.Piece {
				out.Pieces[i].Mirrored = !out.Pieces[i].Mirrored
			}
		}
		return out, true

	case program.KindSwap:
		a, okA := s.Piece(op.Piece)
		b, okB := s.Piece(op.Other)
		if !okA || !okB {
			return s, false
		}
		out := s.clone()
		for i := range out.Pieces {
			switch out.Pieces[i].ID {
			case a.ID:
				out.Pieces[i].Pos = b.Pos
			case b.ID:
				out.Pieces[i].Pos = a.Pos
			}
		}
		return out, true

	case program.KindRemove:
		_, ok := s.Piece(op.Piece)
		if !ok {
			return s, false
		}
		out := State{Width: s.Width, Pieces: make([]Piece, 0, len(s.Pieces)-1)}
		for _, p := range s.Pieces {
			if p.ID != op.Piece {
				out.Pieces = append(out.Pieces, p)
			}
		}
		return out, true
	}
	return s, false
}

// Run executes a whole program, halting at the first illegal operation.
// It returns the state reached, the number of operations executed, and
// whether every operation was legal.
func (sim Simulator) Run(s State, prog program.Program) (State, int, bool) {
	cur := s
	for i, op := range prog {
		next, legal := sim.Apply(cur, op)
		if !legal {
			return cur, i, false
		}
		cur = next
	}
	return cur, len(prog), true
}

// CandidateOps enumerates the operations legal in the given state, stop
// included. This is the branching set the decoder scores; operations that
// could not execute are pruned here rather than discovered at execution
// time.
func (s State) CandidateOps() []program.Op {
	ops := make([]program.Op, 0, len(s.Pieces)*(s.Width+5)+1)
	for _, p := range s.Pieces {
		for cell := 1; cell <= s.Width; cell++ {
			if cell == p.Pos {
				continue
			}
			if _, taken := s.Occupant(cell); taken {
				continue
			}
			ops = append(ops, program.Op{Kind: program.KindMove, Piece: p.ID, To: cell})
		}
		for _, deg := range []int{90, 180, 270} {
			ops = append(ops, program.Op{Kind: program.KindRotate, Piece: p.ID, Degrees: deg})
		}
		ops = append(ops, program.Op{Kind: program.KindFlip, Piece: p.ID})
		ops = append(ops, program.Op{Kind: program.KindRemove, Piece: p.ID})
	}
	for i := 0; i < len(s.Pieces); i++ {
		for j := i + 1; j < len(s.Pieces); j++ {
			ops = append(ops, program.Op{Kind: program.KindSwap, Piece: s.Pieces[i].ID, Other: s.Pieces[j].ID})
		}
	}
	ops = append(ops, program.Stop())
	return ops
}
