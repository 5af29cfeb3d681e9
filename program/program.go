// Package program defines the executable operation vocabulary: a closed set
// of typed operations over a tangram board, and programs composed of them.
package program

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Kind identifies an operation variant.
type Kind string

const (
	KindMove   Kind = "move"   // move a piece to a board cell
	KindRotate Kind = "rotate" // rotate a piece clockwise by Degrees
	KindFlip   Kind = "flip"   // mirror a piece in place
	KindSwap   Kind = "swap"   // exchange the cells of two pieces
	KindRemove Kind = "remove" // take a piece off the board
	KindStop   Kind = "stop"   // terminate the program
)

// Kinds lists every operation variant in a stable order.
func Kinds() []Kind {
	return []Kind{KindMove, KindRotate, KindFlip, KindSwap, KindRemove, KindStop}
}

// Op is one operation. Operand fields are meaningful per Kind:
// Move uses Piece and To, Rotate uses Piece and Degrees, Flip and Remove
// use Piece, Swap uses Piece and Other, Stop uses none.
type Op struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Piece   string `json:"piece,omitempty" yaml:"piece,omitempty"`
	To      int    `json:"to,omitempty" yaml:"to,omitempty"`
	Degrees int    `json:"degrees,omitempty" yaml:"degrees,omitempty"`
	Other   string `json:"other,omitempty" yaml:"other,omitempty"`
}

// Stop returns the terminating operation.
func Stop() Op { return Op{Kind: KindStop} }

// Validate checks structural well-formedness: operand presence and ranges.
// Whether referenced pieces exist is a board-level question answered by the
// simulator, not here.
func (o Op) Validate() error {
	switch o.Kind {
	case KindMove:
		if o.Piece == "" {
			return fmt.Errorf("move: missing piece operand")
		}
		if o.To < 1 {
			return fmt.Errorf("move: target cell %d out of range", o.To)
		}
	case KindRotate:
		if o.Piece == "" {
			return fmt.Errorf("rotate: missing piece operand")
		}
		switch o.Degrees {
		case 90, 180, 270:
		default:
			return fmt.Errorf("rotate: unsupported angle %d", o.Degrees)
		}
	case KindFlip, KindRemove:
		if o.Piece == "" {
			return fmt.Errorf("%s: missing piece operand", o.Kind)
		}
	case KindSwap:
		if o.Piece == "" || o.Other == "" {
			return fmt.Errorf("swap: missing piece operand")
		}
		if o.Piece == o.Other {
			return fmt.Errorf("swap: operands reference the same piece %q", o.Piece)
		}
	case KindStop:
		if o.Piece != "" || o.Other != "" || o.To != 0 || o.Degrees != 0 {
			return fmt.Errorf("stop: takes no operands")
		}
	default:
		return fmt.Errorf("unknown operation kind %q", o.Kind)
	}
	return nil
}

// String renders the operation in a compact functional form for logs.
func (o Op) String() string {
	switch o.Kind {
	case KindMove:
		return fmt.Sprintf("move(%s,%d)", o.Piece, o.To)
	case KindRotate:
		return fmt.Sprintf("rotate(%s,%d)", o.Piece, o.Degrees)
	case KindFlip:
		return fmt.Sprintf("flip(%s)", o.Piece)
	case KindSwap:
		return fmt.Sprintf("swap(%s,%s)", o.Piece, o.Other)
	case KindRemove:
		return fmt.Sprintf("remove(%s)", o.Piece)
	case KindStop:
		return "stop"
	default:
		return string(o.Kind)
	}
}

// Program is an ordered sequence of operations.
type Program []Op

// Terminated reports whether the program ends with an explicit stop.
func (p Program) Terminated() bool {
	return len(p) > 0 && p[len(p)-1].Kind == KindStop
}

// Validate checks every operation and that stop appears only at the end.
func (p Program) Validate() error {
	for i, op := range p {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		if op.Kind == KindStop && i != len(p)-1 {
			return fmt.Errorf("op %d: stop before end of program", i)
		}
	}
	return nil
}

// String joins the operations with semicolons.
func (p Program) String() string {
	parts := make([]string, len(p))
	for i, op := range p {
		parts[i] = op.String()
	}
	return strings.Join(parts, ";")
}

// Digest returns a stable hash of the program, usable as a cache key
// component.
func (p Program) Digest() uint64 {
	h := fnv.New64a()
	for _, op := range p {
		fmt.Fprintf(h, "%s|%s|%d|%d|%s;", op.Kind, op.Piece, op.To, op.Degrees, op.Other)
	}
	return h.Sum64()
}
