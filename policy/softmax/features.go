package softmax

import (
	"fmt"
	"hash/fnv"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

// Featurizer hashes (utterance, state, operation) conjunctions into a fixed
// index space. The same featurizer must be used for scoring and for gradient
// computation; Digest guards checkpoint compatibility.
type Featurizer struct {
	dim int
}

// NewFeaturizer creates a featurizer over dim hash buckets. Index 0 is
// reserved for the bias feature.
func NewFeaturizer(dim int) (*Featurizer, error) {
	if dim < 16 {
		return nil, fmt.Errorf("feature dimension %d too small", dim)
	}
	return &Featurizer{dim: dim}, nil
}

// Dim returns the size of the feature index space.
func (f *Featurizer) Dim() int { return f.dim }

// Digest identifies the feature configuration for checkpoint validation.
func (f *Featurizer) Digest() string {
	return fmt.Sprintf("hashed-conjunctions/v1/dim=%d", f.dim)
}

func (f *Featurizer) bucket(parts ...string) int {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	// bucket 0 is the bias; hashed features land in [1, dim).
	return 1 + int(h.Sum32()%uint32(f.dim-1))
}

// Action returns the sparse feature indices of choosing op to extend
// partial in state st under utterance u.
func (f *Featurizer) Action(u core.Utterance, st world.State, partial program.Program, op program.Op) []int {
	idx := make([]int, 0, 4*len(u.Tokens)+4)
	idx = append(idx, 0) // bias
	kind := string(op.Kind)
	idx = append(idx, f.bucket("kind", kind))
	idx = append(idx, f.bucket("kind-depth", kind, fmt.Sprint(depthBucket(len(partial)))))

	var shape string
	if op.Piece != "" {
		if p, ok := st.Piece(op.Piece); ok {
			shape = string(p.Shape)
		}
	}
	for _, tok := range u.Tokens {
		idx = append(idx, f.bucket("tok-kind", tok, kind))
		if op.Piece != "" {
			idx = append(idx, f.bucket("tok-piece", tok, op.Piece))
		}
		if shape != "" {
			idx = append(idx, f.bucket("tok-shape", tok, shape))
		}
		if op.Kind == program.KindMove {
			idx = append(idx, f.bucket("tok-cell", tok, fmt.Sprint(op.To)))
		}
	}
	return idx
}

// State returns the sparse feature indices used by the reward baseline.
func (f *Featurizer) State(u core.Utterance, st world.State) []int {
	idx := make([]int, 0, len(u.Tokens)+2)
	idx = append(idx, 0)
	idx = append(idx, f.bucket("board-pieces", fmt.Sprint(len(st.Pieces))))
	for _, tok := range u.Tokens {
		idx = append(idx, f.bucket("base-tok", tok))
	}
	return idx
}

// depthBucket coarsens program length so depth features stay dense.
func depthBucket(n int) int {
	if n > 4 {
		return 5
	}
	return n
}
