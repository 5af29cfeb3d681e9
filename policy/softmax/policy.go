// Package softmax implements the trainable policy: a linear model over
// hashed (utterance, state, operation) features, normalized per step with a
// softmax over the legal operations. Readers work on immutable snapshots;
// updates swap parameters under a single writer lock.
package softmax

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/program"
	"github.com/snow-ghost/tangram/world"
)

// ErrNonFinite reports a rejected gradient containing NaN or Inf entries.
// The parameters are left untouched when it is returned.
var ErrNonFinite = fmt.Errorf("non-finite gradient")

// Policy owns the parameters: an action weight vector and a baseline weight
// vector over the same hashed feature space.
type Policy struct {
	mu      sync.RWMutex
	feats   *Featurizer
	w       *mat.VecDense // action weights
	v       *mat.VecDense // baseline weights
	version uint64
}

// New creates a policy with zero-initialized parameters, which scores every
// legal operation equally.
func New(feats *Featurizer) *Policy {
	return &Policy{
		feats: feats,
		w:     mat.NewVecDense(feats.Dim(), nil),
		v:     mat.NewVecDense(feats.Dim(), nil),
	}
}

// Featurizer returns the feature configuration shared with the trainer.
func (p *Policy) Featurizer() *Featurizer { return p.feats }

// Version returns the current parameter version.
func (p *Policy) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Snapshot copies the parameters into an immutable scoring view. Snapshots
// taken before an update keep scoring with the old parameters.
func (p *Policy) Snapshot() core.PolicySnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w := mat.NewVecDense(p.w.Len(), nil)
	w.CopyVec(p.w)
	v := mat.NewVecDense(p.v.Len(), nil)
	v.CopyVec(p.v)
	return &Snapshot{feats: p.feats, w: w, v: v, version: p.version}
}

// ApplyGradient adds lrW*gw to the action weights and lrV*gv to the baseline
// weights and bumps the version. If either gradient contains a non-finite
// entry the parameters are left unchanged and ErrNonFinite is returned;
// there is no rollback path, so the check happens before any write.
func (p *Policy) ApplyGradient(gw, gv *mat.VecDense, lrW, lrV float64) error {
	if gw.Len() != p.feats.Dim() || gv.Len() != p.feats.Dim() {
		return fmt.Errorf("gradient dimension %d/%d, want %d", gw.Len(), gv.Len(), p.feats.Dim())
	}
	if !finiteVec(gw) || !finiteVec(gv) {
		return ErrNonFinite
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w.AddScaledVec(p.w, lrW, gw)
	p.v.AddScaledVec(p.v, lrV, gv)
	p.version++
	return nil
}

// Export returns the raw parameters for checkpointing.
func (p *Policy) Export() (version uint64, featDigest string, w, v []float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w = append([]float64(nil), p.w.RawVector().Data...)
	v = append([]float64(nil), p.v.RawVector().Data...)
	return p.version, p.feats.Digest(), w, v
}

// Restore replaces the parameters with checkpointed values. The feature
// digest must match the live featurizer or scoring would silently diverge.
func (p *Policy) Restore(version uint64, featDigest string, w, v []float64) error {
	if featDigest != p.feats.Digest() {
		return fmt.Errorf("checkpoint feature space %q does not match %q", featDigest, p.feats.Digest())
	}
	if len(w) != p.feats.Dim() || len(v) != p.feats.Dim() {
		return fmt.Errorf("checkpoint dimension %d/%d, want %d", len(w), len(v), p.feats.Dim())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = mat.NewVecDense(len(w), append([]float64(nil), w...))
	p.v = mat.NewVecDense(len(v), append([]float64(nil), v...))
	p.version = version
	return nil
}

func finiteVec(v *mat.VecDense) bool {
	for _, x := range v.RawVector().Data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Snapshot is a frozen view of the parameters. It implements
// core.PolicySnapshot and is safe for concurrent use.
type Snapshot struct {
	feats   *Featurizer
	w       *mat.VecDense
	v       *mat.VecDense
	version uint64
}

// Version returns the parameter version the snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Logits scores each candidate operation with a sparse dot product.
func (s *Snapshot) Logits(u core.Utterance, st world.State, partial program.Program, ops []program.Op) []float64 {
	out := make([]float64, len(ops))
	for i, op := range ops {
		out[i] = s.dot(s.w, s.feats.Action(u, st, partial, op))
	}
	return out
}

// Baseline estimates the expected reward for the example.
func (s *Snapshot) Baseline(u core.Utterance, st world.State) float64 {
	return s.dot(s.v, s.feats.State(u, st))
}

// ActionFeatures exposes the feature indices behind a logit; the trainer
// uses them to form the policy-gradient update.
func (s *Snapshot) ActionFeatures(u core.Utterance, st world.State, partial program.Program, op program.Op) []int {
	return s.feats.Action(u, st, partial, op)
}

// StateFeatures exposes the baseline feature indices.
func (s *Snapshot) StateFeatures(u core.Utterance, st world.State) []int {
	return s.feats.State(u, st)
}

func (s *Snapshot) dot(w *mat.VecDense, idx []int) float64 {
	var sum float64
	for _, i := range idx {
		sum += w.AtVec(i)
	}
	return sum
}

// LogSoftmax converts logits to log-probabilities with the usual max-shift
// for numerical stability.
func LogSoftmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, l := range logits[1:] {
		if l > max {
			max = l
		}
	}
	var sum float64
	for _, l := range logits {
		sum += math.Exp(l - max)
	}
	logZ := max + math.Log(sum)
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = l - logZ
	}
	return out
}

// Probs converts logits to probabilities.
func Probs(logits []float64) []float64 {
	lp := LogSoftmax(logits)
	out := make([]float64, len(lp))
	for i, l := range lp {
		out[i] = math.Exp(l)
	}
	return out
}
