// Package dataset loads training corpora: (utterance, start board, gold
// board) triples from a YAML file.
package dataset

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snow-ghost/tangram/core"
	"github.com/snow-ghost/tangram/world"
)

type boardYAML struct {
	Width  int           `yaml:"width"`
	Pieces []world.Piece `yaml:"pieces"`
}

type exampleYAML struct {
	ID        string    `yaml:"id"`
	Utterance string    `yaml:"utterance"`
	Board     boardYAML `yaml:"board"`
	Gold      boardYAML `yaml:"gold"`
}

type corpusYAML struct {
	Examples []exampleYAML `yaml:"examples"`
}

// Dataset is an in-memory corpus with deterministic per-epoch shuffling.
type Dataset struct {
	examples []core.Example
}

// Load reads a YAML corpus. Both boards of every example are validated
// against the board invariants; a malformed example fails the whole load,
// since silently dropping data would skew training.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML corpus from bytes.
func Parse(data []byte) (*Dataset, error) {
	var corpus corpusYAML
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(corpus.Examples) == 0 {
		return nil, fmt.Errorf("dataset contains no examples")
	}

	ds := &Dataset{examples: make([]core.Example, 0, len(corpus.Examples))}
	seen := make(map[string]bool, len(corpus.Examples))
	for i, raw := range corpus.Examples {
		if raw.ID == "" {
			return nil, fmt.Errorf("example %d: missing id", i)
		}
		if seen[raw.ID] {
			return nil, fmt.Errorf("example %d: duplicate id %q", i, raw.ID)
		}
		seen[raw.ID] = true
		if raw.Utterance == "" {
			return nil, fmt.Errorf("example %q: missing utterance", raw.ID)
		}
		start, err := world.New(raw.Board.Width, raw.Board.Pieces)
		if err != nil {
			return nil, fmt.Errorf("example %q: board: %w", raw.ID, err)
		}
		gold, err := world.New(raw.Gold.Width, raw.Gold.Pieces)
		if err != nil {
			return nil, fmt.Errorf("example %q: gold: %w", raw.ID, err)
		}
		ds.examples = append(ds.examples, core.Example{
			ID:        raw.ID,
			Utterance: core.Tokenize(raw.Utterance),
			Start:     start,
			Gold:      gold,
		})
	}
	return ds, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.examples) }

// Examples returns the corpus in load order.
func (d *Dataset) Examples() []core.Example {
	return append([]core.Example(nil), d.examples...)
}

// Shuffled returns the corpus in an order derived from seed and epoch, so
// a run re-visits epochs identically under the same seed.
func (d *Dataset) Shuffled(seed int64, epoch int) []core.Example {
	out := append([]core.Example(nil), d.examples...)
	rng := rand.New(rand.NewSource(seed + int64(epoch)*1_000_003))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
