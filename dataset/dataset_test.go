package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validCorpus = `
examples:
  - id: ex1
    utterance: "move the square to cell three"
    board:
      width: 3
      pieces:
        - {id: p1, shape: square, pos: 1}
    gold:
      width: 3
      pieces:
        - {id: p1, shape: square, pos: 3}
  - id: ex2
    utterance: "swap the triangles"
    board:
      width: 4
      pieces:
        - {id: p1, shape: small-triangle, pos: 1}
        - {id: p2, shape: large-triangle, pos: 4}
    gold:
      width: 4
      pieces:
        - {id: p1, shape: small-triangle, pos: 4}
        - {id: p2, shape: large-triangle, pos: 1}
`

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(validCorpus))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	examples := ds.Examples()
	require.Equal(t, "ex1", examples[0].ID)
	require.Equal(t, []string{"move", "the", "square", "to", "cell", "three"}, examples[0].Utterance.Tokens)
	require.Equal(t, 3, examples[0].Start.Width)
	p, ok := examples[0].Gold.Piece("p1")
	require.True(t, ok)
	require.Equal(t, 3, p.Pos)
}

func TestParseRejectsMalformedCorpora(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `examples: []`},
		{"missing id", `
examples:
  - utterance: "do a thing"
    board: {width: 2, pieces: [{id: p1, shape: square, pos: 1}]}
    gold: {width: 2, pieces: [{id: p1, shape: square, pos: 2}]}
`},
		{"duplicate id", `
examples:
  - id: ex1
    utterance: "do a thing"
    board: {width: 2, pieces: [{id: p1, shape: square, pos: 1}]}
    gold: {width: 2, pieces: [{id: p1, shape: square, pos: 2}]}
  - id: ex1
    utterance: "do another thing"
    board: {width: 2, pieces: [{id: p1, shape: square, pos: 1}]}
    gold: {width: 2, pieces: [{id: p1, shape: square, pos: 2}]}
`},
		{"missing utterance", `
examples:
  - id: ex1
    board: {width: 2, pieces: [{id: p1, shape: square, pos: 1}]}
    gold: {width: 2, pieces: [{id: p1, shape: square, pos: 2}]}
`},
		{"overlapping board", `
examples:
  - id: ex1
    utterance: "do a thing"
    board: {width: 2, pieces: [{id: p1, shape: square, pos: 1}, {id: p2, shape: square, pos: 1}]}
    gold: {width: 2, pieces: [{id: p1, shape: square, pos: 2}]}
`},
		{"not yaml", `{{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCorpus), 0o644))

	ds, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestShuffledDeterministicPerSeedAndEpoch(t *testing.T) {
	ds, err := Parse([]byte(validCorpus))
	require.NoError(t, err)

	a := ds.Shuffled(42, 3)
	b := ds.Shuffled(42, 3)
	require.Equal(t, a, b)

	// load order is untouched by shuffling
	examples := ds.Examples()
	require.Equal(t, "ex1", examples[0].ID)
	require.Equal(t, "ex2", examples[1].ID)
}
