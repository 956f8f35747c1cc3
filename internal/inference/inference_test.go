package inference

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/camsense/internal/preprocess"
)

func TestParseLabels(t *testing.T) {
	labels, err := ParseLabels(strings.NewReader("???\nperson\nbicycle  \r\n\ncar\n\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"???", "person", "bicycle", "", "car"}, labels)
}

func TestParseLabels_Empty(t *testing.T) {
	_, err := ParseLabels(strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, ErrLabels)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, labels)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrLabels)
}

func TestSSDDecoder_Decode(t *testing.T) {
	d := SSDDecoder{Labels: []string{"???", "person", "bicycle", "car"}, LabelOffset: 1, ObjectCount: 10}

	locations := []float32{
		0.1, 0.2, 0.5, 0.6,
		0.0, 0.0, 1.0, 1.0,
		0.3, 0.3, 0.4, 0.4,
	}
	classes := []float32{0, 2, 7}
	scores := []float32{0.9, 0.5, 0.1}

	preds, err := d.Decode(locations, classes, scores, 3)
	require.NoError(t, err)
	require.Len(t, preds, 3)

	assert.Equal(t, "person", preds[0].Label)
	assert.Equal(t, float32(0.9), preds[0].Score)
	assert.Equal(t, BoundingBox{Left: 0.2, Top: 0.1, Right: 0.6, Bottom: 0.5}, preds[0].Box)
	assert.Equal(t, "car", preds[1].Label)
	assert.Equal(t, UnknownLabel, preds[2].Label)
}

func TestSSDDecoder_Limits(t *testing.T) {
	d := SSDDecoder{Labels: []string{"a", "b"}, ObjectCount: 2}
	locations := make([]float32, 12)
	classes := []float32{0, 1, 0}
	scores := []float32{0.1, 0.2, 0.3}

	preds, err := d.Decode(locations, classes, scores, 3)
	require.NoError(t, err)
	assert.Len(t, preds, 2, "object count caps results")

	preds, err = d.Decode(locations, classes, scores, 1)
	require.NoError(t, err)
	assert.Len(t, preds, 1, "count output caps results")

	_, err = d.Decode(make([]float32, 4), classes, scores, 3)
	assert.Error(t, err)
}

func TestCheckShape(t *testing.T) {
	spec := preprocess.InputSpec{Height: 2, Width: 2, DataType: preprocess.Uint8}
	ok := &preprocess.Tensor{Height: 2, Width: 2, DataType: preprocess.Uint8, U8: make([]uint8, 12)}
	assert.NoError(t, CheckShape(spec, ok))

	assert.ErrorIs(t, CheckShape(spec, nil), ErrShape)
	assert.ErrorIs(t, CheckShape(spec, &preprocess.Tensor{Height: 3, Width: 2, U8: make([]uint8, 18)}), ErrShape)
	assert.ErrorIs(t, CheckShape(spec, &preprocess.Tensor{Height: 2, Width: 2, U8: make([]uint8, 5)}), ErrShape)
	assert.ErrorIs(t, CheckShape(spec, &preprocess.Tensor{Height: 2, Width: 2, DataType: preprocess.Float32, F32: make([]float32, 12)}), ErrShape)
}
