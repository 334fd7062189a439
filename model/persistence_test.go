package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/formula"
)

type savedObject struct {
	Centers [][]float64
	Labels  []int
}

func init() {
	RegisterObjectType(&savedObject{})
}

func sampleFitted() *Fitted {
	return &Fitted{
		Family: FamilyKMeans,
		Object: &savedObject{
			Centers: [][]float64{{0, 0}, {10, 10}},
			Labels:  []int{1, 1, 2, 2},
		},
		Meta: Meta{
			Formula:       formula.MustParse("~ x1 + x2"),
			FeatureNames:  []string{"x1", "x2"},
			PredictMatrix: mat.NewDense(2, 1, []float64{0.5, 0.25}),
		},
	}
}

func TestModelRoundTrip(t *testing.T) {
	fitted := sampleFitted()

	var buf bytes.Buffer
	require.NoError(t, WriteModel(&buf, fitted))

	loaded, err := ReadModel(&buf)
	require.NoError(t, err)

	assert.Equal(t, FamilyKMeans, loaded.Family)
	assert.Equal(t, fitted.Meta.FeatureNames, loaded.Meta.FeatureNames)

	object, ok := loaded.Object.(*savedObject)
	require.True(t, ok, "Object type = %T, want *savedObject", loaded.Object)
	assert.Equal(t, fitted.Object, object)

	// The formula survives through its canonical text.
	require.NotNil(t, loaded.Meta.Formula)
	assert.Equal(t, fitted.Meta.Formula.String(), loaded.Meta.Formula.String())

	assert.True(t, mat.Equal(fitted.Meta.PredictMatrix, loaded.Meta.PredictMatrix),
		"predict matrix did not survive the round trip")
}

func TestSaveLoadModelFile(t *testing.T) {
	fitted := sampleFitted()
	path := filepath.Join(t.TempDir(), "model.twm")

	require.NoError(t, SaveModel(fitted, path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, fitted.Family, loaded.Family)
}

func TestReadModelBadMagic(t *testing.T) {
	_, err := ReadModel(bytes.NewReader([]byte("NOPE this is not a model file")))
	assert.Error(t, err)
}

func TestReadModelChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteModel(&buf, sampleFitted()))

	// Flip one payload byte past the header.
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff

	_, err := ReadModel(bytes.NewReader(raw))
	assert.Error(t, err, "a corrupted payload must not decode")
}

func TestWriteModelNil(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteModel(&buf, nil))
}
