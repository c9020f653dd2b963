package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

func TestBaseEstimatorLifecycle(t *testing.T) {
	var e BaseEstimator

	assert.False(t, e.IsFitted())
	err := e.CheckFitted("PCA", "Transform")
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Transform", nf.Method)

	e.SetDimensions(10, 3)
	e.SetFitted()
	assert.True(t, e.IsFitted())
	assert.NoError(t, e.CheckFitted("PCA", "Transform"))
	assert.NoError(t, e.CheckFeatures("PCA.Transform", 3))

	err = e.CheckFeatures("PCA.Transform", 4)
	var se *errors.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 3, se.Expected)
	assert.Equal(t, 4, se.Got)
	assert.Equal(t, 1, se.Axis)

	e.Reset()
	assert.False(t, e.IsFitted())
	assert.Zero(t, e.NFeatures)
}

type snapshot struct {
	BaseEstimator
	Centers []float64
	Name    string
}

func TestSaveLoadModel(t *testing.T) {
	dir := t.TempDir()
	in := snapshot{Centers: []float64{0, 0.5, 10, 0.5}, Name: "kmeans"}
	in.SetDimensions(4, 2)
	in.SetFitted()

	for _, name := range []string{"m.gob", "m.gob.zst", "m.gob.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveModel(&in, path))

			var out snapshot
			require.NoError(t, LoadModel(&out, path))
			assert.Equal(t, in, out)
			assert.True(t, out.IsFitted())
		})
	}
}

func TestLoadModelErrors(t *testing.T) {
	var out snapshot
	assert.Error(t, LoadModel(&out, filepath.Join(t.TempDir(), "missing.gob")))
	assert.Error(t, LoadModelFromReader(&out, bytes.NewReader([]byte("not gob"))))
}
