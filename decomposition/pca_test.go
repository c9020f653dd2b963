package decomposition

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

var _ model.Transformer = (*PCA)(nil)

func randomMatrix(seed int64, r, c int) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	// 列ごとにスケールを変えて固有値を分離させる
	X := mat.NewDense(r, c, data)
	for i := 0; i < r; i++ {
		X.Set(i, 0, X.At(i, 0)*5+X.At(i, 1))
	}
	return X
}

func TestPCALineYEquals2X(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{
		1, 2,
		2, 4,
		3, 6,
		4, 8,
		5, 10,
	})

	pca := NewPCA(1)
	Y, err := pca.FitTransform(X)
	require.NoError(t, err)

	r, c := Y.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 1, c)

	dir, err := pca.ComponentsInFeatureSpace()
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt(5), dir.At(0, 0), 1e-6)
	assert.InDelta(t, 2/math.Sqrt(5), dir.At(1, 0), 1e-6)

	// 標準化空間では両特徴量が等しく寄与する
	comps, err := pca.Components()
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt(2), comps.At(0, 0), 1e-6)
	assert.InDelta(t, 1/math.Sqrt(2), comps.At(1, 0), 1e-6)

	ratio := pca.ExplainedVarianceRatio()
	require.Len(t, ratio, 1)
	assert.InDelta(t, 1.0, ratio[0], 1e-9)

	// 射影は点の並びに沿って単調増加
	for i := 1; i < r; i++ {
		assert.Greater(t, Y.At(i, 0), Y.At(i-1, 0))
	}
}

func TestPCAComponentsOrthonormal(t *testing.T) {
	X := randomMatrix(7, 40, 5)
	pca := NewPCA(3)
	require.NoError(t, pca.Fit(X))

	comps, err := pca.Components()
	require.NoError(t, err)

	var gram mat.Dense
	gram.Mul(comps.T(), comps)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	assert.True(t, mat.EqualApprox(&gram, identity, 1e-9), "C^T C = %v", mat.Formatted(&gram))

	ev := pca.ExplainedVariance()
	require.Len(t, ev, 3)
	assert.GreaterOrEqual(t, ev[0], ev[1])
	assert.GreaterOrEqual(t, ev[1], ev[2])

	var total float64
	for _, r := range pca.ExplainedVarianceRatio() {
		assert.GreaterOrEqual(t, r, 0.0)
		total += r
	}
	assert.LessOrEqual(t, total, 1.0+1e-12)
}

func TestPCASignConvention(t *testing.T) {
	X := randomMatrix(11, 30, 4)
	pca := NewPCA(4)
	require.NoError(t, pca.Fit(X))

	comps, err := pca.Components()
	require.NoError(t, err)
	d, k := comps.Dims()
	for j := 0; j < k; j++ {
		maxAbs, val := 0.0, 0.0
		for i := 0; i < d; i++ {
			if math.Abs(comps.At(i, j)) > maxAbs {
				maxAbs = math.Abs(comps.At(i, j))
				val = comps.At(i, j)
			}
		}
		assert.Greater(t, val, 0.0, "component %d", j)
	}

	a, err := pca.Transform(X)
	require.NoError(t, err)
	b, err := pca.Transform(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))

	// 同じデータで再学習しても同じ主成分
	again := NewPCA(4)
	require.NoError(t, again.Fit(X))
	comps2, err := again.Components()
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(comps, comps2, 1e-12))
}

func TestPCAErrors(t *testing.T) {
	X := randomMatrix(3, 10, 3)

	t.Run("transform before fit", func(t *testing.T) {
		_, err := NewPCA(2).Transform(X)
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))

		_, err = NewPCA(2).Components()
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("feature mismatch", func(t *testing.T) {
		pca := NewPCA(2)
		require.NoError(t, pca.Fit(X))
		_, err := pca.Transform(randomMatrix(3, 4, 2))
		var se *errors.ShapeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 3, se.Expected)
		assert.Equal(t, 2, se.Got)
	})

	t.Run("non-finite transform input", func(t *testing.T) {
		pca := NewPCA(2)
		require.NoError(t, pca.Fit(X))
		bad := mat.DenseCopyOf(X)
		bad.Set(4, 1, math.NaN())
		_, err := pca.Transform(bad)
		var ne *errors.NumericalError
		require.True(t, errors.As(err, &ne))
		assert.Equal(t, "PCA.Transform", ne.Op)
	})

	t.Run("invalid n_components", func(t *testing.T) {
		for _, k := range []int{0, 4} {
			err := NewPCA(k).Fit(X)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "k=%d", k)
		}
	})

	t.Run("single sample", func(t *testing.T) {
		err := NewPCA(1).Fit(mat.NewDense(1, 3, []float64{1, 2, 3}))
		var ne *errors.NumericalError
		assert.True(t, errors.As(err, &ne))
	})

	t.Run("empty", func(t *testing.T) {
		err := NewPCA(1).Fit(&mat.Dense{})
		assert.True(t, errors.Is(err, errors.ErrEmptyData))
	})

	t.Run("failed fit keeps previous state", func(t *testing.T) {
		pca := NewPCA(2)
		require.NoError(t, pca.Fit(X))
		before, err := pca.Transform(X)
		require.NoError(t, err)

		require.Error(t, pca.Fit(mat.NewDense(1, 5, []float64{1, 2, 3, 4, 5})))
		after, err := pca.Transform(X)
		require.NoError(t, err)
		assert.True(t, mat.Equal(before, after))
	})
}

func TestPCAClampEigenvalues(t *testing.T) {
	p := &PCA{eigenTol: 1e-10}

	t.Run("rounding noise is clamped", func(t *testing.T) {
		got, err := p.clampEigenvalues([]float64{4, -1e-14, 1})
		require.NoError(t, err)
		assert.Equal(t, []float64{4, 0, 1}, got)
	})

	t.Run("significantly negative", func(t *testing.T) {
		_, err := p.clampEigenvalues([]float64{4, -0.5})
		var ne *errors.NumericalError
		require.True(t, errors.As(err, &ne))
		assert.Equal(t, []float64{-0.5}, ne.Values)
	})

	t.Run("all zero", func(t *testing.T) {
		got, err := p.clampEigenvalues([]float64{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, got)
		assert.Equal(t, 0.0, sumRatio(got, 0))
	})
}

func TestPCAPersistence(t *testing.T) {
	X := randomMatrix(5, 25, 4)
	pca := NewPCA(2)
	require.NoError(t, pca.Fit(X))
	want, err := pca.Transform(X)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pca.gob.zst")
	require.NoError(t, model.SaveModel(pca, path))

	loaded := &PCA{}
	require.NoError(t, model.LoadModel(loaded, path))
	assert.True(t, loaded.IsFitted())
	assert.Equal(t, 2, loaded.NComponents())

	got, err := loaded.Transform(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))
	assert.Equal(t, pca.ExplainedVarianceRatio(), loaded.ExplainedVarianceRatio())
}
