package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

var (
	_ NoiseLabeler  = (*DBSCAN)(nil)
	_ model.Labeler = (*DBSCAN)(nil)
)

// tightWithOutlier は密集した10点と遠く離れた1点を返す。外れ値は6番目に置く。
func tightWithOutlier() *mat.Dense {
	X := mat.NewDense(11, 2, nil)
	row := 0
	for i := 0; i < 10; i++ {
		if row == 5 {
			X.SetRow(row, []float64{100, 100})
			row++
		}
		X.SetRow(row, []float64{float64(i) * 0.05, float64(i%2) * 0.05})
		row++
	}
	return X
}

func TestOutlierFilterRemovesFarPoint(t *testing.T) {
	X := tightWithOutlier()
	f := NewOutlierFilter(NewDBSCAN(WithEps(0.7), WithMinSamples(3)))

	res, err := f.Filter(X)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 6, 7, 8, 9, 10}, res.Kept)
	assert.Equal(t, 1, res.NNoise)
	assert.Equal(t, NoiseLabel, res.Labels[5])

	r, c := res.Filtered.Dims()
	require.Equal(t, 10, r)
	require.Equal(t, 2, c)
	for dst, src := range res.Kept {
		assert.Equal(t, mat.Row(nil, src, X), mat.Row(nil, dst, res.Filtered))
	}
}

func TestFilterNoise(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	t.Run("keeps order", func(t *testing.T) {
		filtered, kept, err := FilterNoise(X, []int{0, NoiseLabel, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2, 3}, kept)
		assert.Equal(t, []float64{1, 3, 4}, mat.Col(nil, 0, filtered))
	})

	t.Run("no noise", func(t *testing.T) {
		filtered, kept, err := FilterNoise(X, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, kept)
		assert.True(t, mat.Equal(X, filtered))
	})

	t.Run("label count mismatch", func(t *testing.T) {
		_, _, err := FilterNoise(X, []int{0, 0})
		var se *errors.ShapeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 4, se.Expected)
		assert.Equal(t, 2, se.Got)
		assert.Equal(t, 0, se.Axis)
	})

	t.Run("everything noise", func(t *testing.T) {
		_, _, err := FilterNoise(X, []int{-1, -1, -1, -1})
		var ne *errors.NumericalError
		assert.True(t, errors.As(err, &ne))
		assert.True(t, errors.Is(err, errors.ErrAllNoise))
		assert.True(t, errors.Is(err, errors.ErrEmptyData))
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := FilterNoise(&mat.Dense{}, nil)
		assert.True(t, errors.Is(err, errors.ErrEmptyData))
	})
}

func TestDBSCANBorderPointJoinsCluster(t *testing.T) {
	// p0は自身がコアではないので最初はノイズと判定されるが、p1から到達される
	X := mat.NewDense(4, 1, []float64{0, 0.5, 1, 10})
	d := NewDBSCAN(WithEps(0.6), WithMinSamples(3))

	labels, err := d.FitPredict(X)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, NoiseLabel}, labels)
	assert.Equal(t, []int{1}, d.CoreSampleIndices())
	assert.Equal(t, 1, d.NClusters())
	assert.True(t, d.IsFitted())
}

func TestDBSCANDiscoveryOrder(t *testing.T) {
	X := mat.NewDense(7, 1, []float64{
		20, 20.1, 20.2, // 先に見つかる
		0, 0.1, 0.2,
		50,
	})
	labels, err := NewDBSCAN(WithEps(0.15), WithMinSamples(2)).FitPredict(X)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, NoiseLabel}, labels)
}

func TestDBSCANEpsIsInclusive(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 0.5})
	labels, err := NewDBSCAN(WithEps(0.5), WithMinSamples(2)).FitPredict(X)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, labels)
}

func TestDBSCANValidation(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	for _, d := range []*DBSCAN{
		NewDBSCAN(WithEps(0)),
		NewDBSCAN(WithEps(-1)),
		NewDBSCAN(WithMinSamples(0)),
	} {
		err := d.Fit(X)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve), d.String())
	}

	err := NewDBSCAN().Fit(&mat.Dense{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}
