package cluster

import (
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

var _ model.Clusterer = (*KMeans)(nil)

// blobs はcenters周辺に各perCenter個の点を生成する
func blobs(seed int64, centers [][]float64, perCenter int, spread float64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	d := len(centers[0])
	X := mat.NewDense(len(centers)*perCenter, d, nil)
	row := 0
	for _, c := range centers {
		for i := 0; i < perCenter; i++ {
			for j := 0; j < d; j++ {
				X.Set(row, j, c[j]+rng.NormFloat64()*spread)
			}
			row++
		}
	}
	return X
}

var pairs = mat.NewDense(4, 2, []float64{
	0, 0,
	0, 1,
	10, 0,
	10, 1,
})

func assertPairsGrouped(t *testing.T, labels []int) {
	t.Helper()
	require.Len(t, labels, 4)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[2], labels[3])
	assert.NotEqual(t, labels[0], labels[2])
}

func TestKMeansPairScenarioInitOrder(t *testing.T) {
	tests := []struct {
		name    string
		init    [][]float64
		inertia float64
	}{
		{"left first", [][]float64{{0, 0}, {10, 1}}, 1},
		{"right first", [][]float64{{10, 1}, {0, 0}}, 1},
		{"crossed", [][]float64{{0, 1}, {10, 0}}, 1},
		{"crossed reversed", [][]float64{{10, 0}, {0, 1}}, 1},
		// 同じペアから2点を選ぶとLloyd法は横方向の分割で止まる
		{"same pair left", [][]float64{{0, 0}, {0, 1}}, 100},
		{"same pair right", [][]float64{{10, 1}, {10, 0}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := NewKMeans(WithNClusters(2), WithMaxIter(10), WithInitCenters(tt.init))
			require.NoError(t, km.Fit(pairs))
			assert.Equal(t, StateConverged, km.State())
			assert.InDelta(t, tt.inertia, km.Inertia(), 1e-12)

			labels := km.Labels()
			if tt.inertia > 1 {
				assert.Equal(t, labels[0], labels[2])
				assert.Equal(t, labels[1], labels[3])
				assert.NotEqual(t, labels[0], labels[1])
				return
			}
			assertPairsGrouped(t, labels)
			centers := km.ClusterCenters()
			assert.InDeltaSlice(t, []float64{0, 0.5}, centers[labels[0]], 1e-12)
			assert.InDeltaSlice(t, []float64{10, 0.5}, centers[labels[2]], 1e-12)
		})
	}
}

func TestKMeansPairScenarioDefaults(t *testing.T) {
	km := NewKMeans(WithNClusters(2), WithMaxIter(10))
	assert.Equal(t, DefaultNInit, km.GetParams()["n_init"])
	assert.Equal(t, int64(42), km.GetParams()["seed"])

	labels, err := km.FitPredict(pairs)
	require.NoError(t, err)
	assertPairsGrouped(t, labels)
	assert.InDelta(t, 1.0, km.Inertia(), 1e-12)

	for seed := int64(0); seed < 20; seed++ {
		km := NewKMeans(WithNClusters(2), WithMaxIter(10), WithSeed(seed))
		labels, err := km.FitPredict(pairs)
		require.NoError(t, err)
		assertPairsGrouped(t, labels)
		assert.LessOrEqual(t, km.NIter(), 10)
	}
}

func TestKMeansSingleInitCanStopInLocalOptimum(t *testing.T) {
	// 1回だけの乱数初期化では同じペアから初期中心を引くことがある
	local := 0
	for seed := int64(0); seed < 30; seed++ {
		km := NewKMeans(WithNClusters(2), WithMaxIter(10), WithSeed(seed), WithNInit(1))
		require.NoError(t, km.Fit(pairs))
		if km.Inertia() > 1 {
			local++
		}
	}
	assert.Positive(t, local)
}

func TestKMeansSeedIdempotent(t *testing.T) {
	X := blobs(1, [][]float64{{0, 0, 0}, {5, 5, 5}, {-5, 5, 0}, {5, -5, 2}}, 15, 0.8)

	a := NewKMeans(WithNClusters(4), WithSeed(42))
	require.NoError(t, a.Fit(X))
	centers, labels := a.ClusterCenters(), a.Labels()

	require.NoError(t, a.Fit(X))
	assert.Equal(t, centers, a.ClusterCenters())
	assert.Equal(t, labels, a.Labels())

	b := NewKMeans(WithNClusters(4), WithSeed(7))
	require.NoError(t, b.FitWithSeed(X, 42))
	assert.Equal(t, centers, b.ClusterCenters())
	assert.Equal(t, labels, b.Labels())
	assert.Equal(t, int64(7), b.GetParams()["seed"])
}

func TestKMeansPredict(t *testing.T) {
	X := blobs(2, [][]float64{{0, 0}, {8, 8}, {-8, 8}}, 20, 1.0)
	km := NewKMeans(WithNClusters(3), WithSeed(3), WithNInit(5))
	require.NoError(t, km.Fit(X))

	pred, err := km.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, km.Labels(), pred)
	for _, l := range pred {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
	}

	dist, err := km.Transform(X)
	require.NoError(t, err)
	r, c := dist.Dims()
	assert.Equal(t, 60, r)
	assert.Equal(t, 3, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.LessOrEqual(t, dist.At(i, pred[i]), dist.At(i, j))
		}
	}
}

func TestKMeansConvergedCentersAreMeans(t *testing.T) {
	X := blobs(4, [][]float64{{0, 0}, {6, 0}}, 25, 0.5)
	km := NewKMeans(WithNClusters(2), WithSeed(1), WithMaxIter(100))
	require.NoError(t, km.Fit(X))
	require.Equal(t, StateConverged, km.State())
	assert.LessOrEqual(t, km.NIter(), 100)

	centers := km.ClusterCenters()
	labels := km.Labels()
	for c := range centers {
		sum := make([]float64, 2)
		n := 0
		for i, l := range labels {
			if l != c {
				continue
			}
			sum[0] += X.At(i, 0)
			sum[1] += X.At(i, 1)
			n++
		}
		require.Positive(t, n)
		assert.InDelta(t, sum[0]/float64(n), centers[c][0], 1e-6)
		assert.InDelta(t, sum[1]/float64(n), centers[c][1], 1e-6)
	}
}

func TestKMeansIterationLimitWarns(t *testing.T) {
	var mu sync.Mutex
	var warnings []error
	errors.SetWarningHandler(func(w error) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, w)
	})
	defer errors.SetWarningHandler(nil)

	X := blobs(5, [][]float64{{0, 0}, {3, 3}, {6, 0}}, 30, 1.5)
	km := NewKMeans(WithNClusters(3), WithMaxIter(1), WithSeed(9))
	require.NoError(t, km.Fit(X))

	assert.Equal(t, 1, km.NIter())
	assert.Equal(t, StateIterationLimitReached, km.State())
	require.Len(t, warnings, 1)
	var cw *errors.ConvergenceWarning
	require.True(t, errors.As(warnings[0], &cw))
	assert.Equal(t, "KMeans", cw.Algorithm)
	assert.Equal(t, 1, cw.Iterations)
}

func TestKMeansReseedStrategies(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		0, 0,
		1, 0,
		10, 0,
		0, 0.1,
	})
	init := [][]float64{{0, 0}, {100, 100}}

	t.Run("farthest point", func(t *testing.T) {
		km := NewKMeans(WithNClusters(2), WithInitCenters(init), WithReseedStrategy(FarthestPointReseed{}))
		require.NoError(t, km.Fit(X))
		assert.Equal(t, []int{0, 0, 1, 0}, km.Labels())
		assert.InDeltaSlice(t, []float64{10, 0}, km.ClusterCenters()[1], 1e-12)
		assert.Equal(t, 1, km.NReseeded())
	})

	t.Run("keep centroid", func(t *testing.T) {
		km := NewKMeans(WithNClusters(2), WithInitCenters(init), WithReseedStrategy(KeepCentroidReseed{}))
		require.NoError(t, km.Fit(X))
		assert.Equal(t, []float64{100, 100}, km.ClusterCenters()[1])
		assert.Equal(t, []int{0, 0, 0, 0}, km.Labels())
		assert.Equal(t, StateConverged, km.State())
	})

	t.Run("random row is deterministic", func(t *testing.T) {
		a := NewKMeans(WithNClusters(2), WithInitCenters(init), WithSeed(5))
		b := NewKMeans(WithNClusters(2), WithInitCenters(init), WithSeed(5))
		require.NoError(t, a.Fit(X))
		require.NoError(t, b.Fit(X))
		assert.Equal(t, a.ClusterCenters(), b.ClusterCenters())
		assert.GreaterOrEqual(t, a.NReseeded(), 1)
	})
}

func TestKMeansErrors(t *testing.T) {
	X := blobs(6, [][]float64{{0, 0}, {5, 5}}, 3, 0.1)

	t.Run("predict before fit", func(t *testing.T) {
		_, err := NewKMeans(WithNClusters(2)).Predict(X)
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))
		assert.Equal(t, StateUnfitted, NewKMeans().State())
	})

	t.Run("feature mismatch", func(t *testing.T) {
		km := NewKMeans(WithNClusters(2))
		require.NoError(t, km.Fit(X))
		_, err := km.Predict(mat.NewDense(1, 3, []float64{1, 2, 3}))
		var se *errors.ShapeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 2, se.Expected)
	})

	t.Run("invalid hyperparameters", func(t *testing.T) {
		for _, opts := range [][]KMeansOption{
			{WithNClusters(0)},
			{WithNClusters(7)},
			{WithNClusters(2), WithMaxIter(0)},
			{WithNClusters(2), WithTol(-1)},
			{WithNClusters(2), WithNInit(0)},
		} {
			err := NewKMeans(opts...).Fit(X)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "%v", err)
		}
	})

	t.Run("init centers shape", func(t *testing.T) {
		err := NewKMeans(WithNClusters(2), WithInitCenters([][]float64{{0, 0, 0}, {1, 1, 1}})).Fit(X)
		var se *errors.ShapeError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("empty", func(t *testing.T) {
		err := NewKMeans().Fit(&mat.Dense{})
		assert.True(t, errors.Is(err, errors.ErrEmptyData))
	})

	t.Run("non-finite", func(t *testing.T) {
		err := NewKMeans(WithNClusters(1)).Fit(mat.NewDense(2, 1, []float64{1, math.NaN()}))
		var ne *errors.NumericalError
		assert.True(t, errors.As(err, &ne))
	})

	t.Run("failed fit keeps previous model", func(t *testing.T) {
		km := NewKMeans(WithNClusters(2))
		require.NoError(t, km.Fit(X))
		centers := km.ClusterCenters()

		require.Error(t, km.Fit(mat.NewDense(1, 2, []float64{0, 0})))
		assert.Equal(t, centers, km.ClusterCenters())
		assert.True(t, km.IsFitted())
	})
}

func TestKMeansPersistence(t *testing.T) {
	X := blobs(8, [][]float64{{0, 0}, {5, 5}}, 10, 0.3)
	km := NewKMeans(WithNClusters(2), WithReseedStrategy(FarthestPointReseed{}))
	require.NoError(t, km.Fit(X))

	path := filepath.Join(t.TempDir(), "kmeans.gob")
	require.NoError(t, model.SaveModel(km, path))

	loaded := &KMeans{}
	require.NoError(t, model.LoadModel(loaded, path))
	assert.Equal(t, km.ClusterCenters(), loaded.ClusterCenters())
	assert.Equal(t, km.State(), loaded.State())
	assert.Equal(t, "farthest_point", loaded.GetParams()["reseed"])

	want, err := km.Predict(X)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
