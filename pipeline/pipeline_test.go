package pipeline

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/dataset"
	"github.com/YuminosukeSato/embedcluster/decomposition"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
	"github.com/YuminosukeSato/embedcluster/preprocessing"
)

const (
	perBlob   = 20
	outlierID = 3 * perBlob
	nSamples  = 3*perBlob + 1
	dim       = 8
)

// syntheticInputs は座標軸方向の3つの塊と1つの外れ値からなる単位ベクトルの画像埋め込みと、
// それぞれにごく小さなノイズを加えたテキスト埋め込みを作る
func syntheticInputs(t *testing.T) *Inputs {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	images := mat.NewDense(nSamples, dim, nil)
	texts := mat.NewDense(nSamples, dim, nil)
	labels := make([]string, nSamples)
	names := make([]string, nSamples)
	blobNames := []string{"dog", "cat", "bird"}

	for i := 0; i < nSamples; i++ {
		row := make([]float64, dim)
		if i == outlierID {
			for j := range row {
				row[j] = -10
			}
			labels[i] = "other"
		} else {
			b := i / perBlob
			for j := range row {
				row[j] = rng.NormFloat64() * 0.01
			}
			row[b] += 10
			labels[i] = blobNames[b]
		}
		images.SetRow(i, row)
		for j := range row {
			row[j] += rng.NormFloat64() * 0.0001
		}
		texts.SetRow(i, row)
		names[i] = "img" + string(rune('a'+i%26)) + ".jpg"
	}

	return &Inputs{
		Images: preprocessing.NormalizeRows(images),
		Texts:  preprocessing.NormalizeRows(texts),
		Records: &dataset.Records{
			ImageNames: names,
			Labels:     labels,
			Comments:   labels,
		},
	}
}

func testConfig(opts ...Option) Config {
	base := []Option{
		WithNClusters(3),
		WithKRange(2, 5),
		WithDBSCAN(0.5, 3),
		WithTopK(5),
	}
	return NewConfig(append(base, opts...)...)
}

func quietRunner(t *testing.T, cfg Config) (*Runner, *log.TestLogger) {
	t.Helper()
	provider, _ := log.NewTestLoggerProvider(log.LevelDebug)
	r, err := NewRunner(cfg, WithLogger(provider.GetLoggerWithName("pipeline")))
	require.NoError(t, err)
	return r, provider.Logger()
}

func TestRunEndToEnd(t *testing.T) {
	in := syntheticInputs(t)
	r, logs := quietRunner(t, testConfig())

	res, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Skipped)

	// reduction
	rows, cols := res.PCA2D.Dims()
	assert.Equal(t, nSamples, rows)
	assert.Equal(t, 2, cols)
	_, cols = res.Reduced.Dims()
	assert.Equal(t, 3, cols)
	assert.Len(t, res.ExplainedVarianceRatio, 3)

	// clustering
	require.NotNil(t, res.KMeansRaw)
	require.NotNil(t, res.KMeansPCA)
	assert.Len(t, res.KMeansRaw.Labels, nSamples)
	assert.Len(t, res.KMeansPCA.Labels, nSamples)
	for _, l := range res.KMeansPCA.Labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
	}

	// hierarchical clustering keeps every tight blob together
	agg := res.Agglomerative
	require.NotNil(t, agg)
	assert.Equal(t, "ward", agg.Linkage)
	require.Len(t, agg.Labels, nSamples)
	assert.Len(t, agg.MergeDistances, nSamples-1)
	for i, l := range agg.Labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
		if i != outlierID && i%perBlob != 0 {
			assert.Equal(t, agg.Labels[i-1], l, "sample %d", i)
		}
	}
	for i := 1; i < len(agg.MergeDistances); i++ {
		assert.LessOrEqual(t, agg.MergeDistances[i-1], agg.MergeDistances[i])
	}

	// silhouette sweep is ordered by k
	require.Len(t, res.Silhouette, 3)
	for i, p := range res.Silhouette {
		assert.Equal(t, 2+i, p.K)
		assert.GreaterOrEqual(t, p.Score, -1.0)
		assert.LessOrEqual(t, p.Score, 1.0)
	}

	// outlier filtering maps back to original sample ids
	out := res.Outliers
	require.NotNil(t, out)
	assert.Len(t, out.TrainIndices, nSamples-13)
	assert.Len(t, out.TestIndices, 13)
	assert.Len(t, out.DBSCANLabels, len(out.TrainIndices))
	assert.Len(t, out.TrainLabels, len(out.TrainIndices))
	assert.Equal(t, len(out.TrainIndices), len(out.KeptIndices)+len(out.NoiseIndices))
	inTrain := false
	for _, i := range out.TrainIndices {
		if i == outlierID {
			inTrain = true
		}
	}
	if inTrain {
		assert.Equal(t, []int{outlierID}, out.NoiseIndices)
	} else {
		assert.Empty(t, out.NoiseIndices)
	}
	require.NotNil(t, out.Clean)
	assert.Len(t, out.Clean.Labels, len(out.KeptIndices))

	// retrieval: text i pairs with image i
	ret := res.Retrieval
	require.NotNil(t, ret)
	assert.Equal(t, 5, ret.TopK)
	require.Len(t, ret.Indices, nSamples)
	for i, idx := range ret.Indices {
		assert.Len(t, idx, 5)
		assert.Equal(t, i, idx[0])
	}
	require.NotNil(t, ret.RecallAtK)
	assert.InDelta(t, 1.0, *ret.RecallAtK, 1e-12)
	assert.InDelta(t, 1.0, *ret.MRR, 1e-12)

	assert.True(t, logs.ContainsMessage("pipeline finished"))
	assert.True(t, logs.ContainsField(log.RunIDKey, res.RunID))
}

func TestRunDeterministic(t *testing.T) {
	in := syntheticInputs(t)
	a, err := Run(context.Background(), testConfig(), in)
	require.NoError(t, err)
	b, err := Run(context.Background(), testConfig(), in)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.KMeansPCA.Labels, b.KMeansPCA.Labels)
	assert.Equal(t, a.Agglomerative, b.Agglomerative)
	assert.Equal(t, a.Silhouette, b.Silhouette)
	assert.Equal(t, a.Outliers, b.Outliers)
}

func TestRunSkipsOptionalStages(t *testing.T) {
	in := syntheticInputs(t)
	in.Texts = nil

	r, logs := quietRunner(t, testConfig(WithDBSCAN(0.5, 1000)))
	res, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Nil(t, res.Retrieval)
	assert.Contains(t, res.Skipped, StageRetrieval)
	assert.Contains(t, res.Skipped, StageRecluster)
	require.NotNil(t, res.Outliers)
	assert.Len(t, res.Outliers.NoiseIndices, len(res.Outliers.TrainIndices))
	assert.Nil(t, res.Outliers.Clean)
	assert.True(t, logs.ContainsMessage("stage skipped"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().stagesSkipped.WithLabelValues(StageRetrieval)))
}

func TestRunLinkages(t *testing.T) {
	in := syntheticInputs(t)
	for _, linkage := range []string{"average", "complete", "single"} {
		t.Run(linkage, func(t *testing.T) {
			res, err := Run(context.Background(), testConfig(WithLinkage(linkage)), in)
			require.NoError(t, err)
			require.NotNil(t, res.Agglomerative)
			assert.Equal(t, linkage, res.Agglomerative.Linkage)
			assert.Len(t, res.Agglomerative.Labels, nSamples)
		})
	}
}

func TestRunStageErrors(t *testing.T) {
	in := syntheticInputs(t)

	t.Run("too many clusters", func(t *testing.T) {
		_, err := Run(context.Background(), testConfig(WithNClusters(nSamples+1)), in)
		var me *errors.ModelError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, StageKMeansRaw, me.Kind)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("too many components", func(t *testing.T) {
		_, err := Run(context.Background(), testConfig(WithNComponents(dim+1)), in)
		var me *errors.ModelError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, StagePCA, me.Kind)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, testConfig(), in)
		var me *errors.ModelError
		require.True(t, errors.As(err, &me))
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("retrieval dimension mismatch", func(t *testing.T) {
		bad := *in
		bad.Texts = mat.NewDense(2, dim+1, nil)
		_, err := Run(context.Background(), testConfig(), &bad)
		var me *errors.ModelError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, StageRetrieval, me.Kind)
		var se *errors.ShapeError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("no inputs", func(t *testing.T) {
		_, err := Run(context.Background(), testConfig(), &Inputs{})
		assert.True(t, errors.Is(err, errors.ErrEmptyData))
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for _, opt := range []Option{
		WithNComponents(0),
		WithNClusters(0),
		WithMaxIter(0),
		WithDBSCAN(0, 3),
		WithDBSCAN(0.5, 0),
		WithTestSize(1),
		WithTopK(0),
		WithKRange(1, 5),
		WithKRange(4, 4),
		WithLinkage("centroid"),
	} {
		_, err := NewRunner(NewConfig(opt))
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve), "%v", err)
	}
}

func TestMetricsExport(t *testing.T) {
	in := syntheticInputs(t)
	r, _ := quietRunner(t, testConfig())
	_, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	m := r.Metrics()
	assert.Equal(t, float64(nSamples), testutil.ToFloat64(m.samples))
	assert.Equal(t, 3, testutil.CollectAndCount(m.silhouette))
	assert.Positive(t, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recall))

	path := filepath.Join(t.TempDir(), "embedcluster.prom")
	require.NoError(t, r.WriteMetrics(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "embedcluster_stage_duration_seconds")
	assert.Contains(t, text, `embedcluster_silhouette_score{k="2"}`)
}

func TestResultOutputs(t *testing.T) {
	in := syntheticInputs(t)
	res, err := Run(context.Background(), testConfig(), in)
	require.NoError(t, err)
	dir := t.TempDir()

	t.Run("json report", func(t *testing.T) {
		path := filepath.Join(dir, "result.json")
		require.NoError(t, res.WriteJSON(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), `"run_id": "`+res.RunID+`"`))
		assert.Contains(t, string(data), `"kmeans_pca"`)
		assert.Contains(t, string(data), `"linkage": "ward"`)
	})

	t.Run("models", func(t *testing.T) {
		paths, err := res.SaveModels(dir)
		require.NoError(t, err)
		assert.Len(t, paths, 5)

		loaded := &decomposition.PCA{}
		require.NoError(t, model.LoadModel(loaded, filepath.Join(dir, "pca.gob.zst")))
		got, err := loaded.Transform(in.Images)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(res.Reduced, got, 1e-12))
	})

	t.Run("plots", func(t *testing.T) {
		paths, err := Render(res, in, filepath.Join(dir, "plots"))
		require.NoError(t, err)
		require.Len(t, paths, 5)
		assert.Equal(t, "agglomerative.png", filepath.Base(paths[2]))
		for _, p := range paths {
			info, err := os.Stat(p)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		}
	})
}

func TestLoad(t *testing.T) {
	in := syntheticInputs(t)
	dir := t.TempDir()
	images := filepath.Join(dir, "images.csv.zst")
	texts := filepath.Join(dir, "texts.json")
	labels := filepath.Join(dir, "labels.csv")
	require.NoError(t, dataset.WriteEmbeddings(images, in.Images))
	require.NoError(t, dataset.WriteEmbeddings(texts, in.Texts))

	var sb strings.Builder
	sb.WriteString("image_name| label| comment\n")
	for i := 0; i < nSamples; i++ {
		sb.WriteString(in.Records.ImageNames[i] + "| " + in.Records.Labels[i] + "| a photo\n")
	}
	require.NoError(t, os.WriteFile(labels, []byte(sb.String()), 0o600))

	cfg := testConfig()
	cfg.ImagesPath, cfg.TextsPath, cfg.LabelsPath = images, texts, labels
	loaded, err := Load(cfg)
	require.NoError(t, err)
	assert.True(t, mat.Equal(in.Images, loaded.Images))
	assert.True(t, mat.Equal(in.Texts, loaded.Texts))
	assert.Equal(t, in.Records.Labels, loaded.Records.Labels)

	t.Run("label count mismatch", func(t *testing.T) {
		short := filepath.Join(dir, "short.csv")
		require.NoError(t, os.WriteFile(short, []byte("image_name|label\na.jpg|dog\n"), 0o600))
		cfg.LabelsPath = short
		_, err := Load(cfg)
		var se *errors.ShapeError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("missing images path", func(t *testing.T) {
		_, err := Load(Config{})
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})
}
