// Package pipeline runs reduction, clustering, outlier filtering and retrieval
// over one set of image embeddings (and optionally paired text embeddings).
//
// Every stage works on fully materialized matrices. Results are reported as row
// indices into the input arrays, so callers can map them back to image names and
// captions without the pipeline copying any of that data.
package pipeline

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/cluster"
	"github.com/YuminosukeSato/embedcluster/dataset"
	"github.com/YuminosukeSato/embedcluster/decomposition"
	"github.com/YuminosukeSato/embedcluster/metrics"
	"github.com/YuminosukeSato/embedcluster/modelselection"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
	"github.com/YuminosukeSato/embedcluster/retrieval"
)

// Stage names used in errors, logs and metric labels.
const (
	StagePCA           = "pca"
	StageKMeansRaw     = "kmeans_raw"
	StageKMeansPCA     = "kmeans_pca"
	StageAgglomerative = "agglomerative"
	StageSilhouette    = "silhouette"
	StageOutliers      = "outliers"
	StageRecluster     = "recluster"
	StageRetrieval     = "retrieval"
)

// Inputs はパイプラインの入力
type Inputs struct {
	// Images は画像埋め込み（必須）
	Images *mat.Dense
	// Texts はテキスト埋め込み（任意）。i行目はImagesのi行目と対応する想定
	Texts *mat.Dense
	// Records は画像名・ラベル・説明文（任意）
	Records *dataset.Records
}

// Load は設定されたパスから入力を読み込む
func Load(cfg Config) (*Inputs, error) {
	if cfg.ImagesPath == "" {
		return nil, errors.NewValidationError("images", "path is required", cfg.ImagesPath)
	}
	logger := log.GetLoggerWithName("pipeline")

	images, err := dataset.LoadEmbeddings(cfg.ImagesPath)
	if err != nil {
		return nil, err
	}
	in := &Inputs{Images: images}
	n, d := images.Dims()
	logger.Info("image embeddings loaded", log.PathKey, cfg.ImagesPath, log.SamplesKey, n, log.FeaturesKey, d)

	if cfg.TextsPath != "" {
		if in.Texts, err = dataset.LoadEmbeddings(cfg.TextsPath); err != nil {
			return nil, err
		}
		tn, _ := in.Texts.Dims()
		logger.Info("text embeddings loaded", log.PathKey, cfg.TextsPath, log.SamplesKey, tn)
	}

	if cfg.LabelsPath != "" {
		if in.Records, err = dataset.LoadRecords(cfg.LabelsPath); err != nil {
			return nil, err
		}
		if in.Records.Len() != n {
			return nil, errors.Wrapf(errors.NewShapeError("pipeline.Load", n, in.Records.Len(), 0),
				"%s does not match %s", cfg.LabelsPath, cfg.ImagesPath)
		}
	}
	return in, nil
}

// Runner は設定とメトリクスを保持してパイプラインを実行する
type Runner struct {
	cfg     Config
	metrics *Metrics
	logger  log.Logger
}

// RunnerOption はRunnerの設定オプション
type RunnerOption func(*Runner)

// WithLogger はロガーを差し替える
func WithLogger(l log.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics はメトリクスの登録先を差し替える
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner は設定を検証してRunnerを作成する
func NewRunner(cfg Config, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("pipeline")
	}
	return r, nil
}

// Metrics は実行中に集めたメトリクスを返す
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// WriteMetrics はメトリクスをtextfile形式で書き出す
func (r *Runner) WriteMetrics(path string) error {
	return r.metrics.WriteTextfile(path)
}

// Run はデフォルトのRunnerでパイプラインを実行する
func Run(ctx context.Context, cfg Config, in *Inputs) (*Result, error) {
	r, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, in)
}

// Run はパイプラインを実行する
//
// 必須の段階で失敗した場合は段階名を持つModelErrorを返す。
// テキスト埋め込みがない、学習用サブセットがすべてノイズ、といった任意の段階の
// 退化ケースは警告を出してResult.Skippedに記録し、処理を続ける。
func (r *Runner) Run(ctx context.Context, in *Inputs) (*Result, error) {
	if in == nil || in.Images == nil {
		return nil, errors.NewEmptyInputError("pipeline.Run")
	}
	n, _ := in.Images.Dims()
	if n == 0 {
		return nil, errors.NewEmptyInputError("pipeline.Run")
	}

	res := &Result{RunID: uuid.NewString()}
	logger := r.logger.With(log.RunIDKey, res.RunID)
	r.metrics.samples.Set(float64(n))
	logger.Info("pipeline started", log.SamplesKey, n, log.RandomSeedKey, r.cfg.Seed)

	steps := []struct {
		name string
		fn   func(context.Context, *Inputs, *Result, log.Logger) error
	}{
		{StagePCA, r.reduce},
		{StageKMeansRaw, r.clusterRaw},
		{StageKMeansPCA, r.clusterReduced},
		{StageAgglomerative, r.clusterHierarchical},
		{StageSilhouette, r.silhouetteSweep},
		{StageOutliers, r.filterOutliers},
		{StageRetrieval, r.retrieve},
	}
	for _, step := range steps {
		if err := r.stage(ctx, step.name, logger, func() error {
			return step.fn(ctx, in, res, logger)
		}); err != nil {
			return nil, err
		}
	}

	logger.Info("pipeline finished", log.ClustersKey, r.cfg.NClusters)
	return res, nil
}

// stage は1段階を計測付きで実行し、失敗をModelErrorに包む
func (r *Runner) stage(ctx context.Context, name string, logger log.Logger, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewModelError("pipeline.Run", name, err)
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.metrics.stageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		r.metrics.stageErrors.WithLabelValues(name).Inc()
		logger.Error("stage failed", err, log.StageKey, name)
		return errors.NewModelError("pipeline.Run", name, err)
	}
	logger.Debug("stage finished", log.StageKey, name, log.DurationMsKey, elapsed.Milliseconds())
	return nil
}

func (r *Runner) skip(res *Result, logger log.Logger, stage, reason string) {
	res.skip(stage, reason)
	r.metrics.stagesSkipped.WithLabelValues(stage).Inc()
	logger.Warn("stage skipped", log.StageKey, stage, "reason", reason)
}

func (r *Runner) newKMeans(k int) *cluster.KMeans {
	return cluster.NewKMeans(
		cluster.WithNClusters(k),
		cluster.WithMaxIter(r.cfg.MaxIter),
		cluster.WithSeed(r.cfg.Seed),
	)
}

func (r *Runner) reduce(_ context.Context, in *Inputs, res *Result, logger log.Logger) error {
	pca2 := decomposition.NewPCA(2)
	coords2, err := pca2.FitTransform(in.Images)
	if err != nil {
		return err
	}
	pca := decomposition.NewPCA(r.cfg.NComponents)
	reduced, err := pca.FitTransform(in.Images)
	if err != nil {
		return err
	}

	res.PCA2D, res.Reduced = coords2, reduced
	res.ExplainedVarianceRatio2D = pca2.ExplainedVarianceRatio()
	res.ExplainedVarianceRatio = pca.ExplainedVarianceRatio()
	res.Models.PCA2D, res.Models.PCA = pca2, pca
	logger.Info("embeddings reduced",
		log.ComponentsKey, r.cfg.NComponents,
		log.ExplainedVarianceKey, res.ExplainedVarianceRatio,
	)
	return nil
}

func (r *Runner) clusterRaw(_ context.Context, in *Inputs, res *Result, _ log.Logger) error {
	km := r.newKMeans(r.cfg.NClusters)
	if err := km.Fit(in.Images); err != nil {
		return err
	}
	res.KMeansRaw = newClusterReport(km)
	res.Models.KMeansRaw = km
	r.recordKMeans(StageKMeansRaw, km)
	return nil
}

func (r *Runner) clusterReduced(_ context.Context, _ *Inputs, res *Result, _ log.Logger) error {
	km := r.newKMeans(r.cfg.NClusters)
	if err := km.Fit(res.Reduced); err != nil {
		return err
	}
	res.KMeansPCA = newClusterReport(km)
	res.Models.KMeansPCA = km
	r.recordKMeans(StageKMeansPCA, km)
	return nil
}

// clusterHierarchical はPCA空間で階層的クラスタリングを行い、K-Meansと同じクラスタ数で切る
func (r *Runner) clusterHierarchical(_ context.Context, _ *Inputs, res *Result, _ log.Logger) error {
	linkage, err := cluster.ParseLinkage(r.cfg.Linkage)
	if err != nil {
		return err
	}
	ag := cluster.NewAgglomerative(r.cfg.NClusters, cluster.WithLinkage(linkage))
	labels, err := ag.FitPredict(res.Reduced)
	if err != nil {
		return err
	}
	res.Agglomerative = &HierarchicalReport{
		Linkage:        linkage.String(),
		Labels:         labels,
		MergeDistances: ag.MergeDistances(),
	}
	return nil
}

func (r *Runner) recordKMeans(name string, km *cluster.KMeans) {
	r.metrics.inertia.WithLabelValues(name).Set(km.Inertia())
	r.metrics.iterations.WithLabelValues(name).Set(float64(km.NIter()))
}

// silhouetteSweep はk = KMin..KMax-1 のモデルを並行に学習してスコアを求める。
// 各kは独立したインスタンスなので状態は共有しない
func (r *Runner) silhouetteSweep(ctx context.Context, _ *Inputs, res *Result, logger log.Logger) error {
	n, _ := res.Reduced.Dims()
	hi := r.cfg.KMax
	if hi > n {
		// シルエット係数にはk <= n-1が必要
		hi = n
	}
	if hi <= r.cfg.KMin {
		r.skip(res, logger, StageSilhouette, "too few samples for the requested k range")
		return nil
	}

	points := make([]SilhouettePoint, hi-r.cfg.KMin)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for k := r.cfg.KMin; k < hi; k++ {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			labels, err := r.newKMeans(k).FitPredict(res.Reduced)
			if err != nil {
				return errors.Wrapf(err, "k=%d", k)
			}
			score, err := metrics.SilhouetteScore(res.Reduced, labels)
			if err != nil {
				return errors.Wrapf(err, "k=%d", k)
			}
			points[k-r.cfg.KMin] = SilhouettePoint{K: k, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range points {
		r.metrics.silhouette.WithLabelValues(strconv.Itoa(p.K)).Set(p.Score)
		logger.Info("silhouette", log.ClustersKey, p.K, log.ScoreKey, p.Score)
	}
	res.Silhouette = points
	return nil
}

// filterOutliers は学習用サブセットにDBSCANをかけてノイズを除き、残りを再クラスタリングする
func (r *Runner) filterOutliers(_ context.Context, _ *Inputs, res *Result, logger log.Logger) error {
	n, _ := res.Reduced.Dims()
	split, err := modelselection.TrainTestSplit(n, r.cfg.TestSize, r.cfg.Seed, true)
	if err != nil {
		return err
	}
	train, err := modelselection.TakeRows(res.Reduced, split.Train)
	if err != nil {
		return err
	}
	trainLabels, err := res.Models.KMeansPCA.Predict(train)
	if err != nil {
		return err
	}

	dbscan := cluster.NewDBSCAN(cluster.WithEps(r.cfg.Eps), cluster.WithMinSamples(r.cfg.MinSamples))
	labels, err := dbscan.FitPredict(train)
	if err != nil {
		return err
	}

	report := &OutlierReport{
		TrainIndices: split.Train,
		TestIndices:  split.Test,
		TrainLabels:  trainLabels,
		DBSCANLabels: labels,
		NClusters:    dbscan.NClusters(),
	}
	res.Outliers = report
	for i, l := range labels {
		if l == cluster.NoiseLabel {
			report.NoiseIndices = append(report.NoiseIndices, split.Train[i])
		}
	}
	r.metrics.noise.Set(float64(len(report.NoiseIndices)))

	clean, kept, err := cluster.FilterNoise(train, labels)
	if errors.Is(err, errors.ErrAllNoise) {
		r.skip(res, logger, StageRecluster, "every training sample was labelled as noise")
		return nil
	}
	if err != nil {
		return err
	}
	report.KeptIndices = make([]int, len(kept))
	for j, i := range kept {
		report.KeptIndices[j] = split.Train[i]
	}
	logger.Info("outliers removed",
		log.SamplesKey, len(split.Train),
		log.NoiseKey, len(report.NoiseIndices),
	)

	if len(kept) < r.cfg.NClusters {
		r.skip(res, logger, StageRecluster, "fewer clean samples than clusters")
		return nil
	}
	return r.stageNested(StageRecluster, logger, func() error {
		km := r.newKMeans(r.cfg.NClusters)
		if err := km.Fit(clean); err != nil {
			return err
		}
		report.Clean = newClusterReport(km)
		res.Models.KMeansClean = km
		r.recordKMeans(StageRecluster, km)
		return nil
	})
}

// stageNested は段階内の下位処理を計測する。失敗時のラップは外側の段階が行う
func (r *Runner) stageNested(name string, logger log.Logger, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.stageErrors.WithLabelValues(name).Inc()
		return errors.Wrap(err, name)
	}
	logger.Debug("stage finished", log.StageKey, name)
	return nil
}

func (r *Runner) retrieve(_ context.Context, in *Inputs, res *Result, logger log.Logger) error {
	if in.Texts == nil {
		r.skip(res, logger, StageRetrieval, "no text embeddings")
		return nil
	}

	retriever := retrieval.NewRetriever(retrieval.WithNormalize(r.cfg.NormalizeRetrieval))
	ranked, err := retriever.Rank(in.Texts, in.Images, r.cfg.TopK)
	if err != nil {
		return err
	}
	report := &RetrievalReport{TopK: len(ranked[0]), Indices: ranked}
	res.Retrieval = report

	nt, _ := in.Texts.Dims()
	ni, _ := in.Images.Dims()
	if nt != ni {
		logger.Warn("text and image counts differ, retrieval metrics not computed",
			log.QueriesKey, nt, log.SamplesKey, ni)
		return nil
	}

	relevant := make([]int, nt)
	for i := range relevant {
		relevant[i] = i
	}
	recall, err := metrics.RecallAtK(ranked, relevant, r.cfg.TopK)
	if err != nil {
		return err
	}
	mrr, err := metrics.MeanReciprocalRank(ranked, relevant)
	if err != nil {
		return err
	}
	report.RecallAtK, report.MRR = &recall, &mrr
	r.metrics.recall.Set(recall)
	r.metrics.mrr.Set(mrr)
	logger.Info("retrieval evaluated", log.TopKKey, report.TopK, log.ScoreKey, recall, "mrr", mrr)
	return nil
}
