// Package cluster はK-meansクラスタリングとDBSCANによる外れ値除去を提供します。
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// FitState はK-meansの学習状態
type FitState int

const (
	// StateUnfitted は未学習
	StateUnfitted FitState = iota
	// StateFitting は学習中
	StateFitting
	// StateConverged は中心の移動が許容誤差以下になって終了した
	StateConverged
	// StateIterationLimitReached は最大イテレーション数に達して終了した
	StateIterationLimitReached
)

func (s FitState) String() string {
	switch s {
	case StateFitting:
		return "fitting"
	case StateConverged:
		return "converged"
	case StateIterationLimitReached:
		return "iteration_limit_reached"
	default:
		return "unfitted"
	}
}

// DefaultTol は収束判定に使う座標ごとの許容誤差
const DefaultTol = 1e-8

// DefaultNInit は乱数初期化での実行回数の既定値
const DefaultNInit = 10

// KMeans はLloyd法によるK-meansクラスタリング
//
// 初期中心はシードから作った乱数で行インデックスの順列を作り、その先頭k行を使う。
// これをnInit回（既定10回）繰り返して慣性が最小の結果を採用する。
// 各Fitは新しい乱数ストリームを作るため、同じシード・同じデータなら結果は同一。
type KMeans struct {
	model.BaseEstimator

	// ハイパーパラメータ
	nClusters   int            // クラスタ数
	maxIter     int            // 最大イテレーション数
	seed        int64          // 乱数シード
	tol         float64        // 収束判定の許容誤差（0なら完全一致）
	nInit       int            // 異なる初期化での実行回数
	initCenters [][]float64    // 明示的な初期中心（nilなら乱数で選ぶ）
	reseed      ReseedStrategy // 空クラスタの再初期化方法

	// 学習パラメータ
	clusterCenters_ [][]float64 // クラスタ中心（nClusters x nFeatures）
	labels_         []int       // 各サンプルのクラスタラベル
	inertia_        float64     // クラスタ内平方和誤差
	nIter_          int         // 実行されたイテレーション数
	nReseeded_      int         // 再初期化された空クラスタの延べ数
	state           FitState

	// 内部状態
	mu     sync.RWMutex
	logger log.Logger
}

// KMeansOption はKMeansの設定オプション
type KMeansOption func(*KMeans)

// WithNClusters はクラスタ数を設定
func WithNClusters(n int) KMeansOption {
	return func(k *KMeans) {
		k.nClusters = n
	}
}

// WithMaxIter は最大イテレーション数を設定
func WithMaxIter(maxIter int) KMeansOption {
	return func(k *KMeans) {
		k.maxIter = maxIter
	}
}

// WithSeed は乱数シードを設定
func WithSeed(seed int64) KMeansOption {
	return func(k *KMeans) {
		k.seed = seed
	}
}

// WithTol は収束判定の許容誤差を設定
func WithTol(tol float64) KMeansOption {
	return func(k *KMeans) {
		k.tol = tol
	}
}

// WithNInit は異なる初期化での実行回数を設定。最も慣性の小さい結果を採用する。
// WithInitCenters を指定した場合は1回だけ実行する。
func WithNInit(n int) KMeansOption {
	return func(k *KMeans) {
		k.nInit = n
	}
}

// WithInitCenters は初期中心を明示的に与える。指定した場合は乱数による初期化を行わない。
func WithInitCenters(centers [][]float64) KMeansOption {
	return func(k *KMeans) {
		k.initCenters = make([][]float64, len(centers))
		for i := range centers {
			k.initCenters[i] = append([]float64(nil), centers[i]...)
		}
	}
}

// WithReseedStrategy は空クラスタの再初期化方法を設定
func WithReseedStrategy(s ReseedStrategy) KMeansOption {
	return func(k *KMeans) {
		k.reseed = s
	}
}

// WithLogger はロガーを差し替える
func WithLogger(l log.Logger) KMeansOption {
	return func(k *KMeans) {
		k.logger = l
	}
}

// NewKMeans は新しいKMeansを作成
//
// 使用例:
//
//	km := cluster.NewKMeans(cluster.WithNClusters(6), cluster.WithSeed(42))
//	labels, err := km.FitPredict(X)
func NewKMeans(options ...KMeansOption) *KMeans {
	k := &KMeans{
		nClusters: 8,
		maxIter:   100,
		seed:      42,
		tol:       DefaultTol,
		nInit:     DefaultNInit,
		reseed:    RandomRowReseed{},
	}
	for _, opt := range options {
		opt(k)
	}
	if k.reseed == nil {
		k.reseed = RandomRowReseed{}
	}
	if k.logger == nil {
		k.logger = log.GetLoggerWithName("cluster.kmeans")
	}
	k.logger = k.logger.With(log.ModelNameKey, "KMeans")
	return k
}

// Fit は設定済みのシードでモデルを訓練
func (k *KMeans) Fit(X mat.Matrix) error {
	return k.FitWithSeed(X, k.seed)
}

// FitWithSeed は指定したシードで訓練する。設定済みのシードは変更しない。
//
// 失敗した場合は以前の学習状態を保持する。
func (k *KMeans) FitWithSeed(X mat.Matrix, seed int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	rows, cols := X.Dims()
	if err := k.validate(rows, cols); err != nil {
		return err
	}
	if err := errors.CheckMatrix("KMeans.Fit", X, 0); err != nil {
		return err
	}

	prevState := k.state
	k.state = StateFitting
	result, err := k.lloyd(toRows(X), seed)
	if err != nil {
		k.state = prevState
		return err
	}

	k.clusterCenters_ = result.centers
	k.labels_ = result.labels
	k.inertia_ = result.inertia
	k.nIter_ = result.nIter
	k.nReseeded_ = result.nReseeded
	k.state = result.state
	k.SetDimensions(rows, cols)
	k.SetFitted()

	if result.state == StateIterationLimitReached {
		errors.Warn(errors.NewConvergenceWarning("KMeans", result.nIter,
			fmt.Sprintf("centroids still moving by more than tol=%g", k.tol)))
	}
	k.logger.Info("kmeans fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.ClustersKey, k.nClusters,
		log.IterationKey, result.nIter,
		log.StateKey, result.state.String(),
		log.InertiaKey, result.inertia,
		log.ReseedKey, result.nReseeded,
		log.RandomSeedKey, seed,
	)
	return nil
}

func (k *KMeans) validate(rows, cols int) error {
	if rows == 0 || cols == 0 {
		return errors.NewEmptyInputError("KMeans.Fit")
	}
	if k.nClusters < 1 {
		return errors.NewValidationError("n_clusters", "must be at least 1", k.nClusters)
	}
	if k.nClusters > rows {
		return errors.NewValidationError("n_clusters", fmt.Sprintf("must not exceed the number of samples (%d)", rows), k.nClusters)
	}
	if k.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", k.maxIter)
	}
	if k.tol < 0 || math.IsNaN(k.tol) {
		return errors.NewValidationError("tol", "must be non-negative", k.tol)
	}
	if k.nInit < 1 {
		return errors.NewValidationError("n_init", "must be at least 1", k.nInit)
	}
	if k.initCenters != nil {
		if len(k.initCenters) != k.nClusters {
			return errors.NewShapeError("KMeans.Fit", k.nClusters, len(k.initCenters), 0)
		}
		for _, c := range k.initCenters {
			if len(c) != cols {
				return errors.NewShapeError("KMeans.Fit", cols, len(c), 1)
			}
		}
	}
	return nil
}

type lloydResult struct {
	centers   [][]float64
	labels    []int
	inertia   float64
	nIter     int
	nReseeded int
	state     FitState
}

// lloyd はnInit回の実行から慣性が最小のものを選ぶ。
// すべての実行は同じ乱数ストリームを順に消費する。
func (k *KMeans) lloyd(X [][]float64, seed int64) (*lloydResult, error) {
	rng := rand.New(rand.NewSource(seed))

	runs := k.nInit
	if k.initCenters != nil {
		runs = 1
	}
	var best *lloydResult
	for run := 0; run < runs; run++ {
		var centers [][]float64
		if k.initCenters != nil {
			centers = make([][]float64, k.nClusters)
			for c := range k.initCenters {
				centers[c] = append([]float64(nil), k.initCenters[c]...)
			}
		} else {
			centers = make([][]float64, k.nClusters)
			for c, idx := range rng.Perm(len(X))[:k.nClusters] {
				centers[c] = append([]float64(nil), X[idx]...)
			}
		}

		res, err := k.singleRun(X, centers, rng)
		if err != nil {
			return nil, err
		}
		if best == nil || res.inertia < best.inertia {
			best = res
		}
	}
	return best, nil
}

// singleRun は割り当てと中心更新を収束または上限まで繰り返す
func (k *KMeans) singleRun(X [][]float64, centers [][]float64, rng *rand.Rand) (*lloydResult, error) {
	n, d := len(X), len(X[0])

	res := &lloydResult{state: StateIterationLimitReached, nIter: k.maxIter}
	labels := make([]int, n)
	for iter := 1; iter <= k.maxIter; iter++ {
		for i, x := range X {
			labels[i], _ = nearestCenter(x, centers)
		}

		next, counts := computeMeans(X, labels, k.nClusters, d)
		for c := 0; c < k.nClusters; c++ {
			if counts[c] > 0 {
				continue
			}
			next[c] = k.reseed.Reseed(ReseedInput{
				Cluster: c,
				X:       X,
				Labels:  labels,
				Centers: centers,
				Rng:     rng,
			})
			res.nReseeded++
		}

		for c := range next {
			if err := errors.CheckVector("KMeans.Fit", next[c], iter); err != nil {
				return nil, err
			}
		}

		if withinTol(centers, next, k.tol) {
			res.state = StateConverged
			res.nIter = iter
			break
		}
		centers = next

		k.logger.Debug("kmeans iteration", log.IterationKey, iter)
	}

	res.centers = centers
	res.labels = make([]int, n)
	for i, x := range X {
		var dist float64
		res.labels[i], dist = nearestCenter(x, centers)
		res.inertia += dist
	}
	return res, nil
}

// computeMeans は各クラスタの平均を計算する。空クラスタはnilのまま返す。
func computeMeans(X [][]float64, labels []int, k, d int) ([][]float64, []int) {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i, x := range X {
		c := labels[i]
		if sums[c] == nil {
			sums[c] = make([]float64, d)
		}
		for j, v := range x {
			sums[c][j] += v
		}
		counts[c]++
	}
	for c := range sums {
		if counts[c] == 0 {
			continue
		}
		inv := 1 / float64(counts[c])
		for j := range sums[c] {
			sums[c][j] *= inv
		}
	}
	return sums, counts
}

// withinTol はすべての座標の移動量がtol以下かを判定
func withinTol(prev, next [][]float64, tol float64) bool {
	for c := range prev {
		for j := range prev[c] {
			if math.Abs(prev[c][j]-next[c][j]) > tol {
				return false
			}
		}
	}
	return true
}

// Predict は各サンプルに最も近いクラスタ中心のインデックスを返す
func (k *KMeans) Predict(X mat.Matrix) ([]int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.CheckFitted("KMeans", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := k.CheckFeatures("KMeans.Predict", cols); err != nil {
		return nil, err
	}

	labels := make([]int, rows)
	sample := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(sample, i, X)
		labels[i], _ = nearestCenter(sample, k.clusterCenters_)
	}
	return labels, nil
}

// FitPredict は学習と予測を同時に行う
func (k *KMeans) FitPredict(X mat.Matrix) ([]int, error) {
	if err := k.Fit(X); err != nil {
		return nil, err
	}
	return k.Labels(), nil
}

// Transform はデータを各クラスタ中心との距離に変換
func (k *KMeans) Transform(X mat.Matrix) (*mat.Dense, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := k.CheckFitted("KMeans", "Transform"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := k.CheckFeatures("KMeans.Transform", cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.NewEmptyInputError("KMeans.Transform")
	}

	distances := mat.NewDense(rows, k.nClusters, nil)
	sample := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(sample, i, X)
		for c, center := range k.clusterCenters_ {
			distances.Set(i, c, math.Sqrt(squaredDistance(sample, center)))
		}
	}
	return distances, nil
}

// State は学習状態を返す
func (k *KMeans) State() FitState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// NIter は実行されたイテレーション数を返す
func (k *KMeans) NIter() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.nIter_
}

// NReseeded は空クラスタを再初期化した延べ回数を返す
func (k *KMeans) NReseeded() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.nReseeded_
}

// NClusters はクラスタ数を返す
func (k *KMeans) NClusters() int {
	return k.nClusters
}

// ClusterCenters は学習されたクラスタ中心のコピーを返す
func (k *KMeans) ClusterCenters() [][]float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()

	centers := make([][]float64, len(k.clusterCenters_))
	for i := range k.clusterCenters_ {
		centers[i] = append([]float64(nil), k.clusterCenters_[i]...)
	}
	return centers
}

// Labels は学習データのクラスタラベルを返す
func (k *KMeans) Labels() []int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.labels_ == nil {
		return nil
	}
	return append([]int(nil), k.labels_...)
}

// Inertia は慣性（クラスタ内平方和誤差）を返す
func (k *KMeans) Inertia() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.inertia_
}

// GetParams はハイパーパラメータを返す
func (k *KMeans) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_clusters": k.nClusters,
		"max_iter":   k.maxIter,
		"seed":       k.seed,
		"tol":        k.tol,
		"n_init":     k.nInit,
		"reseed":     k.reseed.Name(),
	}
}

// KMeansSnapshot はKMeansのgob表現
type KMeansSnapshot struct {
	model.BaseEstimator
	NClusters int
	MaxIter   int
	Seed      int64
	Tol       float64
	NInit     int
	Reseed    string
	Centers   [][]float64
	Labels    []int
	Inertia   float64
	NIter     int
	State     FitState
}

// GobEncode implements gob.GobEncoder.
func (k *KMeans) GobEncode() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	snap := KMeansSnapshot{
		BaseEstimator: k.BaseEstimator,
		NClusters:     k.nClusters,
		MaxIter:       k.maxIter,
		Seed:          k.seed,
		Tol:           k.tol,
		NInit:         k.nInit,
		Reseed:        k.reseed.Name(),
		Centers:       k.clusterCenters_,
		Labels:        k.labels_,
		Inertia:       k.inertia_,
		NIter:         k.nIter_,
		State:         k.state,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "failed to encode KMeans")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (k *KMeans) GobDecode(data []byte) error {
	var snap KMeansSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "failed to decode KMeans")
	}
	reseed, err := reseedByName(snap.Reseed)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.logger == nil {
		k.logger = log.GetLoggerWithName("cluster.kmeans").With(log.ModelNameKey, "KMeans")
	}
	k.BaseEstimator = snap.BaseEstimator
	k.nClusters = snap.NClusters
	k.maxIter = snap.MaxIter
	k.seed = snap.Seed
	k.tol = snap.Tol
	k.nInit = snap.NInit
	if k.nInit < 1 {
		k.nInit = 1
	}
	k.reseed = reseed
	k.clusterCenters_ = snap.Centers
	k.labels_ = snap.Labels
	k.inertia_ = snap.Inertia
	k.nIter_ = snap.NIter
	k.state = snap.State
	return nil
}

func reseedByName(name string) (ReseedStrategy, error) {
	switch name {
	case "", RandomRowReseed{}.Name():
		return RandomRowReseed{}, nil
	case FarthestPointReseed{}.Name():
		return FarthestPointReseed{}, nil
	case KeepCentroidReseed{}.Name():
		return KeepCentroidReseed{}, nil
	default:
		return nil, errors.NewValidationError("reseed", "unknown reseed strategy", name)
	}
}

// String はKMeansの文字列表現を返す
func (k *KMeans) String() string {
	return fmt.Sprintf("KMeans(n_clusters=%d, max_iter=%d, seed=%d, reseed=%s)", k.nClusters, k.maxIter, k.seed, k.reseed.Name())
}

// 補助関数

// nearestCenter は最も近い中心のインデックスと二乗距離を返す。同距離なら小さいインデックス。
func nearestCenter(sample []float64, centers [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := squaredDistance(sample, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

// squaredDistance はユークリッド距離の二乗を計算
func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// toRows はmat.Matrixを行スライスに変換
func toRows(X mat.Matrix) [][]float64 {
	r, _ := X.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = mat.Row(nil, i, X)
	}
	return rows
}
