package cluster

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// NoiseLabel はどのクラスタにも属さないサンプルのラベル
const NoiseLabel = -1

const unvisited = -2

// DBSCAN は密度ベースのクラスタリング
//
// 半径eps以内（境界を含む）に自分自身を含めてminSamples個以上の点を持つサンプルを
// コア点とし、コア点から到達できる点を同じクラスタにまとめる。
// クラスタ番号は発見順に0から振られ、どこにも到達されない点はNoiseLabelになる。
type DBSCAN struct {
	// ハイパーパラメータ
	eps        float64
	minSamples int

	// 学習結果
	labels_            []int
	coreSampleIndices_ []int
	nClusters_         int
	fitted             bool

	mu     sync.RWMutex
	logger log.Logger
}

// DBSCANOption はDBSCANの設定オプション
type DBSCANOption func(*DBSCAN)

// WithEps は近傍半径を設定
func WithEps(eps float64) DBSCANOption {
	return func(d *DBSCAN) {
		d.eps = eps
	}
}

// WithMinSamples はコア点に必要な近傍点数（自分自身を含む）を設定
func WithMinSamples(n int) DBSCANOption {
	return func(d *DBSCAN) {
		d.minSamples = n
	}
}

// WithDBSCANLogger はロガーを差し替える
func WithDBSCANLogger(l log.Logger) DBSCANOption {
	return func(d *DBSCAN) {
		d.logger = l
	}
}

// NewDBSCAN は新しいDBSCANを作成（デフォルト: eps=0.5, min_samples=5）
func NewDBSCAN(options ...DBSCANOption) *DBSCAN {
	d := &DBSCAN{eps: 0.5, minSamples: 5}
	for _, opt := range options {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.GetLoggerWithName("cluster.dbscan")
	}
	d.logger = d.logger.With(log.ModelNameKey, "DBSCAN")
	return d
}

// Fit はXにラベルを付ける
func (d *DBSCAN) Fit(X mat.Matrix) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewEmptyInputError("DBSCAN.Fit")
	}
	if !(d.eps > 0) {
		return errors.NewValidationError("eps", "must be positive", d.eps)
	}
	if d.minSamples < 1 {
		return errors.NewValidationError("min_samples", "must be at least 1", d.minSamples)
	}
	if err := errors.CheckMatrix("DBSCAN.Fit", X, 0); err != nil {
		return err
	}

	points := toRows(X)
	neighbors := d.regionQueries(points)

	labels := make([]int, rows)
	for i := range labels {
		labels[i] = unvisited
	}
	var core []int
	for i := range points {
		if len(neighbors[i]) >= d.minSamples {
			core = append(core, i)
		}
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < d.minSamples {
			labels[i] = NoiseLabel
			continue
		}

		labels[i] = cluster
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if labels[q] == NoiseLabel {
				// 境界点: 最初に到達したクラスタに属する
				labels[q] = cluster
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster
			if len(neighbors[q]) >= d.minSamples {
				queue = append(queue, neighbors[q]...)
			}
		}
		cluster++
	}

	nNoise := 0
	for _, l := range labels {
		if l == NoiseLabel {
			nNoise++
		}
	}

	d.labels_ = labels
	d.coreSampleIndices_ = core
	d.nClusters_ = cluster
	d.fitted = true

	d.logger.Info("dbscan fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.ClustersKey, cluster,
		log.NoiseKey, nNoise,
	)
	return nil
}

// regionQueries は各点のeps近傍（自分自身を含む、インデックス昇順）を求める
func (d *DBSCAN) regionQueries(points [][]float64) [][]int {
	eps2 := d.eps * d.eps
	neighbors := make([][]int, len(points))
	for i := range points {
		for j := range points {
			if squaredDistance(points[i], points[j]) <= eps2 {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}
	return neighbors
}

// FitPredict は学習しラベルを返す
func (d *DBSCAN) FitPredict(X mat.Matrix) ([]int, error) {
	if err := d.Fit(X); err != nil {
		return nil, err
	}
	return d.Labels(), nil
}

// Labels は各サンプルのラベルのコピーを返す
func (d *DBSCAN) Labels() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int(nil), d.labels_...)
}

// CoreSampleIndices はコア点のインデックスを返す
func (d *DBSCAN) CoreSampleIndices() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int(nil), d.coreSampleIndices_...)
}

// NClusters は見つかったクラスタ数を返す
func (d *DBSCAN) NClusters() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nClusters_
}

// IsFitted は学習済みかどうかを返す
func (d *DBSCAN) IsFitted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fitted
}

// GetParams はハイパーパラメータを返す
func (d *DBSCAN) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"eps":         d.eps,
		"min_samples": d.minSamples,
	}
}

// String はDBSCANの文字列表現を返す
func (d *DBSCAN) String() string {
	return fmt.Sprintf("DBSCAN(eps=%g, min_samples=%d)", d.eps, d.minSamples)
}
