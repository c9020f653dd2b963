package cluster

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// NoiseLabeler はサンプルごとにラベルを付け、外れ値にはNoiseLabelを付けるモデル
type NoiseLabeler interface {
	FitPredict(X mat.Matrix) ([]int, error)
}

// FilterNoise はNoiseLabelの行を取り除いた行列と、残った行の元のインデックスを返す。
// 残った行の相対的な順序は保たれる。
func FilterNoise(X mat.Matrix, labels []int) (*mat.Dense, []int, error) {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, errors.NewEmptyInputError("FilterNoise")
	}
	if len(labels) != rows {
		return nil, nil, errors.NewShapeError("FilterNoise", rows, len(labels), 0)
	}

	kept := make([]int, 0, rows)
	for i, l := range labels {
		if l != NoiseLabel {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		err := errors.NewNumericalError("FilterNoise", "all samples labelled as noise", nil, 0)
		return nil, nil, errors.Mark(errors.Mark(err, errors.ErrAllNoise), errors.ErrEmptyData)
	}

	filtered := mat.NewDense(len(kept), cols, nil)
	row := make([]float64, cols)
	for dst, src := range kept {
		mat.Row(row, src, X)
		filtered.SetRow(dst, row)
	}
	return filtered, kept, nil
}

// FilterResult は外れ値除去の結果
type FilterResult struct {
	// Filtered はノイズを除いたデータ
	Filtered *mat.Dense
	// Kept はFilteredの各行に対応する元の行インデックス
	Kept []int
	// Labels は入力全体に付けられたラベル
	Labels []int
	// NNoise は除去された行数
	NNoise int
}

// OutlierFilter はラベル付けとノイズ除去を組み合わせる
type OutlierFilter struct {
	Labeler NoiseLabeler
	logger  log.Logger
}

// NewOutlierFilter は新しいOutlierFilterを作成
//
//	f := cluster.NewOutlierFilter(cluster.NewDBSCAN(cluster.WithEps(0.7), cluster.WithMinSamples(3)))
//	res, err := f.Filter(X)
func NewOutlierFilter(labeler NoiseLabeler) *OutlierFilter {
	return &OutlierFilter{
		Labeler: labeler,
		logger:  log.GetLoggerWithName("cluster.outlier"),
	}
}

// Filter はXにラベルを付け、ノイズの行を取り除く
func (f *OutlierFilter) Filter(X mat.Matrix) (*FilterResult, error) {
	labels, err := f.Labeler.FitPredict(X)
	if err != nil {
		return nil, err
	}
	filtered, kept, err := FilterNoise(X, labels)
	if err != nil {
		return nil, err
	}

	res := &FilterResult{
		Filtered: filtered,
		Kept:     kept,
		Labels:   labels,
		NNoise:   len(labels) - len(kept),
	}
	f.logger.Info("outliers removed",
		log.OperationKey, log.OperationFilter,
		log.SamplesKey, len(labels),
		log.NoiseKey, res.NNoise,
	)
	return res, nil
}
