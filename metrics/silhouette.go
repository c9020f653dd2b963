package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/core/parallel"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// SilhouetteScore は全サンプルのシルエット係数の平均を返す（ユークリッド距離）
//
// ラベルの種類数は2以上かつサンプル数-1以下でなければならない。
// 単独サンプルのクラスタに属する点の係数は0とする。
func SilhouetteScore(X mat.Matrix, labels []int) (float64, error) {
	s, err := SilhouetteSamples(X, labels)
	if err != nil {
		return 0, err
	}
	return floats.Sum(s) / float64(len(s)), nil
}

// SilhouetteSamples はサンプルごとのシルエット係数を返す
//
//	s(i) = (b(i) - a(i)) / max(a(i), b(i))
//
// a(i)は同じクラスタの他の点への平均距離、b(i)は他クラスタへの平均距離の最小値。
func SilhouetteSamples(X mat.Matrix, labels []int) ([]float64, error) {
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return nil, errors.NewEmptyInputError("SilhouetteScore")
	}
	if len(labels) != n {
		return nil, errors.NewShapeError("SilhouetteScore", n, len(labels), 0)
	}
	if err := errors.CheckMatrix("SilhouetteScore", X, 0); err != nil {
		return nil, err
	}

	// ラベルを0..nLabels-1に詰める
	index := make(map[int]int)
	compact := make([]int, n)
	for i, l := range labels {
		c, ok := index[l]
		if !ok {
			c = len(index)
			index[l] = c
		}
		compact[i] = c
	}
	nLabels := len(index)
	if nLabels < 2 || nLabels > n-1 {
		return nil, errors.NewValidationError("labels",
			"number of distinct labels must be in [2, n_samples-1]", nLabels)
	}

	sizes := make([]int, nLabels)
	for _, c := range compact {
		sizes[c]++
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	out := make([]float64, n)
	parallel.ParallelizeWithThreshold(n, parallel.DefaultThreshold, func(start, end int) {
		sums := make([]float64, nLabels)
		for i := start; i < end; i++ {
			own := compact[i]
			if sizes[own] == 1 {
				out[i] = 0
				continue
			}
			for c := range sums {
				sums[c] = 0
			}
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				sums[compact[j]] += floats.Distance(rows[i], rows[j], 2)
			}

			a := sums[own] / float64(sizes[own]-1)
			b := -1.0
			for c, s := range sums {
				if c == own {
					continue
				}
				if m := s / float64(sizes[c]); b < 0 || m < b {
					b = m
				}
			}
			denom := a
			if b > denom {
				denom = b
			}
			if denom > 0 {
				out[i] = (b - a) / denom
			}
		}
	})
	return out, nil
}
