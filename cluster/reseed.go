package cluster

import (
	"math/rand"
)

// ReseedInput は空クラスタの中心を決めるために渡される情報
type ReseedInput struct {
	// Cluster は空になったクラスタのインデックス
	Cluster int
	// X は学習データの各行
	X [][]float64
	// Labels は今回の割り当て結果
	Labels []int
	// Centers は割り当てに使った（更新前の）クラスタ中心
	Centers [][]float64
	// Rng はFit全体で共有される乱数ストリーム
	Rng *rand.Rand
}

// ReseedStrategy は空になったクラスタに新しい中心を与える方法
//
// 空クラスタはクラスタ番号の昇順に処理され、乱数を使う戦略は
// 共有ストリームから順に引く。同じシードなら同じ結果になる。
type ReseedStrategy interface {
	Reseed(in ReseedInput) []float64
	Name() string
}

// RandomRowReseed は一様ランダムに選んだ学習データの行を中心にする（デフォルト）
type RandomRowReseed struct{}

// Reseed implements ReseedStrategy.
func (RandomRowReseed) Reseed(in ReseedInput) []float64 {
	if len(in.X) == 0 {
		return make([]float64, len(in.Centers[in.Cluster]))
	}
	return append([]float64(nil), in.X[in.Rng.Intn(len(in.X))]...)
}

// Name implements ReseedStrategy.
func (RandomRowReseed) Name() string { return "random_row" }

// FarthestPointReseed は割り当て先の中心から最も遠いサンプルを中心にする。乱数は使わない。
type FarthestPointReseed struct{}

// Reseed implements ReseedStrategy.
func (FarthestPointReseed) Reseed(in ReseedInput) []float64 {
	if len(in.X) == 0 {
		return make([]float64, len(in.Centers[in.Cluster]))
	}
	best, bestDist := 0, -1.0
	for i, x := range in.X {
		d := squaredDistance(x, in.Centers[in.Labels[i]])
		if d > bestDist {
			best, bestDist = i, d
		}
	}
	return append([]float64(nil), in.X[best]...)
}

// Name implements ReseedStrategy.
func (FarthestPointReseed) Name() string { return "farthest_point" }

// KeepCentroidReseed は空クラスタの中心を動かさない
type KeepCentroidReseed struct{}

// Reseed implements ReseedStrategy.
func (KeepCentroidReseed) Reseed(in ReseedInput) []float64 {
	return append([]float64(nil), in.Centers[in.Cluster]...)
}

// Name implements ReseedStrategy.
func (KeepCentroidReseed) Name() string { return "keep_centroid" }
