package preprocessing

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Normalize はベクトルをL2ノルム1に正規化したコピーを返す。
// ゼロベクトルはそのまま返す。
func Normalize(v []float64) []float64 {
	out := append([]float64(nil), v...)
	if n := floats.Norm(out, 2); n > 0 {
		floats.Scale(1/n, out)
	}
	return out
}

// NormalizeRows は各行をL2ノルム1に正規化した行列を返す。
// 埋め込みをコサイン類似度で比較する前に使う。
func NormalizeRows(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	result := mat.DenseCopyOf(X)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, result)
		if n := floats.Norm(row, 2); n > 0 {
			floats.Scale(1/n, row)
			result.SetRow(i, row)
		}
	}
	return result
}
