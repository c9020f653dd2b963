// Package modelselection splits sample indices into train and test subsets.
package modelselection

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// Split は学習用とテスト用の行インデックス
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit はn個のサンプルを分割する
//
// テスト件数は ceil(testSize * n)。shuffleがtrueならseedで並べ替えた順列の先頭を
// テスト、続きを学習に割り当てる。falseなら先頭n_train件が学習、残りがテスト。
func TrainTestSplit(n int, testSize float64, seed int64, shuffle bool) (*Split, error) {
	if n <= 0 {
		return nil, errors.NewEmptyInputError("TrainTestSplit")
	}
	if !(testSize > 0 && testSize < 1) {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTrain < 1 {
		return nil, errors.NewValidationError("test_size",
			"leaves no training samples", testSize)
	}

	var order []int
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		order = rng.Perm(n)
		return &Split{
			Train: append([]int(nil), order[nTest:]...),
			Test:  append([]int(nil), order[:nTest]...),
		}, nil
	}

	order = make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &Split{
		Train: append([]int(nil), order[:nTrain]...),
		Test:  append([]int(nil), order[nTrain:]...),
	}, nil
}

// TakeRows はidxの順にXの行を集めた行列を返す
func TakeRows(X mat.Matrix, idx []int) (*mat.Dense, error) {
	r, c := X.Dims()
	if len(idx) == 0 || c == 0 {
		return nil, errors.NewEmptyInputError("TakeRows")
	}
	out := mat.NewDense(len(idx), c, nil)
	row := make([]float64, c)
	for dst, src := range idx {
		if src < 0 || src >= r {
			return nil, errors.NewValidationError("index", "out of range", src)
		}
		mat.Row(row, src, X)
		out.SetRow(dst, row)
	}
	return out, nil
}

// TakeStrings はidxの順にsの要素を集める
func TakeStrings(s []string, idx []int) ([]string, error) {
	out := make([]string, len(idx))
	for dst, src := range idx {
		if src < 0 || src >= len(s) {
			return nil, errors.NewValidationError("index", "out of range", src)
		}
		out[dst] = s[src]
	}
	return out, nil
}
