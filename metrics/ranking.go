package metrics

import (
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// RecallAtK は正解が上位k件に含まれるクエリの割合を返す
//
// ranked[i]はクエリiの検索結果（参照インデックス、類似度順）、relevant[i]はその正解。
func RecallAtK(ranked [][]int, relevant []int, k int) (float64, error) {
	if err := checkRanking("RecallAtK", ranked, relevant); err != nil {
		return 0, err
	}
	if k < 1 {
		return 0, errors.NewValidationError("k", "must be at least 1", k)
	}

	hits := 0
	for i, idx := range ranked {
		if pos := position(idx, relevant[i]); pos >= 0 && pos < k {
			hits++
		}
	}
	return float64(hits) / float64(len(ranked)), nil
}

// MeanReciprocalRank は正解の順位の逆数の平均を返す。
// 検索結果に正解が含まれないクエリは0として数える。
func MeanReciprocalRank(ranked [][]int, relevant []int) (float64, error) {
	if err := checkRanking("MeanReciprocalRank", ranked, relevant); err != nil {
		return 0, err
	}

	var sum float64
	for i, idx := range ranked {
		if pos := position(idx, relevant[i]); pos >= 0 {
			sum += 1 / float64(pos+1)
		}
	}
	return sum / float64(len(ranked)), nil
}

func checkRanking(op string, ranked [][]int, relevant []int) error {
	if len(ranked) == 0 {
		return errors.NewEmptyInputError(op)
	}
	if len(relevant) != len(ranked) {
		return errors.NewShapeError(op, len(ranked), len(relevant), 0)
	}
	return nil
}

func position(idx []int, target int) int {
	for p, v := range idx {
		if v == target {
			return p
		}
	}
	return -1
}
