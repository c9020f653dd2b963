// Package retrieval ranks reference embeddings against query embeddings.
//
// Typical use is cross-modal search: text embeddings as queries, image embeddings as
// references. Similarity is the dot product, which equals cosine similarity when both
// sides are unit length.
package retrieval

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
	"github.com/YuminosukeSato/embedcluster/preprocessing"
)

// Match は1件の検索結果
type Match struct {
	// Index は参照集合での行インデックス
	Index int
	// Score は類似度
	Score float64
}

// Retriever は内積による上位k件検索を行う
type Retriever struct {
	normalize bool
	logger    log.Logger
}

// Option はRetrieverの設定オプション
type Option func(*Retriever)

// WithNormalize は両側の行をスコア計算前にL2正規化するかを設定
func WithNormalize(normalize bool) Option {
	return func(r *Retriever) {
		r.normalize = normalize
	}
}

// WithLogger はロガーを差し替える
func WithLogger(l log.Logger) Option {
	return func(r *Retriever) {
		r.logger = l
	}
}

// NewRetriever は新しいRetrieverを作成
func NewRetriever(opts ...Option) *Retriever {
	r := &Retriever{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("retrieval.retriever")
	}
	return r
}

// Rank は各クエリ行について類似度の高い参照行のインデックスをtopK件返す。
// 順序は類似度の降順で、同点は参照インデックスの昇順。
// topKが参照数を超える場合は参照数に切り詰める。
func (r *Retriever) Rank(query, reference mat.Matrix, topK int) ([][]int, error) {
	matches, err := r.RankWithScores(query, reference, topK)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(matches))
	for i, ms := range matches {
		idx := make([]int, len(ms))
		for j, m := range ms {
			idx[j] = m.Index
		}
		out[i] = idx
	}
	return out, nil
}

// RankWithScores はRankと同じ順序で類似度も返す
func (r *Retriever) RankWithScores(query, reference mat.Matrix, topK int) (_ [][]Match, err error) {
	defer errors.Recover(&err, "Retriever.Rank")

	nq, dq := query.Dims()
	nr, dr := reference.Dims()
	if nq == 0 || dq == 0 {
		return nil, errors.NewEmptyInputError("Retriever.Rank(query)")
	}
	if nr == 0 || dr == 0 {
		return nil, errors.NewEmptyInputError("Retriever.Rank(reference)")
	}
	if dq != dr {
		return nil, errors.NewShapeError("Retriever.Rank", dr, dq, 1)
	}
	if topK < 1 {
		return nil, errors.NewValidationError("top_k", "must be at least 1", topK)
	}
	if err := errors.CheckMatrix("Retriever.Rank(query)", query, 0); err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix("Retriever.Rank(reference)", reference, 0); err != nil {
		return nil, err
	}
	if topK > nr {
		topK = nr
	}

	if r.normalize {
		query = preprocessing.NormalizeRows(query)
		reference = preprocessing.NormalizeRows(reference)
	}

	var scores mat.Dense
	scores.Mul(query, reference.T())

	out := make([][]Match, nq)
	order := make([]int, nr)
	row := make([]float64, nr)
	for i := 0; i < nq; i++ {
		mat.Row(row, i, &scores)
		for j := range order {
			order[j] = j
		}
		// 安定ソートなので同点はインデックス昇順のまま残る
		sort.SliceStable(order, func(a, b int) bool {
			return row[order[a]] > row[order[b]]
		})
		ms := make([]Match, topK)
		for j := 0; j < topK; j++ {
			ms[j] = Match{Index: order[j], Score: row[order[j]]}
		}
		out[i] = ms
	}

	r.logger.Debug("ranked references",
		log.OperationKey, log.OperationRank,
		log.QueriesKey, nq,
		log.SamplesKey, nr,
		log.TopKKey, topK,
	)
	return out, nil
}

// String はRetrieverの文字列表現を返す
func (r *Retriever) String() string {
	return fmt.Sprintf("Retriever(normalize=%t)", r.normalize)
}

// Rank はデフォルト設定のRetrieverで検索する
func Rank(query, reference mat.Matrix, topK int) ([][]int, error) {
	return NewRetriever().Rank(query, reference, topK)
}
