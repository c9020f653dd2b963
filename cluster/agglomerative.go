package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// Linkage はクラスタ間距離の定義
type Linkage int

const (
	// LinkageWard は併合による平方和誤差の増分を最小にする
	LinkageWard Linkage = iota
	// LinkageAverage は全点対の平均距離
	LinkageAverage
	// LinkageComplete は最遠点対の距離
	LinkageComplete
	// LinkageSingle は最近点対の距離
	LinkageSingle
)

func (l Linkage) String() string {
	switch l {
	case LinkageAverage:
		return "average"
	case LinkageComplete:
		return "complete"
	case LinkageSingle:
		return "single"
	default:
		return "ward"
	}
}

// ParseLinkage は名前からLinkageを返す
func ParseLinkage(name string) (Linkage, error) {
	switch strings.ToLower(name) {
	case "ward", "":
		return LinkageWard, nil
	case "average":
		return LinkageAverage, nil
	case "complete":
		return LinkageComplete, nil
	case "single":
		return LinkageSingle, nil
	}
	return 0, errors.NewValidationError("linkage", "must be ward, average, complete or single", name)
}

// Agglomerative はボトムアップの階層的クラスタリング
//
// 各サンプルを1つのクラスタとして始め、最も近い2つを併合し続けて樹形図を作り、
// nClusters個になる高さで切る。併合は最近傍チェーン法で求め、高さ順に並べ直してから切る。
// ラベルはサンプル順に初めて現れたクラスタから0, 1, ... と振る。
type Agglomerative struct {
	// ハイパーパラメータ
	nClusters int
	linkage   Linkage

	// 学習結果
	labels_         []int
	mergeDistances_ []float64
	fitted          bool

	mu     sync.RWMutex
	logger log.Logger
}

// AgglomerativeOption はAgglomerativeの設定オプション
type AgglomerativeOption func(*Agglomerative)

// WithLinkage はクラスタ間距離の定義を設定
func WithLinkage(l Linkage) AgglomerativeOption {
	return func(a *Agglomerative) {
		a.linkage = l
	}
}

// WithAgglomerativeLogger はロガーを差し替える
func WithAgglomerativeLogger(l log.Logger) AgglomerativeOption {
	return func(a *Agglomerative) {
		a.logger = l
	}
}

// NewAgglomerative は新しいAgglomerativeを作成（デフォルト: Ward法）
func NewAgglomerative(nClusters int, options ...AgglomerativeOption) *Agglomerative {
	a := &Agglomerative{nClusters: nClusters, linkage: LinkageWard}
	for _, opt := range options {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.GetLoggerWithName("cluster.agglomerative")
	}
	a.logger = a.logger.With(log.ModelNameKey, "Agglomerative")
	return a
}

type mergeStep struct {
	a, b   int
	height float64
}

// Fit はXの樹形図を作りラベルを付ける
func (a *Agglomerative) Fit(X mat.Matrix) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewEmptyInputError("Agglomerative.Fit")
	}
	if a.nClusters < 1 {
		return errors.NewValidationError("n_clusters", "must be at least 1", a.nClusters)
	}
	if a.nClusters > rows {
		return errors.NewValidationError("n_clusters", fmt.Sprintf("must not exceed the number of samples (%d)", rows), a.nClusters)
	}
	if err := errors.CheckMatrix("Agglomerative.Fit", X, 0); err != nil {
		return err
	}

	merges := a.nearestNeighborChain(toRows(X))
	sort.SliceStable(merges, func(i, j int) bool {
		return merges[i].height < merges[j].height
	})

	parent := make([]int, rows)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for _, m := range merges[:rows-a.nClusters] {
		parent[find(m.b)] = find(m.a)
	}

	labels := make([]int, rows)
	ids := make(map[int]int, a.nClusters)
	for i := range labels {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}

	heights := make([]float64, len(merges))
	for i, m := range merges {
		heights[i] = m.height
	}

	a.labels_ = labels
	a.mergeDistances_ = heights
	a.fitted = true

	a.logger.Info("agglomerative fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.ClustersKey, a.nClusters,
		log.LinkageKey, a.linkage.String(),
	)
	return nil
}

// nearestNeighborChain は全サンプルが1つになるまでの併合を発生順に返す。
// Ward法は二乗距離で更新し、高さはその平方根にする。
func (a *Agglomerative) nearestNeighborChain(points [][]float64) []mergeStep {
	n := len(points)
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := squaredDistance(points[i], points[j])
			if a.linkage != LinkageWard {
				d = math.Sqrt(d)
			}
			dist.SetSym(i, j, d)
		}
	}

	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]mergeStep, 0, n-1)
	chain := make([]int, 0, n)
	for remaining := n; remaining > 1; {
		if len(chain) == 0 {
			for i := range active {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}
		x := chain[len(chain)-1]
		prev, y, best := -1, -1, math.Inf(1)
		if len(chain) >= 2 {
			// 同距離なら直前の要素を優先する。これがないとチェーンが循環する
			prev = chain[len(chain)-2]
			y, best = prev, dist.At(x, prev)
		}
		for j := range active {
			if !active[j] || j == x {
				continue
			}
			if d := dist.At(x, j); d < best {
				y, best = j, d
			}
		}

		if y != prev {
			chain = append(chain, y)
			continue
		}
		chain = chain[:len(chain)-2]
		height := best
		if a.linkage == LinkageWard {
			height = math.Sqrt(best)
		}
		keep, drop := min(x, y), max(x, y)
		merges = append(merges, mergeStep{a: keep, b: drop, height: height})
		a.update(dist, size, active, keep, drop)
		remaining--
	}
	return merges
}

// update はLance-Williamsの式でkeepとdropを併合した後の距離を求める
func (a *Agglomerative) update(dist *mat.SymDense, size []int, active []bool, keep, drop int) {
	nk, nd := float64(size[keep]), float64(size[drop])
	dkd := dist.At(keep, drop)
	for w := range active {
		if !active[w] || w == keep || w == drop {
			continue
		}
		dkw, ddw := dist.At(keep, w), dist.At(drop, w)
		var d float64
		switch a.linkage {
		case LinkageAverage:
			d = (nk*dkw + nd*ddw) / (nk + nd)
		case LinkageComplete:
			d = math.Max(dkw, ddw)
		case LinkageSingle:
			d = math.Min(dkw, ddw)
		default:
			nw := float64(size[w])
			d = ((nk+nw)*dkw + (nd+nw)*ddw - nw*dkd) / (nk + nd + nw)
		}
		dist.SetSym(keep, w, d)
	}
	size[keep] += size[drop]
	active[drop] = false
}

// FitPredict は学習しラベルを返す
func (a *Agglomerative) FitPredict(X mat.Matrix) ([]int, error) {
	if err := a.Fit(X); err != nil {
		return nil, err
	}
	return a.Labels(), nil
}

// Labels は各サンプルのラベルのコピーを返す
func (a *Agglomerative) Labels() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]int(nil), a.labels_...)
}

// MergeDistances は樹形図のn-1回の併合の高さを昇順で返す
func (a *Agglomerative) MergeDistances() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.mergeDistances_...)
}

// NClusters はクラスタ数を返す
func (a *Agglomerative) NClusters() int {
	return a.nClusters
}

// Linkage はクラスタ間距離の定義を返す
func (a *Agglomerative) Linkage() Linkage {
	return a.linkage
}

// IsFitted は学習済みかどうかを返す
func (a *Agglomerative) IsFitted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fitted
}

// GetParams はハイパーパラメータを返す
func (a *Agglomerative) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_clusters": a.nClusters,
		"linkage":    a.linkage.String(),
	}
}

// String はAgglomerativeの文字列表現を返す
func (a *Agglomerative) String() string {
	return fmt.Sprintf("Agglomerative(n_clusters=%d, linkage=%s)", a.nClusters, a.linkage)
}
