package pipeline

import (
	"encoding/json"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/cluster"
	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/decomposition"
	"github.com/YuminosukeSato/embedcluster/pkg/codec"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// ClusterReport は1つのK-Meansモデルの結果
type ClusterReport struct {
	Labels     []int   `json:"labels"`
	Inertia    float64 `json:"inertia"`
	Iterations int     `json:"iterations"`
	State      string  `json:"state"`
	Reseeded   int     `json:"reseeded"`
}

func newClusterReport(km *cluster.KMeans) *ClusterReport {
	return &ClusterReport{
		Labels:     km.Labels(),
		Inertia:    km.Inertia(),
		Iterations: km.NIter(),
		State:      km.State().String(),
		Reseeded:   km.NReseeded(),
	}
}

// HierarchicalReport は階層的クラスタリングの結果
type HierarchicalReport struct {
	Linkage string `json:"linkage"`
	Labels  []int  `json:"labels"`
	// MergeDistances は樹形図の併合の高さ（昇順）
	MergeDistances []float64 `json:"merge_distances"`
}

// SilhouettePoint はk1つ分のシルエット係数
type SilhouettePoint struct {
	K     int     `json:"k"`
	Score float64 `json:"score"`
}

// OutlierReport は学習用サブセットでの外れ値除去の結果。
// インデックスはすべて元の画像埋め込みの行番号
type OutlierReport struct {
	TrainIndices []int `json:"train_indices"`
	TestIndices  []int `json:"test_indices"`
	// TrainLabels はPCA空間のK-Meansで学習用サブセットを予測したラベル
	TrainLabels  []int          `json:"train_labels"`
	DBSCANLabels []int          `json:"dbscan_labels"`
	NClusters    int            `json:"dbscan_clusters"`
	KeptIndices  []int          `json:"kept_indices"`
	NoiseIndices []int          `json:"noise_indices"`
	Clean        *ClusterReport `json:"clean,omitempty"`
}

// RetrievalReport はテキストから画像への検索結果
type RetrievalReport struct {
	TopK    int     `json:"top_k"`
	Indices [][]int `json:"indices"`
	// 評価指標はテキストと画像が同数（i番目同士が対応）の場合のみ
	RecallAtK *float64 `json:"recall_at_k,omitempty"`
	MRR       *float64 `json:"mrr,omitempty"`
}

// Models は学習済みモデル
type Models struct {
	PCA2D       *decomposition.PCA
	PCA         *decomposition.PCA
	KMeansRaw   *cluster.KMeans
	KMeansPCA   *cluster.KMeans
	KMeansClean *cluster.KMeans
}

// Result は1回の実行結果
type Result struct {
	RunID string `json:"run_id"`

	// PCA2D は可視化用、Reduced はNComponents次元の座標
	PCA2D   *mat.Dense `json:"-"`
	Reduced *mat.Dense `json:"-"`

	ExplainedVarianceRatio2D []float64 `json:"explained_variance_ratio_2d"`
	ExplainedVarianceRatio   []float64 `json:"explained_variance_ratio"`

	KMeansRaw     *ClusterReport      `json:"kmeans_raw"`
	KMeansPCA     *ClusterReport      `json:"kmeans_pca"`
	Agglomerative *HierarchicalReport `json:"agglomerative"`
	Silhouette    []SilhouettePoint   `json:"silhouette"`
	Outliers      *OutlierReport      `json:"outliers,omitempty"`
	Retrieval     *RetrievalReport    `json:"retrieval,omitempty"`
	Skipped       map[string]string   `json:"skipped,omitempty"`
	Models        Models              `json:"-"`
}

func (r *Result) skip(stage, reason string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]string)
	}
	r.Skipped[stage] = reason
}

// WriteJSON は結果をJSONで書き出す。".zst" / ".lz4" で終わるパスは圧縮する
func (r *Result) WriteJSON(path string) (err error) {
	f, err := codec.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errors.Wrapf(err, "encode result %s", path)
	}
	return nil
}

// SaveModels は学習済みモデルをdirにzstd圧縮のgobで保存し、書き出したパスを返す
func (r *Result) SaveModels(dir string) ([]string, error) {
	targets := []struct {
		name  string
		model interface{}
		ok    bool
	}{
		{"pca_2d", r.Models.PCA2D, r.Models.PCA2D != nil},
		{"pca", r.Models.PCA, r.Models.PCA != nil},
		{"kmeans_raw", r.Models.KMeansRaw, r.Models.KMeansRaw != nil},
		{"kmeans_pca", r.Models.KMeansPCA, r.Models.KMeansPCA != nil},
		{"kmeans_clean", r.Models.KMeansClean, r.Models.KMeansClean != nil},
	}

	var paths []string
	for _, t := range targets {
		if !t.ok {
			continue
		}
		path := filepath.Join(dir, t.name+".gob.zst")
		if err := model.SaveModel(t.model, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
