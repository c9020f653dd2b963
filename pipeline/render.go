package pipeline

import (
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/embedcluster/modelselection"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/visual"
)

// Render は結果をdirにPNGとして描画し、書き出したパスを返す
//
// 2次元PCA（ラベルがあればラベルで色分け）、K-Meansの比較、K-Meansと階層的クラスタリングの比較、
// DBSCANの比較、シルエット係数の推移を描く。存在しない結果の図は省略する。
func Render(res *Result, in *Inputs, dir string) ([]string, error) {
	if res == nil || res.PCA2D == nil {
		return nil, errors.NewEmptyInputError("pipeline.Render")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}

	var paths []string
	add := func(name string, draw func(path string) error) error {
		path := filepath.Join(dir, name)
		if err := draw(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	n, _ := res.PCA2D.Dims()
	names := make([]string, n)
	for i := range names {
		names[i] = "sample"
	}
	if in != nil && in.Records != nil && in.Records.Len() == n {
		for i, l := range in.Records.Labels {
			if l != "" {
				names[i] = l
			}
		}
	}
	if err := add("pca_2d.png", func(path string) error {
		return visual.ScatterByLabel(path, "PCA 2D", res.PCA2D, names)
	}); err != nil {
		return paths, err
	}

	if res.KMeansRaw != nil && res.KMeansPCA != nil && hasTwoColumns(res) {
		if err := add("kmeans.png", func(path string) error {
			return visual.ClusterPanels(path,
				visual.Panel{Title: "KMeans on embeddings", Coords: res.PCA2D, Labels: res.KMeansRaw.Labels},
				visual.Panel{Title: "KMeans on PCA", Coords: res.Reduced, Labels: res.KMeansPCA.Labels},
			)
		}); err != nil {
			return paths, err
		}
	}

	if res.KMeansPCA != nil && res.Agglomerative != nil && hasTwoColumns(res) {
		if err := add("agglomerative.png", func(path string) error {
			return visual.ClusterPanels(path,
				visual.Panel{Title: "KMeans on PCA", Coords: res.Reduced, Labels: res.KMeansPCA.Labels},
				visual.Panel{Title: "Agglomerative on PCA", Coords: res.Reduced, Labels: res.Agglomerative.Labels},
			)
		}); err != nil {
			return paths, err
		}
	}

	if res.Outliers != nil && hasTwoColumns(res) {
		train, err := modelselection.TakeRows(res.Reduced, res.Outliers.TrainIndices)
		if err != nil {
			return paths, err
		}
		if err := add("dbscan.png", func(path string) error {
			return visual.ClusterPanels(path,
				visual.Panel{Title: "KMeans (train)", Coords: train, Labels: res.Outliers.TrainLabels},
				visual.Panel{Title: "DBSCAN (train)", Coords: train, Labels: res.Outliers.DBSCANLabels},
			)
		}); err != nil {
			return paths, err
		}
	}

	if len(res.Silhouette) > 0 {
		ks := make([]int, len(res.Silhouette))
		scores := make([]float64, len(res.Silhouette))
		for i, p := range res.Silhouette {
			ks[i], scores[i] = p.K, p.Score
		}
		if err := add("silhouette.png", func(path string) error {
			return visual.SilhouetteCurve(path, ks, scores)
		}); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func hasTwoColumns(res *Result) bool {
	if res.Reduced == nil {
		return false
	}
	_, c := res.Reduced.Dims()
	return c >= 2
}
