// Package embedcluster reduces, clusters, filters and searches embedding vectors
// for Go, with a scikit-learn-like API on top of gonum matrices.
//
// The library works on precomputed embeddings, typically image and caption
// embeddings from a multimodal encoder, and covers the unsupervised half of an
// embedding analysis workflow:
//
//   - preprocessing: per-feature standardization and L2 row normalization
//   - decomposition: PCA by covariance eigendecomposition with a deterministic sign convention
//   - cluster: seeded K-Means with pluggable empty-cluster reseeding, DBSCAN and noise filtering
//   - retrieval: dot-product top-k ranking of reference rows per query row
//   - metrics: silhouette score, recall@k and mean reciprocal rank
//   - modelselection: seeded train/test index splits
//   - dataset: label files and embedding matrices, optionally zstd or lz4 compressed
//   - visual: gonum/plot scatter plots, cluster panels and silhouette curves
//   - pipeline: the end-to-end run with prometheus stage metrics
//
// # Quick Start
//
//	X := mat.NewDense(4, 2, []float64{
//	    0, 0,
//	    0, 1,
//	    10, 0,
//	    10, 1,
//	})
//
//	pca := decomposition.NewPCA(1)
//	reduced, err := pca.FitTransform(X)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	km := cluster.NewKMeans(cluster.WithNClusters(2), cluster.WithSeed(42))
//	labels, err := km.FitPredict(X)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	topK, err := retrieval.Rank(textEmbeddings, imageEmbeddings, 5)
//
// # Errors
//
// All errors carry a stack trace (cockroachdb/errors) and can be inspected with
// errors.As: ShapeError, NotFittedError, NumericalError, ValidationError and
// ModelError. Empty inputs are additionally marked with errors.ErrEmptyData.
// K-Means hitting its iteration limit is not an error; it emits a
// ConvergenceWarning through the configured logger.
//
// # Logging
//
// pkg/log defaults to zerolog on stderr. Call log.SetupLogger to pick the level
// and the console, json or slog format.
package embedcluster
