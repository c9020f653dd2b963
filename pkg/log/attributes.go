// Package log defines standard attribute keys for the reduction, clustering and
// retrieval operations.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples") so log
// lines from different estimators can be filtered and joined consistently.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "PCA", "KMeans", "DBSCAN", "Standardizer"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a specific estimator instance.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "rank", "filter"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging (set by GetLoggerWithName).
	ComponentKey = "component"
)

// Data Shape
const (
	// SamplesKey indicates the number of samples (rows).
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns).
	FeaturesKey = "data.features"

	// QueriesKey indicates the number of query rows in a retrieval call.
	QueriesKey = "data.queries"
)

// Algorithm state and results
const (
	// ClustersKey records the number of clusters k.
	ClustersKey = "cluster.k"

	// ComponentsKey records the number of retained principal components.
	ComponentsKey = "pca.components"

	// ExplainedVarianceKey records the explained variance ratio of the kept components.
	ExplainedVarianceKey = "pca.explained_variance_ratio"

	// IterationKey records the iteration number of an iterative process.
	IterationKey = "training.iteration"

	// InertiaKey records the within-cluster sum of squared distances.
	InertiaKey = "cluster.inertia"

	// StateKey records the terminal state of an iterative fit.
	StateKey = "training.state"

	// ReseedKey records how many empty clusters were reseeded.
	ReseedKey = "cluster.reseeded"

	// LinkageKey records the linkage criterion of hierarchical clustering.
	LinkageKey = "cluster.linkage"

	// NoiseKey records the number of samples labelled as noise.
	NoiseKey = "outlier.noise"

	// TopKKey records the effective top-k of a retrieval call.
	TopKKey = "retrieval.top_k"

	// ScoreKey records a quality score (silhouette, recall).
	ScoreKey = "metrics.score"
)

// Configuration
const (
	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// HyperParamsKey contains estimator hyperparameters.
	HyperParamsKey = "model.hyperparams"
)

// Pipeline
const (
	// RunIDKey identifies one pipeline run.
	RunIDKey = "pipeline.run_id"

	// StageKey names the pipeline stage.
	StageKey = "pipeline.stage"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// PathKey records a file path read or written by the orchestrator.
	PathKey = "io.path"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationRank         = "rank"
	OperationFilter       = "filter"
	OperationScore        = "score"

	ErrorNotFitted     = "NOT_FITTED"
	ErrorShapeMismatch = "SHAPE_MISMATCH"
	ErrorEmptyData     = "EMPTY_DATA"
	ErrorNumerical     = "NUMERICAL"
	ErrorConvergence   = "CONVERGENCE_FAILURE"
)
