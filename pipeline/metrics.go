package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

const namespace = "embedcluster"

// Metrics は1回の実行で集めるメトリクス。
// 実行ごとに専用のレジストリを持ち、終了後にtextfileとして書き出す。
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	stagesSkipped *prometheus.CounterVec
	samples       prometheus.Gauge
	noise         prometheus.Gauge
	inertia       *prometheus.GaugeVec
	iterations    *prometheus.GaugeVec
	silhouette    *prometheus.GaugeVec
	recall        prometheus.Gauge
	mrr           prometheus.Gauge
}

// NewMetrics は新しいレジストリにメトリクスを登録する
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"stage"}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Number of failed pipeline stages",
		}, []string{"stage"}),
		stagesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_skipped_total",
			Help:      "Number of optional stages skipped on degenerate input",
		}, []string{"stage"}),
		samples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "samples",
			Help:      "Number of image embeddings processed",
		}),
		noise: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlier_noise_samples",
			Help:      "Number of training samples labelled as noise",
		}),
		inertia: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kmeans_inertia",
			Help:      "Within-cluster sum of squared distances",
		}, []string{"model"}),
		iterations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kmeans_iterations",
			Help:      "Lloyd iterations run by the final fit",
		}, []string{"model"}),
		silhouette: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "silhouette_score",
			Help:      "Mean silhouette coefficient per cluster count",
		}, []string{"k"}),
		recall: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retrieval_recall_at_k",
			Help:      "Fraction of queries whose paired reference is in the top k",
		}),
		mrr: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retrieval_mrr",
			Help:      "Mean reciprocal rank of the paired reference",
		}),
	}
}

// Registry はメトリクスのレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile はnode_exporterのtextfile形式でpathに書き出す
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "write metrics %s", path)
	}
	return nil
}
