package pipeline

import (
	"github.com/YuminosukeSato/embedcluster/cluster"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// Config はパイプライン全体の設定
type Config struct {
	// 入力
	ImagesPath string
	TextsPath  string
	LabelsPath string

	// 出力先ディレクトリ。空なら何も書き出さない
	OutDir string

	// NComponents はクラスタリングと外れ値検出に使う削減後の次元数。
	// 可視化用の2次元PCAはこれとは別に常に計算する
	NComponents int

	NClusters int
	MaxIter   int
	// Linkage は階層的クラスタリングのクラスタ間距離（ward, average, complete, single）
	Linkage    string
	Seed       int64
	Eps        float64
	MinSamples int
	TestSize   float64
	TopK       int

	// シルエット係数を計算するkの範囲 [KMin, KMax)
	KMin int
	KMax int

	// Retrieval の前に両側をL2正規化する
	NormalizeRetrieval bool

	Plots       bool
	MetricsFile string
	SaveModels  bool
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		NComponents: 3,
		NClusters:   6,
		MaxIter:     100,
		Linkage:     "ward",
		Seed:        42,
		Eps:         0.7,
		MinSamples:  3,
		TestSize:    0.2,
		TopK:        5,
		KMin:        2,
		KMax:        10,
	}
}

// Option はConfigの設定オプション
type Option func(*Config)

// NewConfig はDefaultConfigにオプションを適用した設定を返す
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithNComponents は削減後の次元数を設定
func WithNComponents(n int) Option {
	return func(c *Config) {
		c.NComponents = n
	}
}

// WithNClusters はK-Meansのクラスタ数を設定
func WithNClusters(n int) Option {
	return func(c *Config) {
		c.NClusters = n
	}
}

// WithMaxIter はK-Meansの最大反復回数を設定
func WithMaxIter(n int) Option {
	return func(c *Config) {
		c.MaxIter = n
	}
}

// WithLinkage は階層的クラスタリングのクラスタ間距離を設定
func WithLinkage(linkage string) Option {
	return func(c *Config) {
		c.Linkage = linkage
	}
}

// WithSeed は乱数シードを設定
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithDBSCAN は外れ値検出のパラメータを設定
func WithDBSCAN(eps float64, minSamples int) Option {
	return func(c *Config) {
		c.Eps = eps
		c.MinSamples = minSamples
	}
}

// WithTestSize はテスト用に取り分ける割合を設定
func WithTestSize(size float64) Option {
	return func(c *Config) {
		c.TestSize = size
	}
}

// WithTopK は検索で返す件数を設定
func WithTopK(k int) Option {
	return func(c *Config) {
		c.TopK = k
	}
}

// WithKRange はシルエット係数を計算するkの範囲 [min, max) を設定
func WithKRange(lo, hi int) Option {
	return func(c *Config) {
		c.KMin = lo
		c.KMax = hi
	}
}

// WithNormalizeRetrieval は検索前にL2正規化するかを設定
func WithNormalizeRetrieval(normalize bool) Option {
	return func(c *Config) {
		c.NormalizeRetrieval = normalize
	}
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if _, err := cluster.ParseLinkage(c.Linkage); err != nil {
		return err
	}
	switch {
	case c.NComponents < 1:
		return errors.NewValidationError("n_components", "must be at least 1", c.NComponents)
	case c.NClusters < 1:
		return errors.NewValidationError("n_clusters", "must be at least 1", c.NClusters)
	case c.MaxIter < 1:
		return errors.NewValidationError("max_iterations", "must be at least 1", c.MaxIter)
	case !(c.Eps > 0):
		return errors.NewValidationError("eps", "must be positive", c.Eps)
	case c.MinSamples < 1:
		return errors.NewValidationError("min_samples", "must be at least 1", c.MinSamples)
	case !(c.TestSize > 0 && c.TestSize < 1):
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	case c.TopK < 1:
		return errors.NewValidationError("top_k", "must be at least 1", c.TopK)
	case c.KMin < 2:
		return errors.NewValidationError("k_min", "must be at least 2", c.KMin)
	case c.KMax <= c.KMin:
		return errors.NewValidationError("k_max", "must be greater than k_min", c.KMax)
	}
	return nil
}
