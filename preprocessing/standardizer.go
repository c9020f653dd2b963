package preprocessing

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// DefaultEpsilon は標準偏差に加算してゼロ除算を避ける値
const DefaultEpsilon = 1e-8

// Standardizer は特徴量ごとに平均0・分散1へ変換するスケーラー
//
// パラメータ（平均と母標準偏差）は最初に見たデータで一度だけ確定し、以降の入力には
// 同じパラメータを適用する。学習データとテストデータを同じ基準で変換するためである。
// 変換式は (x - mean) / (std + eps)。
type Standardizer struct {
	model.BaseEstimator

	mu sync.RWMutex

	// Mean は各特徴量の平均値
	Mean []float64

	// Std は各特徴量の母標準偏差（ddof=0）
	Std []float64

	// Epsilon は分母に加える小さな値 (デフォルト: 1e-8)
	Epsilon float64

	logger log.Logger
}

// StandardizerOption はStandardizerの設定オプション
type StandardizerOption func(*Standardizer)

// WithEpsilon は分母に加える値を設定する
func WithEpsilon(eps float64) StandardizerOption {
	return func(s *Standardizer) {
		s.Epsilon = eps
	}
}

// WithStandardizerLogger はロガーを差し替える
func WithStandardizerLogger(l log.Logger) StandardizerOption {
	return func(s *Standardizer) {
		s.logger = l
	}
}

// NewStandardizer は新しいStandardizerを作成する
//
// 使用例:
//
//	s := preprocessing.NewStandardizer()
//	Z, err := s.Apply(Xtrain)  // パラメータを確定して変換
//	Zt, err := s.Apply(Xtest)  // 同じパラメータで変換
func NewStandardizer(opts ...StandardizerOption) *Standardizer {
	s := &Standardizer{Epsilon: DefaultEpsilon}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("preprocessing.standardizer")
	}
	return s
}

// Fit は訓練データから平均と標準偏差を計算し、既存のパラメータを置き換える
func (s *Standardizer) Fit(X mat.Matrix) error {
	mean, std, err := columnStats("Standardizer.Fit", X)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(X, mean, std)
	return nil
}

// FitOrReuse はパラメータが未確定の場合のみXから計算する。
// 確定済みなら何もせず、特徴量数だけを検証する。
func (s *Standardizer) FitOrReuse(X mat.Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsFitted() {
		_, c := X.Dims()
		return s.CheckFeatures("Standardizer.FitOrReuse", c)
	}

	mean, std, err := columnStats("Standardizer.FitOrReuse", X)
	if err != nil {
		return err
	}
	s.commit(X, mean, std)
	return nil
}

func (s *Standardizer) commit(X mat.Matrix, mean, std []float64) {
	r, c := X.Dims()
	s.Mean = mean
	s.Std = std
	s.SetDimensions(r, c)
	s.SetFitted()
	s.logger.Debug("standardizer fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)
}

// columnStats は各列の平均と母標準偏差を計算する
func columnStats(op string, X mat.Matrix) ([]float64, []float64, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewEmptyInputError(op)
	}
	if err := errors.CheckMatrix(op, X, 0); err != nil {
		return nil, nil, err
	}

	mean := make([]float64, c)
	std := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		m, v := stat.PopMeanVariance(col, nil)
		mean[j] = m
		std[j] = math.Sqrt(v)
	}
	return mean, std, nil
}

// Apply はパラメータを（未確定なら）確定させてからXを変換する
func (s *Standardizer) Apply(X mat.Matrix) (*mat.Dense, error) {
	if err := s.FitOrReuse(X); err != nil {
		return nil, err
	}
	return s.transform("Standardizer.Apply", X)
}

// Transform は確定済みのパラメータでXを標準化する
func (s *Standardizer) Transform(X mat.Matrix) (*mat.Dense, error) {
	return s.transform("Standardizer.Transform", X)
}

func (s *Standardizer) transform(op string, X mat.Matrix) (*mat.Dense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.CheckFitted("Standardizer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.CheckFeatures(op, c); err != nil {
		return nil, err
	}
	if r == 0 {
		return nil, errors.NewEmptyInputError(op)
	}

	result := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		denom := s.Std[j] + s.Epsilon
		for i := 0; i < r; i++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/denom)
		}
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *Standardizer) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *Standardizer) InverseTransform(X mat.Matrix) (*mat.Dense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.CheckFitted("Standardizer", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.CheckFeatures("Standardizer.InverseTransform", c); err != nil {
		return nil, err
	}
	if r == 0 {
		return nil, errors.NewEmptyInputError("Standardizer.InverseTransform")
	}

	result := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		scale := s.Std[j] + s.Epsilon
		for i := 0; i < r; i++ {
			result.Set(i, j, X.At(i, j)*scale+s.Mean[j])
		}
	}
	return result, nil
}

// Params は確定済みの平均と標準偏差のコピーを返す
func (s *Standardizer) Params() (mean, std []float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.CheckFitted("Standardizer", "Params"); err != nil {
		return nil, nil, err
	}
	return append([]float64(nil), s.Mean...), append([]float64(nil), s.Std...), nil
}

// RestoreParams は保存済みのパラメータで状態を復元する
func (s *Standardizer) RestoreParams(mean, std []float64, nSamples int) error {
	if len(mean) != len(std) {
		return errors.NewShapeError("Standardizer.RestoreParams", len(mean), len(std), 1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mean = append([]float64(nil), mean...)
	s.Std = append([]float64(nil), std...)
	s.SetDimensions(nSamples, len(mean))
	s.SetFitted()
	return nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *Standardizer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"epsilon": s.Epsilon,
	}
}

// String はスケーラーの文字列表現を返す
func (s *Standardizer) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("Standardizer(epsilon=%g)", s.Epsilon)
	}
	return fmt.Sprintf("Standardizer(epsilon=%g, n_features=%d)", s.Epsilon, s.NFeatures)
}
