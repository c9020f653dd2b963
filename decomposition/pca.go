// Package decomposition は主成分分析による次元削減を提供します。
//
// PCAは入力を特徴量ごとに標準化した後、標本共分散行列（ddof=1）を対称固有値分解し、
// 固有値の大きい順にK本の固有ベクトルを主成分として保持します。
package decomposition

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/embedcluster/core/model"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
	"github.com/YuminosukeSato/embedcluster/preprocessing"
)

// DefaultEigenTolerance は負の固有値を許容する相対誤差
const DefaultEigenTolerance = 1e-10

// PCA は主成分分析による次元削減器
type PCA struct {
	model.BaseEstimator

	mu sync.RWMutex

	// ハイパーパラメータ
	nComponents int
	eigenTol    float64

	// 学習パラメータ
	scaler            *preprocessing.Standardizer
	components        *mat.Dense // D x K
	explainedVariance []float64  // K
	totalVariance     float64

	logger log.Logger
}

// PCAOption はPCAの設定オプション
type PCAOption func(*PCA)

// WithEigenTolerance は負の固有値の許容誤差（最大固有値に対する相対値）を設定
func WithEigenTolerance(tol float64) PCAOption {
	return func(p *PCA) {
		p.eigenTol = tol
	}
}

// WithPCALogger はロガーを差し替える
func WithPCALogger(l log.Logger) PCAOption {
	return func(p *PCA) {
		p.logger = l
	}
}

// NewPCA は主成分数nComponentsのPCAを作成
//
// 使用例:
//
//	pca := decomposition.NewPCA(2)
//	Y, err := pca.FitTransform(X) // N x 2
func NewPCA(nComponents int, opts ...PCAOption) *PCA {
	p := &PCA{
		nComponents: nComponents,
		eigenTol:    DefaultEigenTolerance,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("decomposition.pca")
	}
	p.logger = p.logger.With(log.ModelNameKey, "PCA")
	return p
}

// Fit は主成分を学習する
//
// 失敗した場合は以前の学習状態を保持する。
func (p *PCA) Fit(X mat.Matrix) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewEmptyInputError("PCA.Fit")
	}
	if p.nComponents < 1 || p.nComponents > c {
		return errors.NewValidationError("n_components", fmt.Sprintf("must be in [1, %d]", c), p.nComponents)
	}
	if r < 2 {
		return errors.NewNumericalError("PCA.Fit", "at least 2 samples are required for the sample covariance", nil, 0)
	}

	scaler := preprocessing.NewStandardizer(preprocessing.WithStandardizerLogger(p.logger))
	Z, err := scaler.Apply(X)
	if err != nil {
		return err
	}

	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, Z, nil)
	if err := errors.CheckMatrix("PCA.Fit", cov, 0); err != nil {
		return err
	}

	var eig mat.EigenSym
	var ok bool
	if err := errors.SafeExecute("PCA.Fit", func() error {
		ok = eig.Factorize(cov, true)
		return nil
	}); err != nil {
		return errors.Mark(err, errors.ErrEigenFactorization)
	}
	if !ok {
		return errors.Mark(errors.NewNumericalError("PCA.Fit", "symmetric eigendecomposition did not converge", nil, 0), errors.ErrEigenFactorization)
	}
	values := eig.Values(nil)
	if err := errors.CheckVector("PCA.Fit", values, 0); err != nil {
		return err
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	values, err = p.clampEigenvalues(values)
	if err != nil {
		return err
	}

	// 固有値の降順（同値はインデックス順）
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	components := mat.NewDense(c, p.nComponents, nil)
	explained := make([]float64, p.nComponents)
	col := make([]float64, c)
	for k := 0; k < p.nComponents; k++ {
		idx := order[k]
		mat.Col(col, idx, &vectors)
		orientComponent(col)
		components.SetCol(k, col)
		explained[k] = values[idx]
	}

	p.scaler = scaler
	p.components = components
	p.explainedVariance = explained
	p.totalVariance = floats.Sum(values)
	p.SetDimensions(r, c)
	p.SetFitted()

	p.logger.Info("pca fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
		log.ComponentsKey, p.nComponents,
		log.ExplainedVarianceKey, sumRatio(explained, p.totalVariance),
	)
	return nil
}

// clampEigenvalues は丸め誤差による小さな負の固有値を0にする。
// 許容範囲を超える負の値はNumericalError。
func (p *PCA) clampEigenvalues(values []float64) ([]float64, error) {
	largest := 0.0
	for _, v := range values {
		largest = math.Max(largest, math.Abs(v))
	}
	out := make([]float64, len(values))
	var bad []float64
	for i, v := range values {
		if v < 0 {
			if v < -p.eigenTol*largest {
				bad = append(bad, v)
			}
			v = 0
		}
		out[i] = v
	}
	if len(bad) > 0 {
		return nil, errors.NewNumericalError("PCA.Fit", "covariance has significantly negative eigenvalues", bad, 0)
	}
	return out, nil
}

// orientComponent は絶対値最大の要素が正になるよう符号を揃える
func orientComponent(v []float64) {
	maxIdx := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[maxIdx]) {
			maxIdx = i
		}
	}
	if v[maxIdx] < 0 {
		floats.Scale(-1, v)
	}
}

func sumRatio(explained []float64, total float64) float64 {
	return errors.SafeDivide(floats.Sum(explained), total)
}

// Transform は学習済みの標準化パラメータと主成分でXを射影する（N x K）
func (p *PCA) Transform(X mat.Matrix) (*mat.Dense, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.CheckFitted("PCA", "Transform"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := p.CheckFeatures("PCA.Transform", c); err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix("PCA.Transform", X, 0); err != nil {
		return nil, err
	}

	Z, err := p.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	var projected mat.Dense
	projected.Mul(Z, p.components)
	return &projected, nil
}

// FitTransform は学習と変換を同時に行う
func (p *PCA) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := p.Fit(X); err != nil {
		return nil, err
	}
	return p.Transform(X)
}

// NComponents は主成分数を返す
func (p *PCA) NComponents() int {
	return p.nComponents
}

// Components は標準化空間での主成分（D x K、列が単位ベクトル）のコピーを返す
func (p *PCA) Components() (*mat.Dense, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.CheckFitted("PCA", "Components"); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(p.components), nil
}

// ComponentsInFeatureSpace は主成分を元の特徴量スケールに戻した方向（D x K、単位ベクトル）を返す。
// 例えば y = 2x 上の点列では第1主成分は (1, 2) に平行になる。
func (p *PCA) ComponentsInFeatureSpace() (*mat.Dense, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.CheckFitted("PCA", "ComponentsInFeatureSpace"); err != nil {
		return nil, err
	}

	d, k := p.components.Dims()
	out := mat.NewDense(d, k, nil)
	col := make([]float64, d)
	for j := 0; j < k; j++ {
		mat.Col(col, j, p.components)
		for i := range col {
			col[i] *= p.scaler.Std[i] + p.scaler.Epsilon
		}
		if n := floats.Norm(col, 2); n > 0 {
			floats.Scale(1/n, col)
		}
		out.SetCol(j, col)
	}
	return out, nil
}

// ExplainedVariance は各主成分の分散（固有値）を返す
func (p *PCA) ExplainedVariance() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.explainedVariance...)
}

// ExplainedVarianceRatio は各主成分が説明する分散の割合を返す
func (p *PCA) ExplainedVarianceRatio() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ratio := make([]float64, len(p.explainedVariance))
	for i, v := range p.explainedVariance {
		ratio[i] = errors.SafeDivide(v, p.totalVariance)
	}
	return ratio
}

// GetParams はハイパーパラメータを返す
func (p *PCA) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_components":    p.nComponents,
		"eigen_tolerance": p.eigenTol,
	}
}

// PCASnapshot はPCAのgob表現
type PCASnapshot struct {
	model.BaseEstimator
	NComponents       int
	EigenTolerance    float64
	Mean              []float64
	Std               []float64
	Epsilon           float64
	Components        []float64 // 行優先 D x K
	ExplainedVariance []float64
	TotalVariance     float64
}

// GobEncode implements gob.GobEncoder.
func (p *PCA) GobEncode() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := PCASnapshot{
		BaseEstimator:  p.BaseEstimator,
		NComponents:    p.nComponents,
		EigenTolerance: p.eigenTol,
	}
	if p.IsFitted() {
		d, k := p.components.Dims()
		snap.Components = make([]float64, 0, d*k)
		for i := 0; i < d; i++ {
			snap.Components = append(snap.Components, p.components.RawRowView(i)...)
		}
		snap.Mean, snap.Std, _ = p.scaler.Params()
		snap.Epsilon = p.scaler.Epsilon
		snap.ExplainedVariance = p.explainedVariance
		snap.TotalVariance = p.totalVariance
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "failed to encode PCA")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (p *PCA) GobDecode(data []byte) error {
	var snap PCASnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "failed to decode PCA")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logger == nil {
		p.logger = log.GetLoggerWithName("decomposition.pca").With(log.ModelNameKey, "PCA")
	}
	p.nComponents = snap.NComponents
	p.eigenTol = snap.EigenTolerance
	p.BaseEstimator = snap.BaseEstimator
	if !snap.IsFitted() {
		return nil
	}

	d := len(snap.Mean)
	if d == 0 || len(snap.Components) != d*snap.NComponents {
		return errors.NewShapeError("PCA.GobDecode", d*snap.NComponents, len(snap.Components), 0)
	}
	scaler := preprocessing.NewStandardizer(
		preprocessing.WithEpsilon(snap.Epsilon),
		preprocessing.WithStandardizerLogger(p.logger),
	)
	if err := scaler.RestoreParams(snap.Mean, snap.Std, snap.NSamples); err != nil {
		return err
	}
	p.scaler = scaler
	p.components = mat.NewDense(d, snap.NComponents, snap.Components)
	p.explainedVariance = snap.ExplainedVariance
	p.totalVariance = snap.TotalVariance
	return nil
}

// String はPCAの文字列表現を返す
func (p *PCA) String() string {
	return fmt.Sprintf("PCA(n_components=%d)", p.nComponents)
}
