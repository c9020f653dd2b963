// Package model は推定器が共有する状態管理・インターフェース・永続化を提供します。
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (*mat.Dense, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (*mat.Dense, error)
}

// Clusterer はクラスタリングモデルのインターフェース
type Clusterer interface {
	// Fit はクラスタ中心を学習する
	Fit(X mat.Matrix) error

	// Predict は各サンプルに最も近いクラスタのインデックスを返す
	Predict(X mat.Matrix) ([]int, error)

	// FitPredict はFitの後に学習データのラベルを返す
	FitPredict(X mat.Matrix) ([]int, error)
}

// Labeler はサンプルごとに整数ラベルを付けるモデルのインターフェース。
// 外れ値検出器はノイズに負のラベルを使う。
type Labeler interface {
	FitPredict(X mat.Matrix) ([]int, error)
}

// Fittable は学習状態を問い合わせられるモデル
type Fittable interface {
	IsFitted() bool
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}
