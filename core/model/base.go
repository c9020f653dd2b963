package model

import (
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// EstimatorState はモデルの学習状態を表す
type EstimatorState int

const (
	// NotFitted はモデルが未学習の状態
	NotFitted EstimatorState = iota
	// Fitted はモデルが学習済みの状態
	Fitted
)

// BaseEstimator は全てのモデルの基底となる構造体
//
// フィールドはgobでスナップショットに含められるよう公開している。
// 並行アクセスの保護は埋め込む側のミューテックスで行う。
type BaseEstimator struct {
	State     EstimatorState
	NFeatures int // 学習時の特徴量数
	NSamples  int // 学習時のサンプル数
}

// IsFitted はモデルが学習済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.State == Fitted
}

// SetFitted はモデルを学習済み状態に設定する
func (e *BaseEstimator) SetFitted() {
	e.State = Fitted
}

// SetDimensions は学習時に観測した形状を記録する
func (e *BaseEstimator) SetDimensions(nSamples, nFeatures int) {
	e.NSamples = nSamples
	e.NFeatures = nFeatures
}

// Reset はモデルを初期状態にリセットする
func (e *BaseEstimator) Reset() {
	e.State = NotFitted
	e.NFeatures = 0
	e.NSamples = 0
}

// CheckFitted は未学習ならNotFittedErrorを返す
func (e *BaseEstimator) CheckFitted(modelName, method string) error {
	if !e.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// CheckFeatures は入力の特徴量数が学習時と一致するかを検証する
func (e *BaseEstimator) CheckFeatures(op string, got int) error {
	if got != e.NFeatures {
		return errors.NewShapeError(op, e.NFeatures, got, 1)
	}
	return nil
}
