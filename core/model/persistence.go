package model

import (
	"encoding/gob"
	"io"

	"github.com/YuminosukeSato/embedcluster/pkg/codec"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// SaveModel はモデルをファイルに保存する
//
// パスが ".zst" または ".lz4" で終わる場合は圧縮して書き込む。
// モデルはgobでエンコード可能である必要がある（PCA・KMeansはGobEncoderを実装）。
//
// 使用例:
//
//	km := cluster.NewKMeans(cluster.WithNClusters(6))
//	// ... km.Fit(X) ...
//	err := model.SaveModel(km, "kmeans.gob.zst")
func SaveModel(model interface{}, filename string) (err error) {
	w, err := codec.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return SaveModelToWriter(model, w)
}

// LoadModel はファイルからモデルを読み込む
//
// 圧縮形式はSaveModelと同じくファイル名の拡張子で判定する。
//
//	km := cluster.NewKMeans()
//	err := model.LoadModel(km, "kmeans.gob.zst")
func LoadModel(model interface{}, filename string) error {
	r, err := codec.Open(filename)
	if err != nil {
		return err
	}
	defer r.Close()
	return LoadModelFromReader(model, r)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
