// Package dataset reads label files and embedding matrices from disk.
//
// Files may be compressed; a ".zst" or ".lz4" suffix selects the decompressor
// (see pkg/codec). The estimators never touch the filesystem themselves.
package dataset

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/YuminosukeSato/embedcluster/pkg/codec"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// Column names of the label file.
const (
	ColumnImageName = "image_name"
	ColumnLabel     = "label"
	ColumnComment   = "comment"
)

// Records は画像名・ラベル・説明文の並列配列。
// i番目の要素はすべて同じサンプルを指し、埋め込み行列のi行目に対応する。
type Records struct {
	ImageNames []string
	Labels     []string
	Comments   []string
}

// Len はレコード数を返す
func (r *Records) Len() int {
	return len(r.ImageNames)
}

// LoadRecords はパイプ区切りのラベルファイルを読み込む
//
// 先頭行はヘッダで、image_name列は必須、label列とcomment列は任意。
// 各フィールドの前後の空白は取り除く。
func LoadRecords(path string) (*Records, error) {
	f, err := codec.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := ReadRecords(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load records %s", path)
	}
	return recs, nil
}

// ReadRecords はrからパイプ区切りのラベルデータを読み込む
func ReadRecords(r io.Reader) (*Records, error) {
	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewEmptyInputError("ReadRecords")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	nameCol, ok := col[ColumnImageName]
	if !ok {
		return nil, errors.NewValidationError("header", "missing "+ColumnImageName+" column", header)
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := &Records{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		if nameCol >= len(row) || strings.TrimSpace(row[nameCol]) == "" {
			continue
		}
		out.ImageNames = append(out.ImageNames, field(row, ColumnImageName))
		out.Labels = append(out.Labels, field(row, ColumnLabel))
		out.Comments = append(out.Comments, field(row, ColumnComment))
	}
	if out.Len() == 0 {
		return nil, errors.NewEmptyInputError("ReadRecords")
	}
	return out, nil
}
