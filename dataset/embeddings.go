package dataset

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/embedcluster/pkg/codec"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// Format は埋め込みファイルの形式
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatOf は圧縮拡張子を除いた拡張子から形式を判定する
func FormatOf(path string) (Format, error) {
	switch codec.BaseExt(path) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.NewValidationError("path", "unsupported embedding file extension", path)
	}
}

type jsonEmbeddings struct {
	Vectors [][]float64 `json:"vectors"`
}

// LoadEmbeddings は埋め込み行列を読み込む
//
// .csvは1行1ベクトル（数値でない先頭行はヘッダとして読み飛ばす）、
// .jsonは配列の配列か {"vectors": [...]} を受け付ける。
// 行ごとに次元が異なる場合はShapeErrorを返す。
func LoadEmbeddings(path string) (*mat.Dense, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := codec.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	X, err := ReadEmbeddings(f, format)
	if err != nil {
		return nil, errors.Wrapf(err, "load embeddings %s", path)
	}
	return X, nil
}

// ReadEmbeddings はrから指定形式の埋め込み行列を読み込む
func ReadEmbeddings(r io.Reader, format Format) (*mat.Dense, error) {
	var rows [][]float64
	var err error
	switch format {
	case FormatCSV:
		rows, err = readCSVRows(r)
	case FormatJSON:
		rows, err = readJSONRows(r)
	default:
		return nil, errors.NewValidationError("format", "unsupported", format)
	}
	if err != nil {
		return nil, err
	}
	return toDense(rows)
}

func readCSVRows(r io.Reader) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		row, err := parseRow(rec)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, errors.Wrapf(err, "parse line %d", line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string) ([]float64, error) {
	row := make([]float64, len(rec))
	for j, s := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		row[j] = v
	}
	return row, nil
}

func readJSONRows(r io.Reader) ([][]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read json")
	}

	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var obj jsonEmbeddings
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Wrap(err, "parse json: expected array of arrays or object with 'vectors' field")
	}
	return obj.Vectors, nil
}

func toDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.NewEmptyInputError("LoadEmbeddings")
	}
	d := len(rows[0])
	X := mat.NewDense(len(rows), d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, errors.Wrapf(errors.NewShapeError("LoadEmbeddings", d, len(row), 1), "row %d", i)
		}
		X.SetRow(i, row)
	}
	return X, nil
}

// WriteEmbeddings はXをpathに書き出す。形式と圧縮は拡張子から決まる。
func WriteEmbeddings(path string, X mat.Matrix) (err error) {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewEmptyInputError("WriteEmbeddings")
	}

	f, err := codec.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	if format == FormatJSON {
		return errors.Wrap(json.NewEncoder(f).Encode(jsonEmbeddings{Vectors: rows}), "encode json")
	}

	w := csv.NewWriter(f)
	rec := make([]string, c)
	for _, row := range rows {
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, "write csv")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush csv")
}
