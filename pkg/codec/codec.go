// Package codec selects a stream compressor from a file name suffix.
//
// ".zst" uses zstd, ".lz4" uses the lz4 frame format, anything else is passed through.
// Embedding matrices and fitted models are written and read through the same helpers.
package codec

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// Type is the compression applied to a stream.
type Type uint8

const (
	// None は無圧縮。
	None Type = iota
	// Zstd は zstd ストリーム圧縮。
	Zstd
	// LZ4 は lz4 フレーム圧縮。
	LZ4
)

func (t Type) String() string {
	switch t {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "none"
	}
}

// Detect returns the compression implied by the suffix of path.
func Detect(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	default:
		return None
	}
}

// BaseExt returns the extension of path with any compression suffix removed,
// e.g. ".csv" for "images.csv.zst".
func BaseExt(path string) string {
	if Detect(path) != None {
		path = strings.TrimSuffix(path, filepath.Ext(path))
	}
	return strings.ToLower(filepath.Ext(path))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter wraps w with the compressor t. Closing the returned writer flushes the
// compressor but does not close w.
func NewWriter(w io.Writer, t Type) (io.WriteCloser, error) {
	switch t {
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd encoder")
		}
		return enc, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// NewReader wraps r with the decompressor t. Closing the returned reader releases the
// decoder but does not close r.
func NewReader(r io.Reader, t Type) (io.ReadCloser, error) {
	switch t {
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd decoder")
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

type fileWriter struct {
	file *os.File
	buf  *bufio.Writer
	comp io.WriteCloser
}

func (f *fileWriter) Write(p []byte) (int, error) { return f.comp.Write(p) }

func (f *fileWriter) Close() error {
	if err := f.comp.Close(); err != nil {
		_ = f.file.Close()
		return errors.Wrap(err, "failed to finish compressed stream")
	}
	if err := f.buf.Flush(); err != nil {
		_ = f.file.Close()
		return errors.Wrap(err, "failed to flush file")
	}
	return f.file.Close()
}

// Create creates path and returns a writer compressing according to its suffix.
func Create(path string) (io.WriteCloser, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	buf := bufio.NewWriter(file)
	comp, err := NewWriter(buf, Detect(path))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &fileWriter{file: file, buf: buf, comp: comp}, nil
}

type fileReader struct {
	file   *os.File
	decomp io.ReadCloser
}

func (f *fileReader) Read(p []byte) (int, error) { return f.decomp.Read(p) }

func (f *fileReader) Close() error {
	_ = f.decomp.Close()
	return f.file.Close()
}

// Open opens path and returns a reader decompressing according to its suffix.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	decomp, err := NewReader(bufio.NewReader(file), Detect(path))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &fileReader{file: file, decomp: decomp}, nil
}
