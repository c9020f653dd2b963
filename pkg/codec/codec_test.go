package codec

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		path    string
		want    Type
		baseExt string
	}{
		{"images.csv", None, ".csv"},
		{"images.csv.zst", Zstd, ".csv"},
		{"IMAGES.JSON.LZ4", LZ4, ".json"},
		{"model.gob.zstd", Zstd, ".gob"},
		{"noext", None, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.path))
			assert.Equal(t, tt.baseExt, BaseExt(tt.path))
		})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	payload := strings.Repeat("0.125,0.25,0.5\n", 200)

	for _, typ := range []Type{None, Zstd, LZ4} {
		t.Run(typ.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, typ)
			require.NoError(t, err)
			_, err = io.WriteString(w, payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if typ != None {
				assert.Less(t, buf.Len(), len(payload))
			}

			r, err := NewReader(&buf, typ)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestCreateOpen(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "a.txt.zst", "a.txt.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			w, err := Create(path)
			require.NoError(t, err)
			_, err = io.WriteString(w, "hello embeddings")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := Open(path)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, "hello embeddings", string(got))
		})
	}

	_, err := Open(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
