package sources

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compress encodes data with encoding, using the matching encoder.
func compress(t testing.TB, encoding Encoding, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case EncodingGzip:
		w = gzip.NewWriter(&buf)
	case EncodingDeflate:
		w = zlib.NewWriter(&buf)
	case EncodingZstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = zw
	case EncodingBr:
		w = brotli.NewWriter(&buf)
	default:
		return data
	}

	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestNewDecompressingReader(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 512)

	for _, encoding := range []Encoding{EncodingIdentity, EncodingGzip, EncodingDeflate, EncodingZstd, EncodingBr} {
		t.Run(string(encoding), func(t *testing.T) {
			t.Parallel()

			r, err := NewDecompressingReader(encoding, bytes.NewReader(compress(t, encoding, payload)))
			require.NoError(t, err)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.NoError(t, r.Close())
		})
	}
}

func TestDecompressionErrors(t *testing.T) {
	t.Parallel()

	t.Run("unsupported encoding", func(t *testing.T) {
		t.Parallel()

		_, err := NewDecompressingReader("lzma", bytes.NewReader(nil))
		var decErr *DecompressionError
		require.ErrorAs(t, err, &decErr)
		assert.Contains(t, err.Error(), `unsupported encoding "lzma"`)
	})

	t.Run("bad gzip header", func(t *testing.T) {
		t.Parallel()

		_, err := NewDecompressingReader(EncodingGzip, bytes.NewReader([]byte("definitely not gzip")))
		var decErr *DecompressionError
		require.ErrorAs(t, err, &decErr)
		assert.ErrorIs(t, err, gzip.ErrHeader)
	})

	t.Run("corrupted zstd frame", func(t *testing.T) {
		t.Parallel()

		r, err := NewDecompressingReader(EncodingZstd, bytes.NewReader([]byte("definitely not zstd")))
		require.NoError(t, err)
		defer func() { _ = r.Close() }()

		_, err = io.ReadAll(r)
		err = wrapDecompressionError(err)
		var decErr *DecompressionError
		require.ErrorAs(t, err, &decErr)
		assert.Contains(t, err.Error(), "error decompressing stream")
	})

	t.Run("other errors pass through", func(t *testing.T) {
		t.Parallel()

		errOther := errors.New("connection reset")
		assert.Equal(t, errOther, wrapDecompressionError(errOther))
		assert.NoError(t, wrapDecompressionError(nil))
	})
}
