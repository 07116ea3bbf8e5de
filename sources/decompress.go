package sources

import (
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Encoding is a content encoding a [ReaderSource] can decompress.
type Encoding string

// The supported encodings. Their names follow the HTTP Content-Encoding tokens.
const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
	EncodingZstd     Encoding = "zstd"
	EncodingBr       Encoding = "br"
)

// ParseEncoding returns the encoding named s. An empty string is the identity encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "", EncodingIdentity:
		return EncodingIdentity, nil
	case EncodingGzip, EncodingDeflate, EncodingZstd, EncodingBr:
		return e, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// DecompressionError is returned when the bytes of a source could not be decompressed.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("error decompressing stream (%s)", e.Err.Error())
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}

//nolint:gochecknoglobals
var decompressionErrors = [...]error{
	zlib.ErrChecksum, zlib.ErrDictionary, zlib.ErrHeader,
	gzip.ErrChecksum, gzip.ErrHeader,
	zstd.ErrReservedBlockType, zstd.ErrCompressedSizeTooBig, zstd.ErrBlockTooSmall, zstd.ErrMagicMismatch,
	zstd.ErrWindowSizeExceeded, zstd.ErrWindowSizeTooSmall, zstd.ErrDecoderSizeExceeded, zstd.ErrUnknownDictionary,
	zstd.ErrFrameSizeExceeded, zstd.ErrCRCMismatch, zstd.ErrDecoderClosed,
}

// wrapDecompressionError turns the errors of the decoders into a [DecompressionError], and
// returns any other error as is.
func wrapDecompressionError(err error) error {
	if err == nil {
		return nil
	}

	for _, decErr := range decompressionErrors {
		if errors.Is(err, decErr) {
			return &DecompressionError{Err: err}
		}
	}
	// brotli does not export its errors
	if strings.HasPrefix(err.Error(), "brotli: ") {
		return &DecompressionError{Err: err}
	}
	return err
}

// Matches non-compliant io.Closer implementations (e.g. zstd.Decoder)
type ncloser interface {
	Close()
}

type readCloser struct {
	io.Reader
}

// Close readers with differing Close() implementations
func (r readCloser) Close() error {
	var err error
	switch v := r.Reader.(type) {
	case io.Closer:
		err = v.Close()
	case ncloser:
		v.Close()
	}
	return err
}

// NewDecompressingReader returns a reader decompressing r according to encoding. Closing it
// releases the decoder, not r.
//
// Some decoders read their header right away, so this may block on r.
func NewDecompressingReader(encoding Encoding, r io.Reader) (io.ReadCloser, error) {
	var (
		decoder io.Reader
		err     error
	)

	switch encoding {
	case EncodingIdentity, "":
		return io.NopCloser(r), nil
	case EncodingDeflate:
		decoder, err = zlib.NewReader(r)
	case EncodingGzip:
		decoder, err = gzip.NewReader(r)
	case EncodingZstd:
		decoder, err = zstd.NewReader(r)
	case EncodingBr:
		decoder = brotli.NewReader(r)
	default:
		err = fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, &DecompressionError{Err: err}
	}

	return readCloser{decoder}, nil
}
