package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestGetConsolidatedConfig(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		jsonRaw  []byte
		env      map[string]string
		expected Config
		err      string
	}{
		"defaults": {
			expected: NewConfig(),
		},
		"json": {
			jsonRaw: []byte(`{"chunkSize":1024,"encoding":"gzip"}`),
			expected: Config{
				ChunkSize: null.IntFrom(1024),
				Encoding:  null.StringFrom("gzip"),
				RateLimit: null.NewInt(0, false),
			},
		},
		"env overrides json": {
			jsonRaw: []byte(`{"chunkSize":1024,"rateLimit":10}`),
			env: map[string]string{
				"BYTESTREAMS_SOURCE_CHUNK_SIZE": "2048",
				"BYTESTREAMS_SOURCE_ENCODING":   "zstd",
			},
			expected: Config{
				ChunkSize: null.IntFrom(2048),
				Encoding:  null.StringFrom("zstd"),
				RateLimit: null.IntFrom(10),
			},
		},
		"invalid json": {
			jsonRaw: []byte(`{"chunkSize":`),
			err:     "unexpected end of JSON input",
		},
		"invalid env": {
			env: map[string]string{"BYTESTREAMS_SOURCE_RATE_LIMIT": "fast"},
			err: "RATE_LIMIT",
		},
		"zero chunk size": {
			jsonRaw: []byte(`{"chunkSize":0}`),
			err:     "chunk size must be a positive integer",
		},
		"chunk size too large": {
			env: map[string]string{"BYTESTREAMS_SOURCE_CHUNK_SIZE": "9223372036854775807"},
			err: "chunk size must not exceed",
		},
		"negative rate limit": {
			env: map[string]string{"BYTESTREAMS_SOURCE_RATE_LIMIT": "-1"},
			err: "rate limit must not be negative",
		},
		"unknown encoding": {
			env: map[string]string{"BYTESTREAMS_SOURCE_ENCODING": "lzma"},
			err: `unsupported encoding "lzma"`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			config, err := GetConsolidatedConfig(tc.jsonRaw, tc.env)
			if tc.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, config)
		})
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	for input, expected := range map[string]Encoding{
		"":         EncodingIdentity,
		"identity": EncodingIdentity,
		"GZIP":     EncodingGzip,
		" br ":     EncodingBr,
		"deflate":  EncodingDeflate,
		"zstd":     EncodingZstd,
	} {
		encoding, err := ParseEncoding(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, encoding, input)
	}

	_, err := ParseEncoding("compress")
	assert.Error(t, err)
}
