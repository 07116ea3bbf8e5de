package tests

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.k6.io/bytestreams/errext/exitcodes"
	"go.k6.io/bytestreams/internal/cmd"
	"go.k6.io/bytestreams/internal/testutils"
)

func payload(size int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), size/16)
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newCatTestState(t *testing.T, args ...string) *GlobalTestState {
	t.Helper()

	ts := NewGlobalTestState(t)
	ts.CmdArgs = append([]string{"bytestreams", "cat"}, args...)
	return ts
}

func TestCat(t *testing.T) {
	t.Parallel()

	data := payload(64 * 1024)

	testCases := map[string]struct {
		file []byte
		args []string
	}{
		"default reads": {
			file: data,
			args: []string{"data.bin"},
		},
		"absolute path and small chunks": {
			file: data,
			args: []string{"--chunk-size", "1000", "/test/data.bin"},
		},
		"byob reads": {
			file: data,
			args: []string{"--byob", "--read-size", "300", "data.bin"},
		},
		"gzip": {
			file: gzipped(t, data),
			args: []string{"--encoding", "gzip", "data.bin"},
		},
		"zstd into byob reads": {
			file: zstded(t, data),
			args: []string{"--encoding", "zstd", "--byob", "--read-size", "4096", "data.bin"},
		},
		"buffering ahead": {
			file: data,
			args: []string{"--high-water-mark", "10000", "--chunk-size", "512", "data.bin"},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ts := newCatTestState(t, tc.args...)
			require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", tc.file, 0o644))

			cmd.ExecuteWithGlobalState(ts.GlobalState)

			assert.Equal(t, data, ts.Stdout.Bytes())
		})
	}
}

func TestCatStdin(t *testing.T) {
	t.Parallel()

	data := payload(10_000)

	for _, args := range [][]string{{}, {"-"}} {
		ts := newCatTestState(t, args...)
		ts.Stdin = bytes.NewReader(data)

		cmd.ExecuteWithGlobalState(ts.GlobalState)

		assert.Equal(t, data, ts.Stdout.Bytes())
	}
}

func TestCatSummary(t *testing.T) {
	t.Parallel()

	data := payload(1024)
	ts := newCatTestState(t, "--summary", "--encoding", "gzip", "data.bin.gz")
	require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin.gz", gzipped(t, data), 0o644))

	cmd.ExecuteWithGlobalState(ts.GlobalState)

	stderr := ts.Stderr.String()
	assert.Contains(t, stderr, "input: data.bin.gz")
	assert.Contains(t, stderr, "written: 1024 bytes")
	assert.Contains(t, stderr, "read: 1024 bytes")
	assert.NotContains(t, stderr, "\x1b[", "no colors when stderr is not a TTY")
}

func TestCatConfigConsolidation(t *testing.T) {
	t.Parallel()

	data := payload(4096)

	t.Run("config file", func(t *testing.T) {
		t.Parallel()

		ts := newCatTestState(t, "--config", "/test/config.json", "data.bin")
		require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", gzipped(t, data), 0o644))
		require.NoError(t, afero.WriteFile(ts.FS, "/test/config.json",
			[]byte(`{"source": {"encoding": "gzip", "chunkSize": 100}, "stream": {"highWaterMark": 1000}}`), 0o644))

		cmd.ExecuteWithGlobalState(ts.GlobalState)

		assert.Equal(t, data, ts.Stdout.Bytes())
	})

	t.Run("env overrides config file", func(t *testing.T) {
		t.Parallel()

		ts := newCatTestState(t, "data.bin")
		ts.Flags.ConfigFilePath = "/test/config.json"
		ts.Env["BYTESTREAMS_SOURCE_ENCODING"] = "identity"
		require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", data, 0o644))
		require.NoError(t, afero.WriteFile(ts.FS, "/test/config.json", []byte(`{"source": {"encoding": "gzip"}}`), 0o644))

		cmd.ExecuteWithGlobalState(ts.GlobalState)

		assert.Equal(t, data, ts.Stdout.Bytes())
	})

	t.Run("flags override env", func(t *testing.T) {
		t.Parallel()

		ts := newCatTestState(t, "--encoding", "gzip", "data.bin")
		ts.Env["BYTESTREAMS_SOURCE_ENCODING"] = "br"
		require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", gzipped(t, data), 0o644))

		cmd.ExecuteWithGlobalState(ts.GlobalState)

		assert.Equal(t, data, ts.Stdout.Bytes())
	})
}

func TestCatFailures(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		args     []string
		env      map[string]string
		config   string
		file     []byte
		exitCode exitcodes.ExitCode
		message  string
	}{
		"missing file": {
			args:     []string{"missing.bin"},
			exitCode: exitcodes.CannotOpenSource,
			message:  "couldn't open the input",
		},
		"invalid chunk size flag": {
			args:     []string{"--chunk-size", "0", "data.bin"},
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "chunk size must be a positive integer",
		},
		"chunk size too large": {
			args:     []string{"--chunk-size", "9223372036854775807", "data.bin"},
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "chunk size must not exceed",
		},
		"negative high water mark": {
			args:     []string{"--high-water-mark", "-1", "data.bin"},
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "highWaterMark",
		},
		"invalid env": {
			args:     []string{"data.bin"},
			env:      map[string]string{"BYTESTREAMS_SOURCE_ENCODING": "lzma"},
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  `unsupported encoding "lzma"`,
		},
		"invalid config file": {
			args:     []string{"--config", "/test/config.json", "data.bin"},
			config:   `{"source": `,
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "couldn't parse the configuration",
		},
		"config file is not an object": {
			args:     []string{"--config", "/test/config.json", "data.bin"},
			config:   `["source"]`,
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "not a JSON object",
		},
		"invalid read size": {
			args:     []string{"--byob", "--read-size", "0", "data.bin"},
			file:     []byte("data"),
			exitCode: exitcodes.InvalidConfig,
			message:  "read size must be a positive integer",
		},
		"corrupted input": {
			args:     []string{"--encoding", "gzip", "data.bin"},
			file:     []byte("this is not gzip"),
			exitCode: exitcodes.StreamErrored,
			message:  "error decompressing stream",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ts := newCatTestState(t, tc.args...)
			ts.ExpectedExitCode = int(tc.exitCode)
			for k, v := range tc.env {
				ts.Env[k] = v
			}
			if tc.file != nil {
				require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", tc.file, 0o644))
			}
			if tc.config != "" {
				require.NoError(t, afero.WriteFile(ts.FS, "/test/config.json", []byte(tc.config), 0o644))
			}

			cmd.ExecuteWithGlobalState(ts.GlobalState)

			assert.Empty(t, ts.Stdout.String())
			assert.True(t, testutils.LogContains(ts.LoggerHook.Drain(), logrus.ErrorLevel, tc.message))
		})
	}
}

func TestCatAbortedByContext(t *testing.T) {
	t.Parallel()

	ts := newCatTestState(t, "-")
	ts.ExpectedExitCode = int(exitcodes.ExternalAbort)

	// stdin never delivers anything, the transfer only ends once aborted
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	ts.Stdin = pr
	ts.Cancel()

	cmd.ExecuteWithGlobalState(ts.GlobalState)

	entries := ts.LoggerHook.Drain()
	require.True(t, testutils.LogContains(entries, logrus.ErrorLevel, "transfer aborted by signal"))
	for _, e := range testutils.FilterEntries(entries, logrus.ErrorLevel, "transfer aborted") {
		assert.Equal(t, "the output is truncated", e.Data["hint"])
	}
}

func TestCatVerboseLogsToFile(t *testing.T) {
	t.Parallel()

	ts := newCatTestState(t, "--verbose", "--log-output", "file=cat.log", "data.bin")
	require.NoError(t, afero.WriteFile(ts.FS, "/test/data.bin", []byte("hello"), 0o644))

	cmd.ExecuteWithGlobalState(ts.GlobalState)

	assert.Equal(t, "hello", ts.Stdout.String())
	assert.Empty(t, ts.Stderr.String())

	logs, err := afero.ReadFile(ts.FS, "/test/cat.log")
	require.NoError(t, err)
	for _, line := range []string{"source exhausted", "stream closed", "component=bytestream"} {
		assert.True(t, strings.Contains(string(logs), line), line)
	}
}
