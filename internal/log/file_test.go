package log

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct {
	io.Writer
	closed chan struct{}
}

func (nc *nopCloser) Close() error {
	close(nc.closed)
	return nil
}

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := [...]struct {
		line       string
		err        bool
		errMessage string
		levels     []logrus.Level
	}{
		{
			line: "file",
			err:  true,
		},
		{
			line:   "file=/bytestreams.log",
			levels: logrus.AllLevels,
		},
		{
			line:   "file=/bytestreams.log,level=info",
			levels: logrus.AllLevels[:5],
		},
		{
			line:   "file=bytestreams.log,level=error",
			levels: logrus.AllLevels[:3],
		},
		{
			line:       "file=/a/c/log",
			err:        true,
			errMessage: "provided directory '/a/c' does not exist",
		},
		{
			line:       "file=,level=info",
			err:        true,
			errMessage: "filepath must not be empty",
		},
		{
			line:       "file=/bytestreams.log,level=tea",
			err:        true,
			errMessage: "unknown log level tea",
		},
		{
			line: "file=/bytestreams.log,unknown",
			err:  true,
		},
		{
			line: "file=/bytestreams.log,level=,",
			err:  true,
		},
		{
			line:       "file=/bytestreams.log,unknown=something",
			err:        true,
			errMessage: "unknown logfile config key unknown",
		},
		{
			line:       "unknown=something",
			err:        true,
			errMessage: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`",
		},
	}

	for _, test := range tests {
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			getCwd := func() (string, error) {
				return "/", nil
			}

			res, err := FileHookFromConfigLine(afero.NewMemMapFs(), getCwd, logrus.New(), test.line)

			if test.err {
				require.Error(t, err)

				if test.errMessage != "" {
					require.Equal(t, test.errMessage, err.Error())
				}

				return
			}

			require.NoError(t, err)
			hook, ok := res.(*fileHook)
			require.True(t, ok)
			assert.NotNil(t, hook.w)
			assert.Equal(t, test.levels, hook.Levels())
		})
	}
}

func TestFileHookListen(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	nc := &nopCloser{
		Writer: &buffer,
		closed: make(chan struct{}),
	}

	hook := &fileHook{
		loglines:       make(chan []byte, fileHookBufferSize),
		w:              nc,
		bw:             bufio.NewWriter(nc),
		levels:         logrus.AllLevels,
		fallbackLogger: logrus.New(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hook.Listen(ctx)

	logger := logrus.New()
	logger.AddHook(hook)
	logger.SetOutput(io.Discard)

	logger.WithField("component", "bytestream").Info("stream closed")

	cancel()
	<-nc.closed

	assert.Contains(t, buffer.String(), "stream closed")
	assert.Contains(t, buffer.String(), "component=bytestream")
}

func TestFileHookWritesToFS(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/var/log", 0o755))

	hook, err := FileHookFromConfigLine(fs, func() (string, error) { return "/var", nil }, logrus.New(), "file=log/cat.log")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hook.Listen(ctx)
		close(done)
	}()

	logger := logrus.New()
	logger.AddHook(hook)
	logger.SetOutput(io.Discard)
	logger.Warn("source exhausted")

	cancel()
	<-done

	data, err := afero.ReadFile(fs, "/var/log/cat.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "source exhausted")
}
