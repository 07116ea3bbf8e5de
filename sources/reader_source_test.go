package sources

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/internal/testutils"
	"go.k6.io/bytestreams/promises"
	"go.k6.io/bytestreams/streams"
)

var errBoom = errors.New("boom")

type trackingCloser struct {
	io.Reader
	closed atomic.Bool
}

func (c *trackingCloser) Close() error {
	c.closed.Store(true)
	return nil
}

func randomPayload(size int) []byte {
	payload := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(payload) //nolint:gosec
	return payload
}

// readAll reads from reader until the stream is done, then calls done.
func readAll(reader *streams.ReadableStreamDefaultReader, done func(data []byte, err error)) {
	var data []byte
	var next func()
	next = func() {
		reader.Read().Then(func(result streams.ReadResult) {
			if result.Done {
				done(data, nil)
				return
			}
			data = append(data, result.Value...)
			next()
		}, func(err error) {
			done(data, err)
		})
	}
	next()
}

// readAllInto is readAll with a BYOB reader, reading into fresh buffers of size bytes.
func readAllInto(reader *streams.ReadableStreamBYOBReader, size int, opts streams.ReadIntoOptions, done func(data []byte, err error)) {
	var data []byte
	var next func()
	next = func() {
		reader.ReadInto(make([]byte, size), opts).Then(func(result streams.ReadResult) {
			data = append(data, result.Value...)
			if result.Done {
				done(data, nil)
				return
			}
			next()
		}, func(err error) {
			done(data, err)
		})
	}
	next()
}

func newTestSource(
	t *testing.T,
	loop *eventloop.EventLoop,
	logger logrus.FieldLogger,
	r io.Reader,
	config Config,
) (*ReaderSource, *streams.ReadableStream) {
	t.Helper()

	source, err := NewReaderSource(context.Background(), loop, logger, r, config)
	require.NoError(t, err)

	stream, err := source.NewStream(streams.NewOptions())
	require.NoError(t, err)

	return source, stream
}

func TestReaderSourceDefaultReads(t *testing.T) {
	t.Parallel()

	payload := randomPayload(10_000)
	src := &trackingCloser{Reader: bytes.NewReader(payload)}

	var (
		got     []byte
		readErr error
		source  *ReaderSource
		state   streams.ReadableStreamState
	)
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		var stream *streams.ReadableStream
		source, stream = newTestSource(t, loop, nil, src, Config{ChunkSize: null.IntFrom(1000)})

		reader, err := stream.GetReader()
		if err != nil {
			return err
		}

		readAll(reader, func(data []byte, err error) {
			got, readErr = data, err
			state = stream.State()
		})
		return nil
	})

	require.NoError(t, readErr)
	assert.Equal(t, payload, got)
	assert.Equal(t, streams.ReadableStreamStateClosed, state)
	assert.EqualValues(t, len(payload), source.BytesRead())
	assert.True(t, src.closed.Load())
}

func TestReaderSourceBYOBReads(t *testing.T) {
	t.Parallel()

	payload := randomPayload(10_000)

	var (
		got     []byte
		readErr error
	)
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		// halving every read leaves the BYOB views partially filled by each pull
		_, stream := newTestSource(t, loop, nil, iotest.HalfReader(bytes.NewReader(payload)), Config{ChunkSize: null.IntFrom(512)})

		reader, err := stream.GetBYOBReader()
		if err != nil {
			return err
		}

		readAllInto(reader, 300, streams.ReadIntoOptions{Min: 1}, func(data []byte, err error) {
			got, readErr = data, err
		})
		return nil
	})

	require.NoError(t, readErr)
	assert.Equal(t, payload, got)
}

func TestReaderSourceEOFDuringPartialBYOBRead(t *testing.T) {
	t.Parallel()

	var readErr error
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		_, stream := newTestSource(t, loop, nil, bytes.NewReader([]byte("0123456789")), NewConfig())

		reader, err := stream.GetBYOBReader()
		if err != nil {
			return err
		}

		// the whole view is required, but only 10 bytes will ever come
		reader.Read(make([]byte, 16)).Then(func(streams.ReadResult) {}, func(err error) {
			readErr = err
		})
		return nil
	})

	assert.ErrorIs(t, readErr, streams.ErrTypeError)
}

func TestReaderSourceDecompresses(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("streams of bytes, "), 2000)

	for _, encoding := range []Encoding{EncodingGzip, EncodingDeflate, EncodingZstd, EncodingBr} {
		t.Run(string(encoding), func(t *testing.T) {
			t.Parallel()

			compressed := compress(t, encoding, payload)

			var (
				got     []byte
				readErr error
				source  *ReaderSource
			)
			testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
				var stream *streams.ReadableStream
				source, stream = newTestSource(t, loop, nil, bytes.NewReader(compressed), Config{
					ChunkSize: null.IntFrom(4096),
					Encoding:  null.StringFrom(string(encoding)),
				})

				reader, err := stream.GetBYOBReader()
				if err != nil {
					return err
				}

				readAllInto(reader, 1000, streams.ReadIntoOptions{Min: 1}, func(data []byte, err error) {
					got, readErr = data, err
				})
				return nil
			})

			require.NoError(t, readErr)
			assert.Equal(t, payload, got)
			assert.EqualValues(t, len(payload), source.BytesRead())
		})
	}
}

func TestReaderSourceFailures(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		reader   func() io.Reader
		encoding string
		data     []byte
		check    func(t *testing.T, err error)
	}{
		"read error": {
			reader: func() io.Reader {
				return io.MultiReader(bytes.NewReader([]byte("abc")), iotest.ErrReader(errBoom))
			},
			data: []byte("abc"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errBoom)
			},
		},
		"corrupted gzip": {
			reader: func() io.Reader {
				return bytes.NewReader([]byte("not gzip at all"))
			},
			encoding: "gzip",
			check: func(t *testing.T, err error) {
				var decErr *DecompressionError
				assert.ErrorAs(t, err, &decErr)
			},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			src := &trackingCloser{Reader: tc.reader()}

			var (
				got     []byte
				readErr error
				state   streams.ReadableStreamState
			)
			testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
				_, stream := newTestSource(t, loop, nil, src, Config{Encoding: null.StringFrom(tc.encoding)})

				reader, err := stream.GetReader()
				if err != nil {
					return err
				}

				readAll(reader, func(data []byte, err error) {
					got, readErr = data, err
					state = stream.State()
				})
				return nil
			})

			require.Error(t, readErr)
			tc.check(t, readErr)
			assert.Equal(t, tc.data, got)
			assert.Equal(t, streams.ReadableStreamStateErrored, state)
			assert.True(t, src.closed.Load())
		})
	}
}

func TestReaderSourceCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	var (
		readResult  *promises.Promise[streams.ReadResult]
		cancelState promises.State
		state       streams.ReadableStreamState
	)
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		_, stream := newTestSource(t, loop, nil, pr, NewConfig())

		reader, err := stream.GetReader()
		if err != nil {
			return err
		}

		readResult = reader.Read()

		// by then the source started, and the pull issued by the read is blocked on the pipe
		promises.Resolved[any](loop, nil).Then(func(any) {
			reader.Cancel("not interested").Then(func(any) {
				cancelState = promises.StateFulfilled
				state = stream.State()
			}, func(error) {
				cancelState = promises.StateRejected
			})
		}, nil)
		return nil
	})

	assert.Equal(t, promises.StateFulfilled, cancelState)
	assert.Equal(t, streams.ReadableStreamStateClosed, state)
	require.Equal(t, promises.StateFulfilled, readResult.State())
	assert.True(t, readResult.Result().Done)

	_, err := pw.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestReaderSourceRateLimit(t *testing.T) {
	t.Parallel()

	payload := randomPayload(8000)

	var got []byte
	start := time.Now()
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		// the first 4000 bytes are covered by the burst, the rest takes a second
		_, stream := newTestSource(t, loop, nil, bytes.NewReader(payload), Config{
			ChunkSize: null.IntFrom(1000),
			RateLimit: null.IntFrom(4000),
		})

		reader, err := stream.GetReader()
		if err != nil {
			return err
		}

		readAll(reader, func(data []byte, err error) {
			got = data
		})
		return nil
	})

	assert.Equal(t, payload, got)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestNewReaderSourceInvalidConfig(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	_, err := NewReaderSource(context.Background(), loop, nil, bytes.NewReader(nil), Config{ChunkSize: null.IntFrom(-1)})
	assert.ErrorContains(t, err, "chunk size")

	_, err = NewReaderSource(context.Background(), loop, nil, bytes.NewReader(nil), Config{ChunkSize: null.IntFrom(math.MaxInt64)})
	assert.ErrorContains(t, err, "chunk size must not exceed")

	_, err = NewReaderSource(context.Background(), loop, nil, bytes.NewReader(nil), Config{Encoding: null.StringFrom("lzw")})
	assert.ErrorContains(t, err, "unsupported encoding")
}

func TestReaderSourceLogs(t *testing.T) {
	t.Parallel()

	logger, hook := testutils.NewLogger()

	testutils.MustRunOnLoop(t, logger, func(loop *eventloop.EventLoop) error {
		_, stream := newTestSource(t, loop, logger, bytes.NewReader([]byte("hello")), NewConfig())

		reader, err := stream.GetReader()
		if err != nil {
			return err
		}

		readAll(reader, func([]byte, error) {})
		return nil
	})

	entries := testutils.FilterByField(hook.Drain(), "component", "source")
	require.True(t, testutils.LogContains(entries, logrus.DebugLevel, "source exhausted"))
}

func TestReaderSourceContextCanceled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		readErr error
		state   streams.ReadableStreamState
	)
	testutils.MustRunOnLoop(t, nil, func(loop *eventloop.EventLoop) error {
		source, err := NewReaderSource(ctx, loop, nil, pr, NewConfig())
		if err != nil {
			return err
		}
		stream, err := source.NewStream(streams.NewOptions())
		if err != nil {
			return err
		}

		reader, err := stream.GetReader()
		if err != nil {
			return err
		}

		reader.Read().Then(func(streams.ReadResult) {}, func(err error) {
			readErr = err
			state = stream.State()
		})

		// the read is blocked on the pipe until the context closes it
		promises.Resolved[any](loop, nil).Then(func(any) { cancel() }, nil)
		return nil
	})

	assert.ErrorIs(t, readErr, context.Canceled)
	assert.Equal(t, streams.ReadableStreamStateErrored, state)
}
