package sources

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mstoykov/k6-taskqueue-lib/taskqueue"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/guregu/null.v3"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
	"go.k6.io/bytestreams/streams"
)

// ReaderSource is an underlying byte source pulling from an [io.Reader].
//
// A single read is in flight at any time. It is issued into a buffer owned by the source, and
// its bytes are then copied into the buffer of the pending BYOB read, if any, or enqueued.
type ReaderSource struct {
	loop   *eventloop.EventLoop
	logger logrus.FieldLogger

	src      io.Reader
	encoding Encoding
	// decoder wraps src once the first read happened. It is only touched by the goroutine
	// of the read in flight, or by the loop when no read is in flight.
	decoder io.ReadCloser

	chunkSize int
	limiter   *rate.Limiter

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	inFlight  bool
	canceled  bool
	finished  bool
	closeOnce sync.Once
	closeErr  error

	bytesRead atomic.Int64
}

// NewReaderSource returns a source reading from r. If r is an [io.Closer], it is closed once
// it is exhausted, fails, or the stream is canceled.
//
// Canceling ctx errors the stream with the context's error once the read in flight returns.
func NewReaderSource(
	ctx context.Context,
	loop *eventloop.EventLoop,
	logger logrus.FieldLogger,
	r io.Reader,
	config Config,
) (*ReaderSource, error) {
	config = NewConfig().Apply(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	encoding, err := ParseEncoding(config.Encoding.String)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	chunkSize := int(config.ChunkSize.Int64)
	limiter := rate.NewLimiter(rate.Inf, chunkSize)
	if config.RateLimit.Int64 > 0 {
		burst := chunkSize
		if int(config.RateLimit.Int64) > burst {
			burst = int(config.RateLimit.Int64)
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit.Int64), burst)
	}

	ctx, cancel := context.WithCancel(ctx)

	s := &ReaderSource{
		loop: loop,
		logger: logger.WithFields(logrus.Fields{
			"component": "source",
			"encoding":  encoding,
		}),
		src:       r,
		encoding:  encoding,
		chunkSize: chunkSize,
		limiter:   limiter,
		ctx:       ctx,
		cancel:    cancel,
	}
	// unblocks the read in flight
	context.AfterFunc(ctx, func() { _ = s.closeSource() })

	return s, nil
}

// UnderlyingSource returns the hooks to create a byte stream over s with.
func (s *ReaderSource) UnderlyingSource() streams.UnderlyingByteSource {
	return streams.UnderlyingByteSource{
		Pull:   s.pull,
		Cancel: s.cancelSource,
	}
}

// NewStream creates a byte stream over s.
func (s *ReaderSource) NewStream(opts streams.Options) (*streams.ReadableStream, error) {
	// Reads are copied out of the source's buffer anyway, auto-allocation would only add a copy.
	opts.AutoAllocateChunkSize = null.Int{}

	return streams.NewReadableByteStream(s.loop, s.logger, s.UnderlyingSource(), opts)
}

// BytesRead returns how many (decompressed) bytes were read so far. It is safe to call from
// any goroutine.
func (s *ReaderSource) BytesRead() int64 {
	return s.bytesRead.Load()
}

// readResult is what a read in flight hands back to the loop.
type readResult struct {
	chunk []byte
	eof   bool
	err   error
}

func (s *ReaderSource) pull(controller *streams.ReadableByteStreamController) (*promises.Promise[any], error) {
	if s.finished {
		return nil, nil
	}

	size := s.chunkSize
	if request := controller.BYOBRequest(); request != nil && len(request.View()) < size {
		size = len(request.View())
	}

	promise, resolve, reject := promises.New[any](s.loop)
	tq := taskqueue.New(s.loop.RegisterCallback)
	s.inFlight = true

	go func() {
		defer tq.Close()

		result := s.read(size)
		tq.Queue(func() error {
			s.inFlight = false
			if err := s.complete(controller, result); err != nil {
				reject(err)
				return nil
			}
			resolve(nil)
			return nil
		})
	}()

	return promise, nil
}

// read runs off the loop.
func (s *ReaderSource) read(size int) readResult {
	if s.decoder == nil {
		decoder, err := NewDecompressingReader(s.encoding, s.src)
		if err != nil {
			return readResult{err: err}
		}
		s.decoder = decoder
	}

	buf := make([]byte, size)
	n, err := s.decoder.Read(buf)
	s.bytesRead.Add(int64(n))

	if n > 0 {
		if waitErr := s.limiter.WaitN(s.ctx, n); waitErr != nil && err == nil {
			err = waitErr
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		return readResult{chunk: buf[:n], eof: true}
	case err != nil:
		return readResult{chunk: buf[:n], err: wrapDecompressionError(err)}
	default:
		return readResult{chunk: buf[:n]}
	}
}

// complete hands the result of a read to controller. It runs on the loop.
func (s *ReaderSource) complete(controller *streams.ReadableByteStreamController, result readResult) error {
	if s.canceled {
		// nobody is interested in the bytes anymore
		s.release()
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		s.release()
		return err
	}

	if err := s.deliver(controller, result.chunk); err != nil {
		s.release()
		return err
	}

	switch {
	case result.err != nil:
		s.logger.WithError(result.err).Debug("reading from source failed")
		s.release()
		return result.err
	case result.eof:
		s.logger.WithField("bytesRead", s.BytesRead()).Debug("source exhausted")
		s.release()
		if err := s.closeErr; err != nil {
			controller.Error(err)
			return nil
		}
		return controller.Close()
	default:
		return nil
	}
}

// deliver fills the pending BYOB read first, then enqueues whatever is left.
func (s *ReaderSource) deliver(controller *streams.ReadableByteStreamController, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	if request := controller.BYOBRequest(); request != nil {
		n := copy(request.View(), chunk)
		if err := request.Respond(n); err != nil {
			return err
		}
		chunk = chunk[n:]
		if len(chunk) == 0 {
			return nil
		}
	}

	return controller.Enqueue(chunk)
}

func (s *ReaderSource) cancelSource(reason any) (*promises.Promise[any], error) {
	s.logger.WithField("reason", reason).Debug("source canceled")
	s.canceled = true
	s.cancel()

	if err := s.closeSource(); err != nil {
		return nil, err
	}
	if !s.inFlight {
		s.release()
	}

	return nil, nil
}

// release frees the decoder and the wrapped reader. It must not be called while a read is in
// flight.
func (s *ReaderSource) release() {
	if s.finished {
		return
	}
	s.finished = true
	s.cancel()

	if s.decoder != nil {
		if err := s.decoder.Close(); err != nil {
			s.logger.WithError(err).Debug("closing the decoder failed")
		}
	}
	if err := s.closeSource(); err != nil {
		s.logger.WithError(err).Debug("closing the source failed")
	}
}

// closeSource closes the wrapped reader, if it can be. It is safe to call concurrently with a
// read, which it unblocks.
func (s *ReaderSource) closeSource() error {
	s.closeOnce.Do(func() {
		if closer, ok := s.src.(io.Closer); ok {
			s.closeErr = closer.Close()
		}
	})
	return s.closeErr
}
