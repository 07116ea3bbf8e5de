// Package streams implements readable byte streams: a pull-based controller mediating
// between an underlying byte source and consumers reading either through default reads or
// into buffers they supply themselves ("bring your own buffer", BYOB).
//
// Everything in this package must be used from the goroutine running the stream's
// [eventloop.EventLoop].
package streams

import (
	"io"

	"github.com/sirupsen/logrus"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
)

// ReadableStream is a concrete instance of the general [readable stream] concept, backed by
// a [ReadableByteStreamController].
//
// [readable stream]: https://streams.spec.whatwg.org/#rs-class
type ReadableStream struct {
	// controller holds the [ReadableByteStreamController] created with the ability to
	// control the state and queue of this stream.
	controller ReadableStreamController

	// disturbed is true when the stream has been read from or canceled
	disturbed bool

	// reader holds the current reader of the stream if the stream is locked to a reader
	// or nil otherwise.
	reader ReadableStreamGenericReader

	// state holds the current state of the stream
	state ReadableStreamState

	// storedError holds the error that caused the stream to be errored
	storedError error

	loop   *eventloop.EventLoop
	logger logrus.FieldLogger
}

// ReadableStreamState represents the current state of a ReadableStream
type ReadableStreamState string

const (
	// ReadableStreamStateReadable indicates that the stream is readable, and that more data may be read from the stream.
	ReadableStreamStateReadable ReadableStreamState = "readable"

	// ReadableStreamStateClosed indicates that the stream is closed and cannot be read from.
	ReadableStreamStateClosed ReadableStreamState = "closed"

	// ReadableStreamStateErrored indicates that the stream has been aborted (errored).
	ReadableStreamStateErrored ReadableStreamState = "errored"
)

// NewReadableByteStream creates a byte stream pulling from source.
//
// The source's Start hook is invoked before this returns, but its completion is only
// observed asynchronously; bytes can be enqueued right away. A failing Start hook errors
// the stream instead of failing the construction. Configuration errors are returned.
func NewReadableByteStream(
	loop *eventloop.EventLoop,
	logger logrus.FieldLogger,
	source UnderlyingByteSource,
	opts Options,
) (*ReadableStream, error) {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	stream := &ReadableStream{
		loop:   loop,
		logger: logger.WithField("component", "bytestream"),
	}
	stream.initialize()

	opts = NewOptions().Apply(opts)
	if err := validateHighWaterMark(opts.HighWaterMark.Float64); err != nil {
		return nil, err
	}
	if !source.AutoAllocateChunkSize.Valid {
		source.AutoAllocateChunkSize = opts.AutoAllocateChunkSize
	}

	if err := stream.setupByteControllerFromUnderlyingSource(source, opts.HighWaterMark.Float64); err != nil {
		return nil, err
	}

	return stream, nil
}

// Locked returns whether the stream is locked to a reader.
func (stream *ReadableStream) Locked() bool {
	return stream.isLocked()
}

// State returns the current state of the stream.
func (stream *ReadableStream) State() ReadableStreamState {
	return stream.state
}

// StoredError returns the error the stream was errored with, if any.
func (stream *ReadableStream) StoredError() error {
	return stream.storedError
}

// Disturbed returns whether the stream was ever read from or canceled.
func (stream *ReadableStream) Disturbed() bool {
	return stream.disturbed
}

// Controller returns the controller of the stream.
func (stream *ReadableStream) Controller() ReadableStreamController {
	return stream.controller
}

// Cancel cancels the stream. The returned promise is fulfilled once the underlying source
// has been canceled, or rejected with the reason its Cancel hook failed with.
func (stream *ReadableStream) Cancel(reason any) *promises.Promise[any] {
	// 1. If IsReadableStreamLocked(this) is true, return a promise rejected with a TypeError exception.
	if stream.isLocked() {
		return promises.Rejected[any](stream.loop, newTypeError("cannot cancel a locked stream"))
	}

	// 2. Return ! ReadableStreamCancel(reason)
	return stream.cancel(reason)
}

// GetReader implements the [getReader] operation for default readers.
//
// [getReader]: https://streams.spec.whatwg.org/#rs-get-reader
func (stream *ReadableStream) GetReader() (*ReadableStreamDefaultReader, error) {
	reader := &ReadableStreamDefaultReader{}
	if err := reader.setup(stream); err != nil {
		return nil, err
	}

	return reader, nil
}

// GetBYOBReader implements the [getReader] operation for the "byob" mode.
//
// [getReader]: https://streams.spec.whatwg.org/#rs-get-reader
func (stream *ReadableStream) GetBYOBReader() (*ReadableStreamBYOBReader, error) {
	reader := &ReadableStreamBYOBReader{}
	if err := reader.setup(stream); err != nil {
		return nil, err
	}

	return reader, nil
}

// isLocked implements the [IsReadableStreamLocked()] abstract operation.
//
// [IsReadableStreamLocked()]: https://streams.spec.whatwg.org/#is-readable-stream-locked
func (stream *ReadableStream) isLocked() bool {
	return stream.reader != nil
}

// isReadable reports whether the stream is in the readable state, the only one in which its
// controller accepts bytes.
func (stream *ReadableStream) isReadable() bool {
	return stream.state == ReadableStreamStateReadable
}

// initialize implements the [InitializeReadableStream()] abstract operation.
//
// [InitializeReadableStream()]: https://streams.spec.whatwg.org/#initialize-readable-stream
func (stream *ReadableStream) initialize() {
	stream.state = ReadableStreamStateReadable
	stream.reader = nil
	stream.storedError = nil
	stream.disturbed = false
}

// setupByteControllerFromUnderlyingSource implements the
// [SetUpReadableByteStreamControllerFromUnderlyingSource] abstract operation.
//
// [SetUpReadableByteStreamControllerFromUnderlyingSource]: https://streams.spec.whatwg.org/#set-up-readable-byte-stream-controller-from-underlying-source
func (stream *ReadableStream) setupByteControllerFromUnderlyingSource(
	source UnderlyingByteSource,
	highWaterMark float64,
) error {
	controller := &ReadableByteStreamController{}

	autoAllocateChunkSize := source.AutoAllocateChunkSize
	if autoAllocateChunkSize.Valid {
		if err := validateAutoAllocateChunkSize(autoAllocateChunkSize.Int64); err != nil {
			return err
		}
	}

	return stream.setupByteController(
		controller,
		newStartAlgorithm(stream.loop, source),
		newPullAlgorithm(stream.loop, source),
		newCancelAlgorithm(stream.loop, source),
		highWaterMark,
		autoAllocateChunkSize,
	)
}

// addReadRequest implements the [ReadableStreamAddReadRequest()] abstract operation.
//
// [ReadableStreamAddReadRequest()]: https://streams.spec.whatwg.org/#readable-stream-add-read-request
func (stream *ReadableStream) addReadRequest(readRequest ReadRequest) {
	defaultReader, ok := stream.reader.(*ReadableStreamDefaultReader)
	if !ok {
		readRequest.errorSteps(newError(RuntimeError, "reader is not a ReadableStreamDefaultReader"))
		return
	}

	if stream.state != ReadableStreamStateReadable {
		readRequest.errorSteps(newError(AssertionError, "stream is not readable"))
		return
	}

	defaultReader.readRequests = append(defaultReader.readRequests, readRequest)
}

// addReadIntoRequest implements the [ReadableStreamAddReadIntoRequest()] abstract operation.
//
// [ReadableStreamAddReadIntoRequest()]: https://streams.spec.whatwg.org/#readable-stream-add-read-into-request
func (stream *ReadableStream) addReadIntoRequest(readIntoRequest ReadIntoRequest) {
	byobReader, ok := stream.reader.(*ReadableStreamBYOBReader)
	if !ok {
		readIntoRequest.errorSteps(newError(RuntimeError, "reader is not a ReadableStreamBYOBReader"))
		return
	}

	if stream.state != ReadableStreamStateReadable && stream.state != ReadableStreamStateClosed {
		readIntoRequest.errorSteps(newError(AssertionError, "stream is errored"))
		return
	}

	byobReader.readIntoRequests = append(byobReader.readIntoRequests, readIntoRequest)
}

// cancel implements the [ReadableStreamCancel()] abstract operation.
//
// [ReadableStreamCancel()]: https://streams.spec.whatwg.org/#readable-stream-cancel
func (stream *ReadableStream) cancel(reason any) *promises.Promise[any] {
	// 1. Set stream.[[disturbed]] to true.
	stream.disturbed = true

	// 2. If stream.[[state]] is "closed", return a promise resolved with undefined.
	if stream.state == ReadableStreamStateClosed {
		return promises.Resolved[any](stream.loop, nil)
	}

	// 3. If stream.[[state]] is "errored", return a promise rejected with stream.[[storedError]].
	if stream.state == ReadableStreamStateErrored {
		return promises.Rejected[any](stream.loop, stream.storedError)
	}

	stream.logger.WithField("reason", reason).Debug("canceling stream")

	// 4. Perform ! ReadableStreamClose(stream).
	stream.close()

	// 5. Let reader be stream.[[reader]].
	// 6. If reader is not undefined and reader implements ReadableStreamBYOBReader,
	if byobReader, ok := stream.reader.(*ReadableStreamBYOBReader); ok {
		// 6.1. Let readIntoRequests be reader.[[readIntoRequests]].
		readIntoRequests := byobReader.readIntoRequests

		// 6.2. Set reader.[[readIntoRequests]] to an empty list.
		byobReader.readIntoRequests = nil

		// 6.3. For each readIntoRequest of readIntoRequests, perform its close steps.
		for _, readIntoRequest := range readIntoRequests {
			readIntoRequest.closeSteps(nil)
		}
	}

	// 7. Let sourceCancelPromise be ! stream.[[controller]].[[CancelSteps]](reason).
	sourceCancelPromise := stream.controller.cancelSteps(reason)

	// 8. Return the result of reacting to sourceCancelPromise with a fulfillment step that returns undefined.
	promise, resolve, reject := promises.New[any](stream.loop)
	sourceCancelPromise.Then(
		func(any) { resolve(nil) },
		func(err error) { reject(err) },
	)

	return promise
}

// close implements the [ReadableStreamClose()] abstract operation.
//
// [ReadableStreamClose()]: https://streams.spec.whatwg.org/#readable-stream-close
func (stream *ReadableStream) close() {
	// 1. Assert: stream.[[state]] is "readable".
	if stream.state != ReadableStreamStateReadable {
		panic(newError(AssertionError, "cannot close a stream that is not readable"))
	}

	// 2. Set stream.[[state]] to "closed".
	stream.state = ReadableStreamStateClosed

	// 3. Let reader be stream.[[reader]].
	reader := stream.reader

	// 4. If reader is undefined, return.
	if reader == nil {
		return
	}

	// 5. Resolve reader.[[closedPromise]] with undefined.
	_, resolveFunc, _ := reader.GetClosed()
	resolveFunc(nil)

	// 6. If reader implements ReadableStreamDefaultReader,
	if defaultReader, ok := reader.(*ReadableStreamDefaultReader); ok {
		// 6.1. Let readRequests be reader.[[readRequests]].
		readRequests := defaultReader.readRequests

		// 6.2. Set reader.[[readRequests]] to an empty list.
		defaultReader.readRequests = nil

		// 6.3. For each readRequest of readRequests,
		for _, readRequest := range readRequests {
			readRequest.closeSteps()
		}
	}
}

// error implements the [ReadableStreamError] abstract operation.
//
// [ReadableStreamError]: https://streams.spec.whatwg.org/#readable-stream-error
func (stream *ReadableStream) error(e error) {
	// 1. Assert: stream.[[state]] is "readable".
	if stream.state != ReadableStreamStateReadable {
		panic(newError(AssertionError, "cannot error a stream that is not readable"))
	}

	// 2. Set stream.[[state]] to "errored".
	stream.state = ReadableStreamStateErrored

	// 3. Set stream.[[storedError]] to e.
	stream.storedError = e

	// 4. Let reader be stream.[[reader]].
	reader := stream.reader

	// 5. If reader is undefined, return.
	if reader == nil {
		return
	}

	// 6. Reject reader.[[closedPromise]] with e.
	_, _, rejectFunc := reader.GetClosed()
	rejectFunc(e)

	switch r := reader.(type) {
	case *ReadableStreamDefaultReader:
		// 8. If reader implements ReadableStreamDefaultReader,
		// 8.1. Perform ! ReadableStreamDefaultReaderErrorReadRequests(reader, e).
		r.errorReadRequests(e)
	case *ReadableStreamBYOBReader:
		// 9. Otherwise,
		// 9.2. Perform ! ReadableStreamBYOBReaderErrorReadIntoRequests(reader, e).
		r.errorReadIntoRequests(e)
	}
}

// fulfillReadRequest implements the [ReadableStreamFulfillReadRequest()] algorithm.
//
// [ReadableStreamFulfillReadRequest()]: https://streams.spec.whatwg.org/#readable-stream-fulfill-read-request
func (stream *ReadableStream) fulfillReadRequest(chunk []byte, done bool) {
	reader, ok := stream.reader.(*ReadableStreamDefaultReader)
	if !ok {
		panic(newError(AssertionError, "stream does not have a default reader"))
	}

	if len(reader.readRequests) == 0 {
		panic(newError(AssertionError, "reader.[[readRequests]] is empty"))
	}

	readRequest := reader.readRequests[0]
	reader.readRequests = reader.readRequests[1:]

	if done {
		readRequest.closeSteps()
	} else {
		readRequest.chunkSteps(chunk)
	}
}

// fulfillReadIntoRequest implements the [ReadableStreamFulfillReadIntoRequest()] algorithm.
//
// [ReadableStreamFulfillReadIntoRequest()]: https://streams.spec.whatwg.org/#readable-stream-fulfill-read-into-request
func (stream *ReadableStream) fulfillReadIntoRequest(chunk []byte, done bool) {
	reader, ok := stream.reader.(*ReadableStreamBYOBReader)
	if !ok {
		panic(newError(AssertionError, "stream does not have a BYOB reader"))
	}

	if len(reader.readIntoRequests) == 0 {
		panic(newError(AssertionError, "reader.[[readIntoRequests]] is empty"))
	}

	readIntoRequest := reader.readIntoRequests[0]
	reader.readIntoRequests = reader.readIntoRequests[1:]

	if done {
		readIntoRequest.closeSteps(chunk)
	} else {
		readIntoRequest.chunkSteps(chunk)
	}
}

// getNumReadRequests implements the [ReadableStreamGetNumReadRequests()] algorithm.
//
// [ReadableStreamGetNumReadRequests()]: https://streams.spec.whatwg.org/#readable-stream-get-num-read-requests
func (stream *ReadableStream) getNumReadRequests() int {
	defaultReader, ok := stream.reader.(*ReadableStreamDefaultReader)
	if !ok {
		return 0
	}

	return len(defaultReader.readRequests)
}

// getNumReadIntoRequests implements the [ReadableStreamGetNumReadIntoRequests()] algorithm.
//
// [ReadableStreamGetNumReadIntoRequests()]: https://streams.spec.whatwg.org/#readable-stream-get-num-read-into-requests
func (stream *ReadableStream) getNumReadIntoRequests() int {
	byobReader, ok := stream.reader.(*ReadableStreamBYOBReader)
	if !ok {
		return 0
	}

	return len(byobReader.readIntoRequests)
}

// hasDefaultReader implements the [ReadableStreamHasDefaultReader()] algorithm.
//
// [ReadableStreamHasDefaultReader()]: https://streams.spec.whatwg.org/#readable-stream-has-default-reader
func (stream *ReadableStream) hasDefaultReader() bool {
	_, ok := stream.reader.(*ReadableStreamDefaultReader)
	return ok
}

// hasBYOBReader implements the [ReadableStreamHasBYOBReader()] algorithm.
//
// [ReadableStreamHasBYOBReader()]: https://streams.spec.whatwg.org/#readable-stream-has-byob-reader
func (stream *ReadableStream) hasBYOBReader() bool {
	_, ok := stream.reader.(*ReadableStreamBYOBReader)
	return ok
}
