package streams

import (
	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
)

// ReadableStreamReader is the interface implemented by all readable stream readers.
type ReadableStreamReader interface {
	ReadableStreamGenericReader

	// ReleaseLock releases the reader's lock on the stream.
	ReleaseLock()
}

// ReadableStreamGenericReader defines common internal getters/setters
// and methods that are shared between ReadableStreamDefaultReader and
// ReadableStreamBYOBReader objects.
//
// It implements the [ReadableStreamReaderGeneric] mixin.
//
// [ReadableStreamReaderGeneric]: https://streams.spec.whatwg.org/#readablestreamgenericreader
type ReadableStreamGenericReader interface {
	// GetStream returns the stream that owns this reader.
	GetStream() *ReadableStream

	// SetStream sets the stream that owns this reader.
	SetStream(stream *ReadableStream)

	// GetClosed returns a promise that resolves when the stream is closed.
	GetClosed() (p *promises.Promise[any], resolve func(any), reject func(error))

	// SetClosed sets the promise that resolves when the stream is closed.
	SetClosed(p *promises.Promise[any], resolve func(any), reject func(error))

	// Cancel returns a promise that resolves when the stream is canceled.
	Cancel(reason any) *promises.Promise[any]
}

// BaseReadableStreamReader is the part shared by every reader.
type BaseReadableStreamReader struct {
	closedPromise            *promises.Promise[any]
	closedPromiseResolveFunc func(any)
	closedPromiseRejectFunc  func(error)

	// stream is a [ReadableStream] instance that owns this reader
	stream *ReadableStream

	// loop is the event loop of the last stream this reader was attached to. Unlike stream,
	// it survives the release of the lock.
	loop *eventloop.EventLoop
}

// Ensure BaseReadableStreamReader implements the ReadableStreamGenericReader interface correctly
var _ ReadableStreamGenericReader = &BaseReadableStreamReader{}

// GetStream returns the stream that owns this reader.
func (reader *BaseReadableStreamReader) GetStream() *ReadableStream {
	return reader.stream
}

// SetStream sets the stream that owns this reader.
func (reader *BaseReadableStreamReader) SetStream(stream *ReadableStream) {
	reader.stream = stream
	if stream != nil {
		reader.loop = stream.loop
	}
}

// GetClosed returns the reader's closed promise as well as its resolve and reject functions.
func (reader *BaseReadableStreamReader) GetClosed() (p *promises.Promise[any], resolve func(any), reject func(error)) {
	return reader.closedPromise, reader.closedPromiseResolveFunc, reader.closedPromiseRejectFunc
}

// SetClosed sets the reader's closed promise as well as its resolve and reject functions.
func (reader *BaseReadableStreamReader) SetClosed(p *promises.Promise[any], resolve func(any), reject func(error)) {
	reader.closedPromise = p
	reader.closedPromiseResolveFunc = resolve
	reader.closedPromiseRejectFunc = reject
}

// Closed returns a promise fulfilled once the stream closes, or rejected if the stream errors
// or the reader's lock is released.
func (reader *BaseReadableStreamReader) Closed() *promises.Promise[any] {
	return reader.closedPromise
}

// Cancel returns a promise that resolves when the stream is canceled.
//
// Calling this method signals a loss of interest in the stream by a consumer. The supplied
// reason is given to the underlying source, which may or may not use it.
func (reader *BaseReadableStreamReader) Cancel(reason any) *promises.Promise[any] {
	// 1. If this.[[stream]] is undefined, return a promise rejected with a TypeError exception.
	if reader.stream == nil {
		return promises.Rejected[any](reader.loop, newTypeError("stream is undefined"))
	}

	// 2. Return ! ReadableStreamReaderGenericCancel(this, reason).
	return reader.cancel(reason)
}

// cancel implements the [ReadableStreamReaderGenericCancel] algorithm.
//
// [ReadableStreamReaderGenericCancel]: https://streams.spec.whatwg.org/#readable-stream-reader-generic-cancel
func (reader *BaseReadableStreamReader) cancel(reason any) *promises.Promise[any] {
	// 1. Let stream be reader.[[stream]].
	stream := reader.stream

	// 2. Assert: stream is not undefined.
	if stream == nil {
		panic(newError(AssertionError, "stream is undefined"))
	}

	// 3. Return ! ReadableStreamCancel(stream, reason).
	return stream.cancel(reason)
}

// release implements the [ReadableStreamReaderGenericRelease] algorithm.
//
// [ReadableStreamReaderGenericRelease]: https://streams.spec.whatwg.org/#readable-stream-reader-generic-release
func (reader *BaseReadableStreamReader) release() {
	// 1. Let stream be reader.[[stream]].
	stream := reader.stream

	// 2. Assert: stream is not undefined.
	if stream == nil {
		panic(newError(AssertionError, "stream is undefined"))
	}

	// 3. Assert: stream.[[reader]] is reader.
	if stream.reader == nil {
		panic(newError(AssertionError, "stream is not locked"))
	}

	released := newTypeError("reader released")

	if stream.state == ReadableStreamStateReadable {
		// 4. If stream.[[state]] is "readable", reject reader.[[closedPromise]] with a TypeError exception.
		reader.closedPromiseRejectFunc(released)
	} else {
		// 5. Otherwise, set reader.[[closedPromise]] to a promise rejected with a TypeError exception.
		reader.SetClosed(promises.Rejected[any](stream.loop, released), func(any) {}, func(error) {})
	}

	// 7. Perform ! stream.[[controller]].[[ReleaseSteps]]().
	stream.controller.releaseSteps()

	// 8. Set stream.[[reader]] to undefined.
	stream.reader = nil

	// 9. Set reader.[[stream]] to undefined.
	reader.stream = nil
}

// ReadResult is the result of a read operation.
//
// It contains the bytes read from the stream and a boolean indicating whether or not the
// stream is done. A done result carries no bytes for default reads, and the emptied buffer
// that was passed in for BYOB reads.
type ReadResult struct {
	Value []byte
	Done  bool
}

// ReadRequest is a struct containing three algorithms to perform in reaction to filling the
// readable stream's internal queue or changing its state.
type ReadRequest struct {
	// chunkSteps is called when a chunk is available for reading.
	chunkSteps func(chunk []byte)

	// closeSteps is called when no chunks are available because the stream is closed.
	closeSteps func()

	// errorSteps is called when no chunks are available because the stream is errored.
	errorSteps func(e error)
}

// ReadIntoRequest is the BYOB counterpart of [ReadRequest].
type ReadIntoRequest struct {
	// chunkSteps is called with the filled part of the buffer once it is ready.
	chunkSteps func(chunk []byte)

	// closeSteps is called when the stream is closed, with the filled part of the buffer, or
	// nil when the buffer is handed back untouched.
	closeSteps func(chunk []byte)

	// errorSteps is called when the stream is errored.
	errorSteps func(e error)
}

// newReadRequest returns a [ReadRequest] settling the returned promise.
func newReadRequest(stream *ReadableStream) (ReadRequest, *promises.Promise[ReadResult]) {
	promise, resolve, reject := promises.New[ReadResult](stream.loop)

	return ReadRequest{
		chunkSteps: func(chunk []byte) {
			resolve(ReadResult{Value: chunk, Done: false})
		},
		closeSteps: func() {
			resolve(ReadResult{Value: nil, Done: true})
		},
		errorSteps: func(e error) {
			reject(e)
		},
	}, promise
}

// newReadIntoRequest returns a [ReadIntoRequest] reading into view and settling the returned
// promise.
func newReadIntoRequest(stream *ReadableStream, view []byte) (ReadIntoRequest, *promises.Promise[ReadResult]) {
	promise, resolve, reject := promises.New[ReadResult](stream.loop)

	return ReadIntoRequest{
		chunkSteps: func(chunk []byte) {
			resolve(ReadResult{Value: chunk, Done: false})
		},
		closeSteps: func(chunk []byte) {
			if chunk == nil {
				chunk = view[:0]
			}
			resolve(ReadResult{Value: chunk, Done: true})
		},
		errorSteps: func(e error) {
			reject(e)
		},
	}, promise
}

// readerGenericInitialize implements the [ReadableStreamReaderGenericInitialize] algorithm.
//
// [ReadableStreamReaderGenericInitialize]: https://streams.spec.whatwg.org/#readable-stream-reader-generic-initialize
func readerGenericInitialize(reader ReadableStreamGenericReader, stream *ReadableStream) {
	// 1. Set reader.[[stream]] to stream.
	reader.SetStream(stream)

	// 2. Set stream.[[reader]] to reader.
	stream.reader = reader

	// 3. If stream.[[state]] is "readable", set reader.[[closedPromise]] to a new promise.
	promise, resolve, reject := promises.New[any](stream.loop)

	switch stream.state {
	case ReadableStreamStateReadable:
	case ReadableStreamStateClosed:
		// 4. Otherwise, if stream.[[state]] is "closed", set reader.[[closedPromise]] to a
		// promise resolved with undefined.
		resolve(nil)
	default:
		// 5.1. Assert: stream.[[state]] is "errored".
		if stream.state != ReadableStreamStateErrored {
			panic(newError(AssertionError, "stream.state is not \"errored\""))
		}

		// 5.2. Set reader.[[closedPromise]] to a promise rejected with stream.[[storedError]].
		reject(stream.storedError)
	}

	reader.SetClosed(promise, resolve, reject)
}
