package streams

import (
	"go.k6.io/bytestreams/promises"
)

// ReadableStreamBYOBReader represents a reader reading into buffers supplied by its consumer
// ("bring your own buffer").
//
// [ReadableStreamBYOBReader]: https://streams.spec.whatwg.org/#byob-reader-class
type ReadableStreamBYOBReader struct {
	BaseReadableStreamReader

	// readIntoRequests holds the reads waiting for their buffer to be filled, oldest first.
	readIntoRequests []ReadIntoRequest
}

// Ensure the ReadableStreamReader interface is implemented correctly
var _ ReadableStreamReader = &ReadableStreamBYOBReader{}

// ReadIntoOptions tunes a BYOB read.
type ReadIntoOptions struct {
	// ElementSize is the size in bytes of one element of the view. The read only ever
	// completes with a whole number of elements. Defaults to 1.
	ElementSize int

	// Min is the number of elements that must be filled before the read completes, unless
	// the stream closes first. Defaults to the whole view.
	Min int
}

// Read reads into view. It completes once view is completely filled, or the stream closed.
//
// The returned result holds the filled part of view. Until then, the buffer belongs to the
// stream and must not be touched.
func (reader *ReadableStreamBYOBReader) Read(view []byte) *promises.Promise[ReadResult] {
	return reader.ReadInto(view, ReadIntoOptions{})
}

// ReadInto is [ReadableStreamBYOBReader.Read] with options.
func (reader *ReadableStreamBYOBReader) ReadInto(view []byte, opts ReadIntoOptions) *promises.Promise[ReadResult] {
	elementSize := opts.ElementSize
	if elementSize == 0 {
		elementSize = 1
	}

	// 1. If view.[[ByteLength]] is 0, return a promise rejected with a TypeError exception.
	if len(view) == 0 {
		return promises.Rejected[ReadResult](reader.loop, newTypeError("view must have a non-zero byte length"))
	}

	if elementSize < 0 || len(view)%elementSize != 0 {
		return promises.Rejected[ReadResult](reader.loop, newRangeError("view byte length must be a multiple of the element size"))
	}

	elements := len(view) / elementSize

	// 4.1. If options["min"] is 0, return a promise rejected with a TypeError exception.
	// 4.3. Otherwise, if options["min"] > view.[[ByteLength]], return a promise rejected with a RangeError exception.
	minimum := opts.Min
	if minimum == 0 {
		minimum = elements
	}
	if minimum < 0 || minimum > elements {
		return promises.Rejected[ReadResult](reader.loop, newRangeError("min option must be between 1 and the number of elements in the view"))
	}

	// 6. If this.[[stream]] is undefined, return a promise rejected with a TypeError exception.
	stream := reader.GetStream()
	if stream == nil {
		return promises.Rejected[ReadResult](reader.loop, newTypeError("stream is undefined"))
	}

	// 7. Let promise be a new promise.
	// 8. Let readIntoRequest be a new read-into request with the following items:
	readIntoRequest, promise := newReadIntoRequest(stream, view)

	// 9. Perform ! ReadableStreamBYOBReaderRead(this, view, options["min"], readIntoRequest).
	reader.read(view, elementSize, minimum*elementSize, readIntoRequest)

	// 10. Return promise.
	return promise
}

// ReleaseLock releases the reader's lock on the stream.
//
// Pending reads fail with a TypeError. The buffer the underlying source may be writing into
// stays with the stream: the bytes it receives are queued for the next reader.
func (reader *ReadableStreamBYOBReader) ReleaseLock() {
	// 1. If this.[[stream]] is undefined, return.
	if reader.stream == nil {
		return
	}

	// 2. Perform ! ReadableStreamBYOBReaderRelease(this).
	reader.release()
}

// release implements the [ReadableStreamBYOBReaderRelease] algorithm.
//
// [ReadableStreamBYOBReaderRelease]: https://streams.spec.whatwg.org/#abstract-opdef-readablestreambyobreaderrelease
func (reader *ReadableStreamBYOBReader) release() {
	// 1. Perform ! ReadableStreamReaderGenericRelease(reader).
	reader.BaseReadableStreamReader.release()

	// 2. Let e be a new TypeError exception.
	e := newTypeError("reader released")

	// 3. Perform ! ReadableStreamBYOBReaderErrorReadIntoRequests(reader, e).
	reader.errorReadIntoRequests(e)
}

// setup implements the [SetUpReadableStreamBYOBReader] algorithm.
//
// [SetUpReadableStreamBYOBReader]: https://streams.spec.whatwg.org/#set-up-readable-stream-byob-reader
func (reader *ReadableStreamBYOBReader) setup(stream *ReadableStream) error {
	// 1. If ! IsReadableStreamLocked(stream) is true, throw a TypeError exception.
	if stream.isLocked() {
		return newTypeError("stream is locked")
	}

	// 2. If stream.[[controller]] does not implement ReadableByteStreamController, throw a TypeError exception.
	if stream.controller == nil || stream.controller.Kind() != ByteStreamControllerKind {
		return newTypeError("stream is not a byte stream")
	}

	// 3. Perform ! ReadableStreamReaderGenericInitialize(reader, stream).
	readerGenericInitialize(reader, stream)

	// 4. Set reader.[[readIntoRequests]] to a new empty list.
	reader.readIntoRequests = []ReadIntoRequest{}

	return nil
}

// errorReadIntoRequests implements the [ReadableStreamBYOBReaderErrorReadIntoRequests] algorithm.
//
// [ReadableStreamBYOBReaderErrorReadIntoRequests]: https://streams.spec.whatwg.org/#abstract-opdef-readablestreambyobreadererrorreadintorequests
func (reader *ReadableStreamBYOBReader) errorReadIntoRequests(e error) {
	readIntoRequests := reader.readIntoRequests
	reader.readIntoRequests = []ReadIntoRequest{}

	for _, request := range readIntoRequests {
		request.errorSteps(e)
	}
}

// read implements the [ReadableStreamBYOBReaderRead] algorithm.
//
// [ReadableStreamBYOBReaderRead]: https://streams.spec.whatwg.org/#readable-stream-byob-reader-read
func (reader *ReadableStreamBYOBReader) read(
	view []byte,
	elementSize int,
	minimumFill int,
	readIntoRequest ReadIntoRequest,
) {
	// 1. Let stream be reader.[[stream]].
	stream := reader.GetStream()

	// 2. Assert: stream is not undefined.
	if stream == nil {
		panic(newError(AssertionError, "stream is undefined"))
	}

	// 3. Set stream.[[disturbed]] to true.
	stream.disturbed = true

	// 4. If stream.[[state]] is "errored", perform readIntoRequest’s error steps given stream.[[storedError]].
	if stream.state == ReadableStreamStateErrored {
		readIntoRequest.errorSteps(stream.storedError)
		return
	}

	controller, ok := stream.controller.(*ReadableByteStreamController)
	if !ok {
		panic(newError(AssertionError, "stream controller is not a ReadableByteStreamController"))
	}

	// 5. Otherwise, perform ! ReadableByteStreamControllerPullInto(stream.[[controller]], view, min, readIntoRequest).
	controller.pullInto(view, elementSize, minimumFill, readIntoRequest)
}
