package streams

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"go.k6.io/bytestreams/promises"
)

// ControllerKind tags the concrete type of a [ReadableStreamController].
type ControllerKind uint8

const (
	// ByteStreamControllerKind is the kind of [ReadableByteStreamController].
	ByteStreamControllerKind ControllerKind = iota + 1
)

// ReadableStreamController is the interface implemented by the controllers of readable
// streams. Only byte stream controllers exist in this package; the kind tag lets callers
// tell controllers apart without probing their methods.
type ReadableStreamController interface {
	// Kind returns the tag of the concrete controller type.
	Kind() ControllerKind

	// DesiredSize returns how many bytes the stream wants before its queue is full. It is
	// null once the stream errored.
	DesiredSize() null.Float

	cancelSteps(reason any) *promises.Promise[any]
	pullSteps(readRequest ReadRequest)
	releaseSteps()
}

// ReadableByteStreamController allows control of a [ReadableStream]'s state and internal
// queue of bytes, and hands out the buffers of pending BYOB reads to the underlying source.
//
// [ReadableByteStreamController]: https://streams.spec.whatwg.org/#rbs-controller-class
type ReadableByteStreamController struct {
	// autoAllocateChunkSize is the size of the buffers allocated for default reads, when set.
	autoAllocateChunkSize null.Int

	// byobRequest is the request currently handed out to the underlying source, if any.
	byobRequest *ReadableStreamBYOBRequest

	cancelAlgorithm cancelAlgorithm

	// closeRequested is true once the underlying source asked to close the stream while
	// bytes were still queued.
	closeRequested bool

	// pullAgain is set when a pull is needed while one is already in flight.
	pullAgain bool

	pullAlgorithm pullAlgorithm

	// pulling is true while the promise returned by the pull algorithm is pending.
	pulling bool

	pendingPullIntos pendingPullIntos

	queue ByteQueue

	// started is true once the start algorithm completed.
	started bool

	strategyHWM float64

	stream *ReadableStream
	logger logrus.FieldLogger
}

// Ensure the ReadableStreamController interface is implemented correctly
var _ ReadableStreamController = &ReadableByteStreamController{}

// Kind implements [ReadableStreamController].
func (controller *ReadableByteStreamController) Kind() ControllerKind {
	return ByteStreamControllerKind
}

// DesiredSize implements the [ReadableByteStreamControllerGetDesiredSize] algorithm.
//
// It may be negative: the queue holds more than the high-water mark.
//
// [ReadableByteStreamControllerGetDesiredSize]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-get-desired-size
func (controller *ReadableByteStreamController) DesiredSize() null.Float {
	switch controller.stream.state {
	case ReadableStreamStateErrored:
		return null.Float{}
	case ReadableStreamStateClosed:
		return null.FloatFrom(0)
	default:
		return null.FloatFrom(controller.desiredSize())
	}
}

func (controller *ReadableByteStreamController) desiredSize() float64 {
	return controller.strategyHWM - float64(controller.queue.Len())
}

// QueuedBytes returns how many enqueued bytes are waiting to be read.
func (controller *ReadableByteStreamController) QueuedBytes() int {
	return controller.queue.Len()
}

// PendingPullIntos returns how many reads are waiting for bytes to be written into their
// buffer.
func (controller *ReadableByteStreamController) PendingPullIntos() int {
	return controller.pendingPullIntos.len()
}

// BYOBRequest returns the request describing where the underlying source can write the
// bytes the oldest waiting read needs, or nil if no read is waiting on a buffer.
func (controller *ReadableByteStreamController) BYOBRequest() *ReadableStreamBYOBRequest {
	return controller.getBYOBRequest()
}

// Close closes the stream once every queued byte was read.
//
// It fails if the stream is not readable or close was already requested. It also fails, and
// errors the stream, if a BYOB read is partially filled: such a read could never be completed.
func (controller *ReadableByteStreamController) Close() error {
	// 1. If this.[[closeRequested]] is true, throw a TypeError exception.
	if controller.closeRequested {
		return newTypeError("close was already requested")
	}

	// 2. If this.[[stream]].[[state]] is not "readable", throw a TypeError exception.
	if !controller.stream.isReadable() {
		return newTypeError("cannot close a stream that is not readable")
	}

	// 3. Perform ? ReadableByteStreamControllerClose(this).
	return controller.close()
}

// Enqueue hands chunk to the stream. The stream takes ownership of chunk: the caller must
// not modify it afterwards.
func (controller *ReadableByteStreamController) Enqueue(chunk []byte) error {
	// 2. If chunk.[[ViewedArrayBuffer]].[[ArrayBufferByteLength]] is 0, throw a TypeError exception.
	if len(chunk) == 0 {
		return newTypeError("chunk must have a non-zero byte length")
	}

	// 3. If this.[[closeRequested]] is true, throw a TypeError exception.
	if controller.closeRequested {
		return newTypeError("cannot enqueue after close was requested")
	}

	// 4. If this.[[stream]].[[state]] is not "readable", throw a TypeError exception.
	if !controller.stream.isReadable() {
		return newTypeError("cannot enqueue into a stream that is not readable")
	}

	// 5. Return ? ReadableByteStreamControllerEnqueue(this, chunk).
	controller.enqueue(chunk)
	return nil
}

// Error errors the stream: every waiting read fails with e, queued bytes are dropped, and
// pending BYOB buffers are handed back unfilled. It does nothing if the stream is not
// readable anymore. A nil e is replaced with a TypeError.
func (controller *ReadableByteStreamController) Error(e error) {
	if e == nil {
		e = newTypeError("stream errored without a reason")
	}
	controller.error(e)
}

// setupByteController implements the [SetUpReadableByteStreamController] abstract operation.
//
// [SetUpReadableByteStreamController]: https://streams.spec.whatwg.org/#set-up-readable-byte-stream-controller
func (stream *ReadableStream) setupByteController(
	controller *ReadableByteStreamController,
	startAlgorithm startAlgorithm,
	pullAlgorithm pullAlgorithm,
	cancelAlgorithm cancelAlgorithm,
	highWaterMark float64,
	autoAllocateChunkSize null.Int,
) error {
	// 1. Assert: stream.[[controller]] is undefined.
	if stream.controller != nil {
		return newTypeError("stream already has a controller")
	}

	// 2. If autoAllocateChunkSize is not undefined,
	if autoAllocateChunkSize.Valid {
		if err := validateAutoAllocateChunkSize(autoAllocateChunkSize.Int64); err != nil {
			return err
		}
	}
	if err := validateHighWaterMark(highWaterMark); err != nil {
		return err
	}

	// 3. Set controller.[[stream]] to stream.
	controller.stream = stream
	controller.logger = stream.logger

	// 4. Set controller.[[pullAgain]] and controller.[[pulling]] to false.
	controller.pullAgain, controller.pulling = false, false

	// 5. Set controller.[[byobRequest]] to null.
	controller.byobRequest = nil

	// 6. Perform ! ResetQueue(controller).
	controller.queue.Reset()

	// 7. Set controller.[[closeRequested]] and controller.[[started]] to false.
	controller.closeRequested, controller.started = false, false

	// 8. Set controller.[[strategyHWM]] to highWaterMark.
	controller.strategyHWM = highWaterMark

	// 9. Set controller.[[pullAlgorithm]] to pullAlgorithm.
	controller.pullAlgorithm = pullAlgorithm

	// 10. Set controller.[[cancelAlgorithm]] to cancelAlgorithm.
	controller.cancelAlgorithm = cancelAlgorithm

	// 11. Set controller.[[autoAllocateChunkSize]] to autoAllocateChunkSize.
	controller.autoAllocateChunkSize = autoAllocateChunkSize

	// 12. Set controller.[[pendingPullIntos]] to a new empty list.
	controller.pendingPullIntos = pendingPullIntos{}

	// 13. Set stream.[[controller]] to controller.
	stream.controller = controller

	// 14. Let startResult be the result of performing startAlgorithm.
	// 15. Let startPromise be a promise resolved with startResult.
	startPromise := startAlgorithm(controller)

	startPromise.Then(
		// 16. Upon fulfillment of startPromise,
		func(any) {
			// 16.1. Set controller.[[started]] to true.
			controller.started = true

			// 16.2. Assert: controller.[[pulling]] is false.
			if controller.pulling {
				panic(newError(AssertionError, "controller `pulling` state is not false"))
			}

			// 16.3. Assert: controller.[[pullAgain]] is false.
			if controller.pullAgain {
				panic(newError(AssertionError, "controller `pullAgain` state is not false"))
			}

			controller.logger.Debug("underlying source started")

			// 16.4. Perform ! ReadableByteStreamControllerCallPullIfNeeded(controller).
			controller.callPullIfNeeded()
		},
		// 17. Upon rejection of startPromise with reason r,
		func(r error) {
			controller.logger.WithError(r).Debug("underlying source failed to start")

			// 17.1. Perform ! ReadableByteStreamControllerError(controller, r).
			controller.error(r)
		},
	)

	return nil
}

// callPullIfNeeded implements the [ReadableByteStreamControllerCallPullIfNeeded] algorithm.
//
// At most one pull is ever in flight; a pull needed in the meantime is remembered through
// pullAgain and issued as soon as the in-flight one completes.
//
// [ReadableByteStreamControllerCallPullIfNeeded]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-call-pull-if-needed
func (controller *ReadableByteStreamController) callPullIfNeeded() {
	// 1. Let shouldPull be ! ReadableByteStreamControllerShouldCallPull(controller).
	// 2. If shouldPull is false, return.
	if !controller.shouldCallPull() {
		return
	}

	// 3. If controller.[[pulling]] is true,
	if controller.pulling {
		// 3.1. Set controller.[[pullAgain]] to true.
		controller.pullAgain = true
		// 3.2. Return.
		return
	}

	// 4. Assert: controller.[[pullAgain]] is false.
	if controller.pullAgain {
		panic(newError(AssertionError, "controller `pullAgain` state is not false"))
	}

	// 5. Set controller.[[pulling]] to true.
	controller.pulling = true

	controller.logger.WithField("desiredSize", controller.desiredSize()).Debug("pulling from underlying source")

	// 6. Let pullPromise be the result of performing controller.[[pullAlgorithm]].
	pullPromise := controller.pullAlgorithm(controller)

	pullPromise.Then(
		// 7. Upon fulfillment of pullPromise,
		func(any) {
			// 7.1. Set controller.[[pulling]] to false.
			controller.pulling = false

			// 7.2. If controller.[[pullAgain]] is true,
			if controller.pullAgain {
				// 7.2.1. Set controller.[[pullAgain]] to false.
				controller.pullAgain = false

				// 7.2.2. Perform ! ReadableByteStreamControllerCallPullIfNeeded(controller).
				controller.callPullIfNeeded()
			}
		},
		// 8. Upon rejection of pullPromise with reason e,
		func(e error) {
			controller.logger.WithError(e).Debug("pulling from underlying source failed")

			// 8.1. Perform ! ReadableByteStreamControllerError(controller, e).
			controller.error(e)
		},
	)
}

// shouldCallPull implements the [ReadableByteStreamControllerShouldCallPull] algorithm.
//
// [ReadableByteStreamControllerShouldCallPull]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-should-call-pull
func (controller *ReadableByteStreamController) shouldCallPull() bool {
	stream := controller.stream

	if !stream.isReadable() {
		return false
	}

	if controller.closeRequested {
		return false
	}

	if !controller.started {
		return false
	}

	if stream.hasDefaultReader() && stream.getNumReadRequests() > 0 {
		return true
	}

	if stream.hasBYOBReader() && stream.getNumReadIntoRequests() > 0 {
		return true
	}

	return controller.desiredSize() > 0
}

// clearAlgorithms implements the [ReadableByteStreamControllerClearAlgorithms] algorithm.
//
// Once cleared, a late pull completion cannot reach the underlying source anymore.
//
// [ReadableByteStreamControllerClearAlgorithms]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-clear-algorithms
func (controller *ReadableByteStreamController) clearAlgorithms() {
	controller.pullAlgorithm = nil
	controller.cancelAlgorithm = nil
}

// clearPendingPullIntos implements the [ReadableByteStreamControllerClearPendingPullIntos]
// algorithm.
//
// [ReadableByteStreamControllerClearPendingPullIntos]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-clear-pending-pull-intos
func (controller *ReadableByteStreamController) clearPendingPullIntos() {
	controller.invalidateBYOBRequest()
	controller.pendingPullIntos.clearAll()
}

// close implements the [ReadableByteStreamControllerClose] algorithm.
//
// [ReadableByteStreamControllerClose]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-close
func (controller *ReadableByteStreamController) close() error {
	stream := controller.stream

	// 2. If controller.[[closeRequested]] is true or stream.[[state]] is not "readable", return.
	if controller.closeRequested || !stream.isReadable() {
		return nil
	}

	// 3. If controller.[[queueTotalSize]] > 0,
	if controller.queue.Len() > 0 {
		// 3.1. Set controller.[[closeRequested]] to true.
		controller.closeRequested = true

		controller.logger.WithField("queuedBytes", controller.queue.Len()).Debug("close deferred until queue drains")

		// 3.2. Return.
		return nil
	}

	// 4. If controller.[[pendingPullIntos]] is not empty,
	if first := controller.pendingPullIntos.front(); first != nil {
		// 4.2. If firstPendingPullInto’s bytes filled > 0,
		if first.bytesFilled > 0 {
			// 4.2.1. Let e be a new TypeError exception.
			e := newTypeError("close requested while there remain pending bytes")

			// 4.2.2. Perform ! ReadableByteStreamControllerError(controller, e).
			controller.error(e)

			// 4.2.3. Throw e.
			return e
		}
	}

	// 5. Perform ! ReadableByteStreamControllerClearAlgorithms(controller).
	controller.clearAlgorithms()

	// 6. Perform ! ReadableStreamClose(stream).
	stream.close()

	controller.logger.Debug("stream closed")

	// Reads still waiting on a buffer have nothing filled: they complete as done, handing
	// their buffer back empty.
	controller.commitPendingPullIntosOnClose()

	return nil
}

// commitPendingPullIntosOnClose fulfills, as done, every pending read that can no longer
// receive bytes because the stream just closed.
func (controller *ReadableByteStreamController) commitPendingPullIntosOnClose() {
	if controller.pendingPullIntos.len() == 0 {
		return
	}

	controller.invalidateBYOBRequest()
	controller.respondInClosedState(controller.pendingPullIntos.front())

	// Buffers allocated on behalf of a default reader have no read left to serve.
	controller.pendingPullIntos.clearAll()
}

// enqueue implements the [ReadableByteStreamControllerEnqueue] algorithm.
//
// [ReadableByteStreamControllerEnqueue]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-enqueue
func (controller *ReadableByteStreamController) enqueue(chunk []byte) {
	stream := controller.stream

	// 8. If controller.[[pendingPullIntos]] is not empty,
	if first := controller.pendingPullIntos.front(); first != nil {
		// 8.2. Perform ! ReadableByteStreamControllerInvalidateBYOBRequest(controller).
		controller.invalidateBYOBRequest()

		// 8.4. If firstPendingPullInto’s reader type is "none", perform ?
		// ReadableByteStreamControllerEnqueueDetachedPullIntoToQueue(controller, firstPendingPullInto).
		if first.readerType == readerTypeNone {
			controller.enqueueDetachedPullIntoToQueue(first)
		}
	}

	switch {
	// 9. If ! ReadableStreamHasDefaultReader(stream) is true,
	case stream.hasDefaultReader():
		// 9.1. Perform ! ReadableByteStreamControllerProcessReadRequestsUsingQueue(controller).
		controller.processReadRequestsUsingQueue()

		// 9.2. If ! ReadableStreamGetNumReadRequests(stream) is 0,
		if stream.getNumReadRequests() == 0 {
			// 9.2.1. Assert: controller.[[pendingPullIntos]] is empty.
			// 9.2.2. Perform ! ReadableByteStreamControllerEnqueueChunkToQueue(controller, ...).
			controller.queue.Enqueue(chunk)
			break
		}

		// 9.3. Otherwise,
		// 9.3.1. Assert: controller.[[queue]] is empty.
		if controller.queue.Len() != 0 {
			panic(newError(AssertionError, "queue is not empty while read requests are waiting"))
		}

		// 9.3.2. If controller.[[pendingPullIntos]] is not empty,
		if first := controller.pendingPullIntos.front(); first != nil {
			// 9.3.2.1. Assert: controller.[[pendingPullIntos]][0]'s reader type is "default".
			if first.readerType != readerTypeDefault {
				panic(newError(AssertionError, "pending pull-into is not an auto-allocated one"))
			}

			// 9.3.2.2. Perform ! ReadableByteStreamControllerShiftPendingPullInto(controller).
			controller.shiftPendingPullInto()
		}

		// 9.3.3. Perform ! ReadableStreamFulfillReadRequest(stream, transferredView, false).
		stream.fulfillReadRequest(chunk, false)

	// 10. Otherwise, if ! ReadableStreamHasBYOBReader(stream) is true,
	case stream.hasBYOBReader():
		// 10.1. Perform ! ReadableByteStreamControllerEnqueueChunkToQueue(controller, ...).
		controller.queue.Enqueue(chunk)

		// 10.2. Let filledPullIntos be the result of performing !
		// ReadableByteStreamControllerProcessPullIntoDescriptorsUsingQueue(controller).
		filledPullIntos := controller.processPullIntoDescriptorsUsingQueue()

		// 10.3. For each filledPullInto of filledPullIntos,
		for _, filledPullInto := range filledPullIntos {
			// 10.3.1. Perform ! ReadableByteStreamControllerCommitPullIntoDescriptor(stream, filledPullInto).
			controller.commitPullIntoDescriptor(filledPullInto)
		}

	// 11. Otherwise,
	default:
		// 11.1. Assert: ! IsReadableStreamLocked(stream) is false.
		// 11.2. Perform ! ReadableByteStreamControllerEnqueueChunkToQueue(controller, ...).
		controller.queue.Enqueue(chunk)
	}

	// 12. Perform ! ReadableByteStreamControllerCallPullIfNeeded(controller).
	controller.callPullIfNeeded()
}

// enqueueClonedChunkToQueue implements the [ReadableByteStreamControllerEnqueueClonedChunkToQueue]
// algorithm: the queue must own its chunks, so bytes living in a caller's buffer are copied.
//
// [ReadableByteStreamControllerEnqueueClonedChunkToQueue]: https://streams.spec.whatwg.org/#abstract-opdef-readablebytestreamcontrollerenqueueclonedchunktoqueue
func (controller *ReadableByteStreamController) enqueueClonedChunkToQueue(buffer []byte, byteOffset, byteLength int) {
	clone := make([]byte, byteLength)
	copy(clone, buffer[byteOffset:byteOffset+byteLength])
	controller.queue.Enqueue(clone)
}

// enqueueDetachedPullIntoToQueue implements the
// [ReadableByteStreamControllerEnqueueDetachedPullIntoToQueue] algorithm.
//
// [ReadableByteStreamControllerEnqueueDetachedPullIntoToQueue]: https://streams.spec.whatwg.org/#abstract-opdef-readablebytestreamcontrollerenqueuedetachedpullintotoqueue
func (controller *ReadableByteStreamController) enqueueDetachedPullIntoToQueue(pullIntoDescriptor *pullIntoDescriptor) {
	if pullIntoDescriptor.readerType != readerTypeNone {
		panic(newError(AssertionError, "pull-into descriptor still belongs to a reader"))
	}

	if pullIntoDescriptor.bytesFilled > 0 {
		controller.enqueueClonedChunkToQueue(
			pullIntoDescriptor.buffer,
			pullIntoDescriptor.byteOffset,
			pullIntoDescriptor.bytesFilled,
		)
	}

	controller.shiftPendingPullInto()
}

// error implements the [ReadableByteStreamControllerError] algorithm.
//
// [ReadableByteStreamControllerError]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-error
func (controller *ReadableByteStreamController) error(e error) {
	// 1. Let stream be controller.[[stream]].
	stream := controller.stream

	// 2. If stream.[[state]] is not "readable", return.
	if !stream.isReadable() {
		return
	}

	controller.logger.WithError(e).Debug("erroring stream")

	// 3. Perform ! ReadableByteStreamControllerClearPendingPullIntos(controller).
	controller.clearPendingPullIntos()

	// 4. Perform ! ResetQueue(controller).
	controller.queue.Reset()

	// 5. Perform ! ReadableByteStreamControllerClearAlgorithms(controller).
	controller.clearAlgorithms()

	// 6. Perform ! ReadableStreamError(stream, e).
	stream.error(e)
}

// fillHeadPullIntoDescriptor implements the [ReadableByteStreamControllerFillHeadPullIntoDescriptor]
// algorithm.
//
// [ReadableByteStreamControllerFillHeadPullIntoDescriptor]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-fill-head-pull-into-descriptor
func (controller *ReadableByteStreamController) fillHeadPullIntoDescriptor(size int, pullIntoDescriptor *pullIntoDescriptor) {
	if front := controller.pendingPullIntos.front(); front != nil && front != pullIntoDescriptor {
		panic(newError(AssertionError, "pull-into descriptor is not the head of the queue"))
	}

	controller.invalidateBYOBRequest()
	pullIntoDescriptor.bytesFilled += size
}

// fillPullIntoDescriptorFromQueue implements the
// [ReadableByteStreamControllerFillPullIntoDescriptorFromQueue] algorithm.
//
// It copies as many queued bytes as fit into the descriptor, but never leaves it holding a
// partial element past its minimum fill, and reports whether the descriptor can be fulfilled.
//
// [ReadableByteStreamControllerFillPullIntoDescriptorFromQueue]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-fill-pull-into-descriptor-from-queue
func (controller *ReadableByteStreamController) fillPullIntoDescriptorFromQueue(pullIntoDescriptor *pullIntoDescriptor) bool {
	// 1. Let maxBytesToCopy be min(controller.[[queueTotalSize]],
	// pullIntoDescriptor’s byte length − pullIntoDescriptor’s bytes filled).
	maxBytesToCopy := min(
		controller.queue.Len(),
		pullIntoDescriptor.byteLength-pullIntoDescriptor.bytesFilled,
	)

	// 2. Let maxBytesFilled be pullIntoDescriptor’s bytes filled + maxBytesToCopy.
	maxBytesFilled := pullIntoDescriptor.bytesFilled + maxBytesToCopy

	// 3. Let totalBytesToCopyRemaining be maxBytesToCopy.
	totalBytesToCopyRemaining := maxBytesToCopy

	// 4. Let ready be false.
	ready := false

	// 6. Let remainderBytes be the remainder after dividing maxBytesFilled by pullIntoDescriptor’s element size.
	remainderBytes := maxBytesFilled % pullIntoDescriptor.elementSize

	// 7. Let maxAlignedBytes be maxBytesFilled − remainderBytes.
	maxAlignedBytes := maxBytesFilled - remainderBytes

	// 8. If maxAlignedBytes ≥ pullIntoDescriptor’s minimum fill,
	if maxAlignedBytes >= pullIntoDescriptor.minimumFill {
		// 8.1. Set totalBytesToCopyRemaining to maxAlignedBytes − pullIntoDescriptor’s bytes filled.
		totalBytesToCopyRemaining = maxAlignedBytes - pullIntoDescriptor.bytesFilled

		// 8.2. Set ready to true.
		ready = true
	}

	// 10. While totalBytesToCopyRemaining > 0,
	if totalBytesToCopyRemaining > 0 {
		destStart := pullIntoDescriptor.byteOffset + pullIntoDescriptor.bytesFilled
		dest := pullIntoDescriptor.buffer[destStart : destStart+totalBytesToCopyRemaining]

		copied := controller.queue.ReadInto(dest)
		if copied != totalBytesToCopyRemaining {
			panic(newError(AssertionError, "queue held fewer bytes than its total size"))
		}

		controller.fillHeadPullIntoDescriptor(copied, pullIntoDescriptor)
	}

	// 11. If ready is false,
	if !ready {
		// 11.1. Assert: controller.[[queueTotalSize]] is 0.
		if controller.queue.Len() != 0 {
			panic(newError(AssertionError, "queue is not empty after filling a pull-into descriptor"))
		}

		// 11.3. Assert: pullIntoDescriptor’s bytes filled < pullIntoDescriptor’s minimum fill.
		if pullIntoDescriptor.bytesFilled >= pullIntoDescriptor.minimumFill {
			panic(newError(AssertionError, "pull-into descriptor was filled but not reported ready"))
		}
	}

	// 12. Return ready.
	return ready
}

// fillReadRequestFromQueue implements the [ReadableByteStreamControllerFillReadRequestFromQueue]
// algorithm: the front chunk is handed to the read as is, without copying.
//
// [ReadableByteStreamControllerFillReadRequestFromQueue]: https://streams.spec.whatwg.org/#abstract-opdef-readablebytestreamcontrollerfillreadrequestfromqueue
func (controller *ReadableByteStreamController) fillReadRequestFromQueue(readRequest ReadRequest) {
	if controller.queue.Len() == 0 {
		panic(newError(AssertionError, "queue is empty"))
	}

	chunk := controller.queue.Shift()

	controller.handleQueueDrain()

	readRequest.chunkSteps(chunk)
}

// handleQueueDrain implements the [ReadableByteStreamControllerHandleQueueDrain] algorithm.
//
// [ReadableByteStreamControllerHandleQueueDrain]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-handle-queue-drain
func (controller *ReadableByteStreamController) handleQueueDrain() {
	// 1. Assert: controller.[[stream]].[[state]] is "readable".
	if !controller.stream.isReadable() {
		panic(newError(AssertionError, "stream is not readable"))
	}

	// 2. If controller.[[queueTotalSize]] is 0 and controller.[[closeRequested]] is true,
	if controller.queue.Len() == 0 && controller.closeRequested {
		// 2.1. Perform ! ReadableByteStreamControllerClearAlgorithms(controller).
		controller.clearAlgorithms()

		// 2.2. Perform ! ReadableStreamClose(controller.[[stream]]).
		controller.stream.close()
		controller.commitPendingPullIntosOnClose()

		controller.logger.Debug("queue drained, stream closed")
		return
	}

	// 3. Otherwise, perform ! ReadableByteStreamControllerCallPullIfNeeded(controller).
	controller.callPullIfNeeded()
}

// invalidateBYOBRequest implements the [ReadableByteStreamControllerInvalidateBYOBRequest]
// algorithm.
//
// [ReadableByteStreamControllerInvalidateBYOBRequest]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-invalidate-byob-request
func (controller *ReadableByteStreamController) invalidateBYOBRequest() {
	if controller.byobRequest == nil {
		return
	}

	controller.byobRequest.controller = nil
	controller.byobRequest.view = nil
	controller.byobRequest = nil
}

// processPullIntoDescriptorsUsingQueue implements the
// [ReadableByteStreamControllerProcessPullIntoDescriptorsUsingQueue] algorithm.
//
// Queued bytes are spread over the pending descriptors in FIFO order; the descriptors that
// reached their minimum fill are removed and returned, in order.
//
// [ReadableByteStreamControllerProcessPullIntoDescriptorsUsingQueue]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-process-pull-into-descriptors-using-queue
func (controller *ReadableByteStreamController) processPullIntoDescriptorsUsingQueue() []*pullIntoDescriptor {
	// 1. Assert: controller.[[closeRequested]] is false.
	if controller.closeRequested {
		panic(newError(AssertionError, "close was requested"))
	}

	// 2. Let filledPullIntos be a new empty list.
	var filledPullIntos []*pullIntoDescriptor

	// 3. While controller.[[pendingPullIntos]] is not empty,
	for controller.pendingPullIntos.len() > 0 {
		// 3.1. If controller.[[queueTotalSize]] is 0, then break.
		if controller.queue.Len() == 0 {
			break
		}

		// 3.2. Let pullIntoDescriptor be controller.[[pendingPullIntos]][0].
		pullIntoDescriptor := controller.pendingPullIntos.front()

		// 3.3. If ! ReadableByteStreamControllerFillPullIntoDescriptorFromQueue(controller, pullIntoDescriptor) is true,
		if controller.fillPullIntoDescriptorFromQueue(pullIntoDescriptor) {
			// 3.3.1. Perform ! ReadableByteStreamControllerShiftPendingPullInto(controller).
			controller.shiftPendingPullInto()

			// 3.3.2. Append pullIntoDescriptor to filledPullIntos.
			filledPullIntos = append(filledPullIntos, pullIntoDescriptor)
		}
	}

	// 4. Return filledPullIntos.
	return filledPullIntos
}

// processReadRequestsUsingQueue implements the
// [ReadableByteStreamControllerProcessReadRequestsUsingQueue] algorithm.
//
// [ReadableByteStreamControllerProcessReadRequestsUsingQueue]: https://streams.spec.whatwg.org/#abstract-opdef-readablebytestreamcontrollerprocessreadrequestsusingqueue
func (controller *ReadableByteStreamController) processReadRequestsUsingQueue() {
	reader, ok := controller.stream.reader.(*ReadableStreamDefaultReader)
	if !ok {
		panic(newError(AssertionError, "stream does not have a default reader"))
	}

	for len(reader.readRequests) > 0 {
		if controller.queue.Len() == 0 {
			return
		}

		readRequest := reader.readRequests[0]
		reader.readRequests = reader.readRequests[1:]

		controller.fillReadRequestFromQueue(readRequest)
	}
}

// pullInto implements the [ReadableByteStreamControllerPullInto] algorithm.
//
// [ReadableByteStreamControllerPullInto]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-pull-into
func (controller *ReadableByteStreamController) pullInto(
	view []byte,
	elementSize int,
	minimumFill int,
	readIntoRequest ReadIntoRequest,
) {
	stream := controller.stream

	pullIntoDescriptor := &pullIntoDescriptor{
		buffer:      view,
		byteOffset:  0,
		byteLength:  len(view),
		bytesFilled: 0,
		minimumFill: minimumFill,
		elementSize: elementSize,
		readerType:  readerTypeBYOB,
	}

	// 14. If controller.[[pendingPullIntos]] is not empty,
	if controller.pendingPullIntos.len() > 0 {
		// 14.1. Append pullIntoDescriptor to controller.[[pendingPullIntos]].
		controller.pendingPullIntos.push(pullIntoDescriptor)

		// 14.2. Perform ! ReadableStreamAddReadIntoRequest(stream, readIntoRequest).
		stream.addReadIntoRequest(readIntoRequest)

		// 14.3. Return.
		return
	}

	// 15. If stream.[[state]] is "closed",
	if stream.state == ReadableStreamStateClosed {
		// 15.1. Let emptyView be ! Construct(ctor, « pullIntoDescriptor’s buffer, pullIntoDescriptor’s byte offset, 0 »).
		// 15.2. Perform readIntoRequest’s close steps, given emptyView.
		readIntoRequest.closeSteps(pullIntoDescriptor.filledView())

		// 15.3. Return.
		return
	}

	// 16. If controller.[[queueTotalSize]] > 0,
	if controller.queue.Len() > 0 {
		// 16.1. If ! ReadableByteStreamControllerFillPullIntoDescriptorFromQueue(controller, pullIntoDescriptor) is true,
		if controller.fillPullIntoDescriptorFromQueue(pullIntoDescriptor) {
			// 16.1.1. Let filledView be ! ReadableByteStreamControllerConvertPullIntoDescriptor(pullIntoDescriptor).
			filledView := pullIntoDescriptor.filledView()

			// 16.1.2. Perform ! ReadableByteStreamControllerHandleQueueDrain(controller).
			controller.handleQueueDrain()

			// 16.1.3. Perform readIntoRequest’s chunk steps, given filledView.
			readIntoRequest.chunkSteps(filledView)

			// 16.1.4. Return.
			return
		}

		// 16.2. If controller.[[closeRequested]] is true,
		if controller.closeRequested {
			// 16.2.1. Let e be a new TypeError exception.
			e := newTypeError("close requested while a read cannot be filled from the remaining bytes")

			// 16.2.2. Perform ! ReadableByteStreamControllerError(controller, e).
			controller.error(e)

			// 16.2.3. Perform readIntoRequest’s error steps, given e.
			readIntoRequest.errorSteps(e)

			// 16.2.4. Return.
			return
		}
	}

	// 17. Append pullIntoDescriptor to controller.[[pendingPullIntos]].
	controller.pendingPullIntos.push(pullIntoDescriptor)

	// 18. Perform ! ReadableStreamAddReadIntoRequest(stream, readIntoRequest).
	stream.addReadIntoRequest(readIntoRequest)

	// 19. Perform ! ReadableByteStreamControllerCallPullIfNeeded(controller).
	controller.callPullIfNeeded()
}

// respond implements the [ReadableByteStreamControllerRespond] algorithm.
//
// [ReadableByteStreamControllerRespond]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-respond
func (controller *ReadableByteStreamController) respond(bytesWritten int) error {
	// 1. Assert: controller.[[pendingPullIntos]] is not empty.
	firstDescriptor := controller.pendingPullIntos.front()
	if firstDescriptor == nil {
		return newError(AssertionError, "no pending pull-into to respond to")
	}

	// 3. Let state be controller.[[stream]].[[state]].
	state := controller.stream.state

	if bytesWritten < 0 {
		return newRangeError("bytesWritten must not be negative")
	}

	// 4. If state is "closed",
	if state == ReadableStreamStateClosed {
		// 4.1. If bytesWritten is not 0, throw a TypeError exception.
		if bytesWritten != 0 {
			return newTypeError("bytesWritten must be 0 when the stream is closed")
		}
	} else {
		// 5.1. Assert: state is "readable".
		if state != ReadableStreamStateReadable {
			return newTypeError("cannot respond on a stream that is not readable")
		}

		// 5.2. If bytesWritten is 0, throw a TypeError exception.
		if bytesWritten == 0 {
			return newTypeError("bytesWritten must be greater than 0 when the stream is readable")
		}

		// 5.3. If firstDescriptor’s bytes filled + bytesWritten > firstDescriptor’s byte length,
		// throw a RangeError exception.
		if firstDescriptor.bytesFilled+bytesWritten > firstDescriptor.byteLength {
			return newRangeError("bytesWritten out of range")
		}
	}

	// 7. Perform ? ReadableByteStreamControllerRespondInternal(controller, bytesWritten).
	controller.respondInternal(bytesWritten)
	return nil
}

// respondInClosedState implements the [ReadableByteStreamControllerRespondInClosedState]
// algorithm.
//
// [ReadableByteStreamControllerRespondInClosedState]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-respond-in-closed-state
func (controller *ReadableByteStreamController) respondInClosedState(firstDescriptor *pullIntoDescriptor) {
	// 1. Assert: the remainder after dividing firstDescriptor’s bytes filled by firstDescriptor’s element size is 0.
	if firstDescriptor.bytesFilled%firstDescriptor.elementSize != 0 {
		panic(newError(AssertionError, "pull-into descriptor holds a partial element"))
	}

	// 2. If firstDescriptor’s reader type is "none", perform ! ReadableByteStreamControllerShiftPendingPullInto(controller).
	if firstDescriptor.readerType == readerTypeNone {
		controller.shiftPendingPullInto()
	}

	stream := controller.stream

	// 4. If ! ReadableStreamHasBYOBReader(stream) is true,
	if stream.hasBYOBReader() {
		// 4.1. While ! ReadableStreamGetNumReadIntoRequests(stream) > 0,
		for stream.getNumReadIntoRequests() > 0 && controller.pendingPullIntos.len() > 0 {
			// 4.1.1. Let pullIntoDescriptor be ! ReadableByteStreamControllerShiftPendingPullInto(controller).
			pullIntoDescriptor := controller.shiftPendingPullInto()

			// 4.1.2. Perform ! ReadableByteStreamControllerCommitPullIntoDescriptor(stream, pullIntoDescriptor).
			controller.commitPullIntoDescriptor(pullIntoDescriptor)
		}
	}
}

// respondInReadableState implements the [ReadableByteStreamControllerRespondInReadableState]
// algorithm.
//
// [ReadableByteStreamControllerRespondInReadableState]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-respond-in-readable-state
func (controller *ReadableByteStreamController) respondInReadableState(bytesWritten int, pullIntoDescriptor *pullIntoDescriptor) {
	// 1. Assert: pullIntoDescriptor’s bytes filled + bytesWritten ≤ pullIntoDescriptor’s byte length.
	if pullIntoDescriptor.bytesFilled+bytesWritten > pullIntoDescriptor.byteLength {
		panic(newError(AssertionError, "pull-into descriptor overflow"))
	}

	// 2. Perform ! ReadableByteStreamControllerFillHeadPullIntoDescriptor(controller, bytesWritten, pullIntoDescriptor).
	controller.fillHeadPullIntoDescriptor(bytesWritten, pullIntoDescriptor)

	// 3. If pullIntoDescriptor’s reader type is "none",
	if pullIntoDescriptor.readerType == readerTypeNone {
		// 3.1. Perform ? ReadableByteStreamControllerEnqueueDetachedPullIntoToQueue(controller, pullIntoDescriptor).
		controller.enqueueDetachedPullIntoToQueue(pullIntoDescriptor)

		// 3.2. Let filledPullIntos be the result of performing !
		// ReadableByteStreamControllerProcessPullIntoDescriptorsUsingQueue(controller).
		filledPullIntos := controller.processPullIntoDescriptorsUsingQueue()

		// 3.3. For each filledPullInto of filledPullIntos,
		for _, filledPullInto := range filledPullIntos {
			controller.commitPullIntoDescriptor(filledPullInto)
		}

		// 3.4. Return.
		return
	}

	// 4. If pullIntoDescriptor’s bytes filled < pullIntoDescriptor’s minimum fill, return.
	if pullIntoDescriptor.bytesFilled < pullIntoDescriptor.minimumFill {
		return
	}

	// 5. Perform ! ReadableByteStreamControllerShiftPendingPullInto(controller).
	controller.shiftPendingPullInto()

	// 6. Let remainderSize be the remainder after dividing pullIntoDescriptor’s bytes filled by
	// pullIntoDescriptor’s element size.
	remainderSize := pullIntoDescriptor.bytesFilled % pullIntoDescriptor.elementSize

	// 7. If remainderSize > 0,
	if remainderSize > 0 {
		// 7.1. Let end be pullIntoDescriptor’s byte offset + pullIntoDescriptor’s bytes filled.
		end := pullIntoDescriptor.byteOffset + pullIntoDescriptor.bytesFilled

		// 7.2. Perform ? ReadableByteStreamControllerEnqueueClonedChunkToQueue(controller,
		// pullIntoDescriptor’s buffer, end − remainderSize, remainderSize).
		controller.enqueueClonedChunkToQueue(pullIntoDescriptor.buffer, end-remainderSize, remainderSize)
	}

	// 8. Set pullIntoDescriptor’s bytes filled to pullIntoDescriptor’s bytes filled − remainderSize.
	pullIntoDescriptor.bytesFilled -= remainderSize

	// 9. Let filledPullIntos be the result of performing !
	// ReadableByteStreamControllerProcessPullIntoDescriptorsUsingQueue(controller).
	filledPullIntos := controller.processPullIntoDescriptorsUsingQueue()

	// 10. Perform ! ReadableByteStreamControllerCommitPullIntoDescriptor(controller.[[stream]], pullIntoDescriptor).
	controller.commitPullIntoDescriptor(pullIntoDescriptor)

	// 11. For each filledPullInto of filledPullIntos,
	for _, filledPullInto := range filledPullIntos {
		controller.commitPullIntoDescriptor(filledPullInto)
	}
}

// respondInternal implements the [ReadableByteStreamControllerRespondInternal] algorithm.
//
// [ReadableByteStreamControllerRespondInternal]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-respond-internal
func (controller *ReadableByteStreamController) respondInternal(bytesWritten int) {
	firstDescriptor := controller.pendingPullIntos.front()

	controller.invalidateBYOBRequest()

	if controller.stream.state == ReadableStreamStateClosed {
		if bytesWritten != 0 {
			panic(newError(AssertionError, "bytesWritten is not 0 on a closed stream"))
		}
		controller.respondInClosedState(firstDescriptor)
	} else {
		controller.respondInReadableState(bytesWritten, firstDescriptor)
	}

	controller.callPullIfNeeded()
}

// shiftPendingPullInto implements the [ReadableByteStreamControllerShiftPendingPullInto]
// algorithm.
//
// [ReadableByteStreamControllerShiftPendingPullInto]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-shift-pending-pull-into
func (controller *ReadableByteStreamController) shiftPendingPullInto() *pullIntoDescriptor {
	if controller.byobRequest != nil {
		panic(newError(AssertionError, "a BYOB request is still handed out"))
	}

	return controller.pendingPullIntos.shift()
}

// commitPullIntoDescriptor implements the [ReadableByteStreamControllerCommitPullIntoDescriptor]
// algorithm: the filled part of the buffer goes back to the read that supplied it.
//
// [ReadableByteStreamControllerCommitPullIntoDescriptor]: https://streams.spec.whatwg.org/#readable-byte-stream-controller-commit-pull-into-descriptor
func (controller *ReadableByteStreamController) commitPullIntoDescriptor(pullIntoDescriptor *pullIntoDescriptor) {
	stream := controller.stream

	// 1. Assert: stream.[[state]] is not "errored".
	if stream.state == ReadableStreamStateErrored {
		panic(newError(AssertionError, "stream is errored"))
	}

	// 2. Assert: pullIntoDescriptor.reader type is not "none".
	if pullIntoDescriptor.readerType == readerTypeNone {
		panic(newError(AssertionError, "pull-into descriptor has no reader"))
	}

	// 3. Let done be false.
	done := false

	// 4. If stream.[[state]] is "closed",
	if stream.state == ReadableStreamStateClosed {
		// 4.1. Assert: the remainder after dividing pullIntoDescriptor’s bytes filled by
		// pullIntoDescriptor’s element size is 0.
		if pullIntoDescriptor.bytesFilled%pullIntoDescriptor.elementSize != 0 {
			panic(newError(AssertionError, "pull-into descriptor holds a partial element"))
		}

		// 4.2. Set done to true.
		done = true
	}

	// 5. Let filledView be ! ReadableByteStreamControllerConvertPullIntoDescriptor(pullIntoDescriptor).
	filledView := pullIntoDescriptor.filledView()

	if pullIntoDescriptor.readerType == readerTypeDefault {
		// 6. If pullIntoDescriptor’s reader type is "default",
		// 6.1. Perform ! ReadableStreamFulfillReadRequest(stream, filledView, done).
		stream.fulfillReadRequest(filledView, done)
	} else {
		// 7. Otherwise,
		// 7.2. Perform ! ReadableStreamFulfillReadIntoRequest(stream, filledView, done).
		stream.fulfillReadIntoRequest(filledView, done)
	}
}

// cancelSteps implements the [[CancelSteps]] contract of readable stream controllers.
//
// Every pending BYOB buffer is handed back unfilled, queued bytes are dropped, and the reason
// is forwarded to the underlying source, whose outcome is returned.
func (controller *ReadableByteStreamController) cancelSteps(reason any) *promises.Promise[any] {
	// 1. Perform ! ReadableByteStreamControllerClearPendingPullIntos(this).
	controller.clearPendingPullIntos()

	// 2. Perform ! ResetQueue(this).
	controller.queue.Reset()

	// 3. Let result be the result of performing this.[[cancelAlgorithm]], passing in reason.
	var result *promises.Promise[any]
	if controller.cancelAlgorithm != nil {
		result = controller.cancelAlgorithm(reason)
	} else {
		result = promises.Resolved[any](controller.stream.loop, nil)
	}

	// 4. Perform ! ReadableByteStreamControllerClearAlgorithms(this).
	controller.clearAlgorithms()

	// 5. Return result.
	return result
}

// pullSteps implements the [[PullSteps]] contract of readable stream controllers, that is
// what happens when a default reader reads.
func (controller *ReadableByteStreamController) pullSteps(readRequest ReadRequest) {
	// 1. Let stream be this.[[stream]].
	stream := controller.stream

	// 2. Assert: ! ReadableStreamHasDefaultReader(stream) is true.
	if !stream.hasDefaultReader() {
		panic(newError(AssertionError, "stream does not have a default reader"))
	}

	// 3. If this.[[queueTotalSize]] > 0,
	if controller.queue.Len() > 0 {
		// 3.1. Assert: ! ReadableStreamGetNumReadRequests(stream) is 0.
		if stream.getNumReadRequests() != 0 {
			panic(newError(AssertionError, "read requests are waiting while bytes are queued"))
		}

		// 3.2. Perform ! ReadableByteStreamControllerFillReadRequestFromQueue(this, readRequest).
		controller.fillReadRequestFromQueue(readRequest)

		// 3.3. Return.
		return
	}

	// 4. Let autoAllocateChunkSize be this.[[autoAllocateChunkSize]].
	// 5. If autoAllocateChunkSize is not undefined,
	if controller.autoAllocateChunkSize.Valid {
		size := int(controller.autoAllocateChunkSize.Int64)

		// 5.1. Let buffer be Construct(%ArrayBuffer%, « autoAllocateChunkSize »).
		buffer := make([]byte, size)

		// 5.3. Let pullIntoDescriptor be a new pull-into descriptor with ...
		// 5.4. Append pullIntoDescriptor to this.[[pendingPullIntos]].
		controller.pendingPullIntos.push(&pullIntoDescriptor{
			buffer:      buffer,
			byteOffset:  0,
			byteLength:  size,
			bytesFilled: 0,
			minimumFill: 1,
			elementSize: 1,
			readerType:  readerTypeDefault,
		})
	}

	// 6. Perform ! ReadableStreamAddReadRequest(stream, readRequest).
	stream.addReadRequest(readRequest)

	// 7. Perform ! ReadableByteStreamControllerCallPullIfNeeded(this).
	controller.callPullIfNeeded()
}

// releaseSteps implements the [[ReleaseSteps]] contract of readable stream controllers.
//
// Only the oldest pending buffer is kept: the underlying source may be writing into it. It is
// detached from any reader, and its bytes will be queued once the source responds.
func (controller *ReadableByteStreamController) releaseSteps() {
	// 1. If this.[[pendingPullIntos]] is not empty,
	if first := controller.pendingPullIntos.front(); first != nil {
		// 1.2. Set firstPendingPullInto’s reader type to "none".
		first.readerType = readerTypeNone

		// 1.3. Set this.[[pendingPullIntos]] to the list « firstPendingPullInto ».
		controller.pendingPullIntos.retainFront()
	}
}
