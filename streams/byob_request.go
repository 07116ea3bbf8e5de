package streams

// ReadableStreamBYOBRequest represents a pull-into request in a [ReadableByteStreamController].
//
// It hands the underlying source the unfilled part of the buffer of the oldest pending read.
// The source writes bytes into View, then reports how many with Respond.
//
// [ReadableStreamBYOBRequest]: https://streams.spec.whatwg.org/#rs-byob-request-class
type ReadableStreamBYOBRequest struct {
	controller *ReadableByteStreamController
	view       []byte
}

// View returns the buffer to write into, or nil once the request was invalidated.
func (request *ReadableStreamBYOBRequest) View() []byte {
	return request.view
}

// Respond signals that bytesWritten bytes were written into View.
//
// Once the stream is closed, the only valid response is 0, which hands the buffer back to the
// read as is. The request is invalidated by a successful response.
func (request *ReadableStreamBYOBRequest) Respond(bytesWritten int) error {
	// 1. If this.[[controller]] is undefined, throw a TypeError exception.
	if request.controller == nil {
		return newTypeError("BYOB request was invalidated")
	}

	// 3. Assert: this.[[view]].[[ByteLength]] > 0.
	if len(request.view) == 0 {
		return newError(AssertionError, "BYOB request view is empty")
	}

	// 5. Perform ? ReadableByteStreamControllerRespond(this.[[controller]], bytesWritten).
	return request.controller.respond(bytesWritten)
}

// getBYOBRequest implements the [ReadableByteStreamControllerGetBYOBRequest] algorithm.
//
// [ReadableByteStreamControllerGetBYOBRequest]: https://streams.spec.whatwg.org/#abstract-opdef-readablebytestreamcontrollergetbyobrequest
func (controller *ReadableByteStreamController) getBYOBRequest() *ReadableStreamBYOBRequest {
	// 1. If controller.[[byobRequest]] is null and controller.[[pendingPullIntos]] is not empty,
	if controller.byobRequest == nil && controller.pendingPullIntos.len() > 0 {
		// 1.1. Let firstDescriptor be controller.[[pendingPullIntos]][0].
		firstDescriptor := controller.pendingPullIntos.front()

		// 1.2. Let view be ! Construct(%Uint8Array%, « firstDescriptor’s buffer,
		// firstDescriptor’s byte offset + firstDescriptor’s bytes filled,
		// firstDescriptor’s byte length − firstDescriptor’s bytes filled »).
		// 1.3. Let byobRequest be a new ReadableStreamBYOBRequest.
		// 1.4. Set byobRequest.[[controller]] to controller.
		// 1.5. Set byobRequest.[[view]] to view.
		// 1.6. Set controller.[[byobRequest]] to byobRequest.
		controller.byobRequest = &ReadableStreamBYOBRequest{
			controller: controller,
			view:       firstDescriptor.unfilledView(),
		}
	}

	// 2. Return controller.[[byobRequest]].
	return controller.byobRequest
}
