package streams

import (
	"fmt"

	"gopkg.in/guregu/null.v3"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
)

// UnderlyingByteSource represents the producer of a byte stream, and defines how bytes are
// pulled from it. Every hook is optional.
type UnderlyingByteSource struct {
	// Start is called once, when the stream is created.
	//
	// Typically, this is used to adapt a push source by setting up relevant event listeners.
	// If the setup process is asynchronous, it can return a promise to signal success or
	// failure; a rejected promise, or a returned error, will error the stream. The controller
	// accepts enqueued bytes before Start completes, but never pulls before.
	Start UnderlyingByteSourceStartCallback

	// Pull is called whenever the stream's internal queue becomes not full, i.e. whenever
	// its desired size becomes positive, or when a read is waiting for bytes.
	//
	// It will not be called until Start successfully completes, and it is never called again
	// while the promise it returned is still pending. Pull requests arriving in the meantime
	// are coalesced into a single follow-up call.
	Pull UnderlyingByteSourcePullCallback

	// Cancel is called when the stream's or reader's Cancel method is called, with the same
	// reason. It is generally used to release access to the underlying resource. Its outcome
	// is communicated through the promise returned by the Cancel method that was called.
	Cancel UnderlyingByteSourceCancelCallback

	// AutoAllocateChunkSize can be set to a positive integer to cause the stream to allocate
	// buffers for the underlying source to write into. When a consumer is using a default
	// reader, a buffer of this size is allocated for every read that has to wait, so that
	// [ReadableByteStreamController.BYOBRequest] is always present, as if the consumer was
	// using a BYOB reader.
	AutoAllocateChunkSize null.Int `json:"autoAllocateChunkSize"`
}

// UnderlyingByteSourceStartCallback is called when the stream is created. A nil promise with
// a nil error means the source started synchronously.
type UnderlyingByteSourceStartCallback func(controller *ReadableByteStreamController) (*promises.Promise[any], error)

// UnderlyingByteSourcePullCallback is called whenever the stream wants more bytes. A nil
// promise with a nil error means the pull completed synchronously.
type UnderlyingByteSourcePullCallback func(controller *ReadableByteStreamController) (*promises.Promise[any], error)

// UnderlyingByteSourceCancelCallback is called when the consumer cancels the stream.
type UnderlyingByteSourceCancelCallback func(reason any) (*promises.Promise[any], error)

// startAlgorithm, pullAlgorithm and cancelAlgorithm are the normalized forms of the hooks:
// they always return a promise, whether the hook is set or not.
type (
	startAlgorithm  func(controller *ReadableByteStreamController) *promises.Promise[any]
	pullAlgorithm   func(controller *ReadableByteStreamController) *promises.Promise[any]
	cancelAlgorithm func(reason any) *promises.Promise[any]
)

func newStartAlgorithm(loop *eventloop.EventLoop, source UnderlyingByteSource) startAlgorithm {
	if source.Start == nil {
		return func(*ReadableByteStreamController) *promises.Promise[any] {
			return promises.Resolved[any](loop, nil)
		}
	}

	return func(c *ReadableByteStreamController) *promises.Promise[any] {
		return invokeHook(loop, "start", func() (*promises.Promise[any], error) {
			return source.Start(c)
		})
	}
}

func newPullAlgorithm(loop *eventloop.EventLoop, source UnderlyingByteSource) pullAlgorithm {
	if source.Pull == nil {
		return func(*ReadableByteStreamController) *promises.Promise[any] {
			return promises.Resolved[any](loop, nil)
		}
	}

	return func(c *ReadableByteStreamController) *promises.Promise[any] {
		return invokeHook(loop, "pull", func() (*promises.Promise[any], error) {
			return source.Pull(c)
		})
	}
}

func newCancelAlgorithm(loop *eventloop.EventLoop, source UnderlyingByteSource) cancelAlgorithm {
	if source.Cancel == nil {
		return func(any) *promises.Promise[any] {
			return promises.Resolved[any](loop, nil)
		}
	}

	return func(reason any) *promises.Promise[any] {
		return invokeHook(loop, "cancel", func() (*promises.Promise[any], error) {
			return source.Cancel(reason)
		})
	}
}

// invokeHook calls hook and turns whatever it does (returning a promise, returning an error,
// returning nothing, or panicking) into a promise.
func invokeHook(
	loop *eventloop.EventLoop,
	name string,
	hook func() (*promises.Promise[any], error),
) (p *promises.Promise[any]) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				p = promises.Rejected[any](loop, fmt.Errorf("underlying source %s panicked: %w", name, err))
				return
			}
			p = promises.Rejected[any](loop, fmt.Errorf("underlying source %s panicked: %v", name, r))
		}
	}()

	result, err := hook()
	if err != nil {
		return promises.Rejected[any](loop, err)
	}

	if result == nil {
		return promises.Resolved[any](loop, nil)
	}

	return result
}
