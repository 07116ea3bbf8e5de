// Package promises provides a minimal promise type whose reactions are dispatched on an
// [eventloop.EventLoop].
//
// A promise is settled at most once. Reactions registered with [Promise.Then] never run
// inline: they are queued as event loop tasks, in registration order, once the promise
// settles. This is what makes every producer hook and read completion a suspension point.
package promises

import (
	"go.k6.io/bytestreams/eventloop"
)

// State is the settlement state of a [Promise].
type State uint8

const (
	// StatePending indicates the promise has not been settled yet.
	StatePending State = iota

	// StateFulfilled indicates the promise was resolved with a value.
	StateFulfilled

	// StateRejected indicates the promise was rejected with a reason.
	StateRejected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Promise is the eventual outcome of an asynchronous operation.
//
// Its state must only be touched from the event loop goroutine. Use [NewAsync] to get
// settle functions that are safe to call from other goroutines.
type Promise[T any] struct {
	loop *eventloop.EventLoop

	state     State
	result    T
	reason    error
	reactions []reaction[T]
}

type reaction[T any] struct {
	onFulfilled func(T)
	onRejected  func(error)
}

// New creates a pending promise together with the functions settling it.
//
// The returned functions must be called from the event loop goroutine. Only the first call
// to either of them has any effect.
func New[T any](loop *eventloop.EventLoop) (p *Promise[T], resolve func(result T), reject func(reason error)) {
	p = &Promise[T]{loop: loop}
	return p, p.resolve, p.reject
}

// NewAsync creates a pending promise whose settle functions can be called from any
// goroutine.
//
// The event loop is kept alive until one of them is called, which must happen exactly once.
// A typical usage would be:
//
//	func readAsync(loop *eventloop.EventLoop, r io.Reader, buf []byte) *promises.Promise[int] {
//		promise, resolve, reject := promises.NewAsync[int](loop)
//		go func() {
//			n, err := r.Read(buf)
//			if err != nil {
//				reject(err)
//				return
//			}
//			resolve(n)
//		}()
//		return promise
//	}
func NewAsync[T any](loop *eventloop.EventLoop) (p *Promise[T], resolve func(result T), reject func(reason error)) {
	p = &Promise[T]{loop: loop}
	callback := loop.RegisterCallback()

	resolve = func(result T) {
		callback(func() error {
			p.resolve(result)
			return nil
		})
	}

	reject = func(reason error) {
		callback(func() error {
			p.reject(reason)
			return nil
		})
	}

	return p, resolve, reject
}

// Resolved returns a promise already fulfilled with v.
func Resolved[T any](loop *eventloop.EventLoop, v T) *Promise[T] {
	p := &Promise[T]{loop: loop}
	p.resolve(v)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected[T any](loop *eventloop.EventLoop, err error) *Promise[T] {
	p := &Promise[T]{loop: loop}
	p.reject(err)
	return p
}

// State returns the current state of the promise.
func (p *Promise[T]) State() State {
	return p.state
}

// Result returns the value the promise was fulfilled with, or the zero value of T.
func (p *Promise[T]) Result() T {
	return p.result
}

// Reason returns the reason the promise was rejected with, or nil.
func (p *Promise[T]) Reason() error {
	return p.reason
}

// Then registers reactions to the settlement of the promise. Either of them may be nil.
//
// The matching reaction is queued on the event loop once the promise settles, or right away
// if it already has.
func (p *Promise[T]) Then(onFulfilled func(T), onRejected func(error)) {
	r := reaction[T]{onFulfilled: onFulfilled, onRejected: onRejected}
	if p.state == StatePending {
		p.reactions = append(p.reactions, r)
		return
	}

	p.schedule(r)
}

func (p *Promise[T]) resolve(result T) {
	if p.state != StatePending {
		return
	}

	p.state, p.result = StateFulfilled, result
	p.flush()
}

func (p *Promise[T]) reject(reason error) {
	if p.state != StatePending {
		return
	}

	p.state, p.reason = StateRejected, reason
	p.flush()
}

func (p *Promise[T]) flush() {
	reactions := p.reactions
	p.reactions = nil

	for _, r := range reactions {
		p.schedule(r)
	}
}

func (p *Promise[T]) schedule(r reaction[T]) {
	state, result, reason := p.state, p.result, p.reason

	p.loop.Enqueue(func() error {
		switch state {
		case StateFulfilled:
			if r.onFulfilled != nil {
				r.onFulfilled(result)
			}
		case StateRejected:
			if r.onRejected != nil {
				r.onRejected(reason)
			}
		case StatePending:
		}

		return nil
	})
}
