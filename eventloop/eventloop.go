// Package eventloop implements the single-threaded cooperative scheduler that every
// byte stream operation runs on.
//
// Work only ever executes on the goroutine that called [EventLoop.Start]. Other goroutines
// can hand work back to the loop through a callback obtained from
// [EventLoop.RegisterCallback]; the loop will not return while such a callback is
// outstanding.
package eventloop

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventLoop runs queued tasks one after the other, in FIFO order.
type EventLoop struct {
	lock                sync.Mutex
	queue               []func() error
	wakeupCh            chan struct{}
	registeredCallbacks int
	running             bool

	logger logrus.FieldLogger
}

// New returns a new event loop. A nil logger discards the loop's log output.
func New(logger logrus.FieldLogger) *EventLoop {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &EventLoop{
		wakeupCh: make(chan struct{}, 1),
		logger:   logger.WithField("component", "eventloop"),
	}
}

func (e *EventLoop) wakeup() {
	select {
	case e.wakeupCh <- struct{}{}:
	default:
	}
}

// RegisterCallback signals to the event loop that you are going to do some asynchronous work
// off the loop and will need to run a callback on it when it is done.
//
// The returned function must be called exactly once, from any goroutine. Until it is called,
// [EventLoop.Start] will keep waiting instead of returning. The callback it is given is queued
// like any other task.
func (e *EventLoop) RegisterCallback() func(func() error) {
	e.lock.Lock()
	var callbackCalled bool
	e.registeredCallbacks++
	e.lock.Unlock()

	return func(f func() error) {
		e.lock.Lock()
		defer e.lock.Unlock()

		if callbackCalled {
			panic("RegisterCallback called twice")
		}
		callbackCalled = true
		e.queue = append(e.queue, f)
		e.registeredCallbacks--
		e.wakeup()
	}
}

// Enqueue adds a task at the back of the loop's queue. Unlike a registered callback it does
// not keep the loop alive on its own; it is meant for continuations scheduled from tasks that
// are already running on the loop, such as promise reactions.
func (e *EventLoop) Enqueue(f func() error) {
	e.lock.Lock()
	e.queue = append(e.queue, f)
	e.lock.Unlock()
	e.wakeup()
}

func (e *EventLoop) popAll() (queue []func() error, awaiting bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	queue = e.queue
	e.queue = make([]func() error, 0, len(queue))
	awaiting = e.registeredCallbacks != 0

	return queue, awaiting
}

func (e *EventLoop) putInFront(queue []func() error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.queue = append(queue, e.queue...)
}

// Start runs firstCallback on the loop, and then keeps running queued tasks until the queue
// is empty and no registered callback is outstanding.
//
// The first error returned by a task stops the loop and is returned; the tasks that were
// queued behind it stay queued. A task that panics is reported as an error as well.
func (e *EventLoop) Start(firstCallback func() error) error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		return fmt.Errorf("event loop is already running")
	}
	e.running = true
	e.queue = append([]func() error{firstCallback}, e.queue...)
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for {
		queue, awaiting := e.popAll()

		if len(queue) == 0 {
			if !awaiting {
				return nil
			}
			<-e.wakeupCh
			continue
		}

		for i, f := range queue {
			if err := runTask(f); err != nil {
				e.putInFront(queue[i+1:])
				e.logger.WithError(err).Debug("event loop task failed, stopping")
				return err
			}
		}
	}
}

// WaitOnRegistered blocks until every registered callback has been called, discarding the
// tasks they hand back. It is used to make sure no goroutine is still going to touch the loop
// after it was stopped by an error.
func (e *EventLoop) WaitOnRegistered() {
	for {
		_, awaiting := e.popAll()
		if !awaiting {
			return
		}
		<-e.wakeupCh
	}
}

func runTask(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("event loop task panicked: %w", rerr)
				return
			}
			err = fmt.Errorf("event loop task panicked: %v", r)
		}
	}()

	return f()
}
