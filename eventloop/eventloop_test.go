package eventloop_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/internal/testutils"
)

func TestMain(m *testing.M) {
	testutils.Main(m)
}

func TestEventLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	var ran []int
	err := loop.Start(func() error {
		ran = append(ran, 1)
		loop.Enqueue(func() error {
			ran = append(ran, 3)
			loop.Enqueue(func() error {
				ran = append(ran, 5)
				return nil
			})
			return nil
		})
		loop.Enqueue(func() error {
			ran = append(ran, 4)
			return nil
		})
		ran = append(ran, 2)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ran)
}

func TestEventLoopWaitsForRegisteredCallbacks(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	var (
		wg     sync.WaitGroup
		called bool
	)
	err := loop.Start(func() error {
		callback := loop.RegisterCallback()
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			callback(func() error {
				called = true
				return nil
			})
		}()
		return nil
	})
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, called)
}

func TestEventLoopStopsOnError(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	errBoom := errors.New("boom")

	var ranAfter bool
	err := loop.Start(func() error {
		loop.Enqueue(func() error { return errBoom })
		loop.Enqueue(func() error {
			ranAfter = true
			return nil
		})
		return nil
	})

	require.ErrorIs(t, err, errBoom)
	assert.False(t, ranAfter)

	// The task queued behind the failing one runs on the next start.
	require.NoError(t, loop.Start(func() error { return nil }))
	assert.True(t, ranAfter)
}

func TestEventLoopRecoversPanics(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	errBoom := errors.New("boom")

	err := loop.Start(func() error {
		panic(errBoom)
	})
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "event loop task panicked")

	err = loop.Start(func() error {
		panic("not an error")
	})
	require.ErrorContains(t, err, "not an error")
}

func TestEventLoopIsNotReentrant(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	var nested error
	require.NoError(t, loop.Start(func() error {
		nested = loop.Start(func() error { return nil })
		return nil
	}))
	assert.ErrorContains(t, nested, "already running")
}

func TestRegisterCallbackCalledTwicePanics(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	callback := loop.RegisterCallback()
	callback(func() error { return nil })

	assert.PanicsWithValue(t, "RegisterCallback called twice", func() {
		callback(func() error { return nil })
	})

	require.NoError(t, loop.Start(func() error { return nil }))
}

func TestWaitOnRegistered(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	errBoom := errors.New("boom")

	var (
		wg     sync.WaitGroup
		called bool
	)
	release := make(chan struct{})
	err := loop.Start(func() error {
		callback := loop.RegisterCallback()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			callback(func() error {
				called = true
				return nil
			})
		}()
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	close(release)
	loop.WaitOnRegistered()
	wg.Wait()

	assert.False(t, called)
}
