package promises_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
)

func TestPromiseReactionsAreQueued(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	var order []string
	err := loop.Start(func() error {
		p, resolve, _ := promises.New[int](loop)
		p.Then(func(v int) {
			order = append(order, "first reaction")
			assert.Equal(t, 42, v)
		}, nil)
		p.Then(func(int) {
			order = append(order, "second reaction")
		}, func(error) {
			order = append(order, "unexpected rejection")
		})

		resolve(42)
		order = append(order, "resolved")

		assert.Equal(t, promises.StateFulfilled, p.State())
		assert.Equal(t, 42, p.Result())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"resolved", "first reaction", "second reaction"}, order)
}

func TestPromiseSettlesOnce(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	errBoom := errors.New("boom")

	var rejections int
	err := loop.Start(func() error {
		p, resolve, reject := promises.New[string](loop)
		p.Then(nil, func(err error) {
			rejections++
			assert.ErrorIs(t, err, errBoom)
		})

		reject(errBoom)
		resolve("ignored")
		reject(errors.New("ignored too"))

		assert.Equal(t, promises.StateRejected, p.State())
		assert.Empty(t, p.Result())
		assert.ErrorIs(t, p.Reason(), errBoom)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, rejections)
}

func TestSettledPromises(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)
	errBoom := errors.New("boom")

	var got []any
	err := loop.Start(func() error {
		promises.Resolved(loop, "value").Then(func(v string) { got = append(got, v) }, nil)
		promises.Rejected[string](loop, errBoom).Then(nil, func(err error) { got = append(got, err) })
		assert.Empty(t, got)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []any{"value", errBoom}, got)
}

func TestNewAsyncSettlesOnTheLoop(t *testing.T) {
	t.Parallel()

	loop := eventloop.New(nil)

	var (
		p      *promises.Promise[int]
		result int
	)
	err := loop.Start(func() error {
		var resolve func(int)
		p, resolve, _ = promises.NewAsync[int](loop)
		p.Then(func(v int) { result = v }, nil)

		go resolve(7)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, promises.StateFulfilled, p.State())
	assert.Equal(t, 7, result)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", promises.StatePending.String())
	assert.Equal(t, "fulfilled", promises.StateFulfilled.String())
	assert.Equal(t, "rejected", promises.StateRejected.String())
	assert.Equal(t, "unknown", promises.State(42).String())
}
