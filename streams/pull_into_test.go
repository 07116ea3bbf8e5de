package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullIntoDescriptorViews(t *testing.T) {
	t.Parallel()

	buf := []byte("0123456789")
	d := &pullIntoDescriptor{
		buffer:      buf,
		byteOffset:  2,
		byteLength:  6,
		bytesFilled: 4,
		minimumFill: 6,
		elementSize: 2,
		readerType:  readerTypeBYOB,
	}

	filled := d.filledView()
	assert.Equal(t, []byte("2345"), filled)
	assert.Equal(t, 6, cap(filled))
	assert.Equal(t, []byte("67"), d.unfilledView())
}

func TestPendingPullIntos(t *testing.T) {
	t.Parallel()

	newDescriptor := func(filled int) *pullIntoDescriptor {
		return &pullIntoDescriptor{
			buffer:      make([]byte, 8),
			byteLength:  8,
			bytesFilled: filled,
			minimumFill: 8,
			elementSize: 1,
			readerType:  readerTypeBYOB,
		}
	}

	t.Run("fifo", func(t *testing.T) {
		t.Parallel()

		var q pendingPullIntos
		assert.Nil(t, q.front())
		assert.Nil(t, q.shift())

		first, second := newDescriptor(0), newDescriptor(0)
		q.push(first)
		q.push(second)

		require.Equal(t, 2, q.len())
		assert.Same(t, first, q.front())
		assert.Same(t, first, q.shift())
		assert.Same(t, second, q.front())
		assert.Equal(t, 1, q.len())
	})

	t.Run("retain front", func(t *testing.T) {
		t.Parallel()

		var q pendingPullIntos
		first := newDescriptor(3)
		q.push(first)
		q.push(newDescriptor(0))
		q.push(newDescriptor(0))

		q.retainFront()

		require.Equal(t, 1, q.len())
		assert.Same(t, first, q.front())
		assert.Equal(t, 3, first.bytesFilled)
	})

	t.Run("clear all resets fills and is idempotent", func(t *testing.T) {
		t.Parallel()

		var q pendingPullIntos
		first, second := newDescriptor(5), newDescriptor(2)
		q.push(first)
		q.push(second)

		q.clearAll()
		assert.Equal(t, 0, q.len())
		assert.Equal(t, 0, first.bytesFilled)
		assert.Equal(t, 0, second.bytesFilled)

		q.clearAll()
		assert.Equal(t, 0, q.len())
	})
}
