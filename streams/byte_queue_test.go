package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestByteQueue(t *testing.T) {
	t.Parallel()

	t.Run("enqueue ignores empty chunks", func(t *testing.T) {
		t.Parallel()

		var q ByteQueue
		q.Enqueue(nil)
		q.Enqueue([]byte{})

		assert.Equal(t, 0, q.Len())
		assert.Nil(t, q.Shift())
	})

	t.Run("dequeue splits the front chunk without copying", func(t *testing.T) {
		t.Parallel()

		var q ByteQueue
		chunk := []byte("hello world")
		q.Enqueue(chunk)

		out := q.DequeueUpTo(5)
		require.Equal(t, []byte("hello"), out)
		assert.Same(t, &chunk[0], &out[0])
		assert.Equal(t, 6, q.Len())

		rest := q.Shift()
		assert.Equal(t, []byte(" world"), rest)
		assert.Same(t, &chunk[5], &rest[0])
		assert.Equal(t, 0, q.Len())
	})

	t.Run("dequeue spanning chunks copies", func(t *testing.T) {
		t.Parallel()

		var q ByteQueue
		q.Enqueue([]byte("abc"))
		q.Enqueue([]byte("def"))
		q.Enqueue([]byte("ghi"))

		assert.Equal(t, []byte("abcde"), q.DequeueUpTo(5))
		assert.Equal(t, 4, q.Len())
		assert.Equal(t, []byte("fghi"), q.DequeueUpTo(100))
		assert.Equal(t, 0, q.Len())
		assert.Nil(t, q.DequeueUpTo(1))
	})

	t.Run("read into", func(t *testing.T) {
		t.Parallel()

		var q ByteQueue
		q.Enqueue([]byte("ab"))
		q.Enqueue([]byte("cd"))

		dst := make([]byte, 3)
		assert.Equal(t, 3, q.ReadInto(dst))
		assert.Equal(t, []byte("abc"), dst)
		assert.Equal(t, 1, q.Len())

		dst = make([]byte, 3)
		assert.Equal(t, 1, q.ReadInto(dst))
		assert.Equal(t, byte('d'), dst[0])
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		var q ByteQueue
		q.Enqueue([]byte("abc"))
		q.Reset()

		assert.Equal(t, 0, q.Len())
		assert.Nil(t, q.Shift())
	})
}

func TestByteQueueConservesBytes(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		chunks := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 32), 0, 16).Draw(t, "chunks")

		var q ByteQueue
		var want []byte
		for _, chunk := range chunks {
			q.Enqueue(chunk)
			want = append(want, chunk...)
		}

		if q.Len() != len(want) {
			t.Fatalf("queued %d bytes, want %d", q.Len(), len(want))
		}

		var got []byte
		for q.Len() > 0 {
			before := q.Len()
			n := rapid.IntRange(1, 40).Draw(t, "n")

			out := q.DequeueUpTo(n)
			if len(out) == 0 || len(out) > n {
				t.Fatalf("dequeued %d bytes, asked for %d", len(out), n)
			}
			if q.Len() != before-len(out) {
				t.Fatalf("queue shrank by %d bytes, %d were dequeued", before-q.Len(), len(out))
			}
			got = append(got, out...)
		}

		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}
