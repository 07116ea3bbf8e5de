package streams

// byteChunk is a contiguous buffer owned by the queue, along with how much of it was
// already consumed.
type byteChunk struct {
	buffer []byte
	offset int
}

func (c byteChunk) remaining() int {
	return len(c.buffer) - c.offset
}

// ByteQueue is the FIFO of bytes enqueued by the underlying source but not read yet.
//
// Chunks are kept as they were enqueued: reading never copies unless the bytes asked for
// span more than one chunk, or the caller provides its own destination.
type ByteQueue struct {
	chunks []byteChunk

	// totalQueuedBytes is the sum of the unread bytes of all chunks.
	totalQueuedBytes int
}

// Len returns the number of unread bytes in the queue.
func (q *ByteQueue) Len() int {
	return q.totalQueuedBytes
}

// Enqueue appends chunk to the queue. The queue takes ownership of chunk.
func (q *ByteQueue) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	q.chunks = append(q.chunks, byteChunk{buffer: chunk})
	q.totalQueuedBytes += len(chunk)
}

// Shift removes and returns the unread part of the front chunk, or nil if the queue is empty.
func (q *ByteQueue) Shift() []byte {
	if len(q.chunks) == 0 {
		return nil
	}

	head := q.chunks[0]
	q.popFront()
	q.totalQueuedBytes -= head.remaining()

	return head.buffer[head.offset:]
}

// DequeueUpTo removes and returns up to n bytes from the front of the queue, splitting the
// front chunk if it holds more than n bytes.
//
// When the front chunk alone can serve the request, the returned slice aliases it.
// Otherwise the bytes are copied into a new slice.
func (q *ByteQueue) DequeueUpTo(n int) []byte {
	if n <= 0 || q.totalQueuedBytes == 0 {
		return nil
	}

	if head := &q.chunks[0]; head.remaining() >= n {
		out := head.buffer[head.offset : head.offset+n]
		q.consumeFront(n)
		return out
	}

	out := make([]byte, min(n, q.totalQueuedBytes))
	q.ReadInto(out)

	return out
}

// ReadInto copies up to len(dst) bytes from the front of the queue into dst, removes them,
// and returns how many were copied.
func (q *ByteQueue) ReadInto(dst []byte) int {
	copied := 0
	for copied < len(dst) && len(q.chunks) > 0 {
		head := &q.chunks[0]
		n := copy(dst[copied:], head.buffer[head.offset:])
		copied += n
		q.consumeFront(n)
	}

	return copied
}

// Reset drops every queued chunk.
func (q *ByteQueue) Reset() {
	q.chunks = nil
	q.totalQueuedBytes = 0
}

func (q *ByteQueue) consumeFront(n int) {
	head := &q.chunks[0]
	head.offset += n
	q.totalQueuedBytes -= n

	if head.remaining() == 0 {
		q.popFront()
	}
}

func (q *ByteQueue) popFront() {
	q.chunks[0] = byteChunk{}
	q.chunks = q.chunks[1:]
}
