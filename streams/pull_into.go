package streams

// readerType tells which kind of read a pull-into descriptor was created for.
type readerType uint8

const (
	// readerTypeDefault is used for buffers auto-allocated on behalf of a default reader.
	readerTypeDefault readerType = iota + 1

	// readerTypeBYOB is used for buffers supplied by a BYOB reader.
	readerTypeBYOB

	// readerTypeNone is used once the reader that issued the read released its lock.
	readerTypeNone
)

// pullIntoDescriptor is the bookkeeping record of a read that waits for bytes to be written
// into a buffer it owns.
type pullIntoDescriptor struct {
	// buffer is the destination buffer. It belongs to the pending read until the read is
	// fulfilled or abandoned.
	buffer []byte

	// byteOffset is where in buffer the filling starts.
	byteOffset int

	// byteLength is how many bytes, starting at byteOffset, may be filled.
	byteLength int

	// bytesFilled is how many bytes were written so far.
	bytesFilled int

	// minimumFill is how many bytes must be filled before the read can be fulfilled.
	minimumFill int

	// elementSize is the size of one element of the view the reader asked for. The
	// descriptor is only ever fulfilled with a whole number of elements.
	elementSize int

	readerType readerType
}

// filledView returns the part of the buffer that was filled so far.
func (d *pullIntoDescriptor) filledView() []byte {
	return d.buffer[d.byteOffset : d.byteOffset+d.bytesFilled : d.byteOffset+d.byteLength]
}

// unfilledView returns the part of the buffer that is still waiting for bytes.
func (d *pullIntoDescriptor) unfilledView() []byte {
	return d.buffer[d.byteOffset+d.bytesFilled : d.byteOffset+d.byteLength]
}

// pendingPullIntos is the FIFO of descriptors waiting for bytes.
type pendingPullIntos struct {
	descriptors []*pullIntoDescriptor
}

func (q *pendingPullIntos) len() int {
	return len(q.descriptors)
}

func (q *pendingPullIntos) push(d *pullIntoDescriptor) {
	q.descriptors = append(q.descriptors, d)
}

// front returns the oldest descriptor, or nil if there is none.
func (q *pendingPullIntos) front() *pullIntoDescriptor {
	if len(q.descriptors) == 0 {
		return nil
	}
	return q.descriptors[0]
}

// shift removes and returns the oldest descriptor, or nil if there is none.
func (q *pendingPullIntos) shift() *pullIntoDescriptor {
	if len(q.descriptors) == 0 {
		return nil
	}

	d := q.descriptors[0]
	q.descriptors[0] = nil
	q.descriptors = q.descriptors[1:]

	return d
}

// retainFront drops every descriptor but the oldest one.
func (q *pendingPullIntos) retainFront() {
	if len(q.descriptors) <= 1 {
		return
	}
	q.descriptors = []*pullIntoDescriptor{q.descriptors[0]}
}

// clearAll hands every buffer back unfilled and empties the queue. Calling it on an empty
// queue does nothing.
func (q *pendingPullIntos) clearAll() {
	for _, d := range q.descriptors {
		d.bytesFilled = 0
	}
	q.descriptors = nil
}
