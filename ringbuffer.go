package plc

const ringBufferMin = 8

// RingBuffer is a growable FIFO of T.
type RingBuffer[T any] struct {
	head     int // next element to pop
	tail     int // next free slot
	elements []T
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < ringBufferMin {
		size = ringBufferMin
	}
	return &RingBuffer[T]{elements: make([]T, size)}
}

func (r *RingBuffer[T]) Len() int {
	if r.head <= r.tail {
		return r.tail - r.head
	}
	return len(r.elements) - r.head + r.tail
}

func (r *RingBuffer[T]) Push(v T) {
	if (r.tail+1)%len(r.elements) == r.head {
		r.grow()
	}
	r.elements[r.tail] = v
	r.tail = (r.tail + 1) % len(r.elements)
}

// Pop returns false when the ring is empty.
func (r *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if r.head == r.tail {
		return zero, false
	}
	v := r.elements[r.head]
	r.elements[r.head] = zero
	r.head = (r.head + 1) % len(r.elements)
	return v, true
}

func (r *RingBuffer[T]) Peek() (T, bool) {
	var zero T
	if r.head == r.tail {
		return zero, false
	}
	return r.elements[r.head], true
}

// grow doubles the capacity preserving order.
func (r *RingBuffer[T]) grow() {
	n := r.Len()
	elements := make([]T, len(r.elements)*2)
	if r.head <= r.tail {
		copy(elements, r.elements[r.head:r.tail])
	} else {
		k := copy(elements, r.elements[r.head:])
		copy(elements[k:], r.elements[:r.tail])
	}
	r.head = 0
	r.tail = n
	r.elements = elements
}
