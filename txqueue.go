package plc

import "github.com/pkg/errors"

// TxQueue holds MAC frames awaiting segmentation, one stream per
// destination. It is owned by a single goroutine.
type TxQueue struct {
	streams     []*txStream
	index       map[Addr]*txStream
	next        int // round robin cursor into streams
	cur         *txStream
	inflight    int // frames not yet fully segmented
	limit       int
	maxSegments int
	full        bool
}

func NewTxQueue(limit, maxSegments int) *TxQueue {
	return &TxQueue{
		index:       make(map[Addr]*txStream),
		limit:       limit,
		maxSegments: maxSegments,
	}
}

// Submit appends an encoded MAC frame to the stream for dest.
func (q *TxQueue) Submit(dest Addr, frame []byte, mgmt bool) error {
	if q.inflight >= q.limit {
		return errors.WithStack(ErrBufferFull)
	}
	st, ok := q.index[dest]
	if !ok {
		st = newTxStream(dest)
		q.index[dest] = st
		q.streams = append(q.streams, st)
	}
	st.frames.Push(queuedFrame{data: frame, mgmt: mgmt})
	q.inflight++
	if q.inflight >= q.limit {
		q.full = true
	}
	return nil
}

// Full reports whether the queue stopped admitting frames. The flag stays up
// until a drain brings the count back under the limit.
func (q *TxQueue) Full() bool { return q.full }

// Len returns the number of frames not yet fully segmented.
func (q *TxQueue) Len() int { return q.inflight }

// Drain cuts the next burst from the first non-empty stream after the one
// served last. A stream whose last burst ended inside a frame is served
// again until that frame is finished, so receivers never see another
// stream's blocks between two pieces of one frame. released reports that
// the full flag was cleared.
func (q *TxQueue) Drain() (burst []byte, nblocks int, released bool) {
	st := q.cur
	if st == nil || len(st.remainder) == 0 {
		st = q.pick()
	}
	q.cur = st
	if st == nil {
		return nil, 0, false
	}

	var consumed int
	burst, nblocks, consumed = st.segment(q.maxSegments)
	q.inflight -= consumed
	if q.full && q.inflight < q.limit {
		q.full = false
		released = true
	}
	return
}

func (q *TxQueue) pick() *txStream {
	for i := 0; i < len(q.streams); i++ {
		k := (q.next + i) % len(q.streams)
		if st := q.streams[k]; !st.empty() {
			q.next = (k + 1) % len(q.streams)
			return st
		}
	}
	return nil
}
