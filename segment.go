package plc

type queuedFrame struct {
	data []byte
	mgmt bool
}

// txStream is the per-destination segmentation state. The SSN is a uint16
// and wraps with the header field.
type txStream struct {
	dest          Addr
	ssn           uint16
	frames        *RingBuffer[queuedFrame]
	remainder     []byte // unsent tail of a frame cut at a block edge
	remainderMgmt bool
}

func newTxStream(dest Addr) *txStream {
	return &txStream{dest: dest, frames: NewRingBuffer[queuedFrame](0)}
}

func (s *txStream) empty() bool {
	return len(s.remainder) == 0 && s.frames.Len() == 0
}

// segment cuts up to maxSegments PHY blocks off the stream and returns them
// concatenated. consumed counts frames whose last byte went into the burst.
//
// Every block is 512 bytes of body except a lone block holding less than
// 128 bytes, which shrinks to 128. Unused body bytes are zero.
func (s *txStream) segment(maxSegments int) (burst []byte, nblocks, consumed int) {
	for nblocks < maxSegments && !s.empty() {
		h := PhyBlockHeader{Valid: true}
		body := make([]byte, 0, BodySizeLong)

		if len(s.remainder) > 0 {
			n := len(s.remainder)
			if n > BodySizeLong {
				n = BodySizeLong
			}
			body = append(body, s.remainder[:n]...)
			h.MgmtQueue = s.remainderMgmt
			s.remainder = s.remainder[n:]
			if len(s.remainder) == 0 {
				s.remainder = nil
				consumed++
			}
		}

		for len(body) < BodySizeLong {
			f, ok := s.frames.Pop()
			if !ok {
				break
			}
			if !h.BoundaryPresent {
				h.BoundaryPresent = true
				h.BoundaryOffset = uint16(len(body))
			}
			n := min(len(f.data), BodySizeLong-len(body))
			body = append(body, f.data[:n]...)
			h.MgmtQueue = h.MgmtQueue || f.mgmt
			if n < len(f.data) {
				s.remainder = f.data[n:]
				s.remainderMgmt = f.mgmt
			} else {
				consumed++
			}
		}

		if len(body) < BodySizeLong {
			size := BodySizeLong
			if nblocks == 0 && len(body) < BodySizeShort {
				size = BodySizeShort
			}
			// padding starts where the data ends
			if !h.BoundaryPresent {
				h.BoundaryPresent = true
				h.BoundaryOffset = uint16(len(body))
			}
			body = body[:size]
		}

		h.SSN = s.ssn
		burst = appendPhyBlock(burst, h, body)
		s.ssn++
		nblocks++
	}
	return
}
