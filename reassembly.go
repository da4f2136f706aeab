package plc

import (
	"encoding/binary"
	"sync/atomic"
)

// recentBlocks bounds the memory of blocks already extracted, used to skip
// blocks repeated by a whole-burst retransmission.
const recentBlocks = 32

type partialFrame struct {
	data   []byte
	length int // total frame size, 0 until the header is complete
}

type blockKey struct {
	ssn   uint16
	check uint32
}

// Reassembler rebuilds MAC frames from the MPDUs of received bursts. It is
// owned by a single goroutine.
type Reassembler struct {
	lastSSN    int                      // -1 before the first block
	incomplete map[uint16]*partialFrame // keyed by the SSN that must continue it
	recent     *RingBuffer[blockKey]
	seen       map[blockKey]struct{}
	fec        *burstFEC
	snmp       *Snmp
}

// NewReassembler creates a reassembler for bursts carrying parityShards
// FEC blocks each.
func NewReassembler(parityShards int, snmp *Snmp) *Reassembler {
	if snmp == nil {
		snmp = newSnmp()
	}
	return &Reassembler{
		lastSSN:    -1,
		incomplete: make(map[uint16]*partialFrame),
		recent:     NewRingBuffer[blockKey](recentBlocks),
		seen:       make(map[blockKey]struct{}),
		fec:        newBurstFEC(parityShards, snmp),
		snmp:       snmp,
	}
}

func (r *Reassembler) parity() int {
	if r.fec == nil {
		return 0
	}
	return r.fec.parityShards
}

// Parse consumes one MPDU. It returns the complete MAC frames found, in
// order, and one error flag per data block for the SACK.
func (r *Reassembler) Parse(mpdu []byte) (frames [][]byte, blockErrors []bool) {
	if len(mpdu) == 0 {
		return nil, nil
	}
	size := inferBlockSize(len(mpdu), r.parity())
	blocks := make([][]byte, 0, (len(mpdu)+size-1)/size)
	for i := 0; i < len(mpdu); i += size {
		blocks = append(blocks, mpdu[i:min(i+size, len(mpdu))])
	}
	if r.fec != nil {
		blocks = r.fec.recover(blocks, size)
	}

	for _, b := range blocks {
		atomic.AddUint64(&r.snmp.BlocksReceived, 1)
		var h PhyBlockHeader
		if len(b) >= phyHeaderWidth {
			h = decodePhyBlockHeader(b)
		}
		if expected := (r.lastSSN + 1) % ssnModulus; int(h.SSN) != expected {
			atomic.AddUint64(&r.snmp.SeqGaps, 1)
			Logf(WARN, "phy block: expected SSN %d, got %d", expected, h.SSN)
		}
		r.lastSSN = int(h.SSN)

		if len(b) != size || !checkPhyBlock(b) {
			atomic.AddUint64(&r.snmp.BlockCsumErrors, 1)
			Logf(WARN, "phy block %d: crc error", h.SSN)
			blockErrors = append(blockErrors, true)
			if len(r.incomplete) > 0 {
				atomic.AddUint64(&r.snmp.PartialDrops, uint64(len(r.incomplete)))
				clear(r.incomplete)
			}
			continue
		}
		blockErrors = append(blockErrors, false)

		key := blockKey{h.SSN, binary.LittleEndian.Uint32(b[len(b)-phyCheckWidth:])}
		if _, dup := r.seen[key]; dup {
			atomic.AddUint64(&r.snmp.DupBlocks, 1)
			continue
		}
		r.remember(key)
		frames = r.extract(frames, h, b[phyHeaderWidth:len(b)-phyCheckWidth])
	}
	return frames, blockErrors
}

func (r *Reassembler) remember(key blockKey) {
	if r.recent.Len() >= recentBlocks {
		if old, ok := r.recent.Pop(); ok {
			delete(r.seen, old)
		}
	}
	r.recent.Push(key)
	r.seen[key] = struct{}{}
}

// extract continues the frame the block's SSN was waiting for, then scans
// the body from the boundary offset for new frames.
func (r *Reassembler) extract(frames [][]byte, h PhyBlockHeader, body []byte) [][]byte {
	cont := len(body)
	if h.BoundaryPresent {
		cont = int(h.BoundaryOffset)
		if cont > len(body) {
			Logf(WARN, "phy block %d: boundary offset %d past body of %d", h.SSN, cont, len(body))
			atomic.AddUint64(&r.snmp.FormatErrors, 1)
			cont = len(body)
		}
	}

	next := h.SSN + 1
	pending := r.incomplete[h.SSN]
	if dropped := len(r.incomplete) - boolInt(pending != nil); dropped > 0 {
		atomic.AddUint64(&r.snmp.PartialDrops, uint64(dropped))
	}
	clear(r.incomplete)

	if pending != nil {
		pending.data = append(pending.data, body[:cont]...)
		if pending.length == 0 && len(pending.data) >= mfhWidth {
			pending.length = macFrameLength(pending.data)
		}
		switch {
		case pending.length != 0 && len(pending.data) == pending.length:
			frames = append(frames, pending.data)
		case pending.length != 0 && len(pending.data) > pending.length,
			h.BoundaryPresent:
			// the frame cannot continue past a boundary
			atomic.AddUint64(&r.snmp.PartialDrops, 1)
			Logf(WARN, "phy block %d: partial frame of %d bytes dropped", h.SSN, len(pending.data))
		default:
			r.incomplete[next] = pending
		}
	}

	for i := cont; i < len(body); {
		rest := body[i:]
		if isPadding(rest[0]) {
			break
		}
		length := 0
		if len(rest) >= mfhWidth {
			length = macFrameLength(rest)
		}
		if length == 0 || len(rest) < length {
			r.incomplete[next] = &partialFrame{data: append([]byte(nil), rest...), length: length}
			break
		}
		frames = append(frames, append([]byte(nil), rest[:length]...))
		i += length
	}
	return frames
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
