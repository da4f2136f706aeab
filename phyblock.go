package plc

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	phyHeaderWidth = 4
	phyCheckWidth  = 4

	// PhyBlockOverhead is the header plus check sequence of every PHY block.
	PhyBlockOverhead = phyHeaderWidth + phyCheckWidth

	BodySizeShort = 128
	BodySizeLong  = 512

	ssnOffset  = 0
	ssnWidth   = 16
	mfboOffset = 16
	mfboWidth  = 9
	vpbfOffset = 25
	mmqfOffset = 26
	mmbfOffset = 27
	opsfOffset = 28

	// the SSN wraps with its 16-bit header field, at 65536
	ssnModulus = 1 << ssnWidth
)

// PhyBlockHeader is the 32-bit header in front of every PHY block body.
type PhyBlockHeader struct {
	SSN             uint16 // segment sequence number
	BoundaryOffset  uint16 // first MAC frame start in the body, valid with BoundaryPresent
	Valid           bool   // VPBF
	MgmtQueue       bool   // MMQF, the block carries management frame bytes
	BoundaryPresent bool   // MFBF
	OldestPending   bool   // OPSF
}

func (h *PhyBlockHeader) encode(buf []byte) {
	putBits(buf, uint64(h.SSN), ssnOffset, ssnWidth)
	if h.BoundaryPresent {
		putBits(buf, uint64(h.BoundaryOffset), mfboOffset, mfboWidth)
	}
	putBits(buf, b2u(h.Valid), vpbfOffset, 1)
	putBits(buf, b2u(h.MgmtQueue), mmqfOffset, 1)
	putBits(buf, b2u(h.BoundaryPresent), mmbfOffset, 1)
	putBits(buf, b2u(h.OldestPending), opsfOffset, 1)
}

func decodePhyBlockHeader(buf []byte) (h PhyBlockHeader) {
	h.SSN = uint16(getBits(buf, ssnOffset, ssnWidth))
	h.BoundaryOffset = uint16(getBits(buf, mfboOffset, mfboWidth))
	h.Valid = getBits(buf, vpbfOffset, 1) != 0
	h.MgmtQueue = getBits(buf, mmqfOffset, 1) != 0
	h.BoundaryPresent = getBits(buf, mmbfOffset, 1) != 0
	h.OldestPending = getBits(buf, opsfOffset, 1) != 0
	return
}

// appendPhyBlock appends header, body and check sequence to dst.
func appendPhyBlock(dst []byte, h PhyBlockHeader, body []byte) []byte {
	start := len(dst)
	var hdr [phyHeaderWidth]byte
	h.encode(hdr[:])
	dst = append(dst, hdr[:]...)
	dst = append(dst, body...)
	dst = binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:]))
	return dst
}

// checkPhyBlock verifies the trailing check sequence of a whole block.
func checkPhyBlock(b []byte) bool {
	if len(b) < PhyBlockOverhead {
		return false
	}
	n := len(b) - phyCheckWidth
	return crc32.ChecksumIEEE(b[:n]) == binary.LittleEndian.Uint32(b[n:])
}

// PhyBlock is a decoded PHY block. Body aliases the input.
type PhyBlock struct {
	PhyBlockHeader
	Body  []byte
	Check uint32
}

// DecodePhyBlock parses and verifies a single block.
func DecodePhyBlock(b []byte) (*PhyBlock, error) {
	if len(b) != BodySizeShort+PhyBlockOverhead && len(b) != BodySizeLong+PhyBlockOverhead {
		return nil, errors.Wrapf(ErrBlockChecksum, "block of %d bytes", len(b))
	}
	if !checkPhyBlock(b) {
		return nil, errors.WithStack(ErrBlockChecksum)
	}
	n := len(b) - phyCheckWidth
	return &PhyBlock{
		PhyBlockHeader: decodePhyBlockHeader(b),
		Body:           b[phyHeaderWidth:n],
		Check:          binary.LittleEndian.Uint32(b[n:]),
	}, nil
}

// inferBlockSize picks the block size of an MPDU from its total length. A
// burst of short blocks is only ever a single block plus parity.
func inferBlockSize(total, parity int) int {
	short := BodySizeShort + PhyBlockOverhead
	if total > short*(1+parity) {
		return BodySizeLong + PhyBlockOverhead
	}
	return short
}
