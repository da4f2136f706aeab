package plc

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// FrameType is the 2-bit type tag in the low bits of the MAC frame header.
type FrameType uint8

const (
	FrameData       FrameType = 0x1
	FrameManagement FrameType = 0x3
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "data"
	case FrameManagement:
		return "management"
	}
	return "unknown"
}

const (
	mfhWidth        = 2
	confounderWidth = 4
	etherTypeWidth  = 2
	icvWidth        = 4

	mfhTypeOffset = 0
	mfhTypeWidth  = 2
	mfhLenOffset  = 2
	mfhLenWidth   = 14

	// MacFrameOverhead is the size of a data frame with an empty payload.
	MacFrameOverhead = mfhWidth + 2*AddrLen + etherTypeWidth + icvWidth

	// the length field counts the frame minus header, ICV and one byte
	frameLenBias    = mfhWidth + icvWidth + 1
	maxFrameLenCode = 1<<mfhLenWidth - 1

	// MaxMacFrameSize is the largest frame the length field can describe.
	MaxMacFrameSize = maxFrameLenCode + frameLenBias
)

// MacFrame is a decoded MAC frame.
//
//	| MFH 2 | confounder 4 (mgmt only) | dest 6 | src 6 | ethertype 2 | payload | ICV 4 |
type MacFrame struct {
	Type       FrameType
	Confounder [confounderWidth]byte
	Dest       Addr
	Src        Addr
	Payload    []byte
	ICV        uint32
}

func (f *MacFrame) IsManagement() bool { return f.Type == FrameManagement }

// EncodeMacFrame builds a frame carrying payload from src to dest. Management
// frames get a random confounder ahead of the addresses.
func EncodeMacFrame(dest, src Addr, payload []byte, mgmt bool) ([]byte, error) {
	size := MacFrameOverhead + len(payload)
	ft := FrameData
	if mgmt {
		size += confounderWidth
		ft = FrameManagement
	}
	if size > MaxMacFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}

	frame := make([]byte, size)
	putBits(frame, uint64(ft), mfhTypeOffset, mfhTypeWidth)
	putBits(frame, uint64(size-frameLenBias), mfhLenOffset, mfhLenWidth)
	pos := mfhWidth
	if mgmt {
		fillRand(frame[pos : pos+confounderWidth])
		pos += confounderWidth
	}
	pos += copy(frame[pos:], dest[:])
	pos += copy(frame[pos:], src[:])
	pos += etherTypeWidth
	pos += copy(frame[pos:], payload)
	binary.LittleEndian.PutUint32(frame[pos:], crc32.ChecksumIEEE(frame[mfhWidth:pos]))
	return frame, nil
}

// macFrameLength returns the total frame size announced by a 2-byte header.
func macFrameLength(header []byte) int {
	return int(getBits(header, mfhLenOffset, mfhLenWidth)) + frameLenBias
}

// isPadding reports whether a byte at a frame start position is zero fill
// rather than a frame header. Valid frame types never have both low bits clear.
func isPadding(b byte) bool { return b&0x3 == 0 }

// DecodeMacFrame parses one frame from the start of b. The payload is copied.
func DecodeMacFrame(b []byte) (*MacFrame, error) {
	if len(b) < mfhWidth {
		return nil, errors.Wrapf(ErrShortFrame, "%d bytes", len(b))
	}
	f := new(MacFrame)
	f.Type = FrameType(getBits(b, mfhTypeOffset, mfhTypeWidth))
	overhead := MacFrameOverhead
	switch f.Type {
	case FrameData:
	case FrameManagement:
		overhead += confounderWidth
	default:
		return nil, errors.Wrapf(ErrFrameType, "type %#x", uint8(f.Type))
	}

	length := macFrameLength(b)
	if length < overhead || len(b) < length {
		return nil, errors.Wrapf(ErrShortFrame, "header says %d bytes, have %d", length, len(b))
	}

	pos := mfhWidth
	if f.IsManagement() {
		pos += copy(f.Confounder[:], b[pos:])
	}
	pos += copy(f.Dest[:], b[pos:])
	pos += copy(f.Src[:], b[pos:])
	pos += etherTypeWidth
	end := length - icvWidth
	f.Payload = append([]byte(nil), b[pos:end]...)
	f.ICV = binary.LittleEndian.Uint32(b[end:])
	if crc32.ChecksumIEEE(b[mfhWidth:end]) != f.ICV {
		return nil, errors.WithStack(ErrFrameChecksum)
	}
	return f, nil
}
