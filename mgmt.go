package plc

import "github.com/pkg/errors"

const (
	MgmtVersion = 1

	// MMTypeChanEst carries a channel estimate (CM_CHAN_EST.IND).
	MMTypeChanEst uint16 = 0x6014

	mmvOffset     = 0
	mmvWidth      = 8
	mmtypeOffset  = 8
	mmtypeWidth   = 16
	mgmtHdrWidth  = 3 // bytes
	maxBitLoading = 0xf
)

// channel estimate entry layout, in bits from the start of the entry
const (
	ceNTMIOffset   = 0
	ceTMIOffset    = 8
	ceNINTOffset   = 16
	ceNewTMIOffset = 24
	ceCBDEncOffset = 56
	ceCBDLenOffset = 64
	ceCBDLenWidth  = 16
	ceCBDOffset    = 80
	ceCBDWidth     = 4
	ceFixedWidth   = ceCBDOffset / 8 // bytes before the bit loading table
)

// MgmtMessage is a management message: version(8) | mmtype(16) | entry.
type MgmtMessage struct {
	Version uint8
	Type    uint16
	Entry   []byte
}

func EncodeMgmtMessage(mmtype uint16, entry []byte) []byte {
	buf := make([]byte, mgmtHdrWidth+len(entry))
	putBits(buf, MgmtVersion, mmvOffset, mmvWidth)
	putBits(buf, uint64(mmtype), mmtypeOffset, mmtypeWidth)
	copy(buf[mgmtHdrWidth:], entry)
	return buf
}

// DecodeMgmtMessage parses the header; Entry aliases b.
func DecodeMgmtMessage(b []byte) (*MgmtMessage, error) {
	if len(b) < mgmtHdrWidth {
		return nil, errors.Wrapf(ErrMgmtFormat, "%d bytes", len(b))
	}
	msg := &MgmtMessage{
		Version: uint8(getBits(b, mmvOffset, mmvWidth)),
		Type:    uint16(getBits(b, mmtypeOffset, mmtypeWidth)),
		Entry:   b[mgmtHdrWidth:],
	}
	if msg.Version != MgmtVersion {
		return nil, errors.Wrapf(ErrMgmtVersion, "version %d", msg.Version)
	}
	return msg, nil
}

// ChannelEstimate is the entry of a CM_CHAN_EST message. BitLoading holds
// one 4-bit value per carrier.
type ChannelEstimate struct {
	NTMI       uint8
	TMI        uint8
	NINT       uint8
	NewTMI     uint8
	CBDEnc     uint8
	BitLoading []uint8
}

// NewChannelEstimate fills the single tone map defaults around bitLoading.
func NewChannelEstimate(bitLoading []uint8) *ChannelEstimate {
	return &ChannelEstimate{NTMI: 1, TMI: 1, NewTMI: 1, BitLoading: bitLoading}
}

func (ce *ChannelEstimate) Marshal() ([]byte, error) {
	n := len(ce.BitLoading)
	if n > 1<<ceCBDLenWidth-1 {
		return nil, errors.Wrapf(ErrMgmtFormat, "%d carriers", n)
	}
	buf := make([]byte, ceFixedWidth+(n*ceCBDWidth+7)/8)
	putBits(buf, uint64(ce.NTMI), ceNTMIOffset, 8)
	putBits(buf, uint64(ce.TMI), ceTMIOffset, 8)
	putBits(buf, uint64(ce.NINT), ceNINTOffset, 8)
	putBits(buf, uint64(ce.NewTMI), ceNewTMIOffset, 8)
	putBits(buf, uint64(ce.CBDEnc), ceCBDEncOffset, 8)
	putBits(buf, uint64(n), ceCBDLenOffset, ceCBDLenWidth)
	for i, v := range ce.BitLoading {
		if v > maxBitLoading {
			return nil, errors.Wrapf(ErrFieldRange, "bit loading %d of carrier %d", v, i)
		}
		putBits(buf, uint64(v), ceCBDOffset+ceCBDWidth*i, ceCBDWidth)
	}
	return buf, nil
}

func UnmarshalChannelEstimate(entry []byte) (*ChannelEstimate, error) {
	if len(entry) < ceFixedWidth {
		return nil, errors.Wrapf(ErrMgmtFormat, "channel estimate of %d bytes", len(entry))
	}
	n := int(getBits(entry, ceCBDLenOffset, ceCBDLenWidth))
	if len(entry) < ceFixedWidth+(n*ceCBDWidth+7)/8 {
		return nil, errors.Wrapf(ErrMgmtFormat, "%d carriers in %d bytes", n, len(entry))
	}
	ce := &ChannelEstimate{
		NTMI:       uint8(getBits(entry, ceNTMIOffset, 8)),
		TMI:        uint8(getBits(entry, ceTMIOffset, 8)),
		NINT:       uint8(getBits(entry, ceNINTOffset, 8)),
		NewTMI:     uint8(getBits(entry, ceNewTMIOffset, 8)),
		CBDEnc:     uint8(getBits(entry, ceCBDEncOffset, 8)),
		BitLoading: make([]uint8, n),
	}
	for i := range ce.BitLoading {
		ce.BitLoading[i] = uint8(getBits(entry, ceCBDOffset+ceCBDWidth*i, ceCBDWidth))
	}
	return ce, nil
}
