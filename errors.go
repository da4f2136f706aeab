package plc

import "github.com/pkg/errors"

var (
	ErrFieldRange    = errors.New("bit field out of range")
	ErrFrameTooLarge = errors.New("mac frame too large")
	ErrShortFrame    = errors.New("short mac frame")
	ErrFrameType     = errors.New("mac frame type not supported")
	ErrFrameChecksum = errors.New("mac frame crc error")
	ErrBlockChecksum = errors.New("phy block crc error")
	ErrSackFormat    = errors.New("sack format not supported")
	ErrMgmtVersion   = errors.New("management message version not supported")
	ErrMgmtFormat    = errors.New("malformed management message")
	ErrMgmtType      = errors.New("management message type not supported")
	ErrBufferFull    = errors.New("transmission buffer is full")
	ErrBadAddr       = errors.New("invalid device address")
	ErrConfig        = errors.New("invalid config")
	ErrEventFormat   = errors.New("malformed phy event")
	ErrLinkClosed    = errors.New("phy link closed")
)
