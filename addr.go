package plc

import (
	"net"

	"github.com/pkg/errors"
)

// AddrLen is the width of a device address on the wire.
const AddrLen = 6

// Addr is a device address. It is comparable and used directly as a map key.
type Addr [AddrLen]byte

// BroadcastAddr is accepted by every node.
var BroadcastAddr = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses the colon or dash separated hex form, e.g. "02:00:00:00:00:01".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return a, errors.Wrapf(ErrBadAddr, "%q", s)
	}
	if len(hw) != AddrLen {
		return a, errors.Wrapf(ErrBadAddr, "%q is %d bytes", s, len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

func (a Addr) String() string {
	return net.HardwareAddr(a[:]).String()
}
