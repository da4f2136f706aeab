//go:build !linux

package plc

import "net"

func toBatchConn(c net.PacketConn) batchConn {
	if xconn, ok := c.(batchConn); ok {
		return xconn
	}
	return nil
}

func writeBatchUnavailable(xconn batchConn, err error) bool {
	return false
}
