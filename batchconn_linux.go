//go:build linux

package plc

import (
	"net"
	"os"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

func toBatchConn(c net.PacketConn) batchConn {
	if xconn, ok := c.(batchConn); ok {
		return xconn
	}
	udp, ok := c.(*net.UDPConn)
	if !ok {
		return nil
	}
	addr, ok := udp.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	if addr.IP.To4() != nil {
		return ipv4.NewPacketConn(udp)
	}
	return ipv6.NewPacketConn(udp)
}

// writeBatchUnavailable reports kernels without sendmmsg.
func writeBatchUnavailable(xconn batchConn, err error) bool {
	switch xconn.(type) {
	case *ipv4.PacketConn, *ipv6.PacketConn:
	default:
		return false
	}
	if operr, ok := err.(*net.OpError); ok {
		if se, ok := operr.Err.(*os.SyscallError); ok {
			return se.Syscall == "sendmmsg"
		}
	}
	return false
}
