package plc

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/getlantern/netx"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

const (
	batchSize       = 16
	maxDatagramSize = 1 << 16
)

// batchConn is the x/net batch write interface of *ipv4.PacketConn and
// *ipv6.PacketConn.
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// UDPLink emulates the power line between two stations over UDP. Each
// request a node sends becomes one datagram; the remote end turns it into
// the indications its PHY would report. TXEND is reported once the request
// is queued for the wire.
type UDPLink struct {
	conn   net.PacketConn
	remote net.Addr
	h      PhyHandler
	snmp   *Snmp

	mu      sync.Mutex
	txqueue [][]byte
	chFlush chan struct{}

	die     chan struct{}
	dieOnce sync.Once
}

// DialUDPLink listens on laddr and sends to raddr.
func DialUDPLink(laddr, raddr string) (*UDPLink, error) {
	local, err := netx.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	remote, err := netx.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	network := "udp4"
	if local.IP != nil && local.IP.To4() == nil {
		network = "udp"
	}
	conn, err := netx.ListenUDP(network, local)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewUDPLink(conn, remote), nil
}

// NewUDPLink wraps an existing packet connection.
func NewUDPLink(conn net.PacketConn, remote net.Addr) *UDPLink {
	l := new(UDPLink)
	l.conn = conn
	l.remote = remote
	l.snmp = newSnmp()
	l.chFlush = make(chan struct{}, 1)
	l.die = make(chan struct{})
	return l
}

// Bind starts delivering indications to h.
func (l *UDPLink) Bind(h PhyHandler) {
	l.h = h
	go l.readLoop()
	go l.txLoop()
	Logf(INFO, "UDPLink %v -> %v", l.conn.LocalAddr(), l.remote)
}

// LocalAddr returns the local network address.
func (l *UDPLink) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Snmp returns a snapshot of the link counters.
func (l *UDPLink) Snmp() *Snmp { return l.snmp.Copy() }

func (l *UDPLink) Send(req PhyRequest) error {
	if req.Type == PhyReqSearch {
		return nil
	}
	select {
	case <-l.die:
		return errors.WithStack(ErrLinkClosed)
	default:
	}
	data, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.txqueue = append(l.txqueue, data)
	l.mu.Unlock()
	l.notifyFlush()
	l.h.InputPhy(PhyIndication{Type: PhyTxEnd})
	return nil
}

func (l *UDPLink) Close() error {
	var once bool
	l.dieOnce.Do(func() {
		close(l.die)
		once = true
	})
	if !once {
		return errors.WithStack(ErrLinkClosed)
	}
	return l.conn.Close()
}

func (l *UDPLink) popTx() [][]byte {
	l.mu.Lock()
	q := l.txqueue
	l.txqueue = nil
	l.mu.Unlock()
	return q
}

func (l *UDPLink) notifyFlush() {
	select {
	case l.chFlush <- struct{}{}:
	default:
	}
}

func (l *UDPLink) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.die:
			default:
				l.notifyReadError(err)
			}
			return
		}
		req, err := UnmarshalRequest(buf[:n])
		if err != nil {
			atomic.AddUint64(&l.snmp.FormatErrors, 1)
			Logf(WARN, "UDPLink %v: %v", l.conn.LocalAddr(), err)
			continue
		}
		for _, ind := range indicationsFor(req) {
			l.h.InputPhy(ind)
		}
	}
}

func (l *UDPLink) txLoop() {
	xconn := toBatchConn(l.conn)
	msgs := make([]ipv4.Message, batchSize)
	for {
		select {
		case <-l.chFlush:
			txqueue := l.popTx()
			if xconn == nil {
				l.writeEach(txqueue)
				continue
			}
			for len(txqueue) > 0 {
				k := min(len(txqueue), batchSize)
				vec := msgs[:k]
				for i := range vec {
					vec[i].Addr = l.remote
					vec[i].Buffers = [][]byte{txqueue[i]}
				}
				for len(vec) > 0 {
					n, err := xconn.WriteBatch(vec, 0)
					if err != nil {
						if writeBatchUnavailable(xconn, err) {
							xconn = nil
							l.writeEach(txqueue[k-len(vec):])
							txqueue = nil
							break
						}
						l.notifyWriteError(err)
						break
					}
					vec = vec[n:]
				}
				if txqueue == nil {
					break
				}
				txqueue = txqueue[k:]
			}
		case <-l.die:
			return
		}
	}
}

func (l *UDPLink) writeEach(txqueue [][]byte) {
	for _, b := range txqueue {
		if _, err := l.conn.WriteTo(b, l.remote); err != nil {
			l.notifyWriteError(err)
		}
	}
}

func (l *UDPLink) notifyReadError(err error) {
	atomic.AddUint64(&l.snmp.LinkRxErrors, 1)
	Logf(WARN, "UDPLink::notifyReadError localAddr:%v err:%v", l.conn.LocalAddr(), err)
}

func (l *UDPLink) notifyWriteError(err error) {
	atomic.AddUint64(&l.snmp.LinkTxErrors, 1)
	Logf(WARN, "UDPLink::notifyWriteError localAddr:%v err:%v", l.conn.LocalAddr(), err)
}
