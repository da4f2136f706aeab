package plc

import (
	"sync"

	"github.com/pkg/errors"
)

// Medium is an in-process shared line. Whatever one port sends, every other
// port receives, and the sender gets TXEND first. Delivery is synchronous.
type Medium struct {
	mu      sync.Mutex
	ports   []*MediumPort
	corrupt func(from *MediumPort, mpdu []byte)
	drop    func(from *MediumPort, req PhyRequest) bool
}

func NewMedium() *Medium { return new(Medium) }

// SetCorrupt installs f to alter each MPDU in flight, in place.
func (m *Medium) SetCorrupt(f func(from *MediumPort, mpdu []byte)) {
	m.mu.Lock()
	m.corrupt = f
	m.mu.Unlock()
}

// SetDrop installs f to lose requests in flight. The sender still gets TXEND.
func (m *Medium) SetDrop(f func(from *MediumPort, req PhyRequest) bool) {
	m.mu.Lock()
	m.drop = f
	m.mu.Unlock()
}

// NewPort attaches a station.
func (m *Medium) NewPort() *MediumPort {
	p := &MediumPort{m: m}
	m.mu.Lock()
	m.ports = append(m.ports, p)
	m.mu.Unlock()
	return p
}

// MediumPort is one station's attachment to a Medium. It implements PhyPeer.
type MediumPort struct {
	m *Medium
	h PhyHandler
}

// Bind sets the handler receiving this port's indications.
func (p *MediumPort) Bind(h PhyHandler) {
	p.m.mu.Lock()
	p.h = h
	p.m.mu.Unlock()
}

func (p *MediumPort) Send(req PhyRequest) error {
	if req.Type == PhyReqSearch {
		return nil
	}
	p.m.mu.Lock()
	var peers []PhyHandler
	for _, q := range p.m.ports {
		if q != p && q.h != nil {
			peers = append(peers, q.h)
		}
	}
	corrupt, drop := p.m.corrupt, p.m.drop
	self := p.h
	p.m.mu.Unlock()

	if self == nil {
		return errors.New("medium port not bound")
	}
	self.InputPhy(PhyIndication{Type: PhyTxEnd})
	if drop != nil && drop(p, req) {
		return nil
	}
	for _, h := range peers {
		out := req
		out.Payload = append([]byte(nil), req.Payload...)
		out.Sackd = append([]byte(nil), req.Sackd...)
		if corrupt != nil && out.Type == PhyReqSof {
			corrupt(p, out.Payload)
		}
		for _, ind := range indicationsFor(out) {
			h.InputPhy(ind)
		}
	}
	return nil
}
