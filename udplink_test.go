package plc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/lossyconn"
)

type recordingHandler chan PhyIndication

func (h recordingHandler) InputPhy(ind PhyIndication) { h <- ind }

func (h recordingHandler) next(t *testing.T) PhyIndication {
	select {
	case ind := <-h:
		return ind
	case <-time.After(5 * time.Second):
		t.Fatal("no indication")
	}
	return PhyIndication{}
}

func lossyLinks(t *testing.T, loss float64) (*UDPLink, *UDPLink) {
	left, err := lossyconn.NewLossyConn(loss, 1)
	require.NoError(t, err)
	right, err := lossyconn.NewLossyConn(loss, 1)
	require.NoError(t, err)
	l := NewUDPLink(left, right.LocalAddr())
	r := NewUDPLink(right, left.LocalAddr())
	t.Cleanup(func() {
		l.Close()
		r.Close()
	})
	return l, r
}

func TestUDPLinkIndications(t *testing.T) {
	l, r := lossyLinks(t, 0)
	lh, rh := make(recordingHandler, 16), make(recordingHandler, 16)
	l.Bind(lh)
	r.Bind(rh)

	require.NoError(t, l.Send(PhyRequest{Type: PhyReqSof, Payload: []byte("mpdu")}))
	assert.Equal(t, PhyTxEnd, lh.next(t).Type)
	ind := rh.next(t)
	assert.Equal(t, PhyRxSof, ind.Type)
	assert.Equal(t, []byte("mpdu"), ind.Payload)
	assert.Equal(t, PhyRxEnd, rh.next(t).Type)

	require.NoError(t, r.Send(PhyRequest{Type: PhyReqSack, Sackd: []byte{SackFormat, 1}}))
	assert.Equal(t, PhyTxEnd, rh.next(t).Type)
	ind = lh.next(t)
	assert.Equal(t, PhyRxSack, ind.Type)
	assert.Equal(t, []byte{SackFormat, 1}, ind.Sackd)
	assert.Equal(t, PhyRxEnd, lh.next(t).Type)

	// search-ppdu never reaches the wire
	require.NoError(t, l.Send(PhyRequest{Type: PhyReqSearch}))
	select {
	case ind := <-rh:
		t.Fatalf("unexpected %v", ind.Type)
	case ind := <-lh:
		t.Fatalf("unexpected %v", ind.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUDPLinkDelivery(t *testing.T) {
	l, r := lossyLinks(t, 0)
	p := startPair(t, l, r, nil)
	payloads := testPayloads(25, 1500)
	go sendAll(t, p.master, p.mApp, addrB, payloads)
	assertDelivered(t, payloads, receiveAll(t, p.sApp, len(payloads)))
}

func TestUDPLinkLossy(t *testing.T) {
	l, r := lossyLinks(t, 0.1)
	p := startPair(t, l, r, func(c *Config) {
		c.SackTimeout = 30 * time.Millisecond
		c.MaxRetransmits = 100
	})
	payloads := testPayloads(15, 1000)
	go sendAll(t, p.master, p.mApp, addrB, payloads)
	assertDelivered(t, payloads, receiveAll(t, p.sApp, len(payloads)))
}

func TestUDPLinkSocket(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	link, err := DialUDPLink("127.0.0.1:0", pc.LocalAddr().String())
	require.NoError(t, err)
	defer link.Close()
	h := make(recordingHandler, 16)
	link.Bind(h)

	req := PhyRequest{Type: PhyReqSof, Modulation: 1, Payload: []byte{1, 2, 3}}
	require.NoError(t, link.Send(req))
	assert.Equal(t, PhyTxEnd, h.next(t).Type)

	buf := make([]byte, 1500)
	pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	got, err := UnmarshalRequest(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, req, got)

	sound, err := MarshalRequest(PhyRequest{Type: PhyReqSound})
	require.NoError(t, err)
	_, err = pc.WriteTo(sound, link.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, PhyRxSound, h.next(t).Type)
	assert.Equal(t, PhyRxEnd, h.next(t).Type)

	require.NoError(t, link.Close())
	assert.ErrorIs(t, link.Send(req), ErrLinkClosed)
	assert.ErrorIs(t, link.Close(), ErrLinkClosed)
}
