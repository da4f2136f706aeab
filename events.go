package plc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PhyIndicationType enumerates the indications the PHY delivers to the MAC.
type PhyIndicationType uint8

const (
	PhyRxEnd PhyIndicationType = iota + 1
	PhyRxSof
	PhyRxSack
	PhyRxSound
	PhyTxEnd
)

func (t PhyIndicationType) String() string {
	switch t {
	case PhyRxEnd:
		return "PHY-RXEND"
	case PhyRxSof:
		return "PHY-RXSOF"
	case PhyRxSack:
		return "PHY-RXSACK"
	case PhyRxSound:
		return "PHY-RXSOUND"
	case PhyTxEnd:
		return "PHY-TXEND"
	}
	return "PHY-UNKNOWN"
}

// PhyIndication is one event from the PHY. Payload is the MPDU of an RXSOF,
// Sackd the SACK data of an RXSACK.
type PhyIndication struct {
	Type    PhyIndicationType
	Payload []byte
	Sackd   []byte
}

// PhyRequestType enumerates what the MAC asks of the PHY. Request codes do
// not overlap indication codes so both can share a wire.
type PhyRequestType uint8

const (
	PhyReqSof PhyRequestType = iota + 0x10
	PhyReqSound
	PhyReqSack
	PhyReqSearch
)

func (t PhyRequestType) String() string {
	switch t {
	case PhyReqSof:
		return "sof"
	case PhyReqSound:
		return "sound"
	case PhyReqSack:
		return "sack"
	case PhyReqSearch:
		return "search-ppdu"
	}
	return "unknown"
}

// PhyRequest is one request to the PHY.
type PhyRequest struct {
	Type       PhyRequestType
	Modulation uint8
	RoboMode   uint8
	Payload    []byte
	Sackd      []byte
}

// PhyPeer accepts requests from a node.
type PhyPeer interface {
	Send(req PhyRequest) error
}

// PhyHandler accepts indications from a PHY link. *Node implements it.
type PhyHandler interface {
	InputPhy(ind PhyIndication)
}

// AppPeer is the upper layer of a node.
type AppPeer interface {
	// Receive is called with the payload of each data frame addressed to the node.
	Receive(src Addr, payload []byte)
	// Ready signals that the node accepts another submission.
	Ready()
}

// event wire format: code(1) | modulation(1) | robo(1) | len(2 LE) | body
const (
	eventHdrWidth = 5
	maxEventBody  = 1<<16 - 1
)

func encodeEvent(code, modulation, robo uint8, body []byte) []byte {
	buf := make([]byte, eventHdrWidth+len(body))
	buf[0] = code
	buf[1] = modulation
	buf[2] = robo
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(body)))
	copy(buf[eventHdrWidth:], body)
	return buf
}

func decodeEvent(b []byte) (code, modulation, robo uint8, body []byte, err error) {
	if len(b) < eventHdrWidth {
		err = errors.Wrapf(ErrEventFormat, "%d bytes", len(b))
		return
	}
	n := int(binary.LittleEndian.Uint16(b[3:]))
	if len(b) != eventHdrWidth+n {
		err = errors.Wrapf(ErrEventFormat, "body of %d bytes, header says %d", len(b)-eventHdrWidth, n)
		return
	}
	return b[0], b[1], b[2], append([]byte(nil), b[eventHdrWidth:]...), nil
}

func (req *PhyRequest) body() []byte {
	if req.Type == PhyReqSack {
		return req.Sackd
	}
	return req.Payload
}

// MarshalRequest encodes a request for a byte stream or datagram link.
func MarshalRequest(req PhyRequest) ([]byte, error) {
	body := req.body()
	if len(body) > maxEventBody {
		return nil, errors.Wrapf(ErrEventFormat, "%s body of %d bytes", req.Type, len(body))
	}
	return encodeEvent(uint8(req.Type), req.Modulation, req.RoboMode, body), nil
}

func UnmarshalRequest(b []byte) (PhyRequest, error) {
	code, mod, robo, body, err := decodeEvent(b)
	if err != nil {
		return PhyRequest{}, err
	}
	req := PhyRequest{Type: PhyRequestType(code), Modulation: mod, RoboMode: robo}
	switch req.Type {
	case PhyReqSof:
		req.Payload = body
	case PhyReqSack:
		req.Sackd = body
	case PhyReqSound, PhyReqSearch:
	default:
		return PhyRequest{}, errors.Wrapf(ErrEventFormat, "request code %#x", code)
	}
	return req, nil
}

func MarshalIndication(ind PhyIndication) ([]byte, error) {
	body := ind.Payload
	if ind.Type == PhyRxSack {
		body = ind.Sackd
	}
	if len(body) > maxEventBody {
		return nil, errors.Wrapf(ErrEventFormat, "%s body of %d bytes", ind.Type, len(body))
	}
	return encodeEvent(uint8(ind.Type), 0, 0, body), nil
}

func UnmarshalIndication(b []byte) (PhyIndication, error) {
	code, _, _, body, err := decodeEvent(b)
	if err != nil {
		return PhyIndication{}, err
	}
	ind := PhyIndication{Type: PhyIndicationType(code)}
	switch ind.Type {
	case PhyRxSof:
		ind.Payload = body
	case PhyRxSack:
		ind.Sackd = body
	case PhyRxEnd, PhyRxSound, PhyTxEnd:
	default:
		return PhyIndication{}, errors.Wrapf(ErrEventFormat, "indication code %#x", code)
	}
	return ind, nil
}

// indicationsFor turns a request transmitted on an emulated medium into
// what every other station's PHY reports: the frame then the end of it.
func indicationsFor(req PhyRequest) []PhyIndication {
	switch req.Type {
	case PhyReqSof:
		return []PhyIndication{{Type: PhyRxSof, Payload: req.Payload}, {Type: PhyRxEnd}}
	case PhyReqSound:
		return []PhyIndication{{Type: PhyRxSound}, {Type: PhyRxEnd}}
	case PhyReqSack:
		return []PhyIndication{{Type: PhyRxSack, Sackd: req.Sackd}, {Type: PhyRxEnd}}
	}
	return nil
}
