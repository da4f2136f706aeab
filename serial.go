package plc

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Serial frames carry one event each:
//
//	0x7E | len(2 LE) | event | crc32(event) LE
const (
	serialSync     = 0x7E
	serialHdrWidth = 3
	serialCRCWidth = 4
)

// SerialLink talks to a PHY modem over a serial port. Requests go out as
// framed events; the modem answers with framed indications, TXEND
// included.
type SerialLink struct {
	port io.ReadWriteCloser
	h    PhyHandler
	snmp *Snmp

	wmu sync.Mutex

	die     chan struct{}
	dieOnce sync.Once
}

// OpenSerialLink opens the named serial device.
func OpenSerialLink(name string, baud int) (*SerialLink, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	return NewSerialLink(port), nil
}

func NewSerialLink(port io.ReadWriteCloser) *SerialLink {
	return &SerialLink{
		port: port,
		snmp: newSnmp(),
		die:  make(chan struct{}),
	}
}

// Bind starts delivering the modem's indications to h.
func (l *SerialLink) Bind(h PhyHandler) {
	l.h = h
	go l.readLoop()
}

func (l *SerialLink) Snmp() *Snmp { return l.snmp.Copy() }

func (l *SerialLink) Send(req PhyRequest) error {
	select {
	case <-l.die:
		return errors.WithStack(ErrLinkClosed)
	default:
	}
	event, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.port.Write(appendSerialFrame(nil, event)); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (l *SerialLink) Close() error {
	var once bool
	l.dieOnce.Do(func() {
		close(l.die)
		once = true
	})
	if !once {
		return errors.WithStack(ErrLinkClosed)
	}
	return l.port.Close()
}

func (l *SerialLink) readLoop() {
	r := bufio.NewReader(l.port)
	for {
		event, err := readSerialFrame(r)
		if err != nil {
			if errors.Is(err, ErrEventFormat) {
				atomic.AddUint64(&l.snmp.FormatErrors, 1)
				Logf(WARN, "SerialLink: %v", err)
				continue
			}
			select {
			case <-l.die:
			default:
				atomic.AddUint64(&l.snmp.LinkRxErrors, 1)
				Logf(WARN, "SerialLink::readLoop err:%v", err)
			}
			return
		}
		ind, err := UnmarshalIndication(event)
		if err != nil {
			atomic.AddUint64(&l.snmp.FormatErrors, 1)
			Logf(WARN, "SerialLink: %v", err)
			continue
		}
		l.h.InputPhy(ind)
	}
}

func appendSerialFrame(dst []byte, event []byte) []byte {
	dst = append(dst, serialSync)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(event)))
	dst = append(dst, event...)
	return binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(event))
}

// readSerialFrame skips to the next sync byte and returns the event that
// follows it. A frame failing its CRC yields ErrEventFormat; the reader is
// then positioned after it.
func readSerialFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == serialSync {
			break
		}
	}
	var hdr [serialHdrWidth - 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n < eventHdrWidth {
		return nil, errors.Wrapf(ErrEventFormat, "serial frame of %d bytes", n)
	}
	buf := make([]byte, n+serialCRCWidth)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	event := buf[:n]
	if crc32.ChecksumIEEE(event) != binary.LittleEndian.Uint32(buf[n:]) {
		return nil, errors.Wrap(ErrEventFormat, "serial frame crc error")
	}
	return event, nil
}
