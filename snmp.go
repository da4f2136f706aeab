package plc

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Snmp holds the counters of one node. Fields are updated atomically.
type Snmp struct {
	FramesSubmitted uint64 // MAC frames accepted from APP
	AppRejected     uint64 // submissions refused while the buffer was full
	FramesDelivered uint64 // data frames handed to APP
	MgmtReceived    uint64 // management frames received
	BurstsSent      uint64 // new bursts, retransmissions excluded
	BlocksSent      uint64
	Retransmits     uint64 // bursts sent again after a lost SACK
	BurstsDropped   uint64 // bursts abandoned after the retransmit limit
	SoundsSent      uint64
	SacksSent       uint64
	SacksReceived   uint64
	SackBlockErrors uint64 // blocks reported errored by peer SACKs
	SackTimeouts    uint64
	BlocksReceived  uint64
	BlockCsumErrors uint64 // PHY block check failures
	FrameCsumErrors uint64 // MAC frame ICV failures
	SeqGaps         uint64 // SSN discontinuities
	PartialDrops    uint64 // partially reassembled frames discarded
	DupBlocks       uint64 // repeated blocks skipped
	FormatErrors    uint64 // malformed frames, SACKs and management messages
	FECParitySent   uint64
	FECRecovered    uint64 // blocks rebuilt from parity
	FECErrs         uint64 // damaged blocks parity could not rebuild
	LinkTxErrors    uint64
	LinkRxErrors    uint64
}

func newSnmp() *Snmp {
	return new(Snmp)
}

// Copy makes a snapshot of the counters.
func (s *Snmp) Copy() *Snmp {
	d := newSnmp()
	src := reflect.ValueOf(s).Elem()
	dst := reflect.ValueOf(d).Elem()
	for i := 0; i < src.NumField(); i++ {
		p := src.Field(i).Addr().Interface().(*uint64)
		dst.Field(i).SetUint(atomic.LoadUint64(p))
	}
	return d
}

// Header returns the counter names, in the order ToSlice reports them.
func (s *Snmp) Header() []string {
	t := reflect.TypeOf(s).Elem()
	names := make([]string, t.NumField())
	for i := range names {
		names[i] = t.Field(i).Name
	}
	return names
}

// ToSlice returns the counter values as strings.
func (s *Snmp) ToSlice() []string {
	snmp := s.Copy()
	v := reflect.ValueOf(snmp).Elem()
	vals := make([]string, v.NumField())
	for i := range vals {
		vals[i] = fmt.Sprint(v.Field(i).Uint())
	}
	return vals
}
