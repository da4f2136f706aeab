package plc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// State is the position of a node in the half-duplex exchange.
type State int32

const (
	StateWaitingForApp State = iota
	StateSendingSofOrSound
	StateSendingSack
	StateWaitingForSack
	StateWaitingForSof
)

func (s State) String() string {
	switch s {
	case StateWaitingForApp:
		return "WAITING_FOR_APP"
	case StateSendingSofOrSound:
		return "SENDING_SOF_OR_SOUND"
	case StateSendingSack:
		return "SENDING_SACK"
	case StateWaitingForSack:
		return "WAITING_FOR_SACK"
	case StateWaitingForSof:
		return "WAITING_FOR_SOF"
	}
	return "UNKNOWN"
}

type eventKind int

const (
	evPhy eventKind = iota
	evSubmit
	evSackTimeout
)

type event struct {
	kind  eventKind
	ind   PhyIndication
	dest  Addr
	frame []byte
	mgmt  bool
	gen   uint64
}

// mailbox linearizes events from PHY, APP and timers onto one goroutine.
type mailbox struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
}

func (m *mailbox) post(ev event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []event {
	m.mu.Lock()
	evs := m.events
	m.events = nil
	m.mu.Unlock()
	return evs
}

// Node is one MAC entity. All protocol state is owned by the goroutine
// running Run; the exported methods only post events to it.
type Node struct {
	cfg   Config
	name  string
	phy   PhyPeer
	app   AppPeer
	sched Scheduler
	now   func() time.Time

	// owned by the event loop
	state           State
	txq             *TxQueue
	rx              *Reassembler
	fec             *burstFEC
	lastSound       time.Time
	lastBlockErrors []bool // of the last received burst, for our SACK
	lastBurstBlocks int    // data blocks of the last burst we sent
	pending         []byte // burst awaiting its SACK
	pendingBlocks   int
	retries         int
	sackGen         uint64 // bumped whenever the running SACK timer is superseded
	timerArmed      bool

	stateV   atomic.Int32
	admitted atomic.Int64 // frames reserved in txq, counting ones still in the mailbox

	estMu     sync.Mutex
	estimates map[Addr]*ChannelEstimate

	snmp *Snmp
	mbox mailbox

	die     chan struct{}
	dieOnce sync.Once
}

// NewNode creates a node on top of phy, delivering to app. A nil cfg means
// DefaultConfig.
func NewNode(cfg *Config, phy PhyPeer, app AppPeer) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := new(Node)
	n.cfg = *cfg
	n.phy = phy
	n.app = app
	n.sched = SystemTimedSched
	n.now = time.Now
	n.snmp = newSnmp()
	n.txq = NewTxQueue(cfg.MaxFramesInBuffer, cfg.MaxSegments)
	n.rx = NewReassembler(cfg.FECParityShards, n.snmp)
	n.fec = newBurstFEC(cfg.FECParityShards, n.snmp)
	n.estimates = make(map[Addr]*ChannelEstimate)
	n.mbox.notify = make(chan struct{}, 1)
	n.die = make(chan struct{})
	if cfg.Master {
		n.name = "MAC (master)"
		n.setState(StateWaitingForApp)
	} else {
		n.name = "MAC (slave)"
		n.setState(StateWaitingForSof)
	}
	return n, nil
}

// SetScheduler replaces the SACK timer scheduler. Call before Run.
func (n *Node) SetScheduler(s Scheduler) { n.sched = s }

// SetClock replaces the clock used for sounding. Call before Run.
func (n *Node) SetClock(now func() time.Time) { n.now = now }

func (n *Node) Addr() Addr { return n.cfg.Addr }

// State returns the current state; safe from any goroutine.
func (n *Node) State() State { return State(n.stateV.Load()) }

// Snmp returns a snapshot of the node counters.
func (n *Node) Snmp() *Snmp { return n.snmp.Copy() }

// ChannelEstimate returns the last channel estimate received from src.
func (n *Node) ChannelEstimate(src Addr) (*ChannelEstimate, bool) {
	n.estMu.Lock()
	defer n.estMu.Unlock()
	ce, ok := n.estimates[src]
	return ce, ok
}

// Run signals READY to the APP and processes events until ctx is done or
// the node is closed.
func (n *Node) Run(ctx context.Context) error {
	n.start()
	for {
		select {
		case <-n.mbox.notify:
			n.pump()
		case <-ctx.Done():
			return ctx.Err()
		case <-n.die:
			return nil
		}
	}
}

// Close stops Run.
func (n *Node) Close() error {
	n.dieOnce.Do(func() { close(n.die) })
	return nil
}

// InputPhy queues an indication from the PHY.
func (n *Node) InputPhy(ind PhyIndication) {
	n.mbox.post(event{kind: evPhy, ind: ind})
}

// Submit queues payload for dest. It fails with ErrBufferFull while the
// transmission buffer holds MaxFramesInBuffer frames.
func (n *Node) Submit(dest Addr, payload []byte) error {
	return n.submit(dest, payload, false)
}

// SubmitManagement queues a management message for dest.
func (n *Node) SubmitManagement(dest Addr, msg []byte) error {
	return n.submit(dest, msg, true)
}

// SendChannelEstimate sends a CM_CHAN_EST message to dest.
func (n *Node) SendChannelEstimate(dest Addr, ce *ChannelEstimate) error {
	entry, err := ce.Marshal()
	if err != nil {
		return err
	}
	return n.SubmitManagement(dest, EncodeMgmtMessage(MMTypeChanEst, entry))
}

func (n *Node) submit(dest Addr, payload []byte, mgmt bool) error {
	frame, err := EncodeMacFrame(dest, n.cfg.Addr, payload, mgmt)
	if err != nil {
		return err
	}
	if n.admitted.Add(1) > int64(n.cfg.MaxFramesInBuffer) {
		n.admitted.Add(-1)
		atomic.AddUint64(&n.snmp.AppRejected, 1)
		Logf(WARN, "%s: state = %v, buffer is full, rejecting frame for %v", n.name, n.State(), dest)
		return errors.WithStack(ErrBufferFull)
	}
	n.mbox.post(event{kind: evSubmit, dest: dest, frame: frame, mgmt: mgmt})
	return nil
}

func (n *Node) start() {
	Logf(INFO, "%s: %v started in %v", n.name, n.cfg.Addr, n.state)
	n.app.Ready()
}

// pump dispatches queued events until the mailbox is empty.
func (n *Node) pump() {
	for {
		evs := n.mbox.take()
		if len(evs) == 0 {
			return
		}
		for k := range evs {
			n.dispatch(evs[k])
		}
	}
}

func (n *Node) dispatch(ev event) {
	switch ev.kind {
	case evPhy:
		n.handlePhy(ev.ind)
	case evSubmit:
		n.handleSubmit(ev.dest, ev.frame, ev.mgmt)
	case evSackTimeout:
		n.handleSackTimeout(ev.gen)
	}
}

func (n *Node) setState(s State) {
	n.state = s
	n.stateV.Store(int32(s))
}

func (n *Node) handleSubmit(dest Addr, frame []byte, mgmt bool) {
	if err := n.txq.Submit(dest, frame, mgmt); err != nil {
		n.admitted.Add(-1)
		atomic.AddUint64(&n.snmp.AppRejected, 1)
		Logf(WARN, "%s: state = %v, %v", n.name, n.state, err)
		return
	}
	atomic.AddUint64(&n.snmp.FramesSubmitted, 1)
	Logf(DEBUG, "%s: state = %v, queued %d byte frame for %v", n.name, n.state, len(frame), dest)
	if !n.txq.Full() {
		n.app.Ready()
	}
	if n.state == StateWaitingForApp {
		n.sendSofOrSound()
	}
}

func (n *Node) handlePhy(ind PhyIndication) {
	Logf(DEBUG, "%s: state = %v, %v", n.name, n.state, ind.Type)
	switch ind.Type {
	case PhyRxEnd:
		switch n.state {
		case StateWaitingForSack:
			n.sendSofOrSound()
			n.searchPPDU()
		case StateWaitingForSof:
			n.sendSack()
			n.searchPPDU()
		}
	case PhyRxSof:
		n.lastBlockErrors = n.receiveMPDU(ind.Payload)
	case PhyRxSack:
		n.handleSack(ind.Sackd)
	case PhyRxSound:
		n.lastBlockErrors = nil
	case PhyTxEnd:
		switch n.state {
		case StateSendingSofOrSound:
			n.setState(StateWaitingForSack)
			n.startSackTimer()
		case StateSendingSack:
			n.setState(StateWaitingForSof)
		}
	default:
		atomic.AddUint64(&n.snmp.FormatErrors, 1)
		Logf(WARN, "%s: state = %v, unknown indication %d", n.name, n.state, ind.Type)
	}
}

func (n *Node) handleSack(sackd []byte) {
	if n.state != StateWaitingForSack {
		Logf(DEBUG, "%s: state = %v, ignoring SACK", n.name, n.state)
		return
	}
	errs, err := DecodeSack(sackd, n.lastBurstBlocks)
	if err != nil {
		atomic.AddUint64(&n.snmp.FormatErrors, 1)
		Logf(WARN, "%s: state = %v, %v", n.name, n.state, err)
		return
	}
	n.cancelSackTimer()
	atomic.AddUint64(&n.snmp.SacksReceived, 1)
	if k := countErrors(errs); k > 0 {
		atomic.AddUint64(&n.snmp.SackBlockErrors, uint64(k))
		Logf(WARN, "%s: state = %v, SACK indicates %d of %d blocks in error", n.name, n.state, k, len(errs))
	}
	n.pending = nil
	n.pendingBlocks = 0
	n.retries = 0
}

func (n *Node) handleSackTimeout(gen uint64) {
	if gen != n.sackGen || !n.timerArmed {
		return
	}
	n.timerArmed = false
	atomic.AddUint64(&n.snmp.SackTimeouts, 1)
	Logf(WARN, "%s: state = %v, SACK timeout", n.name, n.state)
	n.sendSofOrSound()
}

func (n *Node) startSackTimer() {
	n.sackGen++
	n.timerArmed = true
	gen := n.sackGen
	n.sched.Put(func() {
		n.mbox.post(event{kind: evSackTimeout, gen: gen})
	}, n.cfg.SackTimeout)
}

func (n *Node) cancelSackTimer() {
	n.sackGen++
	n.timerArmed = false
}

// soundDue holds sounds back while a burst awaits its SACK.
func (n *Node) soundDue() bool {
	return n.cfg.SoundInterval > 0 && n.pending == nil && n.now().Sub(n.lastSound) >= n.cfg.SoundInterval
}

// sendSofOrSound starts the next transmission: a sound when one is due,
// else the burst still awaiting a SACK, else a fresh burst from the queue.
func (n *Node) sendSofOrSound() {
	n.cancelSackTimer()
	if n.soundDue() {
		n.lastSound = n.now()
		n.lastBurstBlocks = 0
		n.setState(StateSendingSofOrSound)
		atomic.AddUint64(&n.snmp.SoundsSent, 1)
		n.phySend(PhyRequest{Type: PhyReqSound})
		return
	}

	burst, nblocks := n.pending, n.pendingBlocks
	if burst != nil {
		if n.retries >= n.cfg.MaxRetransmits {
			atomic.AddUint64(&n.snmp.BurstsDropped, 1)
			Logf(WARN, "%s: state = %v, dropping burst of %d blocks after %d retransmissions", n.name, n.state, nblocks, n.retries)
			burst = nil
			n.pending = nil
			n.retries = 0
		} else {
			n.retries++
			atomic.AddUint64(&n.snmp.Retransmits, 1)
		}
	}

	if burst == nil {
		before := n.txq.Len()
		var released bool
		burst, nblocks, released = n.txq.Drain()
		n.admitted.Add(int64(n.txq.Len() - before))
		if released {
			n.app.Ready()
		}
		if len(burst) == 0 {
			Logf(DEBUG, "%s: no more data to send", n.name)
			n.setState(StateWaitingForApp)
			return
		}
		if n.fec != nil {
			burst = n.fec.encode(burst, nblocks)
		}
		n.pending, n.pendingBlocks, n.retries = burst, nblocks, 0
		atomic.AddUint64(&n.snmp.BurstsSent, 1)
		atomic.AddUint64(&n.snmp.BlocksSent, uint64(nblocks))
	}

	n.lastBurstBlocks = nblocks
	n.setState(StateSendingSofOrSound)
	n.phySend(PhyRequest{
		Type:       PhyReqSof,
		Modulation: n.cfg.Modulation,
		RoboMode:   n.cfg.RoboMode,
		Payload:    burst,
	})
}

func (n *Node) sendSack() {
	sackd := EncodeSack(n.lastBlockErrors)
	n.setState(StateSendingSack)
	atomic.AddUint64(&n.snmp.SacksSent, 1)
	n.phySend(PhyRequest{Type: PhyReqSack, Sackd: sackd})
}

func (n *Node) searchPPDU() {
	n.phySend(PhyRequest{Type: PhyReqSearch})
}

func (n *Node) phySend(req PhyRequest) {
	if err := n.phy.Send(req); err != nil {
		atomic.AddUint64(&n.snmp.LinkTxErrors, 1)
		Logf(WARN, "%s: state = %v, %v: %+v", n.name, n.state, req.Type, err)
	}
}

func (n *Node) receiveMPDU(mpdu []byte) []bool {
	frames, blockErrors := n.rx.Parse(mpdu)
	for _, raw := range frames {
		n.receiveMacFrame(raw)
	}
	return blockErrors
}

func (n *Node) receiveMacFrame(raw []byte) {
	f, err := DecodeMacFrame(raw)
	if err != nil {
		if errors.Is(err, ErrFrameChecksum) {
			atomic.AddUint64(&n.snmp.FrameCsumErrors, 1)
		} else {
			atomic.AddUint64(&n.snmp.FormatErrors, 1)
		}
		Logf(WARN, "%s: state = %v, dropping MAC frame: %v", n.name, n.state, err)
		return
	}
	if f.Dest != n.cfg.Addr && f.Dest != BroadcastAddr {
		Logf(DEBUG, "%s: frame for %v ignored", n.name, f.Dest)
		return
	}
	if !f.IsManagement() {
		atomic.AddUint64(&n.snmp.FramesDelivered, 1)
		n.app.Receive(f.Src, f.Payload)
		return
	}
	atomic.AddUint64(&n.snmp.MgmtReceived, 1)
	n.receiveMgmt(f.Src, f.Payload)
}

func (n *Node) receiveMgmt(src Addr, payload []byte) {
	msg, err := DecodeMgmtMessage(payload)
	if err == nil && msg.Type != MMTypeChanEst {
		err = errors.Wrapf(ErrMgmtType, "mmtype %#04x", msg.Type)
	}
	var ce *ChannelEstimate
	if err == nil {
		ce, err = UnmarshalChannelEstimate(msg.Entry)
	}
	if err != nil {
		atomic.AddUint64(&n.snmp.FormatErrors, 1)
		Logf(WARN, "%s: management message from %v: %v", n.name, src, err)
		return
	}
	n.estMu.Lock()
	n.estimates[src] = ce
	n.estMu.Unlock()
	Logf(INFO, "%s: channel estimate from %v, %d carriers", n.name, src, len(ce.BitLoading))
}
