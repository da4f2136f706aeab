package main

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	plc "github.com/getlantern/plc-mac"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"
)

// APP records on a KCP session: addr(6) | len(2 LE) | payload. Towards the
// node addr is the destination, from it the source.
const recordHdrWidth = plc.AddrLen + 2

var logs [5]*log.Logger

func init() {
	Debug := log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Lmicroseconds)
	Info := log.New(os.Stdout, "INFO : ", log.Ldate|log.Lmicroseconds)
	Warning := log.New(os.Stdout, "WARN : ", log.Ldate|log.Lmicroseconds)
	Error := log.New(os.Stdout, "ERROR: ", log.Ldate|log.Lmicroseconds)
	Fatal := log.New(os.Stdout, "FATAL: ", log.Ldate|log.Lmicroseconds)
	logs = [int(plc.FATAL)]*log.Logger{Debug, Info, Warning, Error, Fatal}
}

func checkError(err error) {
	if err != nil {
		plc.Logf(plc.ERROR, "checkError: %+v", err)
		os.Exit(-1)
	}
}

// kcpApp bridges APP sessions to a node.
type kcpApp struct {
	node  *plc.Node
	ready chan struct{}

	mu       sync.Mutex
	sessions map[uuid.UUID]*kcp.UDPSession
}

func newKcpApp() *kcpApp {
	return &kcpApp{
		ready:    make(chan struct{}, 1),
		sessions: make(map[uuid.UUID]*kcp.UDPSession),
	}
}

func (a *kcpApp) Ready() {
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

func (a *kcpApp) Receive(src plc.Addr, payload []byte) {
	record := make([]byte, recordHdrWidth+len(payload))
	copy(record, src[:])
	binary.LittleEndian.PutUint16(record[plc.AddrLen:], uint16(len(payload)))
	copy(record[recordHdrWidth:], payload)

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.sessions {
		if _, err := s.Write(record); err != nil {
			plc.Logf(plc.WARN, "session %v: write err:%v", id, err)
		}
	}
}

func (a *kcpApp) serve(l *kcp.Listener) {
	for {
		s, err := l.AcceptKCP()
		if err != nil {
			plc.Logf(plc.ERROR, "AcceptKCP err:%v", err)
			return
		}
		s.SetStreamMode(true)
		s.SetNoDelay(1, 10, 2, 1)
		id := uuid.New()
		a.mu.Lock()
		a.sessions[id] = s
		a.mu.Unlock()
		plc.Logf(plc.INFO, "session %v from %v", id, s.RemoteAddr())
		go a.handle(id, s)
	}
}

func (a *kcpApp) handle(id uuid.UUID, s *kcp.UDPSession) {
	defer func() {
		a.mu.Lock()
		delete(a.sessions, id)
		a.mu.Unlock()
		s.Close()
		plc.Logf(plc.INFO, "session %v closed", id)
	}()

	var hdr [recordHdrWidth]byte
	for {
		if _, err := io.ReadFull(s, hdr[:]); err != nil {
			return
		}
		var dest plc.Addr
		copy(dest[:], hdr[:plc.AddrLen])
		payload := make([]byte, binary.LittleEndian.Uint16(hdr[plc.AddrLen:]))
		if _, err := io.ReadFull(s, payload); err != nil {
			return
		}
		for {
			err := a.node.Submit(dest, payload)
			if errors.Is(err, plc.ErrBufferFull) {
				<-a.ready
				continue
			}
			if err != nil {
				plc.Logf(plc.WARN, "session %v: %v", id, err)
			}
			break
		}
	}
}

type phyLink interface {
	plc.PhyPeer
	Bind(h plc.PhyHandler)
	Close() error
}

func main() {
	myApp := cli.NewApp()
	myApp.Name = "plc-node"
	myApp.Usage = "power line MAC node"
	myApp.Version = "1.0.0"
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: "",
			Usage: "yaml config file",
		},
		cli.StringFlag{
			Name:  "addr",
			Value: "",
			Usage: "device address, overrides the config file",
		},
		cli.BoolFlag{
			Name:  "master",
			Usage: "run as master",
		},
		cli.StringFlag{
			Name:  "link",
			Value: "udp",
			Usage: "phy link: udp or serial",
		},
		cli.StringFlag{
			Name:  "localAddr",
			Value: "127.0.0.1:7001",
			Usage: "udp link local address",
		},
		cli.StringFlag{
			Name:  "remoteAddr",
			Value: "127.0.0.1:7002",
			Usage: "udp link remote address",
		},
		cli.StringFlag{
			Name:  "serialDev",
			Value: "/dev/ttyUSB0",
			Usage: "serial link device",
		},
		cli.IntFlag{
			Name:  "baud",
			Value: 115200,
			Usage: "serial link baud rate",
		},
		cli.StringFlag{
			Name:  "appAddr",
			Value: "127.0.0.1:7900",
			Usage: "kcp listen address for APP sessions",
		},
		cli.IntFlag{
			Name:  "logLevel",
			Value: 2,
			Usage: "1 debug, 2 info, 3 warn, 4 error, 5 fatal",
		},
		cli.IntFlag{
			Name:  "snmpPeriod",
			Value: 0,
			Usage: "seconds between counter dumps, 0 disables",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		logLevel := c.Int("logLevel")
		plc.Logf = func(lvl plc.LogLevel, f string, args ...interface{}) {
			if int(lvl) >= logLevel && lvl >= plc.DEBUG && lvl <= plc.FATAL {
				logs[lvl-1].Printf(f+"\n", args...)
			}
		}

		cfg := plc.DefaultConfig()
		if path := c.String("config"); path != "" {
			var err error
			cfg, err = plc.LoadConfig(path)
			checkError(err)
		}
		if s := c.String("addr"); s != "" {
			addr, err := plc.ParseAddr(s)
			checkError(err)
			cfg.Addr = addr
		}
		if c.Bool("master") {
			cfg.Master = true
		}

		var link phyLink
		switch c.String("link") {
		case "udp":
			l, err := plc.DialUDPLink(c.String("localAddr"), c.String("remoteAddr"))
			checkError(err)
			link = l
		case "serial":
			l, err := plc.OpenSerialLink(c.String("serialDev"), c.Int("baud"))
			checkError(err)
			link = l
		default:
			checkError(errors.Errorf("unknown link %q", c.String("link")))
		}
		defer link.Close()

		app := newKcpApp()
		node, err := plc.NewNode(cfg, link, app)
		checkError(err)
		app.node = node
		link.Bind(node)

		l, err := kcp.ListenWithOptions(c.String("appAddr"), nil, 0, 0)
		checkError(err)
		defer l.Close()
		go app.serve(l)

		if period := c.Int("snmpPeriod"); period > 0 {
			go func() {
				snmp := node.Snmp()
				header := snmp.Header()
				for range time.Tick(time.Duration(period) * time.Second) {
					vals := node.Snmp().ToSlice()
					for i := range header {
						plc.Logf(plc.INFO, "%s: %s", header[i], vals[i])
					}
				}
			}()
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		plc.Logf(plc.INFO, "plc-node %v master:%v app:%v", cfg.Addr, cfg.Master, c.String("appAddr"))
		if err := node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	myApp.Run(os.Args)
}
