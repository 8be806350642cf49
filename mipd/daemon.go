package mipd

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vfaergestad/mipd/internal/diag"
	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/link"
	"github.com/vfaergestad/mipd/pdu"
	"github.com/vfaergestad/mipd/routing"
)

// Daemon is the mipd process: one raw-link reader goroutine and one or
// more upper-connection reader goroutines feed a single dispatch
// goroutine over an event channel, so every Forwarder call happens from
// one goroutine at a time. This is the Go-idiomatic rendering of
// spec.md's single-threaded, bounded-wait event loop: a single select
// over channels stands in for a single poll() call, and the bound on
// wait latency becomes the channel buffer size rather than a poll
// timeout.
type Daemon struct {
	local byte
	lk    *link.Link
	fwd   *Forwarder
	log   *slog.Logger

	socketPath string
	listener   net.Listener

	events chan event
}

type event struct {
	frame   *link.Frame
	upperRd *upperRead
}

type upperRead struct {
	conn *ipc.Conn
	msg  ipc.UpperMessage
	buf  []byte // raw bytes for a routing-daemon connection
	err  error
}

// New creates a mipd daemon bound to local's MIP address, listening for
// upper connections on socketPath.
func New(local byte, socketPath string, lk *link.Link, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		local:      local,
		lk:         lk,
		fwd:        NewForwarder(local, lk, log),
		log:        log,
		socketPath: socketPath,
		events:     make(chan event, 256),
	}
}

// Run starts the daemon's listener and reader goroutines and blocks
// processing events until stop is closed.
func (d *Daemon) Run(stop <-chan struct{}) error {
	l, err := net.Listen("unixpacket", d.socketPath)
	if err != nil {
		return fmt.Errorf("mipd: listen on %s: %w", d.socketPath, err)
	}
	d.listener = l
	defer l.Close()

	go d.acceptLoop()
	go d.linkReadLoop()

	diagTicker := time.NewTicker(30 * time.Second)
	defer diagTicker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case ev := <-d.events:
			d.dispatch(ev)
		case <-diagTicker.C:
			diag.Report(d.log, "mipd", d.fwd.Counters().Snapshot())
		}
	}
}

func (d *Daemon) acceptLoop() {
	for {
		nc, err := d.listener.Accept()
		if err != nil {
			d.log.Debug("listener closed", "error", err)
			return
		}
		conn, err := d.fwd.Upper().Accept(nc)
		if err != nil {
			d.log.Warn("reject upper connection", "error", err)
			nc.Close()
			continue
		}
		go d.upperReadLoop(conn)
	}
}

func (d *Daemon) upperReadLoop(c *ipc.Conn) {
	buf := make([]byte, pdu.MaxSDULen+2)
	for {
		n, err := c.NC.Read(buf)
		if err != nil || n == 0 {
			d.events <- event{upperRd: &upperRead{conn: c, err: fmt.Errorf("upper connection closed: %w", err)}}
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		if c.Kind == ipc.KindRouting {
			d.events <- event{upperRd: &upperRead{conn: c, buf: raw}}
			continue
		}
		msg, err := ipc.UnpackUpperMessage(raw)
		if err != nil {
			d.log.Warn("malformed upper message", "error", err)
			continue
		}
		d.events <- event{upperRd: &upperRead{conn: c, msg: msg}}
	}
}

func (d *Daemon) linkReadLoop() {
	for {
		f, err := d.lk.Receive()
		if err != nil {
			d.log.Error("link receive failed, stopping reader", "error", err)
			return
		}
		fc := f
		d.events <- event{frame: &fc}
	}
}

func (d *Daemon) dispatch(ev event) {
	switch {
	case ev.frame != nil:
		if err := d.fwd.HandleInboundFrame(*ev.frame, d); err != nil {
			d.log.Warn("handle inbound frame", "error", err)
		}
	case ev.upperRd != nil:
		d.handleUpperRead(ev.upperRd)
	}
}

func (d *Daemon) handleUpperRead(u *upperRead) {
	if u.err != nil {
		d.fwd.Upper().Remove(u.conn)
		d.log.Debug("upper connection disconnected", "kind", u.conn.Kind)
		return
	}
	if u.conn.Kind == ipc.KindRouting {
		d.handleRoutingBytes(u.buf)
		return
	}
	if err := d.fwd.SendFromUpper(u.msg.MIPAddr, u.msg.TTL, pdu.PING, u.msg.SDU, d); err != nil {
		d.log.Warn("forward ping message from upper client", "error", err)
	}
}

// handleRoutingBytes accepts bytes from the routing daemon: either a
// routing protocol message addressed elsewhere (HELLO/UPDATE, which
// mipd wraps in a ROUTING PDU addressed to the header's MIP address:
// broadcast for HELLO, the one neighbour for UPDATE) or a RESPONSE
// answering an outstanding AskRoute lookup (consumed locally, never put
// on the wire).
func (d *Daemon) handleRoutingBytes(buf []byte) {
	dec, err := routing.Decode(buf)
	if err != nil {
		d.log.Warn("decode bytes from routing daemon", "error", err)
		return
	}
	if dec.Resp != nil {
		d.fwd.HandleRouteResponse(*dec.Resp, dec.Resp.Lookup)
		return
	}
	dest := dec.Header.MIPAddr
	if err := d.fwd.SendFromUpper(dest, 0, pdu.ROUTING, buf, d); err != nil {
		d.log.Warn("forward routing message", "error", err)
	}
}

// AskRoute implements RouteAsker by sending a REQUEST to the connected
// routing daemon.
func (d *Daemon) AskRoute(lookup byte) error {
	c, ok := d.fwd.Upper().RoutingConn()
	if !ok {
		return fmt.Errorf("mipd: no routing daemon connected")
	}
	req := routing.Request{
		Header: routing.Header{MIPAddr: d.local, TTL: 1, Tag: routing.TagRequest},
		Lookup: lookup,
	}
	_, err := c.NC.Write(req.Pack())
	return err
}
