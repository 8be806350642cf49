// Package routingd implements the routing daemon process: it connects to
// mipd's upper socket as a ROUTING client, drives the distance-vector
// engine in routing.Engine on a periodic tick, and shuttles decoded
// protocol messages between the two.
package routingd

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/pdu"
	"github.com/vfaergestad/mipd/routing"
)

// Daemon is the routingd process.
type Daemon struct {
	conn   net.Conn
	engine *routing.Engine
	log    *slog.Logger
}

// connEmitter adapts a net.Conn into a routing.Emitter: every emitted
// message is written straight back over the mipd connection, where mipd
// broadcasts a HELLO and sends an UPDATE to the neighbour its header
// names. RESPONSEs do not go through the emitter: handleMessage writes
// them directly.
type connEmitter struct {
	conn net.Conn
	log  *slog.Logger
}

func (e connEmitter) Emit(msg []byte) {
	if _, err := e.conn.Write(msg); err != nil {
		e.log.Warn("write routing message to mipd", "error", err)
	}
}

// Dial connects to mipd's IPC socket at socketPath, announcing itself as
// a ROUTING client, and creates the protocol engine for local.
func Dial(socketPath string, local byte, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	c, err := net.Dial("unixpacket", socketPath)
	if err != nil {
		return nil, fmt.Errorf("routingd: dial %s: %w", socketPath, err)
	}
	if _, err := c.Write([]byte{byte(ipc.KindRouting)}); err != nil {
		c.Close()
		return nil, fmt.Errorf("routingd: announce connection kind: %w", err)
	}
	engine := routing.NewEngine(local, connEmitter{conn: c, log: log})
	return &Daemon{conn: c, engine: engine, log: log}, nil
}

// Close releases the mipd connection.
func (d *Daemon) Close() error { return d.conn.Close() }

// Engine exposes the routing engine, e.g. for diagnostics.
func (d *Daemon) Engine() *routing.Engine { return d.engine }

// Run drives the HELLO/timeout clock and the inbound message loop until
// stop is closed.
func (d *Daemon) Run(stop <-chan struct{}) error {
	incoming := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go d.readLoop(incoming, readErr)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case err := <-readErr:
			return fmt.Errorf("routingd: mipd connection lost: %w", err)
		case buf := <-incoming:
			d.handleMessage(buf)
		case now := <-ticker.C:
			d.engine.Tick(now)
		}
	}
}

func (d *Daemon) readLoop(out chan<- []byte, errs chan<- error) {
	buf := make([]byte, routing.HeaderLen+pdu.MaxSDULen)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			errs <- err
			return
		}
		if n == 0 {
			errs <- fmt.Errorf("routingd: mipd closed the connection")
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- cp
	}
}

func (d *Daemon) handleMessage(buf []byte) {
	dec, err := routing.Decode(buf)
	if err != nil {
		d.log.Warn("decode routing message", "error", err)
		return
	}
	// dec.Header.MIPAddr is the sending neighbor here, not whatever the
	// sender packed into the message: mipd rewrites this byte to the
	// enclosing PDU's source address before handing HELLO/UPDATE
	// upward, since that header field is otherwise unused on receipt.
	switch {
	case dec.Hello != nil:
		d.engine.HandleHello(dec.Header.MIPAddr)
	case dec.Update != nil:
		d.engine.HandleUpdate(dec.Header.MIPAddr, dec.Update.Vector)
	case dec.Request != nil:
		resp := d.engine.HandleRequest(*dec.Request)
		if _, err := d.conn.Write(resp.Pack()); err != nil {
			d.log.Warn("write RESPONSE to mipd", "error", err)
		}
	case dec.Resp != nil:
		d.log.Debug("unexpected RESPONSE addressed to routingd, ignoring")
	}
}
