// Command ping_server answers every PING SDU it receives over a running
// mipd's upper socket with a PONG carrying the same text.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/pdu"
	"github.com/vfaergestad/mipd/ping"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ping_server [-h] <socket_path>")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	socketPath := flag.Arg(0)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	conn, err := net.Dial("unixpacket", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ping_server: connect to mipd: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{byte(ipc.KindPing)}); err != nil {
		fmt.Fprintf(os.Stderr, "ping_server: announce connection kind: %v\n", err)
		os.Exit(1)
	}

	log.Info("ping_server listening", "socket", socketPath)
	buf := make([]byte, pdu.MaxSDULen+2)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Error("mipd connection lost", "error", err)
			os.Exit(1)
		}
		msg, err := ipc.UnpackUpperMessage(buf[:n])
		if err != nil {
			log.Warn("malformed upper message", "error", err)
			continue
		}
		reply := ipc.UpperMessage{MIPAddr: msg.MIPAddr, TTL: msg.TTL, SDU: ping.Reply(msg.SDU)}
		if _, err := conn.Write(reply.Pack()); err != nil {
			log.Warn("send PONG", "error", err)
		}
	}
}
