// Command ping_client sends a single PING SDU to a MIP address over a
// running mipd's upper socket and waits up to one second for the PONG.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/pdu"
)

const defaultTTL = 8
const pongTimeout = time.Second

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ping_client [-h] <socket_path> <dest_mip> <message> [<ttl>]")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 3 && flag.NArg() != 4 {
		usage()
		os.Exit(2)
	}

	socketPath := flag.Arg(0)
	dest, err := strconv.ParseUint(flag.Arg(1), 10, 8)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ping_client: invalid dest_mip %q: %v\n", flag.Arg(1), err)
		os.Exit(2)
	}
	message := flag.Arg(2)

	ttl := uint64(defaultTTL)
	if flag.NArg() == 4 {
		ttl, err = strconv.ParseUint(flag.Arg(3), 10, 8)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ping_client: invalid ttl %q: %v\n", flag.Arg(3), err)
			os.Exit(2)
		}
	}

	conn, err := net.Dial("unixpacket", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ping_client: connect to mipd: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{byte(ipc.KindPing)}); err != nil {
		fmt.Fprintf(os.Stderr, "ping_client: announce connection kind: %v\n", err)
		os.Exit(1)
	}

	msg := ipc.UpperMessage{MIPAddr: byte(dest), TTL: byte(ttl), SDU: []byte(message)}
	sent := time.Now()
	if _, err := conn.Write(msg.Pack()); err != nil {
		fmt.Fprintf(os.Stderr, "ping_client: send PING: %v\n", err)
		os.Exit(1)
	}

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	buf := make([]byte, pdu.MaxSDULen+2)
	n, err := conn.Read(buf)
	if err != nil {
		fmt.Println("timeout")
		return
	}
	rtt := time.Since(sent)

	reply, err := ipc.UnpackUpperMessage(buf[:n])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ping_client: malformed reply: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Received: %s, RTT: %.6f\n", reply.SDU, rtt.Seconds())
}
