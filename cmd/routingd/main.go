// Command routingd is the distance-vector routing daemon: it connects to
// a running mipd as a ROUTING client and maintains the node's routing
// table.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vfaergestad/mipd/routingd"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: routingd [-h] [-d] <socket_path>")
	flag.PrintDefaults()
}

func main() {
	debug := flag.Bool("d", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	socketPath := flag.Arg(0)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// routingd does not learn its MIP address on this interface: the
	// enclosing PDU's source address identifies the sender of every
	// routing message, so the engine never needs to stamp its own
	// address into one. 0 here is inert diagnostic metadata only.
	d, err := routingd.Dial(socketPath, 0, log)
	if err != nil {
		log.Error("connect to mipd", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	log.Info("routingd starting", "socket", socketPath)
	if err := d.Run(stop); err != nil {
		log.Error("routingd exited", "error", err)
		os.Exit(1)
	}
}
