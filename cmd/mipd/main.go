// Command mipd is the MIP daemon: it owns the raw Ethernet socket and
// the local upper socket that ping clients/servers and routingd connect
// to.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/vfaergestad/mipd/link"
	"github.com/vfaergestad/mipd/mipd"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mipd [-h] [-d] <socket_path> <mip_address>")
	flag.PrintDefaults()
}

func main() {
	debug := flag.Bool("d", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	socketPath := flag.Arg(0)
	addr, err := strconv.ParseUint(flag.Arg(1), 10, 8)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mipd: invalid mip_address %q: %v\n", flag.Arg(1), err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		log.Warn("remove stale socket", "path", socketPath, "error", err)
	}

	lk, err := link.Open()
	if err != nil {
		log.Error("open raw link", "error", err)
		os.Exit(1)
	}
	defer lk.Close()

	d := mipd.New(byte(addr), socketPath, lk, log)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	log.Info("mipd starting", "mip_address", addr, "socket", socketPath)
	if err := d.Run(stop); err != nil {
		log.Error("mipd exited", "error", err)
		os.Exit(1)
	}
}
