// Command ember-compositor is a standalone frame receiver for ember. It
// listens for engine connections over TCP, a unix socket, or AF_VSOCK (the
// guest side of a Firecracker vsock bridge), announces its viewport and logs
// every frame it is sent.
//
// Build for a microVM guest with:
// CGO_ENABLED=0 GOOS=linux GOARCH=amd64 go build -o ember-compositor ./cmd/ember-compositor
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net"
	"os"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/ember/internal/compositor"
	"github.com/seantiz/ember/internal/config"
	"github.com/seantiz/ember/internal/sink"
	"github.com/seantiz/ember/internal/task"
)

func main() {
	cfg := config.Load()

	network := flag.String("network", sink.NetworkTCP, "listen network: tcp, unix or vsock")
	addr := flag.String("addr", "127.0.0.1:7070", "listen address for tcp, or socket path for unix")
	port := flag.Uint("port", uint(cfg.VsockPort), "vsock port")
	width := flag.Int("width", cfg.ViewportWidth, "viewport width announced to engines")
	height := flag.Int("height", cfg.ViewportHeight, "viewport height announced to engines")
	dump := flag.Bool("dump", false, "write each frame's display list to stdout as JSON")
	flag.Parse()

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	l, err := listen(*network, *addr, uint32(*port))
	if err != nil {
		log.Fatalf("listen on %s: %v", *network, err)
	}
	defer l.Close()

	enc := json.NewEncoder(os.Stdout)
	handler := func(f task.Frame) error {
		logger.Info("frame received",
			"seq", f.Seq,
			"url", f.URL,
			"title", f.Title,
			"items", len(f.Items),
		)
		if *dump {
			return enc.Encode(f)
		}
		return nil
	}

	logger.Info("ember-compositor listening", "network", *network, "addr", l.Addr().String())

	c := compositor.New(l, task.Size{Width: *width, Height: *height}, handler, logger)
	if err := c.Serve(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func listen(network, addr string, port uint32) (net.Listener, error) {
	switch network {
	case sink.NetworkVsock:
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, err
		}
		return l, nil
	case sink.NetworkUnix:
		// A stale socket from an earlier run would fail the bind.
		_ = os.Remove(addr)
		return net.Listen("unix", addr)
	default:
		return net.Listen("tcp", addr)
	}
}
