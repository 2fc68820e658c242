package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

// Networks accepted by Open. Dial accepts all but NetworkLog.
const (
	NetworkLog         = "log"
	NetworkTCP         = "tcp"
	NetworkUnix        = "unix"
	NetworkVsock       = "vsock"
	NetworkFirecracker = "firecracker"
)

// Retry defaults for compositor connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// Target names a compositor endpoint.
type Target struct {
	// Network is one of the Network constants.
	Network string
	// Address is a host:port for tcp, or a socket path for unix and
	// firecracker.
	Address string
	// CID and Port address an AF_VSOCK listener. Port is also the guest
	// port requested through a firecracker vsock bridge.
	CID  uint32
	Port uint32
}

func (t Target) String() string {
	switch t.Network {
	case NetworkVsock:
		return fmt.Sprintf("vsock://%d:%d", t.CID, t.Port)
	case NetworkFirecracker:
		return fmt.Sprintf("firecracker://%s:%d", t.Address, t.Port)
	}
	return t.Network + "://" + t.Address
}

// Dial connects to a compositor, retrying with exponential backoff on
// connection failure.
func Dial(ctx context.Context, t Target) (net.Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", t, ctx.Err())
		default:
		}

		conn, err := dialOnce(ctx, t)
		if err != nil {
			lastErr = err
			if attempt < dialMaxRetries-1 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("dial %s: %w", t, ctx.Err())
				}
				backoff *= 2
			}
			continue
		}
		return conn, nil
	}

	return nil, fmt.Errorf("dial %s after %d attempts: %w", t, dialMaxRetries, lastErr)
}

func dialOnce(ctx context.Context, t Target) (net.Conn, error) {
	switch t.Network {
	case NetworkTCP, NetworkUnix:
		var d net.Dialer
		return d.DialContext(ctx, t.Network, t.Address)
	case NetworkVsock:
		conn, err := vsock.Dial(t.CID, t.Port, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case NetworkFirecracker:
		return dialFirecracker(ctx, t.Address, t.Port)
	}
	return nil, fmt.Errorf("unsupported network %q", t.Network)
}

// dialFirecracker connects to Firecracker's vsock UDS and sends the CONNECT
// handshake. Firecracker bridges the connection to the guest's vsock
// listener. Protocol: send "CONNECT <port>\n", receive "OK <host_port>\n".
func dialFirecracker(ctx context.Context, udsPath string, port uint32) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", udsPath)
	if err != nil {
		return nil, fmt.Errorf("connect to UDS %s: %w", udsPath, err)
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	// The buffered reader may read past the handshake line, so every later
	// read goes through it.
	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}

	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "OK ") {
		conn.Close()
		return nil, fmt.Errorf("vsock CONNECT failed: %s", response)
	}

	return &bufferedConn{Conn: conn, r: reader}, nil
}

// bufferedConn is a net.Conn whose reads drain a bufio.Reader first.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
