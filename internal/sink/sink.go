// Package sink provides the output surfaces the Renderer presents frames to:
// a structured log, and a connection to an out-of-process compositor reached
// over TCP, a unix socket, AF_VSOCK, or a Firecracker vsock bridge.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ember/internal/task"
)

const (
	byeTimeout        = time.Second
	defaultAckTimeout = 10 * time.Second
)

var (
	// ErrRejected is returned when the compositor refuses a frame.
	ErrRejected = errors.New("frame rejected by compositor")

	// ErrClosed is returned by Present after Close.
	ErrClosed = errors.New("sink closed")
)

var frameItems = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "ember_sink_frame_items",
		Help:    "Number of display items per presented frame.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	},
)

func init() {
	prometheus.MustRegister(frameItems)
}

// Surface is a sink that holds resources until closed.
type Surface interface {
	task.Sink
	Close() error
}

// Open returns the surface t names. A "log" target needs no connection;
// every other network is dialed and greeted with the hello exchange.
func Open(ctx context.Context, t Target, fallback task.Size, logger *slog.Logger) (Surface, error) {
	if t.Network == NetworkLog {
		return NewLogSink(fallback, logger), nil
	}

	conn, err := Dial(ctx, t)
	if err != nil {
		return nil, err
	}

	// A compositor that accepts but never greets must not outlive ctx.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	cs, err := NewConnSink(conn, fallback, logger)
	if !stop() || err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("open %s: %w", t, ctxErr)
		}
		return nil, err
	}
	return cs, nil
}

// LogSink presents frames by logging a summary of each.
type LogSink struct {
	size   task.Size
	logger *slog.Logger
}

// NewLogSink creates a log sink with a fixed viewport.
func NewLogSink(size task.Size, logger *slog.Logger) *LogSink {
	return &LogSink{size: size, logger: logger}
}

// Viewport implements task.Sink.
func (s *LogSink) Viewport() task.Size { return s.size }

// Close implements Surface. It has nothing to release.
func (s *LogSink) Close() error { return nil }

// Present implements task.Sink.
func (s *LogSink) Present(f task.Frame) error {
	frameItems.Observe(float64(len(f.Items)))
	s.logger.Info("frame",
		"seq", f.Seq,
		"url", f.URL,
		"title", f.Title,
		"items", len(f.Items),
	)
	return nil
}

// ConnSink presents frames to a compositor over a connection. Each Present
// waits for the compositor's acknowledgment.
type ConnSink struct {
	conn       net.Conn
	size       task.Size
	logger     *slog.Logger
	ackTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConnSink performs the hello exchange on conn and returns a sink using
// the compositor's viewport. If the compositor reports no viewport, fallback
// is used.
func NewConnSink(conn net.Conn, fallback task.Size, logger *slog.Logger) (*ConnSink, error) {
	var hello Message
	if err := ReadMessage(conn, &hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != MsgHello {
		return nil, fmt.Errorf("expected %q message, got %q", MsgHello, hello.Type)
	}

	size := fallback
	if hello.Viewport != nil && hello.Viewport.Width > 0 && hello.Viewport.Height > 0 {
		size = *hello.Viewport
	}
	logger.Info("compositor connected",
		"remote", conn.RemoteAddr().String(),
		"viewport_width", size.Width,
		"viewport_height", size.Height,
	)
	return &ConnSink{conn: conn, size: size, logger: logger, ackTimeout: defaultAckTimeout}, nil
}

// SetAckTimeout bounds each Present round trip. Zero waits forever.
func (s *ConnSink) SetAckTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackTimeout = d
}

// Viewport implements task.Sink.
func (s *ConnSink) Viewport() task.Size { return s.size }

// Present implements task.Sink.
func (s *ConnSink) Present(f task.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	frameItems.Observe(float64(len(f.Items)))
	var deadline time.Time
	if s.ackTimeout > 0 {
		deadline = time.Now().Add(s.ackTimeout)
	}
	_ = s.conn.SetDeadline(deadline)

	if err := WriteMessage(s.conn, &Message{Type: MsgFrame, Frame: &f}); err != nil {
		s.breakLocked()
		return fmt.Errorf("send frame: %w", err)
	}

	var ack Message
	if err := ReadMessage(s.conn, &ack); err != nil {
		// A late ack would be read as the next frame's, so the link is done.
		s.breakLocked()
		return fmt.Errorf("read ack: %w", err)
	}
	switch {
	case ack.Type != MsgAck:
		return fmt.Errorf("expected %q message, got %q", MsgAck, ack.Type)
	case ack.Seq != f.Seq:
		return fmt.Errorf("ack for seq %d, want %d", ack.Seq, f.Seq)
	case ack.Error != "":
		return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	return nil
}

// breakLocked closes a connection that can no longer be trusted to stay in
// step. Later Presents return ErrClosed.
func (s *ConnSink) breakLocked() {
	s.closed = true
	_ = s.conn.Close()
}

// Close says goodbye to the compositor and closes the connection.
func (s *ConnSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.SetWriteDeadline(time.Now().Add(byeTimeout))
	if err := WriteMessage(s.conn, &Message{Type: MsgBye}); err != nil {
		s.logger.Debug("send bye", "error", err)
	}
	return s.conn.Close()
}
