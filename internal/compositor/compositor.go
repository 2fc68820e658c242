// Package compositor implements the receiving end of a sink connection. It
// accepts engine connections, announces its viewport, and hands every frame
// it receives to a handler.
package compositor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/seantiz/ember/internal/sink"
	"github.com/seantiz/ember/internal/task"
)

// Handler consumes a frame. A returned error is reported back to the engine
// as a rejection.
type Handler func(task.Frame) error

// Compositor serves sink connections.
type Compositor struct {
	listener net.Listener
	viewport task.Size
	handler  Handler
	logger   *slog.Logger

	mu     sync.Mutex
	latest *task.Frame
	count  uint64
}

// New creates a compositor that accepts connections on listener. A nil
// handler accepts every frame.
func New(listener net.Listener, viewport task.Size, handler Handler, logger *slog.Logger) *Compositor {
	if handler == nil {
		handler = func(task.Frame) error { return nil }
	}
	return &Compositor{
		listener: listener,
		viewport: viewport,
		handler:  handler,
		logger:   logger,
	}
}

// Serve accepts connections and handles frames. It blocks until the listener
// is closed or an unrecoverable error occurs.
func (c *Compositor) Serve() error {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go c.HandleConn(conn)
	}
}

// Latest returns the most recently accepted frame.
func (c *Compositor) Latest() (task.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return task.Frame{}, false
	}
	return *c.latest, true
}

// Count returns how many frames have been accepted.
func (c *Compositor) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// HandleConn serves one engine connection until it says goodbye or fails.
func (c *Compositor) HandleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	viewport := c.viewport
	if err := sink.WriteMessage(conn, &sink.Message{Type: sink.MsgHello, Viewport: &viewport}); err != nil {
		c.logger.Warn("send hello", "remote", remote, "error", err)
		return
	}
	c.logger.Info("engine connected", "remote", remote)

	for {
		var msg sink.Message
		if err := sink.ReadMessage(conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("read message", "remote", remote, "error", err)
			}
			return
		}

		switch msg.Type {
		case sink.MsgFrame:
			ack := c.accept(msg.Frame)
			if err := sink.WriteMessage(conn, &ack); err != nil {
				c.logger.Warn("send ack", "remote", remote, "error", err)
				return
			}
		case sink.MsgBye:
			c.logger.Info("engine disconnected", "remote", remote)
			return
		default:
			c.logger.Warn("unknown message type", "remote", remote, "type", msg.Type)
			return
		}
	}
}

func (c *Compositor) accept(f *task.Frame) sink.Message {
	if f == nil {
		return sink.Message{Type: sink.MsgAck, Error: "frame message without frame"}
	}
	ack := sink.Message{Type: sink.MsgAck, Seq: f.Seq}
	if err := c.handler(*f); err != nil {
		ack.Error = err.Error()
		return ack
	}

	c.mu.Lock()
	c.latest = f
	c.count++
	c.mu.Unlock()
	return ack
}
