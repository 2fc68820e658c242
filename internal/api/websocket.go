package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// handleEventsWebSocket streams supervisor events as JSON text messages. The
// server closes the socket with a normal closure once the engine has exited.
func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so that no event published
	// after the client sees the upgrade is missed.
	ch, unsub := s.engine.Broker().Subscribe()
	defer unsub()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for websocket", "error", err)
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept", "error", err)
		return
	}
	defer c.CloseNow()

	// Clients only listen; CloseRead answers pings and notices their close.
	ctx := c.CloseRead(context.Background())

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "engine exited")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, c, ev)
			cancel()
			if err != nil {
				s.logger.Debug("websocket write", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
