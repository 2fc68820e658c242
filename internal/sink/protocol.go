package sink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/ember/internal/task"
)

// MaxMessageSize is the maximum allowed frame message payload (16 MiB).
const MaxMessageSize = 16 << 20

// Message types exchanged between the engine and a compositor.
const (
	// MsgHello is sent by the compositor when a connection opens. It carries
	// the compositor's viewport.
	MsgHello = "hello"
	// MsgFrame carries one frame from the engine.
	MsgFrame = "frame"
	// MsgAck answers a frame. Error is set when the compositor rejected it.
	MsgAck = "ack"
	// MsgBye is sent by the engine before it closes the connection.
	MsgBye = "bye"
)

// Message is the envelope for every message on a compositor connection.
type Message struct {
	Type     string      `json:"type"`
	Viewport *task.Size  `json:"viewport,omitempty"`
	Frame    *task.Frame `json:"frame,omitempty"`
	Seq      uint64      `json:"seq,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// One write keeps the prefix and payload together on the wire.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
