// Package feed implements the board's push feed: a msgpack frame
// envelope, a Hub fanning frames out to subscribers over per-subscriber
// buffered queues, and a reconnecting WebSocket client. Display clients
// subscribe instead of polling; a lost connection comes back by itself.
package feed

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameType identifies the frame category.
type FrameType string

const (
	// FrameHello greets a new subscriber with server identity.
	FrameHello FrameType = "hello"

	// FrameSnapshot carries the full masked board state.
	FrameSnapshot FrameType = "snapshot"

	// FrameUpdate carries one changed row.
	FrameUpdate FrameType = "update"

	// FrameAnnounce reports an announcement that fired.
	FrameAnnounce FrameType = "announce"

	// FramePing and FramePong keep idle connections warm.
	FramePing FrameType = "ping"
	FramePong FrameType = "pong"
)

// Frame is the feed envelope. Every message on the wire is one Frame,
// msgpack-encoded. Seq is stamped by the Hub and increases monotonically,
// so a client that observes a gap knows to request a fresh snapshot.
type Frame struct {
	Type      FrameType          `msgpack:"type" json:"type"`
	Seq       uint64             `msgpack:"seq" json:"seq"`
	Subject   string             `msgpack:"subject,omitempty" json:"subject,omitempty"`
	Data      msgpack.RawMessage `msgpack:"data,omitempty" json:"data,omitempty"`
	Timestamp time.Time          `msgpack:"ts" json:"ts"`
}

// HelloData is the payload of a hello frame.
type HelloData struct {
	Server string    `msgpack:"server" json:"server"`
	Time   time.Time `msgpack:"time" json:"time"`
}

// SnapshotData is the payload of a snapshot frame.
type SnapshotData struct {
	Rows []map[string]any `msgpack:"rows" json:"rows"`
}

// UpdateData is the payload of an update frame.
type UpdateData struct {
	Action string         `msgpack:"action" json:"action"`
	Row    map[string]any `msgpack:"row" json:"row"`
}

// AnnounceData is the payload of an announce frame.
type AnnounceData struct {
	Subject string   `msgpack:"subject" json:"subject"`
	Lines   []string `msgpack:"lines" json:"lines"`
}

// NewFrame builds a frame of type t for subject, marshaling data into
// the envelope. A nil data leaves the payload empty.
func NewFrame(t FrameType, subject string, data any) (*Frame, error) {
	f := &Frame{
		Type:      t,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := msgpack.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("feed: marshal %s payload: %w", t, err)
		}
		f.Data = raw
	}
	return f, nil
}

// Encode serializes the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return msgpack.Marshal(f)
}

// DecodeFrame parses one wire message.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("feed: decode frame: %w", err)
	}
	return &f, nil
}

// DecodeData unmarshals the frame payload into v.
func (f *Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("feed: %s frame has no payload", f.Type)
	}
	if err := msgpack.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("feed: decode %s payload: %w", f.Type, err)
	}
	return nil
}
