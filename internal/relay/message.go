package relay

import (
	"encoding/json"
	"errors"
)

// ErrNotInRoom is logged when a connection sends signaling before joining.
var ErrNotInRoom = errors.New("client has not joined a room")

// Message is one websocket frame as seen by the hub. Data is never inspected
// except for join, whose payload is the room label.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client
}
