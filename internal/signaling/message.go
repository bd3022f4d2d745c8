package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DestAll addresses a message to every participant in the room.
const DestAll = "all"

// Event names carried in the websocket envelope.
const (
	EventJoin         = "join"
	EventNotifyJoined = "notify-joined"
	EventSetupPeer    = "setup-peer"
	EventSDP          = "sdp"
	EventICE          = "ice"

	// EventMessage is the relay's rebroadcast of any of the above.
	EventMessage = "message"
)

var ErrInvalidMessage = errors.New("invalid signaling message")

// Envelope is the frame exchanged with the relay over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Payload is one of Presence, Description or Candidate.
type Payload interface {
	event(dest string) string
}

// Presence announces a participant and its display name.
type Presence struct {
	DisplayName string
}

func (Presence) event(dest string) string {
	if dest == DestAll {
		return EventNotifyJoined
	}
	return EventSetupPeer
}

// Description is a session description (offer or answer).
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

func (Description) event(string) string { return EventSDP }

// IsOffer reports whether the description is an offer.
func (d Description) IsOffer() bool { return d.Type == SDPTypeOffer }

// Candidate is a trickled network candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (Candidate) event(string) string { return EventICE }

// Message is a decoded signaling message. Exactly one payload variant is set.
type Message struct {
	Source  string
	Dest    string
	Payload Payload
}

// Event returns the relay event name this message is sent under.
func (m *Message) Event() string {
	return m.Payload.event(m.Dest)
}

// wireMessage is the JSON shape shared with browser participants.
type wireMessage struct {
	DisplayName *string      `json:"displayName,omitempty"`
	SDP         *Description `json:"sdp,omitempty"`
	ICE         *Candidate   `json:"ice,omitempty"`
	UUID        string       `json:"uuid"`
	Dest        string       `json:"dest"`
}

// Decode parses a relayed payload into a Message, rejecting anything that does
// not carry exactly one payload variant.
func Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if w.UUID == "" {
		return nil, fmt.Errorf("%w: missing uuid", ErrInvalidMessage)
	}
	if w.Dest == "" {
		return nil, fmt.Errorf("%w: missing dest", ErrInvalidMessage)
	}

	msg := &Message{Source: w.UUID, Dest: w.Dest}
	variants := 0
	if w.DisplayName != nil {
		variants++
		msg.Payload = Presence{DisplayName: *w.DisplayName}
	}
	if w.SDP != nil {
		variants++
		if w.SDP.Type != SDPTypeOffer && w.SDP.Type != SDPTypeAnswer {
			return nil, fmt.Errorf("%w: unsupported sdp type %q", ErrInvalidMessage, w.SDP.Type)
		}
		msg.Payload = *w.SDP
	}
	if w.ICE != nil {
		variants++
		msg.Payload = *w.ICE
	}

	if variants != 1 {
		return nil, fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidMessage, variants)
	}
	return msg, nil
}

// Encode renders a Message in the wire format.
func Encode(m *Message) ([]byte, error) {
	w := wireMessage{UUID: m.Source, Dest: m.Dest}
	switch p := m.Payload.(type) {
	case Presence:
		name := p.DisplayName
		w.DisplayName = &name
	case Description:
		w.SDP = &p
	case Candidate:
		w.ICE = &p
	default:
		return nil, fmt.Errorf("%w: no payload", ErrInvalidMessage)
	}
	return json.Marshal(w)
}

// NewEnvelope wraps an encoded message under its event name.
func NewEnvelope(m *Message) (*Envelope, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: m.Event(), Data: data}, nil
}

// JoinEnvelope builds the join request for a room.
func JoinEnvelope(room string) (*Envelope, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: EventJoin, Data: data}, nil
}
