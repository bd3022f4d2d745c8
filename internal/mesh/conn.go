package mesh

import (
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// ConnState is the aggregate connectivity state of a peer connection.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the registry entry owning a connection in this
// state must be torn down.
func (s ConnState) Terminal() bool {
	return s == ConnStateDisconnected || s == ConnStateFailed || s == ConnStateClosed
}

type EventKind int

const (
	EventCandidate EventKind = iota
	EventTrack
	EventState
)

// Event is one entry on a connection's event stream. Only the field matching
// Kind is set.
type Event struct {
	Kind      EventKind
	Candidate *signaling.Candidate
	Track     Track
	State     ConnState
}

// Track is a remote media track delivered by a connection.
type Track interface {
	ID() string
	StreamID() string
	Kind() string
	// Read reads the next RTP packet into p.
	Read(p []byte) (int, error)
}

// Conn is the negotiated transport handle for one remote participant.
type Conn interface {
	CreateOffer() (signaling.Description, error)
	CreateAnswer() (signaling.Description, error)
	SetLocalDescription(desc signaling.Description) error
	// LocalDescription returns the finalized local description, which may
	// differ from the one passed to SetLocalDescription.
	LocalDescription() (signaling.Description, bool)
	SetRemoteDescription(desc signaling.Description) error
	AddICECandidate(c signaling.Candidate) error

	// Subscribe returns a new listener on the connection's event stream.
	// The channel is closed when the connection is closed.
	Subscribe() <-chan *Event

	Close() error
}

// ConnFactory creates connections with the local media already attached.
type ConnFactory interface {
	NewConn(peerID string) (Conn, error)
}

// Transport is the session's link to the relay.
type Transport interface {
	Join(room string) error
	Send(msg *signaling.Message) error
	Incoming() <-chan *signaling.Message
	Close() error
}

// Presenter renders remote streams keyed by participant identity.
// RenderStream is called once per remote track; implementations keep one
// rendering per identity.
type Presenter interface {
	RenderStream(peerID, displayName string, track Track)
	RemoveStream(peerID string)
}

// StateObserver is optionally implemented by a Presenter that wants every
// connection state change.
type StateObserver interface {
	PeerStateChanged(peerID, displayName string, state ConnState)
}
