package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrNoLocalDesc       = errors.New("local description not set")
	ErrMediaUnavailable  = errors.New("local media unavailable")
	ErrRelayClosed       = errors.New("relay connection closed")
	ErrAlreadyRunning    = errors.New("session already running")
	ErrIncompleteSession = errors.New("incomplete session config")
)

// PeerError is a failed negotiation step scoped to one remote participant.
type PeerError struct {
	Op   string
	Peer string
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func peerError(op, peer string, err error) *PeerError {
	return &PeerError{Op: op, Peer: peer, Err: err}
}
