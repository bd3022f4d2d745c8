package webrtc

import (
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/utils"
)

const eventBuffer = 64

// Conn is a pion peer connection exposing its callbacks as one event stream.
type Conn struct {
	pc      *pion.PeerConnection
	peerID  string
	events  *utils.EventSub[mesh.Event]
	control *pion.DataChannel
	log     *slog.Logger

	closeOnce sync.Once
	onClose   func(c *Conn)
}

func newConn(pc *pion.PeerConnection, peerID string, log *slog.Logger) *Conn {
	c := &Conn{
		pc:     pc,
		peerID: peerID,
		events: utils.NewEventSub[mesh.Event](eventBuffer),
		log:    log.With("peer", peerID),
	}

	pc.OnICECandidate(func(cand *pion.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		c.events.Push(&mesh.Event{Kind: mesh.EventCandidate, Candidate: &signaling.Candidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		}})
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		c.log.Debug("remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
		c.events.Push(&mesh.Event{Kind: mesh.EventTrack, Track: remoteTrack{track}})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s, ok := connState(state)
		if !ok {
			return
		}
		c.events.Push(&mesh.Event{Kind: mesh.EventState, State: s})
	})

	return c
}

func (c *Conn) CreateOffer() (signaling.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return signaling.Description{}, err
	}
	return fromPion(offer), nil
}

func (c *Conn) CreateAnswer() (signaling.Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.Description{}, err
	}
	return fromPion(answer), nil
}

func (c *Conn) SetLocalDescription(desc signaling.Description) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(d)
}

// LocalDescription returns the description as finalized by pion, including
// the candidates gathered so far.
func (c *Conn) LocalDescription() (signaling.Description, bool) {
	d := c.pc.LocalDescription()
	if d == nil {
		return signaling.Description{}, false
	}
	return fromPion(*d), true
}

func (c *Conn) SetRemoteDescription(desc signaling.Description) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(d)
}

func (c *Conn) AddICECandidate(cand signaling.Candidate) error {
	return c.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *Conn) Subscribe() <-chan *mesh.Event {
	return c.events.Subscribe()
}

// Close closes the peer connection and ends the event stream. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(c)
		}
		err = c.pc.Close()
		c.events.Close()
	})
	return err
}

// ConnectionState reports pion's aggregate connection state.
func (c *Conn) ConnectionState() pion.PeerConnectionState {
	return c.pc.ConnectionState()
}

func connState(s pion.PeerConnectionState) (mesh.ConnState, bool) {
	switch s {
	case pion.PeerConnectionStateNew:
		return mesh.ConnStateNew, true
	case pion.PeerConnectionStateConnecting:
		return mesh.ConnStateConnecting, true
	case pion.PeerConnectionStateConnected:
		return mesh.ConnStateConnected, true
	case pion.PeerConnectionStateDisconnected:
		return mesh.ConnStateDisconnected, true
	case pion.PeerConnectionStateFailed:
		return mesh.ConnStateFailed, true
	case pion.PeerConnectionStateClosed:
		return mesh.ConnStateClosed, true
	default:
		return 0, false
	}
}

func toPion(d signaling.Description) (pion.SessionDescription, error) {
	var t pion.SDPType
	switch d.Type {
	case signaling.SDPTypeOffer:
		t = pion.SDPTypeOffer
	case signaling.SDPTypeAnswer:
		t = pion.SDPTypeAnswer
	default:
		return pion.SessionDescription{}, fmt.Errorf("%w: sdp type %q", signaling.ErrInvalidMessage, d.Type)
	}
	return pion.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromPion(d pion.SessionDescription) signaling.Description {
	return signaling.Description{Type: d.Type.String(), SDP: d.SDP}
}

// remoteTrack exposes a pion remote track as a mesh.Track.
type remoteTrack struct {
	track *pion.TrackRemote
}

func (t remoteTrack) ID() string       { return t.track.ID() }
func (t remoteTrack) StreamID() string { return t.track.StreamID() }
func (t remoteTrack) Kind() string     { return t.track.Kind().String() }

func (t remoteTrack) Read(p []byte) (int, error) {
	n, _, err := t.track.Read(p)
	return n, err
}
