package mesh

import (
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// RolePolicy decides who offers when a pair of participants meet.
type RolePolicy int

const (
	// RolePolicyTieBreak assigns roles by arrival order and, when both sides
	// discovered each other from a broadcast, lets the lexicographically
	// smaller identity offer.
	RolePolicyTieBreak RolePolicy = iota
	// RolePolicyArrivalOrder assigns roles by arrival order only. A pair
	// that discovered each other simultaneously never negotiates.
	RolePolicyArrivalOrder
)

// Sender delivers a signaling message to the relay.
type Sender interface {
	Send(msg *signaling.Message) error
}

// MachineConfig wires a Machine to its collaborators.
type MachineConfig struct {
	LocalID     string
	DisplayName string
	Registry    *Registry
	Sender      Sender
	Factory     ConnFactory
	Presenter   Presenter
	Policy      RolePolicy
	Logger      *slog.Logger

	// OnPeer is called once for every entry that gets a connection.
	OnPeer func(p *Peer)
}

// Machine is the signaling state machine. Handle is its single transition
// function; it never touches the network directly, only through Sender and
// the peer connections.
type Machine struct {
	localID     string
	displayName string
	registry    *Registry
	sender      Sender
	factory     ConnFactory
	presenter   Presenter
	policy      RolePolicy
	log         *slog.Logger
	onPeer      func(p *Peer)
}

// NewMachine creates a state machine over cfg.Registry.
func NewMachine(cfg MachineConfig) *Machine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		localID:     cfg.LocalID,
		displayName: cfg.DisplayName,
		registry:    cfg.Registry,
		sender:      cfg.Sender,
		factory:     cfg.Factory,
		presenter:   cfg.Presenter,
		policy:      cfg.Policy,
		log:         log,
		onPeer:      cfg.OnPeer,
	}
}

// Accepts reports whether msg is addressed to this participant and did not
// come from it.
func (m *Machine) Accepts(msg *signaling.Message) bool {
	if msg.Source == m.localID {
		return false
	}
	return msg.Dest == signaling.DestAll || msg.Dest == m.localID
}

// Announce broadcasts this participant's presence to the room.
func (m *Machine) Announce() error {
	return m.send(signaling.DestAll, signaling.Presence{DisplayName: m.displayName})
}

// Handle applies one inbound relay message. Messages that are not addressed
// to this participant are ignored without any state change. A returned error
// is scoped to the sending peer.
func (m *Machine) Handle(msg *signaling.Message) error {
	if !m.Accepts(msg) {
		return nil
	}

	switch p := msg.Payload.(type) {
	case signaling.Presence:
		return m.handlePresence(msg.Source, msg.Dest, p)
	case signaling.Description:
		return m.handleDescription(msg.Source, p)
	case signaling.Candidate:
		return m.handleCandidate(msg.Source, p)
	default:
		m.log.Warn("message without payload", "peer", msg.Source)
		return nil
	}
}

func (m *Machine) handlePresence(from, dest string, p signaling.Presence) error {
	existing, known := m.registry.Get(from)

	if dest == signaling.DestAll {
		// The discoverer answers.
		if known {
			m.log.Debug("duplicate announcement", "peer", from)
			return nil
		}
		if _, err := m.register(from, p.DisplayName, RoleResponder); err != nil {
			return err
		}
		if err := m.send(from, signaling.Presence{DisplayName: m.displayName}); err != nil {
			return peerError("reply presence", from, err)
		}
		return nil
	}

	// Directed reply: the discovered side offers.
	if known {
		if m.glare(existing) {
			m.log.Info("resolving simultaneous discovery", "peer", from)
			existing.promoted = true
			return m.offer(existing)
		}
		m.log.Debug("duplicate presence reply", "peer", from)
		return nil
	}

	peer, err := m.register(from, p.DisplayName, RoleInitiator)
	if err != nil {
		return err
	}
	return m.offer(peer)
}

// glare reports whether a directed presence for a known peer means both sides
// registered each other as responder, and this side should offer.
func (m *Machine) glare(p *Peer) bool {
	return m.policy == RolePolicyTieBreak &&
		!p.Offers() &&
		!p.negotiating &&
		m.localID < p.ID
}

func (m *Machine) register(id, displayName string, role Role) (*Peer, error) {
	peer, created := m.registry.Upsert(id, displayName, role)
	if !created {
		return peer, nil
	}

	conn, err := m.factory.NewConn(id)
	if err != nil {
		m.registry.Remove(id)
		return nil, peerError("create connection", id, err)
	}
	peer.Conn = conn

	m.log.Info("peer registered", "peer", id, "name", displayName, "role", role)
	if m.onPeer != nil {
		m.onPeer(peer)
	}
	return peer, nil
}

func (m *Machine) offer(p *Peer) error {
	desc, err := p.Conn.CreateOffer()
	if err != nil {
		return peerError("create offer", p.ID, err)
	}
	return m.publishLocal(p, desc)
}

// publishLocal sets desc as the local description and sends the finalized
// description the connection reports back.
func (m *Machine) publishLocal(p *Peer, desc signaling.Description) error {
	p.negotiating = true
	if err := p.Conn.SetLocalDescription(desc); err != nil {
		return peerError("set local description", p.ID, err)
	}

	local, ok := p.Conn.LocalDescription()
	if !ok {
		return peerError("read local description", p.ID, ErrNoLocalDesc)
	}

	if err := m.send(p.ID, local); err != nil {
		return peerError("send "+local.Type, p.ID, err)
	}
	m.log.Debug("sent description", "peer", p.ID, "type", local.Type)
	return nil
}

func (m *Machine) handleDescription(from string, desc signaling.Description) error {
	p, ok := m.registry.Get(from)
	if !ok {
		return peerError("apply "+desc.Type, from, ErrUnknownPeer)
	}

	p.negotiating = true
	if err := p.Conn.SetRemoteDescription(desc); err != nil {
		return peerError("set remote description", from, err)
	}

	if !desc.IsOffer() {
		m.log.Debug("answer applied", "peer", from)
		return nil
	}

	answer, err := p.Conn.CreateAnswer()
	if err != nil {
		return peerError("create answer", from, err)
	}
	return m.publishLocal(p, answer)
}

func (m *Machine) handleCandidate(from string, c signaling.Candidate) error {
	p, ok := m.registry.Get(from)
	if !ok {
		return peerError("add candidate", from, ErrUnknownPeer)
	}
	if err := p.Conn.AddICECandidate(c); err != nil {
		return peerError("add candidate", from, err)
	}
	return nil
}

// OnConnEvent handles candidate and track events from a peer's connection.
// Events from a connection that no longer owns its entry are dropped.
func (m *Machine) OnConnEvent(peerID string, conn Conn, ev *Event) {
	p, ok := m.registry.Get(peerID)
	if !ok || p.Conn != conn {
		return
	}

	switch ev.Kind {
	case EventCandidate:
		if ev.Candidate == nil {
			return
		}
		if err := m.send(peerID, *ev.Candidate); err != nil {
			m.log.Warn("failed to send candidate", "peer", peerID, "err", err)
		}
	case EventTrack:
		if m.presenter != nil && ev.Track != nil {
			m.presenter.RenderStream(peerID, p.DisplayName, ev.Track)
		}
	}
}

func (m *Machine) send(dest string, payload signaling.Payload) error {
	return m.sender.Send(&signaling.Message{
		Source:  m.localID,
		Dest:    dest,
		Payload: payload,
	})
}
