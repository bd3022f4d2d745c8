package mesh

import (
	"sort"
)

// Role is the side a participant plays in the negotiation with one peer.
type Role int

const (
	// RoleResponder answers the remote peer's offer.
	RoleResponder Role = iota
	// RoleInitiator creates the offer.
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Peer is the registry entry for one remote participant.
type Peer struct {
	ID          string
	DisplayName string
	Conn        Conn

	role Role
	// promoted is set when a responder offers to resolve simultaneous
	// discovery. The role itself never changes.
	promoted bool
	// negotiating is set once a description has been sent or applied.
	negotiating bool
}

// Role returns the negotiation role fixed when the entry was created.
func (p *Peer) Role() Role { return p.role }

// Offers reports whether this side creates the offer for the pair: it is the
// initiator, or a responder promoted by the tie-break.
func (p *Peer) Offers() bool { return p.role == RoleInitiator || p.promoted }

// Registry is the local participant's view of the room. It has a single
// owner, the session loop, and is not safe for concurrent use.
type Registry struct {
	peers map[string]*Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Upsert returns the entry for id, creating it with role when absent. An
// existing entry keeps its role and connection; only the display name is
// refreshed.
func (r *Registry) Upsert(id, displayName string, role Role) (*Peer, bool) {
	if p, ok := r.peers[id]; ok {
		p.DisplayName = displayName
		return p, false
	}
	p := &Peer{ID: id, DisplayName: displayName, role: role}
	r.peers[id] = p
	return p, true
}

func (r *Registry) Get(id string) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Remove deletes the entry for id and returns it.
func (r *Registry) Remove(id string) (*Peer, bool) {
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	return p, ok
}

// ForEach calls fn for every entry in identity order. fn may remove entries.
func (r *Registry) ForEach(fn func(p *Peer)) {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if p, ok := r.peers[id]; ok {
			fn(p)
		}
	}
}

func (r *Registry) Len() int {
	return len(r.peers)
}
