package ui

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// stateNegotiating labels a participant without a connection state yet.
const stateNegotiating = "negotiating"

// participant is what the room view knows about one remote participant.
type participant struct {
	id   string
	name string

	role     string
	state    mesh.ConnState
	hasState bool
	rendered bool
	tracks   int

	mediaKnown   bool
	audio, video bool

	received  atomic.Uint64
	lastBytes uint64
	rate      float64
}

// ParticipantRow is one rendered line of the participants table.
type ParticipantRow struct {
	ID       string
	Name     string
	State    string
	Role     string
	Media    string
	Rate     float64
	Received uint64
	Rendered bool
}

// roster is shared between the session goroutine, which reports streams and
// states, and the UI goroutine, which renders them.
type roster struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*participant
	// epoch changes on every removal so that a registry snapshot taken
	// before the removal cannot bring the entry back.
	epoch uint64
	// bufSize is the read buffer used to drain a remote track.
	bufSize int
}

func newRoster() *roster {
	return &roster{
		byID:    make(map[string]*participant),
		bufSize: 1500,
	}
}

// ensure returns the entry for id, creating it. Callers hold mu.
func (r *roster) ensure(id, name string) *participant {
	p, ok := r.byID[id]
	if !ok {
		p = &participant{id: id, name: name}
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	if name != "" {
		p.name = name
	}
	return p
}

// render records a remote track and drains it so the connection keeps
// flowing. One rendering exists per identity however many tracks arrive.
func (r *roster) render(id, name string, track mesh.Track) {
	r.mu.Lock()
	p := r.ensure(id, name)
	p.rendered = true
	p.tracks++
	r.mu.Unlock()

	if track != nil {
		go r.drain(p, track)
	}
}

func (r *roster) drain(p *participant, track mesh.Track) {
	buf := make([]byte, r.bufSize)
	for {
		n, err := track.Read(buf)
		if err != nil {
			return
		}
		p.received.Add(uint64(n))
	}
}

func (r *roster) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.epoch++
}

func (r *roster) setState(id, name string, state mesh.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.Terminal() {
		if p, ok := r.byID[id]; ok {
			p.state, p.hasState = state, true
		}
		return
	}
	p := r.ensure(id, name)
	p.state, p.hasState = state, true
}

func (r *roster) setMedia(id string, audio, video bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.mediaKnown, p.audio, p.video = true, audio, video
	}
}

func (r *roster) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// sync merges a registry snapshot taken at epoch. Pending participants,
// known to the registry but without a connection state yet, are added only
// when no removal happened since the snapshot was requested.
func (r *roster) sync(epoch uint64, peers []mesh.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range peers {
		p, ok := r.byID[info.ID]
		if !ok {
			if epoch != r.epoch {
				continue
			}
			p = r.ensure(info.ID, info.DisplayName)
		}
		p.role = roleLabel(info)
	}
}

// sample updates the receive rates over the elapsed interval.
func (r *roster) sample(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		total := p.received.Load()
		p.rate = float64(total-p.lastBytes) / elapsed.Seconds()
		p.lastBytes = total
	}
}

func (r *roster) rows() []ParticipantRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]ParticipantRow, 0, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		row := ParticipantRow{
			ID:       p.id,
			Name:     p.name,
			State:    stateNegotiating,
			Role:     p.role,
			Media:    "-",
			Rate:     p.rate,
			Received: p.received.Load(),
			Rendered: p.rendered,
		}
		if p.hasState {
			row.State = p.state.String()
		}
		if p.mediaKnown {
			row.Media = mediaLabel(p.audio, p.video)
		}
		rows = append(rows, row)
	}
	return rows
}

// roleLabel marks a responder that offers after a simultaneous discovery.
func roleLabel(info mesh.PeerInfo) string {
	if info.Offers && info.Role != mesh.RoleInitiator {
		return info.Role.String() + " (offers)"
	}
	return info.Role.String()
}

func mediaLabel(audio, video bool) string {
	mic, cam := IconMic, IconCamera
	if !audio {
		mic = IconMuted
	}
	if !video {
		cam = "off"
	}
	return mic + " " + cam
}
