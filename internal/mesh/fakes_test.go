package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/utils"
)

// fakeNet pairs fake connections by identity so that two sessions can
// "connect" once both sides have applied a local and a remote description.
type fakeNet struct {
	mu    sync.Mutex
	conns map[[2]string]*fakeConn
}

func newFakeNet() *fakeNet {
	return &fakeNet{conns: make(map[[2]string]*fakeConn)}
}

func (n *fakeNet) partner(c *fakeConn) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[[2]string{c.remote, c.local}]
}

func (n *fakeNet) add(c *fakeConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns[[2]string{c.local, c.remote}] = c
}

type fakeFactory struct {
	local string
	net   *fakeNet

	mu      sync.Mutex
	created map[string]int
	conns   []*fakeConn
	err     error
}

func newFakeFactory(local string, net *fakeNet) *fakeFactory {
	return &fakeFactory{local: local, net: net, created: make(map[string]int)}
}

func (f *fakeFactory) NewConn(peerID string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created[peerID]++
	c := &fakeConn{
		local:  f.local,
		remote: peerID,
		net:    f.net,
		events: utils.NewEventSub[Event](32),
	}
	f.conns = append(f.conns, c)
	if f.net != nil {
		f.net.add(c)
	}
	return c, nil
}

func (f *fakeFactory) count(peerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[peerID]
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeConn struct {
	local, remote string
	net           *fakeNet
	events        *utils.EventSub[Event]

	mu         sync.Mutex
	offers     int
	answers    int
	localDesc  *signaling.Description
	remoteDesc *signaling.Description
	candidates []signaling.Candidate
	connected  bool
	closed     bool
	closeCalls int

	remoteErr error
	iceErr    error
}

func (c *fakeConn) CreateOffer() (signaling.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return signaling.Description{Type: signaling.SDPTypeOffer, SDP: "offer from " + c.local}, nil
}

func (c *fakeConn) CreateAnswer() (signaling.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return signaling.Description{}, errors.New("no remote offer")
	}
	c.answers++
	return signaling.Description{Type: signaling.SDPTypeAnswer, SDP: "answer from " + c.local}, nil
}

func (c *fakeConn) SetLocalDescription(desc signaling.Description) error {
	c.mu.Lock()
	c.localDesc = &desc
	c.mu.Unlock()

	mid := "0"
	c.events.Push(&Event{Kind: EventCandidate, Candidate: &signaling.Candidate{
		Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host from " + c.local,
		SDPMid:    &mid,
	}})
	c.maybeConnect()
	return nil
}

// LocalDescription reports a finalized description that differs from the
// one that was set, the way a real transport appends gathered attributes.
func (c *fakeConn) LocalDescription() (signaling.Description, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localDesc == nil {
		return signaling.Description{}, false
	}
	d := *c.localDesc
	d.SDP += "\na=finalized"
	return d, true
}

func (c *fakeConn) SetRemoteDescription(desc signaling.Description) error {
	c.mu.Lock()
	if c.remoteErr != nil {
		err := c.remoteErr
		c.mu.Unlock()
		return err
	}
	c.remoteDesc = &desc
	c.mu.Unlock()

	c.maybeConnect()
	return nil
}

func (c *fakeConn) AddICECandidate(cand signaling.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iceErr != nil {
		return c.iceErr
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) Subscribe() <-chan *Event {
	return c.events.Subscribe()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.events.Push(&Event{Kind: EventState, State: ConnStateClosed})
	c.events.Close()

	if c.net != nil {
		if p := c.net.partner(c); p != nil {
			p.emitState(ConnStateDisconnected)
			p.emitState(ConnStateFailed)
		}
	}
	return nil
}

func (c *fakeConn) emitState(s ConnState) {
	c.events.Push(&Event{Kind: EventState, State: s})
}

func (c *fakeConn) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDesc != nil && c.remoteDesc != nil && !c.closed
}

func (c *fakeConn) markConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return false
	}
	c.connected = true
	return true
}

func (c *fakeConn) maybeConnect() {
	if c.net == nil || !c.ready() {
		return
	}
	p := c.net.partner(c)
	if p == nil || !p.ready() {
		return
	}
	for _, conn := range []*fakeConn{c, p} {
		if conn.markConnected() {
			conn.emitState(ConnStateConnecting)
			conn.emitState(ConnStateConnected)
			conn.events.Push(&Event{Kind: EventTrack, Track: fakeTrack{id: "video-" + conn.remote}})
		}
	}
}

func (c *fakeConn) snapshot() (offers, answers int, local, remote *signaling.Description, candidates int, closeCalls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.answers, c.localDesc, c.remoteDesc, len(c.candidates), c.closeCalls
}

type fakeTrack struct{ id string }

func (t fakeTrack) ID() string               { return t.id }
func (t fakeTrack) StreamID() string         { return "stream-" + t.id }
func (t fakeTrack) Kind() string             { return "video" }
func (t fakeTrack) Read([]byte) (int, error) { return 0, errors.New("fake track") }

type fakeSender struct {
	mu   sync.Mutex
	sent []*signaling.Message
	err  error
}

func (s *fakeSender) Send(msg *signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) messages() []*signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*signaling.Message(nil), s.sent...)
}

type fakePresenter struct {
	mu      sync.Mutex
	renders map[string]int
	removes map[string]int
	states  map[string][]ConnState
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		renders: make(map[string]int),
		removes: make(map[string]int),
		states:  make(map[string][]ConnState),
	}
}

func (p *fakePresenter) RenderStream(peerID, _ string, _ Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders[peerID]++
}

func (p *fakePresenter) RemoveStream(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removes[peerID]++
}

func (p *fakePresenter) PeerStateChanged(peerID, _ string, state ConnState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[peerID] = append(p.states[peerID], state)
}

func (p *fakePresenter) removed(peerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removes[peerID]
}

func (p *fakePresenter) rendered(peerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renders[peerID]
}

// memRelay is an in-memory relay with the same semantics as the websocket
// hub: rooms, verbatim rebroadcast to every member including the sender, and
// per-sender ordering.
type memRelay struct {
	mu      sync.Mutex
	rooms   map[string]map[*memTransport]struct{}
	members map[*memTransport]string
	log     []*signaling.Message
}

func newMemRelay() *memRelay {
	return &memRelay{
		rooms:   make(map[string]map[*memTransport]struct{}),
		members: make(map[*memTransport]string),
	}
}

func (r *memRelay) connect() *memTransport {
	return &memTransport{relay: r, incoming: make(chan *signaling.Message, 1024)}
}

func (r *memRelay) join(t *memTransport, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.members[t]; ok {
		delete(r.rooms[old], t)
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*memTransport]struct{})
	}
	r.rooms[room][t] = struct{}{}
	r.members[t] = room
}

func (r *memRelay) roomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

func (r *memRelay) broadcast(from *memTransport, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[from]
	if !ok {
		return fmt.Errorf("not in a room")
	}
	msg, err := signaling.Decode(data)
	if err != nil {
		return err
	}
	r.log = append(r.log, msg)

	for t := range r.rooms[room] {
		m, err := signaling.Decode(data)
		if err != nil {
			return err
		}
		t.deliver(m)
	}
	return nil
}

func (r *memRelay) leave(t *memTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.members[t]; ok {
		delete(r.rooms[room], t)
		delete(r.members, t)
	}
}

// descriptions counts relayed descriptions of sdpType from one identity to
// another.
func (r *memRelay) descriptions(sdpType, from, to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.log {
		if d, ok := m.Payload.(signaling.Description); ok && d.Type == sdpType && m.Source == from && m.Dest == to {
			n++
		}
	}
	return n
}

func (r *memRelay) totalDescriptions(sdpType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.log {
		if d, ok := m.Payload.(signaling.Description); ok && d.Type == sdpType {
			n++
		}
	}
	return n
}

type memTransport struct {
	relay    *memRelay
	incoming chan *signaling.Message

	mu     sync.Mutex
	closed bool
}

func (t *memTransport) Join(room string) error {
	t.relay.join(t, room)
	return nil
}

func (t *memTransport) Send(msg *signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return t.relay.broadcast(t, data)
}

func (t *memTransport) Incoming() <-chan *signaling.Message {
	return t.incoming
}

func (t *memTransport) deliver(m *signaling.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.incoming <- m
	}
}

func (t *memTransport) Close() error {
	t.relay.leave(t)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.incoming)
	}
	return nil
}

type fakeMedia struct {
	mu     sync.Mutex
	closed int
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
