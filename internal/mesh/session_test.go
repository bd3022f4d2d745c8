package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type participant struct {
	id        string
	session   *Session
	transport *memTransport
	factory   *fakeFactory
	presenter *fakePresenter
	media     *fakeMedia
	errc      chan error
	cancel    context.CancelFunc
}

func newParticipant(t *testing.T, relay *memRelay, net *fakeNet, id, room string, policy RolePolicy) *participant {
	t.Helper()
	p := &participant{
		id:        id,
		transport: relay.connect(),
		factory:   newFakeFactory(id, net),
		presenter: newFakePresenter(),
		media:     &fakeMedia{},
		errc:      make(chan error, 1),
	}
	s, err := NewSession(SessionConfig{
		LocalID:     id,
		DisplayName: "name-" + id,
		Room:        room,
		Transport:   p.transport,
		Factory:     p.factory,
		Presenter:   p.presenter,
		Media:       p.media,
		Policy:      policy,
	})
	require.NoError(t, err)
	p.session = s
	return p
}

func (p *participant) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() { p.errc <- p.session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		p.session.Leave()
	})
}

func (p *participant) peerIDs() []string {
	var ids []string
	for _, info := range p.session.Peers() {
		ids = append(ids, info.ID)
	}
	return ids
}

// joinAfterAnnounce starts p and waits until its broadcast presence has gone
// through the relay, so that roles are decided by arrival order.
func joinAfterAnnounce(t *testing.T, relay *memRelay, p *participant) {
	t.Helper()
	p.start(t)
	require.Eventually(t, func() bool { return relay.announced(p.id) }, waitFor, tick)
}

func (r *memRelay) announced(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.log {
		if _, ok := m.Payload.(signaling.Presence); ok && m.Source == id && m.Dest == signaling.DestAll {
			return true
		}
	}
	return false
}

func TestSession_TwoParticipants(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	alice := newParticipant(t, relay, net, "alice", "room1", RolePolicyTieBreak)
	bob := newParticipant(t, relay, net, "bob", "room1", RolePolicyTieBreak)

	joinAfterAnnounce(t, relay, alice)
	joinAfterAnnounce(t, relay, bob)

	require.Eventually(t, func() bool {
		return alice.presenter.rendered("bob") == 1 && bob.presenter.rendered("alice") == 1
	}, waitFor, tick)

	assert.Equal(t, 1, relay.descriptions(signaling.SDPTypeOffer, "bob", "alice"))
	assert.Equal(t, 1, relay.descriptions(signaling.SDPTypeAnswer, "alice", "bob"))
	assert.Equal(t, 1, relay.totalDescriptions(signaling.SDPTypeOffer))
	assert.Equal(t, 1, relay.totalDescriptions(signaling.SDPTypeAnswer))

	alicePeers := alice.session.Peers()
	require.Len(t, alicePeers, 1)
	assert.Equal(t, PeerInfo{ID: "bob", DisplayName: "name-bob", Role: RoleResponder}, alicePeers[0])

	bobPeers := bob.session.Peers()
	require.Len(t, bobPeers, 1)
	assert.Equal(t, PeerInfo{ID: "alice", DisplayName: "name-alice", Role: RoleInitiator, Offers: true}, bobPeers[0])

	assert.Equal(t, 1, alice.factory.count("bob"))
	assert.Equal(t, 1, bob.factory.count("alice"))
}

func TestSession_CandidatesAreExchanged(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	alice := newParticipant(t, relay, net, "alice", "room1", RolePolicyTieBreak)
	bob := newParticipant(t, relay, net, "bob", "room1", RolePolicyTieBreak)

	joinAfterAnnounce(t, relay, alice)
	joinAfterAnnounce(t, relay, bob)

	require.Eventually(t, func() bool {
		toBob, toAlice := alice.factory.last(), bob.factory.last()
		if toBob == nil || toAlice == nil {
			return false
		}
		_, _, _, _, atAlice, _ := toBob.snapshot()
		_, _, _, _, atBob, _ := toAlice.snapshot()
		return atAlice == 1 && atBob == 1
	}, waitFor, tick)
}

func TestSession_ThreeParticipantsFullMesh(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	ids := []string{"alice", "bob", "carol"}
	var all []*participant
	for _, id := range ids {
		p := newParticipant(t, relay, net, id, "room1", RolePolicyTieBreak)
		joinAfterAnnounce(t, relay, p)
		all = append(all, p)
	}

	require.Eventually(t, func() bool {
		for _, p := range all {
			for _, other := range ids {
				if other != p.id && p.presenter.rendered(other) != 1 {
					return false
				}
			}
		}
		return true
	}, waitFor, tick)

	for _, p := range all {
		assert.Len(t, p.peerIDs(), 2, "%s sees both others", p.id)
		assert.NotContains(t, p.peerIDs(), p.id)
	}

	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			offers := relay.descriptions(signaling.SDPTypeOffer, a, b) + relay.descriptions(signaling.SDPTypeOffer, b, a)
			answers := relay.descriptions(signaling.SDPTypeAnswer, a, b) + relay.descriptions(signaling.SDPTypeAnswer, b, a)
			assert.Equal(t, 1, offers, "offers between %s and %s", a, b)
			assert.Equal(t, 1, answers, "answers between %s and %s", a, b)
		}
	}
	assert.Equal(t, 3, relay.totalDescriptions(signaling.SDPTypeOffer))
}

func TestSession_SimultaneousJoinTieBreak(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	a := newParticipant(t, relay, net, "a-peer", "room1", RolePolicyTieBreak)
	b := newParticipant(t, relay, net, "b-peer", "room1", RolePolicyTieBreak)

	// Both are in the room before either announces.
	require.NoError(t, a.transport.Join("room1"))
	require.NoError(t, b.transport.Join("room1"))
	a.start(t)
	b.start(t)

	require.Eventually(t, func() bool {
		return a.presenter.rendered("b-peer") == 1 && b.presenter.rendered("a-peer") == 1
	}, waitFor, tick)

	assert.Equal(t, 1, relay.descriptions(signaling.SDPTypeOffer, "a-peer", "b-peer"))
	assert.Zero(t, relay.descriptions(signaling.SDPTypeOffer, "b-peer", "a-peer"))
	assert.Equal(t, 1, relay.descriptions(signaling.SDPTypeAnswer, "b-peer", "a-peer"))

	aPeers := a.session.Peers()
	require.Len(t, aPeers, 1)
	assert.Equal(t, RoleResponder, aPeers[0].Role)
	assert.True(t, aPeers[0].Offers)
	bPeers := b.session.Peers()
	require.Len(t, bPeers, 1)
	assert.False(t, bPeers[0].Offers)
}

func TestSession_SimultaneousJoinArrivalOrder(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	a := newParticipant(t, relay, net, "a-peer", "room1", RolePolicyArrivalOrder)
	b := newParticipant(t, relay, net, "b-peer", "room1", RolePolicyArrivalOrder)

	require.NoError(t, a.transport.Join("room1"))
	require.NoError(t, b.transport.Join("room1"))
	a.start(t)
	b.start(t)

	require.Eventually(t, func() bool {
		return len(a.peerIDs()) == 1 && len(b.peerIDs()) == 1
	}, waitFor, tick)

	assert.Never(t, func() bool {
		return relay.totalDescriptions(signaling.SDPTypeOffer) > 0
	}, 100*time.Millisecond, tick)
	assert.Equal(t, RoleResponder, a.session.Peers()[0].Role)
	assert.Equal(t, RoleResponder, b.session.Peers()[0].Role)
	assert.False(t, a.session.Peers()[0].Offers)
}

func TestSession_LeaveTearsDown(t *testing.T) {
	relay, net := newMemRelay(), newFakeNet()
	alice := newParticipant(t, relay, net, "alice", "room1", RolePolicyTieBreak)
	bob := newParticipant(t, relay, net, "bob", "room1", RolePolicyTieBreak)

	joinAfterAnnounce(t, relay, alice)
	joinAfterAnnounce(t, relay, bob)
	require.Eventually(t, func() bool {
		return alice.presenter.rendered("bob") == 1 && bob.presenter.rendered("alice") == 1
	}, waitFor, tick)

	bob.session.Leave()

	select {
	case err := <-bob.errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Leave")
	}
	assert.Equal(t, 1, bob.presenter.removed("alice"))
	assert.Equal(t, 1, bob.media.closeCount())
	_, _, _, _, _, closes := bob.factory.last().snapshot()
	assert.Equal(t, 1, closes)
	assert.Nil(t, bob.session.Peers())
	assert.Equal(t, 1, relay.roomSize("room1"))

	require.Eventually(t, func() bool {
		return len(alice.peerIDs()) == 0
	}, waitFor, tick)
	assert.Never(t, func() bool {
		return alice.presenter.removed("bob") != 1
	}, 100*time.Millisecond, tick)

	// Leaving again is a no-op.
	bob.session.Leave()
	assert.Equal(t, 1, bob.media.closeCount())
}

func TestSession_RelayClosed(t *testing.T) {
	relay := newMemRelay()
	alice := newParticipant(t, relay, nil, "alice", "room1", RolePolicyTieBreak)
	joinAfterAnnounce(t, relay, alice)

	require.NoError(t, alice.transport.Close())

	select {
	case err := <-alice.errc:
		assert.ErrorIs(t, err, ErrRelayClosed)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after the relay closed")
	}
	assert.Equal(t, 1, alice.media.closeCount())
}

func TestSession_ContextCancel(t *testing.T) {
	relay := newMemRelay()
	alice := newParticipant(t, relay, nil, "alice", "room1", RolePolicyTieBreak)
	joinAfterAnnounce(t, relay, alice)

	alice.cancel()

	select {
	case err := <-alice.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	<-alice.session.Done()
}

func TestSession_RunTwice(t *testing.T) {
	relay := newMemRelay()
	alice := newParticipant(t, relay, nil, "alice", "room1", RolePolicyTieBreak)
	joinAfterAnnounce(t, relay, alice)

	err := alice.session.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSession_LeaveBeforeRun(t *testing.T) {
	relay := newMemRelay()
	alice := newParticipant(t, relay, nil, "alice", "room1", RolePolicyTieBreak)

	alice.session.Leave()
	assert.Equal(t, 1, alice.media.closeCount())

	assert.NoError(t, alice.session.Run(context.Background()))
	assert.Equal(t, 1, alice.media.closeCount())
	assert.Zero(t, relay.roomSize("room1"))
}

func TestNewSession_RequiresCollaborators(t *testing.T) {
	_, err := NewSession(SessionConfig{LocalID: "alice", Room: "room1"})
	assert.ErrorIs(t, err, ErrIncompleteSession)

	relay := newMemRelay()
	_, err = NewSession(SessionConfig{Room: "room1", Transport: relay.connect(), Factory: newFakeFactory("", nil)})
	assert.ErrorIs(t, err, ErrIncompleteSession)
}
