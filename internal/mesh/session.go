package mesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SessionConfig describes one participant in one room.
type SessionConfig struct {
	LocalID     string
	DisplayName string
	Room        string

	Transport Transport
	Factory   ConnFactory
	Presenter Presenter
	// Media is the local media source, released when the session ends.
	Media io.Closer

	Policy RolePolicy
	Logger *slog.Logger
}

// PeerInfo is a snapshot of one registry entry.
type PeerInfo struct {
	ID          string
	DisplayName string
	Role        Role
	// Offers is true when this side created the offer for the pair.
	Offers bool
}

// Session runs the negotiation loop for the local participant. Every state
// transition, whether triggered by the relay or by a connection event, runs
// on the goroutine executing Run.
type Session struct {
	cfg       SessionConfig
	registry  *Registry
	machine   *Machine
	lifecycle *Lifecycle
	log       *slog.Logger

	work chan func()
	stop chan struct{}
	quit chan struct{}
	done chan struct{}

	started      atomic.Bool
	stopOnce     sync.Once
	teardownOnce sync.Once
}

// NewSession validates cfg and builds the registry, state machine and
// lifecycle manager for one participant. Run starts it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.LocalID == "" || cfg.Room == "" || cfg.Transport == nil || cfg.Factory == nil {
		return nil, ErrIncompleteSession
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room", cfg.Room, "local", cfg.LocalID)

	s := &Session{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      log,
		work:     make(chan func(), 256),
		stop:     make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.lifecycle = NewLifecycle(s.registry, cfg.Presenter, log)
	s.machine = NewMachine(MachineConfig{
		LocalID:     cfg.LocalID,
		DisplayName: cfg.DisplayName,
		Registry:    s.registry,
		Sender:      cfg.Transport,
		Factory:     cfg.Factory,
		Presenter:   cfg.Presenter,
		Policy:      cfg.Policy,
		Logger:      log,
		OnPeer:      s.attach,
	})
	return s, nil
}

// Run joins the room, announces this participant and processes events until
// ctx is cancelled, Leave is called or the relay goes away.
func (s *Session) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	defer s.teardown()

	select {
	case <-s.stop:
		return nil
	default:
	}

	if err := s.cfg.Transport.Join(s.cfg.Room); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if err := s.machine.Announce(); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}
	s.log.Info("joined room", "name", s.cfg.DisplayName)

	incoming := s.cfg.Transport.Incoming()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				s.log.Warn("relay connection closed")
				return ErrRelayClosed
			}
			if err := s.machine.Handle(msg); err != nil {
				s.log.Warn("negotiation step failed", "err", err)
			}

		case fn := <-s.work:
			fn()

		case <-s.stop:
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Leave ends the session: every connection is closed, every rendering
// removed and the local media released. It blocks until teardown finished.
func (s *Session) Leave() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
		return
	}
	s.teardown()
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Peers returns a snapshot of the registry taken on the session goroutine.
func (s *Session) Peers() []PeerInfo {
	result := make(chan []PeerInfo, 1)
	snapshot := func() {
		var peers []PeerInfo
		s.registry.ForEach(func(p *Peer) {
			peers = append(peers, PeerInfo{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role(), Offers: p.Offers()})
		})
		result <- peers
	}

	select {
	case s.work <- snapshot:
	case <-s.quit:
		return nil
	}
	select {
	case peers := <-result:
		return peers
	case <-s.quit:
		return nil
	}
}

// attach starts the two independent listeners on a new connection's event
// stream: one feeding the state machine, one feeding the lifecycle manager.
func (s *Session) attach(p *Peer) {
	id, conn := p.ID, p.Conn

	negotiation := conn.Subscribe()
	lifecycle := conn.Subscribe()

	go s.listen(negotiation, func(ev *Event) {
		if ev.Kind != EventState {
			s.machine.OnConnEvent(id, conn, ev)
		}
	})
	go s.listen(lifecycle, func(ev *Event) {
		if ev.Kind == EventState {
			s.lifecycle.Observe(id, conn, ev.State)
		}
	})
}

// listen forwards events into the session loop until the stream closes or
// the session tears down.
func (s *Session) listen(events <-chan *Event, handle func(ev *Event)) {
	for ev := range events {
		ev := ev
		select {
		case s.work <- func() { handle(ev) }:
		case <-s.quit:
			return
		}
	}
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		close(s.quit)

		s.registry.ForEach(func(p *Peer) {
			s.registry.Remove(p.ID)
			if s.cfg.Presenter != nil {
				s.cfg.Presenter.RemoveStream(p.ID)
			}
			if p.Conn != nil {
				if err := p.Conn.Close(); err != nil {
					s.log.Debug("close connection", "peer", p.ID, "err", err)
				}
			}
		})

		if s.cfg.Media != nil {
			if err := s.cfg.Media.Close(); err != nil {
				s.log.Warn("release local media", "err", err)
			}
		}
		if err := s.cfg.Transport.Close(); err != nil {
			s.log.Debug("close relay transport", "err", err)
		}
		s.log.Info("left room")
	})
}
