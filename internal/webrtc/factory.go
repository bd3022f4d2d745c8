package webrtc

import (
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

const (
	controlLabel = "meshcall-control"
	controlID    = uint16(0)
)

// FactoryConfig wires a Factory to the pion API and the local media.
type FactoryConfig struct {
	API           *pion.API
	Configuration pion.Configuration
	// Tracks are added to every connection. They are shared, not copied.
	Tracks []pion.TrackLocal
	Logger *slog.Logger

	// OnMediaState receives the media state a remote participant publishes
	// on its control channel.
	OnMediaState func(peerID string, state MediaState)
}

// Factory creates one pion peer connection per remote participant.
type Factory struct {
	cfg FactoryConfig
	log *slog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
	state MediaState
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.API == nil {
		api, err := NewAPI(nil)
		if err != nil {
			return nil, err
		}
		cfg.API = api
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		cfg:   cfg,
		log:   log,
		conns: make(map[*Conn]struct{}),
		state: MediaState{Audio: true, Video: true},
	}, nil
}

// NewConn creates a peer connection for peerID with the local tracks and the
// control channel attached.
func (f *Factory) NewConn(peerID string) (mesh.Conn, error) {
	pc, err := f.cfg.API.NewPeerConnection(f.cfg.Configuration)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, track := range f.cfg.Tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	// Both sides create the channel with the same id, so neither has to
	// wait for the other to open it.
	negotiated, ordered, id := true, true, controlID
	control, err := pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	c := newConn(pc, peerID, f.log)
	c.control = control
	c.onClose = f.forget
	f.attachControl(c)

	f.mu.Lock()
	f.conns[c] = struct{}{}
	f.mu.Unlock()
	return c, nil
}

// PublishMediaState records the local media state and sends it to every
// participant whose control channel is open.
func (f *Factory) PublishMediaState(state MediaState) {
	f.mu.Lock()
	f.state = state
	conns := make([]*Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		f.sendState(c, state)
	}
}

// MediaState returns the last published local media state.
func (f *Factory) MediaState() MediaState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Factory) forget(c *Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

func (f *Factory) attachControl(c *Conn) {
	c.control.OnOpen(func() {
		f.sendState(c, f.MediaState())
	})

	c.control.OnMessage(func(raw pion.DataChannelMessage) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			c.log.Warn("bad control message", "err", err)
			return
		}
		switch msg.Type {
		case MessageTypeMediaState:
			var state MediaState
			if err := msg.DecodePayload(&state); err != nil {
				c.log.Warn("bad media state", "err", err)
				return
			}
			c.log.Debug("remote media state", "audio", state.Audio, "video", state.Video)
			if f.cfg.OnMediaState != nil {
				f.cfg.OnMediaState(c.peerID, state)
			}
		default:
			c.log.Debug("unknown control message", "type", msg.Type)
		}
	})
}

func (f *Factory) sendState(c *Conn, state MediaState) {
	if c.control.ReadyState() != pion.DataChannelStateOpen {
		return
	}
	msg, err := NewMessage(MessageTypeMediaState, state)
	if err != nil {
		c.log.Warn("encode media state", "err", err)
		return
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		c.log.Warn("encode media state", "err", err)
		return
	}
	if err := c.control.Send(data); err != nil {
		c.log.Debug("send media state", "err", err)
	}
}

// drainRTCP reads incoming RTCP so that interceptors such as NACK keep
// working. It returns when the sender is stopped.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
