package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("signaling client closed")

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	header    http.Header
	resolver  *dns.Resolver
	log       *slog.Logger
	incoming  chan *Message
	outgoing  chan *Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new relay client. header may carry an Origin for relays
// that check it.
func NewClient(serverURL string, header http.Header, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		header:    header,
		resolver:  dns.NewResolver(),
		log:       log.With("relay", serverURL),
		incoming:  make(chan *Message, 64),
		outgoing:  make(chan *Envelope, 64),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps.
func (c *Client) Connect() error {
	// Resolve through our DNS lookup with fallback
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		NetDialContext:   c.resolver.DialContext,
	}

	conn, _, err := dialer.Dial(c.serverURL, c.header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump decodes relayed messages. Frames that fail validation are logged
// and dropped before they reach the state machine.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("relay connection lost", "err", err)
			}
			return
		}

		if env.Event != EventMessage {
			c.log.Debug("ignoring relay event", "event", env.Event)
			continue
		}

		msg, err := Decode(env.Data)
		if err != nil {
			c.log.Warn("dropping malformed message", "err", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes envelopes to the relay and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warn("relay write failed", "event", env.Event, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) enqueue(env *Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// Join asks the relay to place this connection in room.
func (c *Client) Join(room string) error {
	env, err := JoinEnvelope(room)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// Send queues a signaling message for the relay.
func (c *Client) Send(msg *Message) error {
	env, err := NewEnvelope(msg)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// Incoming returns the channel of decoded relayed messages. It is closed when
// the relay connection ends.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close sends a close frame and stops both pumps.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
