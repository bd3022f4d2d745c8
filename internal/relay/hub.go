// Package relay is the room-scoped signaling relay. It never interprets the
// signaling payloads it forwards.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// sendBuffer is the outbound queue length per client. A client that falls
// this far behind is dropped.
const sendBuffer = 256

// Hub is the central brain of the relay server.
// It manages all active rooms and clients.
type Hub struct {
	// rooms maps room labels to Room instances.
	rooms map[string]*Room

	// clients is the set of registered clients.
	clients map[*Client]struct{}

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Broadcast is a channel for clients to send inbound frames to.
	// The hub will process these messages.
	Broadcast chan *Message

	// stats serves snapshots to other goroutines.
	stats chan chan Stats

	done chan struct{}
	log  *slog.Logger
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms   int `json:"rooms"`
	Clients int `json:"clients"`
}

// NewHub creates a new Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *Message),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
		log:        log,
	}
}

// NewClient creates a client bound to this hub. conn may be nil in tests that
// drive the hub directly.
func (h *Hub) NewClient(conn *websocket.Conn, addr string) *Client {
	return &Client{
		Hub:  h,
		Conn: conn,
		Addr: addr,
		Send: make(chan *Message, sendBuffer),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Stats returns the current room and client counts.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return Stats{}
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (rooms, clients).
// It returns when ctx is cancelled, closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.Register:
			h.clients[client] = struct{}{}
			h.log.Debug("client registered", "addr", client.Addr)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.log.Debug("client unregistered", "addr", client.Addr, "room", client.RoomID)
				h.remove(client)
			}

		case message := <-h.Broadcast:
			h.handle(message)

		case reply := <-h.stats:
			reply <- Stats{Rooms: len(h.rooms), Clients: len(h.clients)}

		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			h.log.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) handle(message *Message) {
	client := message.client
	if _, ok := h.clients[client]; !ok {
		return
	}

	switch message.Event {
	case signaling.EventJoin:
		var roomID string
		if err := json.Unmarshal(message.Data, &roomID); err != nil || roomID == "" {
			h.log.Warn("join without room label", "addr", client.Addr)
			return
		}
		h.join(client, roomID)

	case signaling.EventNotifyJoined, signaling.EventSetupPeer, signaling.EventSDP, signaling.EventICE:
		room, ok := h.rooms[client.RoomID]
		if !ok {
			h.log.Warn("dropping message", "event", message.Event, "addr", client.Addr, "err", ErrNotInRoom)
			return
		}
		// Rebroadcast verbatim to every member, the sender included.
		out := &Message{Event: signaling.EventMessage, Data: message.Data}
		for member := range room.Clients {
			h.send(member, out)
		}
		h.log.Debug("relayed", "event", message.Event, "room", room.ID, "members", len(room.Clients))

	default:
		h.log.Warn("unknown event", "event", message.Event, "addr", client.Addr)
	}
}

// join moves client into roomID, leaving its previous room if any.
func (h *Hub) join(client *Client, roomID string) {
	if client.RoomID == roomID {
		return
	}
	h.leaveRoom(client)

	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
		h.log.Info("room created", "room", roomID)
	}
	room.Clients[client] = struct{}{}
	client.RoomID = roomID
	h.log.Info("client joined", "room", roomID, "addr", client.Addr, "members", len(room.Clients))
}

func (h *Hub) leaveRoom(client *Client) {
	if client.RoomID == "" {
		return
	}
	if room, ok := h.rooms[client.RoomID]; ok {
		delete(room.Clients, client)
		if len(room.Clients) == 0 {
			delete(h.rooms, room.ID)
			h.log.Info("room deleted", "room", room.ID)
		}
	}
	client.RoomID = ""
}

// remove forgets client and closes its send channel to stop its writePump.
func (h *Hub) remove(client *Client) {
	h.leaveRoom(client)
	delete(h.clients, client)
	close(client.Send)
}

// send queues m for client without blocking the hub. A client whose queue is
// full is dropped.
func (h *Hub) send(client *Client, m *Message) {
	select {
	case client.Send <- m:
	default:
		h.log.Warn("client too slow, dropping", "addr", client.Addr, "room", client.RoomID)
		h.remove(client)
	}
}
