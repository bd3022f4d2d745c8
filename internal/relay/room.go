package relay

// Room groups the connections that joined the same label.
type Room struct {
	// ID is the room label chosen by the participants.
	ID string

	// Clients are the current members, in no particular order.
	Clients map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, Clients: make(map[*Client]struct{})}
}
