package ws

import (
	"log"
	"sync"

	"github.com/codecast/server/internal/protocol"
	"github.com/codecast/server/internal/session"
)

// Hub relays events between the clients of each room. It owns no
// document state: every code-change is fanned out as-is and sync
// traffic flows point-to-point between peers, so the authoritative
// document only ever lives on the clients.
type Hub struct {
	registry *session.Registry

	// Connections eligible for delivery, by connection id. A client
	// is present here exactly while its send channel is open.
	clients map[string]*Client

	register   chan *registration
	unregister chan *Client
	broadcast  chan *Message
	direct     chan *Direct

	mu sync.RWMutex
}

// registration snapshots a join at the moment the frame was read.
// The hub only ever sees these copies, so a pipelined second join
// cannot race the processing of the first; names for later left
// events come from the registry, never from the client.
type registration struct {
	client      *Client
	roomID      string
	displayName string
}

// Message is a room-scoped frame relayed to everyone but the sender.
type Message struct {
	RoomID string
	Data   []byte
	Sender *Client
}

// Direct is a frame addressed to a single connection.
type Direct struct {
	TargetID string
	Data     []byte
}

func NewHub(registry *session.Registry) *Hub {
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *registration),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		direct:     make(chan *Direct),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.handleJoin(reg)

		case client := <-h.unregister:
			h.handleLeave(client)

		case msg := <-h.broadcast:
			evicted := h.fanout(msg.RoomID, msg.Data, msg.Sender.id)
			h.drop(evicted)

		case d := <-h.direct:
			h.deliverDirect(d)
		}
	}
}

func (h *Hub) handleJoin(reg *registration) {
	client := reg.client

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	members, moved := h.registry.Join(reg.roomID, client.id, reg.displayName)

	// A connection switching rooms vacates its old one first,
	// announced under the name it was known by there.
	if moved != nil {
		h.announceLeft(moved.Departed, moved.Remaining)
	}

	data, err := protocol.EncodeJoined(toMembers(members), client.id, reg.displayName)
	if err != nil {
		log.Printf("Failed to encode joined event: %v", err)
		return
	}

	// Everyone in the room, the joiner included, sees the new list.
	evicted := h.fanout(reg.roomID, data, "")
	h.drop(evicted)

	log.Printf("Client %s (%s) joined room %s (members: %d)",
		client.id, reg.displayName, reg.roomID, len(members))
}

func (h *Hub) handleLeave(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client.id]
	if known {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()

	if !known {
		// Never joined, or already evicted by a failed send.
		return
	}

	departed, remaining, ok := h.registry.Leave(client.id)
	if !ok {
		return
	}
	h.announceLeft(departed, remaining)
}

// announceLeft broadcasts a departure to the room it vacated.
func (h *Hub) announceLeft(departed session.Participant, remaining []session.Participant) {
	if len(remaining) == 0 {
		log.Printf("Room %s closed (empty)", departed.RoomID)
		return
	}

	data, err := protocol.EncodeLeft(departed.ConnectionID, departed.DisplayName)
	if err != nil {
		log.Printf("Failed to encode left event: %v", err)
		return
	}

	evicted := h.fanout(departed.RoomID, data, departed.ConnectionID)
	h.drop(evicted)

	log.Printf("Client %s left room %s (remaining: %d)",
		departed.ConnectionID, departed.RoomID, len(remaining))
}

// fanout delivers data to every member of the room except excludeID.
// Sends never block: a member whose buffer is full is returned for
// eviction so one stuck connection cannot stall the rest.
func (h *Hub) fanout(roomID string, data []byte, excludeID string) []*Client {
	members := h.registry.MembersOf(roomID)

	var evicted []*Client
	h.mu.Lock()
	for _, m := range members {
		if m.ConnectionID == excludeID {
			continue
		}
		client, ok := h.clients[m.ConnectionID]
		if !ok {
			continue
		}
		select {
		case client.send <- data:
		default:
			delete(h.clients, client.id)
			close(client.send)
			evicted = append(evicted, client)
		}
	}
	h.mu.Unlock()
	return evicted
}

// drop finishes off clients evicted during a fanout: their registry
// entries are cleaned up and their rooms are told they left.
func (h *Hub) drop(evicted []*Client) {
	for _, client := range evicted {
		log.Printf("Evicting unresponsive client %s", client.id)
		departed, remaining, ok := h.registry.Leave(client.id)
		if !ok {
			continue
		}
		h.announceLeft(departed, remaining)
	}
}

func (h *Hub) deliverDirect(d *Direct) {
	h.mu.RLock()
	client, ok := h.clients[d.TargetID]
	h.mu.RUnlock()
	if !ok {
		// Target disconnected between send and delivery. Best effort.
		return
	}
	select {
	case client.send <- d.Data:
	default:
	}
}

// RoomCount reports rooms with at least one member.
func (h *Hub) RoomCount() int {
	return h.registry.RoomCount()
}

// ClientCount reports connections currently joined to a room.
func (h *Hub) ClientCount() int {
	return h.registry.ParticipantCount()
}

func toMembers(participants []session.Participant) []protocol.Member {
	members := make([]protocol.Member, len(participants))
	for i, p := range participants {
		members[i] = protocol.Member{
			ConnectionID: p.ConnectionID,
			DisplayName:  p.DisplayName,
		}
	}
	return members
}
