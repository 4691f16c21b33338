package session

import (
	"sort"
	"sync"
)

// One connected user within a room.
type Participant struct {
	ConnectionID string
	DisplayName  string
	RoomID       string

	// Monotonic join sequence, used to report members in join order.
	seq uint64
}

// Registry is the process-wide room membership map, keyed by
// connection id. It is the only mutable state shared across
// connection handlers, so every operation takes the lock.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Participant
	byConn  map[string]*Participant
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Participant),
		byConn: make(map[string]*Participant),
	}
}

// Departure describes the membership a moving connection vacated:
// the participant as it was known in the old room, plus who is left
// there.
type Departure struct {
	Departed  Participant
	Remaining []Participant
}

// Join adds the connection to a room and returns the full updated
// member list. The room is created implicitly on first join. A
// connection is in at most one room: rejoining the same room re-uses
// the entry (updating the display name), joining another room moves
// it, reported via the non-nil Departure.
func (r *Registry) Join(roomID, connectionID, displayName string) ([]Participant, *Departure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moved *Departure
	if p, ok := r.byConn[connectionID]; ok {
		if p.RoomID == roomID {
			p.DisplayName = displayName
			return r.membersLocked(roomID), nil
		}
		departed := *p
		r.removeLocked(p)
		moved = &Departure{Departed: departed, Remaining: r.membersLocked(departed.RoomID)}
	}

	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[string]*Participant)
	}

	r.nextSeq++
	p := &Participant{
		ConnectionID: connectionID,
		DisplayName:  displayName,
		RoomID:       roomID,
		seq:          r.nextSeq,
	}
	r.rooms[roomID][connectionID] = p
	r.byConn[connectionID] = p

	return r.membersLocked(roomID), moved
}

// Leave removes the connection from whichever room holds it and
// returns the departed participant (room included) plus the room's
// remaining members. Leaving a connection that never joined reports
// ok=false and changes nothing, so duplicate disconnects are
// harmless.
func (r *Registry) Leave(connectionID string) (departed Participant, remaining []Participant, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, found := r.byConn[connectionID]
	if !found {
		return Participant{}, nil, false
	}

	departed = *p
	r.removeLocked(p)
	return departed, r.membersLocked(departed.RoomID), true
}

// MembersOf returns a snapshot of the room's members in join order.
// An unknown or vacated room yields an empty slice.
func (r *Registry) MembersOf(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(roomID)
}

// RoomCount reports the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ParticipantCount reports the number of registered connections.
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *Registry) removeLocked(p *Participant) {
	delete(r.byConn, p.ConnectionID)
	if members, ok := r.rooms[p.RoomID]; ok {
		delete(members, p.ConnectionID)
		if len(members) == 0 {
			delete(r.rooms, p.RoomID)
		}
	}
}

func (r *Registry) membersLocked(roomID string) []Participant {
	members := r.rooms[roomID]
	out := make([]Participant, 0, len(members))
	for _, p := range members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
