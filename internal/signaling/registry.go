package signaling

import "github.com/BioHazard786/meshcall/internal/protocol"

// Room is a named set of participants, kept in join order.
type Room struct {
	ID      string
	members []protocol.Participant
}

func (r *Room) indexOf(connID string) int {
	for i, p := range r.members {
		if p.ID == connID {
			return i
		}
	}
	return -1
}

// JoinResult describes what a Join did.
type JoinResult struct {
	// Self is the joining participant.
	Self protocol.Participant

	// Roster is every member of the room after the join, joiner included.
	Roster []protocol.Participant

	// Previous is the room the connection was implicitly removed from, if any.
	Previous string

	// Rejoined is set when the connection was already a member of the room.
	Rejoined bool
}

// Registry tracks room membership. It is not safe for concurrent use; the Hub
// owns it and only touches it from its run loop.
type Registry struct {
	rooms    map[string]*Room
	memberOf map[string]string // connection id -> room id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		memberOf: make(map[string]string),
	}
}

// Join adds connID to roomID. A connection that is a member of another room is
// removed from it first.
func (r *Registry) Join(roomID, connID, name string) JoinResult {
	var res JoinResult

	if current, ok := r.memberOf[connID]; ok && current != roomID {
		r.Leave(current, connID)
		res.Previous = current
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID}
		r.rooms[roomID] = room
	}

	self := protocol.Participant{ID: connID, Name: name, RoomID: roomID}
	if i := room.indexOf(connID); i >= 0 {
		room.members[i].Name = name
		res.Rejoined = true
	} else {
		room.members = append(room.members, self)
		r.memberOf[connID] = roomID
	}

	res.Self = self
	res.Roster = r.MembersOf(roomID)
	return res
}

// Leave removes connID from roomID and reports whether membership changed.
func (r *Registry) Leave(roomID, connID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	i := room.indexOf(connID)
	if i < 0 {
		return false
	}

	room.members = append(room.members[:i], room.members[i+1:]...)
	if r.memberOf[connID] == roomID {
		delete(r.memberOf, connID)
	}
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// RemoveEverywhere removes connID from every room that contains it and
// returns those rooms.
func (r *Registry) RemoveEverywhere(connID string) []string {
	var removed []string
	for id, room := range r.rooms {
		if room.indexOf(connID) >= 0 {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		r.Leave(id, connID)
	}
	return removed
}

// MembersOf returns a copy of the room's members in join order. Unknown rooms
// are empty.
func (r *Registry) MembersOf(roomID string) []protocol.Participant {
	room, ok := r.rooms[roomID]
	if !ok {
		return []protocol.Participant{}
	}
	out := make([]protocol.Participant, len(room.members))
	copy(out, room.members)
	return out
}

// RoomOf returns the room connID is in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	id, ok := r.memberOf[connID]
	return id, ok
}

// Member returns connID's participant record in roomID.
func (r *Registry) Member(roomID, connID string) (protocol.Participant, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return protocol.Participant{}, false
	}
	i := room.indexOf(connID)
	if i < 0 {
		return protocol.Participant{}, false
	}
	return room.members[i], true
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	return len(r.rooms)
}
