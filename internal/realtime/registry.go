package realtime

import "sync"

// Registry is the in-memory session registry. It is the sole owner of
// live room membership: which connections exist and which room, if any,
// each one is currently in. It holds no transport state and nothing
// survives a process restart.
type Registry struct {
	mu sync.RWMutex
	// connections maps every live connection to its current room,
	// empty string when connected but not in a room.
	connections map[string]string
	rooms       map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]string),
		rooms:       make(map[string]map[string]struct{}),
	}
}

// Connect records a live connection with no room membership.
func (r *Registry) Connect(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[connectionID]; !ok {
		r.connections[connectionID] = ""
	}
}

// Join records connectionID as a member of roomID. Any prior membership
// in a different room is silently replaced; issuing leave notifications
// for the prior room is the engine's responsibility.
func (r *Registry) Join(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromRoomLocked(connectionID, r.connections[connectionID])
	r.connections[connectionID] = roomID
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connectionID] = struct{}{}
}

// Leave removes the membership if it matches roomID. Calling it for a
// room the connection is not in is a no-op.
func (r *Registry) Leave(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connections[connectionID] != roomID {
		return
	}
	r.removeFromRoomLocked(connectionID, roomID)
	r.connections[connectionID] = ""
}

// DropConnection removes the connection and any membership it held,
// returning the room it was in. Used on transport disconnect; the
// registry must never retain a dead connection.
func (r *Registry) DropConnection(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.connections[connectionID]
	if !ok {
		return "", false
	}
	r.removeFromRoomLocked(connectionID, roomID)
	delete(r.connections, connectionID)
	return roomID, roomID != ""
}

// RoomOf returns the room the connection is currently a member of.
func (r *Registry) RoomOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID := r.connections[connectionID]
	return roomID, roomID != ""
}

// MembersOf returns a snapshot of the room's current membership.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	snapshot := make([]string, 0, len(members))
	for connectionID := range members {
		snapshot = append(snapshot, connectionID)
	}
	return snapshot
}

func (r *Registry) removeFromRoomLocked(connectionID, roomID string) {
	if roomID == "" {
		return
	}
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
