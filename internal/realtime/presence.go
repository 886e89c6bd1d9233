package realtime

import "sort"

// Presence derives "who is active in a room" from the session registry.
// It owns no state of its own.
type Presence struct {
	registry *Registry
}

// NewPresence returns a presence tracker over the given registry.
func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

// ActiveUsers returns the room's current members as a sorted slice. The
// order is deterministic for a given snapshot but carries no meaning.
func (p *Presence) ActiveUsers(roomID string) []string {
	members := p.registry.MembersOf(roomID)
	sort.Strings(members)
	return members
}
