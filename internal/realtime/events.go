// Package realtime implements the room-scoped synchronization core:
// session registry, presence derivation, and the engine that fans
// document updates and presence changes out to room members.
package realtime

import "time"

// Live-channel event names, client to server.
const (
	EventJoinRoom   = "joinRoom"
	EventLeaveRoom  = "leaveRoom"
	EventUpdateNote = "updateNote"
)

// Live-channel event names, server to client.
const (
	EventLoadNote    = "loadNote"
	EventNoteUpdated = "noteUpdated"
	EventUserJoined  = "userJoined"
	EventUserLeft    = "userLeft"
	EventActiveUsers = "activeUsers"
	EventError       = "error"
)

// NotePayload is the document shape delivered over the live channel and
// the REST boundary.
type NotePayload struct {
	RoomID    string    `json:"roomId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NoteUpdatedPayload is broadcast to room members other than the editor
// after a successful persistence.
type NoteUpdatedPayload struct {
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PresencePayload announces a single connection joining or leaving a
// room. Connection identifiers double as user identity; there is no
// stable identity across reconnects.
type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
}

// ErrorPayload reports a rejected live-channel request to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}
