package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/noteroom/backend/internal/notes"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("document store is required")
	errMissingRegistry = errors.New("session registry is required")
	errMissingSender   = errors.New("sender is required")
	noOpLogger         = zap.NewNop()
)

// DocumentStore is the engine's view of note persistence.
type DocumentStore interface {
	Get(ctx context.Context, roomID notes.RoomID) (notes.Note, error)
	Upsert(ctx context.Context, roomID notes.RoomID, title, content string) (notes.Note, error)
}

// Sender delivers a single event to a single connection. The transport
// implements it; room fan-out stays in the engine, resolved from the
// registry. Delivery is best effort: sending to a gone or slow
// connection is a no-op.
type Sender interface {
	Send(connectionID, event string, payload any)
}

// EngineConfig carries the dependencies for an Engine.
type EngineConfig struct {
	Store    DocumentStore
	Registry *Registry
	Presence *Presence
	Sender   Sender
	Logger   *zap.Logger
}

// Engine orchestrates joins, leaves, edits, and disconnects for rooms.
// It owns no state itself; it coordinates the store, the registry, and
// the transport. Operations on the same room are serialized so every
// member observes broadcasts in the order the operations were accepted;
// distinct rooms proceed independently.
type Engine struct {
	store    DocumentStore
	registry *Registry
	presence *Presence
	sender   Sender
	logger   *zap.Logger

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// NewEngine constructs an Engine from the provided configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}

	presence := cfg.Presence
	if presence == nil {
		presence = NewPresence(cfg.Registry)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Engine{
		store:     cfg.Store,
		registry:  cfg.Registry,
		presence:  presence,
		sender:    cfg.Sender,
		logger:    logger,
		roomLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Connect records a new live connection with no room membership.
func (e *Engine) Connect(connectionID string) {
	e.registry.Connect(connectionID)
	e.logger.Debug("connection established", zap.String("connection_id", connectionID))
}

// Join makes the connection a member of the room, announces it to the
// other members, delivers the stored note to the joiner when one
// exists, and pushes the refreshed membership snapshot to everyone in
// the room. A connection is in at most one room: joining while a member
// of a different room performs a full leave of that room first.
func (e *Engine) Join(ctx context.Context, connectionID string, roomID notes.RoomID) {
	if prior, ok := e.registry.RoomOf(connectionID); ok && prior != roomID.String() {
		e.Leave(connectionID, notes.RoomID(prior))
	}

	room := roomID.String()
	lock := e.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	e.registry.Join(connectionID, room)
	e.logger.Info("connection joined room",
		zap.String("connection_id", connectionID),
		zap.String("room_id", room))

	// Join announcements must precede the membership snapshot so
	// observers see a causally consistent sequence.
	joined := PresencePayload{ConnectionID: connectionID}
	for _, member := range e.registry.MembersOf(room) {
		if member == connectionID {
			continue
		}
		e.sender.Send(member, EventUserJoined, joined)
	}

	note, err := e.store.Get(ctx, roomID)
	switch {
	case err == nil:
		e.sender.Send(connectionID, EventLoadNote, notePayload(note))
	case errors.Is(err, notes.ErrNoteNotFound):
		// No note yet; the joiner keeps its empty default.
	default:
		e.logger.Warn("note load failed on join",
			zap.String("connection_id", connectionID),
			zap.String("room_id", room),
			zap.Error(err))
	}

	e.broadcastActiveUsers(room)
}

// Leave removes the connection from the room and notifies the remaining
// members. It is a no-op when the connection is not a member of the
// room.
func (e *Engine) Leave(connectionID string, roomID notes.RoomID) {
	room := roomID.String()
	lock := e.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	if current, ok := e.registry.RoomOf(connectionID); !ok || current != room {
		return
	}

	e.registry.Leave(connectionID, room)
	e.logger.Info("connection left room",
		zap.String("connection_id", connectionID),
		zap.String("room_id", room))
	e.notifyLeft(room, connectionID)
}

// UpdateNote persists the edit and broadcasts the stored result to
// every room member except the originator. The write is synchronous on
// the caller's goroutine, which bounds outstanding writes to one per
// connection. On store failure the update is dropped: logged, not
// retried, not surfaced to the originator.
func (e *Engine) UpdateNote(ctx context.Context, connectionID string, roomID notes.RoomID, title, content string) {
	room := roomID.String()
	lock := e.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	note, err := e.store.Upsert(ctx, roomID, title, content)
	if err != nil {
		e.logger.Error("note update dropped",
			zap.String("connection_id", connectionID),
			zap.String("room_id", room),
			zap.Error(err))
		return
	}

	updated := NoteUpdatedPayload{
		Content:   note.Content,
		Title:     note.Title,
		UpdatedAt: time.Unix(note.UpdatedAtSeconds, 0).UTC(),
	}
	// Membership is resolved after the write completes, so a writer
	// that disconnected mid-flight is never notified while its edit
	// still lands.
	for _, member := range e.registry.MembersOf(room) {
		if member == connectionID {
			continue
		}
		e.sender.Send(member, EventNoteUpdated, updated)
	}
}

// Disconnect drops the connection from the registry and, when it was in
// a room, runs the leave notifications for that room. Transports must
// call it on every close so no dead connection lingers.
func (e *Engine) Disconnect(connectionID string) {
	roomID, ok := e.registry.RoomOf(connectionID)
	if !ok {
		e.registry.DropConnection(connectionID)
		e.logger.Debug("connection closed", zap.String("connection_id", connectionID))
		return
	}

	lock := e.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	e.registry.DropConnection(connectionID)
	e.logger.Info("connection disconnected from room",
		zap.String("connection_id", connectionID),
		zap.String("room_id", roomID))
	e.notifyLeft(roomID, connectionID)
}

func (e *Engine) notifyLeft(room, connectionID string) {
	left := PresencePayload{ConnectionID: connectionID}
	for _, member := range e.registry.MembersOf(room) {
		e.sender.Send(member, EventUserLeft, left)
	}
	e.broadcastActiveUsers(room)
}

func (e *Engine) broadcastActiveUsers(room string) {
	active := e.presence.ActiveUsers(room)
	for _, member := range active {
		e.sender.Send(member, EventActiveUsers, active)
	}
}

func (e *Engine) roomLock(room string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.roomLocks[room]
	if !ok {
		lock = &sync.Mutex{}
		e.roomLocks[room] = lock
	}
	return lock
}

func notePayload(note notes.Note) NotePayload {
	return NotePayload{
		RoomID:    note.RoomID,
		Title:     note.Title,
		Content:   note.Content,
		CreatedAt: time.Unix(note.CreatedAtSeconds, 0).UTC(),
		UpdatedAt: time.Unix(note.UpdatedAtSeconds, 0).UTC(),
	}
}
