package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/noteroom/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/noteroom/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	maxMessageBytes = 512 * 1024
	sendBufferSize  = 256
)

// envelope frames every message on the live channel in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	// done is closed by the read pump; the write pump exits on it so
	// the send channel itself is never closed while the engine may
	// still deliver to it.
	done chan struct{}
}

// Hub tracks live websocket connections by identifier and implements
// the engine's Sender. Delivery is best effort: events for unknown
// connections are discarded and a full send buffer drops the event
// rather than blocking the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*wsClient),
		logger:  logger,
	}
}

// Send marshals the event envelope and queues it for the connection's
// write pump.
func (h *Hub) Send(connectionID, event string, payload any) {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()
	if client == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode event payload",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to encode event envelope",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	select {
	case client.send <- raw:
	default:
		h.logger.Warn("send buffer full, dropping event",
			zap.String("connection_id", connectionID),
			zap.String("event", event))
	}
}

// Shutdown closes every live connection. Read pumps observe the close
// and run their normal disconnect cleanup.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		_ = client.conn.Close()
	}
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
}

func (h *Hub) unregister(connectionID string) {
	h.mu.Lock()
	delete(h.clients, connectionID)
	h.mu.Unlock()
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID, err := h.connectionIDs.NewID()
	if err != nil {
		h.logger.Error("failed to assign connection id", zap.Error(err))
		_ = conn.Close()
		return
	}

	client := &wsClient{
		id:   connectionID,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	h.hub.register(client)
	h.engine.Connect(connectionID)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *httpHandler) readPump(client *wsClient) {
	defer func() {
		h.hub.unregister(client.id)
		close(client.done)
		_ = client.conn.Close()
		// Cleanup must run to completion on any exit path so the
		// registry never retains a dead connection.
		h.engine.Disconnect(client.id)
	}()

	client.conn.SetReadLimit(maxMessageBytes)
	if err := client.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Warn("failed to set read deadline",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed",
					zap.String("connection_id", client.id),
					zap.Error(err))
			}
			return
		}
		h.dispatch(client.id, raw)
	}
}

func (h *httpHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case raw := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

type updateNoteRequestPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	Title   string `json:"title"`
}

func (h *httpHandler) dispatch(connectionID string, raw []byte) {
	var message envelope
	if err := json.Unmarshal(raw, &message); err != nil || message.Event == "" {
		h.sendError(connectionID, "invalid_payload")
		return
	}

	ctx := context.Background()
	switch message.Event {
	case realtime.EventJoinRoom:
		roomID, err := decodeRoomID(message.Data)
		if err != nil {
			h.sendError(connectionID, "invalid_room_id")
			return
		}
		h.engine.Join(ctx, connectionID, roomID)
	case realtime.EventLeaveRoom:
		roomID, err := decodeRoomID(message.Data)
		if err != nil {
			h.sendError(connectionID, "invalid_room_id")
			return
		}
		h.engine.Leave(connectionID, roomID)
	case realtime.EventUpdateNote:
		var request updateNoteRequestPayload
		if err := json.Unmarshal(message.Data, &request); err != nil {
			h.sendError(connectionID, "invalid_payload")
			return
		}
		roomID, err := notes.NewRoomID(request.RoomID)
		if err != nil {
			h.sendError(connectionID, "invalid_room_id")
			return
		}
		h.engine.UpdateNote(ctx, connectionID, roomID, request.Title, request.Content)
	default:
		h.sendError(connectionID, "unknown_event")
	}
}

// decodeRoomID accepts the room identifier either as a bare JSON string
// or wrapped in an object, matching what web clients send for joinRoom
// and leaveRoom.
func decodeRoomID(data json.RawMessage) (notes.RoomID, error) {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return notes.NewRoomID(plain)
	}
	var wrapped struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return "", err
	}
	return notes.NewRoomID(wrapped.RoomID)
}

func (h *httpHandler) sendError(connectionID, message string) {
	h.hub.Send(connectionID, realtime.EventError, realtime.ErrorPayload{Message: message})
}
