package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/noteroom/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/noteroom/backend/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("note store dependency required")
	errMissingEngine = errors.New("sync engine dependency required")
	errMissingHub    = errors.New("hub dependency required")
)

// Dependencies wires the HTTP surface to the synchronization core.
type Dependencies struct {
	Store          *notes.Store
	Engine         *realtime.Engine
	Hub            *Hub
	Logger         *zap.Logger
	AllowedOrigins []string
	ConnectionIDs  IDProvider
}

// NewHTTPHandler builds the gin router: the REST note endpoints and the
// websocket live channel.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	connectionIDs := deps.ConnectionIDs
	if connectionIDs == nil {
		connectionIDs = NewUUIDProvider()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:         deps.Store,
		engine:        deps.Engine,
		hub:           deps.Hub,
		logger:        logger,
		connectionIDs: connectionIDs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(deps.AllowedOrigins, logger),
		},
	}

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/api/notes/:roomId", handler.handleGetNote)
	router.POST("/api/notes", handler.handleCreateNote)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	store         *notes.Store
	engine        *realtime.Engine
	hub           *Hub
	logger        *zap.Logger
	connectionIDs IDProvider
	upgrader      websocket.Upgrader
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type noteResponsePayload struct {
	RoomID    string    `json:"roomId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newNoteResponsePayload(note notes.Note) noteResponsePayload {
	return noteResponsePayload{
		RoomID:    note.RoomID,
		Title:     note.Title,
		Content:   note.Content,
		CreatedAt: time.Unix(note.CreatedAtSeconds, 0).UTC(),
		UpdatedAt: time.Unix(note.UpdatedAtSeconds, 0).UTC(),
	}
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	roomID, err := notes.NewRoomID(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Note not found"})
		return
	}

	note, err := h.store.Get(c.Request.Context(), roomID)
	if errors.Is(err, notes.ErrNoteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Note not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load note", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error", "error": storeErrorCode(err)})
		return
	}

	c.JSON(http.StatusOK, newNoteResponsePayload(note))
}

type createNoteRequestPayload struct {
	RoomID  string `json:"roomId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	roomID, err := notes.NewRoomID(request.RoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}

	note, err := h.store.Upsert(c.Request.Context(), roomID, request.Title, request.Content)
	if err != nil {
		h.logger.Error("failed to save note", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error", "error": storeErrorCode(err)})
		return
	}

	c.JSON(http.StatusCreated, newNoteResponsePayload(note))
}

func storeErrorCode(err error) string {
	var storeErr *notes.StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code()
	}
	return "store_unavailable"
}
