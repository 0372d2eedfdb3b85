package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/proto"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = core.DefaultHistoryCap
)

// APIHandlers serves the read-only admin API.
type APIHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{deps: deps, log: logger}
}

// Health reports liveness.
// GET /health
func (h *APIHandlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Online lists claimed names.
// GET /api/online
func (h *APIHandlers) Online(c *gin.Context) {
	users := h.deps.Directory.ListOnline()
	c.JSON(http.StatusOK, proto.OnlineResponse{Users: users, Count: len(users)})
}

// ListRooms lists rooms with their members.
// GET /api/rooms
func (h *APIHandlers) ListRooms(c *gin.Context) {
	rooms := h.deps.Rooms.List()
	resp := proto.RoomsResponse{Rooms: make([]proto.RoomInfo, 0, len(rooms))}
	for _, r := range rooms {
		resp.Rooms = append(resp.Rooms, roomInfo(r))
	}
	c.JSON(http.StatusOK, resp)
}

// RoomHistory returns the most recent messages of a room, oldest first.
// With a store, before=<id> pages back to messages older than that id.
// GET /api/rooms/:id/history?limit=50&before=120
func (h *APIHandlers) RoomHistory(c *gin.Context) {
	id := c.Param("id")
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "before must be a positive message id"})
			return
		}
		if h.deps.Store == nil {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "before requires persistent history"})
			return
		}
		before = &n
	}

	room, ok := h.deps.Rooms.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "room not found"})
		return
	}

	if h.deps.Store != nil {
		msgs, err := h.deps.Store.ListMessages(c.Request.Context(), id, limit, before)
		if err == nil {
			c.JSON(http.StatusOK, proto.HistoryResponse{Room: id, Messages: storedHistory(msgs)})
			return
		}
		if c.Request.Context().Err() == nil {
			h.log.Warn().Err(err).Str("room", id).Msg("failed to load stored history")
		}
		if before != nil {
			c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "failed to load history"})
			return
		}
	}
	c.JSON(http.StatusOK, proto.HistoryResponse{Room: id, Messages: entryHistory(room.History(limit))})
}
