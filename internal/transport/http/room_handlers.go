package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/core"
)

// RoomHandlers exposes live room state for dashboards.
type RoomHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// RoomResponse describes a room in API responses. Rooms without members do
// not exist, so an unknown key returns zero members rather than 404.
type RoomResponse struct {
	RoomKey string   `json:"roomKey"`
	Members int      `json:"members"`
	Typing  []string `json:"typing"`
}

// Get returns membership size and current typists.
// GET /api/rooms/:room
func (h *RoomHandlers) Get(c *gin.Context) {
	room := c.Param("room")

	c.JSON(http.StatusOK, RoomResponse{
		RoomKey: room,
		Members: len(h.hub.Registry().Members(room)),
		Typing:  h.hub.Typing().Typists(room),
	})
}
