package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/core"
	"github.com/vovakirdan/watchparty/internal/proto"
)

// RoomReader is the read-only slice of the registry the handlers need.
type RoomReader interface {
	Snapshot(roomID string) (core.RoomSnapshot, bool)
	List() []core.RoomSummary
	Stats() core.Stats
}

// RoomHandlers provides HTTP handlers for room introspection endpoints.
type RoomHandlers struct {
	rooms RoomReader
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms RoomReader, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms: rooms,
		log:   logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the status summary.
type HealthResponse struct {
	Status       string `json:"status"`
	Rooms        int    `json:"rooms"`
	Participants int    `json:"participants"`
}

// RoomSummaryResponse represents a room in the listing.
type RoomSummaryResponse struct {
	RoomID       string              `json:"roomId"`
	Participants int                 `json:"participants"`
	State        proto.PlaybackState `json:"state"`
	CreatedAt    int64               `json:"createdAt"`
}

// RoomListResponse wraps the active rooms.
type RoomListResponse struct {
	Rooms []RoomSummaryResponse `json:"rooms"`
}

// Health reports the number of active rooms.
// GET /health
func (h *RoomHandlers) Health(c *gin.Context) {
	stats := h.rooms.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		Rooms:        stats.Rooms,
		Participants: stats.Participants,
	})
}

// ListRooms lists active rooms with participant counts and playback state.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms := h.rooms.List()

	response := RoomListResponse{Rooms: make([]RoomSummaryResponse, 0, len(rooms))}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, RoomSummaryResponse{
			RoomID:       room.ID,
			Participants: room.Participants,
			State:        toPlaybackState(room.Playback),
			CreatedAt:    room.CreatedAt.UnixMilli(),
		})
	}

	h.log.Debug().Int("room_count", len(rooms)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns a single room snapshot.
// GET /api/rooms/:roomId
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	snap, ok := h.rooms.Snapshot(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, toRoomInfo(snap))
}
