package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bitwar/backend/go/internal/v1/middleware"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// CreateRoom makes a new battle room owned by the caller.
// POST /rooms/create
func (h *Handler) CreateRoom(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var params rooms.CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), username, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms returns every active room with its roster.
// GET /rooms
func (h *Handler) ListRooms(c *gin.Context) {
	infos, err := h.rooms.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": infos})
}

// GetRoom returns one room and its participants.
// GET /rooms/:id
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	ps, err := h.rooms.Participants(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.RoomInfo{Room: *room, Participants: types.ParticipantInfos(ps)})
}

// JoinRoom admits the caller to a room. Private rooms require the password.
// POST /rooms/:id/join
func (h *Handler) JoinRoom(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional for public rooms

	p, err := h.rooms.Join(c.Request.Context(), c.Param("id"), username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined room", "participant": p})
}

// KickParticipant removes a user from the room. Host only.
// POST /rooms/:id/kick
func (h *Handler) KickParticipant(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	if err := h.rooms.Kick(c.Request.Context(), c.Param("id"), username, req.Username); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "participant kicked"})
}

// StartBattle transitions the room to playing and picks the question.
// Host only; the lobby countdown calls the same service path.
// POST /rooms/:id/start
func (h *Handler) StartBattle(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	res, err := h.rooms.Start(c.Request.Context(), c.Param("id"), username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "battle started",
		"question_id": res.QuestionID,
		"start_time":  res.StartTime,
		"is_ranked":   res.IsRanked,
	})
}

// UpdateRoomStatus moves the room forward in its lifecycle. Host only;
// only "playing" and "closed" are reachable through this route.
// PATCH /rooms/:id/status
func (h *Handler) UpdateRoomStatus(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Status types.RoomStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	if err := h.rooms.UpdateStatus(c.Request.Context(), c.Param("id"), username, req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "status updated", "status": req.Status})
}
