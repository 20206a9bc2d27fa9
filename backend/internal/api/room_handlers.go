package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createRoom(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		RoomName string `json:"room_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.engine.CreateRoom(c.Request.Context(), req.UserID, req.RoomName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": r.ID, "invite_code": r.InviteCode, "room": r})
}

func (h *Handler) joinRoom(c *gin.Context) {
	var req struct {
		UserID     string `json:"user_id" binding:"required"`
		InviteCode string `json:"invite_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.engine.JoinRoom(c.Request.Context(), req.UserID, req.InviteCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": r})
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms, err := h.engine.ListRooms(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) roomOverview(c *gin.Context) {
	ov, err := h.engine.RoomOverview(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *Handler) roomActivity(c *gin.Context) {
	feed, err := h.engine.RoomActivity(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": feed})
}

func (h *Handler) roomMatch(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	matches, err := h.engine.RoomMatches(c.Request.Context(), c.Param("room_id"), req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}
