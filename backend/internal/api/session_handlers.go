package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "sapling-graph/backend/pkg/errors"
)

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Topic  string `json:"topic"`
		Mode   string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	turn, err := h.engine.StartSession(c.Request.Context(), req.UserID, req.Mode, req.Topic)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) chat(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	turn, err := h.engine.Chat(c.Request.Context(), c.Param("session_id"), req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) sessionAction(c *gin.Context) {
	var req struct {
		ActionType string `json:"action_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	turn, err := h.engine.SessionAction(c.Request.Context(), c.Param("session_id"), req.ActionType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) endSession(c *gin.Context) {
	sess, err := h.engine.EndSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "summary": sess.Summary})
}

func (h *Handler) resumeSession(c *gin.Context) {
	history, err := h.engine.ResumeSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) listSessions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(c, apperrors.NewValidation("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	sessions, err := h.engine.ListSessions(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
