package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/quiz"
	apperrors "sapling-graph/backend/pkg/errors"
)

// respondError maps the error taxonomy onto status codes. A request that
// ran into its deadline is reported as a context timeout for its route.
func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) && !apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
		err = apperrors.WrapContextTimeout(c.Request.Method+" "+c.FullPath(), h.timeout, err)
	}
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrAIDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext):
		h.logger.Warn("Request timed out",
			zap.String("path", c.FullPath()),
			zap.Duration("timeout", h.timeout),
			zap.Error(err),
		)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeAI):
		h.logger.Error("AI completion failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI completion failed"})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) getGraph(c *gin.Context) {
	g, err := h.engine.ReadGraph(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) getRecommendations(c *gin.Context) {
	recs, err := h.engine.GetRecommendations(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func (h *Handler) applyUpdate(c *gin.Context) {
	var payload graph.UpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}
	changes, err := h.engine.ApplyGraphUpdate(c.Request.Context(), c.Param("user_id"), payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mastery_changes": changes, "skipped_entries": payload.Skipped})
}

func (h *Handler) listCourses(c *gin.Context) {
	courses, err := h.engine.ListCourses(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *Handler) addCourse(c *gin.Context) {
	var req struct {
		CourseName string `json:"course_name" binding:"required"`
		Color      string `json:"color"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.AddCourse(c.Request.Context(), c.Param("user_id"), req.CourseName, req.Color)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyExisted {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) updateCourseColor(c *gin.Context) {
	var req struct {
		Color string `json:"color" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course := c.Param("course")
	if err := h.engine.UpdateCourseColor(c.Request.Context(), c.Param("user_id"), course, req.Color); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_name": course, "color": req.Color})
}

func (h *Handler) deleteCourse(c *gin.Context) {
	res, err := h.engine.DeleteCourse(c.Request.Context(), c.Param("user_id"), c.Param("course"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getCourseContext(c *gin.Context) {
	cc, err := h.engine.GetCourseContext(c.Request.Context(), c.Param("course"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cc)
}

func (h *Handler) rebuildCourseContext(c *gin.Context) {
	course := c.Param("course")
	if err := h.engine.UpdateCourseContext(c.Request.Context(), course); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt", "course_name": course})
}

func (h *Handler) learn(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	turn, err := h.engine.ProposeAndApply(c.Request.Context(), c.Param("user_id"), req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) generateQuiz(c *gin.Context) {
	var req struct {
		UserID        string `json:"user_id" binding:"required"`
		ConceptNodeID string `json:"concept_node_id" binding:"required"`
		NumQuestions  int    `json:"num_questions"`
		Difficulty    string `json:"difficulty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	gq, err := h.engine.GenerateQuiz(c.Request.Context(), req.UserID, req.ConceptNodeID, req.NumQuestions, req.Difficulty)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gq)
}

func (h *Handler) submitQuiz(c *gin.Context) {
	var req struct {
		UserID  string        `json:"user_id" binding:"required"`
		QuizID  string        `json:"quiz_id" binding:"required"`
		Answers []quiz.Answer `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.engine.SubmitQuiz(c.Request.Context(), req.UserID, req.QuizID, req.Answers)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) getReview(c *gin.Context) {
	doc, err := h.engine.GetReviewContext(c.Request.Context(), c.Param("user_id"), c.Param("node_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) putReview(c *gin.Context) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.SaveReviewContext(c.Request.Context(), c.Param("user_id"), c.Param("node_id"), doc); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *Handler) match(c *gin.Context) {
	var req struct {
		UserID    string   `json:"user_id" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	matches, err := h.engine.FindStudyMatches(c.Request.Context(), req.UserID, req.MemberIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *Handler) schoolMatch(c *gin.Context) {
	var req struct {
		UserID     string   `json:"user_id" binding:"required"`
		ExcludeIDs []string `json:"exclude_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	matches, err := h.engine.FindSchoolMatches(c.Request.Context(), req.UserID, req.ExcludeIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.engine.ListStudents(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}
