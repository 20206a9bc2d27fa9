// Package api exposes the engine over HTTP with gin
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/engine"
	"sapling-graph/backend/pkg/tracing"
)

// Options configures the router
type Options struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	AllowOrigins   []string
	Tracing        bool
}

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Handler serves the graph API
type Handler struct {
	engine  *engine.Engine
	logger  *zap.Logger
	timeout time.Duration
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(e *engine.Engine, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	router := gin.New()
	if opts.Tracing {
		router.Use(otelgin.Middleware(tracing.ServiceName))
	}
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if opts.RequestTimeout > 0 {
		router.Use(requestTimeout(opts.RequestTimeout))
	}

	h := &Handler{engine: e, logger: log, timeout: opts.RequestTimeout}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ai_enabled": e.AIEnabled()})
	})

	api := router.Group("/api")
	{
		// Graph
		api.GET("/graph/:user_id", h.getGraph)
		api.GET("/graph/:user_id/recommendations", h.getRecommendations)
		api.POST("/graph/:user_id/update", h.applyUpdate)

		// Courses
		api.GET("/courses/:user_id", h.listCourses)
		api.POST("/courses/:user_id", h.addCourse)
		api.PATCH("/courses/:user_id/:course", h.updateCourseColor)
		api.DELETE("/courses/:user_id/:course", h.deleteCourse)

		// Course context
		api.GET("/course-context/:course", h.getCourseContext)
		api.POST("/course-context/:course/rebuild", h.rebuildCourseContext)

		// Learning
		api.POST("/learn/:user_id", h.learn)
		api.POST("/quiz/generate", h.generateQuiz)
		api.POST("/quiz/submit", h.submitQuiz)
		api.GET("/review/:user_id/:node_id", h.getReview)
		api.PUT("/review/:user_id/:node_id", h.putReview)

		// Sessions
		api.POST("/sessions", h.startSession)
		api.GET("/sessions/:session_id", h.resumeSession)
		api.POST("/sessions/:session_id/chat", h.chat)
		api.POST("/sessions/:session_id/action", h.sessionAction)
		api.POST("/sessions/:session_id/end", h.endSession)
		api.GET("/users/:user_id/sessions", h.listSessions)

		// Social
		api.POST("/match", h.match)
		api.POST("/school-match", h.schoolMatch)
		api.GET("/students", h.listStudents)

		// Rooms
		api.POST("/rooms", h.createRoom)
		api.POST("/rooms/join", h.joinRoom)
		api.GET("/users/:user_id/rooms", h.listRooms)
		api.GET("/rooms/:room_id/overview", h.roomOverview)
		api.GET("/rooms/:room_id/activity", h.roomActivity)
		api.POST("/rooms/:room_id/match", h.roomMatch)
	}

	return router
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// requestTimeout bounds every store round-trip a request makes
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
