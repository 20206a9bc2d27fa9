// Package engine is the entry point the HTTP layer and tools call into. It
// wires the graph repository, course-context aggregator, review store,
// quiz attempts, learning sessions, study rooms, matcher and AI proposer
// over one record store.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/agent"
	"sapling-graph/backend/internal/coursectx"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/quiz"
	"sapling-graph/backend/internal/review"
	"sapling-graph/backend/internal/room"
	"sapling-graph/backend/internal/session"
	"sapling-graph/backend/internal/store"
	"sapling-graph/backend/pkg/logger"
)

const tracerName = "sapling-graph/engine"

// Engine exposes every graph operation to the glue layer
type Engine struct {
	graph    *graph.Repository
	courses  *coursectx.Aggregator
	reviews  *review.Service
	attempts *quiz.Attempts
	sessions *session.Service
	rooms    *room.Service
	proposer *agent.Proposer
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type options struct {
	logger    *zap.Logger
	cache     coursectx.Cache
	completer agent.Completer
	now       func() time.Time
}

// Option configures an Engine
type Option func(*options)

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCache fronts course-context reads with a cache
func WithCache(c coursectx.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithCompleter enables the AI-backed operations
func WithCompleter(c agent.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithClock overrides the timestamp source of every component
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an engine over a record store
func New(s store.Store, opts ...Option) *Engine {
	o := options{
		logger: logger.Get(),
		cache:  coursectx.NopCache{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	courses := coursectx.NewAggregator(s,
		coursectx.WithCache(o.cache),
		coursectx.WithClock(o.now),
	)
	e := &Engine{
		graph: graph.NewRepository(s,
			graph.WithLogger(o.logger),
			graph.WithClock(o.now),
			graph.WithContextRebuilder(courses),
		),
		courses:  courses,
		reviews:  review.NewService(s),
		attempts: quiz.NewAttempts(s, o.now),
		sessions: session.NewService(s, o.now),
		rooms:    room.NewService(s, o.now),
		logger:   o.logger,
		tracer:   otel.Tracer(tracerName),
		now:      o.now,
	}
	if o.completer != nil {
		e.proposer = agent.NewProposer(o.completer)
	}
	return e
}

// AIEnabled reports whether a completion service is configured
func (e *Engine) AIEnabled() bool {
	return e.proposer != nil
}

// Graph exposes the repository for maintenance tools
func (e *Engine) Graph() *graph.Repository {
	return e.graph
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func userAttr(userID string) attribute.KeyValue {
	return attribute.String("user.id", userID)
}

func courseAttr(course string) attribute.KeyValue {
	return attribute.String("course.name", course)
}

func sessionAttr(sessionID string) attribute.KeyValue {
	return attribute.String("session.id", sessionID)
}

func roomAttr(roomID string) attribute.KeyValue {
	return attribute.String("room.id", roomID)
}

// userName returns the display name of a user, or "" when unknown
func (e *Engine) userName(ctx context.Context, userID string) string {
	if user, err := e.graph.GetUser(ctx, userID); err == nil {
		return user.Name
	}
	return ""
}
