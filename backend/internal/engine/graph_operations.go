package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"sapling-graph/backend/internal/graph"
)

// ReadGraph returns a user's graph with synthetic subject roots
func (e *Engine) ReadGraph(ctx context.Context, userID string) (result *graph.Graph, err error) {
	ctx, span := e.startSpan(ctx, "ReadGraph", userAttr(userID))
	defer func() { endSpan(span, err) }()

	return e.graph.ReadGraph(ctx, userID)
}

// ApplyGraphUpdate merges a proposed update into a user's graph
func (e *Engine) ApplyGraphUpdate(ctx context.Context, userID string, payload graph.UpdatePayload) (changes []graph.MasteryChange, err error) {
	ctx, span := e.startSpan(ctx, "ApplyGraphUpdate",
		userAttr(userID),
		attribute.Int("update.new_nodes", len(payload.NewNodes)),
		attribute.Int("update.updated_nodes", len(payload.UpdatedNodes)),
		attribute.Int("update.new_edges", len(payload.NewEdges)),
	)
	defer func() { endSpan(span, err) }()

	return e.graph.ApplyGraphUpdate(ctx, userID, payload)
}

// GetRecommendations returns a user's weakest non-mastered concepts
func (e *Engine) GetRecommendations(ctx context.Context, userID string) (recs []graph.Recommendation, err error) {
	ctx, span := e.startSpan(ctx, "GetRecommendations", userAttr(userID))
	defer func() { endSpan(span, err) }()

	return e.graph.GetRecommendations(ctx, userID)
}

// GetNode returns one of a user's nodes
func (e *Engine) GetNode(ctx context.Context, userID, nodeID string) (*graph.ConceptNode, error) {
	return e.graph.GetNode(ctx, userID, nodeID)
}

// UpsertUser creates or updates a user row
func (e *Engine) UpsertUser(ctx context.Context, user graph.User) error {
	return e.graph.UpsertUser(ctx, user)
}

// ListStudents returns the student directory
func (e *Engine) ListStudents(ctx context.Context) (students []graph.Student, err error) {
	ctx, span := e.startSpan(ctx, "ListStudents")
	defer func() { endSpan(span, err) }()

	return e.graph.ListStudents(ctx)
}

// DedupNodes removes duplicate concept nodes across all users
func (e *Engine) DedupNodes(ctx context.Context) (result *graph.DedupResult, err error) {
	ctx, span := e.startSpan(ctx, "DedupNodes")
	defer func() { endSpan(span, err) }()

	return e.graph.DedupNodes(ctx)
}
