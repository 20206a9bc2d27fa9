package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/agent"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/quiz"
	apperrors "sapling-graph/backend/pkg/errors"
)

// TutorTurn is the outcome of one AI tutoring exchange
type TutorTurn struct {
	Reply   string                `json:"reply"`
	Changes []graph.MasteryChange `json:"mastery_changes"`
	Skipped int                   `json:"skipped_entries"`
}

// ProposeAndApply sends the learner's message to the tutor model and
// merges whatever graph update comes back.
func (e *Engine) ProposeAndApply(ctx context.Context, userID, message string) (turn *TutorTurn, err error) {
	ctx, span := e.startSpan(ctx, "ProposeAndApply", userAttr(userID))
	defer func() { endSpan(span, err) }()

	if e.proposer == nil {
		return nil, apperrors.ErrAIDisabled
	}

	g, err := e.graph.ReadGraph(ctx, userID)
	if err != nil {
		return nil, err
	}
	proposal, err := e.proposer.Propose(ctx, e.userName(ctx, userID), g.Nodes, message)
	if err != nil {
		return nil, err
	}

	changes, err := e.graph.ApplyGraphUpdate(ctx, userID, proposal.Payload)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("update.changes", len(changes)))
	return &TutorTurn{Reply: proposal.Reply, Changes: changes, Skipped: proposal.Payload.Skipped}, nil
}

// refreshReview folds a graded quiz into the node's review profile.
// Failures are logged and dropped.
func (e *Engine) refreshReview(ctx context.Context, userID string, node *graph.ConceptNode, graded quiz.Result) {
	existing, err := e.reviews.Get(ctx, userID, node.ID)
	if err != nil && !apperrors.IsNotFound(err) {
		e.logger.Warn("Failed to load review context", zap.String("node_id", node.ID), zap.Error(err))
		return
	}
	doc, err := e.proposer.RefreshReview(ctx, agent.ReviewInput{
		ConceptName: node.ConceptName,
		StudentName: e.userName(ctx, userID),
		Score:       graded.Correct,
		Total:       graded.Total,
		Results:     graded.Results,
		Existing:    existing,
	})
	if err != nil {
		e.logger.Warn("Review context refresh failed",
			zap.String("user_id", userID),
			zap.String("concept", node.ConceptName),
			zap.Error(err),
		)
		return
	}
	if err := e.reviews.Save(ctx, userID, node.ID, doc); err != nil {
		e.logger.Warn("Failed to save review context", zap.String("node_id", node.ID), zap.Error(err))
	}
}

// SaveReviewContext replaces the review profile of one of a user's nodes
func (e *Engine) SaveReviewContext(ctx context.Context, userID, nodeID string, doc map[string]any) (err error) {
	ctx, span := e.startSpan(ctx, "SaveReviewContext", userAttr(userID), attribute.String("node.id", nodeID))
	defer func() { endSpan(span, err) }()

	if _, err := e.graph.GetNode(ctx, userID, nodeID); err != nil {
		return err
	}
	return e.reviews.Save(ctx, userID, nodeID, doc)
}

// GetReviewContext returns the review profile of one of a user's nodes
func (e *Engine) GetReviewContext(ctx context.Context, userID, nodeID string) (map[string]any, error) {
	return e.reviews.Get(ctx, userID, nodeID)
}
