package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/agent"
	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/mastery"
	"sapling-graph/backend/internal/quiz"
	apperrors "sapling-graph/backend/pkg/errors"
)

// GeneratedQuiz is a stored quiz as shown to the learner, without the
// answer key
type GeneratedQuiz struct {
	QuizID        string          `json:"quiz_id"`
	ConceptNodeID string          `json:"concept_node_id"`
	ConceptName   string          `json:"concept_name"`
	Difficulty    string          `json:"difficulty"`
	Questions     []quiz.Question `json:"questions"`
}

// QuizSubmission is a graded quiz and its effect on the concept
type QuizSubmission struct {
	QuizID        string                `json:"quiz_id"`
	ConceptName   string                `json:"concept_name"`
	Score         int                   `json:"score"`
	Total         int                   `json:"total"`
	MasteryBefore float64               `json:"mastery_before"`
	MasteryAfter  float64               `json:"mastery_after"`
	Results       []quiz.QuestionResult `json:"results"`
}

// GenerateQuiz asks the model for a multiple-choice quiz on one of the
// user's concepts and stores it as an open attempt. numQuestions <= 0
// means the default count; an empty difficulty means medium.
func (e *Engine) GenerateQuiz(ctx context.Context, userID, nodeID string, numQuestions int, difficulty string) (gq *GeneratedQuiz, err error) {
	ctx, span := e.startSpan(ctx, "GenerateQuiz", userAttr(userID), attribute.String("node.id", nodeID))
	defer func() { endSpan(span, err) }()

	if e.proposer == nil {
		return nil, apperrors.ErrAIDisabled
	}
	difficulty, err = normalizeDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	if numQuestions <= 0 {
		numQuestions = constants.DefaultQuizQuestions
	}
	numQuestions = min(numQuestions, constants.MaxQuizQuestions)

	node, err := e.graph.GetNode(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}
	g, err := e.graph.ReadGraph(ctx, userID)
	if err != nil {
		return nil, err
	}
	related := make([]graph.ConceptNode, 0, constants.QuizGraphContextNodes)
	for _, n := range g.Nodes {
		if n.IsSubjectRoot || n.ID == node.ID {
			continue
		}
		if len(related) == constants.QuizGraphContextNodes {
			break
		}
		related = append(related, n)
	}
	existing, err := e.reviews.Get(ctx, userID, nodeID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}

	questions, err := e.proposer.GenerateQuiz(ctx, agent.QuizRequest{
		ConceptName:  node.ConceptName,
		Mastery:      node.MasteryScore,
		Difficulty:   difficulty,
		NumQuestions: numQuestions,
		Nodes:        related,
		Review:       existing,
	})
	if err != nil {
		return nil, err
	}

	attempt, err := e.attempts.Create(ctx, userID, nodeID, difficulty, questions)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("quiz.questions", len(questions)))
	e.logger.Info("Quiz generated",
		zap.String("user_id", userID),
		zap.String("quiz_id", attempt.ID),
		zap.String("concept", node.ConceptName),
		zap.Int("questions", len(questions)),
	)
	return &GeneratedQuiz{
		QuizID:        attempt.ID,
		ConceptNodeID: nodeID,
		ConceptName:   node.ConceptName,
		Difficulty:    difficulty,
		Questions:     quiz.Public(questions),
	}, nil
}

// SubmitQuiz grades answers against a stored attempt and routes the
// mastery delta through the merger. An attempt is graded once; a quiz
// owned by another user is reported as not found. With a completion
// service configured, the node's review profile is refreshed afterwards
// on a best-effort basis.
func (e *Engine) SubmitQuiz(ctx context.Context, userID, quizID string, answers []quiz.Answer) (sub *QuizSubmission, err error) {
	ctx, span := e.startSpan(ctx, "SubmitQuiz", userAttr(userID), attribute.String("quiz.id", quizID))
	defer func() { endSpan(span, err) }()

	attempt, err := e.attempts.Get(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, apperrors.NewNotFound(quiz.KindQuizAttempt, quizID)
	}
	if attempt.Completed() {
		return nil, apperrors.NewValidation("quiz_id", "quiz already submitted")
	}
	node, err := e.graph.GetNode(ctx, userID, attempt.ConceptNodeID)
	if err != nil {
		return nil, err
	}

	graded := quiz.Score(attempt.Questions, answers)
	delta := quiz.MasteryDelta(graded.Correct, graded.Total)
	changes, err := e.graph.ApplyGraphUpdate(ctx, userID, graph.UpdatePayload{
		UpdatedNodes: []graph.NodeUpdate{{ConceptName: node.ConceptName, MasteryDelta: delta}},
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.attempts.Complete(ctx, quizID, answers, graded); err != nil {
		return nil, err
	}

	sub = &QuizSubmission{
		QuizID:        quizID,
		ConceptName:   node.ConceptName,
		Score:         graded.Correct,
		Total:         graded.Total,
		MasteryBefore: node.MasteryScore,
		MasteryAfter:  mastery.ApplyDelta(node.MasteryScore, delta),
		Results:       graded.Results,
	}
	if len(changes) > 0 {
		sub.MasteryBefore = changes[0].Before
		sub.MasteryAfter = changes[0].After
	}

	e.recordRoomActivity(ctx, userID, constants.ActivityQuizCompleted, node.ConceptName,
		fmt.Sprintf("scored %d/%d", graded.Correct, graded.Total))
	if e.proposer != nil {
		e.refreshReview(ctx, userID, node, graded)
	}
	return sub, nil
}

func normalizeDifficulty(d string) (string, error) {
	switch d = strings.ToLower(strings.TrimSpace(d)); d {
	case "":
		return constants.DefaultDifficulty, nil
	case "easy", "medium", "hard":
		return d, nil
	}
	return "", apperrors.NewValidation("difficulty", "must be easy, medium or hard")
}
