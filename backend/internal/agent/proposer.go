// Package agent turns model output into graph updates and review
// profiles. Everything coming back from the model is treated as hostile:
// unusable output degrades to an empty update instead of an error.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/quiz"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer is the chat completion collaborator
type Completer interface {
	Generate(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// Proposal is one tutoring turn: the reply for the learner and the graph
// update the model attached to it.
type Proposal struct {
	Reply   string
	Payload graph.UpdatePayload
}

// ReviewInput is a finished quiz to fold into a review profile
type ReviewInput struct {
	ConceptName string
	StudentName string
	Score       int
	Total       int
	Results     any
	Existing    map[string]any
}

// Turn is one earlier message of a tutoring conversation
type Turn struct {
	Role    string
	Content string
}

// TutorRequest is one turn of a learning session. Opening asks for the
// session's greeting on Topic; otherwise the turn answers Message, or
// carries out Action when one is set.
type TutorRequest struct {
	StudentName string
	Nodes       []graph.ConceptNode
	Mode        string
	LastSummary string
	History     []Turn
	Opening     bool
	Topic       string
	Message     string
	Action      string
}

// QuizRequest describes the quiz to write for one concept
type QuizRequest struct {
	ConceptName  string
	Mastery      float64
	Difficulty   string
	NumQuestions int
	Nodes        []graph.ConceptNode
	Review       map[string]any
}

// Proposer asks the model for tutoring replies and review profiles
type Proposer struct {
	completer Completer
	logger    *zap.Logger
}

// NewProposer creates a proposer over a completion service
func NewProposer(c Completer) *Proposer {
	return &Proposer{
		completer: c,
		logger:    logger.Named("agent"),
	}
}

// Propose runs one tutoring turn against the learner's current graph.
// Only a failed completion is an error; a reply without a usable update
// block comes back with an empty payload.
func (p *Proposer) Propose(ctx context.Context, studentName string, nodes []graph.ConceptNode, message string) (*Proposal, error) {
	return p.Tutor(ctx, TutorRequest{StudentName: studentName, Nodes: nodes, Message: message})
}

// Tutor runs one turn of a learning session with its mode and history
func (p *Proposer) Tutor(ctx context.Context, req TutorRequest) (*Proposal, error) {
	system, err := buildSessionPrompt(req.StudentName, req.Nodes, req.Mode, req.LastSummary)
	if err != nil {
		return nil, err
	}

	raw, err := p.completer.Generate(ctx, system, renderTurn(req))
	if err != nil {
		return nil, err
	}

	reply, payload := ExtractGraphUpdate(raw)
	p.logger.Debug("Tutor turn proposed",
		zap.Int("new_nodes", len(payload.NewNodes)),
		zap.Int("updated_nodes", len(payload.UpdatedNodes)),
		zap.Int("new_edges", len(payload.NewEdges)),
		zap.Int("skipped", payload.Skipped),
	)
	return &Proposal{Reply: reply, Payload: payload}, nil
}

// RefreshReview asks the model to merge a quiz outcome into the existing
// review profile.
func (p *Proposer) RefreshReview(ctx context.Context, in ReviewInput) (map[string]any, error) {
	user, err := buildReviewPrompt(in)
	if err != nil {
		return nil, err
	}

	raw, err := p.completer.Generate(ctx, reviewInstructions, user)
	if err != nil {
		return nil, err
	}

	doc, err := ParseObject(raw)
	if err != nil {
		p.logger.Warn("Discarding malformed review profile",
			zap.String("concept", in.ConceptName),
			zap.Error(err),
		)
		return nil, err
	}
	return doc, nil
}

// GenerateQuiz asks the model for a quiz on one concept. Questions that
// cannot be graded are dropped; a quiz left with none is an error.
func (p *Proposer) GenerateQuiz(ctx context.Context, req QuizRequest) ([]quiz.Question, error) {
	user, err := buildQuizPrompt(req)
	if err != nil {
		return nil, err
	}

	raw, err := p.completer.Generate(ctx, quizInstructions, user)
	if err != nil {
		return nil, err
	}

	doc, err := ParseObject(raw)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(doc["questions"])
	if err != nil {
		return nil, apperrors.NewAIResponseInvalid("questions are not encodable", err)
	}
	var questions []quiz.Question
	if err := json.Unmarshal(encoded, &questions); err != nil {
		return nil, apperrors.NewAIResponseInvalid("questions is not a list of questions", err)
	}

	usable := quiz.Normalize(questions)
	if len(usable) == 0 {
		return nil, apperrors.NewAIResponseInvalid("quiz has no gradable questions", nil)
	}
	if req.NumQuestions > 0 && len(usable) > req.NumQuestions {
		usable = usable[:req.NumQuestions]
	}
	p.logger.Debug("Quiz generated",
		zap.String("concept", req.ConceptName),
		zap.Int("proposed", len(questions)),
		zap.Int("kept", len(usable)),
	)
	return usable, nil
}

// SummarizeRoom asks for a short description of a study group from one
// line per member
func (p *Proposer) SummarizeRoom(ctx context.Context, memberLines []string) (string, error) {
	raw, err := p.completer.Generate(ctx, roomSummaryInstructions, strings.Join(memberLines, "\n"))
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", apperrors.NewAIResponseInvalid("empty room summary", nil)
	}
	return summary, nil
}
