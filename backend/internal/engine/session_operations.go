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
	"sapling-graph/backend/internal/session"
	apperrors "sapling-graph/backend/pkg/errors"
)

// SessionTurn is one tutor reply inside a learning session
type SessionTurn struct {
	SessionID   string                `json:"session_id"`
	Mode        string                `json:"mode"`
	Reply       string                `json:"reply"`
	GraphUpdate *graph.UpdatePayload  `json:"graph_update,omitempty"`
	Changes     []graph.MasteryChange `json:"mastery_changes"`
	Skipped     int                   `json:"skipped_entries"`
}

// SessionHistory is a session with its full transcript
type SessionHistory struct {
	Session  *session.Session  `json:"session"`
	Messages []session.Message `json:"messages"`
}

// StartSession opens a learning session and returns the tutor's opening
// message. The recap of the user's last finished session is passed to the
// tutor.
func (e *Engine) StartSession(ctx context.Context, userID, mode, topic string) (turn *SessionTurn, err error) {
	ctx, span := e.startSpan(ctx, "StartSession", userAttr(userID))
	defer func() { endSpan(span, err) }()

	if e.proposer == nil {
		return nil, apperrors.ErrAIDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	last, err := e.sessions.LastEnded(ctx, userID)
	if err != nil {
		return nil, err
	}
	recap := ""
	if last != nil {
		recap = session.Recap(last.Summary)
	}

	mode = session.NormalizeMode(mode)
	req := agent.TutorRequest{Mode: mode, LastSummary: recap, Opening: true, Topic: strings.TrimSpace(topic)}
	proposal, err := e.tutor(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Start(ctx, userID, mode, topic)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(sessionAttr(sess.ID))
	return e.recordTurn(ctx, sess, "", proposal)
}

// Chat sends a learner message within a session
func (e *Engine) Chat(ctx context.Context, sessionID, message string) (turn *SessionTurn, err error) {
	ctx, span := e.startSpan(ctx, "Chat", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidation("message", "must not be empty")
	}
	return e.continueSession(ctx, sessionID, agent.TutorRequest{Message: message}, message)
}

// SessionAction asks the tutor for a hint, a re-explanation or a move to
// the next concept
func (e *Engine) SessionAction(ctx context.Context, sessionID, action string) (turn *SessionTurn, err error) {
	ctx, span := e.startSpan(ctx, "SessionAction", sessionAttr(sessionID), attribute.String("session.action", action))
	defer func() { endSpan(span, err) }()

	action = strings.ToLower(strings.TrimSpace(action))
	if !agent.ValidAction(action) {
		return nil, apperrors.NewValidation("action_type", "must be hint, confused or skip")
	}
	return e.continueSession(ctx, sessionID, agent.TutorRequest{Action: action}, "")
}

// EndSession closes a session and returns it with its recap. Ending a
// finished session returns the recap already stored.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (sess *session.Session, err error) {
	ctx, span := e.startSpan(ctx, "EndSession", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	sess, err = e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return sess, nil
	}
	msgs, err := e.sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ended := e.now()
	started := ended
	if sess.StartedAt != nil {
		started = *sess.StartedAt
	}
	sum := session.Summarize(msgs, started, ended)
	recs, err := e.graph.GetRecommendations(ctx, sess.UserID)
	if err != nil {
		e.logger.Warn("Failed to load recommendations for recap", zap.String("session_id", sessionID), zap.Error(err))
	}
	for _, r := range recs {
		if len(sum.RecommendedNext) == constants.SessionRecommendedNext {
			break
		}
		sum.RecommendedNext = append(sum.RecommendedNext, r.ConceptName)
	}

	sess, err = e.sessions.End(ctx, sessionID, sum)
	if err != nil {
		return nil, err
	}
	concept := sess.Topic
	if len(sum.ConceptsCovered) > 0 {
		concept = sum.ConceptsCovered[0]
	}
	e.recordRoomActivity(ctx, sess.UserID, constants.ActivitySessionCompleted, concept,
		fmt.Sprintf("%d concepts in %d min", len(sum.ConceptsCovered), sum.TimeSpentMinutes))
	return sess, nil
}

// ListSessions returns a user's recent sessions, newest first
func (e *Engine) ListSessions(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	return e.sessions.List(ctx, userID, limit)
}

// ResumeSession returns a session and its transcript
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) (h *SessionHistory, err error) {
	ctx, span := e.startSpan(ctx, "ResumeSession", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionHistory{Session: sess, Messages: msgs}, nil
}

// continueSession replays the transcript to the tutor, then stores the
// learner's message (if any) and the reply
func (e *Engine) continueSession(ctx context.Context, sessionID string, req agent.TutorRequest, userMessage string) (*SessionTurn, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, apperrors.NewValidation("session_id", "session has ended")
	}
	if e.proposer == nil {
		return nil, apperrors.ErrAIDisabled
	}
	msgs, err := e.sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req.Mode = sess.Mode
	req.History = make([]agent.Turn, 0, len(msgs))
	for _, m := range msgs {
		req.History = append(req.History, agent.Turn{Role: m.Role, Content: m.Content})
	}

	proposal, err := e.tutor(ctx, sess.UserID, req)
	if err != nil {
		return nil, err
	}
	return e.recordTurn(ctx, sess, userMessage, proposal)
}

// tutor fills in the learner's name and graph and asks for a reply
func (e *Engine) tutor(ctx context.Context, userID string, req agent.TutorRequest) (*agent.Proposal, error) {
	g, err := e.graph.ReadGraph(ctx, userID)
	if err != nil {
		return nil, err
	}
	req.StudentName = e.userName(ctx, userID)
	req.Nodes = g.Nodes
	return e.proposer.Tutor(ctx, req)
}

// recordTurn merges the reply's graph update and appends the exchange to
// the transcript
func (e *Engine) recordTurn(ctx context.Context, sess *session.Session, userMessage string, proposal *agent.Proposal) (*SessionTurn, error) {
	if userMessage != "" {
		if _, err := e.sessions.Append(ctx, sess.ID, session.RoleUser, userMessage, nil, nil); err != nil {
			return nil, err
		}
	}
	changes, err := e.graph.ApplyGraphUpdate(ctx, sess.UserID, proposal.Payload)
	if err != nil {
		return nil, err
	}

	var update *graph.UpdatePayload
	if !proposal.Payload.IsEmpty() {
		update = &proposal.Payload
	}
	if _, err := e.sessions.Append(ctx, sess.ID, session.RoleAssistant, proposal.Reply, update, changes); err != nil {
		return nil, err
	}
	return &SessionTurn{
		SessionID:   sess.ID,
		Mode:        sess.Mode,
		Reply:       proposal.Reply,
		GraphUpdate: update,
		Changes:     changes,
		Skipped:     proposal.Payload.Skipped,
	}, nil
}
