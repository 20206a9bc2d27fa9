// Package session stores learning sessions: a tutoring conversation with
// its messages, the graph updates each reply carried, and the recap
// written when the session ends.
package session

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// KindSession is reported in not-found errors
const KindSession = "session"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one tutoring conversation
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Mode         string     `json:"mode"`
	Topic        string     `json:"topic"`
	StartedAt    *time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	MessageCount int        `json:"message_count"`
	IsActive     bool       `json:"is_active"`
	Summary      *Summary   `json:"summary,omitempty"`
}

// Message is one stored turn. Assistant messages keep the update they
// proposed and the mastery changes it produced.
type Message struct {
	ID          string                `json:"id"`
	Role        string                `json:"role"`
	Content     string                `json:"content"`
	GraphUpdate *graph.UpdatePayload  `json:"graph_update,omitempty"`
	Changes     []graph.MasteryChange `json:"mastery_changes,omitempty"`
	CreatedAt   *time.Time            `json:"created_at"`
	seq         int
}

// Summary recaps a finished session
type Summary struct {
	ConceptsCovered  []string              `json:"concepts_covered"`
	MasteryChanges   []graph.MasteryChange `json:"mastery_changes"`
	NewConnections   []string              `json:"new_connections"`
	TimeSpentMinutes int                   `json:"time_spent_minutes"`
	RecommendedNext  []string              `json:"recommended_next"`
}

type changeSet struct {
	Changes []graph.MasteryChange `json:"changes"`
}

// NormalizeMode maps unknown or empty modes to socratic
func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case constants.ModeSocratic, constants.ModeExpository, constants.ModeTeachback:
		return m
	}
	return constants.ModeSocratic
}

// Service reads and writes sessions and their messages
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a session service. A nil clock means UTC wall time.
func NewService(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  s,
		logger: logger.Get(),
		now:    now,
		newID:  uuid.NewString,
	}
}

// Start opens a session
func (s *Service) Start(ctx context.Context, userID, mode, topic string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	started := s.now()
	sess := &Session{
		ID:        s.newID(),
		UserID:    userID,
		Mode:      NormalizeMode(mode),
		Topic:     strings.TrimSpace(topic),
		StartedAt: &started,
		IsActive:  true,
	}
	err := s.store.Insert(ctx, constants.TableSessions, store.Row{
		"id":         sess.ID,
		"user_id":    sess.UserID,
		"mode":       sess.Mode,
		"topic":      sess.Topic,
		"started_at": started,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("mode", sess.Mode),
	)
	return sess, nil
}

// Get loads one session with its message count
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	rows, err := s.store.Select(ctx, constants.TableSessions, store.Where(store.Eq("id", id)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindSession, id)
	}
	sess := sessionFromRow(rows[0])
	counts, err := s.messageCounts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	sess.MessageCount = counts[id]
	return sess, nil
}

// List returns a user's most recent sessions, newest first
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = constants.DefaultSessionListLimit
	}
	limit = min(limit, constants.MaxSessionListLimit)

	rows, err := s.store.Select(ctx, constants.TableSessions,
		store.Where(store.Eq("user_id", userID)).OrderBy("started_at", true).OrderBy("id", false).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.GetString("id"))
	}
	counts, err := s.messageCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		sess := sessionFromRow(row)
		sess.MessageCount = counts[sess.ID]
		out = append(out, *sess)
	}
	return out, nil
}

// LastEnded returns the user's most recently ended session, or nil
func (s *Service) LastEnded(ctx context.Context, userID string) (*Session, error) {
	sessions, err := s.List(ctx, userID, constants.MaxSessionListLimit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if !sessions[i].IsActive && sessions[i].Summary != nil {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// Append stores a message at the end of a session's history
func (s *Service) Append(ctx context.Context, sessionID, role, content string, update *graph.UpdatePayload, changes []graph.MasteryChange) (*Message, error) {
	existing, err := s.store.Select(ctx, constants.TableMessages, store.Where(store.Eq("session_id", sessionID)))
	if err != nil {
		return nil, err
	}

	created := s.now()
	msg := &Message{
		ID:          s.newID(),
		Role:        role,
		Content:     content,
		GraphUpdate: update,
		Changes:     changes,
		CreatedAt:   &created,
		seq:         len(existing),
	}
	row := store.Row{
		"id":         msg.ID,
		"session_id": sessionID,
		"seq":        msg.seq,
		"role":       role,
		"content":    content,
		"created_at": created,
	}
	if update != nil {
		doc, err := store.JSONDoc(update)
		if err != nil {
			return nil, apperrors.NewValidation("graph_update", err.Error())
		}
		row["graph_update_json"] = doc
	}
	if len(changes) > 0 {
		doc, err := store.JSONDoc(changeSet{Changes: changes})
		if err != nil {
			return nil, apperrors.NewValidation("mastery_changes", err.Error())
		}
		row["changes_json"] = doc
	}
	if err := s.store.Insert(ctx, constants.TableMessages, row); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns a session's history in order
func (s *Service) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.store.Select(ctx, constants.TableMessages,
		store.Where(store.Eq("session_id", sessionID)).OrderBy("seq", false))
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		msg, err := messageFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].seq != out[j].seq {
			return out[i].seq < out[j].seq
		}
		return timeBefore(out[i].CreatedAt, out[j].CreatedAt)
	})
	return out, nil
}

// End closes a session and stores its recap. Ending an ended session
// returns the stored recap unchanged.
func (s *Service) End(ctx context.Context, id string, summary Summary) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return sess, nil
	}

	doc, err := store.JSONDoc(summary)
	if err != nil {
		return nil, apperrors.NewValidation("summary", err.Error())
	}
	ended := s.now()
	if _, err := s.store.Update(ctx, constants.TableSessions, store.Row{
		"ended_at":     ended,
		"summary_json": doc,
	}, store.Eq("id", id)); err != nil {
		return nil, err
	}

	sess.EndedAt = &ended
	sess.IsActive = false
	sess.Summary = &summary
	s.logger.Info("Session ended",
		zap.String("session_id", id),
		zap.Int("concepts_covered", len(summary.ConceptsCovered)),
		zap.Int("minutes", summary.TimeSpentMinutes),
	)
	return sess, nil
}

// Summarize recaps a session from its messages. Concepts are listed in
// the order they first came up; each concept's mastery change spans its
// first before to its last after.
func Summarize(messages []Message, startedAt, endedAt time.Time) Summary {
	sum := Summary{
		ConceptsCovered: []string{},
		MasteryChanges:  []graph.MasteryChange{},
		NewConnections:  []string{},
		RecommendedNext: []string{},
	}
	if endedAt.After(startedAt) {
		sum.TimeSpentMinutes = int(endedAt.Sub(startedAt).Minutes())
	}

	covered := make(map[string]bool)
	cover := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || covered[key] {
			return
		}
		covered[key] = true
		sum.ConceptsCovered = append(sum.ConceptsCovered, strings.TrimSpace(name))
	}
	connected := make(map[string]bool)
	changeIdx := make(map[string]int)

	for _, m := range messages {
		if m.GraphUpdate != nil {
			for _, n := range m.GraphUpdate.NewNodes {
				cover(n.ConceptName)
			}
			for _, u := range m.GraphUpdate.UpdatedNodes {
				cover(u.ConceptName)
			}
			for _, e := range m.GraphUpdate.NewEdges {
				link := strings.TrimSpace(e.Source) + " → " + strings.TrimSpace(e.Target)
				if !connected[link] {
					connected[link] = true
					sum.NewConnections = append(sum.NewConnections, link)
				}
			}
		}
		for _, c := range m.Changes {
			cover(c.Concept)
			if i, ok := changeIdx[c.Concept]; ok {
				sum.MasteryChanges[i].After = c.After
				continue
			}
			changeIdx[c.Concept] = len(sum.MasteryChanges)
			sum.MasteryChanges = append(sum.MasteryChanges, c)
		}
	}
	return sum
}

// Recap renders a summary as one line for the next session's prompt
func Recap(sum *Summary) string {
	if sum == nil || len(sum.ConceptsCovered) == 0 {
		return ""
	}
	return "Covered " + strings.Join(sum.ConceptsCovered, ", ")
}

func (s *Service) messageCounts(ctx context.Context, sessionIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}
	rows, err := s.store.Select(ctx, constants.TableMessages, store.Where(store.InStrings("session_id", sessionIDs)))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.GetString("session_id")]++
	}
	return counts, nil
}

func sessionFromRow(row store.Row) *Session {
	sess := &Session{
		ID:        row.GetString("id"),
		UserID:    row.GetString("user_id"),
		Mode:      NormalizeMode(row.GetString("mode")),
		Topic:     row.GetString("topic"),
		StartedAt: row.GetTime("started_at"),
		EndedAt:   row.GetTime("ended_at"),
	}
	sess.IsActive = sess.EndedAt == nil
	if doc := row.GetJSON("summary_json"); len(doc) > 0 {
		var sum Summary
		if err := row.DecodeJSON("summary_json", &sum); err == nil {
			sess.Summary = &sum
		}
	}
	return sess
}

func messageFromRow(row store.Row) (Message, error) {
	msg := Message{
		ID:        row.GetString("id"),
		Role:      row.GetString("role"),
		Content:   row.GetString("content"),
		CreatedAt: row.GetTime("created_at"),
		seq:       row.GetInt("seq"),
	}
	if doc := row.GetJSON("graph_update_json"); len(doc) > 0 {
		var p graph.UpdatePayload
		if err := row.DecodeJSON("graph_update_json", &p); err != nil {
			return msg, apperrors.NewStoreFailed("decode", constants.TableMessages, err)
		}
		msg.GraphUpdate = &p
	}
	if doc := row.GetJSON("changes_json"); len(doc) > 0 {
		var cs changeSet
		if err := row.DecodeJSON("changes_json", &cs); err != nil {
			return msg, apperrors.NewStoreFailed("decode", constants.TableMessages, err)
		}
		msg.Changes = cs.Changes
	}
	return msg, nil
}

func timeBefore(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	return a.Before(*b)
}
