package quiz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// KindQuizAttempt is reported in not-found errors
const KindQuizAttempt = "quiz"

// Attempt is a generated quiz and, once submitted, its grade. The answer
// key never leaves the server before grading.
type Attempt struct {
	ID            string     `json:"quiz_id"`
	UserID        string     `json:"user_id"`
	ConceptNodeID string     `json:"concept_node_id"`
	Difficulty    string     `json:"difficulty"`
	Questions     []Question `json:"questions"`
	Answers       []Answer   `json:"answers,omitempty"`
	Score         int        `json:"score"`
	Total         int        `json:"total"`
	CreatedAt     *time.Time `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// Completed reports whether the attempt has been graded
func (a *Attempt) Completed() bool {
	return a.CompletedAt != nil
}

// questionSet and answerSet wrap lists so JSON columns always hold objects
type questionSet struct {
	Questions []Question `json:"questions"`
}

type answerSet struct {
	Answers []Answer `json:"answers"`
}

// Attempts persists quiz attempts
type Attempts struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewAttempts creates an attempt store. A nil clock means UTC wall time.
func NewAttempts(s store.Store, now func() time.Time) *Attempts {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Attempts{
		store:  s,
		logger: logger.Get(),
		now:    now,
		newID:  uuid.NewString,
	}
}

// Create stores a freshly generated quiz
func (a *Attempts) Create(ctx context.Context, userID, nodeID, difficulty string, questions []Question) (*Attempt, error) {
	if userID == "" || nodeID == "" {
		return nil, apperrors.NewValidation("quiz", "user and node are required")
	}
	if len(questions) == 0 {
		return nil, apperrors.NewValidation("questions", "must not be empty")
	}
	doc, err := store.JSONDoc(questionSet{Questions: questions})
	if err != nil {
		return nil, apperrors.NewValidation("questions", err.Error())
	}

	created := a.now()
	attempt := &Attempt{
		ID:            a.newID(),
		UserID:        userID,
		ConceptNodeID: nodeID,
		Difficulty:    difficulty,
		Questions:     questions,
		CreatedAt:     &created,
	}
	err = a.store.Insert(ctx, constants.TableQuizAttempts, store.Row{
		"id":              attempt.ID,
		"user_id":         userID,
		"concept_node_id": nodeID,
		"difficulty":      difficulty,
		"questions_json":  doc,
		"created_at":      created,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Quiz attempt created",
		zap.String("quiz_id", attempt.ID),
		zap.String("user_id", userID),
		zap.Int("questions", len(questions)),
	)
	return attempt, nil
}

// Get loads one attempt with its stored questions
func (a *Attempts) Get(ctx context.Context, id string) (*Attempt, error) {
	rows, err := a.store.Select(ctx, constants.TableQuizAttempts,
		store.Where(store.Eq("id", id)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindQuizAttempt, id)
	}
	return attemptFromRow(rows[0])
}

// Complete records the answers and grade of an attempt
func (a *Attempts) Complete(ctx context.Context, id string, answers []Answer, graded Result) (*Attempt, error) {
	doc, err := store.JSONDoc(answerSet{Answers: answers})
	if err != nil {
		return nil, apperrors.NewValidation("answers", err.Error())
	}
	n, err := a.store.Update(ctx, constants.TableQuizAttempts, store.Row{
		"score":        graded.Correct,
		"total":        graded.Total,
		"answers_json": doc,
		"completed_at": a.now(),
	}, store.Eq("id", id))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperrors.NewNotFound(KindQuizAttempt, id)
	}
	return a.Get(ctx, id)
}

func attemptFromRow(row store.Row) (*Attempt, error) {
	var qs questionSet
	if err := row.DecodeJSON("questions_json", &qs); err != nil {
		return nil, apperrors.NewStoreFailed("decode", constants.TableQuizAttempts, err)
	}
	var as answerSet
	if err := row.DecodeJSON("answers_json", &as); err != nil {
		return nil, apperrors.NewStoreFailed("decode", constants.TableQuizAttempts, err)
	}
	return &Attempt{
		ID:            row.GetString("id"),
		UserID:        row.GetString("user_id"),
		ConceptNodeID: row.GetString("concept_node_id"),
		Difficulty:    row.GetString("difficulty"),
		Questions:     qs.Questions,
		Answers:       as.Answers,
		Score:         row.GetInt("score"),
		Total:         row.GetInt("total"),
		CreatedAt:     row.GetTime("created_at"),
		CompletedAt:   row.GetTime("completed_at"),
	}, nil
}
