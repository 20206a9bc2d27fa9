package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
	"sapling-graph/backend/internal/store"
	"sapling-graph/backend/pkg/logger"
)

// ContextRebuilder recomputes the cross-student context of one subject
type ContextRebuilder interface {
	UpdateCourseContext(ctx context.Context, subject string) error
}

// Repository owns a learner's concept nodes, edges, courses and user rows
type Repository struct {
	store     store.Store
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	rebuilder ContextRebuilder
}

// Option configures a Repository
type Option func(*Repository)

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithClock overrides time.Now for timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides uuid generation for new rows
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// WithContextRebuilder sets the collaborator triggered after merges and deletions
func WithContextRebuilder(rb ContextRebuilder) Option {
	return func(r *Repository) { r.rebuilder = rb }
}

// NewRepository creates a graph repository over a record store
func NewRepository(s store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  s,
		logger: logger.Get(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the underlying record store
func (r *Repository) Store() store.Store {
	return r.store
}

// ListNodes returns a user's persisted nodes ordered by concept name, with
// tiers derived from the stored score.
func (r *Repository) ListNodes(ctx context.Context, userID string) ([]ConceptNode, error) {
	rows, err := r.store.Select(ctx, constants.TableNodes,
		store.Where(store.Eq("user_id", userID)).OrderBy("concept_name", false))
	if err != nil {
		return nil, err
	}
	nodes := make([]ConceptNode, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, nodeFromRow(row))
	}
	return nodes, nil
}

// findNodeByName loads a user's node by concept name, or nil if absent
func (r *Repository) findNodeByName(ctx context.Context, userID, conceptName string) (*ConceptNode, error) {
	rows, err := r.store.Select(ctx, constants.TableNodes,
		store.Where(store.Eq("user_id", userID), store.Eq("concept_name", conceptName)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	node := nodeFromRow(rows[0])
	return &node, nil
}

// triggerRebuild recomputes course contexts for subjects, swallowing failures
func (r *Repository) triggerRebuild(ctx context.Context, subjects []string) {
	if r.rebuilder == nil {
		return
	}
	for _, subject := range subjects {
		if subject == "" || subject == constants.DefaultSubject {
			continue
		}
		if err := r.rebuilder.UpdateCourseContext(ctx, subject); err != nil {
			r.logger.Warn("Course context rebuild failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}
}

// ============================================================================
// Row conversion
// ============================================================================

func nodeFromRow(row store.Row) ConceptNode {
	score := mastery.Clamp(mastery.Normalize(row.GetFloat("mastery_score")))
	return ConceptNode{
		ID:            row.GetString("id"),
		UserID:        row.GetString("user_id"),
		ConceptName:   row.GetString("concept_name"),
		Subject:       row.GetString("subject"),
		MasteryScore:  score,
		MasteryTier:   mastery.Tier(score),
		TimesStudied:  row.GetInt("times_studied"),
		LastStudiedAt: row.GetTime("last_studied_at"),
		CreatedAt:     row.GetTime("created_at"),
	}
}

func edgeFromRow(row store.Row) ConceptEdge {
	return ConceptEdge{
		ID:       row.GetString("id"),
		Source:   row.GetString("source_node_id"),
		Target:   row.GetString("target_node_id"),
		Strength: row.GetFloat("strength"),
	}
}

func courseFromRow(row store.Row) Course {
	return Course{
		ID:         row.GetString("id"),
		CourseName: row.GetString("course_name"),
		Color:      row.GetString("color"),
		CreatedAt:  row.GetTime("created_at"),
	}
}

func userFromRow(row store.Row) User {
	return User{
		ID:          row.GetString("id"),
		Name:        row.GetString("name"),
		StreakCount: row.GetInt("streak_count"),
	}
}

func nodeIDs(nodes []ConceptNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
