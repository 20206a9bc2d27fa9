package coursectx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/review"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// KindCourseContext is reported in not-found errors
const KindCourseContext = "course_context"

// Aggregator rebuilds and serves course contexts
type Aggregator struct {
	store   store.Store
	reviews *review.Service
	cache   Cache
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithCache puts a cache in front of course_context reads
func WithCache(c Cache) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.cache = c
		}
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over the record store
func NewAggregator(s store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:   s,
		reviews: review.NewService(s),
		cache:   NopCache{},
		logger:  logger.Named("course_context"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UpdateCourseContext recomputes the aggregate for a course from every
// learner's nodes in that subject. A course nobody has nodes in is left
// untouched.
func (a *Aggregator) UpdateCourseContext(ctx context.Context, courseName string) error {
	courseName = strings.TrimSpace(courseName)
	if courseName == "" {
		return nil
	}

	rows, err := a.store.Select(ctx, constants.TableNodes, store.Where(store.Eq("subject", courseName)))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.logger.Debug("No nodes for course, skipping context rebuild", zap.String("course", courseName))
		return nil
	}

	samples := make([]NodeSample, 0, len(rows))
	nodeIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, NodeSample{
			UserID:       row.GetString("user_id"),
			ConceptName:  row.GetString("concept_name"),
			MasteryScore: row.GetFloat("mastery_score"),
		})
		nodeIDs = append(nodeIDs, row.GetString("id"))
	}

	reviews, err := a.reviews.ForNodes(ctx, nodeIDs)
	if err != nil {
		return err
	}

	cc := Build(samples, reviews)
	now := a.now()
	cc.UpdatedAt = &now

	doc, err := toDocument(cc)
	if err != nil {
		return apperrors.NewStoreFailed("encode", constants.TableCourseContext, err)
	}
	err = a.store.Upsert(ctx, constants.TableCourseContext, store.Row{
		"course_name":   courseName,
		"context_json":  doc,
		"student_count": cc.StudentCount,
		"updated_at":    now,
	}, "course_name")
	if err != nil {
		return err
	}

	a.cache.Set(ctx, courseName, &cc)
	a.logger.Info("Rebuilt course context",
		zap.String("course", courseName),
		zap.Int("students", cc.StudentCount),
		zap.Int("concepts", len(cc.ConceptDifficultyRanking)),
	)
	return nil
}

// GetCourseContext returns the last stored aggregate for a course
func (a *Aggregator) GetCourseContext(ctx context.Context, courseName string) (*CourseContext, error) {
	courseName = strings.TrimSpace(courseName)
	if cc, ok := a.cache.Get(ctx, courseName); ok {
		return cc, nil
	}

	rows, err := a.store.Select(ctx, constants.TableCourseContext,
		store.Where(store.Eq("course_name", courseName)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindCourseContext, courseName)
	}

	cc, err := fromDocument(rows[0].GetJSON("context_json"))
	if err != nil {
		return nil, apperrors.NewStoreFailed("decode", constants.TableCourseContext, err)
	}
	if cc.UpdatedAt == nil {
		cc.UpdatedAt = rows[0].GetTime("updated_at")
	}
	a.cache.Set(ctx, courseName, cc)
	return cc, nil
}

// toDocument flattens the aggregate into the generic JSON map every
// backend can persist.
func toDocument(cc CourseContext) (map[string]any, error) {
	raw, err := json.Marshal(cc)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(doc map[string]any) (*CourseContext, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cc CourseContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, err
	}
	return &cc, nil
}
