// Package review stores the per-concept quiz review context a learner
// accumulates: mistakes made, weak areas and any extra notes.
package review

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// KindReviewContext is reported in not-found errors
const KindReviewContext = "review_context"

// Context is the structured part of a review row
type Context struct {
	CommonMistakes []string `json:"common_mistakes"`
	WeakAreas      []string `json:"weak_areas"`
}

// Decode pulls the structured fields out of a raw review document.
// Blank entries are dropped; anything that is not a string list is ignored.
func Decode(raw map[string]any) Context {
	return Context{
		CommonMistakes: nonBlank(store.StringSlice(raw["common_mistakes"])),
		WeakAreas:      nonBlank(store.StringSlice(raw["weak_areas"])),
	}
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Service reads and writes review rows
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a review service
func NewService(s store.Store) *Service {
	return &Service{
		store:  s,
		logger: logger.Get(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Save replaces the review document for one of a user's nodes
func (s *Service) Save(ctx context.Context, userID, nodeID string, doc map[string]any) error {
	if userID == "" || nodeID == "" {
		return apperrors.NewValidation("review", "user and node are required")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	err := s.store.Upsert(ctx, constants.TableQuizContext, store.Row{
		"id":              s.newID(),
		"user_id":         userID,
		"concept_node_id": nodeID,
		"context_json":    doc,
		"updated_at":      s.now(),
	}, "user_id", "concept_node_id")
	if err != nil {
		return err
	}
	s.logger.Debug("Saved review context",
		zap.String("user_id", userID),
		zap.String("node_id", nodeID),
	)
	return nil
}

// Get returns the review document for one of a user's nodes
func (s *Service) Get(ctx context.Context, userID, nodeID string) (map[string]any, error) {
	rows, err := s.store.Select(ctx, constants.TableQuizContext,
		store.Where(store.Eq("user_id", userID), store.Eq("concept_node_id", nodeID)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindReviewContext, nodeID)
	}
	return rows[0].GetJSON("context_json"), nil
}

// ForNodes returns decoded review contexts for a set of node ids, ordered
// by row id so repeated aggregations see the same sequence.
func (s *Service) ForNodes(ctx context.Context, nodeIDs []string) ([]Context, error) {
	if len(nodeIDs) == 0 {
		return []Context{}, nil
	}
	rows, err := s.store.Select(ctx, constants.TableQuizContext,
		store.Where(store.InStrings("concept_node_id", nodeIDs)).OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	out := make([]Context, 0, len(rows))
	for _, row := range rows {
		out = append(out, Decode(row.GetJSON("context_json")))
	}
	return out, nil
}
