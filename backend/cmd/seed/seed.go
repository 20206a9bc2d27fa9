package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sapling-graph/backend/internal/engine"
	"sapling-graph/backend/internal/graph"
)

// Fixture is a cohort of students to load
type Fixture struct {
	Users []UserFixture `yaml:"users"`
}

// UserFixture describes one student. Graph uses the update payload shape.
type UserFixture struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	StreakCount int             `yaml:"streak_count"`
	Courses     []CourseFixture `yaml:"courses"`
	Graph       map[string]any  `yaml:"graph"`
	Reviews     []ReviewFixture `yaml:"reviews"`
}

// CourseFixture is a course registration
type CourseFixture struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// ReviewFixture is a review context keyed by concept name
type ReviewFixture struct {
	Concept        string   `yaml:"concept"`
	CommonMistakes []string `yaml:"common_mistakes"`
	WeakAreas      []string `yaml:"weak_areas"`
}

// Summary counts what a seed run wrote
type Summary struct {
	Users   int
	Courses int
	Changes int
	Skipped int
	Reviews int
}

// ParseFixture decodes a YAML fixture and checks user ids
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	seen := make(map[string]bool, len(fx.Users))
	for i, u := range fx.Users {
		if strings.TrimSpace(u.ID) == "" {
			return nil, fmt.Errorf("user %d has no id", i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}
		seen[u.ID] = true
	}
	return &fx, nil
}

// payload re-encodes the YAML graph so it goes through the same lenient
// decoding as proposed updates
func (u UserFixture) payload() (graph.UpdatePayload, error) {
	var p graph.UpdatePayload
	if len(u.Graph) == 0 {
		return p, nil
	}
	raw, err := json.Marshal(u.Graph)
	if err != nil {
		return p, fmt.Errorf("user %s: failed to encode graph: %w", u.ID, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("user %s: invalid graph: %w", u.ID, err)
	}
	return p, nil
}

// Seed writes every user in the fixture through the engine. Reruns are
// safe: courses and nodes that already exist are left alone.
func Seed(ctx context.Context, e *engine.Engine, fx *Fixture, log *zap.Logger) (*Summary, error) {
	sum := &Summary{}
	for _, u := range fx.Users {
		if err := e.UpsertUser(ctx, graph.User{ID: u.ID, Name: u.Name, StreakCount: u.StreakCount}); err != nil {
			return sum, fmt.Errorf("user %s: %w", u.ID, err)
		}
		sum.Users++

		for _, c := range u.Courses {
			res, err := e.AddCourse(ctx, u.ID, c.Name, c.Color)
			if err != nil {
				return sum, fmt.Errorf("user %s course %q: %w", u.ID, c.Name, err)
			}
			if !res.AlreadyExisted {
				sum.Courses++
			}
		}

		payload, err := u.payload()
		if err != nil {
			return sum, err
		}
		changes, err := e.ApplyGraphUpdate(ctx, u.ID, payload)
		if err != nil {
			return sum, fmt.Errorf("user %s graph: %w", u.ID, err)
		}
		sum.Changes += len(changes)
		sum.Skipped += payload.Skipped

		if len(u.Reviews) > 0 {
			n, err := seedReviews(ctx, e, u)
			sum.Reviews += n
			if err != nil {
				return sum, err
			}
		}

		log.Info("Seeded user",
			zap.String("user_id", u.ID),
			zap.Int("courses", len(u.Courses)),
			zap.Int("mastery_changes", len(changes)),
			zap.Int("skipped_entries", payload.Skipped),
		)
	}
	return sum, nil
}

func seedReviews(ctx context.Context, e *engine.Engine, u UserFixture) (int, error) {
	g, err := e.ReadGraph(ctx, u.ID)
	if err != nil {
		return 0, fmt.Errorf("user %s: %w", u.ID, err)
	}
	byName := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if !n.IsSubjectRoot {
			byName[strings.ToLower(n.ConceptName)] = n.ID
		}
	}

	written := 0
	for _, r := range u.Reviews {
		id, ok := byName[strings.ToLower(strings.TrimSpace(r.Concept))]
		if !ok {
			return written, fmt.Errorf("user %s: review for unknown concept %q", u.ID, r.Concept)
		}
		doc := map[string]any{
			"common_mistakes": r.CommonMistakes,
			"weak_areas":      r.WeakAreas,
		}
		if err := e.SaveReviewContext(ctx, u.ID, id, doc); err != nil {
			return written, fmt.Errorf("user %s review %q: %w", u.ID, r.Concept, err)
		}
		written++
	}
	return written, nil
}
