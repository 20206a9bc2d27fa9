// Package coursectx aggregates every learner's nodes for one subject into
// a course-wide picture of what is hard, what is mastered and which
// mistakes keep coming up.
package coursectx

import (
	"sort"
	"strings"
	"time"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
	"sapling-graph/backend/internal/review"
)

// StrugglingConcept is a concept where a notable share of learners struggle
type StrugglingConcept struct {
	Concept       string  `json:"concept"`
	AvgMastery    float64 `json:"avg_mastery"`
	StrugglingPct float64 `json:"struggling_pct"`
}

// MasteredConcept is a concept most learners have mastered
type MasteredConcept struct {
	Concept     string  `json:"concept"`
	AvgMastery  float64 `json:"avg_mastery"`
	MasteredPct float64 `json:"mastered_pct"`
}

// RankedConcept is one entry of the hardest-first ranking
type RankedConcept struct {
	Concept    string  `json:"concept"`
	AvgMastery float64 `json:"avg_mastery"`
}

// CourseContext is the aggregate stored per course name
type CourseContext struct {
	StrugglingConcepts       []StrugglingConcept `json:"struggling_concepts"`
	MasteredConcepts         []MasteredConcept   `json:"mastered_concepts"`
	ConceptDifficultyRanking []RankedConcept     `json:"concept_difficulty_ranking"`
	CommonMisconceptions     []string            `json:"common_misconceptions"`
	WeakAreas                []string            `json:"weak_areas"`
	StudentCount             int                 `json:"student_count"`
	UpdatedAt                *time.Time          `json:"updated_at,omitempty"`
}

// NodeSample is the slice of a learner node the aggregate needs
type NodeSample struct {
	UserID       string
	ConceptName  string
	MasteryScore float64
}

type conceptTally struct {
	name       string
	total      float64
	count      int
	struggling int
	mastered   int
}

// Build computes the course aggregate. Tiers are derived from the scores,
// never read from storage, so stale tier columns cannot skew the counts.
func Build(nodes []NodeSample, reviews []review.Context) CourseContext {
	tallies := make(map[string]*conceptTally)
	users := make(map[string]struct{})
	for _, n := range nodes {
		users[n.UserID] = struct{}{}
		t, ok := tallies[n.ConceptName]
		if !ok {
			t = &conceptTally{name: n.ConceptName}
			tallies[n.ConceptName] = t
		}
		score := mastery.Clamp(mastery.Normalize(n.MasteryScore))
		t.total += score
		t.count++
		switch mastery.Tier(score) {
		case constants.TierStruggling:
			t.struggling++
		case constants.TierMastered:
			t.mastered++
		}
	}

	cc := CourseContext{
		StrugglingConcepts:       []StrugglingConcept{},
		MasteredConcepts:         []MasteredConcept{},
		ConceptDifficultyRanking: []RankedConcept{},
		StudentCount:             len(users),
	}
	for _, t := range tallies {
		avg := mastery.Round(t.total/float64(t.count), 3)
		strugglingPct := mastery.Round(float64(t.struggling)/float64(t.count), 2)
		masteredPct := mastery.Round(float64(t.mastered)/float64(t.count), 2)

		if strugglingPct > constants.StrugglingConceptPct {
			cc.StrugglingConcepts = append(cc.StrugglingConcepts, StrugglingConcept{
				Concept: t.name, AvgMastery: avg, StrugglingPct: strugglingPct,
			})
		}
		if masteredPct > constants.MasteredConceptPct {
			cc.MasteredConcepts = append(cc.MasteredConcepts, MasteredConcept{
				Concept: t.name, AvgMastery: avg, MasteredPct: masteredPct,
			})
		}
		cc.ConceptDifficultyRanking = append(cc.ConceptDifficultyRanking, RankedConcept{
			Concept: t.name, AvgMastery: avg,
		})
	}

	sort.Slice(cc.StrugglingConcepts, func(i, j int) bool {
		a, b := cc.StrugglingConcepts[i], cc.StrugglingConcepts[j]
		if a.AvgMastery != b.AvgMastery {
			return a.AvgMastery < b.AvgMastery
		}
		return a.Concept < b.Concept
	})
	sort.Slice(cc.MasteredConcepts, func(i, j int) bool {
		a, b := cc.MasteredConcepts[i], cc.MasteredConcepts[j]
		if a.AvgMastery != b.AvgMastery {
			return a.AvgMastery > b.AvgMastery
		}
		return a.Concept < b.Concept
	})
	sort.Slice(cc.ConceptDifficultyRanking, func(i, j int) bool {
		a, b := cc.ConceptDifficultyRanking[i], cc.ConceptDifficultyRanking[j]
		if a.AvgMastery != b.AvgMastery {
			return a.AvgMastery < b.AvgMastery
		}
		return a.Concept < b.Concept
	})

	var mistakes, weak []string
	for _, r := range reviews {
		mistakes = append(mistakes, r.CommonMistakes...)
		weak = append(weak, r.WeakAreas...)
	}
	cc.CommonMisconceptions = dedupe(mistakes)
	cc.WeakAreas = dedupe(weak)
	return cc
}

// dedupe keeps the first spelling of each case-insensitive entry
func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		s := strings.TrimSpace(item)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
