// Package matching ranks study partners by how well two learners' mastery
// graphs complement each other.
package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/mastery"
)

// Member is one learner with their graph
type Member struct {
	UserID string
	Name   string
	Nodes  []graph.ConceptNode
}

// Partner identifies the other learner in a match
type Partner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConceptGap is a concept both learners have, seen from the requester
type ConceptGap struct {
	Concept      string  `json:"concept"`
	YourMastery  float64 `json:"your_mastery"`
	TheirMastery float64 `json:"their_mastery"`
}

func (g ConceptGap) gap() float64 {
	return math.Abs(g.YourMastery - g.TheirMastery)
}

// Match is the scored pairing of the requester with one candidate
type Match struct {
	Partner            Partner      `json:"partner"`
	CompatibilityScore int          `json:"compatibility_score"`
	Summary            string       `json:"summary"`
	YouCanTeach        []ConceptGap `json:"you_can_teach"`
	TheyCanTeach       []ConceptGap `json:"they_can_teach"`
	SharedStruggles    []ConceptGap `json:"shared_struggles"`
}

// profile is a learner's graph reduced to what matching looks at
type profile struct {
	scores   map[string]float64
	subjects map[string]struct{}
}

func newProfile(nodes []graph.ConceptNode) profile {
	p := profile{
		scores:   make(map[string]float64, len(nodes)),
		subjects: make(map[string]struct{}),
	}
	for _, n := range nodes {
		if n.IsSubjectRoot || n.MasteryTier == constants.TierSubjectRoot {
			continue
		}
		p.scores[n.ConceptName] = mastery.Clamp(mastery.Normalize(n.MasteryScore))
		if n.Subject != "" {
			p.subjects[n.Subject] = struct{}{}
		}
	}
	return p
}

// FindStudyMatches scores every member other than the requester against
// the requester. The result is empty when the requester is not a member.
func FindStudyMatches(requesterID string, members []Member) []Match {
	var me *Member
	for i := range members {
		if members[i].UserID == requesterID {
			me = &members[i]
			break
		}
	}
	if me == nil {
		return []Match{}
	}
	mine := newProfile(me.Nodes)

	matches := make([]Match, 0, len(members))
	for _, m := range members {
		if m.UserID == requesterID {
			continue
		}
		matches = append(matches, score(mine, m))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].CompatibilityScore != matches[j].CompatibilityScore {
			return matches[i].CompatibilityScore > matches[j].CompatibilityScore
		}
		return matches[i].Partner.ID < matches[j].Partner.ID
	})
	return matches
}

func score(mine profile, member Member) Match {
	theirs := newProfile(member.Nodes)

	shared, union := subjectSets(mine.subjects, theirs.subjects)
	overlap := 0.0
	if union > 0 {
		overlap = float64(len(shared)) / float64(union)
	}

	youTeach := []ConceptGap{}
	theyTeach := []ConceptGap{}
	struggles := []ConceptGap{}
	common := 0
	for concept, my := range mine.scores {
		their, ok := theirs.scores[concept]
		if !ok {
			continue
		}
		common++
		entry := ConceptGap{
			Concept:      concept,
			YourMastery:  mastery.Round(my, 2),
			TheirMastery: mastery.Round(their, 2),
		}
		switch {
		case my > constants.TeachThreshold && their < constants.StruggleThreshold:
			youTeach = append(youTeach, entry)
		case their > constants.TeachThreshold && my < constants.StruggleThreshold:
			theyTeach = append(theyTeach, entry)
		case my < constants.StruggleThreshold && their < constants.StruggleThreshold:
			struggles = append(struggles, entry)
		}
	}
	sortByGap(youTeach)
	sortByGap(theyTeach)
	sortByGap(struggles)

	comp := complementarity(common, youTeach, theyTeach, len(struggles))
	raw := overlap*30 + comp*70
	total := int(math.Round(raw * 1.3))
	total = max(constants.MinMatchScore, min(constants.MaxMatchScore, total))

	return Match{
		Partner:            Partner{ID: member.UserID, Name: member.Name},
		CompatibilityScore: total,
		Summary:            summarize(member.Name, shared, youTeach, theyTeach, struggles),
		YouCanTeach:        preview(youTeach),
		TheyCanTeach:       preview(theyTeach),
		SharedStruggles:    preview(struggles),
	}
}

// subjectSets returns the sorted shared subjects and the size of the union
func subjectSets(a, b map[string]struct{}) ([]string, int) {
	shared := []string{}
	union := len(a)
	for s := range b {
		if _, ok := a[s]; ok {
			shared = append(shared, s)
		} else {
			union++
		}
	}
	sort.Strings(shared)
	return shared, union
}

// complementarity rewards large teach/learn gaps with a power curve so
// moderate gaps still count, plus a capped bonus for shared struggles.
func complementarity(n int, youTeach, theyTeach []ConceptGap, struggles int) float64 {
	if n == 0 {
		return 0
	}
	component := 0.0
	if len(youTeach)+len(theyTeach) > 0 {
		effective := 0.0
		for _, g := range youTeach {
			effective += math.Pow(g.gap(), 0.7)
		}
		for _, g := range theyTeach {
			effective += math.Pow(g.gap(), 0.7)
		}
		component = math.Min(1, effective/math.Pow(float64(n), 0.7))
	}
	bonus := math.Min(0.20, float64(struggles)/float64(n)*0.35)
	return math.Min(1, component+bonus)
}

func sortByGap(gaps []ConceptGap) {
	sort.Slice(gaps, func(i, j int) bool {
		gi, gj := gaps[i].gap(), gaps[j].gap()
		if gi != gj {
			return gi > gj
		}
		return gaps[i].Concept < gaps[j].Concept
	})
}

func preview(gaps []ConceptGap) []ConceptGap {
	if len(gaps) > constants.MaxMatchPreview {
		return gaps[:constants.MaxMatchPreview]
	}
	return gaps
}

func summarize(name string, shared []string, youTeach, theyTeach, struggles []ConceptGap) string {
	if strings.TrimSpace(name) == "" {
		name = "They"
	}
	var lines []string
	if len(theyTeach) > 0 {
		lines = append(lines, fmt.Sprintf("%s can help you with %s", name, theyTeach[0].Concept))
	}
	if len(youTeach) > 0 {
		lines = append(lines, "you can help them with "+youTeach[0].Concept)
	}
	if len(struggles) > 0 {
		lines = append(lines, fmt.Sprintf("you can tackle %s together", struggles[0].Concept))
	}

	subjects := shared
	if len(subjects) > constants.MaxSummarySubjects {
		subjects = subjects[:constants.MaxSummarySubjects]
	}

	switch {
	case len(lines) > 0 && len(subjects) > 0:
		return fmt.Sprintf("Both studying %s; %s.", strings.Join(subjects, ", "), strings.Join(lines, "; "))
	case len(lines) > 0:
		return upperFirst(strings.Join(lines, "; ")) + "."
	case len(subjects) > 0:
		return fmt.Sprintf("Both studying %s.", strings.Join(subjects, ", "))
	default:
		return "Overlapping study areas with complementary knowledge."
	}
}

// upperFirst capitalizes the first rune and leaves the rest alone, so
// partner and concept names keep their casing.
func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
