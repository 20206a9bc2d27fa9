package graph

import (
	"context"
	"fmt"
	"sort"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
)

// GetRecommendations returns up to five of a user's weakest non-mastered nodes
func (r *Repository) GetRecommendations(ctx context.Context, userID string) ([]Recommendation, error) {
	nodes, err := r.ListNodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return RankRecommendations(nodes), nil
}

// RankRecommendations picks non-mastered nodes weakest first, ties by name
func RankRecommendations(nodes []ConceptNode) []Recommendation {
	candidates := make([]ConceptNode, 0, len(nodes))
	for _, n := range nodes {
		if n.IsSubjectRoot || mastery.Tier(n.MasteryScore) == constants.TierMastered {
			continue
		}
		candidates = append(candidates, n)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MasteryScore != candidates[j].MasteryScore {
			return candidates[i].MasteryScore < candidates[j].MasteryScore
		}
		return candidates[i].ConceptName < candidates[j].ConceptName
	})
	if len(candidates) > constants.MaxRecommendations {
		candidates = candidates[:constants.MaxRecommendations]
	}

	recs := make([]Recommendation, 0, len(candidates))
	for _, n := range candidates {
		tier := mastery.Tier(n.MasteryScore)
		recs = append(recs, Recommendation{
			NodeID:       n.ID,
			ConceptName:  n.ConceptName,
			MasteryScore: n.MasteryScore,
			MasteryTier:  tier,
			Reason:       recommendationReason(tier, n.MasteryScore),
		})
	}
	return recs
}

func recommendationReason(tier string, score float64) string {
	pct := int(score * 100)
	switch tier {
	case constants.TierUnexplored:
		return "You haven't studied this yet. A great place to start."
	case constants.TierStruggling:
		return fmt.Sprintf("You're struggling here (%d%%). Focus here to improve.", pct)
	default:
		return fmt.Sprintf("You're making progress (%d%%). Keep going!", pct)
	}
}
