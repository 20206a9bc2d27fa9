package graph

import (
	"context"
	"sort"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

// ReadGraph returns a user's nodes and edges plus one synthetic root per
// subject. It never writes. An unknown user yields an empty graph with
// a zero streak.
func (r *Repository) ReadGraph(ctx context.Context, userID string) (*Graph, error) {
	nodes, err := r.ListNodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	edgeRows, err := r.store.Select(ctx, constants.TableEdges, store.Where(store.Eq("user_id", userID)))
	if err != nil {
		return nil, err
	}
	edges := make([]ConceptEdge, 0, len(edgeRows))
	for _, row := range edgeRows {
		edges = append(edges, edgeFromRow(row))
	}

	streak := 0
	user, err := r.GetUser(ctx, userID)
	switch {
	case err == nil:
		streak = user.StreakCount
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	courseRows, err := r.store.Select(ctx, constants.TableCourses, store.Where(store.Eq("user_id", userID)))
	if err != nil {
		return nil, err
	}
	courseNames := make([]string, 0, len(courseRows))
	for _, row := range courseRows {
		courseNames = append(courseNames, row.GetString("course_name"))
	}

	stats := ComputeStats(nodes)
	stats.Streak = streak

	roots, rootEdges := SubjectRoots(userID, nodes, courseNames)
	return &Graph{
		Nodes: append(nodes, roots...),
		Edges: append(edges, rootEdges...),
		Stats: stats,
	}, nil
}

// ComputeStats counts nodes per tier. Streak is left for the caller.
func ComputeStats(nodes []ConceptNode) Stats {
	stats := Stats{}
	for _, n := range nodes {
		if n.IsSubjectRoot {
			continue
		}
		stats.TotalNodes++
		switch mastery.Tier(n.MasteryScore) {
		case constants.TierMastered:
			stats.Mastered++
		case constants.TierLearning:
			stats.Learning++
		case constants.TierStruggling:
			stats.Struggling++
		default:
			stats.Unexplored++
		}
	}
	return stats
}

// SubjectRoots synthesizes one hub per subject present among nodes, plus an
// empty hub for each registered course without nodes. Output is sorted by
// subject so repeated reads are identical.
func SubjectRoots(userID string, nodes []ConceptNode, courseNames []string) ([]ConceptNode, []ConceptEdge) {
	members := make(map[string][]ConceptNode)
	for _, n := range nodes {
		if n.IsSubjectRoot {
			continue
		}
		subject := n.Subject
		if subject == "" {
			subject = constants.DefaultSubject
		}
		members[subject] = append(members[subject], n)
	}

	subjects := make([]string, 0, len(members))
	for subject := range members {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	roots := make([]ConceptNode, 0, len(subjects)+len(courseNames))
	edges := make([]ConceptEdge, 0, len(nodes))
	for _, subject := range subjects {
		group := members[subject]
		rootID := constants.SubjectRootPrefix + subject

		total := 0.0
		studied := 0
		for _, n := range group {
			total += n.MasteryScore
			studied += n.TimesStudied
		}
		roots = append(roots, subjectRoot(userID, subject, mastery.Round(total/float64(len(group)), 4), studied))

		for _, n := range group {
			edges = append(edges, ConceptEdge{
				ID:       constants.SubjectEdgePrefix + rootID + "__" + n.ID,
				Source:   rootID,
				Target:   n.ID,
				Strength: constants.SubjectRootEdgeStrength,
			})
		}
	}

	empty := make([]string, 0)
	for _, name := range courseNames {
		if _, ok := members[name]; !ok && name != "" {
			empty = append(empty, name)
		}
	}
	sort.Strings(empty)
	for i, name := range empty {
		if i > 0 && empty[i-1] == name {
			continue
		}
		roots = append(roots, subjectRoot(userID, name, 0, 0))
	}

	return roots, edges
}

func subjectRoot(userID, subject string, score float64, timesStudied int) ConceptNode {
	return ConceptNode{
		ID:            constants.SubjectRootPrefix + subject,
		UserID:        userID,
		ConceptName:   subject,
		Subject:       subject,
		MasteryScore:  score,
		MasteryTier:   constants.TierSubjectRoot,
		TimesStudied:  timesStudied,
		IsSubjectRoot: true,
	}
}

// GetNode loads one of a user's nodes by id
func (r *Repository) GetNode(ctx context.Context, userID, nodeID string) (*ConceptNode, error) {
	rows, err := r.store.Select(ctx, constants.TableNodes,
		store.Where(store.Eq("id", nodeID), store.Eq("user_id", userID)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindNode, nodeID)
	}
	node := nodeFromRow(rows[0])
	return &node, nil
}
