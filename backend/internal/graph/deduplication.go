package graph

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
)

// ============================================================================
// Node Deduplication
// ============================================================================

// DedupNodes removes duplicate (user, concept name) nodes left behind by
// racing inserts on stores without a uniqueness constraint. The survivor is
// the highest-mastery node, then the most studied. Edges and review rows of
// removed nodes are deleted before the nodes themselves, along with their
// quiz attempts. Course contexts
// of the affected subjects are rebuilt afterwards.
func (r *Repository) DedupNodes(ctx context.Context) (*DedupResult, error) {
	rows, err := r.store.Select(ctx, constants.TableNodes, store.Query{})
	if err != nil {
		return nil, err
	}

	groups := make(map[[2]string][]ConceptNode)
	for _, row := range rows {
		n := nodeFromRow(row)
		key := [2]string{n.UserID, n.ConceptName}
		groups[key] = append(groups[key], n)
	}

	result := &DedupResult{}
	doomed := make([]string, 0)
	touched := make(map[string]bool)
	for key, dupes := range groups {
		if len(dupes) <= 1 {
			continue
		}
		result.DuplicateGroups++
		losers := duplicatesToRemove(dupes)
		doomed = append(doomed, nodeIDs(losers)...)
		for _, n := range losers {
			touched[n.Subject] = true
		}

		r.logger.Info("Removing duplicate nodes",
			zap.String("user_id", key[0]),
			zap.String("concept", key[1]),
			zap.Int("removed", len(losers)),
		)
	}

	if len(doomed) == 0 {
		return result, nil
	}
	sort.Strings(doomed)

	for _, col := range []string{"source_node_id", "target_node_id"} {
		n, err := r.store.Delete(ctx, constants.TableEdges, store.InStrings(col, doomed))
		if err != nil {
			return nil, err
		}
		result.EdgesRemoved += n
	}
	for _, table := range []string{constants.TableQuizContext, constants.TableQuizAttempts} {
		if _, err := r.store.Delete(ctx, table, store.InStrings("concept_node_id", doomed)); err != nil {
			return nil, err
		}
	}
	n, err := r.store.Delete(ctx, constants.TableNodes, store.InStrings("id", doomed))
	if err != nil {
		return nil, err
	}
	result.NodesRemoved = n

	subjects := make([]string, 0, len(touched))
	for subject := range touched {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	r.triggerRebuild(ctx, subjects)
	return result, nil
}

// duplicatesToRemove returns every node but the one to keep
func duplicatesToRemove(dupes []ConceptNode) []ConceptNode {
	sorted := append([]ConceptNode{}, dupes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MasteryScore != sorted[j].MasteryScore {
			return sorted[i].MasteryScore > sorted[j].MasteryScore
		}
		if sorted[i].TimesStudied != sorted[j].TimesStudied {
			return sorted[i].TimesStudied > sorted[j].TimesStudied
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[1:]
}
