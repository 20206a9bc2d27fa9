package graph

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
	"sapling-graph/backend/internal/store"
)

// ApplyGraphUpdate merges a proposed delta into a user's graph.
//
// New nodes are created only when absent, updates to unknown concepts and
// edges with unresolved endpoints are skipped, and duplicate edges are never
// inserted. Each touched subject gets a best-effort course-context rebuild.
// The reads and writes here are not atomic: two concurrent merges against
// the same node can both read the same score, and the later write wins.
func (r *Repository) ApplyGraphUpdate(ctx context.Context, userID string, payload UpdatePayload) ([]MasteryChange, error) {
	changes := make([]MasteryChange, 0, len(payload.UpdatedNodes))
	touched := make(map[string]bool)
	// Nodes seen in this call, so later passes see earlier writes
	seen := make(map[string]*ConceptNode)

	lookup := func(name string) (*ConceptNode, error) {
		if node, ok := seen[name]; ok {
			return node, nil
		}
		node, err := r.findNodeByName(ctx, userID, name)
		if err != nil {
			return nil, err
		}
		if node != nil {
			seen[name] = node
		}
		return node, nil
	}

	if payload.Skipped > 0 {
		r.logger.Warn("Graph update contained malformed entries",
			zap.String("user_id", userID),
			zap.Int("skipped", payload.Skipped),
		)
	}

	// 1. New nodes
	for _, nn := range payload.NewNodes {
		if nn.ConceptName == "" {
			continue
		}
		existing, err := lookup(nn.ConceptName)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		subject := nn.Subject
		if subject == "" {
			subject = constants.DefaultSubject
		}
		score := mastery.Clamp(nn.InitialMastery)
		now := r.now()
		node := &ConceptNode{
			ID:           r.newID(),
			UserID:       userID,
			ConceptName:  nn.ConceptName,
			Subject:      subject,
			MasteryScore: score,
			MasteryTier:  mastery.Tier(score),
			CreatedAt:    &now,
		}
		err = r.store.Insert(ctx, constants.TableNodes, store.Row{
			"id":            node.ID,
			"user_id":       userID,
			"concept_name":  node.ConceptName,
			"subject":       node.Subject,
			"mastery_score": node.MasteryScore,
			"mastery_tier":  node.MasteryTier,
			"times_studied": 0,
			"created_at":    now,
		})
		if err != nil {
			return nil, err
		}
		seen[node.ConceptName] = node
		touched[subject] = true

		r.logger.Debug("Created concept node",
			zap.String("user_id", userID),
			zap.String("concept", node.ConceptName),
			zap.String("subject", subject),
		)
	}

	// 2. Mastery deltas
	for _, upd := range payload.UpdatedNodes {
		if upd.ConceptName == "" {
			continue
		}
		node, err := lookup(upd.ConceptName)
		if err != nil {
			return nil, err
		}
		if node == nil {
			r.logger.Debug("Skipping update for unknown concept",
				zap.String("user_id", userID),
				zap.String("concept", upd.ConceptName),
			)
			continue
		}

		before := node.MasteryScore
		after := mastery.ApplyDelta(before, upd.MasteryDelta)
		tier := mastery.Tier(after)
		now := r.now()
		timesStudied := node.TimesStudied + 1

		_, err = r.store.Update(ctx, constants.TableNodes, store.Row{
			"mastery_score":   after,
			"mastery_tier":    tier,
			"times_studied":   timesStudied,
			"last_studied_at": now,
		}, store.Eq("id", node.ID))
		if err != nil {
			return nil, err
		}

		node.MasteryScore = after
		node.MasteryTier = tier
		node.TimesStudied = timesStudied
		node.LastStudiedAt = &now
		touched[node.Subject] = true
		changes = append(changes, MasteryChange{Concept: upd.ConceptName, Before: before, After: after})
	}

	// 3. New edges
	for _, ne := range payload.NewEdges {
		src, err := lookup(ne.Source)
		if err != nil {
			return nil, err
		}
		tgt, err := lookup(ne.Target)
		if err != nil {
			return nil, err
		}
		if src == nil || tgt == nil {
			continue
		}

		existing, err := r.store.Select(ctx, constants.TableEdges, store.Where(
			store.Eq("user_id", userID),
			store.Eq("source_node_id", src.ID),
			store.Eq("target_node_id", tgt.ID),
		).WithLimit(1))
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			continue
		}

		err = r.store.Insert(ctx, constants.TableEdges, store.Row{
			"id":             r.newID(),
			"user_id":        userID,
			"source_node_id": src.ID,
			"target_node_id": tgt.ID,
			"strength":       mastery.Clamp(ne.EdgeStrength()),
			"created_at":     r.now(),
		})
		if err != nil {
			return nil, err
		}
	}

	// 4. Course contexts
	subjects := make([]string, 0, len(touched))
	for subject := range touched {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	r.triggerRebuild(ctx, subjects)

	r.logger.Info("Applied graph update",
		zap.String("user_id", userID),
		zap.Int("new_nodes", len(payload.NewNodes)),
		zap.Int("mastery_changes", len(changes)),
		zap.Int("new_edges", len(payload.NewEdges)),
	)
	return changes, nil
}
