package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"sapling-graph/backend/internal/matching"
)

// FindStudyMatches ranks the members of a study group as partners for the
// requester. A requester who is not among the members gets no matches.
func (e *Engine) FindStudyMatches(ctx context.Context, requesterID string, memberIDs []string) (matches []matching.Match, err error) {
	ctx, span := e.startSpan(ctx, "FindStudyMatches",
		userAttr(requesterID),
		attribute.Int("match.candidates", len(memberIDs)),
	)
	defer func() { endSpan(span, err) }()

	members, err := matching.LoadMembers(ctx, e.graph, memberIDs)
	if err != nil {
		return nil, err
	}
	return matching.FindStudyMatches(requesterID, members), nil
}

// FindSchoolMatches ranks every known user except those excluded and the
// requester's room-mates. An unknown requester gets no matches.
func (e *Engine) FindSchoolMatches(ctx context.Context, requesterID string, excludeIDs []string) (matches []matching.Match, err error) {
	ctx, span := e.startSpan(ctx, "FindSchoolMatches", userAttr(requesterID))
	defer func() { endSpan(span, err) }()

	users, err := e.graph.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	mates, err := e.roomMates(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(excludeIDs)+len(mates))
	for _, id := range append(mates, excludeIDs...) {
		excluded[id] = struct{}{}
	}

	known := false
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID == requesterID {
			known = true
			continue
		}
		if _, skip := excluded[u.ID]; skip {
			continue
		}
		ids = append(ids, u.ID)
	}
	if !known {
		return []matching.Match{}, nil
	}
	span.SetAttributes(attribute.Int("match.candidates", len(ids)))
	ids = append(ids, requesterID)

	members, err := matching.LoadMembers(ctx, e.graph, ids)
	if err != nil {
		return nil, err
	}
	return matching.FindStudyMatches(requesterID, members), nil
}
