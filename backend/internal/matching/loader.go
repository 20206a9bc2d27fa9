package matching

import (
	"context"

	"golang.org/x/sync/errgroup"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	apperrors "sapling-graph/backend/pkg/errors"
)

// GraphReader is the part of the graph repository the loader needs
type GraphReader interface {
	ReadGraph(ctx context.Context, userID string) (*graph.Graph, error)
	GetUser(ctx context.Context, userID string) (*graph.User, error)
}

// LoadMembers reads each user's graph concurrently. Duplicate ids are
// loaded once and the input order is kept. Users without a user row are
// still loaded, with an empty name.
func LoadMembers(ctx context.Context, reader GraphReader, userIDs []string) ([]Member, error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	members := make([]Member, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.CandidateLoadConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			gr, err := reader.ReadGraph(gctx, id)
			if err != nil {
				return err
			}
			name := ""
			user, err := reader.GetUser(gctx, id)
			switch {
			case err == nil:
				name = user.Name
			case !apperrors.IsNotFound(err):
				return err
			}
			members[i] = Member{UserID: id, Name: name, Nodes: gr.Nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return members, nil
}
