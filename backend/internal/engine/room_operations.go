package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/matching"
	"sapling-graph/backend/internal/room"
)

// FallbackRoomSummary is shown when no AI summary can be produced
const FallbackRoomSummary = "This study group has complementary strengths across multiple subjects."

// RoomMember is one member of a room with their graph
type RoomMember struct {
	UserID     string       `json:"user_id"`
	Name       string       `json:"name"`
	Streak     int          `json:"streak"`
	Mastered   []string     `json:"mastered"`
	Struggling []string     `json:"struggling"`
	Graph      *graph.Graph `json:"graph"`
}

// RoomOverview is a room, its members and a summary of the group
type RoomOverview struct {
	Room      *room.Room   `json:"room"`
	Members   []RoomMember `json:"members"`
	AISummary string       `json:"ai_summary"`
}

// CreateRoom makes a study room with the user as its first member
func (e *Engine) CreateRoom(ctx context.Context, userID, name string) (r *room.Room, err error) {
	ctx, span := e.startSpan(ctx, "CreateRoom", userAttr(userID))
	defer func() { endSpan(span, err) }()

	return e.rooms.Create(ctx, userID, name)
}

// JoinRoom adds the user to the room behind an invite code
func (e *Engine) JoinRoom(ctx context.Context, userID, inviteCode string) (r *room.Room, err error) {
	ctx, span := e.startSpan(ctx, "JoinRoom", userAttr(userID))
	defer func() { endSpan(span, err) }()

	return e.rooms.Join(ctx, userID, inviteCode)
}

// ListRooms returns the rooms a user belongs to
func (e *Engine) ListRooms(ctx context.Context, userID string) ([]room.Room, error) {
	return e.rooms.ListForUser(ctx, userID)
}

// RoomOverview loads every member's graph and a short summary of the
// group. The summary is cached against the members' standing and falls
// back to a fixed line when no model is configured or the model fails.
func (e *Engine) RoomOverview(ctx context.Context, roomID string) (ov *RoomOverview, err error) {
	ctx, span := e.startSpan(ctx, "RoomOverview", roomAttr(roomID))
	defer func() { endSpan(span, err) }()

	r, err := e.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids, err := e.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ov = &RoomOverview{Room: r, Members: make([]RoomMember, 0, len(ids))}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		member := RoomMember{
			UserID:     id,
			Name:       e.userName(ctx, id),
			Mastered:   []string{},
			Struggling: []string{},
		}
		if member.Name == "" {
			member.Name = id
		}
		g, err := e.graph.ReadGraph(ctx, id)
		if err != nil {
			return nil, err
		}
		member.Graph = g
		member.Streak = g.Stats.Streak
		for _, n := range g.Nodes {
			if n.IsSubjectRoot {
				continue
			}
			switch n.MasteryTier {
			case constants.TierMastered:
				member.Mastered = append(member.Mastered, n.ConceptName)
			case constants.TierStruggling:
				member.Struggling = append(member.Struggling, n.ConceptName)
			}
		}
		ov.Members = append(ov.Members, member)
		lines = append(lines, fmt.Sprintf("%s: mastered [%s], struggling with [%s]",
			member.Name, strings.Join(member.Mastered, ", "), strings.Join(member.Struggling, ", ")))
	}

	ov.AISummary = e.roomSummary(ctx, roomID, lines)
	span.SetAttributes(attribute.Int("room.members", len(ov.Members)))
	return ov, nil
}

func (e *Engine) roomSummary(ctx context.Context, roomID string, lines []string) string {
	hash := room.MemberHash(lines)
	cached, ok, err := e.rooms.CachedSummary(ctx, roomID, hash)
	if err != nil {
		e.logger.Warn("Failed to read room summary", zap.String("room_id", roomID), zap.Error(err))
	}
	if ok {
		return cached
	}
	if e.proposer == nil || len(lines) == 0 {
		return FallbackRoomSummary
	}

	summary, err := e.proposer.SummarizeRoom(ctx, lines)
	if err != nil {
		e.logger.Warn("Room summary failed", zap.String("room_id", roomID), zap.Error(err))
		return FallbackRoomSummary
	}
	if err := e.rooms.SaveSummary(ctx, roomID, hash, summary); err != nil {
		e.logger.Warn("Failed to save room summary", zap.String("room_id", roomID), zap.Error(err))
	}
	return summary
}

// RoomActivity returns a room's recent feed, newest first, with display
// names filled in
func (e *Engine) RoomActivity(ctx context.Context, roomID string) (feed []room.Activity, err error) {
	ctx, span := e.startSpan(ctx, "RoomActivity", roomAttr(roomID))
	defer func() { endSpan(span, err) }()

	if _, err := e.rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}
	feed, err = e.rooms.Activity(ctx, roomID, constants.RoomActivityLimit)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for i := range feed {
		id := feed[i].UserID
		name, ok := names[id]
		if !ok {
			name = e.userName(ctx, id)
			if name == "" {
				name = id
			}
			names[id] = name
		}
		feed[i].UserName = name
	}
	return feed, nil
}

// RoomMatches ranks the other members of a room as study partners. A
// requester outside the room gets no matches.
func (e *Engine) RoomMatches(ctx context.Context, roomID, requesterID string) (matches []matching.Match, err error) {
	ctx, span := e.startSpan(ctx, "RoomMatches", roomAttr(roomID), userAttr(requesterID))
	defer func() { endSpan(span, err) }()

	if _, err := e.rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}
	ids, err := e.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return e.FindStudyMatches(ctx, requesterID, ids)
}

// roomMates returns everyone who shares a room with the user
func (e *Engine) roomMates(ctx context.Context, userID string) ([]string, error) {
	roomIDs, err := e.rooms.RoomIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	var mates []string
	for _, id := range roomIDs {
		members, err := e.rooms.MemberIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		mates = append(mates, members...)
	}
	return mates, nil
}

// recordRoomActivity posts an entry to every room the user belongs to.
// Failures are logged and dropped.
func (e *Engine) recordRoomActivity(ctx context.Context, userID, activityType, concept, detail string) {
	roomIDs, err := e.rooms.RoomIDs(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to list rooms for activity", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, id := range roomIDs {
		if err := e.rooms.RecordActivity(ctx, id, userID, activityType, concept, detail); err != nil {
			e.logger.Warn("Failed to record room activity",
				zap.String("room_id", id),
				zap.String("activity", activityType),
				zap.Error(err),
			)
		}
	}
}
