package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	systems []string
	users   []string
}

func (f *fakeCompleter) Generate(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	return New(mem, opts...), mem
}

func seedGraph(t *testing.T, e *Engine, userID string, nodes ...graph.NewNode) {
	t.Helper()
	_, err := e.ApplyGraphUpdate(context.Background(), userID, graph.UpdatePayload{NewNodes: nodes})
	require.NoError(t, err)
}

func nodeID(t *testing.T, e *Engine, userID, concept string) string {
	t.Helper()
	g, err := e.ReadGraph(context.Background(), userID)
	require.NoError(t, err)
	for _, n := range g.Nodes {
		if n.ConceptName == concept && !n.IsSubjectRoot {
			return n.ID
		}
	}
	t.Fatalf("node %q not found", concept)
	return ""
}

func TestEngine_RecommendationScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	seedGraph(t, e, "u1",
		graph.NewNode{ConceptName: "A", Subject: "Calculus", InitialMastery: 0.2},
		graph.NewNode{ConceptName: "B", Subject: "Calculus", InitialMastery: 0.6},
		graph.NewNode{ConceptName: "C", Subject: "Calculus", InitialMastery: 0.9},
	)

	recs, err := e.GetRecommendations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].ConceptName)
	assert.Equal(t, "B", recs[1].ConceptName)
	assert.Contains(t, recs[0].Reason, "struggling")
}

func TestEngine_DeltaScenario(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedGraph(t, e, "u1", graph.NewNode{ConceptName: "A", Subject: "Calculus", InitialMastery: 0.2})

	changes, err := e.ApplyGraphUpdate(ctx, "u1", graph.UpdatePayload{
		UpdatedNodes: []graph.NodeUpdate{{ConceptName: "A", MasteryDelta: 0.3}},
	})
	require.NoError(t, err)
	assert.Equal(t, []graph.MasteryChange{{Concept: "A", Before: 0.2, After: 0.5}}, changes)

	node, err := e.GetNode(ctx, "u1", nodeID(t, e, "u1", "A"))
	require.NoError(t, err)
	assert.Equal(t, constants.TierLearning, node.MasteryTier)
}

func TestEngine_MergeRebuildsCourseContext(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedGraph(t, e, "u1", graph.NewNode{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.2})
	seedGraph(t, e, "u2", graph.NewNode{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.3})

	cc, err := e.GetCourseContext(ctx, "Calculus")
	require.NoError(t, err)
	assert.Equal(t, 2, cc.StudentCount)
	require.Len(t, cc.StrugglingConcepts, 1)
	assert.Equal(t, "Limits", cc.StrugglingConcepts[0].Concept)
}

func TestEngine_ProposeAndApply(t *testing.T) {
	ctx := context.Background()
	completer := &fakeCompleter{replies: []string{
		"Limits are about approaching a value.\n<graph_update>" +
			`{"new_nodes":[{"concept_name":"Limits","subject":"Calculus","initial_mastery":0.1}],` +
			`"updated_nodes":[{"concept_name":"Limits","mastery_delta":0.05},{"concept_name":"Ghost","mastery_delta":0.5}],` +
			`"new_edges":[{"source":"Limits","target":"Limits"},{"source":"Limits"}]}` +
			"</graph_update>",
	}}
	e, mem := newTestEngine(t, WithCompleter(completer))
	require.True(t, e.AIEnabled())

	turn, err := e.ProposeAndApply(ctx, "u1", "what is a limit?")
	require.NoError(t, err)
	assert.Equal(t, "Limits are about approaching a value.", turn.Reply)
	require.Len(t, turn.Changes, 1)
	assert.InDelta(t, 0.15, turn.Changes[0].After, 1e-9)
	assert.Equal(t, 1, turn.Skipped)
	assert.Equal(t, 1, mem.Len(constants.TableEdges))
}

func TestEngine_ProposeAndApplyMalformedReplyIsNoop(t *testing.T) {
	e, mem := newTestEngine(t, WithCompleter(&fakeCompleter{replies: []string{
		"Sure!<graph_update>{not json}</graph_update>",
	}}))

	turn, err := e.ProposeAndApply(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Sure!", turn.Reply)
	assert.Empty(t, turn.Changes)
	assert.Equal(t, 0, mem.Len(constants.TableNodes))
}

func TestEngine_ProposeAndApplyWithoutAI(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ProposeAndApply(context.Background(), "u1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrAIDisabled)
}

func TestEngine_SaveReviewContextRequiresNode(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	err := e.SaveReviewContext(ctx, "u1", "missing", map[string]any{})
	assert.True(t, apperrors.IsNotFound(err))

	seedGraph(t, e, "u1", graph.NewNode{ConceptName: "Limits", Subject: "Calculus"})
	id := nodeID(t, e, "u1", "Limits")
	require.NoError(t, e.SaveReviewContext(ctx, "u1", id, map[string]any{"notes": "ok"}))
	doc, err := e.GetReviewContext(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "ok", doc["notes"])
}

func TestEngine_DeleteCourseRemovesEverything(t *testing.T) {
	ctx := context.Background()
	e, mem := newTestEngine(t)
	_, err := e.AddCourse(ctx, "u1", "Calculus", "")
	require.NoError(t, err)
	seedGraph(t, e, "u1",
		graph.NewNode{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.2},
		graph.NewNode{ConceptName: "Series", Subject: "Calculus", InitialMastery: 0.4},
		graph.NewNode{ConceptName: "Cells", Subject: "Biology", InitialMastery: 0.4},
	)
	_, err = e.ApplyGraphUpdate(ctx, "u1", graph.UpdatePayload{NewEdges: []graph.NewEdge{
		{Source: "Limits", Target: "Series"},
		{Source: "Cells", Target: "Limits"},
	}})
	require.NoError(t, err)
	limitsID := nodeID(t, e, "u1", "Limits")
	require.NoError(t, e.SaveReviewContext(ctx, "u1", limitsID, map[string]any{"notes": "x"}))

	res, err := e.DeleteCourse(ctx, "u1", "Calculus")
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesDeleted)
	assert.Equal(t, 2, res.EdgesDeleted)
	assert.Equal(t, 1, res.ReviewRowsDeleted)
	assert.True(t, res.CourseRecordDeleted)

	assert.Equal(t, 1, mem.Len(constants.TableNodes))
	assert.Equal(t, 0, mem.Len(constants.TableEdges))
	assert.Equal(t, 0, mem.Len(constants.TableQuizContext))
	courses, err := e.ListCourses(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, courses)

	_, err = e.DeleteCourse(ctx, "u1", "Calculus")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEngine_FindStudyMatches(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	require.NoError(t, e.UpsertUser(ctx, graph.User{ID: "alice", Name: "Alice"}))
	require.NoError(t, e.UpsertUser(ctx, graph.User{ID: "bob", Name: "Bob"}))
	require.NoError(t, e.UpsertUser(ctx, graph.User{ID: "cara", Name: "Cara"}))
	seedGraph(t, e, "alice",
		graph.NewNode{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.9},
		graph.NewNode{ConceptName: "Derivatives", Subject: "Calculus", InitialMastery: 0.2},
	)
	seedGraph(t, e, "bob",
		graph.NewNode{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.3},
		graph.NewNode{ConceptName: "Derivatives", Subject: "Calculus", InitialMastery: 0.8},
	)
	seedGraph(t, e, "cara", graph.NewNode{ConceptName: "Poetry", Subject: "English", InitialMastery: 0.5})

	matches, err := e.FindStudyMatches(ctx, "alice", []string{"bob", "cara", "alice"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "bob", matches[0].Partner.ID)
	assert.Equal(t, "Bob", matches[0].Partner.Name)
	assert.Equal(t, []string{"Limits"}, []string{matches[0].YouCanTeach[0].Concept})
	assert.Equal(t, constants.MinMatchScore, matches[1].CompatibilityScore)

	again, err := e.FindStudyMatches(ctx, "alice", []string{"cara", "alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, matches, again)

	for _, outsider := range []string{"outsider", "ghost-user-never-seen", "dave"} {
		none, err := e.FindStudyMatches(ctx, outsider, []string{"alice", "bob", "cara"})
		require.NoError(t, err)
		assert.Empty(t, none, outsider)
	}

	school, err := e.FindSchoolMatches(ctx, "alice", []string{"cara"})
	require.NoError(t, err)
	require.Len(t, school, 1)
	assert.Equal(t, "bob", school[0].Partner.ID)

	none, err := e.FindSchoolMatches(ctx, "ghost-user-never-seen", nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEngine_ListStudents(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	require.NoError(t, e.UpsertUser(ctx, graph.User{ID: "u1", Name: "Ada", StreakCount: 4}))
	_, err := e.AddCourse(ctx, "u1", "Physics", "")
	require.NoError(t, err)
	seedGraph(t, e, "u1", graph.NewNode{ConceptName: "Force", Subject: "Physics", InitialMastery: 0.8})

	students, err := e.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, []string{"Physics"}, students[0].Courses)
	assert.Equal(t, 1, students[0].Stats.Mastered)
	assert.Equal(t, 4, students[0].Streak)
}
