package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type recordingRebuilder struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (r *recordingRebuilder) UpdateCourseContext(_ context.Context, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return r.err
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newTestRepo(t *testing.T) (*Repository, *store.MemoryStore, *recordingRebuilder) {
	t.Helper()
	mem := store.NewMemoryStore()
	rb := &recordingRebuilder{}
	repo := NewRepository(mem,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(sequentialIDs()),
		WithContextRebuilder(rb),
	)
	return repo, mem, rb
}

func seedNode(t *testing.T, s store.Store, id, userID, concept, subject string, score float64) {
	t.Helper()
	err := s.Insert(context.Background(), constants.TableNodes, store.Row{
		"id":            id,
		"user_id":       userID,
		"concept_name":  concept,
		"subject":       subject,
		"mastery_score": score,
		"mastery_tier":  "unexplored",
		"times_studied": 0,
		"created_at":    testNow,
	})
	require.NoError(t, err)
}

func nodeByName(t *testing.T, repo *Repository, userID, concept string) *ConceptNode {
	t.Helper()
	node, err := repo.findNodeByName(context.Background(), userID, concept)
	require.NoError(t, err)
	require.NotNil(t, node, "node %s", concept)
	return node
}

// ============================================================================
// Graph Update Merger
// ============================================================================

func TestApplyGraphUpdate_NewNodesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)

	payload := UpdatePayload{NewNodes: []NewNode{{ConceptName: "Limits", Subject: "Calculus", InitialMastery: 0.3}}}
	_, err := repo.ApplyGraphUpdate(ctx, "u1", payload)
	require.NoError(t, err)

	// A replay with a different initial score must not overwrite
	payload.NewNodes[0].InitialMastery = 0.9
	_, err = repo.ApplyGraphUpdate(ctx, "u1", payload)
	require.NoError(t, err)

	assert.Equal(t, 1, mem.Len(constants.TableNodes))
	node := nodeByName(t, repo, "u1", "Limits")
	assert.Equal(t, 0.3, node.MasteryScore)
	assert.Equal(t, constants.TierStruggling, node.MasteryTier)
	assert.Equal(t, 0, node.TimesStudied)
}

func TestApplyGraphUpdate_NewNodeScoreIsClamped(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	_, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{NewNodes: []NewNode{
		{ConceptName: "High", Subject: "S", InitialMastery: 1.7},
		{ConceptName: "Low", Subject: "S", InitialMastery: -2},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1.0, nodeByName(t, repo, "u1", "High").MasteryScore)
	assert.Equal(t, 0.0, nodeByName(t, repo, "u1", "Low").MasteryScore)
}

func TestApplyGraphUpdate_DeltaIsClamped(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-high", "u1", "High", "S", 0.95)
	seedNode(t, mem, "n-low", "u1", "Low", "S", 0.05)

	changes, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{UpdatedNodes: []NodeUpdate{
		{ConceptName: "High", MasteryDelta: 0.5},
		{ConceptName: "Low", MasteryDelta: -0.5},
	}})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, MasteryChange{Concept: "High", Before: 0.95, After: 1.0}, changes[0])
	assert.Equal(t, MasteryChange{Concept: "Low", Before: 0.05, After: 0.0}, changes[1])
}

func TestApplyGraphUpdate_DeltaFlipsTier(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "Calculus", 0.2)

	changes, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{UpdatedNodes: []NodeUpdate{
		{ConceptName: "A", MasteryDelta: 0.3},
	}})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "A", changes[0].Concept)
	assert.Equal(t, 0.2, changes[0].Before)
	assert.InDelta(t, 0.5, changes[0].After, 1e-9)

	node := nodeByName(t, repo, "u1", "A")
	assert.Equal(t, constants.TierLearning, node.MasteryTier)
	assert.Equal(t, 1, node.TimesStudied)
	require.NotNil(t, node.LastStudiedAt)
	assert.True(t, testNow.Equal(*node.LastStudiedAt))

	rows, err := mem.Select(ctx, constants.TableNodes, store.Where(store.Eq("id", "n-a")))
	require.NoError(t, err)
	assert.Equal(t, constants.TierLearning, rows[0].GetString("mastery_tier"))
}

func TestApplyGraphUpdate_UnknownConceptIsSkipped(t *testing.T) {
	repo, _, rb := newTestRepo(t)

	changes, err := repo.ApplyGraphUpdate(context.Background(), "u1", UpdatePayload{UpdatedNodes: []NodeUpdate{
		{ConceptName: "Ghost", MasteryDelta: 0.2},
	}})
	require.NoError(t, err)
	require.NotNil(t, changes)
	assert.Empty(t, changes)
	assert.Empty(t, rb.subjects)
}

func TestApplyGraphUpdate_RepeatedUpdatesAccumulate(t *testing.T) {
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)

	changes, err := repo.ApplyGraphUpdate(context.Background(), "u1", UpdatePayload{UpdatedNodes: []NodeUpdate{
		{ConceptName: "A", MasteryDelta: 0.1},
		{ConceptName: "A", MasteryDelta: 0.1},
	}})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.InDelta(t, changes[0].After, changes[1].Before, 1e-9)
	assert.InDelta(t, 0.4, changes[1].After, 1e-9)
	assert.Equal(t, 2, nodeByName(t, repo, "u1", "A").TimesStudied)
}

func TestApplyGraphUpdate_NodeCreatedAndUpdatedInOnePayload(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	changes, err := repo.ApplyGraphUpdate(context.Background(), "u1", UpdatePayload{
		NewNodes:     []NewNode{{ConceptName: "Vectors", Subject: "Physics", InitialMastery: 0}},
		UpdatedNodes: []NodeUpdate{{ConceptName: "Vectors", MasteryDelta: 0.15}},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 0.0, changes[0].Before)
	assert.InDelta(t, 0.15, nodeByName(t, repo, "u1", "Vectors").MasteryScore, 1e-9)
}

func TestApplyGraphUpdate_EdgesAreNeverDuplicated(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)
	seedNode(t, mem, "n-b", "u1", "B", "S", 0.6)

	strong := 0.9
	payload := UpdatePayload{NewEdges: []NewEdge{
		{Source: "A", Target: "B"},
		{Source: "A", Target: "B", Strength: &strong},
		{Source: "B", Target: "A", Strength: &strong},
		{Source: "A", Target: "Missing"},
	}}
	_, err := repo.ApplyGraphUpdate(ctx, "u1", payload)
	require.NoError(t, err)
	_, err = repo.ApplyGraphUpdate(ctx, "u1", payload)
	require.NoError(t, err)

	rows, err := mem.Select(ctx, constants.TableEdges, store.Query{}.OrderBy("source_node_id", false))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "n-a", rows[0].GetString("source_node_id"))
	assert.Equal(t, constants.DefaultEdgeStrength, rows[0].GetFloat("strength"))
	assert.Equal(t, "n-b", rows[1].GetString("source_node_id"))
	assert.Equal(t, 0.9, rows[1].GetFloat("strength"))
}

func TestApplyGraphUpdate_EdgeStrengthIsClamped(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)

	huge := 3.0
	_, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{NewEdges: []NewEdge{{Source: "A", Target: "A", Strength: &huge}}})
	require.NoError(t, err)

	rows, err := mem.Select(ctx, constants.TableEdges, store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].GetFloat("strength"))
}

func TestApplyGraphUpdate_EdgesAreScopedToUser(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)
	seedNode(t, mem, "n-b", "u2", "B", "S", 0.6)

	_, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{NewEdges: []NewEdge{{Source: "A", Target: "B"}}})
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Len(constants.TableEdges))
}

func TestApplyGraphUpdate_RebuildsTouchedSubjects(t *testing.T) {
	repo, mem, rb := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "Biology", 0.2)
	seedNode(t, mem, "n-old", "u1", "Old", "History", 0.2)

	_, err := repo.ApplyGraphUpdate(context.Background(), "u1", UpdatePayload{
		NewNodes: []NewNode{
			{ConceptName: "Z", Subject: "Chemistry"},
			{ConceptName: "Loose", Subject: ""},
			// already exists: its subject is not touched
			{ConceptName: "Old", Subject: "History"},
		},
		UpdatedNodes: []NodeUpdate{{ConceptName: "A", MasteryDelta: 0.1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology", "Chemistry"}, rb.subjects)
	assert.Equal(t, constants.DefaultSubject, nodeByName(t, repo, "u1", "Loose").Subject)
}

func TestApplyGraphUpdate_RebuildFailureIsSwallowed(t *testing.T) {
	repo, mem, rb := newTestRepo(t)
	rb.err = errors.New("aggregator down")
	seedNode(t, mem, "n-a", "u1", "A", "Biology", 0.2)

	changes, err := repo.ApplyGraphUpdate(context.Background(), "u1", UpdatePayload{
		UpdatedNodes: []NodeUpdate{{ConceptName: "A", MasteryDelta: 0.1}},
	})
	require.NoError(t, err)
	assert.Len(t, changes, 1)
	assert.Equal(t, []string{"Biology"}, rb.subjects)
}

// barrierStore holds every node lookup until all racing merges have read,
// so each merge computes its delta from the same stale score.
type barrierStore struct {
	store.Store
	arrived sync.WaitGroup
}

func (b *barrierStore) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	rows, err := b.Store.Select(ctx, table, q)
	if table == constants.TableNodes {
		b.arrived.Done()
		b.arrived.Wait()
	}
	return rows, err
}

func TestApplyGraphUpdate_ConcurrentMergesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)

	racing := &barrierStore{Store: mem}
	racing.arrived.Add(2)
	repo := NewRepository(racing, WithClock(func() time.Time { return testNow }))

	var wg sync.WaitGroup
	for _, delta := range []float64{0.1, 0.2} {
		wg.Add(1)
		go func(d float64) {
			defer wg.Done()
			_, err := repo.ApplyGraphUpdate(ctx, "u1", UpdatePayload{
				UpdatedNodes: []NodeUpdate{{ConceptName: "A", MasteryDelta: d}},
			})
			assert.NoError(t, err)
		}(delta)
	}
	wg.Wait()

	rows, err := mem.Select(ctx, constants.TableNodes, store.Where(store.Eq("id", "n-a")))
	require.NoError(t, err)
	final := rows[0].GetFloat("mastery_score")

	// One increment is lost: the result reflects a single delta, never both
	lostFirst := 0.2 + 0.2
	lostSecond := 0.2 + 0.1
	assert.True(t, final > lostSecond-1e-9 && final < lostFirst+1e-9, "final %v", final)
	assert.False(t, math.Abs(0.5-final) <= 1e-9, "final %v should not be within 1e-9 of 0.5", final)
	assert.Equal(t, 1, rows[0].GetInt("times_studied"))
}

// ============================================================================
// Graph reads
// ============================================================================

func TestReadGraph_SubjectRootsAndStats(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "Limits", "Calculus", 0.2)
	seedNode(t, mem, "n-2", "u1", "Derivatives", "Calculus", 0.6)
	seedNode(t, mem, "n-3", "u1", "Cells", "Biology", 0.9)
	seedNode(t, mem, "n-4", "u1", "Misc", "", 0.05)
	require.NoError(t, mem.Insert(ctx, constants.TableEdges, store.Row{
		"id": "e-1", "user_id": "u1", "source_node_id": "n-1", "target_node_id": "n-2", "strength": 0.5,
	}))
	_, err := repo.AddCourse(ctx, "u1", "Chemistry", "")
	require.NoError(t, err)
	_, err = repo.AddCourse(ctx, "u1", "Calculus", "")
	require.NoError(t, err)
	require.NoError(t, repo.UpsertUser(ctx, User{ID: "u1", Name: "Ada", StreakCount: 4}))

	g, err := repo.ReadGraph(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, Stats{TotalNodes: 4, Mastered: 1, Learning: 1, Struggling: 1, Unexplored: 1, Streak: 4}, g.Stats)

	roots := map[string]ConceptNode{}
	for _, n := range g.Nodes {
		if n.IsSubjectRoot {
			roots[n.ID] = n
		}
	}
	require.Len(t, roots, 4)
	calc := roots["subject_root__Calculus"]
	assert.Equal(t, 0.4, calc.MasteryScore)
	assert.Equal(t, constants.TierSubjectRoot, calc.MasteryTier)
	assert.Equal(t, 0.0, roots["subject_root__Chemistry"].MasteryScore)
	assert.Contains(t, roots, "subject_root__General")
	assert.Contains(t, roots, "subject_root__Biology")

	assert.Len(t, g.Edges, 5)
	var calcEdges int
	for _, e := range g.Edges {
		if e.Source == "subject_root__Calculus" {
			calcEdges++
			assert.Equal(t, constants.SubjectRootEdgeStrength, e.Strength)
			assert.Equal(t, "subject_edge__subject_root__Calculus__"+e.Target, e.ID)
		}
	}
	assert.Equal(t, 2, calcEdges)
}

func TestReadGraph_UnknownUserIsEmpty(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	g, err := repo.ReadGraph(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
	assert.Equal(t, 0, g.Stats.Streak)
}

func TestReadGraph_TierFollowsStoredScore(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	require.NoError(t, mem.Insert(ctx, constants.TableNodes, store.Row{
		"id": "n-1", "user_id": "u1", "concept_name": "Stale", "subject": "S",
		"mastery_score": 0.3, "mastery_tier": "mastered",
	}))

	g, err := repo.ReadGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, constants.TierStruggling, g.Nodes[0].MasteryTier)
	assert.Equal(t, 0, g.Stats.Mastered)
}

func TestReadGraph_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "A", "S", 0.3)

	_, err := repo.ReadGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len(constants.TableNodes))
	assert.Equal(t, 0, mem.Len(constants.TableEdges))
}

func TestGetNode(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "A", "S", 0.3)

	node, err := repo.GetNode(ctx, "u1", "n-1")
	require.NoError(t, err)
	assert.Equal(t, "A", node.ConceptName)

	_, err = repo.GetNode(ctx, "u2", "n-1")
	assert.True(t, apperrors.IsNotFound(err))
}

// ============================================================================
// Recommendations
// ============================================================================

func TestGetRecommendations_WeakestFirst(t *testing.T) {
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-a", "u1", "A", "S", 0.2)
	seedNode(t, mem, "n-b", "u1", "B", "S", 0.6)
	seedNode(t, mem, "n-c", "u1", "C", "S", 0.9)

	recs, err := repo.GetRecommendations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].ConceptName)
	assert.Equal(t, "B", recs[1].ConceptName)
	assert.Contains(t, recs[0].Reason, "struggling")
	assert.Contains(t, recs[0].Reason, "20%")
	assert.Contains(t, recs[1].Reason, "progress")
}

func TestRankRecommendations_LimitAndTies(t *testing.T) {
	nodes := []ConceptNode{
		{ConceptName: "f", MasteryScore: 0.5},
		{ConceptName: "e", MasteryScore: 0.05},
		{ConceptName: "d", MasteryScore: 0.3},
		{ConceptName: "c", MasteryScore: 0.3},
		{ConceptName: "b", MasteryScore: 0.7},
		{ConceptName: "a", MasteryScore: 0.6},
		{ConceptName: "m", MasteryScore: 0.75},
		{ConceptName: "root", MasteryScore: 0.1, IsSubjectRoot: true},
	}

	recs := RankRecommendations(nodes)
	require.Len(t, recs, constants.MaxRecommendations)
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.ConceptName)
		assert.NotEqual(t, constants.TierMastered, r.MasteryTier)
	}
	assert.Equal(t, []string{"e", "c", "d", "f", "a"}, names)
	assert.Equal(t, "You haven't studied this yet. A great place to start.", recs[0].Reason)
}

// ============================================================================
// Courses
// ============================================================================

func TestAddCourse_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)

	res, err := repo.AddCourse(ctx, "u1", "Physics", "#ff0000")
	require.NoError(t, err)
	assert.False(t, res.AlreadyExisted)

	res, err = repo.AddCourse(ctx, "u1", " Physics ", "#00ff00")
	require.NoError(t, err)
	assert.True(t, res.AlreadyExisted)
	assert.Equal(t, 1, mem.Len(constants.TableCourses))

	_, err = repo.AddCourse(ctx, "u1", "  ", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestListCourses_WithNodeCounts(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "A", "Physics", 0.3)
	seedNode(t, mem, "n-2", "u1", "B", "Physics", 0.3)
	_, err := repo.AddCourse(ctx, "u1", "Physics", "")
	require.NoError(t, err)
	_, err = repo.AddCourse(ctx, "u1", "Art", "")
	require.NoError(t, err)

	courses, err := repo.ListCourses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, courses, 2)
	counts := map[string]int{}
	for _, c := range courses {
		counts[c.CourseName] = c.NodeCount
		assert.Equal(t, constants.DefaultCourseColor, c.Color)
	}
	assert.Equal(t, map[string]int{"Physics": 2, "Art": 0}, counts)
}

func TestUpdateCourseColor(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)
	_, err := repo.AddCourse(ctx, "u1", "Physics", "")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateCourseColor(ctx, "u1", "Physics", "#123456"))
	courses, err := repo.ListCourses(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "#123456", courses[0].Color)

	err = repo.UpdateCourseColor(ctx, "u1", "Nope", "#123456")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteCourse_CascadesWithoutResidue(t *testing.T) {
	ctx := context.Background()
	repo, mem, rb := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "Limits", "Calculus", 0.3)
	seedNode(t, mem, "n-2", "u1", "Derivatives", "Calculus", 0.5)
	seedNode(t, mem, "n-3", "u1", "Cells", "Biology", 0.5)
	seedNode(t, mem, "n-4", "u2", "Limits", "Calculus", 0.5)
	_, err := repo.AddCourse(ctx, "u1", "Calculus", "")
	require.NoError(t, err)
	require.NoError(t, mem.Insert(ctx, constants.TableEdges,
		store.Row{"id": "e-1", "user_id": "u1", "source_node_id": "n-1", "target_node_id": "n-2"},
		store.Row{"id": "e-2", "user_id": "u1", "source_node_id": "n-3", "target_node_id": "n-1"},
		store.Row{"id": "e-3", "user_id": "u1", "source_node_id": "n-3", "target_node_id": "n-3"},
	))
	require.NoError(t, mem.Insert(ctx, constants.TableQuizContext,
		store.Row{"id": "q-1", "user_id": "u1", "concept_node_id": "n-1", "context_json": map[string]any{}},
		store.Row{"id": "q-2", "user_id": "u1", "concept_node_id": "n-3", "context_json": map[string]any{}},
	))
	require.NoError(t, mem.Insert(ctx, constants.TableQuizAttempts,
		store.Row{"id": "a-1", "user_id": "u1", "concept_node_id": "n-2"},
		store.Row{"id": "a-2", "user_id": "u1", "concept_node_id": "n-3"},
	))

	res, err := repo.DeleteCourse(ctx, "u1", "Calculus")
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesDeleted)
	assert.Equal(t, 2, res.EdgesDeleted)
	assert.Equal(t, 1, res.ReviewRowsDeleted)
	assert.True(t, res.CourseRecordDeleted)

	deleted := []string{"n-1", "n-2"}
	for _, check := range []struct {
		table  string
		column string
	}{
		{constants.TableNodes, "id"},
		{constants.TableEdges, "source_node_id"},
		{constants.TableEdges, "target_node_id"},
		{constants.TableQuizContext, "concept_node_id"},
		{constants.TableQuizAttempts, "concept_node_id"},
	} {
		rows, err := mem.Select(ctx, check.table, store.Where(store.InStrings(check.column, deleted)))
		require.NoError(t, err)
		assert.Empty(t, rows, "%s.%s", check.table, check.column)
	}

	// other subjects and other users are untouched
	assert.Equal(t, 2, mem.Len(constants.TableNodes))
	assert.Equal(t, 1, mem.Len(constants.TableEdges))
	assert.Equal(t, 1, mem.Len(constants.TableQuizAttempts))
	assert.Equal(t, 0, mem.Len(constants.TableCourses))
	assert.Equal(t, []string{"Calculus"}, rb.subjects)

	_, err = repo.DeleteCourse(ctx, "u1", "Calculus")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteCourse_TrimsName(t *testing.T) {
	ctx := context.Background()
	repo, mem, rb := newTestRepo(t)
	_, err := repo.AddCourse(ctx, "u1", "  Calculus ", "")
	require.NoError(t, err)
	seedNode(t, mem, "n-1", "u1", "Limits", "Calculus", 0.3)

	require.NoError(t, repo.UpdateCourseColor(ctx, "u1", " Calculus", "#123456"))

	res, err := repo.DeleteCourse(ctx, "u1", "Calculus  ")
	require.NoError(t, err)
	assert.Equal(t, "Calculus", res.CourseName)
	assert.Equal(t, 1, res.NodesDeleted)
	assert.True(t, res.CourseRecordDeleted)
	assert.Equal(t, 0, mem.Len(constants.TableCourses))
	assert.Equal(t, []string{"Calculus"}, rb.subjects)

	_, err = repo.DeleteCourse(ctx, "u1", "   ")
	assert.True(t, apperrors.IsValidation(err))
}

func TestDeleteCourse_NodesWithoutCourseRecord(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "A", "Orphan", 0.3)

	res, err := repo.DeleteCourse(ctx, "u1", "Orphan")
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesDeleted)
	assert.False(t, res.CourseRecordDeleted)
}

// ============================================================================
// Users and maintenance
// ============================================================================

func TestListStudents(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	require.NoError(t, repo.UpsertUser(ctx, User{ID: "u1", Name: "Ada", StreakCount: 2}))
	require.NoError(t, repo.UpsertUser(ctx, User{ID: "u2", Name: "Grace"}))
	seedNode(t, mem, "n-1", "u1", "A", "Physics", 0.9)
	seedNode(t, mem, "n-2", "u1", "B", "Physics", 0.2)
	_, err := repo.AddCourse(ctx, "u1", "Physics", "")
	require.NoError(t, err)
	_, err = repo.AddCourse(ctx, "u1", "Art", "")
	require.NoError(t, err)

	students, err := repo.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Ada", students[0].Name)
	assert.Equal(t, []string{"Art", "Physics"}, students[0].Courses)
	assert.Equal(t, 2, students[0].Stats.TotalNodes)
	assert.Equal(t, 1, students[0].Stats.Mastered)
	assert.Equal(t, 2, students[0].Streak)
	assert.Equal(t, []string{}, students[1].Courses)
}

func TestDedupNodes_KeepsStrongestNode(t *testing.T) {
	ctx := context.Background()
	repo, mem, _ := newTestRepo(t)
	seedNode(t, mem, "n-weak", "u1", "Limits", "Calculus", 0.2)
	seedNode(t, mem, "n-strong", "u1", "Limits", "Calculus", 0.7)
	seedNode(t, mem, "n-other", "u2", "Limits", "Calculus", 0.1)
	require.NoError(t, mem.Insert(ctx, constants.TableEdges,
		store.Row{"id": "e-1", "user_id": "u1", "source_node_id": "n-weak", "target_node_id": "n-strong"},
	))
	require.NoError(t, mem.Insert(ctx, constants.TableQuizContext,
		store.Row{"id": "q-1", "user_id": "u1", "concept_node_id": "n-weak"},
	))

	res, err := repo.DedupNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, &DedupResult{DuplicateGroups: 1, NodesRemoved: 1, EdgesRemoved: 1}, res)
	assert.Equal(t, "n-strong", nodeByName(t, repo, "u1", "Limits").ID)
	assert.Equal(t, 0, mem.Len(constants.TableQuizContext))
	assert.Equal(t, 2, mem.Len(constants.TableNodes))
}

func TestDedupNodes_RebuildsAffectedSubjects(t *testing.T) {
	ctx := context.Background()
	repo, mem, rb := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "Limits", "Calculus", 0.2)
	seedNode(t, mem, "n-2", "u1", "Limits", "Calculus", 0.7)
	seedNode(t, mem, "n-3", "u2", "Cells", "Biology", 0.1)
	seedNode(t, mem, "n-4", "u2", "Cells", "Biology", 0.4)
	seedNode(t, mem, "n-5", "u2", "Atoms", "Chemistry", 0.4)

	res, err := repo.DedupNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesRemoved)
	assert.Equal(t, []string{"Biology", "Calculus"}, rb.subjects)
}

func TestDedupNodes_NothingToRemoveSkipsRebuild(t *testing.T) {
	ctx := context.Background()
	repo, mem, rb := newTestRepo(t)
	seedNode(t, mem, "n-1", "u1", "Limits", "Calculus", 0.2)

	res, err := repo.DedupNodes(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.NodesRemoved)
	assert.Empty(t, rb.subjects)
}

func TestDuplicatesToRemove_TiebreakOnTimesStudied(t *testing.T) {
	losers := duplicatesToRemove([]ConceptNode{
		{ID: "a", MasteryScore: 0.5, TimesStudied: 1},
		{ID: "b", MasteryScore: 0.5, TimesStudied: 3},
	})
	require.Len(t, losers, 1)
	assert.Equal(t, "a", losers[0].ID)
}
