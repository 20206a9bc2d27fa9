package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestService() (*Service, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	clock := &stepClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	return NewService(mem, clock.now), mem
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, constants.ModeSocratic, NormalizeMode(""))
	assert.Equal(t, constants.ModeSocratic, NormalizeMode("lecture"))
	assert.Equal(t, constants.ModeExpository, NormalizeMode(" Expository "))
	assert.Equal(t, constants.ModeTeachback, NormalizeMode("teachback"))
}

func TestService_StartAppendEnd(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()

	sess, err := svc.Start(ctx, "u1", "bogus", "  Limits ")
	require.NoError(t, err)
	assert.Equal(t, constants.ModeSocratic, sess.Mode)
	assert.Equal(t, "Limits", sess.Topic)
	assert.True(t, sess.IsActive)

	update := &graph.UpdatePayload{
		NewNodes: []graph.NewNode{{ConceptName: "Limits", Subject: "Calculus"}},
		NewEdges: []graph.NewEdge{{Source: "Limits", Target: "Derivatives"}},
	}
	changes := []graph.MasteryChange{{Concept: "Limits", Before: 0, After: 0.1}}
	_, err = svc.Append(ctx, sess.ID, RoleAssistant, "Welcome!", update, changes)
	require.NoError(t, err)
	_, err = svc.Append(ctx, sess.ID, RoleUser, "What is a limit?", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Len(constants.TableMessages))

	msgs, err := svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	require.NotNil(t, msgs[0].GraphUpdate)
	assert.Equal(t, "Limits", msgs[0].GraphUpdate.NewNodes[0].ConceptName)
	assert.Equal(t, changes, msgs[0].Changes)
	assert.Equal(t, "What is a limit?", msgs[1].Content)
	assert.Nil(t, msgs[1].GraphUpdate)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)

	sum := Summarize(msgs, *got.StartedAt, got.StartedAt.Add(12*time.Minute))
	ended, err := svc.End(ctx, sess.ID, sum)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, []string{"Limits"}, ended.Summary.ConceptsCovered)

	again, err := svc.End(ctx, sess.ID, Summary{ConceptsCovered: []string{"Other"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Limits"}, again.Summary.ConceptsCovered)
	assert.Equal(t, ended.EndedAt, again.EndedAt)

	last, err := svc.LastEnded(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sess.ID, last.ID)
	assert.Equal(t, "Covered Limits", Recap(last.Summary))
}

func TestService_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	first, err := svc.Start(ctx, "u1", "", "one")
	require.NoError(t, err)
	second, err := svc.Start(ctx, "u1", "", "two")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "u2", "", "other user")
	require.NoError(t, err)
	_, err = svc.Append(ctx, first.ID, RoleUser, "hi", nil, nil)
	require.NoError(t, err)

	list, err := svc.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, 1, list[1].MessageCount)
	assert.Zero(t, list[0].MessageCount)

	limited, err := svc.List(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	last, err := svc.LastEnded(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.End(ctx, "missing", Summary{})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Start(ctx, " ", "", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{
			Role: RoleAssistant,
			GraphUpdate: &graph.UpdatePayload{
				NewNodes:     []graph.NewNode{{ConceptName: "Limits"}},
				UpdatedNodes: []graph.NodeUpdate{{ConceptName: "Functions"}},
				NewEdges:     []graph.NewEdge{{Source: "Functions", Target: "Limits"}},
			},
			Changes: []graph.MasteryChange{{Concept: "Limits", Before: 0, After: 0.1}},
		},
		{Role: RoleUser, Content: "ok"},
		{
			Role: RoleAssistant,
			GraphUpdate: &graph.UpdatePayload{
				UpdatedNodes: []graph.NodeUpdate{{ConceptName: "limits"}},
				NewEdges:     []graph.NewEdge{{Source: "Functions", Target: "Limits"}},
			},
			Changes: []graph.MasteryChange{{Concept: "Limits", Before: 0.1, After: 0.25}},
		},
	}

	sum := Summarize(msgs, start, start.Add(30*time.Minute+20*time.Second))
	assert.Equal(t, []string{"Limits", "Functions"}, sum.ConceptsCovered)
	assert.Equal(t, []string{"Functions → Limits"}, sum.NewConnections)
	require.Len(t, sum.MasteryChanges, 1)
	assert.Equal(t, 0.0, sum.MasteryChanges[0].Before)
	assert.Equal(t, 0.25, sum.MasteryChanges[0].After)
	assert.Equal(t, 30, sum.TimeSpentMinutes)
	assert.NotNil(t, sum.RecommendedNext)

	empty := Summarize(nil, start, start)
	assert.Empty(t, empty.ConceptsCovered)
	assert.Zero(t, empty.TimeSpentMinutes)
	assert.Empty(t, Recap(&empty))
}
