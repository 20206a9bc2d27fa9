package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	apperrors "sapling-graph/backend/pkg/errors"
)

func TestEngine_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	completer := &fakeCompleter{replies: []string{
		"Hi Ada! What do you already know about limits?\n<graph_update>" +
			`{"new_nodes":[{"concept_name":"Limits","subject":"Calculus","initial_mastery":0.1}]}` +
			"</graph_update>",
		"Good start. Think about approaching, not reaching.\n<graph_update>" +
			`{"updated_nodes":[{"concept_name":"Limits","mastery_delta":0.05}],` +
			`"new_nodes":[{"concept_name":"Continuity","subject":"Calculus"}],` +
			`"new_edges":[{"source":"Limits","target":"Continuity"}]}` +
			"</graph_update>",
		"Hint: try x = 0.9, 0.99, 0.999.",
	}}
	e, _ := newTestEngine(t, WithCompleter(completer))
	require.NoError(t, e.UpsertUser(ctx, graph.User{ID: "u1", Name: "Ada"}))

	opening, err := e.StartSession(ctx, "u1", "Expository", "limits")
	require.NoError(t, err)
	assert.Equal(t, constants.ModeExpository, opening.Mode)
	assert.Equal(t, "Hi Ada! What do you already know about limits?", opening.Reply)
	require.NotNil(t, opening.GraphUpdate)
	assert.Contains(t, completer.users[0], "Student wants to learn about: limits")
	assert.Contains(t, completer.systems[0], "Teaching Mode: Expository")
	assert.NotContains(t, completer.systems[0], "## Last Session")

	turn, err := e.Chat(ctx, opening.SessionID, "  it is where a function goes  ")
	require.NoError(t, err)
	require.Len(t, turn.Changes, 1)
	assert.InDelta(t, 0.15, turn.Changes[0].After, 1e-9)
	assert.Contains(t, completer.users[1], "Sapling: Hi Ada!")
	assert.Contains(t, completer.users[1], "Student: it is where a function goes\n\nSapling:")

	hint, err := e.SessionAction(ctx, opening.SessionID, "HINT")
	require.NoError(t, err)
	assert.Equal(t, "Hint: try x = 0.9, 0.99, 0.999.", hint.Reply)
	assert.Nil(t, hint.GraphUpdate)
	assert.Contains(t, completer.users[2], "[ACTION: ")

	h, err := e.ResumeSession(ctx, opening.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Session.MessageCount)
	require.Len(t, h.Messages, 4)
	assert.Equal(t, "assistant", h.Messages[0].Role)
	assert.Equal(t, "user", h.Messages[1].Role)
	assert.Equal(t, "it is where a function goes", h.Messages[1].Content)

	ended, err := e.EndSession(ctx, opening.SessionID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.Summary)
	assert.Equal(t, []string{"Limits", "Continuity"}, ended.Summary.ConceptsCovered)
	assert.Equal(t, []string{"Limits → Continuity"}, ended.Summary.NewConnections)
	require.Len(t, ended.Summary.MasteryChanges, 1)
	assert.Equal(t, 0.1, ended.Summary.MasteryChanges[0].Before)
	assert.NotEmpty(t, ended.Summary.RecommendedNext)
	assert.LessOrEqual(t, len(ended.Summary.RecommendedNext), constants.SessionRecommendedNext)

	again, err := e.EndSession(ctx, opening.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ended.Summary.ConceptsCovered, again.Summary.ConceptsCovered)

	_, err = e.Chat(ctx, opening.SessionID, "one more")
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 3, completer.calls)

	list, err := e.ListSessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].MessageCount)
	assert.False(t, list[0].IsActive)
}

func TestEngine_StartSessionCarriesLastRecap(t *testing.T) {
	ctx := context.Background()
	completer := &fakeCompleter{replies: []string{
		"Welcome.<graph_update>" +
			`{"new_nodes":[{"concept_name":"Vectors","subject":"Physics"}]}` +
			"</graph_update>",
		"Welcome back.",
	}}
	e, _ := newTestEngine(t, WithCompleter(completer))

	first, err := e.StartSession(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, constants.ModeSocratic, first.Mode)
	_, err = e.EndSession(ctx, first.SessionID)
	require.NoError(t, err)

	_, err = e.StartSession(ctx, "u1", "teachback", "forces")
	require.NoError(t, err)
	assert.Contains(t, completer.systems[1], "## Last Session\nCovered Vectors")
	assert.Contains(t, completer.systems[1], "Teaching Mode: Teach-back")
}

func TestEngine_SessionErrors(t *testing.T) {
	ctx := context.Background()

	e, _ := newTestEngine(t)
	_, err := e.StartSession(ctx, "u1", "", "")
	assert.ErrorIs(t, err, apperrors.ErrAIDisabled)

	_, err = e.Chat(ctx, "missing", "hi")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.EndSession(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.ResumeSession(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	completer := &fakeCompleter{replies: []string{"Hello."}}
	e, _ = newTestEngine(t, WithCompleter(completer))
	turn, err := e.StartSession(ctx, "u1", "", "")
	require.NoError(t, err)

	_, err = e.Chat(ctx, turn.SessionID, "   ")
	assert.True(t, apperrors.IsValidation(err))

	_, err = e.SessionAction(ctx, turn.SessionID, "dance")
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 1, completer.calls)

	// Unscripted reply: the completion fails and nothing is stored
	_, err = e.Chat(ctx, turn.SessionID, "hi")
	assert.Error(t, err)
	h, err := e.ResumeSession(ctx, turn.SessionID)
	require.NoError(t, err)
	assert.Len(t, h.Messages, 1)
}

func TestEngine_EndSessionMeasuresTime(t *testing.T) {
	ctx := context.Background()
	now := testNow
	e, _ := newTestEngine(t,
		WithCompleter(&fakeCompleter{replies: []string{"Hello."}}),
		WithClock(func() time.Time { return now }),
	)
	turn, err := e.StartSession(ctx, "u1", "", "")
	require.NoError(t, err)

	now = now.Add(25 * time.Minute)
	ended, err := e.EndSession(ctx, turn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 25, ended.Summary.TimeSpentMinutes)
	assert.Empty(t, ended.Summary.RecommendedNext)
}
