package neo4jstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

func TestBuildWhere(t *testing.T) {
	where, params, err := buildWhere([]store.Filter{
		store.Eq("user_id", "u1"),
		store.InStrings("id", []string{"a", "b"}),
		store.NotInStrings("subject", nil),
		store.Neq("subject", "General"),
	})
	require.NoError(t, err)
	assert.Equal(t, " WHERE n.user_id = $p0 AND n.id IN $p1 AND (n.subject IS NULL OR n.subject <> $p3)", where)
	assert.Equal(t, "u1", params["p0"])
	assert.Equal(t, []any{"a", "b"}, params["p1"])
	assert.NotContains(t, params, "p2")
}

func TestBuildWhere_Empty(t *testing.T) {
	where, params, err := buildWhere(nil)
	require.NoError(t, err)
	assert.Equal(t, "", where)
	assert.Empty(t, params)
}

func TestBuildWhere_RejectsInjection(t *testing.T) {
	_, _, err := buildWhere([]store.Filter{store.Eq("id} DETACH DELETE n //", 1)})
	assert.True(t, apperrors.IsValidation(err))
}

func TestBuildOrder(t *testing.T) {
	order, err := buildOrder([]store.Order{{Column: "mastery_score"}, {Column: "concept_name", Desc: true}})
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY row.mastery_score ASC, row.concept_name DESC", order)
}

func TestToProperties(t *testing.T) {
	now := time.Now()
	props := toProperties(store.Row{
		"times_studied":   3,
		"last_studied_at": &now,
		"created_at":      nil,
		"context_json":    map[string]any{"weak_areas": []any{"x"}},
	})
	assert.Equal(t, int64(3), props["times_studied"])
	assert.Equal(t, now, props["last_studied_at"])
	assert.NotContains(t, props, "created_at")
	assert.JSONEq(t, `{"weak_areas":["x"]}`, props["context_json"].(string))
}

func TestLabelFor(t *testing.T) {
	label, err := labelFor(constants.TableNodes)
	require.NoError(t, err)
	assert.Equal(t, "GraphNode", label)

	_, err = labelFor("secrets")
	assert.True(t, apperrors.IsValidation(err))
}

// TestStore_RoundTrip requires a running Neo4j instance
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables
func TestStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, uri, os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"), os.Getenv("NEO4J_DATABASE"), 10*time.Second)
	require.NoError(t, err)
	defer s.Close()

	userID := "test-user-" + time.Now().Format("20060102150405")
	defer func() {
		_, _ = s.Delete(ctx, constants.TableEdges, store.Eq("user_id", userID))
		_, _ = s.Delete(ctx, constants.TableNodes, store.Eq("user_id", userID))
	}()

	require.NoError(t, s.Insert(ctx, constants.TableNodes,
		store.Row{"id": userID + "-a", "user_id": userID, "concept_name": "A", "subject": "S", "mastery_score": 0.2},
		store.Row{"id": userID + "-b", "user_id": userID, "concept_name": "B", "subject": "S", "mastery_score": 0.6},
	))
	require.NoError(t, s.Insert(ctx, constants.TableEdges,
		store.Row{"id": userID + "-e", "user_id": userID, "source_node_id": userID + "-a", "target_node_id": userID + "-b", "strength": 0.5},
	))

	rows, err := s.Select(ctx, constants.TableNodes, store.Where(store.Eq("user_id", userID)).OrderBy("mastery_score", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].GetString("concept_name"))

	n, err := s.Update(ctx, constants.TableNodes, store.Row{"mastery_score": 0.9}, store.Eq("id", userID+"-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Delete(ctx, constants.TableEdges, store.Eq("user_id", userID))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
