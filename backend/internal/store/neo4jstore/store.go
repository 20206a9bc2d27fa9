// Package neo4jstore implements store.Store over Neo4j. Each table is a node
// label and each row a node; graph edges are additionally mirrored as
// RELATES_TO relationships between their endpoint nodes.
package neo4jstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

var _ store.Store = (*Store)(nil)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var labels = map[string]string{
	constants.TableUsers:         "User",
	constants.TableNodes:         "GraphNode",
	constants.TableEdges:         "GraphEdge",
	constants.TableCourses:       "Course",
	constants.TableQuizContext:   "QuizContext",
	constants.TableCourseContext: "CourseContext",
	constants.TableQuizAttempts:  "QuizAttempt",
	constants.TableSessions:      "LearningSession",
	constants.TableMessages:      "SessionMessage",
	constants.TableRooms:         "StudyRoom",
	constants.TableRoomMembers:   "RoomMember",
	constants.TableRoomActivity:  "RoomActivity",
	constants.TableRoomSummaries: "RoomSummary",
}

// Store is a Neo4j-backed record store
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Open connects to Neo4j and verifies connectivity
func Open(ctx context.Context, uri, user, password, database string, timeout time.Duration) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = 50
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return New(driver, database), nil
}

// New wraps an existing driver
func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{
		driver:   driver,
		database: database,
		logger:   logger.Get(),
	}
}

// Close closes the Neo4j driver connection
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

// EnsureConstraints creates uniqueness constraints and lookup indexes
func (s *Store) EnsureConstraints(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
		"CREATE CONSTRAINT graph_node_id_unique IF NOT EXISTS FOR (n:GraphNode) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT graph_edge_id_unique IF NOT EXISTS FOR (e:GraphEdge) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT course_id_unique IF NOT EXISTS FOR (c:Course) REQUIRE c.id IS UNIQUE",
		"CREATE CONSTRAINT course_context_name_unique IF NOT EXISTS FOR (c:CourseContext) REQUIRE c.course_name IS UNIQUE",
		"CREATE INDEX graph_node_user IF NOT EXISTS FOR (n:GraphNode) ON (n.user_id)",
		"CREATE INDEX graph_node_subject IF NOT EXISTS FOR (n:GraphNode) ON (n.subject)",
		"CREATE INDEX graph_edge_user IF NOT EXISTS FOR (e:GraphEdge) ON (e.user_id)",
		"CREATE INDEX course_user IF NOT EXISTS FOR (c:Course) ON (c.user_id)",
		"CREATE INDEX quiz_context_node IF NOT EXISTS FOR (q:QuizContext) ON (q.concept_node_id)",
		"CREATE CONSTRAINT quiz_attempt_id_unique IF NOT EXISTS FOR (a:QuizAttempt) REQUIRE a.id IS UNIQUE",
		"CREATE CONSTRAINT session_id_unique IF NOT EXISTS FOR (s:LearningSession) REQUIRE s.id IS UNIQUE",
		"CREATE CONSTRAINT room_id_unique IF NOT EXISTS FOR (r:StudyRoom) REQUIRE r.id IS UNIQUE",
		"CREATE CONSTRAINT room_invite_code_unique IF NOT EXISTS FOR (r:StudyRoom) REQUIRE r.invite_code IS UNIQUE",
		"CREATE CONSTRAINT room_summary_room_unique IF NOT EXISTS FOR (s:RoomSummary) REQUIRE s.room_id IS UNIQUE",
		"CREATE INDEX session_user IF NOT EXISTS FOR (s:LearningSession) ON (s.user_id)",
		"CREATE INDEX session_message_session IF NOT EXISTS FOR (m:SessionMessage) ON (m.session_id)",
		"CREATE INDEX room_member_room IF NOT EXISTS FOR (m:RoomMember) ON (m.room_id)",
		"CREATE INDEX room_member_user IF NOT EXISTS FOR (m:RoomMember) ON (m.user_id)",
		"CREATE INDEX room_activity_room IF NOT EXISTS FOR (a:RoomActivity) ON (a.room_id)",
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			s.logger.Warn("Failed to create constraint", zap.String("statement", stmt), zap.Error(err))
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	label, err := labelFor(table)
	if err != nil {
		return nil, err
	}
	where, params, err := buildWhere(q.Filters)
	if err != nil {
		return nil, err
	}
	orderBy, err := buildOrder(q.Order)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("MATCH (n:%s)%s RETURN properties(n) AS row%s", label, where, orderBy)
	if q.Limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = int64(q.Limit)
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewStoreFailed("select", table, err)
	}

	rows := make([]store.Row, 0)
	for result.Next(ctx) {
		val, ok := result.Record().Get("row")
		if !ok {
			continue
		}
		if props, ok := val.(map[string]any); ok {
			rows = append(rows, store.Row(props))
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStoreFailed("select", table, err)
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, table string, rows ...store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	label, err := labelFor(table)
	if err != nil {
		return err
	}

	params := make([]any, 0, len(rows))
	for _, row := range rows {
		params = append(params, toProperties(row))
	}

	query := fmt.Sprintf("UNWIND $rows AS row CREATE (n:%s) SET n = row", label)
	if table == constants.TableEdges {
		query += `
			WITH row
			MATCH (src:GraphNode {id: row.source_node_id}), (dst:GraphNode {id: row.target_node_id})
			MERGE (src)-[r:RELATES_TO {edge_id: row.id}]->(dst)
			SET r.strength = row.strength`
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	if _, err := session.Run(ctx, query, map[string]any{"rows": params}); err != nil {
		return apperrors.NewStoreFailed("insert", table, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, fields store.Row, filters ...store.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "update requires at least one filter")
	}
	label, err := labelFor(table)
	if err != nil {
		return 0, err
	}
	where, params, err := buildWhere(filters)
	if err != nil {
		return 0, err
	}
	params["fields"] = toProperties(fields)

	query := fmt.Sprintf("MATCH (n:%s)%s SET n += $fields RETURN count(n) AS affected", label, where)
	return s.runCount(ctx, "update", table, query, params)
}

func (s *Store) Upsert(ctx context.Context, table string, row store.Row, conflictKeys ...string) error {
	if len(conflictKeys) == 0 {
		return apperrors.NewValidation("conflictKeys", "upsert requires at least one conflict key")
	}
	label, err := labelFor(table)
	if err != nil {
		return err
	}
	props := toProperties(row)

	keys := make([]string, 0, len(conflictKeys))
	params := map[string]any{}
	for i, k := range conflictKeys {
		if !columnPattern.MatchString(k) {
			return apperrors.NewValidation("column", k)
		}
		name := fmt.Sprintf("k%d", i)
		keys = append(keys, fmt.Sprintf("%s: $%s", k, name))
		params[name] = props[k]
	}
	// id is only set when the node is first created
	id, hasID := props["id"]
	delete(props, "id")
	params["row"] = props
	params["id"] = id

	query := fmt.Sprintf("MERGE (n:%s {%s}) SET n += $row", label, strings.Join(keys, ", "))
	if hasID {
		query = fmt.Sprintf("MERGE (n:%s {%s}) ON CREATE SET n.id = $id SET n += $row", label, strings.Join(keys, ", "))
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	if _, err := session.Run(ctx, query, params); err != nil {
		return apperrors.NewStoreFailed("upsert", table, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filters ...store.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "delete requires at least one filter")
	}
	label, err := labelFor(table)
	if err != nil {
		return 0, err
	}
	where, params, err := buildWhere(filters)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`MATCH (n:%s)%s
		WITH collect(n) AS doomed
		FOREACH (x IN doomed | DETACH DELETE x)
		RETURN size(doomed) AS affected`, label, where)
	if table == constants.TableEdges {
		query = fmt.Sprintf(`MATCH (n:%s)%s
			OPTIONAL MATCH ()-[r:RELATES_TO {edge_id: n.id}]->()
			DELETE r
			WITH collect(DISTINCT n) AS doomed
			FOREACH (x IN doomed | DETACH DELETE x)
			RETURN size(doomed) AS affected`, label, where)
	}
	return s.runCount(ctx, "delete", table, query, params)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) runCount(ctx context.Context, op, table, query string, params map[string]any) (int, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return 0, apperrors.NewStoreFailed(op, table, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, apperrors.NewStoreFailed(op, table, err)
	}
	val, _ := record.Get("affected")
	if n, ok := val.(int64); ok {
		return int(n), nil
	}
	return 0, nil
}

// ============================================================================
// Query building
// ============================================================================

func labelFor(table string) (string, error) {
	label, ok := labels[table]
	if !ok {
		return "", apperrors.NewValidation("table", table)
	}
	return label, nil
}

// buildWhere renders filters against node variable n. Empty NOT IN lists are
// dropped; a missing property never equals a value.
func buildWhere(filters []store.Filter) (string, map[string]any, error) {
	params := map[string]any{}
	clauses := make([]string, 0, len(filters))
	for i, f := range filters {
		if !columnPattern.MatchString(f.Column) {
			return "", nil, apperrors.NewValidation("column", f.Column)
		}
		name := fmt.Sprintf("p%d", i)
		switch f.Op {
		case store.OpEq:
			clauses = append(clauses, fmt.Sprintf("n.%s = $%s", f.Column, name))
			params[name] = toValue(f.Value)
		case store.OpNeq:
			clauses = append(clauses, fmt.Sprintf("(n.%s IS NULL OR n.%s <> $%s)", f.Column, f.Column, name))
			params[name] = toValue(f.Value)
		case store.OpIn:
			clauses = append(clauses, fmt.Sprintf("n.%s IN $%s", f.Column, name))
			params[name] = toList(f.Values())
		case store.OpNotIn:
			values := f.Values()
			if len(values) == 0 {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("NOT n.%s IN $%s", f.Column, name))
			params[name] = toList(values)
		default:
			return "", nil, apperrors.NewValidation("op", string(f.Op))
		}
	}
	if len(clauses) == 0 {
		return "", params, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), params, nil
}

func buildOrder(orders []store.Order) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if !columnPattern.MatchString(o.Column) {
			return "", apperrors.NewValidation("order", o.Column)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("row.%s %s", o.Column, dir))
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// toProperties converts a row into Neo4j-storable properties. Nested maps
// become JSON strings; nil values are dropped.
func toProperties(row store.Row) map[string]any {
	props := make(map[string]any, len(row))
	for k, v := range row {
		converted := toValue(v)
		if converted == nil {
			continue
		}
		props[k] = converted
	}
	return props
}

func toValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case map[string]any, store.Row, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v
}

func toList(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = toValue(v)
	}
	return out
}
