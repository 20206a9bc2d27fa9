package gormstore

import (
	"time"

	"gorm.io/datatypes"

	"sapling-graph/backend/internal/constants"
)

// Table models exist for migration and as the Model of every statement.
// Rows still travel as maps so the store stays schema-agnostic to callers.

type userRow struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Name        string     `gorm:"column:name;not null;default:''"`
	StreakCount int        `gorm:"column:streak_count;not null;default:0"`
	CreatedAt   *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (userRow) TableName() string { return constants.TableUsers }

type nodeRow struct {
	ID            string     `gorm:"column:id;primaryKey"`
	UserID        string     `gorm:"column:user_id;not null;index:idx_node_user_concept,unique,priority:1"`
	ConceptName   string     `gorm:"column:concept_name;not null;index:idx_node_user_concept,unique,priority:2"`
	Subject       string     `gorm:"column:subject;not null;default:'';index"`
	MasteryScore  float64    `gorm:"column:mastery_score;not null;default:0"`
	MasteryTier   string     `gorm:"column:mastery_tier;not null;default:'unexplored'"`
	TimesStudied  int        `gorm:"column:times_studied;not null;default:0"`
	LastStudiedAt *time.Time `gorm:"column:last_studied_at"`
	CreatedAt     *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (nodeRow) TableName() string { return constants.TableNodes }

type edgeRow struct {
	ID           string     `gorm:"column:id;primaryKey"`
	UserID       string     `gorm:"column:user_id;not null;index:idx_edge_triple,unique,priority:1"`
	SourceNodeID string     `gorm:"column:source_node_id;not null;index:idx_edge_triple,unique,priority:2"`
	TargetNodeID string     `gorm:"column:target_node_id;not null;index:idx_edge_triple,unique,priority:3;index"`
	Strength     float64    `gorm:"column:strength;not null;default:0.5"`
	CreatedAt    *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (edgeRow) TableName() string { return constants.TableEdges }

type courseRow struct {
	ID         string     `gorm:"column:id;primaryKey"`
	UserID     string     `gorm:"column:user_id;not null;index:idx_course_user_name,unique,priority:1"`
	CourseName string     `gorm:"column:course_name;not null;index:idx_course_user_name,unique,priority:2"`
	Color      string     `gorm:"column:color;not null;default:''"`
	CreatedAt  *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (courseRow) TableName() string { return constants.TableCourses }

type quizContextRow struct {
	ID            string         `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;not null;index:idx_quiz_context_user_node,unique,priority:1"`
	ConceptNodeID string         `gorm:"column:concept_node_id;not null;index:idx_quiz_context_user_node,unique,priority:2;index"`
	ContextJSON   datatypes.JSON `gorm:"column:context_json"`
	UpdatedAt     *time.Time     `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (quizContextRow) TableName() string { return constants.TableQuizContext }

type courseContextRow struct {
	CourseName   string         `gorm:"column:course_name;primaryKey"`
	ContextJSON  datatypes.JSON `gorm:"column:context_json"`
	StudentCount int            `gorm:"column:student_count;not null;default:0"`
	UpdatedAt    *time.Time     `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (courseContextRow) TableName() string { return constants.TableCourseContext }

type quizAttemptRow struct {
	ID            string         `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;not null;index"`
	ConceptNodeID string         `gorm:"column:concept_node_id;not null;index"`
	Difficulty    string         `gorm:"column:difficulty;not null;default:'medium'"`
	QuestionsJSON datatypes.JSON `gorm:"column:questions_json"`
	AnswersJSON   datatypes.JSON `gorm:"column:answers_json"`
	Score         *int           `gorm:"column:score"`
	Total         *int           `gorm:"column:total"`
	CreatedAt     *time.Time     `gorm:"column:created_at;autoCreateTime:false"`
	CompletedAt   *time.Time     `gorm:"column:completed_at"`
}

func (quizAttemptRow) TableName() string { return constants.TableQuizAttempts }

type sessionRow struct {
	ID          string         `gorm:"column:id;primaryKey"`
	UserID      string         `gorm:"column:user_id;not null;index"`
	Mode        string         `gorm:"column:mode;not null;default:'socratic'"`
	Topic       string         `gorm:"column:topic;not null;default:''"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	EndedAt     *time.Time     `gorm:"column:ended_at"`
	SummaryJSON datatypes.JSON `gorm:"column:summary_json"`
}

func (sessionRow) TableName() string { return constants.TableSessions }

type messageRow struct {
	ID              string         `gorm:"column:id;primaryKey"`
	SessionID       string         `gorm:"column:session_id;not null;index:idx_message_session_seq,priority:1"`
	Seq             int            `gorm:"column:seq;not null;default:0;index:idx_message_session_seq,priority:2"`
	Role            string         `gorm:"column:role;not null"`
	Content         string         `gorm:"column:content;not null;default:''"`
	GraphUpdateJSON datatypes.JSON `gorm:"column:graph_update_json"`
	ChangesJSON     datatypes.JSON `gorm:"column:changes_json"`
	CreatedAt       *time.Time     `gorm:"column:created_at;autoCreateTime:false"`
}

func (messageRow) TableName() string { return constants.TableMessages }

type roomRow struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Name       string     `gorm:"column:name;not null;default:''"`
	InviteCode string     `gorm:"column:invite_code;not null;uniqueIndex"`
	CreatedBy  string     `gorm:"column:created_by;not null"`
	CreatedAt  *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (roomRow) TableName() string { return constants.TableRooms }

type roomMemberRow struct {
	ID       string     `gorm:"column:id;primaryKey"`
	RoomID   string     `gorm:"column:room_id;not null;index:idx_room_member,unique,priority:1"`
	UserID   string     `gorm:"column:user_id;not null;index:idx_room_member,unique,priority:2;index"`
	JoinedAt *time.Time `gorm:"column:joined_at"`
}

func (roomMemberRow) TableName() string { return constants.TableRoomMembers }

type roomActivityRow struct {
	ID           string     `gorm:"column:id;primaryKey"`
	RoomID       string     `gorm:"column:room_id;not null;index"`
	UserID       string     `gorm:"column:user_id;not null"`
	ActivityType string     `gorm:"column:activity_type;not null"`
	ConceptName  string     `gorm:"column:concept_name;not null;default:''"`
	Detail       string     `gorm:"column:detail;not null;default:''"`
	CreatedAt    *time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (roomActivityRow) TableName() string { return constants.TableRoomActivity }

type roomSummaryRow struct {
	ID         string     `gorm:"column:id;primaryKey"`
	RoomID     string     `gorm:"column:room_id;not null;uniqueIndex"`
	Summary    string     `gorm:"column:summary;not null;default:''"`
	MemberHash string     `gorm:"column:member_hash;not null;default:''"`
	UpdatedAt  *time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (roomSummaryRow) TableName() string { return constants.TableRoomSummaries }

func allModels() []any {
	return []any{
		&userRow{},
		&nodeRow{},
		&edgeRow{},
		&courseRow{},
		&quizContextRow{},
		&courseContextRow{},
		&quizAttemptRow{},
		&sessionRow{},
		&messageRow{},
		&roomRow{},
		&roomMemberRow{},
		&roomActivityRow{},
		&roomSummaryRow{},
	}
}

// modelFor returns a fresh model for a table, or nil for unknown tables
func modelFor(table string) any {
	switch table {
	case constants.TableUsers:
		return &userRow{}
	case constants.TableNodes:
		return &nodeRow{}
	case constants.TableEdges:
		return &edgeRow{}
	case constants.TableCourses:
		return &courseRow{}
	case constants.TableQuizContext:
		return &quizContextRow{}
	case constants.TableCourseContext:
		return &courseContextRow{}
	case constants.TableQuizAttempts:
		return &quizAttemptRow{}
	case constants.TableSessions:
		return &sessionRow{}
	case constants.TableMessages:
		return &messageRow{}
	case constants.TableRooms:
		return &roomRow{}
	case constants.TableRoomMembers:
		return &roomMemberRow{}
	case constants.TableRoomActivity:
		return &roomActivityRow{}
	case constants.TableRoomSummaries:
		return &roomSummaryRow{}
	}
	return nil
}
