package graph

import "time"

// ============================================================================
// Mastery Graph Types
// ============================================================================

// ConceptNode is one concept in a learner's graph. Subject roots are
// synthesized on read and never persisted.
type ConceptNode struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	ConceptName   string     `json:"concept_name"`
	Subject       string     `json:"subject"`
	MasteryScore  float64    `json:"mastery_score"`
	MasteryTier   string     `json:"mastery_tier"`
	TimesStudied  int        `json:"times_studied"`
	LastStudiedAt *time.Time `json:"last_studied_at"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	IsSubjectRoot bool       `json:"is_subject_root,omitempty"`
}

// ConceptEdge is a directed relation between two of a user's nodes
type ConceptEdge struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

// Stats summarizes a user's persisted nodes
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	Mastered   int `json:"mastered"`
	Learning   int `json:"learning"`
	Struggling int `json:"struggling"`
	Unexplored int `json:"unexplored"`
	Streak     int `json:"streak"`
}

// Graph is the read model returned to callers
type Graph struct {
	Nodes []ConceptNode `json:"nodes"`
	Edges []ConceptEdge `json:"edges"`
	Stats Stats         `json:"stats"`
}

// Course is a subject a user has registered explicitly
type Course struct {
	ID         string     `json:"id"`
	CourseName string     `json:"course_name"`
	Color      string     `json:"color"`
	NodeCount  int        `json:"node_count"`
	CreatedAt  *time.Time `json:"created_at"`
}

// AddCourseResult reports whether AddCourse created anything
type AddCourseResult struct {
	CourseName     string `json:"course_name"`
	AlreadyExisted bool   `json:"already_existed"`
}

// DeleteCourseResult counts what a course deletion removed
type DeleteCourseResult struct {
	CourseName          string `json:"course_name"`
	NodesDeleted        int    `json:"nodes_deleted"`
	EdgesDeleted        int    `json:"edges_deleted"`
	ReviewRowsDeleted   int    `json:"review_rows_deleted"`
	CourseRecordDeleted bool   `json:"course_record_deleted"`
}

// MasteryChange records one applied delta
type MasteryChange struct {
	Concept string  `json:"concept"`
	Before  float64 `json:"before"`
	After   float64 `json:"after"`
}

// Recommendation is a weak spot worth studying next
type Recommendation struct {
	NodeID       string  `json:"node_id"`
	ConceptName  string  `json:"concept_name"`
	MasteryScore float64 `json:"mastery_score"`
	MasteryTier  string  `json:"mastery_tier"`
	Reason       string  `json:"reason"`
}

// User is the minimal learner record
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StreakCount int    `json:"streak_count"`
}

// Student is a directory entry
type Student struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Streak  int      `json:"streak"`
	Courses []string `json:"courses"`
	Stats   Stats    `json:"stats"`
}

// DedupResult counts what DedupNodes removed
type DedupResult struct {
	DuplicateGroups int `json:"duplicate_groups"`
	NodesRemoved    int `json:"nodes_removed"`
	EdgesRemoved    int `json:"edges_removed"`
}

// Entity kinds reported in not-found errors
const (
	KindUser   = "user"
	KindNode   = "node"
	KindCourse = "course"
)
