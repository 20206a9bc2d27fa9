package constants

// Mastery tier names
const (
	TierUnexplored = "unexplored"
	TierStruggling = "struggling"
	TierLearning   = "learning"
	TierMastered   = "mastered"

	// TierSubjectRoot marks synthetic subject hubs; never persisted
	TierSubjectRoot = "subject_root"
)

// Tier thresholds; a score belongs to the first band whose upper bound it is below
const (
	StrugglingThreshold = 0.1
	LearningThreshold   = 0.45
	MasteredThreshold   = 0.75
)

// Record store tables
const (
	TableNodes         = "graph_nodes"
	TableEdges         = "graph_edges"
	TableCourses       = "courses"
	TableUsers         = "users"
	TableQuizContext   = "quiz_context"
	TableCourseContext = "course_context"
	TableQuizAttempts  = "quiz_attempts"
	TableSessions      = "sessions"
	TableMessages      = "messages"
	TableRooms         = "rooms"
	TableRoomMembers   = "room_members"
	TableRoomActivity  = "room_activity"
	TableRoomSummaries = "room_summaries"
)

// Subject roots
const (
	// SubjectRootPrefix marks synthetic per-subject hub node ids
	SubjectRootPrefix = "subject_root__"
	// SubjectEdgePrefix marks synthetic hub-to-member edge ids
	SubjectEdgePrefix = "subject_edge__"
	// SubjectRootEdgeStrength is the fixed strength of hub-to-member edges
	SubjectRootEdgeStrength = 0.7
	// DefaultSubject labels nodes created without a subject
	DefaultSubject = "General"
)

// Graph update defaults
const (
	DefaultEdgeStrength = 0.5
	DefaultCourseColor  = "#4A90D9"
)

// Course-context aggregation
const (
	// StrugglingConceptPct is the struggling fraction above which a concept is listed as a struggle
	StrugglingConceptPct = 0.2
	// MasteredConceptPct is the mastered fraction above which a concept is listed as mastered
	MasteredConceptPct = 0.6
)

// Recommendation and matching limits
const (
	MaxRecommendations = 5
	MaxMatchPreview    = 5
	MaxSummarySubjects = 2
)

// Compatibility thresholds and score band
const (
	TeachThreshold    = 0.70
	StruggleThreshold = 0.50
	MinMatchScore     = 18
	MaxMatchScore     = 92
)

// Quiz scoring deltas per answer
const (
	QuizCorrectDelta   = 0.03
	QuizIncorrectDelta = 0.02
)

// CandidateLoadConcurrency bounds parallel graph reads when matching
const CandidateLoadConcurrency = 8

// Quiz generation
const (
	DefaultQuizQuestions = 5
	MaxQuizQuestions     = 10
	DefaultDifficulty    = "medium"
	// QuizGraphContextNodes caps how much of the graph a quiz prompt sees
	QuizGraphContextNodes = 10
)

// Learning sessions
const (
	ModeSocratic   = "socratic"
	ModeExpository = "expository"
	ModeTeachback  = "teachback"

	DefaultSessionListLimit = 10
	MaxSessionListLimit     = 50

	// SessionRecommendedNext caps the follow-ups listed in a session recap
	SessionRecommendedNext = 3
)

// Study rooms
const (
	InviteCodeLength   = 6
	InviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultRoomName    = "Study Room"
	RoomActivityLimit  = 20

	ActivityRoomCreated      = "room_created"
	ActivityJoined           = "joined"
	ActivityQuizCompleted    = "quiz_completed"
	ActivitySessionCompleted = "session_completed"
)
