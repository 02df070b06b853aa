package store

import (
	"context"
	"encoding/json"
	"time"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int    // max results (0 = unlimited)
	Purpose string // exact purpose match when non-empty
	After   int64  // sequence > After
}

// Document is one uploaded lecture-note source.
type Document struct {
	ID          string
	Title       string
	Topic       string
	SourceFile  string
	ContentType string
	BlobKey     string
	ChunkCount  int
	CreatedAt   time.Time
}

// Chunk is one persisted lecture_notes row. Embedding is nil until
// EmbedPending has processed it.
type Chunk struct {
	ID             int64
	DocumentID     string
	Title          string
	Topic          string
	Content        string
	SourceFile     string
	PageNumber     int
	ChunkIndex     int
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
}

// DocumentStats summarizes the lecture-note and problem-sheet corpus.
type DocumentStats struct {
	Documents      int
	Chunks         int
	EmbeddedChunks int
	ProblemSheets  int
	Topics         []string
}

// DocumentRepo persists lecture-note documents and their chunks.
type DocumentRepo interface {
	// Insert stores doc and its chunks in one transaction and returns the
	// chunk ids in ChunkIndex order.
	Insert(ctx context.Context, doc Document, chunks []Chunk) ([]int64, error)
	// Pending returns up to limit chunks with no embedding, oldest first,
	// skipping ids <= afterID.
	Pending(ctx context.Context, afterID int64, limit int) ([]Chunk, error)
	// SetEmbedding stores vec for chunk id only if it has none yet. It
	// reports whether this call stored it.
	SetEmbedding(ctx context.Context, id int64, vec []float32, model string) (bool, error)
	// Embedded returns every embedded chunk, optionally restricted to topic.
	Embedded(ctx context.Context, topic string) ([]Chunk, error)
	CountEmbedded(ctx context.Context) (int, error)
	ListDocuments(ctx context.Context, topic string, limit int) ([]Document, error)
	Stats(ctx context.Context) (DocumentStats, error)
}

// ProblemSheet is a stored problem_sheets row. Problems is the JSON array
// of problems as uploaded.
type ProblemSheet struct {
	ID         string
	Title      string
	Topic      string
	Problems   json.RawMessage
	CourseCode string
	Year       int
	Difficulty string
	CreatedAt  time.Time
}

// ProblemSheetRepo persists curated problem sheets.
type ProblemSheetRepo interface {
	Create(ctx context.Context, sheet ProblemSheet) error
	Get(ctx context.Context, id string) (*ProblemSheet, error)
	// Find matches topic case-insensitively as a substring; an empty
	// difficulty matches any.
	Find(ctx context.Context, topic, difficulty string, limit int) ([]ProblemSheet, error)
}

// Session is a tutoring session.
type Session struct {
	ID        string
	Subject   string
	CreatedAt time.Time
}

// Message is one chat turn within a session.
type Message struct {
	ID         int64
	SessionID  string
	Role       string
	Content    string
	TokensUsed int
	CreatedAt  time.Time
}

// SessionRepo persists sessions and their chat messages.
type SessionRepo interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (*Session, error)
	AppendMessage(ctx context.Context, msg Message) (int64, error)
	// Messages returns the session's messages oldest first; limit > 0
	// keeps only the most recent limit messages.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
	Topics(ctx context.Context) ([]string, error)
}

// Quiz is a stored quiz. Questions is the full JSON including answers.
type Quiz struct {
	ID           string
	SessionID    string
	Title        string
	Topic        string
	Difficulty   string
	Questions    json.RawMessage
	ContextBased bool
	CreatedAt    time.Time
}

// QuizRepo persists quizzes. Quizzes are never updated.
type QuizRepo interface {
	Create(ctx context.Context, q Quiz) error
	Get(ctx context.Context, id string) (*Quiz, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Quiz, error)
}

// Submission is the stored grading result of one quiz.
type Submission struct {
	QuizID           string
	SessionID        string
	Topic            string
	Results          json.RawMessage
	CorrectCount     int
	TotalQuestions   int
	Percentage       int
	TimeTakenSeconds float64
	CreatedAt        time.Time
}

// SubmissionRepo persists grading results, at most one per quiz.
type SubmissionRepo interface {
	// Create returns ErrDuplicate if the quiz already has a submission.
	Create(ctx context.Context, sub Submission) error
	Get(ctx context.Context, quizID string) (*Submission, error)
	// PreviousPercentage returns the latest percentage on topic in the
	// session, excluding quizID.
	PreviousPercentage(ctx context.Context, sessionID, topic, excludeQuizID string) (int, bool, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// Hint is the cached hint for one question of a quiz.
type Hint struct {
	QuizID     string
	QuestionID string
	SessionID  string
	Text       string
	Source     string
	CreatedAt  time.Time
}

// HintRepo stores at most one hint per (quiz, question).
type HintRepo interface {
	// PutIfAbsent stores h unless a hint already exists for the pair and
	// returns whichever hint is stored, and whether it was this one.
	PutIfAbsent(ctx context.Context, h Hint) (*Hint, bool, error)
	Get(ctx context.Context, quizID, questionID string) (*Hint, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	CountByQuiz(ctx context.Context, quizID string) (int, error)
}

// Trajectory is one append-only (state, action, reward) record.
type Trajectory struct {
	ID               int64
	Sequence         int64
	SessionID        string
	State            json.RawMessage
	Action           json.RawMessage
	ActionType       string
	Reward           float64
	RewardBreakdown  json.RawMessage
	ModelName        string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// ExportOpts filters a training export.
type ExportOpts struct {
	MinReward *float64
	Limit     int
}

// TrajectoryRepo appends and reads trajectories. There is no update or
// delete.
type TrajectoryRepo interface {
	Append(ctx context.Context, t Trajectory) (int64, error)
	ListBySession(ctx context.Context, sessionID string) ([]Trajectory, error)
	// Export returns trajectories newest first.
	Export(ctx context.Context, opts ExportOpts) ([]Trajectory, error)
}

// Performance is the per-(session, topic) learning record.
type Performance struct {
	SessionID          string
	Topic              string
	QuestionsAttempted int
	QuestionsCorrect   int
	HintsRequested     int
	TimeOnTopicSeconds float64
	AverageScore       float64
	ScoreTrend         float64
	FirstAttemptAt     time.Time
	LastAttemptAt      time.Time
}

// PerformanceRepo persists per-topic performance.
type PerformanceRepo interface {
	Get(ctx context.Context, sessionID, topic string) (*Performance, error)
	// Update loads the current record (or a zero one), applies fn and
	// saves the result in one transaction.
	Update(ctx context.Context, sessionID, topic string, fn func(*Performance)) (*Performance, error)
}

// LLMRequestEventData captures the data for a single backend call.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	SessionID    string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMEvent is a stored backend call.
type LLMEvent struct {
	ID        int64
	Sequence  int64
	Timestamp time.Time
	LLMRequestEventData
}

// EventRepo provides append access to backend call events.
type EventRepo interface {
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
}

// EventQuerier reads backend call events back.
type EventQuerier interface {
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMEvent, error)
	GetLLMEvent(ctx context.Context, id int64) (*LLMEvent, error)
	LLMUsageByPurpose(ctx context.Context) ([]LLMUsageStats, error)
	LLMUsageByModel(ctx context.Context) ([]LLMModelUsage, error)
}

// LLMUsageStats aggregates backend calls for one purpose.
type LLMUsageStats struct {
	Purpose      string
	Calls        int
	Failures     int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int
}

// LLMModelUsage aggregates token usage for one model.
type LLMModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}
