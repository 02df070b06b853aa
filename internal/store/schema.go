package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names.
const (
	tableDocuments     = "documents"
	tableLectureNotes  = "lecture_notes"
	tableProblemSheets = "problem_sheets"
	tableSessions      = "sessions"
	tableMessages      = "messages"
	tableQuizzes       = "quizzes"
	tableSubmissions   = "submissions"
	tableHints         = "hints"
	tableTrajectories  = "trajectories"
	tablePerformance   = "user_performance"
	tableLLMEvents     = "llm_events"
)

var (
	documentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "title", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "source_file", Type: field.TypeString},
		{Name: "content_type", Type: field.TypeString},
		{Name: "blob_key", Type: field.TypeString},
		{Name: "chunk_count", Type: field.TypeInt},
		{Name: "created_at", Type: field.TypeTime},
	}
	documentsTable = &schema.Table{
		Name:       tableDocuments,
		Columns:    documentsColumns,
		PrimaryKey: []*schema.Column{documentsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "documents_topic", Columns: []*schema.Column{documentsColumns[2]}},
		},
	}

	lectureNotesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "document_id", Type: field.TypeString},
		{Name: "title", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "content", Type: field.TypeString, Size: 1 << 20},
		{Name: "source_file", Type: field.TypeString},
		{Name: "page_number", Type: field.TypeInt},
		{Name: "chunk_index", Type: field.TypeInt},
		{Name: "embedding", Type: field.TypeBytes, Nullable: true},
		{Name: "embedding_model", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	lectureNotesTable = &schema.Table{
		Name:       tableLectureNotes,
		Columns:    lectureNotesColumns,
		PrimaryKey: []*schema.Column{lectureNotesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "lecture_notes_document_chunk", Unique: true, Columns: []*schema.Column{lectureNotesColumns[1], lectureNotesColumns[7]}},
			{Name: "lecture_notes_topic", Columns: []*schema.Column{lectureNotesColumns[3]}},
		},
	}

	problemSheetsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "title", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "problems", Type: field.TypeString, Size: 1 << 20},
		{Name: "course_code", Type: field.TypeString},
		{Name: "year", Type: field.TypeInt},
		{Name: "difficulty", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	problemSheetsTable = &schema.Table{
		Name:       tableProblemSheets,
		Columns:    problemSheetsColumns,
		PrimaryKey: []*schema.Column{problemSheetsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "problem_sheets_topic_difficulty", Columns: []*schema.Column{problemSheetsColumns[2], problemSheetsColumns[6]}},
		},
	}

	sessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "subject", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	sessionsTable = &schema.Table{
		Name:       tableSessions,
		Columns:    sessionsColumns,
		PrimaryKey: []*schema.Column{sessionsColumns[0]},
	}

	messagesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "role", Type: field.TypeString},
		{Name: "content", Type: field.TypeString, Size: 1 << 20},
		{Name: "tokens_used", Type: field.TypeInt},
		{Name: "created_at", Type: field.TypeTime},
	}
	messagesTable = &schema.Table{
		Name:       tableMessages,
		Columns:    messagesColumns,
		PrimaryKey: []*schema.Column{messagesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "messages_session", Columns: []*schema.Column{messagesColumns[1]}},
		},
	}

	quizzesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "title", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "difficulty", Type: field.TypeString},
		{Name: "questions", Type: field.TypeString, Size: 1 << 20},
		{Name: "context_based", Type: field.TypeBool},
		{Name: "created_at", Type: field.TypeTime},
	}
	quizzesTable = &schema.Table{
		Name:       tableQuizzes,
		Columns:    quizzesColumns,
		PrimaryKey: []*schema.Column{quizzesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "quizzes_session", Columns: []*schema.Column{quizzesColumns[1]}},
		},
	}

	submissionsColumns = []*schema.Column{
		{Name: "quiz_id", Type: field.TypeString, Unique: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "results", Type: field.TypeString, Size: 1 << 20},
		{Name: "correct_count", Type: field.TypeInt},
		{Name: "total_questions", Type: field.TypeInt},
		{Name: "percentage", Type: field.TypeInt},
		{Name: "time_taken_seconds", Type: field.TypeFloat64},
		{Name: "created_at", Type: field.TypeTime},
	}
	submissionsTable = &schema.Table{
		Name:       tableSubmissions,
		Columns:    submissionsColumns,
		PrimaryKey: []*schema.Column{submissionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "submissions_session_topic", Columns: []*schema.Column{submissionsColumns[1], submissionsColumns[2]}},
		},
	}

	hintsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "quiz_id", Type: field.TypeString},
		{Name: "question_id", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString},
		{Name: "hint_text", Type: field.TypeString, Size: 1 << 16},
		{Name: "source", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	hintsTable = &schema.Table{
		Name:       tableHints,
		Columns:    hintsColumns,
		PrimaryKey: []*schema.Column{hintsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "hints_quiz_question", Unique: true, Columns: []*schema.Column{hintsColumns[1], hintsColumns[2]}},
			{Name: "hints_session", Columns: []*schema.Column{hintsColumns[3]}},
		},
	}

	trajectoriesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "sequence", Type: field.TypeInt64, Unique: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "state", Type: field.TypeString, Size: 1 << 20},
		{Name: "action", Type: field.TypeString, Size: 1 << 20},
		{Name: "action_type", Type: field.TypeString},
		{Name: "reward", Type: field.TypeFloat64},
		{Name: "reward_breakdown", Type: field.TypeString},
		{Name: "model_name", Type: field.TypeString},
		{Name: "prompt_tokens", Type: field.TypeInt},
		{Name: "completion_tokens", Type: field.TypeInt},
		{Name: "created_at", Type: field.TypeTime},
	}
	trajectoriesTable = &schema.Table{
		Name:       tableTrajectories,
		Columns:    trajectoriesColumns,
		PrimaryKey: []*schema.Column{trajectoriesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "trajectories_session", Columns: []*schema.Column{trajectoriesColumns[2]}},
			{Name: "trajectories_reward", Columns: []*schema.Column{trajectoriesColumns[6]}},
		},
	}

	performanceColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "questions_attempted", Type: field.TypeInt},
		{Name: "questions_correct", Type: field.TypeInt},
		{Name: "hints_requested", Type: field.TypeInt},
		{Name: "time_on_topic_seconds", Type: field.TypeFloat64},
		{Name: "average_score", Type: field.TypeFloat64},
		{Name: "score_trend", Type: field.TypeFloat64},
		{Name: "first_attempt_at", Type: field.TypeTime},
		{Name: "last_attempt_at", Type: field.TypeTime},
	}
	performanceTable = &schema.Table{
		Name:       tablePerformance,
		Columns:    performanceColumns,
		PrimaryKey: []*schema.Column{performanceColumns[0]},
		Indexes: []*schema.Index{
			{Name: "user_performance_session_topic", Unique: true, Columns: []*schema.Column{performanceColumns[1], performanceColumns[2]}},
		},
	}

	llmEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "sequence", Type: field.TypeInt64, Unique: true},
		{Name: "timestamp", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeString},
		{Name: "provider", Type: field.TypeString},
		{Name: "model", Type: field.TypeString},
		{Name: "purpose", Type: field.TypeString},
		{Name: "input_tokens", Type: field.TypeInt},
		{Name: "output_tokens", Type: field.TypeInt},
		{Name: "latency_ms", Type: field.TypeInt64},
		{Name: "success", Type: field.TypeBool},
		{Name: "error_message", Type: field.TypeString},
		{Name: "request_body", Type: field.TypeString, Size: 1 << 20},
		{Name: "response_body", Type: field.TypeString, Size: 1 << 20},
	}
	llmEventsTable = &schema.Table{
		Name:       tableLLMEvents,
		Columns:    llmEventsColumns,
		PrimaryKey: []*schema.Column{llmEventsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "llm_events_purpose", Columns: []*schema.Column{llmEventsColumns[6]}},
		},
	}
)

// Tables lists every table the store migrates.
var Tables = []*schema.Table{
	documentsTable,
	lectureNotesTable,
	problemSheetsTable,
	sessionsTable,
	messagesTable,
	quizzesTable,
	submissionsTable,
	hintsTable,
	trajectoriesTable,
	performanceTable,
	llmEventsTable,
}
