package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		// WAL mode falls back to "memory" for in-memory databases.
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestOpen_FileReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutorium.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Sessions().Create(ctx, Session{ID: "s1", Subject: "algebra"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "algebra", got.Subject)
}

func TestSequenceCounter_Monotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		n, err := s.seq.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if n <= prev {
			t.Fatalf("sequence %d not greater than %d", n, prev)
		}
		prev = n
	}
}

func TestDocuments_InsertAndEmbed(t *testing.T) {
	s := openTestStore(t)
	repo := s.Documents()
	ctx := context.Background()

	ids, err := repo.Insert(ctx, Document{ID: "d1", Title: "Groups", Topic: "group theory", SourceFile: "groups.md", ContentType: "text/markdown"},
		[]Chunk{{Content: "A group is a set.", ChunkIndex: 0}, {Content: "Lagrange's theorem.", ChunkIndex: 1}})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	pending, err := repo.Pending(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Nil(t, pending[0].Embedding)

	stored, err := repo.SetEmbedding(ctx, ids[0], []float32{0.5, -1, 2}, "hash-256")
	require.NoError(t, err)
	assert.True(t, stored)

	// Second write is a no-op.
	stored, err = repo.SetEmbedding(ctx, ids[0], []float32{9, 9, 9}, "other")
	require.NoError(t, err)
	assert.False(t, stored)

	embedded, err := repo.Embedded(ctx, "group theory")
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, []float32{0.5, -1, 2}, embedded[0].Embedding)
	assert.Equal(t, "hash-256", embedded[0].EmbeddingModel)

	pending, err = repo.Pending(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[1], pending[0].ID)

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, 1, st.EmbeddedChunks)
	assert.Equal(t, []string{"group theory"}, st.Topics)
}

func TestDocuments_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	doc := Document{ID: "d1", Title: "t", Topic: "x"}
	_, err := s.Documents().Insert(ctx, doc, nil)
	require.NoError(t, err)
	_, err = s.Documents().Insert(ctx, doc, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestProblemSheets_FindByTopicFold(t *testing.T) {
	s := openTestStore(t)
	repo := s.ProblemSheets()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, ProblemSheet{ID: "p1", Title: "Sheet 1", Topic: "Linear Algebra", Problems: json.RawMessage(`[]`), Difficulty: "easy"}))
	require.NoError(t, repo.Create(ctx, ProblemSheet{ID: "p2", Title: "Sheet 2", Topic: "Calculus", Problems: json.RawMessage(`[]`), Difficulty: "hard"}))

	got, err := repo.Find(ctx, "linear", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)

	got, err = repo.Find(ctx, "", "hard", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].ID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions_MessagesRecentInOrder(t *testing.T) {
	s := openTestStore(t)
	repo := s.Sessions()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, Session{ID: "s1"}))
	assert.ErrorIs(t, repo.Create(ctx, Session{ID: "s1"}), ErrDuplicate)

	for _, c := range []string{"one", "two", "three"} {
		_, err := repo.AppendMessage(ctx, Message{SessionID: "s1", Role: "user", Content: c})
		require.NoError(t, err)
	}

	msgs, err := repo.Messages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	n, err := repo.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSubmissions_OnePerQuiz(t *testing.T) {
	s := openTestStore(t)
	repo := s.Submissions()
	ctx := context.Background()

	sub := Submission{QuizID: "q1", SessionID: "s1", Topic: "sets", Results: json.RawMessage(`[]`), CorrectCount: 1, TotalQuestions: 2, Percentage: 50}
	require.NoError(t, repo.Create(ctx, sub))
	assert.ErrorIs(t, repo.Create(ctx, sub), ErrDuplicate)

	later := sub
	later.QuizID = "q2"
	later.Percentage = 100
	later.CreatedAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, repo.Create(ctx, later))

	pct, ok, err := repo.PreviousPercentage(ctx, "s1", "sets", "q2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 50, pct)

	_, ok, err = repo.PreviousPercentage(ctx, "s1", "graphs", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHints_PutIfAbsentKeepsFirst(t *testing.T) {
	s := openTestStore(t)
	repo := s.Hints()
	ctx := context.Background()

	h, created, err := repo.PutIfAbsent(ctx, Hint{QuizID: "q1", QuestionID: "1", SessionID: "s1", Text: "first", Source: "llm"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "first", h.Text)

	h, created, err = repo.PutIfAbsent(ctx, Hint{QuizID: "q1", QuestionID: "1", SessionID: "s1", Text: "second", Source: "llm"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "first", h.Text)

	n, err := repo.CountBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHints_ConcurrentPutStoresOne(t *testing.T) {
	s := openTestStore(t)
	repo := s.Hints()
	ctx := context.Background()

	var wg sync.WaitGroup
	texts := make([]string, 8)
	for i := range texts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, _, err := repo.PutIfAbsent(ctx, Hint{QuizID: "q", QuestionID: "1", Text: string(rune('a' + i))})
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			texts[i] = h.Text
		}(i)
	}
	wg.Wait()
	for _, txt := range texts[1:] {
		assert.Equal(t, texts[0], txt)
	}
}

func TestTrajectories_ExportFilters(t *testing.T) {
	s := openTestStore(t)
	repo := s.Trajectories()
	ctx := context.Background()

	for _, r := range []float64{0.2, 0.9, 0.6} {
		_, err := repo.Append(ctx, Trajectory{SessionID: "s1", State: json.RawMessage(`{}`), Action: json.RawMessage(`{}`), ActionType: "quiz_submit", Reward: r})
		require.NoError(t, err)
	}

	min := 0.5
	got, err := repo.Export(ctx, ExportOpts{MinReward: &min})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, 0.6, got[0].Reward)
	assert.Equal(t, 0.9, got[1].Reward)

	got, err = repo.Export(ctx, ExportOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	all, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, all[0].Sequence, all[1].Sequence)
	assert.JSONEq(t, `{}`, string(all[0].RewardBreakdown))
}

func TestPerformance_UpdateCreatesThenAccumulates(t *testing.T) {
	s := openTestStore(t)
	repo := s.Performance()
	ctx := context.Background()

	_, err := repo.Get(ctx, "s1", "sets")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = repo.Update(ctx, "s1", "sets", func(p *Performance) {
		p.QuestionsAttempted += 3
		p.QuestionsCorrect += 2
		p.AverageScore = 0.67
	})
	require.NoError(t, err)

	p, err := repo.Update(ctx, "s1", "sets", func(p *Performance) {
		p.QuestionsAttempted += 2
	})
	require.NoError(t, err)
	assert.Equal(t, 5, p.QuestionsAttempted)

	got, err := repo.Get(ctx, "s1", "sets")
	require.NoError(t, err)
	assert.Equal(t, 5, got.QuestionsAttempted)
	assert.Equal(t, 2, got.QuestionsCorrect)
	assert.InDelta(t, 0.67, got.AverageScore, 1e-9)
}

func TestEvents_AppendAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	events := s.EventRepo()

	require.NoError(t, events.AppendLLMRequest(ctx, LLMRequestEventData{Provider: "mock", Model: "m", Purpose: "quiz-draft", Success: true, InputTokens: 10}))
	require.NoError(t, events.AppendLLMRequest(ctx, LLMRequestEventData{Provider: "mock", Model: "m", Purpose: "tutor-chat", Success: false, ErrorMessage: "boom"}))

	q := events.(EventQuerier)
	got, err := q.QueryLLMEvents(ctx, QueryOpts{Purpose: "tutor-chat"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].ErrorMessage)
	assert.False(t, got[0].Success)

	ev, err := q.GetLLMEvent(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "tutor-chat", ev.Purpose)

	_, err = q.GetLLMEvent(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvents_UsageAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	events := s.EventRepo()

	for _, ev := range []LLMRequestEventData{
		{Model: "a", Purpose: "quiz-draft", InputTokens: 100, OutputTokens: 50, LatencyMs: 200, Success: true},
		{Model: "a", Purpose: "quiz-draft", InputTokens: 60, OutputTokens: 30, LatencyMs: 400},
		{Model: "b", Purpose: "tutor-chat", InputTokens: 10, OutputTokens: 5, LatencyMs: 100, Success: true},
	} {
		require.NoError(t, events.AppendLLMRequest(ctx, ev))
	}

	byPurpose, err := s.Events().LLMUsageByPurpose(ctx)
	require.NoError(t, err)
	require.Len(t, byPurpose, 2)
	assert.Equal(t, LLMUsageStats{Purpose: "quiz-draft", Calls: 2, Failures: 1, InputTokens: 160, OutputTokens: 80, AvgLatencyMs: 300}, byPurpose[0])

	byModel, err := s.Events().LLMUsageByModel(ctx)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, LLMModelUsage{Model: "b", Calls: 1, InputTokens: 10, OutputTokens: 5}, byModel[1])
}

func TestVectorCodec(t *testing.T) {
	in := []float32{1.5, -0.25, 0, 3e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
