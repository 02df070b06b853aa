package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/hint"
	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/problembank"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/retrieval"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/trajectory"
)

type fixture struct {
	svc      *Service
	store    *store.Store
	recorder *trajectory.Recorder
	gen      *llm.MockProvider
	hints    *llm.MockProvider
	chat     *llm.MockProvider
}

type staticLocalizer map[string]string

func (l staticLocalizer) T(_ context.Context, id string) string { return l[id] }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store: s,
		gen:   llm.NewMockProvider(),
		hints: llm.NewMockProvider(),
		chat:  llm.NewMockProvider(),
	}
	retriever := retrieval.New(embedding.NewHashEmbedder(64), retrieval.NewStoreIndex(s.Documents()), retrieval.Options{})
	gen := quiz.New(f.gen, retriever, problembank.New(s.ProblemSheets(), nil), s.Quizzes(), quiz.Options{})
	rc, err := reward.New(reward.DefaultParams())
	require.NoError(t, err)
	f.recorder = trajectory.New(s.Trajectories(), nil, nil)

	f.svc = New(Deps{
		Sessions:    s.Sessions(),
		Quizzes:     s.Quizzes(),
		Submissions: s.Submissions(),
		Hints:       s.Hints(),
		Performance: s.Performance(),
		Generator:   gen,
		Grader:      grading.New(grading.LexicalScorer{}, grading.Options{}),
		Hinter:      hint.New(f.hints, s.Hints(), hint.Options{}),
		Retriever:   retriever,
		Provider:    f.chat,
		Reward:      rc,
		Recorder:    f.recorder,
	}, Options{Localizer: staticLocalizer{"chat_no_context": "no notes"}})
	return f
}

// twoQuestionDraft has correct answer B for both questions.
func twoQuestionDraft() json.RawMessage {
	return json.RawMessage(`{"title":"Limits","questions":[
		{"question":"lim x->0 of sin(x)/x?","type":"multiple_choice","options":["0","1","infinity","undefined"],"correct_answer":"B","explanation":"Standard limit."},
		{"question":"lim x->inf of 1/x?","type":"multiple_choice","options":["1","0","infinity","-1"],"correct_answer":"B","explanation":"Decays."}
	]}`)
}

func (f *fixture) generate(t *testing.T, sessionID string) *quiz.Quiz {
	t.Helper()
	f.gen.AddResponse(llm.MockResponse{Content: twoQuestionDraft(), Usage: llm.Usage{InputTokens: 40, OutputTokens: 20}})
	res, err := f.svc.Generate(context.Background(), quiz.Request{SessionID: sessionID, Topic: "Analysis", NumQuestions: 2})
	require.NoError(t, err)
	return res.Quiz
}

func (f *fixture) trajectories(t *testing.T, sessionID string) []trajectory.Record {
	t.Helper()
	recs, err := f.recorder.Session(context.Background(), sessionID)
	require.NoError(t, err)
	return recs
}

func TestSubmit_GradesOnceAndRejectsSecond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.generate(t, "s1")

	res, err := f.svc.Submit(ctx, q.ID, map[string]string{"q1": "B", "q2": "A"}, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, 50, res.Percentage)
	assert.GreaterOrEqual(t, res.Reward, 0.0)
	assert.LessOrEqual(t, res.Reward, 1.0)

	_, err = f.svc.Submit(ctx, q.ID, map[string]string{"q1": "B", "q2": "B"}, 30)
	if !errors.Is(err, ErrAlreadyGraded) {
		t.Fatalf("second submit err = %v, want ErrAlreadyGraded", err)
	}
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, stored, err := f.svc.Quiz(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 50, stored.Percentage, "first result must be unchanged")
	assert.Equal(t, "A", stored.Results[1].UserAnswer)

	recs := f.trajectories(t, "s1")
	require.Len(t, recs, 2)
	assert.Equal(t, "quiz_generation", recs[0].ActionType)
	assert.Equal(t, "grading", recs[1].ActionType)
	assert.InDelta(t, 0.5, recs[1].RewardBreakdown.QuizAbsolute, 1e-9)
}

func TestSubmit_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	q := f.generate(t, "s1")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		graded    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), q.ID, map[string]string{"q1": "B", "q2": "B"}, 60)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyGraded):
				graded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, graded)
	assert.Zero(t, f.svc.locks.Len(), "lock entries must be released")
}

func TestSubmit_InvalidPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.generate(t, "s1")

	_, err := f.svc.Submit(ctx, q.ID, map[string]string{"q9": "A"}, 10)
	var invalid *grading.InvalidSubmissionError
	require.ErrorAs(t, err, &invalid)
	var unknown *quiz.UnknownQuestionError
	assert.ErrorAs(t, err, &unknown)

	_, stored, err := f.svc.Quiz(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Len(t, f.trajectories(t, "s1"), 1, "only the generation is recorded")

	_, err = f.store.Performance().Get(ctx, "s1", "Analysis")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The quiz can still be graded afterwards.
	_, err = f.svc.Submit(ctx, q.ID, map[string]string{"q1": "B"}, 10)
	require.NoError(t, err)
}

func TestSubmit_UnknownQuiz(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "nope", nil, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmit_TracksPerformanceAndImprovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.generate(t, "s1")
	_, err := f.svc.Submit(ctx, first.ID, map[string]string{"q1": "B", "q2": "A"}, 60)
	require.NoError(t, err)

	second := f.generate(t, "s1")
	res, err := f.svc.Submit(ctx, second.ID, map[string]string{"q1": "B", "q2": "B"}, 60)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Breakdown.QuizImprovement, 1e-9)
	assert.InDelta(t, 1.0, res.Breakdown.QuizAbsolute, 1e-9)

	p, err := f.store.Performance().Get(ctx, "s1", "Analysis")
	require.NoError(t, err)
	assert.Equal(t, 4, p.QuestionsAttempted)
	assert.Equal(t, 3, p.QuestionsCorrect)
	assert.InDelta(t, 0.3*1+0.7*0.15, p.AverageScore, 1e-9)
	assert.InDelta(t, 1-0.15, p.ScoreTrend, 1e-9)
}

func TestGenerate_FailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.gen.AddResponse(llm.MockResponse{Content: json.RawMessage(`{"title":"x","questions":[]}`)})
	}

	_, err := f.svc.Generate(context.Background(), quiz.Request{SessionID: "s1", Topic: "Analysis", NumQuestions: 2})
	var genErr *quiz.GenerationError
	require.ErrorAs(t, err, &genErr)

	assert.Empty(t, f.trajectories(t, "s1"))
	quizzes, err := f.store.Quizzes().ListBySession(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, quizzes)

	_, err = f.store.Sessions().Get(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerate_CreatesSessionOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.generate(t, "fresh")

	sess, err := f.store.Sessions().Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.ID)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestGenerate_RequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), quiz.Request{Topic: "Analysis"})
	assert.ErrorIs(t, err, quiz.ErrInvalidRequest)
	assert.Zero(t, f.gen.CallCount())
}

func TestGenerate_ContextBasedUsesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.chat.AddResponse(llm.MockResponse{Text: "The derivative measures rate of change."})
	_, err := f.svc.Chat(ctx, "s1", "Explain derivatives of polynomials")
	require.NoError(t, err)

	f.gen.AddResponse(llm.MockResponse{Content: twoQuestionDraft()})
	_, err = f.svc.Generate(ctx, quiz.Request{SessionID: "s1", Topic: "Derivatives", NumQuestions: 2, ContextBased: true})
	require.NoError(t, err)

	calls := f.gen.Calls
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1].Messages[0].Content
	assert.Contains(t, last, "Explain derivatives of polynomials")
}

func TestHint_RecordsTrajectoryAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.generate(t, "s1")

	f.hints.AddResponse(llm.MockResponse{Content: json.RawMessage(`{"hint":"Think about the squeeze theorem."}`)})
	first, err := f.svc.Hint(ctx, q.ID, "q1")
	require.NoError(t, err)
	second, err := f.svc.Hint(ctx, q.ID, "q1")
	require.NoError(t, err)

	assert.Equal(t, first.Hint, second.Hint)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, f.hints.CallCount())

	recs := f.trajectories(t, "s1")
	require.Len(t, recs, 3)
	assert.Equal(t, "hint", recs[1].ActionType)
	assert.Zero(t, recs[1].RewardBreakdown.QuizAbsolute)

	_, err = f.svc.Hint(ctx, q.ID, "q7")
	var unknown *quiz.UnknownQuestionError
	assert.ErrorAs(t, err, &unknown)
}

func TestChat_CreatesSessionAndStoresTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chat.AddResponse(llm.MockResponse{Text: "  A group is a set with an associative operation.  ", Usage: llm.Usage{InputTokens: 12, OutputTokens: 9, TotalTokens: 21}})

	reply, err := f.svc.Chat(ctx, "fresh", "What is a group?")
	require.NoError(t, err)
	assert.Equal(t, "A group is a set with an associative operation.", reply.Reply)
	assert.False(t, reply.ContextAvailable)
	assert.Equal(t, "no notes", reply.Notice)
	assert.Empty(t, reply.Sources)

	sess, msgs, err := f.svc.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, 21, msgs[1].TokensUsed)

	req := f.chat.Calls[0]
	assert.Nil(t, req.Schema)
	require.Len(t, req.Messages, 1)
	assert.NotContains(t, req.System, "RELEVANT DOCUMENTS")

	recs := f.trajectories(t, "fresh")
	require.Len(t, recs, 1)
	assert.Equal(t, "response", recs[0].ActionType)
	assert.Equal(t, 12, recs[0].PromptTokens)
}

func TestChat_UsesRetrievedContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := embedding.NewHashEmbedder(64)
	text := "eigenvalues of a symmetric matrix are real"
	_, err := f.store.Documents().Insert(ctx,
		store.Document{ID: "d1", Title: "Linear Algebra", Topic: "Linear Algebra", SourceFile: "uploads/la.md"},
		[]store.Chunk{{Content: text, ChunkIndex: 0}})
	require.NoError(t, err)
	vecs, err := e.Embed(ctx, []string{text})
	require.NoError(t, err)
	pending, err := f.store.Documents().Pending(ctx, 0, 10)
	require.NoError(t, err)
	_, err = f.store.Documents().SetEmbedding(ctx, pending[0].ID, vecs[0], e.ModelID())
	require.NoError(t, err)

	f.chat.AddResponse(llm.MockResponse{Text: "They are real."})
	reply, err := f.svc.Chat(ctx, "s1", text)
	require.NoError(t, err)
	assert.True(t, reply.ContextAvailable)
	assert.Equal(t, []string{"la.md"}, reply.Sources)
	assert.Empty(t, reply.Notice)
	assert.Contains(t, f.chat.Calls[0].System, "[Source: la.md]")
}

func TestChat_RejectsBlank(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Chat(context.Background(), "s1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = f.svc.Chat(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestChat_BackendErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.chat.AddResponse(llm.MockResponse{Err: &llm.ErrTimeout{After: 1}})
	_, err := f.svc.Chat(context.Background(), "s1", "hello")
	var timeout *llm.ErrTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Empty(t, f.trajectories(t, "s1"))
}

func TestHistory_ListsScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	graded := f.generate(t, "s1")
	_, err := f.svc.Submit(ctx, graded.ID, map[string]string{"q1": "B", "q2": "B"}, 40)
	require.NoError(t, err)
	f.generate(t, "s1")

	entries, sum, err := f.svc.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var gradedEntry *HistoryEntry
	for i := range entries {
		if entries[i].QuizID == graded.ID {
			gradedEntry = &entries[i]
		} else {
			assert.False(t, entries[i].Graded)
			assert.Nil(t, entries[i].Percentage)
			assert.Equal(t, 2, entries[i].TotalQuestions)
		}
	}
	require.NotNil(t, gradedEntry)
	require.NotNil(t, gradedEntry.Percentage)
	assert.Equal(t, 100, *gradedEntry.Percentage)
	assert.Equal(t, Summary{Quizzes: 2, Graded: 1, TotalQuestions: 2, TotalCorrect: 2, Accuracy: 1}, sum)
}

func TestLocks_SerializePerSession(t *testing.T) {
	l := NewLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  = map[string]int{}
		overlap bool
	)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s%d", i%2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(id)
			defer unlock()
			mu.Lock()
			active[id]++
			if active[id] > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			active[id]--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatal("two holders of the same session lock overlapped")
	}
	if n := l.Len(); n != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", n)
	}

	unlock := l.Lock("x")
	unlock()
	unlock()
	assert.Zero(t, l.Len(), "double unlock is a no-op")
}

func TestBuildSummary_Empty(t *testing.T) {
	sum := BuildSummary(nil)
	if sum.Accuracy != 0 || sum.Quizzes != 0 {
		t.Errorf("BuildSummary(nil) = %+v, want zero", sum)
	}
}
