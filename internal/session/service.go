package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/hint"
	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/retrieval"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
	"github.com/abhisek/tutorium/internal/trajectory"
)

// ErrAlreadyGraded rejects a second submission for a quiz.
var ErrAlreadyGraded = fmt.Errorf("quiz already graded: %w", store.ErrDuplicate)

// ErrEmptyMessage rejects a blank chat message.
var ErrEmptyMessage = errors.New("message is empty")

var ErrMissingSession = errors.New("session_id is required")

// QuizGenerator drafts and stores quizzes.
type QuizGenerator interface {
	Generate(ctx context.Context, req quiz.Request) (*quiz.Result, error)
}

// Grader grades a submission without persisting it.
type Grader interface {
	Grade(ctx context.Context, q *quiz.Quiz, answers map[string]string, timeTaken float64) (*grading.Result, error)
}

// Hinter serves the hint for a quiz question.
type Hinter interface {
	Get(ctx context.Context, q *quiz.Quiz, questionID string) (*hint.Result, error)
}

// Retriever finds lecture chunks for chat answers.
type Retriever interface {
	Retrieve(ctx context.Context, query, topic string, k int) ([]retrieval.Hit, error)
}

// Localizer renders user-visible notices.
type Localizer interface {
	T(ctx context.Context, msgID string) string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Sessions    Store
	Quizzes     store.QuizRepo
	Submissions store.SubmissionRepo
	Hints       store.HintRepo
	Performance store.PerformanceRepo

	Generator QuizGenerator
	Grader    Grader
	Hinter    Hinter
	Retriever Retriever
	// Provider answers chat messages.
	Provider llm.Provider

	Reward   *reward.Computer
	Recorder *trajectory.Recorder
	// Locks defaults to a private set.
	Locks *Locks
}

// Options tunes chat answers.
type Options struct {
	ChatRetrievalK  int
	ChatHistory     int
	ChatMaxTokens   int
	ChatTemperature float64
	Localizer       Localizer
	Logger          *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		ChatRetrievalK:  3,
		ChatHistory:     10,
		ChatMaxTokens:   2048,
		ChatTemperature: 0.7,
	}
}

// Service runs session actions. Quiz generation, submission, hints and
// chat for one session never overlap.
type Service struct {
	sessions    Store
	quizzes     store.QuizRepo
	submissions store.SubmissionRepo
	hints       store.HintRepo
	performance store.PerformanceRepo

	generator QuizGenerator
	grader    Grader
	hinter    Hinter
	retriever Retriever
	provider  llm.Provider

	reward   *reward.Computer
	recorder *trajectory.Recorder
	locks    *Locks
	opts     Options
	log      *zap.Logger
}

func New(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.ChatRetrievalK <= 0 {
		opts.ChatRetrievalK = def.ChatRetrievalK
	}
	if opts.ChatHistory <= 0 {
		opts.ChatHistory = def.ChatHistory
	}
	if opts.ChatMaxTokens <= 0 {
		opts.ChatMaxTokens = def.ChatMaxTokens
	}
	if opts.ChatTemperature <= 0 {
		opts.ChatTemperature = def.ChatTemperature
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if d.Locks == nil {
		d.Locks = NewLocks()
	}
	return &Service{
		sessions:    d.Sessions,
		quizzes:     d.Quizzes,
		submissions: d.Submissions,
		hints:       d.Hints,
		performance: d.Performance,
		generator:   d.Generator,
		grader:      d.Grader,
		hinter:      d.Hinter,
		retriever:   d.Retriever,
		provider:    d.Provider,
		reward:      d.Reward,
		recorder:    d.Recorder,
		locks:       d.Locks,
		opts:        opts,
		log:         opts.Logger,
	}
}

// Generate creates a quiz for req.SessionID. An unknown session is only
// persisted once its first quiz is ready, so a failed generation leaves
// no trace.
func (s *Service) Generate(ctx context.Context, req quiz.Request) (*quiz.Result, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", quiz.ErrInvalidRequest)
	}
	ctx, span := tracing.Start(ctx, "session.generate", attribute.String("session_id", req.SessionID))
	defer span.End()

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	st, isNew, err := s.loadOrNew(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.ContextBased {
		req.Conversation = st.Messages
	}

	res, err := s.generator.Generate(llm.WithSession(ctx, req.SessionID), req)
	if err != nil {
		return nil, err
	}
	if isNew {
		if err := s.createSession(ctx, st.Session); err != nil {
			return nil, err
		}
	}

	q := res.Quiz
	prior, err := s.priorPerformance(ctx, q.SessionID, q.Topic)
	if err != nil {
		s.log.Warn("load performance failed", zap.Error(err))
	}
	r, b := s.reward.ComputeInteraction(reward.Activity{Interactions: st.Interactions, Hints: st.HintsUsed})
	s.record(ctx, trajectory.Entry{
		SessionID:  q.SessionID,
		State:      trajectory.Snapshot(st.Messages, q.Topic, q.ID, res.ContextChunks > 0, prior),
		ActionType: trajectory.ActionQuizGeneration,
		Action: generationAction{
			QuizID:       q.ID,
			Title:        q.Title,
			Topic:        q.Topic,
			Difficulty:   q.Difficulty,
			NumQuestions: len(q.Questions),
			ContextBased: q.ContextBased,
			Attempts:     res.Attempts,
			SeedSheets:   res.SeedSheets,
		},
		Reward:           r,
		Breakdown:        b,
		Model:            res.Model,
		PromptTokens:     res.Usage.InputTokens,
		CompletionTokens: res.Usage.OutputTokens,
	})
	return res, nil
}

type generationAction struct {
	QuizID       string `json:"quiz_id"`
	Title        string `json:"title"`
	Topic        string `json:"topic"`
	Difficulty   string `json:"difficulty"`
	NumQuestions int    `json:"num_questions"`
	ContextBased bool   `json:"context_based"`
	Attempts     int    `json:"attempts"`
	SeedSheets   int    `json:"seed_sheets"`
}

// Quiz loads a stored quiz with its submission, which is nil until graded.
func (s *Service) Quiz(ctx context.Context, quizID string) (*quiz.Quiz, *grading.Result, error) {
	q, err := s.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.submissions.Get(ctx, quizID)
	if errors.Is(err, store.ErrNotFound) {
		return q, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	res, err := resultFromSubmission(sub)
	if err != nil {
		return nil, nil, err
	}
	return q, res, nil
}

func (s *Service) loadQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error) {
	rec, err := s.quizzes.Get(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("quiz %s: %w", quizID, err)
	}
	return quiz.FromRecord(*rec)
}

// SubmitResult is a graded submission with the reward it earned.
type SubmitResult struct {
	*grading.Result
	Reward    float64          `json:"reward"`
	Breakdown reward.Breakdown `json:"reward_breakdown"`
}

// Submit grades answers for quizID exactly once. A second submission,
// concurrent or not, fails with ErrAlreadyGraded and leaves the first
// result untouched. Invalid submissions persist nothing.
func (s *Service) Submit(ctx context.Context, quizID string, answers map[string]string, timeTaken float64) (*SubmitResult, error) {
	q, err := s.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "session.submit",
		attribute.String("session_id", q.SessionID),
		attribute.String("quiz_id", q.ID))
	defer span.End()

	unlock := s.locks.Lock(q.SessionID)
	defer unlock()

	if _, err := s.submissions.Get(ctx, q.ID); err == nil {
		return nil, ErrAlreadyGraded
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	res, err := s.grader.Grade(ctx, q, answers, timeTaken)
	if err != nil {
		return nil, err
	}

	prevPct, hasPrev, err := s.submissions.PreviousPercentage(ctx, q.SessionID, q.Topic, q.ID)
	if err != nil {
		return nil, err
	}
	st, err := s.load(ctx, q.SessionID, true)
	if err != nil {
		return nil, err
	}
	quizHints, err := s.hints.CountByQuiz(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	prior, err := s.priorPerformance(ctx, q.SessionID, q.Topic)
	if err != nil {
		return nil, err
	}

	results, err := json.Marshal(res.Results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	now := time.Now().UTC()
	err = s.submissions.Create(ctx, store.Submission{
		QuizID:           q.ID,
		SessionID:        q.SessionID,
		Topic:            q.Topic,
		Results:          results,
		CorrectCount:     res.CorrectCount,
		TotalQuestions:   res.TotalQuestions,
		Percentage:       res.Percentage,
		TimeTakenSeconds: res.TimeTakenSeconds,
		CreatedAt:        now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrAlreadyGraded
	}
	if err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}

	answered := answeredCount(q, answers)
	_, err = s.performance.Update(ctx, q.SessionID, q.Topic, func(p *store.Performance) {
		reward.Accumulate(p, reward.QuizOutcome{
			Score:            float64(res.Percentage) / 100,
			Attempted:        res.TotalQuestions,
			Correct:          res.CorrectCount,
			Hints:            quizHints,
			TimeTakenSeconds: res.TimeTakenSeconds,
			At:               now,
		})
	})
	if err != nil {
		s.log.Warn("update performance failed", zap.String("quiz_id", q.ID), zap.Error(err))
	}

	r, b := s.reward.Compute(reward.Grading{
		Percentage:         res.Percentage,
		PreviousPercentage: prevPct,
		HasPrevious:        hasPrev,
		Answered:           answered,
		Total:              res.TotalQuestions,
		TimeTakenSeconds:   res.TimeTakenSeconds,
		Activity:           reward.Activity{Interactions: st.Interactions, Hints: quizHints},
	})
	s.record(ctx, trajectory.Entry{
		SessionID:  q.SessionID,
		State:      trajectory.Snapshot(st.Messages, q.Topic, q.ID, q.ContextBased, prior),
		ActionType: trajectory.ActionGrading,
		Action: gradingAction{
			QuizID:         q.ID,
			Answers:        answers,
			CorrectCount:   res.CorrectCount,
			TotalQuestions: res.TotalQuestions,
			Percentage:     res.Percentage,
			TimeTaken:      res.TimeTakenSeconds,
		},
		Reward:    r,
		Breakdown: b,
	})

	s.log.Info("quiz graded",
		zap.String("quiz_id", q.ID),
		zap.Int("percentage", res.Percentage),
		zap.Float64("reward", r))
	return &SubmitResult{Result: res, Reward: r, Breakdown: b}, nil
}

type gradingAction struct {
	QuizID         string            `json:"quiz_id"`
	Answers        map[string]string `json:"answers"`
	CorrectCount   int               `json:"correct_count"`
	TotalQuestions int               `json:"total_questions"`
	Percentage     int               `json:"percentage"`
	TimeTaken      float64           `json:"time_taken_seconds"`
}

func answeredCount(q *quiz.Quiz, answers map[string]string) int {
	n := 0
	for _, qq := range q.Questions {
		if strings.TrimSpace(answers[qq.ID]) != "" {
			n++
		}
	}
	return n
}

// Hint serves the hint for one question of quizID.
func (s *Service) Hint(ctx context.Context, quizID, questionID string) (*hint.Result, error) {
	q, err := s.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "session.hint",
		attribute.String("session_id", q.SessionID),
		attribute.String("quiz_id", q.ID))
	defer span.End()

	unlock := s.locks.Lock(q.SessionID)
	defer unlock()

	res, err := s.hinter.Get(llm.WithSession(ctx, q.SessionID), q, questionID)
	if err != nil {
		return nil, err
	}

	st, err := s.load(ctx, q.SessionID, true)
	if err != nil {
		s.log.Warn("load session failed", zap.Error(err))
		return res, nil
	}
	prior, err := s.priorPerformance(ctx, q.SessionID, q.Topic)
	if err != nil {
		s.log.Warn("load performance failed", zap.Error(err))
	}
	r, b := s.reward.ComputeInteraction(reward.Activity{Interactions: st.Interactions, Hints: st.HintsUsed})
	s.record(ctx, trajectory.Entry{
		SessionID:  q.SessionID,
		State:      trajectory.Snapshot(st.Messages, q.Topic, q.ID, q.ContextBased, prior),
		ActionType: trajectory.ActionHint,
		Action: hintAction{
			QuizID:     q.ID,
			QuestionID: questionID,
			Hint:       res.Hint,
			Source:     res.Source,
			Cached:     res.Cached,
		},
		Reward:           r,
		Breakdown:        b,
		Model:            res.Model,
		PromptTokens:     res.Usage.InputTokens,
		CompletionTokens: res.Usage.OutputTokens,
	})
	return res, nil
}

type hintAction struct {
	QuizID     string `json:"quiz_id"`
	QuestionID string `json:"question_id"`
	Hint       string `json:"hint"`
	Source     string `json:"source"`
	Cached     bool   `json:"cached"`
}

// record appends a trajectory. The action it describes has already been
// persisted, so a failure is logged rather than returned.
func (s *Service) record(ctx context.Context, e trajectory.Entry) {
	if _, err := s.recorder.Record(ctx, e); err != nil {
		s.log.Error("record trajectory failed",
			zap.String("session_id", e.SessionID),
			zap.String("action_type", string(e.ActionType)),
			zap.Error(err))
	}
}

func resultFromSubmission(sub *store.Submission) (*grading.Result, error) {
	res := &grading.Result{
		QuizID:           sub.QuizID,
		CorrectCount:     sub.CorrectCount,
		TotalQuestions:   sub.TotalQuestions,
		Percentage:       sub.Percentage,
		TimeTakenSeconds: sub.TimeTakenSeconds,
	}
	if err := json.Unmarshal(sub.Results, &res.Results); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", sub.QuizID, err)
	}
	return res, nil
}
