// Package grading scores submitted answers against a stored quiz.
package grading

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/tracing"
)

// Defaults for short-answer acceptance.
const (
	DefaultThreshold        = 0.8
	DefaultNumericTolerance = 0.01
)

// Methods recorded on each QuestionResult.
const (
	MethodChoice     = "choice"
	MethodExact      = "exact"
	MethodNumeric    = "numeric"
	MethodSimilarity = "similarity"
	MethodMissing    = "missing"
)

// QuestionResult is the outcome for one question.
type QuestionResult struct {
	QuestionID    string  `json:"question_id"`
	UserAnswer    string  `json:"user_answer"`
	IsCorrect     bool    `json:"is_correct"`
	CorrectAnswer string  `json:"correct_answer"`
	Explanation   string  `json:"explanation"`
	Method        string  `json:"method"`
	Similarity    float64 `json:"similarity,omitempty"`
}

// Result covers every question of one quiz.
type Result struct {
	QuizID           string           `json:"quiz_id"`
	Results          []QuestionResult `json:"results"`
	CorrectCount     int              `json:"correct_count"`
	TotalQuestions   int              `json:"total_questions"`
	Percentage       int              `json:"percentage"`
	TimeTakenSeconds float64          `json:"time_taken_seconds"`
}

// InvalidSubmissionError rejects a submission without grading it.
type InvalidSubmissionError struct {
	QuizID string
	Reason string
	Err    error
}

func (e *InvalidSubmissionError) Error() string {
	return fmt.Sprintf("invalid submission for quiz %s: %s", e.QuizID, e.Reason)
}

func (e *InvalidSubmissionError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	// Threshold is the similarity at or above which a short answer is
	// accepted.
	Threshold float64
	// NumericTolerance is relative.
	NumericTolerance float64
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

// Engine grades submissions. It never modifies the quiz.
type Engine struct {
	scorer    Scorer
	threshold float64
	tolerance float64
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New builds an Engine; a nil scorer means LexicalScorer.
func New(scorer Scorer, opts Options) *Engine {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.NumericTolerance <= 0 {
		opts.NumericTolerance = DefaultNumericTolerance
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		scorer:    scorer,
		threshold: opts.Threshold,
		tolerance: opts.NumericTolerance,
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}
}

// Grade scores answers, keyed by question id, against q. Questions with
// no answer are incorrect.
func (e *Engine) Grade(ctx context.Context, q *quiz.Quiz, answers map[string]string, timeTaken float64) (*Result, error) {
	ctx, span := tracing.Start(ctx, "grading.grade", attribute.String("quiz_id", q.ID))
	defer span.End()

	if len(q.Questions) == 0 {
		return nil, &InvalidSubmissionError{QuizID: q.ID, Reason: "quiz has no questions"}
	}
	if timeTaken < 0 || math.IsNaN(timeTaken) || math.IsInf(timeTaken, 0) {
		return nil, &InvalidSubmissionError{QuizID: q.ID, Reason: "time_taken_seconds must be a non-negative number"}
	}
	for id := range answers {
		if _, err := q.Question(id); err != nil {
			return nil, &InvalidSubmissionError{QuizID: q.ID, Reason: err.Error(), Err: err}
		}
	}

	res := &Result{
		QuizID:           q.ID,
		Results:          make([]QuestionResult, len(q.Questions)),
		TotalQuestions:   len(q.Questions),
		TimeTakenSeconds: timeTaken,
	}
	for i := range q.Questions {
		qq := &q.Questions[i]
		given, ok := answers[qq.ID]
		qr, err := e.gradeOne(ctx, qq, strings.TrimSpace(given), ok)
		if err != nil {
			return nil, fmt.Errorf("grade question %s: %w", qq.ID, err)
		}
		if qr.IsCorrect {
			res.CorrectCount++
		}
		res.Results[i] = qr
	}
	res.Percentage = int(math.Round(100 * float64(res.CorrectCount) / float64(res.TotalQuestions)))

	e.metrics.Graded(res.Percentage)
	e.log.Debug("quiz graded",
		zap.String("quiz_id", q.ID),
		zap.Int("correct", res.CorrectCount),
		zap.Int("total", res.TotalQuestions),
	)
	return res, nil
}

func (e *Engine) gradeOne(ctx context.Context, q *quiz.Question, given string, present bool) (QuestionResult, error) {
	qr := QuestionResult{
		QuestionID:    q.ID,
		UserAnswer:    given,
		CorrectAnswer: q.CorrectAnswer(),
		Explanation:   q.Explanation,
	}
	if !present || given == "" {
		qr.Method = MethodMissing
		return qr, nil
	}

	switch q.Kind {
	case quiz.KindMultipleChoice:
		qr.Method = MethodChoice
		qr.IsCorrect = strings.EqualFold(submittedLetter(given), q.Choice.Correct)

	case quiz.KindShortAnswer:
		ref := q.Short.Answer
		if quiz.NormalizeText(given) == quiz.NormalizeText(ref) {
			qr.Method = MethodExact
			qr.IsCorrect = true
			return qr, nil
		}
		if a, ok := ParseNumber(given); ok {
			if b, ok := ParseNumber(ref); ok {
				qr.Method = MethodNumeric
				qr.IsCorrect = withinTolerance(a, b, e.tolerance)
				return qr, nil
			}
		}
		sim, err := e.scorer.Similarity(ctx, given, ref)
		if err != nil {
			return qr, err
		}
		qr.Method = MethodSimilarity
		qr.Similarity = sim
		qr.IsCorrect = sim >= e.threshold && !polarityMismatch(given, ref)

	default:
		return qr, fmt.Errorf("unknown question type %q", q.Kind)
	}
	return qr, nil
}

var labelPrefix = regexp.MustCompile(`^\(?([A-Za-z])(?:[.)]|$)`)

// submittedLetter accepts "b", "B.", "(B)" or a labelled option "B. 42".
func submittedLetter(s string) string {
	if m := labelPrefix.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func withinTolerance(a, b, tol float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return diff <= tol*scale
}
