package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/problembank"
	"github.com/abhisek/tutorium/internal/retrieval"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
)

// Question count bounds.
const (
	MinQuestions     = 1
	MaxQuestions     = 15
	DefaultQuestions = 5
)

// State is a step of the generation state machine.
type State int

const (
	StateCollectingContext State = iota
	StateDrafting
	StateValidating
	StateRetryDrafting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCollectingContext:
		return "COLLECTING_CONTEXT"
	case StateDrafting:
		return "DRAFTING"
	case StateValidating:
		return "VALIDATING"
	case StateRetryDrafting:
		return "RETRY_DRAFTING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ContextSource retrieves lecture chunks for a query.
type ContextSource interface {
	Retrieve(ctx context.Context, query, topic string, k int) ([]retrieval.Hit, error)
}

// SeedSource supplies problem sheets matching a topic and difficulty.
type SeedSource interface {
	Seeds(ctx context.Context, topic, difficulty string) ([]problembank.Sheet, error)
}

// Request asks for one quiz.
type Request struct {
	SessionID    string
	Topic        string
	Difficulty   string
	NumQuestions int
	// ContextBased grounds the quiz in Conversation. When Topic is empty
	// the topic is synthesized from it.
	ContextBased bool
	// Conversation is the session's messages, oldest first.
	Conversation []store.Message
}

// Result is a stored quiz plus what it cost to make.
type Result struct {
	Quiz          *Quiz
	Attempts      int
	ContextChunks int
	SeedSheets    int
	Usage         llm.Usage
	Model         string
	// States is the sequence of states the request passed through.
	States []State
}

// Options configures a Generator.
type Options struct {
	// MaxAttempts is the total number of drafts, first one included.
	MaxAttempts     int
	RetrievalK      int
	ContextMessages int
	ContextChars    int
	MaxTokens       int
	Temperature     float64
	Validators      []Validator
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// DefaultOptions allows two re-drafts after the first.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     3,
		RetrievalK:      3,
		ContextMessages: 10,
		ContextChars:    2000,
		MaxTokens:       4096,
		Temperature:     0.7,
		Validators:      DefaultValidators(),
	}
}

// Generator runs the quiz generation state machine.
type Generator struct {
	provider llm.Provider
	source   ContextSource
	seeds    SeedSource
	quizzes  store.QuizRepo
	opts     Options
	log      *zap.Logger
}

func New(provider llm.Provider, source ContextSource, seeds SeedSource, quizzes store.QuizRepo, opts Options) *Generator {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = def.RetrievalK
	}
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = def.ContextMessages
	}
	if opts.ContextChars <= 0 {
		opts.ContextChars = def.ContextChars
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = def.Temperature
	}
	if opts.Validators == nil {
		opts.Validators = def.Validators
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Generator{provider: provider, source: source, seeds: seeds, quizzes: quizzes, opts: opts, log: opts.Logger}
}

// normalize clamps the question count and checks the difficulty.
func (req *Request) normalize() error {
	switch {
	case req.NumQuestions == 0:
		req.NumQuestions = DefaultQuestions
	case req.NumQuestions < MinQuestions:
		req.NumQuestions = MinQuestions
	case req.NumQuestions > MaxQuestions:
		req.NumQuestions = MaxQuestions
	}
	d, ok := problembank.NormalizeDifficulty(req.Difficulty)
	if !ok {
		return fmt.Errorf("%w: difficulty must be easy, medium or hard, got %q", ErrInvalidRequest, req.Difficulty)
	}
	req.Difficulty = d
	if req.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	return nil
}

// Generate collects context, drafts and validates until a draft passes or
// the attempt budget runs out, then stores the quiz. Nothing is stored on
// failure.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "quiz.generate",
		attribute.String("session_id", req.SessionID),
		attribute.Int("num_questions", req.NumQuestions))
	defer span.End()
	ctx = llm.WithSession(ctx, req.SessionID)

	res := &Result{Model: g.provider.ModelID()}
	g.transition(res, StateCollectingContext)

	var conversation string
	if req.ContextBased {
		conversation = ConversationWindow(req.Conversation, g.opts.ContextMessages, g.opts.ContextChars)
	}
	if req.Topic == "" {
		if req.ContextBased {
			var usage llm.Usage
			req.Topic, usage = g.synthesizeTopic(ctx, req.Conversation, conversation)
			addUsage(&res.Usage, usage)
		} else {
			req.Topic = DefaultTopic
		}
	}
	span.SetAttributes(attribute.String("topic", req.Topic))

	lecture, seeds, err := g.collect(ctx, req, res)
	if err != nil {
		return nil, err
	}

	var feedback []string
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if attempt == 1 {
			g.transition(res, StateDrafting)
		} else {
			g.transition(res, StateRetryDrafting)
		}

		draft, err := g.draft(ctx, req, lecture, seeds, conversation, feedback, res)
		if err != nil {
			var invalid *llm.ErrInvalidResponse
			if !errors.As(err, &invalid) {
				return nil, g.fail(res, err)
			}
			feedback = append(feedback, "the response did not match the required JSON format: "+invalid.Err.Error())
			continue
		}

		g.transition(res, StateValidating)
		if verr := g.validate(draft, req); verr != nil {
			g.log.Info("quiz draft rejected",
				zap.Int("attempt", attempt),
				zap.String("validator", verr.Validator),
				zap.String("reason", verr.Message),
			)
			feedback = append(feedback, verr.Message)
			if !verr.Retryable {
				break
			}
			continue
		}

		q := g.assemble(draft, req)
		rec, err := q.Record()
		if err != nil {
			return nil, err
		}
		if err := g.quizzes.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("store quiz: %w", err)
		}
		res.Quiz = q
		g.transition(res, StateReady)
		g.opts.Metrics.QuizGenerated("ready", res.Attempts)
		g.log.Info("quiz generated",
			zap.String("quiz_id", q.ID),
			zap.String("topic", q.Topic),
			zap.Int("questions", len(q.Questions)),
			zap.Int("attempts", res.Attempts),
		)
		return res, nil
	}

	return nil, g.fail(res, &GenerationError{Attempts: res.Attempts, Failures: feedback})
}

func (g *Generator) transition(res *Result, to State) {
	from := "START"
	if n := len(res.States); n > 0 {
		from = res.States[n-1].String()
	}
	res.States = append(res.States, to)
	g.log.Debug("quiz generation state",
		zap.String("from", from),
		zap.String("to", to.String()),
		zap.Int("attempt", res.Attempts),
	)
}

// fail moves to FAILED and shapes err for the caller. Timeouts and
// cancellation pass through unchanged.
func (g *Generator) fail(res *Result, err error) error {
	g.transition(res, StateFailed)
	g.opts.Metrics.QuizGenerated("failed", res.Attempts)

	var (
		gen     *GenerationError
		timeout *llm.ErrTimeout
	)
	switch {
	case errors.As(err, &gen), errors.As(err, &timeout),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &GenerationError{Attempts: res.Attempts, Err: err}
}

func (g *Generator) collect(ctx context.Context, req Request, res *Result) (string, string, error) {
	var lecture, seeds string
	if g.source != nil {
		query := fmt.Sprintf("Mathematics %s problems exercises examples", req.Topic)
		hits, err := g.source.Retrieve(ctx, query, "", g.opts.RetrievalK)
		if err != nil {
			return "", "", fmt.Errorf("retrieve context: %w", err)
		}
		res.ContextChunks = len(hits)
		lecture = retrieval.FormatContext(hits)
	}
	if g.seeds != nil {
		sheets, err := g.seeds.Seeds(ctx, req.Topic, req.Difficulty)
		if err != nil {
			return "", "", fmt.Errorf("load problem sheets: %w", err)
		}
		res.SeedSheets = len(sheets)
		seeds = problembank.FormatSeeds(sheets)
	}
	return lecture, seeds, nil
}

func (g *Generator) draft(ctx context.Context, req Request, lecture, seeds, conversation string, feedback []string, res *Result) (*Draft, error) {
	ctx = llm.WithPurpose(ctx, llm.PurposeQuizDraft)
	resp, err := g.provider.Generate(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildDraftMessage(req, lecture, seeds, conversation, feedback)},
		},
		Schema:      DraftSchema,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	addUsage(&res.Usage, resp.Usage)
	if resp.Model != "" {
		res.Model = resp.Model
	}

	var d Draft
	if err := json.Unmarshal(resp.Content, &d); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	d.tidy()
	return &d, nil
}

func (g *Generator) validate(d *Draft, req Request) *ValidationError {
	for _, v := range g.opts.Validators {
		if verr := v.Validate(d, req); verr != nil {
			return verr
		}
	}
	return nil
}

// assemble turns a validated draft into a quiz. Question ids are assigned
// here, never taken from the backend.
func (g *Generator) assemble(d *Draft, req Request) *Quiz {
	q := &Quiz{
		ID:           uuid.NewString(),
		SessionID:    req.SessionID,
		Title:        d.Title,
		Topic:        req.Topic,
		Difficulty:   req.Difficulty,
		ContextBased: req.ContextBased,
		CreatedAt:    time.Now().UTC(),
		Questions:    make([]Question, len(d.Questions)),
	}
	if q.Title == "" {
		q.Title = "Quiz: " + req.Topic
	}
	for i, dq := range d.Questions {
		qq := Question{
			ID:          fmt.Sprintf("q%d", i+1),
			Prompt:      dq.Question,
			Kind:        Kind(dq.Type),
			Difficulty:  req.Difficulty,
			Explanation: dq.Explanation,
		}
		if qq.Kind == KindMultipleChoice {
			letter, _ := resolveLetter(dq.Options, dq.CorrectAnswer)
			qq.Choice = &Choice{Options: append([]string(nil), dq.Options...), Correct: letter}
		} else {
			qq.Short = &Short{Answer: dq.CorrectAnswer}
		}
		q.Questions[i] = qq
	}
	return q
}

func addUsage(dst *llm.Usage, u llm.Usage) {
	dst.InputTokens += u.InputTokens
	dst.OutputTokens += u.OutputTokens
	dst.TotalTokens += u.TotalTokens
}
