// Package hint produces at most one hint per quiz question.
package hint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
)

// Hint sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
	SourceCached   = "cached"
)

// Schema is the structured output requested for a hint.
var Schema = &llm.Schema{
	Name:        "quiz-hint",
	Description: "A single hint for a quiz question",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"hint": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "One or two sentences guiding the student's thinking without giving the answer",
			},
		},
		"required":             []any{"hint"},
		"additionalProperties": false,
	},
}

const systemPrompt = `You are a mathematics tutor. Give one short hint for a quiz question.

Rules:
- Refer only to the topic of the question and the method to use.
- Never state the answer or any part of it.
- For multiple choice, never say which option is correct and never rule options out.
- One or two sentences.`

// Localizer renders message templates; *i18n.Translator implements it.
type Localizer interface {
	Td(ctx context.Context, msgID string, data map[string]any) string
}

// Result is the hint served for one request.
type Result struct {
	Hint   string
	Source string
	// Cached is true when the hint was already stored, or another
	// concurrent request generated it.
	Cached bool
	Usage  llm.Usage
	Model  string
}

// Options configures an Arbiter.
type Options struct {
	// MaxAttempts is the number of generation tries before falling back.
	MaxAttempts int
	Localizer   Localizer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Arbiter generates, checks and caches hints. It never writes to a quiz.
type Arbiter struct {
	provider llm.Provider
	hints    store.HintRepo
	group    singleflight.Group
	opts     Options
	log      *zap.Logger
}

func New(provider llm.Provider, hints store.HintRepo, opts Options) *Arbiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Arbiter{provider: provider, hints: hints, opts: opts, log: opts.Logger}
}

// Get returns the hint for questionID, generating it on first request.
// Concurrent first requests converge on one stored hint.
func (a *Arbiter) Get(ctx context.Context, q *quiz.Quiz, questionID string) (*Result, error) {
	qq, err := q.Question(questionID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "hint.get",
		attribute.String("quiz_id", q.ID), attribute.String("question_id", questionID))
	defer span.End()

	if h, err := a.hints.Get(ctx, q.ID, questionID); err == nil {
		a.opts.Metrics.HintServed(SourceCached)
		return &Result{Hint: h.Text, Source: h.Source, Cached: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load hint: %w", err)
	}

	key := q.ID + "\x00" + questionID
	var owner bool
	v, err, _ := a.group.Do(key, func() (any, error) {
		owner = true
		return a.generateAndStore(context.WithoutCancel(ctx), q, qq)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	if !owner {
		res.Cached = true
		res.Usage = llm.Usage{}
	}
	source := res.Source
	if res.Cached {
		source = SourceCached
	}
	a.opts.Metrics.HintServed(source)
	return &res, nil
}

func (a *Arbiter) generateAndStore(ctx context.Context, q *quiz.Quiz, qq *quiz.Question) (*Result, error) {
	res, err := a.generate(ctx, q, qq)
	if err != nil {
		return nil, err
	}
	stored, created, err := a.hints.PutIfAbsent(ctx, store.Hint{
		QuizID:     q.ID,
		QuestionID: qq.ID,
		SessionID:  q.SessionID,
		Text:       res.Hint,
		Source:     res.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("store hint: %w", err)
	}
	if !created {
		// Another process stored one first.
		return &Result{Hint: stored.Text, Source: stored.Source, Cached: true, Usage: res.Usage, Model: res.Model}, nil
	}
	return res, nil
}

func (a *Arbiter) generate(ctx context.Context, q *quiz.Quiz, qq *quiz.Question) (*Result, error) {
	ctx = llm.WithPurpose(llm.WithSession(ctx, q.SessionID), llm.PurposeQuizHint)
	res := &Result{Model: a.provider.ModelID()}

	var rejected []string
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		resp, err := a.provider.Generate(ctx, llm.Request{
			System:      systemPrompt,
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildMessage(q, qq, rejected)}},
			Schema:      Schema,
			MaxTokens:   256,
			Temperature: 0.5,
		})
		if err != nil {
			var invalid *llm.ErrInvalidResponse
			if !errors.As(err, &invalid) {
				return nil, fmt.Errorf("generate hint: %w", err)
			}
			rejected = append(rejected, "the response was not valid JSON")
			continue
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens
		res.Usage.TotalTokens += resp.Usage.TotalTokens
		if resp.Model != "" {
			res.Model = resp.Model
		}

		var out struct {
			Hint string `json:"hint"`
		}
		if err := json.Unmarshal(resp.Content, &out); err != nil {
			rejected = append(rejected, "the response was not valid JSON")
			continue
		}
		text := strings.TrimSpace(out.Hint)
		if v := Check(qq, text); v != nil {
			a.log.Info("hint rejected",
				zap.String("quiz_id", q.ID),
				zap.String("question_id", qq.ID),
				zap.Int("attempt", attempt),
				zap.String("reason", v.Reason),
			)
			rejected = append(rejected, v.Reason)
			continue
		}
		res.Hint, res.Source = text, SourceLLM
		return res, nil
	}

	res.Hint, res.Source = a.fallback(ctx, q, qq), SourceFallback
	return res, nil
}

// genericConcept stands in for the topic when the topic gives the answer away.
const genericConcept = "the key ideas in this question"

// fallback renders the template hint with the quiz topic, or with a
// generic concept when the topic itself would give the answer away. If the
// template still leaks, the answer is blanked out of the generic text.
func (a *Arbiter) fallback(ctx context.Context, q *quiz.Quiz, qq *quiz.Question) string {
	for _, concept := range []string{q.Topic, genericConcept} {
		if strings.TrimSpace(concept) == "" {
			continue
		}
		if text := a.render(ctx, concept); Check(qq, text) == nil {
			return text
		}
	}
	return redact(a.render(ctx, genericConcept), answerText(qq))
}

func (a *Arbiter) render(ctx context.Context, concept string) string {
	if a.opts.Localizer != nil {
		return a.opts.Localizer.Td(ctx, "hint_fallback", map[string]any{"Concept": concept})
	}
	return fmt.Sprintf("Consider the definition of %s and how it applies to this question.", concept)
}

func buildMessage(q *quiz.Quiz, qq *quiz.Question, rejected []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", q.Topic)
	fmt.Fprintf(&b, "Question: %s\n", qq.Prompt)
	if qq.Choice != nil {
		b.WriteString("Options:\n")
		for _, o := range qq.Choice.Labelled() {
			fmt.Fprintf(&b, "%s\n", o)
		}
	}
	if len(rejected) > 0 {
		b.WriteString("\nYour previous hint was rejected because: ")
		b.WriteString(rejected[len(rejected)-1])
		b.WriteString(". Write a different hint.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
