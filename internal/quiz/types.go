// Package quiz generates validated quizzes from retrieved lecture context
// and problem-bank seeds.
package quiz

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/tutorium/internal/store"
)

// Kind is the question variant.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindShortAnswer    Kind = "short_answer"
)

// Choice holds the fields that only a multiple-choice question has.
// Options are stored without their letter labels; Correct is a letter.
type Choice struct {
	Options []string
	Correct string
}

// Index returns the option index for letter, case-insensitively.
func (c *Choice) Index(letter string) (int, bool) {
	letter = strings.TrimSpace(letter)
	if len(letter) != 1 {
		return 0, false
	}
	i := int(strings.ToUpper(letter)[0]) - 'A'
	if i < 0 || i >= len(c.Options) {
		return 0, false
	}
	return i, true
}

// CorrectText is the text of the correct option.
func (c *Choice) CorrectText() string {
	i, ok := c.Index(c.Correct)
	if !ok {
		return ""
	}
	return c.Options[i]
}

// Labelled renders options as "A. text" for display.
func (c *Choice) Labelled() []string {
	out := make([]string, len(c.Options))
	for i, o := range c.Options {
		out[i] = Letter(i) + ". " + o
	}
	return out
}

// Short holds the fields that only a short-answer question has.
type Short struct {
	Answer string
}

// Letter returns the option label for index i: 0 is "A".
func Letter(i int) string {
	return string(rune('A' + i))
}

// Question is one quiz question. Exactly one of Choice and Short is set,
// matching Kind.
type Question struct {
	ID          string
	Prompt      string
	Kind        Kind
	Difficulty  string
	Explanation string

	Choice *Choice
	Short  *Short
}

// CorrectAnswer is the canonical answer: the letter for multiple choice,
// the text for short answer.
func (q *Question) CorrectAnswer() string {
	switch q.Kind {
	case KindMultipleChoice:
		return q.Choice.Correct
	case KindShortAnswer:
		return q.Short.Answer
	}
	return ""
}

// wireQuestion is the stored JSON shape of a Question.
type wireQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Type          Kind     `json:"type"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
	Difficulty    string   `json:"difficulty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := wireQuestion{
		ID:            q.ID,
		Question:      q.Prompt,
		Type:          q.Kind,
		CorrectAnswer: q.CorrectAnswer(),
		Explanation:   q.Explanation,
		Difficulty:    q.Difficulty,
	}
	if q.Choice != nil {
		w.Options = q.Choice.Options
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var w wireQuestion
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = Question{
		ID:          w.ID,
		Prompt:      w.Question,
		Kind:        w.Type,
		Difficulty:  w.Difficulty,
		Explanation: w.Explanation,
	}
	switch w.Type {
	case KindMultipleChoice:
		q.Choice = &Choice{Options: w.Options, Correct: w.CorrectAnswer}
	case KindShortAnswer:
		q.Short = &Short{Answer: w.CorrectAnswer}
	default:
		return fmt.Errorf("question %s: unknown type %q", w.ID, w.Type)
	}
	return nil
}

// Quiz is a generated quiz. It is never modified after it is stored.
type Quiz struct {
	ID           string
	SessionID    string
	Title        string
	Topic        string
	Difficulty   string
	Questions    []Question
	ContextBased bool
	CreatedAt    time.Time
}

// Question looks up a question by id.
func (q *Quiz) Question(id string) (*Question, error) {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i], nil
		}
	}
	return nil, &UnknownQuestionError{QuizID: q.ID, QuestionID: id}
}

// Record converts the quiz to its stored form.
func (q *Quiz) Record() (store.Quiz, error) {
	questions, err := json.Marshal(q.Questions)
	if err != nil {
		return store.Quiz{}, fmt.Errorf("encode questions: %w", err)
	}
	return store.Quiz{
		ID:           q.ID,
		SessionID:    q.SessionID,
		Title:        q.Title,
		Topic:        q.Topic,
		Difficulty:   q.Difficulty,
		Questions:    questions,
		ContextBased: q.ContextBased,
		CreatedAt:    q.CreatedAt,
	}, nil
}

// FromRecord decodes a stored quiz.
func FromRecord(r store.Quiz) (*Quiz, error) {
	q := &Quiz{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Title:        r.Title,
		Topic:        r.Topic,
		Difficulty:   r.Difficulty,
		ContextBased: r.ContextBased,
		CreatedAt:    r.CreatedAt,
	}
	if err := json.Unmarshal(r.Questions, &q.Questions); err != nil {
		return nil, fmt.Errorf("decode quiz %s: %w", r.ID, err)
	}
	return q, nil
}

// PublicQuestion is a question with its answer and explanation withheld.
type PublicQuestion struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Type       Kind     `json:"type"`
	Options    []string `json:"options,omitempty"`
	Difficulty string   `json:"difficulty"`
}

// PublicQuiz is what a learner sees before grading.
type PublicQuiz struct {
	QuizID         string           `json:"quiz_id"`
	Title          string           `json:"title"`
	Topic          string           `json:"topic"`
	Difficulty     string           `json:"difficulty"`
	Questions      []PublicQuestion `json:"questions"`
	TotalQuestions int              `json:"total_questions"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (q *Quiz) Public() PublicQuiz {
	out := PublicQuiz{
		QuizID:         q.ID,
		Title:          q.Title,
		Topic:          q.Topic,
		Difficulty:     q.Difficulty,
		Questions:      make([]PublicQuestion, len(q.Questions)),
		TotalQuestions: len(q.Questions),
		CreatedAt:      q.CreatedAt,
	}
	for i, qq := range q.Questions {
		pq := PublicQuestion{ID: qq.ID, Question: qq.Prompt, Type: qq.Kind, Difficulty: qq.Difficulty}
		if qq.Choice != nil {
			pq.Options = qq.Choice.Labelled()
		}
		out.Questions[i] = pq
	}
	return out
}
