// Package problembank stores curated problem sheets and serves them as
// seeds for quiz generation.
package problembank

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/abhisek/tutorium/internal/llm"
)

// ProblemType classifies a problem.
type ProblemType string

const (
	TypeComputation ProblemType = "computation"
	TypeProof       ProblemType = "proof"
	TypeApplication ProblemType = "application"
)

// Difficulty levels shared by problem sheets and quizzes.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// NormalizeDifficulty lower-cases d and maps "" to medium. ok is false
// for anything outside easy, medium and hard.
func NormalizeDifficulty(d string) (string, bool) {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "":
		return DifficultyMedium, true
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, true
	}
	return d, false
}

// Problem is one entry on a sheet.
type Problem struct {
	ID         string      `json:"id"`
	Question   string      `json:"question"`
	Type       ProblemType `json:"type"`
	Difficulty string      `json:"difficulty"`
	Solution   string      `json:"solution,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

// Sheet is an uploaded problem sheet. It is immutable once stored.
type Sheet struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Topic      string    `json:"topic"`
	CourseCode string    `json:"course_code,omitempty"`
	Year       int       `json:"year,omitempty"`
	Difficulty string    `json:"difficulty"`
	Problems   []Problem `json:"problems"`
	CreatedAt  time.Time `json:"created_at"`
}

// InvalidSheetError reports an upload that cannot be stored.
type InvalidSheetError struct {
	Reason string
	Err    error
}

func (e *InvalidSheetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid problem sheet: %s: %v", e.Reason, e.Err)
	}
	return "invalid problem sheet: " + e.Reason
}

func (e *InvalidSheetError) Unwrap() error { return e.Err }

// normalize fills defaults and checks the fields the schema cannot.
func (s *Sheet) normalize(newID func() string) error {
	s.Title = strings.TrimSpace(s.Title)
	s.Topic = strings.TrimSpace(s.Topic)
	if s.Title == "" {
		return &InvalidSheetError{Reason: "title is required"}
	}
	if s.Topic == "" {
		return &InvalidSheetError{Reason: "topic is required"}
	}
	d, ok := NormalizeDifficulty(s.Difficulty)
	if !ok {
		return &InvalidSheetError{Reason: fmt.Sprintf("unknown difficulty %q", s.Difficulty)}
	}
	s.Difficulty = d
	if s.ID == "" {
		s.ID = newID()
	}

	seen := make(map[string]bool, len(s.Problems))
	for i := range s.Problems {
		p := &s.Problems[i]
		p.Question = strings.TrimSpace(p.Question)
		if p.Question == "" {
			return &InvalidSheetError{Reason: fmt.Sprintf("problem %d has no question", i+1)}
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("p%d", i+1)
		}
		if seen[p.ID] {
			return &InvalidSheetError{Reason: fmt.Sprintf("duplicate problem id %q", p.ID)}
		}
		seen[p.ID] = true
		if p.Type == "" {
			p.Type = TypeComputation
		}
		if p.Difficulty == "" {
			p.Difficulty = s.Difficulty
		} else if pd, ok := NormalizeDifficulty(p.Difficulty); ok {
			p.Difficulty = pd
		} else {
			return &InvalidSheetError{Reason: fmt.Sprintf("problem %q has unknown difficulty %q", p.ID, p.Difficulty)}
		}
		p.Tags = tagSet(p.Tags)
	}
	return nil
}

func tagSet(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || set[t] {
			continue
		}
		set[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// sheetSchema is the accepted shape of an uploaded sheet.
var sheetSchema = &llm.Schema{
	Name:        "problem-sheet",
	Description: "An uploaded problem sheet",
	Definition: map[string]any{
		"type":     "object",
		"required": []any{"title", "topic", "problems"},
		"properties": map[string]any{
			"id":          map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string", "minLength": 1},
			"topic":       map[string]any{"type": "string", "minLength": 1},
			"course_code": map[string]any{"type": "string"},
			"year":        map[string]any{"type": "integer", "minimum": 0},
			"difficulty":  map[string]any{"type": "string"},
			"problems": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []any{"question"},
					"properties": map[string]any{
						"id":         map[string]any{"type": "string"},
						"question":   map[string]any{"type": "string", "minLength": 1},
						"type":       map[string]any{"type": "string", "enum": []any{"computation", "proof", "application"}},
						"difficulty": map[string]any{"type": "string"},
						"solution":   map[string]any{"type": "string"},
						"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		},
	},
}
