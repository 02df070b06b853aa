package session

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/tutorium/internal/store"
)

// HistoryLimit caps how many quizzes History returns.
const HistoryLimit = 50

// HistoryEntry is one quiz of a session and its score, if graded.
type HistoryEntry struct {
	QuizID         string    `json:"quiz_id"`
	Title          string    `json:"title"`
	Topic          string    `json:"topic"`
	Difficulty     string    `json:"difficulty"`
	TotalQuestions int       `json:"total_questions"`
	Graded         bool      `json:"graded"`
	CorrectCount   int       `json:"correct_count,omitempty"`
	Percentage     *int      `json:"percentage,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates a session's graded quizzes.
type Summary struct {
	Quizzes        int     `json:"quizzes"`
	Graded         int     `json:"graded"`
	TotalQuestions int     `json:"total_questions"`
	TotalCorrect   int     `json:"total_correct"`
	Accuracy       float64 `json:"accuracy"`
}

// History lists the session's quizzes, newest first, with a summary.
func (s *Service) History(ctx context.Context, sessionID string) ([]HistoryEntry, Summary, error) {
	quizzes, err := s.quizzes.ListBySession(ctx, sessionID, HistoryLimit)
	if err != nil {
		return nil, Summary{}, err
	}

	entries := make([]HistoryEntry, 0, len(quizzes))
	for _, q := range quizzes {
		e := HistoryEntry{
			QuizID:     q.ID,
			Title:      q.Title,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			CreatedAt:  q.CreatedAt,
		}
		sub, err := s.submissions.Get(ctx, q.ID)
		switch {
		case err == nil:
			pct := sub.Percentage
			e.Graded = true
			e.CorrectCount = sub.CorrectCount
			e.TotalQuestions = sub.TotalQuestions
			e.Percentage = &pct
		case errors.Is(err, store.ErrNotFound):
			if full, err := s.loadQuiz(ctx, q.ID); err == nil {
				e.TotalQuestions = len(full.Questions)
			}
		default:
			return nil, Summary{}, err
		}
		entries = append(entries, e)
	}
	return entries, BuildSummary(entries), nil
}

// BuildSummary totals the graded entries.
func BuildSummary(entries []HistoryEntry) Summary {
	sum := Summary{Quizzes: len(entries)}
	for _, e := range entries {
		if !e.Graded {
			continue
		}
		sum.Graded++
		sum.TotalQuestions += e.TotalQuestions
		sum.TotalCorrect += e.CorrectCount
	}
	if sum.TotalQuestions > 0 {
		sum.Accuracy = float64(sum.TotalCorrect) / float64(sum.TotalQuestions)
	}
	return sum
}
