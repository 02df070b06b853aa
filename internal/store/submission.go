package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type submissionRepo struct {
	db *sql.DB
}

var submissionColumns = []string{
	"quiz_id", "session_id", "topic", "results", "correct_count",
	"total_questions", "percentage", "time_taken_seconds", "created_at",
}

func (r *submissionRepo) Create(ctx context.Context, sub Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableSubmissions).
		Columns(submissionColumns...).
		Values(sub.QuizID, sub.SessionID, sub.Topic, string(sub.Results), sub.CorrectCount,
			sub.TotalQuestions, sub.Percentage, sub.TimeTakenSeconds, sub.CreatedAt)
	if _, err := exec(ctx, r.db, ins); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepo) Get(ctx context.Context, quizID string) (*Submission, error) {
	stmt, args := builder.Select(submissionColumns...).
		From(builder.Table(tableSubmissions)).
		Where(entsql.EQ("quiz_id", quizID)).
		Query()
	var (
		s       Submission
		results string
	)
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&s.QuizID, &s.SessionID, &s.Topic, &results,
		&s.CorrectCount, &s.TotalQuestions, &s.Percentage, &s.TimeTakenSeconds, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	s.Results = []byte(results)
	return &s, nil
}

func (r *submissionRepo) PreviousPercentage(ctx context.Context, sessionID, topic, excludeQuizID string) (int, bool, error) {
	stmt, args := builder.Select("percentage").
		From(builder.Table(tableSubmissions)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("topic", topic),
			entsql.NEQ("quiz_id", excludeQuizID),
		)).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()
	var pct int
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&pct)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("previous percentage: %w", err)
	}
	return pct, true, nil
}

func (r *submissionRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return count(ctx, r.db, builder.Select(entsql.Count("*")).
		From(builder.Table(tableSubmissions)).
		Where(entsql.EQ("session_id", sessionID)))
}
