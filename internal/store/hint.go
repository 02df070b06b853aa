package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type hintRepo struct {
	db *sql.DB
}

func (r *hintRepo) PutIfAbsent(ctx context.Context, h Hint) (*Hint, bool, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableHints).
		Columns("quiz_id", "question_id", "session_id", "hint_text", "source", "created_at").
		Values(h.QuizID, h.QuestionID, h.SessionID, h.Text, h.Source, h.CreatedAt).
		OnConflict(
			entsql.ConflictColumns("quiz_id", "question_id"),
			entsql.DoNothing(),
		)
	res, err := exec(ctx, r.db, ins)
	if err != nil {
		return nil, false, fmt.Errorf("insert hint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return &h, true, nil
	}
	stored, err := r.Get(ctx, h.QuizID, h.QuestionID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *hintRepo) Get(ctx context.Context, quizID, questionID string) (*Hint, error) {
	stmt, args := builder.Select("quiz_id", "question_id", "session_id", "hint_text", "source", "created_at").
		From(builder.Table(tableHints)).
		Where(entsql.And(entsql.EQ("quiz_id", quizID), entsql.EQ("question_id", questionID))).
		Query()
	var h Hint
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&h.QuizID, &h.QuestionID, &h.SessionID, &h.Text, &h.Source, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hint: %w", err)
	}
	return &h, nil
}

func (r *hintRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return count(ctx, r.db, builder.Select(entsql.Count("*")).
		From(builder.Table(tableHints)).
		Where(entsql.EQ("session_id", sessionID)))
}

func (r *hintRepo) CountByQuiz(ctx context.Context, quizID string) (int, error) {
	return count(ctx, r.db, builder.Select(entsql.Count("*")).
		From(builder.Table(tableHints)).
		Where(entsql.EQ("quiz_id", quizID)))
}
