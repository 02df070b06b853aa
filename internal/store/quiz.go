package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type quizRepo struct {
	db *sql.DB
}

var quizColumns = []string{"id", "session_id", "title", "topic", "difficulty", "questions", "context_based", "created_at"}

func (r *quizRepo) Create(ctx context.Context, q Quiz) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableQuizzes).
		Columns(quizColumns...).
		Values(q.ID, q.SessionID, q.Title, q.Topic, q.Difficulty, string(q.Questions), q.ContextBased, q.CreatedAt)
	if _, err := exec(ctx, r.db, ins); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (r *quizRepo) Get(ctx context.Context, id string) (*Quiz, error) {
	quizzes, err := r.list(ctx, builder.Select(quizColumns...).
		From(builder.Table(tableQuizzes)).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, err
	}
	if len(quizzes) == 0 {
		return nil, ErrNotFound
	}
	return &quizzes[0], nil
}

func (r *quizRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]Quiz, error) {
	sel := builder.Select(quizColumns...).
		From(builder.Table(tableQuizzes)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.list(ctx, sel)
}

func (r *quizRepo) list(ctx context.Context, sel *entsql.Selector) ([]Quiz, error) {
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		var (
			q         Quiz
			questions string
		)
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Title, &q.Topic, &q.Difficulty, &questions, &q.ContextBased, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Questions = []byte(questions)
		out = append(out, q)
	}
	return out, rows.Err()
}
