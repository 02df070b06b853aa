package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type sessionRepo struct {
	db *sql.DB
}

func (r *sessionRepo) Create(ctx context.Context, sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableSessions).
		Columns("id", "subject", "created_at").
		Values(sess.ID, sess.Subject, sess.CreatedAt)
	if _, err := exec(ctx, r.db, ins); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	stmt, args := builder.Select("id", "subject", "created_at").
		From(builder.Table(tableSessions)).
		Where(entsql.EQ("id", id)).
		Query()
	var s Session
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&s.ID, &s.Subject, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepo) AppendMessage(ctx context.Context, msg Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableMessages).
		Columns("session_id", "role", "content", "tokens_used", "created_at").
		Values(msg.SessionID, msg.Role, msg.Content, msg.TokensUsed, msg.CreatedAt)
	res, err := exec(ctx, r.db, ins)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

func (r *sessionRepo) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	sel := builder.Select("id", "session_id", "role", "content", "tokens_used", "created_at").
		From(builder.Table(tableMessages)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokensUsed, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (r *sessionRepo) CountMessages(ctx context.Context, sessionID string) (int, error) {
	return count(ctx, r.db, builder.Select(entsql.Count("*")).
		From(builder.Table(tableMessages)).
		Where(entsql.EQ("session_id", sessionID)))
}

// Topics lists every topic known from documents, problem sheets and quizzes.
func (r *sessionRepo) Topics(ctx context.Context) ([]string, error) {
	return distinctTopics(ctx, r.db, tableDocuments, tableProblemSheets, tableQuizzes)
}
