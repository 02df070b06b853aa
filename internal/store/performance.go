package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type performanceRepo struct {
	db *sql.DB
}

var performanceColumnNames = []string{
	"session_id", "topic", "questions_attempted", "questions_correct", "hints_requested",
	"time_on_topic_seconds", "average_score", "score_trend", "first_attempt_at", "last_attempt_at",
}

func (r *performanceRepo) Get(ctx context.Context, sessionID, topic string) (*Performance, error) {
	p, err := getPerformance(ctx, r.db, sessionID, topic)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *performanceRepo) Update(ctx context.Context, sessionID, topic string, fn func(*Performance)) (*Performance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := getPerformance(ctx, tx, sessionID, topic)
	if err != nil {
		return nil, err
	}
	exists := cur != nil
	if !exists {
		now := time.Now().UTC()
		cur = &Performance{SessionID: sessionID, Topic: topic, FirstAttemptAt: now, LastAttemptAt: now}
	}
	fn(cur)
	cur.SessionID, cur.Topic = sessionID, topic

	if exists {
		upd := builder.Update(tablePerformance).
			Set("questions_attempted", cur.QuestionsAttempted).
			Set("questions_correct", cur.QuestionsCorrect).
			Set("hints_requested", cur.HintsRequested).
			Set("time_on_topic_seconds", cur.TimeOnTopicSeconds).
			Set("average_score", cur.AverageScore).
			Set("score_trend", cur.ScoreTrend).
			Set("last_attempt_at", cur.LastAttemptAt).
			Where(entsql.And(entsql.EQ("session_id", sessionID), entsql.EQ("topic", topic)))
		if _, err := exec(ctx, tx, upd); err != nil {
			return nil, fmt.Errorf("update performance: %w", err)
		}
	} else {
		ins := builder.Insert(tablePerformance).
			Columns(performanceColumnNames...).
			Values(cur.SessionID, cur.Topic, cur.QuestionsAttempted, cur.QuestionsCorrect, cur.HintsRequested,
				cur.TimeOnTopicSeconds, cur.AverageScore, cur.ScoreTrend, cur.FirstAttemptAt, cur.LastAttemptAt)
		if _, err := exec(ctx, tx, ins); err != nil {
			return nil, fmt.Errorf("insert performance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return cur, nil
}

// getPerformance returns nil, nil when no record exists.
func getPerformance(ctx context.Context, q querier, sessionID, topic string) (*Performance, error) {
	stmt, args := builder.Select(performanceColumnNames...).
		From(builder.Table(tablePerformance)).
		Where(entsql.And(entsql.EQ("session_id", sessionID), entsql.EQ("topic", topic))).
		Query()
	var p Performance
	err := q.QueryRowContext(ctx, stmt, args...).Scan(&p.SessionID, &p.Topic, &p.QuestionsAttempted,
		&p.QuestionsCorrect, &p.HintsRequested, &p.TimeOnTopicSeconds, &p.AverageScore, &p.ScoreTrend,
		&p.FirstAttemptAt, &p.LastAttemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get performance: %w", err)
	}
	return &p, nil
}
