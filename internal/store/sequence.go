package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// sequence is the store-wide ordering shared by trajectories and backend
// call events. Table row ids are per table and cannot interleave the two.
//
// Next must not be called while the caller holds an open transaction: the
// pool has a single connection.
type sequence struct {
	mu sync.Mutex
	db *sql.DB
}

const sequenceDDL = `
CREATE TABLE IF NOT EXISTS global_sequence (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	next_val INTEGER NOT NULL DEFAULT 1
);
INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1);`

func newSequence(db *sql.DB) (*sequence, error) {
	if _, err := db.Exec(sequenceDDL); err != nil {
		return nil, fmt.Errorf("init global sequence: %w", err)
	}
	return &sequence{db: db}, nil
}

// Next returns the current value and advances the counter in one statement.
func (q *sequence) Next(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	row := q.db.QueryRowContext(ctx, `UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("advance global sequence: %w", err)
	}
	return n, nil
}
