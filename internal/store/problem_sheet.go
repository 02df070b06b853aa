package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type problemSheetRepo struct {
	db *sql.DB
}

var problemSheetColumns = []string{"id", "title", "topic", "problems", "course_code", "year", "difficulty", "created_at"}

func (r *problemSheetRepo) Create(ctx context.Context, sheet ProblemSheet) error {
	if sheet.CreatedAt.IsZero() {
		sheet.CreatedAt = time.Now().UTC()
	}
	ins := builder.Insert(tableProblemSheets).
		Columns(problemSheetColumns...).
		Values(sheet.ID, sheet.Title, sheet.Topic, string(sheet.Problems), sheet.CourseCode,
			sheet.Year, sheet.Difficulty, sheet.CreatedAt)
	if _, err := exec(ctx, r.db, ins); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert problem sheet: %w", err)
	}
	return nil
}

func (r *problemSheetRepo) Get(ctx context.Context, id string) (*ProblemSheet, error) {
	sheets, err := r.find(ctx, builder.Select(problemSheetColumns...).
		From(builder.Table(tableProblemSheets)).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, ErrNotFound
	}
	return &sheets[0], nil
}

func (r *problemSheetRepo) Find(ctx context.Context, topic, difficulty string, limit int) ([]ProblemSheet, error) {
	sel := builder.Select(problemSheetColumns...).
		From(builder.Table(tableProblemSheets)).
		OrderBy(entsql.Desc("created_at"), "id")
	if topic != "" {
		sel.Where(entsql.ContainsFold("topic", topic))
	}
	if difficulty != "" {
		sel.Where(entsql.EQ("difficulty", difficulty))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.find(ctx, sel)
}

func (r *problemSheetRepo) find(ctx context.Context, sel *entsql.Selector) ([]ProblemSheet, error) {
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query problem sheets: %w", err)
	}
	defer rows.Close()

	var out []ProblemSheet
	for rows.Next() {
		var (
			s        ProblemSheet
			problems string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Topic, &problems, &s.CourseCode, &s.Year, &s.Difficulty, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Problems = []byte(problems)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
