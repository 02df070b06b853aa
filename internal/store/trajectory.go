package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type trajectoryRepo struct {
	db  *sql.DB
	seq *sequence
}

var trajectoryColumns = []string{
	"id", "sequence", "session_id", "state", "action", "action_type", "reward",
	"reward_breakdown", "model_name", "prompt_tokens", "completion_tokens", "created_at",
}

func (r *trajectoryRepo) Append(ctx context.Context, t Trajectory) (int64, error) {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	breakdown := string(t.RewardBreakdown)
	if breakdown == "" {
		breakdown = "{}"
	}
	ins := builder.Insert(tableTrajectories).
		Columns(trajectoryColumns[1:]...).
		Values(seqNum, t.SessionID, string(t.State), string(t.Action), t.ActionType, t.Reward,
			breakdown, t.ModelName, t.PromptTokens, t.CompletionTokens, t.CreatedAt)
	res, err := exec(ctx, r.db, ins)
	if err != nil {
		return 0, fmt.Errorf("insert trajectory: %w", err)
	}
	return res.LastInsertId()
}

func (r *trajectoryRepo) ListBySession(ctx context.Context, sessionID string) ([]Trajectory, error) {
	return r.list(ctx, builder.Select(trajectoryColumns...).
		From(builder.Table(tableTrajectories)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy("sequence"))
}

func (r *trajectoryRepo) Export(ctx context.Context, opts ExportOpts) ([]Trajectory, error) {
	sel := builder.Select(trajectoryColumns...).
		From(builder.Table(tableTrajectories)).
		OrderBy(entsql.Desc("sequence"))
	if opts.MinReward != nil {
		sel.Where(entsql.GTE("reward", *opts.MinReward))
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
	return r.list(ctx, sel)
}

func (r *trajectoryRepo) list(ctx context.Context, sel *entsql.Selector) ([]Trajectory, error) {
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query trajectories: %w", err)
	}
	defer rows.Close()

	var out []Trajectory
	for rows.Next() {
		var (
			t                        Trajectory
			state, action, breakdown string
		)
		if err := rows.Scan(&t.ID, &t.Sequence, &t.SessionID, &state, &action, &t.ActionType, &t.Reward,
			&breakdown, &t.ModelName, &t.PromptTokens, &t.CompletionTokens, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.State, t.Action, t.RewardBreakdown = []byte(state), []byte(action), []byte(breakdown)
		out = append(out, t)
	}
	return out, rows.Err()
}
