// Package trajectory appends (state, action, reward) records for offline
// training and exports them as JSON lines.
package trajectory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
)

// ActionType names the tutor-visible action a trajectory records.
type ActionType string

const (
	ActionResponse       ActionType = "response"
	ActionQuizGeneration ActionType = "quiz_generation"
	ActionHint           ActionType = "hint"
	ActionGrading        ActionType = "grading"
)

func (a ActionType) valid() bool {
	switch a {
	case ActionResponse, ActionQuizGeneration, ActionHint, ActionGrading:
		return true
	}
	return false
}

// DefaultExportLimit caps an export when no limit is given.
const DefaultExportLimit = 10000

// Entry is one record to append.
type Entry struct {
	SessionID        string
	State            State
	ActionType       ActionType
	Action           any
	Reward           float64
	Breakdown        reward.Breakdown
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Record is an appended trajectory as returned to readers.
type Record struct {
	ID               int64            `json:"id"`
	Sequence         int64            `json:"sequence"`
	SessionID        string           `json:"session_id"`
	State            json.RawMessage  `json:"state"`
	Action           json.RawMessage  `json:"action"`
	ActionType       string           `json:"action_type"`
	Reward           float64          `json:"reward"`
	RewardBreakdown  reward.Breakdown `json:"reward_breakdown"`
	ModelName        string           `json:"model_name,omitempty"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Recorder is the append-only trajectory log.
type Recorder struct {
	repo    store.TrajectoryRepo
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(repo store.TrajectoryRepo, m *metrics.Metrics, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, metrics: m, log: log}
}

// Record appends e and returns its id. A reward outside [0,1] is rejected.
func (r *Recorder) Record(ctx context.Context, e Entry) (int64, error) {
	ctx, span := tracing.Start(ctx, "trajectory.record",
		attribute.String("session_id", e.SessionID),
		attribute.String("action_type", string(e.ActionType)))
	defer span.End()

	if e.SessionID == "" {
		return 0, errors.New("trajectory: session id is required")
	}
	if !e.ActionType.valid() {
		return 0, fmt.Errorf("trajectory: unknown action type %q", e.ActionType)
	}
	if math.IsNaN(e.Reward) || e.Reward < 0 || e.Reward > 1 {
		return 0, fmt.Errorf("trajectory: reward %v outside [0,1]", e.Reward)
	}

	state, err := json.Marshal(e.State)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	action, err := json.Marshal(e.Action)
	if err != nil {
		return 0, fmt.Errorf("encode action: %w", err)
	}
	breakdown, err := json.Marshal(e.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("encode breakdown: %w", err)
	}

	id, err := r.repo.Append(ctx, store.Trajectory{
		SessionID:        e.SessionID,
		State:            state,
		Action:           action,
		ActionType:       string(e.ActionType),
		Reward:           e.Reward,
		RewardBreakdown:  breakdown,
		ModelName:        e.Model,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
	})
	if err != nil {
		return 0, fmt.Errorf("append trajectory: %w", err)
	}

	r.metrics.Reward(string(e.ActionType), e.Reward)
	r.log.Debug("trajectory recorded",
		zap.Int64("id", id),
		zap.String("session_id", e.SessionID),
		zap.String("action_type", string(e.ActionType)),
		zap.Float64("reward", e.Reward))
	return id, nil
}

// Session returns a session's trajectories oldest first.
func (r *Recorder) Session(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromStore(rows), nil
}

// Export returns trajectories newest first, optionally filtered by a
// minimum reward. limit <= 0 means DefaultExportLimit.
func (r *Recorder) Export(ctx context.Context, minReward *float64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultExportLimit
	}
	rows, err := r.repo.Export(ctx, store.ExportOpts{MinReward: minReward, Limit: limit})
	if err != nil {
		return nil, err
	}
	return fromStore(rows), nil
}

func fromStore(rows []store.Trajectory) []Record {
	out := make([]Record, 0, len(rows))
	for _, t := range rows {
		rec := Record{
			ID:               t.ID,
			Sequence:         t.Sequence,
			SessionID:        t.SessionID,
			State:            orNull(t.State),
			Action:           orNull(t.Action),
			ActionType:       t.ActionType,
			Reward:           t.Reward,
			ModelName:        t.ModelName,
			PromptTokens:     t.PromptTokens,
			CompletionTokens: t.CompletionTokens,
			CreatedAt:        t.CreatedAt,
		}
		// A malformed breakdown leaves the zero value.
		_ = json.Unmarshal(t.RewardBreakdown, &rec.RewardBreakdown)
		out = append(out, rec)
	}
	return out
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
