package trajectory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/store"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.Trajectories(), metrics.New(prometheus.NewRegistry()), nil)
}

func TestRecord_AppendsInOrder(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	for i, at := range []ActionType{ActionResponse, ActionQuizGeneration, ActionGrading} {
		_, err := r.Record(ctx, Entry{
			SessionID:  "s1",
			State:      State{Topic: "Algebra"},
			ActionType: at,
			Action:     map[string]any{"n": i},
			Reward:     float64(i) / 4,
			Breakdown:  reward.Breakdown{Engagement: 0.5},
			Model:      "mock",
		})
		require.NoError(t, err)
	}
	_, err := r.Record(ctx, Entry{SessionID: "s2", ActionType: ActionHint, Reward: 0.1})
	require.NoError(t, err)

	recs, err := r.Session(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "response", recs[0].ActionType)
	assert.Equal(t, "grading", recs[2].ActionType)
	assert.Less(t, recs[0].Sequence, recs[1].Sequence)
	assert.InDelta(t, 0.5, recs[1].RewardBreakdown.Engagement, 1e-9)
	assert.Equal(t, "mock", recs[0].ModelName)
	assert.JSONEq(t, `{"n":1}`, string(recs[1].Action))
}

func TestRecord_RejectsInvalid(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	tests := []struct {
		name string
		e    Entry
	}{
		{"no session", Entry{ActionType: ActionHint, Reward: 0.5}},
		{"unknown action", Entry{SessionID: "s", ActionType: "dance", Reward: 0.5}},
		{"reward above one", Entry{SessionID: "s", ActionType: ActionHint, Reward: 1.01}},
		{"negative reward", Entry{SessionID: "s", ActionType: ActionHint, Reward: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Record(ctx, tt.e); err == nil {
				t.Fatal("Record returned nil error")
			}
		})
	}

	all, err := r.Export(ctx, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected entries must not be stored")
}

func TestExport_NewestFirstWithFloor(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()
	for _, rw := range []float64{0.2, 0.9, 0.6} {
		_, err := r.Record(ctx, Entry{SessionID: "s", ActionType: ActionGrading, Reward: rw})
		require.NoError(t, err)
	}

	floor := 0.5
	recs, err := r.Export(ctx, &floor, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.InDelta(t, 0.6, recs[0].Reward, 1e-9)
	assert.InDelta(t, 0.9, recs[1].Reward, 1e-9)

	recs, err = r.Export(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWriteJSONL(t *testing.T) {
	recs := []Record{
		{ID: 1, SessionID: "a", ActionType: "hint", State: json.RawMessage(`{}`), Action: json.RawMessage(`null`)},
		{ID: 2, SessionID: "b", ActionType: "grading", State: json.RawMessage(`{}`), Action: json.RawMessage(`{"x":1}`)},
	}
	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[1]["session_id"])
	assert.Contains(t, lines[0], "reward_breakdown")
}

func TestSnapshot_KeepsNewestMessages(t *testing.T) {
	var msgs []store.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, store.Message{Role: "user", Content: string(rune('a' + i)), CreatedAt: time.Unix(int64(i), 0)})
	}
	prior := &store.Performance{QuestionsAttempted: 3, AverageScore: 0.42}

	s := Snapshot(msgs, "Algebra", "q-1", true, prior)
	require.Len(t, s.RecentMessages, RecentMessages)
	assert.Equal(t, "f", s.RecentMessages[0].Content)
	assert.Equal(t, "o", s.RecentMessages[9].Content)
	require.NotNil(t, s.PriorAverageScore)
	assert.InDelta(t, 0.42, *s.PriorAverageScore, 1e-9)

	s = Snapshot(nil, "", "", false, &store.Performance{})
	assert.Nil(t, s.PriorAverageScore)
	assert.NotNil(t, s.RecentMessages)
}
