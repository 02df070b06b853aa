package reward

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tutorium/internal/store"
)

func newComputer(t *testing.T) *Computer {
	t.Helper()
	c, err := New(DefaultParams())
	require.NoError(t, err)
	return c
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	bad := []Weights{
		{Improvement: 0.5, Absolute: 0.5, Engagement: 0.5},
		{Improvement: -0.1, Absolute: 0.6, Engagement: 0.4, Efficiency: 0.1},
		{},
	}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", w)
		}
	}
	if _, err := New(Params{Weights: Weights{Absolute: 2}}); err == nil {
		t.Fatal("New accepted weights that do not sum to 1")
	}
}

func TestCompute_Terms(t *testing.T) {
	c := newComputer(t)

	r, b := c.Compute(Grading{
		Percentage: 80, PreviousPercentage: 50, HasPrevious: true,
		Answered: 5, Total: 5, TimeTakenSeconds: 200,
		Activity: Activity{Interactions: 5, Hints: 1},
	})
	assert.InDelta(t, 0.3, b.QuizImprovement, 1e-9)
	assert.InDelta(t, 0.8, b.QuizAbsolute, 1e-9)
	// 0.6*1 + 0.4*0.5 - 0.5*(1/5)
	assert.InDelta(t, 0.7, b.Engagement, 1e-9)
	assert.InDelta(t, 1.0, b.Efficiency, 1e-9)
	assert.InDelta(t, 0.3*0.3+0.4*0.8+0.2*0.7+0.1*1.0, r, 1e-9)
}

func TestCompute_NoPreviousOrRegressionIsZeroImprovement(t *testing.T) {
	c := newComputer(t)
	_, b := c.Compute(Grading{Percentage: 90, Total: 2, Answered: 2})
	assert.Zero(t, b.QuizImprovement)

	_, b = c.Compute(Grading{Percentage: 40, PreviousPercentage: 70, HasPrevious: true, Total: 2, Answered: 2})
	assert.Zero(t, b.QuizImprovement)
}

func TestEfficiency_Curve(t *testing.T) {
	c := newComputer(t)
	tests := []struct {
		seconds float64
		want    float64
	}{
		{0, 0},
		{-3, 0},
		{15, 0.25}, // ratio 0.0625
		{60, 1},    // ratio 0.25
		{240, 1},   // ratio 1
		{480, 0.5}, // ratio 2
		{720, 0},   // ratio 3
		{10000, 0},
	}
	for _, tt := range tests {
		got := c.efficiency(tt.seconds, 4)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("efficiency(%v, 4) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestComputeInteraction_EngagementOnly(t *testing.T) {
	c := newComputer(t)
	r, b := c.ComputeInteraction(Activity{Interactions: 20})
	assert.Zero(t, b.QuizAbsolute)
	assert.Zero(t, b.QuizImprovement)
	assert.Zero(t, b.Efficiency)
	assert.InDelta(t, 0.4, b.Engagement, 1e-9)
	assert.InDelta(t, 0.08, r, 1e-9)
}

func TestReward_AlwaysInUnitInterval(t *testing.T) {
	c := newComputer(t)
	for pct := 0; pct <= 100; pct += 10 {
		for _, prev := range []int{0, 50, 100} {
			for _, hints := range []int{0, 3, 50} {
				for _, secs := range []float64{-1, 0, 5, 300, 1e6} {
					r, b := c.Compute(Grading{
						Percentage: pct, PreviousPercentage: prev, HasPrevious: true,
						Answered: 3, Total: 5, TimeTakenSeconds: secs,
						Activity: Activity{Interactions: hints * 2, Hints: hints},
					})
					for _, v := range []float64{r, b.QuizImprovement, b.QuizAbsolute, b.Engagement, b.Efficiency} {
						if v < 0 || v > 1 {
							t.Fatalf("value %v out of [0,1] for pct=%d prev=%d hints=%d secs=%v", v, pct, prev, hints, secs)
						}
					}
				}
			}
		}
	}
}

func TestAccumulate(t *testing.T) {
	var p store.Performance
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	Accumulate(&p, QuizOutcome{Score: 0.5, Attempted: 4, Correct: 2, Hints: 1, TimeTakenSeconds: 100, At: t0})
	assert.InDelta(t, 0.15, p.AverageScore, 1e-9)
	assert.Zero(t, p.ScoreTrend, "no trend on first attempt")
	assert.Equal(t, t0, p.FirstAttemptAt)

	t1 := t0.Add(time.Hour)
	Accumulate(&p, QuizOutcome{Score: 1, Attempted: 4, Correct: 4, TimeTakenSeconds: 50, At: t1})
	assert.InDelta(t, 0.3+0.7*0.15, p.AverageScore, 1e-9)
	assert.InDelta(t, 0.85, p.ScoreTrend, 1e-9)
	assert.Equal(t, 8, p.QuestionsAttempted)
	assert.Equal(t, 6, p.QuestionsCorrect)
	assert.Equal(t, 1, p.HintsRequested)
	assert.InDelta(t, 150, p.TimeOnTopicSeconds, 1e-9)
	assert.Equal(t, t0, p.FirstAttemptAt)
	assert.Equal(t, t1, p.LastAttemptAt)
}
