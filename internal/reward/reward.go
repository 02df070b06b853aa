// Package reward turns quiz results and session activity into a scalar
// reward in [0,1] with a per-term breakdown.
package reward

import (
	"fmt"
	"math"
)

// Weights scale the four reward terms. They must be non-negative and sum
// to 1.
type Weights struct {
	Improvement float64
	Absolute    float64
	Engagement  float64
	Efficiency  float64
}

func DefaultWeights() Weights {
	return Weights{Improvement: 0.3, Absolute: 0.4, Engagement: 0.2, Efficiency: 0.1}
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"improvement": w.Improvement,
		"absolute":    w.Absolute,
		"engagement":  w.Engagement,
		"efficiency":  w.Efficiency,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("reward weight %s must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Improvement + w.Absolute + w.Engagement + w.Efficiency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("reward weights must sum to 1, got %v", sum)
	}
	return nil
}

// Params are the tunable constants of the reward.
type Params struct {
	Weights
	// ExpectedSecondsPerQuestion is the efficiency baseline.
	ExpectedSecondsPerQuestion float64
	// Below FastFraction of the expected time, efficiency ramps down to 0.
	FastFraction float64
	// At SlowFactor times the expected time, efficiency reaches 0.
	SlowFactor float64
	// InteractionTarget interactions earn the full interaction share.
	InteractionTarget float64
	// HintPenalty is subtracted per hint per question.
	HintPenalty float64
}

func DefaultParams() Params {
	return Params{
		Weights:                    DefaultWeights(),
		ExpectedSecondsPerQuestion: 60,
		FastFraction:               0.25,
		SlowFactor:                 3,
		InteractionTarget:          10,
		HintPenalty:                0.5,
	}
}

// Breakdown holds each term, already in [0,1].
type Breakdown struct {
	QuizImprovement float64 `json:"quiz_improvement"`
	QuizAbsolute    float64 `json:"quiz_absolute"`
	Engagement      float64 `json:"engagement"`
	Efficiency      float64 `json:"efficiency"`
}

// Activity is what the session did around an action.
type Activity struct {
	// Interactions counts the session's messages.
	Interactions int
	// Hints counts hints requested for the quiz being scored, or in the
	// session for non-grading actions.
	Hints int
}

// Grading are the signals available after a quiz is graded.
type Grading struct {
	Percentage         int
	PreviousPercentage int
	HasPrevious        bool
	Answered           int
	Total              int
	TimeTakenSeconds   float64
	Activity
}

// Computer applies Params.
type Computer struct {
	p Params
}

// New validates p's weights.
func New(p Params) (*Computer, error) {
	if err := p.Weights.Validate(); err != nil {
		return nil, err
	}
	def := DefaultParams()
	if p.ExpectedSecondsPerQuestion <= 0 {
		p.ExpectedSecondsPerQuestion = def.ExpectedSecondsPerQuestion
	}
	if p.FastFraction <= 0 || p.FastFraction >= 1 {
		p.FastFraction = def.FastFraction
	}
	if p.SlowFactor <= 1 {
		p.SlowFactor = def.SlowFactor
	}
	if p.InteractionTarget <= 0 {
		p.InteractionTarget = def.InteractionTarget
	}
	if p.HintPenalty < 0 {
		p.HintPenalty = def.HintPenalty
	}
	return &Computer{p: p}, nil
}

// Compute scores a graded quiz.
func (c *Computer) Compute(g Grading) (float64, Breakdown) {
	b := Breakdown{
		QuizAbsolute: clamp(float64(g.Percentage) / 100),
		Engagement:   c.engagement(g.Answered, g.Total, g.Activity),
		Efficiency:   c.efficiency(g.TimeTakenSeconds, g.Total),
	}
	if g.HasPrevious {
		b.QuizImprovement = clamp(float64(g.Percentage-g.PreviousPercentage) / 100)
	}
	return c.total(b), b
}

// ComputeInteraction scores a non-grading action from engagement alone.
func (c *Computer) ComputeInteraction(a Activity) (float64, Breakdown) {
	b := Breakdown{Engagement: c.engagement(0, 0, a)}
	return c.total(b), b
}

func (c *Computer) total(b Breakdown) float64 {
	w := c.p.Weights
	return clamp(w.Improvement*b.QuizImprovement +
		w.Absolute*b.QuizAbsolute +
		w.Engagement*b.Engagement +
		w.Efficiency*b.Efficiency)
}

// engagement rewards answering and talking, less a penalty for leaning on
// hints.
func (c *Computer) engagement(answered, total int, a Activity) float64 {
	var answeredRatio, hintRatio float64
	if total > 0 {
		answeredRatio = float64(answered) / float64(total)
		hintRatio = float64(a.Hints) / float64(total)
	}
	interactions := math.Min(1, float64(a.Interactions)/c.p.InteractionTarget)
	return clamp(0.6*answeredRatio + 0.4*interactions - c.p.HintPenalty*hintRatio)
}

// efficiency is 1 inside [FastFraction, 1] of the expected time, ramps up
// from 0 below it and decays to 0 at SlowFactor.
func (c *Computer) efficiency(seconds float64, questions int) float64 {
	if seconds <= 0 || questions <= 0 {
		return 0
	}
	ratio := seconds / (c.p.ExpectedSecondsPerQuestion * float64(questions))
	switch {
	case ratio < c.p.FastFraction:
		return clamp(ratio / c.p.FastFraction)
	case ratio <= 1:
		return 1
	default:
		return clamp(1 - (ratio-1)/(c.p.SlowFactor-1))
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
