package reward

import (
	"time"

	"github.com/abhisek/tutorium/internal/store"
)

// ScoreAlpha is the weight of the newest quiz score in the average.
const ScoreAlpha = 0.3

// QuizOutcome is one graded quiz as it affects per-topic performance.
type QuizOutcome struct {
	Score            float64 // in [0,1]
	Attempted        int
	Correct          int
	Hints            int
	TimeTakenSeconds float64
	At               time.Time
}

// Accumulate folds o into p. The average is an exponential moving
// average starting from 0; the trend is set once a prior attempt exists.
func Accumulate(p *store.Performance, o QuizOutcome) {
	prevAttempted := p.QuestionsAttempted
	prevAvg := p.AverageScore

	if p.FirstAttemptAt.IsZero() {
		p.FirstAttemptAt = o.At
	}
	p.LastAttemptAt = o.At
	p.QuestionsAttempted += o.Attempted
	p.QuestionsCorrect += o.Correct
	p.HintsRequested += o.Hints
	p.TimeOnTopicSeconds += o.TimeTakenSeconds
	p.AverageScore = ScoreAlpha*o.Score + (1-ScoreAlpha)*prevAvg
	if prevAttempted > 0 {
		p.ScoreTrend = o.Score - prevAvg
	}
}
