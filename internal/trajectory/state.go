package trajectory

import (
	"time"

	"github.com/abhisek/tutorium/internal/store"
)

// RecentMessages is how many messages a state snapshot keeps.
const RecentMessages = 10

// State is the snapshot stored with each trajectory.
type State struct {
	Topic             string         `json:"topic,omitempty"`
	QuizID            string         `json:"quiz_id,omitempty"`
	RecentMessages    []StateMessage `json:"recent_messages"`
	ContextAvailable  bool           `json:"context_available"`
	PriorAverageScore *float64       `json:"prior_average_score,omitempty"`
}

type StateMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot builds a State from the session's messages (oldest first),
// keeping the newest RecentMessages.
func Snapshot(msgs []store.Message, topic, quizID string, contextAvailable bool, prior *store.Performance) State {
	if len(msgs) > RecentMessages {
		msgs = msgs[len(msgs)-RecentMessages:]
	}
	s := State{
		Topic:            topic,
		QuizID:           quizID,
		RecentMessages:   make([]StateMessage, 0, len(msgs)),
		ContextAvailable: contextAvailable,
	}
	for _, m := range msgs {
		s.RecentMessages = append(s.RecentMessages, StateMessage{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	if prior != nil && prior.QuestionsAttempted > 0 {
		avg := prior.AverageScore
		s.PriorAverageScore = &avg
	}
	return s
}
